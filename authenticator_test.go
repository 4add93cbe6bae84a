package auth_test

import (
	"context"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
	resets  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allowed, s.err
}

func (s *stubLimiter) Reset(_ context.Context, key string) error {
	s.resets = append(s.resets, key)
	return nil
}

func newTestAuther(t *testing.T) (*auth.Auther, auth.RepositoryManager, *memorySink, *testClock) {
	t.Helper()
	repo := newTestRepo(t)
	clock := newTestClock()
	sink := &memorySink{}
	auther := auth.NewAuthenticator(repo.Accounts(), newTestTokens(clock), testConfig{}).
		WithLogger(nopLogger{}).
		WithActivitySink(sink).
		WithClock(clock.Now)
	return auther, repo, sink, clock
}

func TestLogin_Success(t *testing.T) {
	ctx := context.Background()
	auther, repo, sink, _ := newTestAuther(t)
	account := seedAccount(t, repo, auth.RoleLeader, "leader@example.com", auth.StatusActive)

	result, err := auther.Login(ctx, auth.RoleLeader, "  Leader@Example.com ", testPassword)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Session.Token)
	assert.Equal(t, account.ID.String(), result.Identity.ID())
	assert.Equal(t, auth.RoleLeader, result.Identity.Role())

	claims, err := auther.TokenService().Parse(result.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), claims.UserID())
	assert.Equal(t, auth.RoleLeader, claims.Role())

	assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventLoginSuccess}, sink.Types())

	stored, err := repo.Accounts().FindByEmail(ctx, auth.RoleLeader, "leader@example.com")
	require.NoError(t, err)
	assert.NotNil(t, stored.LoggedInAt)
}

func TestLogin_UnknownEmailAndWrongPasswordAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	auther, repo, _, _ := newTestAuther(t)
	seedAccount(t, repo, auth.RoleMember, "member@example.com", auth.StatusActive)

	_, wrongPassword := auther.Login(ctx, auth.RoleMember, "member@example.com", "not the password")
	_, unknownEmail := auther.Login(ctx, auth.RoleMember, "nobody@example.com", testPassword)

	assert.ErrorIs(t, wrongPassword, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, auth.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.Equal(t, auth.HTTPStatus(wrongPassword), auth.HTTPStatus(unknownEmail))
}

func TestLogin_RoleScopedAccounts(t *testing.T) {
	ctx := context.Background()
	auther, repo, _, _ := newTestAuther(t)
	seedAccount(t, repo, auth.RoleMember, "shared@example.com", auth.StatusActive)

	_, err := auther.Login(ctx, auth.RoleAdmin, "shared@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = auther.Login(ctx, auth.RoleMember, "shared@example.com", testPassword)
	assert.NoError(t, err)
}

func TestLogin_StatusGate(t *testing.T) {
	ctx := context.Background()
	auther, repo, sink, _ := newTestAuther(t)
	seedAccount(t, repo, auth.RoleLeader, "pending@example.com", auth.StatusPending)
	seedAccount(t, repo, auth.RoleLeader, "rejected@example.com", auth.StatusRejected)
	seedAccount(t, repo, auth.RoleLeader, "approved@example.com", auth.StatusApproved)

	_, err := auther.Login(ctx, auth.RoleLeader, "pending@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrAccountPending)

	_, err = auther.Login(ctx, auth.RoleLeader, "pending@example.com", "wrong password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "status is only revealed with the right password")

	_, err = auther.Login(ctx, auth.RoleLeader, "rejected@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrAccountNotAuthorized)

	_, err = auther.Login(ctx, auth.RoleLeader, "approved@example.com", testPassword)
	assert.NoError(t, err)

	assert.Contains(t, sink.Types(), auth.ActivityEventLoginFailure)
}

func TestLogin_InputErrors(t *testing.T) {
	ctx := context.Background()
	auther, _, _, _ := newTestAuther(t)

	_, err := auther.Login(ctx, auth.Role("guest"), "a@example.com", "pw")
	assert.ErrorIs(t, err, auth.ErrUnknownRole)

	_, err = auther.Login(ctx, auth.RoleMember, "   ", "pw")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = auther.Login(ctx, auth.RoleMember, "a@example.com", "")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLogin_Throttled(t *testing.T) {
	ctx := context.Background()
	auther, repo, _, _ := newTestAuther(t)
	seedAccount(t, repo, auth.RoleMember, "member@example.com", auth.StatusActive)

	limiter := &stubLimiter{allowed: false}
	auther.WithAttemptLimiter(limiter)

	_, err := auther.Login(ctx, auth.RoleMember, "Member@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrTooManyAttempts)
	assert.Equal(t, auth.KindTooManyAttempts, auth.KindOf(err))
	assert.Equal(t, []string{"login:member:member@example.com"}, limiter.keys)
}

func TestLogin_LimiterFailureFailsOpen(t *testing.T) {
	ctx := context.Background()
	auther, repo, _, _ := newTestAuther(t)
	seedAccount(t, repo, auth.RoleMember, "member@example.com", auth.StatusActive)

	auther.WithAttemptLimiter(&stubLimiter{err: assert.AnError})

	_, err := auther.Login(ctx, auth.RoleMember, "member@example.com", testPassword)
	assert.NoError(t, err)
}

func TestLogin_StoreFailureIsRetryable(t *testing.T) {
	store := new(MockCredentialStore)
	store.On("FindByEmail", mock.Anything, auth.RoleMember, "a@example.com").Return(nil, assert.AnError)

	auther := auth.NewAuthenticator(store, newTestTokens(newTestClock()), testConfig{}).WithLogger(nopLogger{})

	_, err := auther.Login(context.Background(), auth.RoleMember, "a@example.com", "pw")
	require.Error(t, err)
	assert.True(t, auth.IsRetryable(err))
}

func TestAuther_SuccessfulLoginClearsAttempts(t *testing.T) {
	ctx := context.Background()
	auther, repo, _, _ := newTestAuther(t)
	seedAccount(t, repo, auth.RoleMember, "member@example.com", auth.StatusActive)

	limiter := &stubLimiter{allowed: true}
	auther.WithAttemptLimiter(limiter)

	_, err := auther.Login(ctx, auth.RoleMember, "member@example.com", "wrong password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	assert.Empty(t, limiter.resets)

	_, err = auther.Login(ctx, auth.RoleMember, "member@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, []string{"login:member:member@example.com"}, limiter.resets)
}
