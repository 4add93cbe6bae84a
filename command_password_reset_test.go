package auth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordResetCommands(t *testing.T) {
	ctx := context.Background()
	f := newResetFixture(t)
	account := seedAccount(t, f.repo, auth.RoleMember, "m@example.com", auth.StatusActive)

	var initialized *auth.InitializePasswordResetResponse
	err := auth.NewInitializePasswordResetHandler(f.manager).Execute(ctx, auth.InitializePasswordResetMessage{
		Role:  auth.RoleMember,
		Email: "m@example.com",
		OnResponse: func(resp *auth.InitializePasswordResetResponse) {
			initialized = resp
		},
	})
	require.NoError(t, err)
	require.NotNil(t, initialized)
	assert.True(t, initialized.Success)

	raw := f.notifier.Token(auth.RoleMember, "m@example.com")
	require.NotEmpty(t, raw)

	var finalized *auth.FinalizePasswordResetResponse
	err = auth.NewFinalizePasswordResetHandler(f.manager).Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:    raw,
		Password: newPassword,
		OnResponse: func(resp *auth.FinalizePasswordResetResponse) {
			finalized = resp
		},
	})
	require.NoError(t, err)
	require.NotNil(t, finalized)
	assert.Equal(t, account.ID.String(), finalized.Identity.ID())

	err = auth.NewFinalizePasswordResetHandler(f.manager).Execute(ctx, auth.FinalizePasswordResetMessage{
		Token:    raw,
		Password: newPassword,
	})
	assert.ErrorIs(t, err, auth.ErrResetTokenConsumed)
}

func TestPasswordResetCommands_CancelledContext(t *testing.T) {
	f := newResetFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := auth.NewInitializePasswordResetHandler(f.manager).Execute(ctx, auth.InitializePasswordResetMessage{
		Role:  auth.RoleMember,
		Email: "m@example.com",
	})
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, errors.CategoryOperation, richErr.Category)

	err = auth.NewFinalizePasswordResetHandler(f.manager).Execute(ctx, auth.FinalizePasswordResetMessage{Token: "t", Password: "p"})
	assert.Error(t, err)
}

func TestMessageTypes(t *testing.T) {
	assert.Equal(t, "account.password_reset.request", auth.InitializePasswordResetMessage{}.Type())
	assert.Equal(t, "account.password_reset.finalize", auth.FinalizePasswordResetMessage{}.Type())
	assert.Equal(t, "account.register", auth.RegisterAccountMessage{}.Type())
}

func TestRegisterAccountHandler(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	handler := auth.NewRegisterAccountHandler(repo, testHasher)

	account, err := handler.Execute(ctx, auth.RegisterAccountMessage{
		Role:      auth.RoleLeader,
		Email:     "Lead@Example.com",
		Password:  testPassword,
		UseHashid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "lead@example.com", account.Email)
	assert.Equal(t, auth.StatusPending, account.Status)
	assert.NoError(t, testHasher.ComparePasswordAndHash(testPassword, account.PasswordHash))

	again, err := auth.NewRegisterAccountHandler(newTestRepo(t), testHasher).Execute(ctx, auth.RegisterAccountMessage{
		Role:      auth.RoleLeader,
		Email:     "lead@example.com",
		Password:  testPassword,
		UseHashid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID, "hashid ids are stable across stores")

	_, err = handler.Execute(ctx, auth.RegisterAccountMessage{Role: auth.RoleLeader, Email: "lead@example.com", Password: testPassword})
	assert.Error(t, err, "duplicate role and email")

	_, err = handler.Execute(ctx, auth.RegisterAccountMessage{Role: auth.RoleMember, Email: "m@example.com"})
	assert.Error(t, err, "empty password")

	_, err = handler.Execute(ctx, auth.RegisterAccountMessage{Role: auth.Role("guest"), Email: "g@example.com", Password: "pw"})
	assert.ErrorIs(t, err, auth.ErrUnknownRole)
}
