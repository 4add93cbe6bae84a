package auth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var adminActor = auth.ActorRef{ID: "admin-1", Type: string(auth.RoleAdmin)}

func newTestStateMachine(t *testing.T) (auth.AccountStateMachine, auth.RepositoryManager, *memorySink) {
	t.Helper()
	repo := newTestRepo(t)
	sink := &memorySink{}
	clock := newTestClock()
	sm := auth.NewAccountStateMachineFromRepositories(repo,
		auth.WithStateMachineClock(clock.Now),
		auth.WithStateMachineActivitySink(sink),
		auth.WithStateMachineLogger(nopLogger{}),
	)
	return sm, repo, sink
}

func TestStateMachine_CanTransition(t *testing.T) {
	sm, _, _ := newTestStateMachine(t)

	allowed := [][2]auth.Status{
		{auth.StatusPending, auth.StatusApproved},
		{auth.StatusPending, auth.StatusRejected},
		{auth.StatusApproved, auth.StatusActive},
		{auth.StatusApproved, auth.StatusRejected},
		{auth.StatusActive, auth.StatusRejected},
	}
	for _, pair := range allowed {
		assert.True(t, sm.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]auth.Status{
		{auth.StatusPending, auth.StatusActive},
		{auth.StatusActive, auth.StatusPending},
		{auth.StatusRejected, auth.StatusApproved},
		{auth.StatusRejected, auth.StatusActive},
	}
	for _, pair := range denied {
		assert.False(t, sm.CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestStateMachine_ApproveThenActivate(t *testing.T) {
	ctx := context.Background()
	sm, repo, sink := newTestStateMachine(t)
	account := seedAccount(t, repo, auth.RoleLeader, "l@example.com", auth.StatusPending)

	updated, err := sm.Transition(ctx, adminActor, account.ID.String(), auth.StatusApproved, auth.WithTransitionReason("documents verified"))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusApproved, updated.Status)

	status, err := repo.Accounts().GetStatus(ctx, account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, auth.StatusApproved, status)

	_, err = sm.Transition(ctx, adminActor, account.ID.String(), auth.StatusActive)
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	first := sink.events[0]
	assert.Equal(t, auth.ActivityEventAccountStatusChanged, first.EventType)
	assert.Equal(t, adminActor, first.Actor)
	assert.Equal(t, auth.StatusPending, first.FromStatus)
	assert.Equal(t, auth.StatusApproved, first.ToStatus)
	assert.Equal(t, "documents verified", first.Metadata["reason"])
}

func TestStateMachine_SameStatusIsNoop(t *testing.T) {
	ctx := context.Background()
	sm, repo, sink := newTestStateMachine(t)
	account := seedAccount(t, repo, auth.RoleMember, "m@example.com", auth.StatusActive)

	updated, err := sm.Transition(ctx, adminActor, account.ID.String(), auth.StatusActive)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusActive, updated.Status)
	assert.Empty(t, sink.Types())
}

func TestStateMachine_Rejections(t *testing.T) {
	ctx := context.Background()
	sm, repo, _ := newTestStateMachine(t)
	pending := seedAccount(t, repo, auth.RoleMember, "p@example.com", auth.StatusPending)
	rejected := seedAccount(t, repo, auth.RoleMember, "r@example.com", auth.StatusRejected)

	_, err := sm.Transition(ctx, adminActor, pending.ID.String(), auth.StatusActive)
	assert.True(t, auth.IsError(err, auth.ErrInvalidTransition), "got %v", err)
	assert.Equal(t, auth.KindInvalidTransition, auth.KindOf(err))

	_, err = sm.Transition(ctx, adminActor, rejected.ID.String(), auth.StatusApproved)
	assert.True(t, auth.IsError(err, auth.ErrTerminalState), "got %v", err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, auth.StatusRejected, richErr.Metadata["from"])

	_, err = sm.Transition(ctx, adminActor, pending.ID.String(), auth.Status("banned"))
	assert.ErrorIs(t, err, auth.ErrInvalidStatus)

	_, err = sm.Transition(ctx, adminActor, "00000000-0000-0000-0000-000000000000", auth.StatusApproved)
	assert.ErrorIs(t, err, auth.ErrIdentityNotFound)
}

func TestStateMachine_HookErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	sm, repo, sink := newTestStateMachine(t)
	account := seedAccount(t, repo, auth.RoleParticipant, "p@example.com", auth.StatusPending)

	var seen auth.TransitionContext
	_, err := sm.Transition(ctx, adminActor, account.ID.String(), auth.StatusApproved,
		auth.WithBeforeTransitionHook(func(ctx context.Context, tx bun.IDB, tc auth.TransitionContext) error {
			seen = tc
			return nil
		}),
		auth.WithAfterTransitionHook(func(ctx context.Context, tx bun.IDB, tc auth.TransitionContext) error {
			return auth.ErrRoleForbidden
		}),
	)
	assert.ErrorIs(t, err, auth.ErrRoleForbidden)
	assert.Equal(t, auth.StatusPending, seen.From)
	assert.Equal(t, auth.StatusApproved, seen.To)

	status, err := repo.Accounts().GetStatus(ctx, account.ID.String())
	require.NoError(t, err)
	assert.Equal(t, auth.StatusPending, status)
	assert.Empty(t, sink.Types())
}

func TestStateMachine_ApprovalTakesEffectOnNextValidation(t *testing.T) {
	ctx := context.Background()
	sm, repo, _ := newTestStateMachine(t)
	clock := newTestClock()
	tokens := newTestTokens(clock)
	account := seedAccount(t, repo, auth.RoleLeader, "l@example.com", auth.StatusPending)

	session, err := tokens.Issue(auth.IdentityFromAccount(account))
	require.NoError(t, err)

	validator := auth.NewSessionValidator(tokens, repo.Accounts()).WithLogger(nopLogger{})

	_, err = validator.Validate(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrAccountPending)

	_, err = sm.Transition(ctx, adminActor, account.ID.String(), auth.StatusApproved)
	require.NoError(t, err)

	identity, err := validator.Validate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusApproved, identity.Status())

	_, err = sm.Transition(ctx, adminActor, account.ID.String(), auth.StatusRejected)
	require.NoError(t, err)

	_, err = validator.Validate(ctx, session.Token)
	assert.ErrorIs(t, err, auth.ErrAccountNotAuthorized)
}
