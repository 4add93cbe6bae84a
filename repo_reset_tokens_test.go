package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func insertResetToken(t *testing.T, repo auth.RepositoryManager, account *auth.Account, raw string, now time.Time) *auth.ResetToken {
	t.Helper()

	record := &auth.ResetToken{
		ID:        uuid.New(),
		TokenHash: auth.HashResetToken(raw),
		SubjectID: account.ID,
		Role:      account.Role,
		Email:     account.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	err := repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.ResetTokens().InsertTx(ctx, tx, record)
		return err
	})
	require.NoError(t, err)
	return record
}

func markConsumed(t *testing.T, repo auth.RepositoryManager, id string, at time.Time) bool {
	t.Helper()

	var ok bool
	err := repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		ok, err = repo.ResetTokens().MarkConsumedTx(ctx, tx, id, at)
		return err
	})
	require.NoError(t, err)
	return ok
}

func TestResetTokens_MarkConsumedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	account := seedAccount(t, repo, auth.RoleMember, "m@example.com", auth.StatusActive)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := insertResetToken(t, repo, account, "raw-token", now)

	assert.True(t, markConsumed(t, repo, record.ID.String(), now))
	assert.False(t, markConsumed(t, repo, record.ID.String(), now.Add(time.Minute)), "second consume must not match")

	stored, err := repo.ResetTokens().GetByHash(ctx, auth.HashResetToken("raw-token"))
	require.NoError(t, err)
	require.NotNil(t, stored.ConsumedAt)
	assert.True(t, stored.ConsumedAt.Equal(now), "first consume time is kept")
}

func TestResetTokens_SupersededCannotBeConsumed(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	account := seedAccount(t, repo, auth.RoleLeader, "l@example.com", auth.StatusActive)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := insertResetToken(t, repo, account, "old-token", now)

	var superseded int64
	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		superseded, err = repo.ResetTokens().SupersedeLiveTx(ctx, tx, account.ID.String(), now)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), superseded)

	assert.False(t, markConsumed(t, repo, record.ID.String(), now))
}

func TestResetTokens_OneLiveTokenPerSubject(t *testing.T) {
	repo := newTestRepo(t)
	account := seedAccount(t, repo, auth.RoleMember, "m@example.com", auth.StatusActive)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	insertResetToken(t, repo, account, "first", now)

	err := repo.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.ResetTokens().InsertTx(ctx, tx, &auth.ResetToken{
			TokenHash: auth.HashResetToken("second"),
			SubjectID: account.ID,
			Role:      account.Role,
			Email:     account.Email,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		})
		return err
	})
	assert.Error(t, err)
}
