package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// ResetTokens is the bun backed reset token store
type ResetTokens interface {
	repository.Repository[*ResetToken]
	ResetTokenStore
}

type resetTokens struct {
	repository.Repository[*ResetToken]
	db *bun.DB
}

var _ ResetTokens = (*resetTokens)(nil)

func NewResetTokensRepository(db *bun.DB) ResetTokens {
	handlers := repository.ModelHandlers[*ResetToken]{
		NewRecord: func() *ResetToken {
			return &ResetToken{}
		},
		GetID: func(record *ResetToken) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *ResetToken, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "token_hash"
		},
	}
	return &resetTokens{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

func (r *resetTokens) GetByHash(ctx context.Context, hash string) (*ResetToken, error) {
	return r.GetByHashTx(ctx, r.db, hash)
}

// GetByHashTx returns nil, nil when no row matches
func (r *resetTokens) GetByHashTx(ctx context.Context, tx bun.IDB, hash string) (*ResetToken, error) {
	record := &ResetToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// SupersedeLiveTx marks every unconsumed, unsuperseded token of a subject
// as superseded
func (r *resetTokens) SupersedeLiveTx(ctx context.Context, tx bun.IDB, subjectID string, at time.Time) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*ResetToken)(nil)).
		Set("superseded_at = ?", at).
		Where("subject_id = ?", subjectID).
		Where("consumed_at IS NULL").
		Where("superseded_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *resetTokens) InsertTx(ctx context.Context, tx bun.IDB, token *ResetToken) (*ResetToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, token)
}

// MarkConsumedTx is the check-and-set at the heart of reset consumption.
// It reports false when another caller consumed or superseded the token
// first.
func (r *resetTokens) MarkConsumedTx(ctx context.Context, tx bun.IDB, id string, at time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*ResetToken)(nil)).
		Set("consumed_at = ?", at).
		Where("id = ?", id).
		Where("consumed_at IS NULL").
		Where("superseded_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// isUniqueViolation reports a unique index conflict from postgres or sqlite
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
