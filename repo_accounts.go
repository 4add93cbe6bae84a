package auth

import (
	"context"
	"database/sql"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the bun backed credential store
type Accounts interface {
	repository.Repository[*Account]
	CredentialStore
	RoleReader
	LoginTracker

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, subjectID string) (*Account, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, subjectID string, status Status, at time.Time) error
}

type accounts struct {
	repository.Repository[*Account]
	db     *bun.DB
	hasher PasswordAuthenticator
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
)

// AccountsOption configures the accounts repository
type AccountsOption func(*accounts)

// WithAccountsHasher sets the password hasher used by Register and VerifyPassword
func WithAccountsHasher(hasher PasswordAuthenticator) AccountsOption {
	return func(a *accounts) {
		if hasher != nil {
			a.hasher = hasher
		}
	}
}

func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	out := &accounts{
		Repository: repo,
		db:         db,
		hasher:     NewBcryptHasher(0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(out)
		}
	}
	return out
}

func (a *accounts) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

// RegisterTx creates an account. A non empty PasswordHash is kept as is,
// the caller is expected to have hashed it.
func (a *accounts) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if account == nil {
		return nil, errors.New("account must not be nil", errors.CategoryBadInput)
	}
	if !account.Role.IsValid() {
		return nil, ErrUnknownRole
	}

	account.Email = NormalizeEmail(account.Email)
	if err := validation.Validate(account.Email, validation.Required, is.Email); err != nil {
		return nil, ErrInvalidEmail.Clone().WithMetadata(map[string]any{"reason": err.Error()})
	}
	account.EnsureStatus()
	if !account.Status.IsValid() {
		return nil, ErrInvalidStatus
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.PasswordHash == "" {
		account.PasswordHash = RandomPasswordHash()
	}

	return a.Repository.CreateTx(ctx, tx, account)
}

func (a *accounts) FindByEmail(ctx context.Context, role Role, email string) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.role = ?", role).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) VerifyPassword(account *Account, plaintext string) error {
	if account == nil {
		return ErrInvalidCredentials
	}
	return a.hasher.ComparePasswordAndHash(plaintext, account.PasswordHash)
}

func (a *accounts) FindByIDTx(ctx context.Context, tx bun.IDB, subjectID string) (*Account, error) {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return nil, ErrIdentityNotFound
	}

	record := &Account{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetStatus(ctx context.Context, subjectID string) (Status, error) {
	account, err := a.FindByIDTx(ctx, a.db, subjectID)
	if err != nil {
		return "", err
	}
	return account.Status, nil
}

func (a *accounts) GetRole(ctx context.Context, subjectID string) (Role, error) {
	account, err := a.FindByIDTx(ctx, a.db, subjectID)
	if err != nil {
		return "", err
	}
	return account.Role, nil
}

// UpdatePasswordHashTx must run inside the reset consume transaction
func (a *accounts) UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, subjectID, hash string) error {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return ErrIdentityNotFound
	}

	now := time.Now().UTC()
	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("password_hash = ?", hash).
		Set("reseted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (a *accounts) UpdateStatusTx(ctx context.Context, tx bun.IDB, subjectID string, status Status, at time.Time) error {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return ErrIdentityNotFound
	}

	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", at).
		Where("id = ?", id.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, subjectID string, at time.Time) error {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return ErrIdentityNotFound
	}

	_, err = a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("loggedin_at = ?", at).
		Where("id = ?", id.String()).
		Exec(ctx)
	return err
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
