package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/uptrace/bun"
)

// Logger takes a message plus key/value pairs
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes of an authenticated actor
type Identity interface {
	ID() string
	Email() string
	Role() Role
	Status() Status
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetContextKey() string
	GetTokenExpiration() int
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetResetTokenTTL() time.Duration
	GetStoreTimeout() time.Duration
	GetBcryptCost() int
	GetRefreshRoleOnValidate() bool
}

// CredentialStore is the account store consumed by the login, validation
// and reset flows. Emails passed in are already normalized.
type CredentialStore interface {
	FindByEmail(ctx context.Context, role Role, email string) (*Account, error)
	VerifyPassword(account *Account, plaintext string) error
	GetStatus(ctx context.Context, subjectID string) (Status, error)
	UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, subjectID, hash string) error
}

// RoleReader is implemented by stores that can re-read an account role,
// used when role refresh on validation is enabled.
type RoleReader interface {
	GetRole(ctx context.Context, subjectID string) (Role, error)
}

// ResetTokenStore persists password reset tokens
type ResetTokenStore interface {
	GetByHash(ctx context.Context, hash string) (*ResetToken, error)
	GetByHashTx(ctx context.Context, tx bun.IDB, hash string) (*ResetToken, error)
	SupersedeLiveTx(ctx context.Context, tx bun.IDB, subjectID string, at time.Time) (int64, error)
	InsertTx(ctx context.Context, tx bun.IDB, token *ResetToken) (*ResetToken, error)
	MarkConsumedTx(ctx context.Context, tx bun.IDB, id string, at time.Time) (bool, error)
}

// TxRunner opens a store transaction
type TxRunner interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
}

// ResetNotifier delivers a raw reset token out of band
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, role Role, email, token string, expiresAt time.Time) error
}

// AttemptLimiter throttles repeated attempts for a key. Allow returns
// false once the key is over its window budget.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// AttemptResetter is implemented by limiters that can clear a key, the
// login flow uses it after a successful sign in
type AttemptResetter interface {
	Reset(ctx context.Context, key string) error
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type accountIdentity struct {
	id     string
	email  string
	role   Role
	status Status
}

// NewIdentity builds a read only identity value
func NewIdentity(id, email string, role Role, status Status) Identity {
	return accountIdentity{id: id, email: email, role: role, status: status}
}

// IdentityFromAccount snapshots an account as an identity
func IdentityFromAccount(account *Account) Identity {
	if account == nil {
		return nil
	}
	return NewIdentity(account.ID.String(), account.Email, account.Role, account.Status)
}

func (i accountIdentity) ID() string     { return i.id }
func (i accountIdentity) Email() string  { return i.email }
func (i accountIdentity) Role() Role     { return i.role }
func (i accountIdentity) Status() Status { return i.status }

// IdentitySummary is the public shape of an identity
type IdentitySummary struct {
	ID     string `json:"id"`
	Email  string `json:"email,omitempty"`
	Role   Role   `json:"role"`
	Status Status `json:"status"`
}

// SummarizeIdentity converts an identity for responses
func SummarizeIdentity(identity Identity) IdentitySummary {
	if identity == nil {
		return IdentitySummary{}
	}
	return IdentitySummary{
		ID:     identity.ID(),
		Email:  identity.Email(),
		Role:   identity.Role(),
		Status: identity.Status(),
	}
}

type defLogger struct {
	l *slog.Logger
}

func newDefLogger() Logger {
	return defLogger{
		l: slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "auth"),
	}
}

func (d defLogger) Debug(msg string, args ...any) { d.l.Debug(msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.l.Info(msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.l.Warn(msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.l.Error(msg, args...) }

// NewSlogLogger adapts a slog logger
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return newDefLogger()
	}
	return defLogger{l: l}
}

func resolveLogger(l Logger) Logger {
	if l == nil {
		return newDefLogger()
	}
	return l
}
