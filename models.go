package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Role is the actor class an account belongs to
type Role string

const (
	// RoleMember is a regular member of the organization
	RoleMember Role = "member"
	// RoleLeader is a facilitator, needs approval before login
	RoleLeader Role = "leader"
	// RoleParticipant is an event participant
	RoleParticipant Role = "participant"
	// RoleAdmin is a portal administrator
	RoleAdmin Role = "admin"
)

// Status is the account approval status
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusActive   Status = "active"
)

// Account is the persisted credential record
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID  `bun:"id,pk" json:"id,omitempty"`
	Role          Role       `bun:"role,notnull" json:"role,omitempty"`
	Status        Status     `bun:"status,notnull" json:"status,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	DisplayName   string     `bun:"display_name" json:"display_name,omitempty"`
	PasswordHash  string     `bun:"password_hash" json:"-"`
	LoggedInAt    *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus defaults new accounts to pending
func (a *Account) EnsureStatus() {
	if a != nil && a.Status == "" {
		a.Status = StatusPending
	}
}

// IsPending reports whether the account waits for approval
func (a *Account) IsPending() bool { return a != nil && a.Status == StatusPending }

// IsRejected reports whether the account was rejected
func (a *Account) IsRejected() bool { return a != nil && a.Status == StatusRejected }

// ResetTokenState is the observable state of a reset token
type ResetTokenState string

const (
	ResetTokenValid      ResetTokenState = "valid"
	ResetTokenNotFound   ResetTokenState = "not_found"
	ResetTokenExpired    ResetTokenState = "expired"
	ResetTokenConsumed   ResetTokenState = "consumed"
	ResetTokenSuperseded ResetTokenState = "superseded"
)

// ResetToken is a single use password recovery credential.
// Only the hash of the token value is persisted.
type ResetToken struct {
	bun.BaseModel `bun:"table:password_reset_tokens,alias:prt"`
	ID            uuid.UUID  `bun:"id,pk" json:"id,omitempty"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	SubjectID     uuid.UUID  `bun:"subject_id,notnull" json:"subject_id,omitempty"`
	Role          Role       `bun:"role,notnull" json:"role,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	ConsumedAt    *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	SupersededAt  *time.Time `bun:"superseded_at,nullzero" json:"superseded_at,omitempty"`
}

// IsConsumed reports whether the token was already used
func (r *ResetToken) IsConsumed() bool {
	return r.ConsumedAt != nil
}

// IsSuperseded reports whether a newer request invalidated the token
func (r *ResetToken) IsSuperseded() bool {
	return r.SupersededAt != nil
}

// IsExpired is true once now reaches expires_at
func (r *ResetToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// State resolves the token state at the given time. Expiry wins over
// every other terminal state.
func (r *ResetToken) State(now time.Time) ResetTokenState {
	if r == nil {
		return ResetTokenNotFound
	}

	switch {
	case r.IsExpired(now):
		return ResetTokenExpired
	case r.IsConsumed():
		return ResetTokenConsumed
	case r.IsSuperseded():
		return ResetTokenSuperseded
	default:
		return ResetTokenValid
	}
}

// NormalizeEmail trims and lowercases an email before store lookups
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
