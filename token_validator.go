package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// SessionValidator resolves presented session tokens to identities.
// The result depends only on the token, the clock and the store state.
type SessionValidator struct {
	tokens       TokenService
	store        CredentialStore
	policy       StatusPolicy
	storeTimeout time.Duration
	refreshRole  bool
	logger       Logger
}

// DefaultStoreTimeout bounds every credential store call
const DefaultStoreTimeout = 5 * time.Second

// NewSessionValidator creates a validator with the default status policy
func NewSessionValidator(tokens TokenService, store CredentialStore) *SessionValidator {
	return &SessionValidator{
		tokens:       tokens,
		store:        store,
		policy:       DefaultStatusPolicy(),
		storeTimeout: DefaultStoreTimeout,
		logger:       newDefLogger(),
	}
}

func (v *SessionValidator) WithLogger(logger Logger) *SessionValidator {
	v.logger = resolveLogger(logger)
	return v
}

func (v *SessionValidator) WithStatusPolicy(policy StatusPolicy) *SessionValidator {
	if policy != nil {
		v.policy = policy
	}
	return v
}

func (v *SessionValidator) WithStoreTimeout(timeout time.Duration) *SessionValidator {
	if timeout > 0 {
		v.storeTimeout = timeout
	}
	return v
}

// WithRoleRefresh re-reads the role on every validation when the store
// implements RoleReader, rejecting tokens whose role no longer matches.
func (v *SessionValidator) WithRoleRefresh(enabled bool) *SessionValidator {
	v.refreshRole = enabled
	return v
}

// Validate returns the identity behind raw, or one of ErrTokenMalformed,
// ErrTokenExpired, ErrSubjectUnknown, ErrAccountPending,
// ErrAccountNotAuthorized. Store failures are retryable.
func (v *SessionValidator) Validate(ctx context.Context, raw string) (Identity, error) {
	claims, err := v.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}

	subjectID := claims.UserID()
	role := claims.Role()

	status, err := v.lookupStatus(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if v.refreshRole {
		if err := v.checkRole(ctx, subjectID, role); err != nil {
			return nil, err
		}
	}

	if err := statusRejection(v.policy, role, status); err != nil {
		v.logger.Debug("session rejected by status policy", "subject", subjectID, "role", role, "status", status)
		return nil, err
	}

	return NewIdentity(subjectID, "", role, status), nil
}

func (v *SessionValidator) lookupStatus(ctx context.Context, subjectID string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()

	status, err := v.store.GetStatus(ctx, subjectID)
	if err != nil {
		if isIdentityNotFound(err) {
			return "", ErrSubjectUnknown
		}
		v.logger.Error("session validation store lookup failed", "subject", subjectID, "error", err)
		return "", storeFailure(err, "get_status")
	}
	return status, nil
}

func (v *SessionValidator) checkRole(ctx context.Context, subjectID string, role Role) error {
	reader, ok := v.store.(RoleReader)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.storeTimeout)
	defer cancel()

	current, err := reader.GetRole(ctx, subjectID)
	if err != nil {
		if isIdentityNotFound(err) {
			return ErrSubjectUnknown
		}
		return storeFailure(err, "get_role")
	}

	if current != role {
		v.logger.Warn("session role no longer matches account", "subject", subjectID, "token_role", role, "role", current)
		return ErrAccountNotAuthorized
	}
	return nil
}

// statusRejection maps a non authenticating status to its rejection.
// Pending accounts get their own indicator.
func statusRejection(policy StatusPolicy, role Role, status Status) error {
	if policy.CanAuthenticate(role, status) {
		return nil
	}
	if status == StatusPending {
		return ErrAccountPending
	}
	return ErrAccountNotAuthorized
}

func isIdentityNotFound(err error) bool {
	return IsError(err, ErrIdentityNotFound)
}
