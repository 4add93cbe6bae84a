package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultResetTokenTTL is how long a password reset token stays usable
const DefaultResetTokenTTL = time.Hour

// ResetManager issues, checks and consumes password reset tokens. It is
// the only writer of consumed_at and superseded_at.
type ResetManager struct {
	txs          TxRunner
	accounts     CredentialStore
	tokens       ResetTokenStore
	hasher       PasswordAuthenticator
	notifier     ResetNotifier
	limiter      AttemptLimiter
	ttl          time.Duration
	storeTimeout time.Duration
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

type accountLoaderTx interface {
	FindByIDTx(ctx context.Context, tx bun.IDB, subjectID string) (*Account, error)
}

// NewResetManager wires a manager over explicit stores
func NewResetManager(txs TxRunner, accounts CredentialStore, tokens ResetTokenStore) *ResetManager {
	return &ResetManager{
		txs:          txs,
		accounts:     accounts,
		tokens:       tokens,
		hasher:       NewBcryptHasher(0),
		notifier:     nil,
		ttl:          DefaultResetTokenTTL,
		storeTimeout: DefaultStoreTimeout,
		logger:       newDefLogger(),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

// NewResetManagerFromRepositories uses the bun repositories
func NewResetManagerFromRepositories(repo RepositoryManager) *ResetManager {
	return NewResetManager(repo, repo.Accounts(), repo.ResetTokens())
}

func (m *ResetManager) WithLogger(logger Logger) *ResetManager {
	m.logger = resolveLogger(logger)
	return m
}

func (m *ResetManager) WithActivitySink(sink ActivitySink) *ResetManager {
	m.activitySink = normalizeActivitySink(sink)
	return m
}

func (m *ResetManager) WithNotifier(notifier ResetNotifier) *ResetManager {
	m.notifier = notifier
	return m
}

func (m *ResetManager) WithAttemptLimiter(limiter AttemptLimiter) *ResetManager {
	m.limiter = limiter
	return m
}

func (m *ResetManager) WithPasswordHasher(hasher PasswordAuthenticator) *ResetManager {
	if hasher != nil {
		m.hasher = hasher
	}
	return m
}

// WithTTL sets the token validity window, non positive values keep the default
func (m *ResetManager) WithTTL(ttl time.Duration) *ResetManager {
	if ttl > 0 {
		m.ttl = ttl
	}
	return m
}

func (m *ResetManager) WithStoreTimeout(timeout time.Duration) *ResetManager {
	if timeout > 0 {
		m.storeTimeout = timeout
	}
	return m
}

func (m *ResetManager) WithClock(now func() time.Time) *ResetManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Request mints a reset token for the account matching role and email and
// hands it to the notifier. Unknown emails, throttled callers and
// notifier failures all look like success.
func (m *ResetManager) Request(ctx context.Context, role Role, email string) error {
	if !role.IsValid() {
		return ErrUnknownRole
	}

	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}

	if m.throttled(ctx, role, email) {
		m.logger.Warn("password reset request throttled", "role", role)
		return nil
	}

	account, err := m.findAccount(ctx, role, email)
	if err != nil {
		if isIdentityNotFound(err) {
			m.logger.Debug("password reset requested for unknown account", "role", role)
			return nil
		}
		m.logger.Error("password reset lookup failed", "role", role, "error", err)
		return storeFailure(err, "find_by_email")
	}

	raw := uuid.NewString()
	now := m.now().UTC()
	record := &ResetToken{
		ID:        uuid.New(),
		TokenHash: HashResetToken(raw),
		SubjectID: account.ID,
		Role:      account.Role,
		Email:     account.Email,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	superseded, err := m.issue(ctx, account.ID.String(), record, now)
	if err != nil && isUniqueViolation(err) {
		// a concurrent request for the same subject inserted its token
		// between our supersede and insert
		m.logger.Debug("password reset request raced, retrying", "subject", account.ID)
		superseded, err = m.issue(ctx, account.ID.String(), record, now)
	}
	if err != nil {
		if isUniqueViolation(err) {
			m.logger.Warn("password reset request lost to a concurrent request", "subject", account.ID)
			return nil
		}
		m.logger.Error("password reset token insert failed", "subject", account.ID, "error", err)
		return storeFailure(err, "insert_reset_token")
	}

	if m.notifier != nil {
		if err := m.notifier.SendPasswordReset(ctx, account.Role, account.Email, raw, record.ExpiresAt); err != nil {
			m.logger.Error("password reset notification failed", "subject", account.ID, "error", err)
		}
	} else {
		m.logger.Warn("password reset token minted without a notifier", "subject", account.ID)
	}

	recordActivity(ctx, m.activitySink, m.logger, m.now, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     ActorRef{ID: account.ID.String(), Type: string(account.Role)},
		SubjectID: account.ID.String(),
		Role:      account.Role,
		Metadata: map[string]any{
			"reset_token_id": record.ID.String(),
			"superseded":     superseded,
		},
	})

	return nil
}

// issue supersedes the live tokens of subjectID and inserts record in one
// transaction
func (m *ResetManager) issue(ctx context.Context, subjectID string, record *ResetToken, now time.Time) (int64, error) {
	txCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	var superseded int64
	err := m.txs.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if superseded, err = m.tokens.SupersedeLiveTx(ctx, tx, subjectID, now); err != nil {
			return err
		}
		_, err = m.tokens.InsertTx(ctx, tx, record)
		return err
	})
	return superseded, err
}

// Validate reports the state of a raw token without changing it
func (m *ResetManager) Validate(ctx context.Context, raw string) (ResetTokenState, error) {
	if raw == "" {
		return ResetTokenNotFound, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	record, err := m.tokens.GetByHash(ctx, HashResetToken(raw))
	if err != nil {
		m.logger.Error("password reset token lookup failed", "error", err)
		return "", storeFailure(err, "get_reset_token")
	}

	return record.State(m.now()), nil
}

// Consume spends a raw token and sets the new password in one
// transaction. Exactly one of several concurrent calls for the same token
// succeeds, the others get ErrResetTokenConsumed.
func (m *ResetManager) Consume(ctx context.Context, raw, newPassword string) (Identity, error) {
	if raw == "" {
		return nil, ErrResetTokenNotFound
	}

	passwordHash, err := m.hasher.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}

	hash := HashResetToken(raw)
	var identity Identity

	txCtx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	err = m.txs.RunInTx(txCtx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := m.tokens.GetByHashTx(ctx, tx, hash)
		if err != nil {
			return err
		}

		now := m.now()
		if err := resetStateError(record.State(now)); err != nil {
			return err
		}

		ok, err := m.tokens.MarkConsumedTx(ctx, tx, record.ID.String(), now.UTC())
		if err != nil {
			return err
		}
		if !ok {
			return ErrResetTokenConsumed
		}

		subjectID := record.SubjectID.String()
		if err := m.accounts.UpdatePasswordHashTx(ctx, tx, subjectID, passwordHash); err != nil {
			if isIdentityNotFound(err) {
				return ErrResetTokenNotFound
			}
			return err
		}

		identity = NewIdentity(subjectID, record.Email, record.Role, "")
		if loader, ok := m.accounts.(accountLoaderTx); ok {
			account, err := loader.FindByIDTx(ctx, tx, subjectID)
			if err != nil {
				return err
			}
			identity = IdentityFromAccount(account)
		}
		return nil
	})

	if err != nil {
		if kind := KindOf(err); kind == KindInternal || kind == KindTransientStoreFailure {
			m.logger.Error("password reset consume failed", "error", err)
			return nil, storeFailure(err, "consume_reset_token")
		}
		return nil, err
	}

	recordActivity(ctx, m.activitySink, m.logger, m.now, ActivityEvent{
		EventType: ActivityEventPasswordResetConsumed,
		Actor:     actorFromIdentity(identity),
		SubjectID: identity.ID(),
		Role:      identity.Role(),
	})

	return identity, nil
}

func (m *ResetManager) findAccount(ctx context.Context, role Role, email string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	return m.accounts.FindByEmail(ctx, role, email)
}

func (m *ResetManager) throttled(ctx context.Context, role Role, email string) bool {
	if m.limiter == nil {
		return false
	}
	allowed, err := m.limiter.Allow(ctx, attemptKey("reset", role, email))
	if err != nil {
		m.logger.Warn("reset limiter unavailable, allowing request", "error", err)
		return false
	}
	return !allowed
}

func resetStateError(state ResetTokenState) error {
	switch state {
	case ResetTokenValid:
		return nil
	case ResetTokenNotFound:
		return ErrResetTokenNotFound
	case ResetTokenExpired:
		return ErrResetTokenExpired
	case ResetTokenConsumed:
		return ErrResetTokenConsumed
	case ResetTokenSuperseded:
		return ErrResetTokenSuperseded
	default:
		return errors.New("unknown reset token state", errors.CategoryInternal).
			WithMetadata(map[string]any{"state": string(state)})
	}
}

// ResetStateError maps a token state to the error Consume would return
func ResetStateError(state ResetTokenState) error {
	return resetStateError(state)
}

// HashResetToken is the stored form of a raw reset token
func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
