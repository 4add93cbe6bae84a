package auth

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// LoginTracker is implemented by stores that record successful logins
type LoginTracker interface {
	TrackSuccessfulLogin(ctx context.Context, subjectID string, at time.Time) error
}

// Auther runs the password login flow for every role
type Auther struct {
	store        CredentialStore
	tokens       TokenService
	policy       StatusPolicy
	limiter      AttemptLimiter
	storeTimeout time.Duration
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// LoginResult is returned on a successful login
type LoginResult struct {
	Session  SessionToken
	Identity Identity
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(store CredentialStore, tokens TokenService, opts Config) *Auther {
	a := &Auther{
		store:        store,
		tokens:       tokens,
		policy:       DefaultStatusPolicy(),
		storeTimeout: DefaultStoreTimeout,
		logger:       newDefLogger(),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	if opts != nil && opts.GetStoreTimeout() > 0 {
		a.storeTimeout = opts.GetStoreTimeout()
	}
	return a
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = resolveLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithStatusPolicy overrides which statuses may log in per role
func (s *Auther) WithStatusPolicy(policy StatusPolicy) *Auther {
	if policy != nil {
		s.policy = policy
	}
	return s
}

// WithAttemptLimiter throttles logins per role and email
func (s *Auther) WithAttemptLimiter(limiter AttemptLimiter) *Auther {
	s.limiter = limiter
	return s
}

func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// Login verifies credentials for role and mints a session token.
// Unknown email and wrong password both return ErrInvalidCredentials.
// The status check runs only after the password matched, so a pending
// account is reported as pending only to someone holding its password.
func (s *Auther) Login(ctx context.Context, role Role, email, password string) (*LoginResult, error) {
	if !role.IsValid() {
		return nil, ErrUnknownRole
	}

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if err := s.throttle(ctx, role, email); err != nil {
		s.loginFailed(ctx, nil, role, email, err)
		return nil, err
	}

	account, err := s.findAccount(ctx, role, email)
	if err != nil {
		if isIdentityNotFound(err) {
			// spend the same bcrypt time as a real comparison
			_ = ComparePasswordAndHash(password, dummyPasswordHash())
			s.loginFailed(ctx, nil, role, email, ErrInvalidCredentials)
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("login store lookup failed", "role", role, "error", err)
		return nil, storeFailure(err, "find_by_email")
	}

	if err := s.store.VerifyPassword(account, password); err != nil {
		if KindOf(err) != KindInvalidCredentials {
			s.logger.Error("login password verification failed", "role", role, "error", err)
			return nil, errors.Wrap(err, errors.CategoryInternal, "password verification failed")
		}
		s.loginFailed(ctx, account, role, email, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	identity := IdentityFromAccount(account)

	if err := statusRejection(s.policy, identity.Role(), identity.Status()); err != nil {
		s.logger.Warn("login blocked due to account status", "role", role, "status", identity.Status())
		s.loginFailed(ctx, account, role, email, err)
		return nil, err
	}

	session, err := s.tokens.Issue(identity)
	if err != nil {
		s.logger.Error("login failed to issue token", "error", err)
		s.loginFailed(ctx, account, role, email, err)
		return nil, err
	}

	s.trackLogin(ctx, identity.ID())
	s.clearAttempts(ctx, role, email)

	recordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     actorFromIdentity(identity),
		SubjectID: identity.ID(),
		Role:      role,
	})

	return &LoginResult{Session: session, Identity: identity}, nil
}

func (s *Auther) findAccount(ctx context.Context, role Role, email string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.FindByEmail(ctx, role, email)
}

func (s *Auther) throttle(ctx context.Context, role Role, email string) error {
	if s.limiter == nil {
		return nil
	}

	allowed, err := s.limiter.Allow(ctx, attemptKey("login", role, email))
	if err != nil {
		s.logger.Warn("login limiter unavailable, allowing attempt", "error", err)
		return nil
	}
	if !allowed {
		return ErrTooManyAttempts
	}
	return nil
}

func (s *Auther) clearAttempts(ctx context.Context, role Role, email string) {
	resetter, ok := s.limiter.(AttemptResetter)
	if !ok {
		return
	}
	if err := resetter.Reset(ctx, attemptKey("login", role, email)); err != nil {
		s.logger.Warn("failed to clear login attempts", "role", role, "error", err)
	}
}

func (s *Auther) trackLogin(ctx context.Context, subjectID string) {
	tracker, ok := s.store.(LoginTracker)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := tracker.TrackSuccessfulLogin(ctx, subjectID, s.now()); err != nil {
		s.logger.Warn("failed to track successful login", "subject", subjectID, "error", err)
	}
}

func (s *Auther) loginFailed(ctx context.Context, account *Account, role Role, email string, err error) {
	event := ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{Type: "unknown"},
		Role:      role,
		Metadata: map[string]any{
			"email": email,
			"kind":  string(KindOf(err)),
		},
	}
	if account != nil {
		event.Actor = actorFromIdentity(IdentityFromAccount(account))
		event.SubjectID = account.ID.String()
	}
	recordActivity(ctx, s.activitySink, s.logger, s.now, event)
}

func attemptKey(flow string, role Role, email string) string {
	return flow + ":" + string(role) + ":" + email
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

func dummyPasswordHash() string {
	dummyHashOnce.Do(func() {
		dummyHash = RandomPasswordHash()
	})
	return dummyHash
}
