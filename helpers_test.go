package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	testSigningKey = "portal-test-signing-key-0123456789"
	testPassword   = "correct horse battery"
)

var testHasher = auth.NewBcryptHasher(4)

// testConfig implements auth.Config
type testConfig struct {
	refreshRole bool
}

func (testConfig) GetSigningKey() string            { return testSigningKey }
func (testConfig) GetSigningMethod() string         { return "HS256" }
func (testConfig) GetContextKey() string            { return "portal_session" }
func (testConfig) GetTokenExpiration() int          { return 24 }
func (testConfig) GetTokenLookup() string           { return "" }
func (testConfig) GetAuthScheme() string            { return "Bearer" }
func (testConfig) GetIssuer() string                { return "portal-test" }
func (testConfig) GetAudience() []string            { return []string{"portal"} }
func (testConfig) GetResetTokenTTL() time.Duration  { return time.Hour }
func (testConfig) GetStoreTimeout() time.Duration   { return 2 * time.Second }
func (testConfig) GetBcryptCost() int               { return 4 }
func (c testConfig) GetRefreshRoleOnValidate() bool { return c.refreshRole }

// testClock is a settable clock safe for concurrent reads
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// memorySink collects activity events
type memorySink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *memorySink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// captureNotifier keeps the last raw reset token per email
type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
	calls  int
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{tokens: map[string]string{}}
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, role auth.Role, email, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.tokens[string(role)+":"+email] = token
	return nil
}

func (n *captureNotifier) Token(role auth.Role, email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[string(role)+":"+email]
}

func (n *captureNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, auth.Migrate(ctx, db))

	return db
}

func newTestRepo(t *testing.T) auth.RepositoryManager {
	t.Helper()
	return auth.NewRepositoryManager(newTestDB(t), auth.WithAccountsHasher(testHasher))
}

func seedAccount(t *testing.T, repo auth.RepositoryManager, role auth.Role, email string, status auth.Status) *auth.Account {
	t.Helper()

	hash, err := testHasher.HashPassword(testPassword)
	require.NoError(t, err)

	account, err := repo.Accounts().Register(context.Background(), &auth.Account{
		Role:         role,
		Email:        email,
		Status:       status,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return account
}

func newTestTokens(clock *testClock) *auth.TokenServiceImpl {
	return auth.NewTokenServiceFromConfig(testConfig{},
		auth.WithTokenClock(clock.Now),
		auth.WithTokenLogger(nopLogger{}),
	)
}
