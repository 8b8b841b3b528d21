package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/community-hub/internal/auth"
	"github.com/spec-kit/community-hub/internal/config"
	"github.com/spec-kit/community-hub/internal/correlation"
	"github.com/spec-kit/community-hub/internal/domain"
	"github.com/spec-kit/community-hub/internal/events"
	"github.com/spec-kit/community-hub/internal/repository"
	"github.com/spec-kit/community-hub/internal/session"
	apperrors "github.com/spec-kit/community-hub/pkg/util"
)

// base64(sha256("password1")), the unsalted format of older accounts.
const legacyPassword1 = "CxTVAaWURCoBxoWVQbyz6BZNGD0yk3uFGDVEL2nVyU4="

type fixture struct {
	svc   *AuthService
	users *repository.MemoryUserRepository
	store *session.MemoryStore
	clock *abtime.ManualTime
	logs  *observer.ObservedLogs

	mu     sync.Mutex
	events []events.Event
}

func testConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{
		TokenSecret:           "test-secret",
		SessionTimeoutMinutes: 480,
		ExpiryPolicy:          config.ExpiryPolicyFixed,
		SessionBackend:        config.SessionBackendMemory,
		MaxLoginAttempts:      5,
		LockoutMinutes:        15,
		RehashLegacy:          true,
		SaltBytes:             16,
		MinPasswordLength:     8,
	}}
}

func newFixture(t *testing.T, opts ...func(*config.Config, *AuthDependencies)) *fixture {
	t.Helper()
	cfg := testConfig()
	clock := abtime.NewManualAtTime(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	core, logs := observer.New(zapcore.DebugLevel)

	f := &fixture{users: repository.NewMemoryUserRepository(), clock: clock, logs: logs}
	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range events.AuditTypes() {
		dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
			return nil
		})
	}

	deps := AuthDependencies{
		UserRepo:   f.users,
		Dispatcher: dispatcher,
		Logger:     zap.New(core),
		Clock:      clock,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	if deps.Sessions == nil {
		policy := session.FixedPolicy(cfg.Auth.SessionTimeout())
		if cfg.Auth.ExpiryPolicy == config.ExpiryPolicySliding {
			policy = session.SlidingPolicy(cfg.Auth.SessionTimeout())
		}
		f.store = session.NewMemoryStore(policy, clock)
		deps.Sessions = f.store
	}

	svc, err := NewAuthService(cfg, deps)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seed(t *testing.T, username, encodedHash string, role domain.Role) *domain.User {
	t.Helper()
	user := &domain.User{
		Username:     username,
		Email:        username + "@example.org",
		PasswordHash: encodedHash,
		Role:         role,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func (f *fixture) seedPassword(t *testing.T, username, password string, role domain.Role) *domain.User {
	t.Helper()
	encoded, err := f.svc.Hasher().Hash(password)
	require.NoError(t, err)
	return f.seed(t, username, encoded, role)
}

func (f *fixture) eventsOf(eventType events.EventType) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestEndToEndRequesterScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "alice@example.org",
		Password: "Str0ng!Pwd",
		Role:     domain.RoleRequester,
	})
	require.NoError(t, err)
	assert.Contains(t, user.PasswordHash, ":")

	sess, err := f.svc.Login(ctx, "alice", "Str0ng!Pwd")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRequester, sess.Role)
	assert.Equal(t, user.ID, sess.SubjectID)

	got, err := f.svc.Authorize(ctx, sess.Token, auth.AnyOf(domain.RoleRequester))
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.SubjectID)

	_, err = f.svc.Authorize(ctx, sess.Token, auth.AnyOf(domain.RoleAdmin))
	assert.ErrorIs(t, err, auth.ErrInsufficientPrivileges)

	require.NoError(t, f.svc.Logout(ctx, sess.Token))

	_, err = f.svc.Authorize(ctx, sess.Token, auth.AnyOf(domain.RoleRequester))
	assert.ErrorIs(t, err, auth.ErrSessionExpired)

	assert.Len(t, f.eventsOf(events.EventUserRegistered), 1)
	assert.Len(t, f.eventsOf(events.EventLoginSucceeded), 1)
	assert.Len(t, f.eventsOf(events.EventAccessDenied), 1)
	assert.Len(t, f.eventsOf(events.EventLogout), 1)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPassword(t, "bob", "correct-horse", domain.RoleVolunteer)

	_, unknownErr := f.svc.Login(ctx, "mallory", "whatever1")
	_, wrongErr := f.svc.Login(ctx, "bob", "wrong-horse")

	require.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, auth.ErrInvalidCredentials)

	unknownDE := apperrors.ToDomainError(unknownErr)
	wrongDE := apperrors.ToDomainError(wrongErr)
	assert.Equal(t, unknownDE.HTTPStatus, wrongDE.HTTPStatus)
	assert.Equal(t, unknownDE.Code, wrongDE.Code)
	assert.Equal(t, unknownDE.Message, wrongDE.Message)

	failed := f.eventsOf(events.EventLoginFailed)
	require.Len(t, failed, 2)
	for _, e := range failed {
		assert.Equal(t, domain.AnonymousSubject, e.SubjectID)
	}
}

func TestLoginNeverLogsSecrets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedPassword(t, "carol", "s3cret-Passw0rd", domain.RoleAdmin)

	sess, err := f.svc.Login(ctx, "carol", "s3cret-Passw0rd")
	require.NoError(t, err)
	_, _ = f.svc.Login(ctx, "carol", "n0t-the-Passw0rd")

	for _, entry := range f.logs.All() {
		line := entry.Message + fmt.Sprint(entry.ContextMap())
		assert.NotContains(t, line, "s3cret-Passw0rd")
		assert.NotContains(t, line, "n0t-the-Passw0rd")
		assert.NotContains(t, line, user.PasswordHash)
		assert.NotContains(t, line, sess.Token)
	}
	assert.NotEmpty(t, f.logs.FilterField(zap.String("token_prefix", session.TokenPrefix(sess.Token))).All())
}

func TestLoginCarriesCorrelationFields(t *testing.T) {
	f := newFixture(t)
	f.seedPassword(t, "dave", "dave-password", domain.RoleVolunteer)

	cc := correlation.Begin(f.clock)
	defer cc.End()
	ctx := correlation.NewContext(context.Background(), cc)

	_, err := f.svc.Login(ctx, "dave", "dave-password")
	require.NoError(t, err)

	entries := f.logs.FilterMessage("login succeeded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, cc.ID(), entries[0].ContextMap()["correlation_id"])
	assert.Equal(t, domain.AnonymousSubject, entries[0].ContextMap()["subject_id"])

	succeeded := f.eventsOf(events.EventLoginSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, cc.ID(), succeeded[0].CorrelationID)
}

func TestLegacyHashIsRehashedOnLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seed(t, "erin", legacyPassword1, domain.RoleVolunteer)

	_, err := f.svc.Login(ctx, "erin", "password1")
	require.NoError(t, err)

	stored, ok, err := f.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, legacyPassword1, stored.PasswordHash)
	assert.False(t, auth.IsLegacyHash(stored.PasswordHash))

	match, err := f.svc.Hasher().Verify("password1", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, match)
	assert.Len(t, f.eventsOf(events.EventCredentialRehashed), 1)

	_, err = f.svc.Login(ctx, "erin", "password1")
	require.NoError(t, err)
	assert.Len(t, f.eventsOf(events.EventCredentialRehashed), 1)
}

func TestLegacyHashKeptWhenRehashDisabled(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *AuthDependencies) {
		cfg.Auth.RehashLegacy = false
	})
	ctx := context.Background()
	user := f.seed(t, "erin", legacyPassword1, domain.RoleVolunteer)

	_, err := f.svc.Login(ctx, "erin", "password1")
	require.NoError(t, err)

	stored, _, _ := f.users.FindByID(ctx, user.ID)
	assert.Equal(t, legacyPassword1, stored.PasswordHash)
}

type failingRehashRepo struct {
	*repository.MemoryUserRepository
}

func (failingRehashRepo) UpdatePasswordHash(context.Context, string, string) error {
	return errors.New("read-only replica")
}

func TestRehashFailureDoesNotFailLogin(t *testing.T) {
	repo := failingRehashRepo{repository.NewMemoryUserRepository()}
	f := newFixture(t, func(_ *config.Config, deps *AuthDependencies) {
		deps.UserRepo = repo
	})
	require.NoError(t, repo.Create(context.Background(), &domain.User{
		Username: "erin", Email: "erin@example.org", PasswordHash: legacyPassword1, Role: domain.RoleVolunteer,
	}))

	_, err := f.svc.Login(context.Background(), "erin", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, f.logs.FilterMessage("legacy credential rehash failed").All())
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPassword(t, "frank", "frank-password", domain.RoleRequester)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "frank", "nope-nope")
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	_, err := f.svc.Login(ctx, "frank", "frank-password")
	require.ErrorIs(t, err, auth.ErrAccountLocked)

	f.clock.Advance(15 * time.Minute)
	_, err = f.svc.Login(ctx, "frank", "frank-password")
	require.NoError(t, err)
}

func TestSuccessfulLoginResetsFailureCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPassword(t, "gina", "gina-password", domain.RoleRequester)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, "gina", "wrong-pass")
	}
	_, err := f.svc.Login(ctx, "gina", "gina-password")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, "gina", "wrong-pass")
	}
	_, err = f.svc.Login(ctx, "gina", "gina-password")
	assert.NoError(t, err)
}

func TestSuspendedAccountCannotLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	encoded, err := f.svc.Hasher().Hash("hank-password")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, &domain.User{
		Username: "hank", Email: "hank@example.org", PasswordHash: encoded,
		Role: domain.RoleVolunteer, Status: domain.UserStatusSuspended,
	}))

	_, err = f.svc.Login(ctx, "hank", "hank-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

type unavailableRepo struct {
	*repository.MemoryUserRepository
}

func (unavailableRepo) FindCredential(context.Context, string) (domain.CredentialRecord, bool, error) {
	return domain.CredentialRecord{}, false, errors.New("connection refused")
}

func TestDirectoryUnavailable(t *testing.T) {
	f := newFixture(t, func(_ *config.Config, deps *AuthDependencies) {
		deps.UserRepo = unavailableRepo{repository.NewMemoryUserRepository()}
	})

	_, err := f.svc.Login(context.Background(), "ivy", "ivy-password")
	require.ErrorIs(t, err, auth.ErrDirectoryUnavailable)
	assert.Equal(t, 503, apperrors.ToDomainError(err).HTTPStatus)
}

func TestMalformedStoredHash(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "jack", "%%%:not-base64", domain.RoleRequester)

	_, err := f.svc.Login(context.Background(), "jack", "anything1")
	assert.ErrorIs(t, err, auth.ErrMalformedHash)
}

func TestAuthorizeAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPassword(t, "kate", "kate-password", domain.RoleAdmin)

	sess, err := f.svc.Login(ctx, "kate", "kate-password")
	require.NoError(t, err)

	f.clock.Advance(8*time.Hour - time.Second)
	_, err = f.svc.Authorize(ctx, sess.Token, auth.Authenticated())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Second)
	_, err = f.svc.Authorize(ctx, sess.Token, auth.Authenticated())
	assert.ErrorIs(t, err, auth.ErrSessionExpired)
}

func TestAuthorizeRefreshesUnderSlidingPolicy(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *AuthDependencies) {
		cfg.Auth.ExpiryPolicy = config.ExpiryPolicySliding
	})
	ctx := context.Background()
	f.seedPassword(t, "liam", "liam-password", domain.RoleVolunteer)

	sess, err := f.svc.Login(ctx, "liam", "liam-password")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.clock.Advance(6 * time.Hour)
		got, err := f.svc.Authorize(ctx, sess.Token, auth.WithCapability(domain.CapabilityManageRequests))
		require.NoError(t, err)
		assert.True(t, got.LastRefreshedAt.Equal(f.clock.Now()))
	}

	f.clock.Advance(8*time.Hour + time.Second)
	_, err = f.svc.Authorize(ctx, sess.Token, auth.Authenticated())
	assert.ErrorIs(t, err, auth.ErrSessionExpired)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Logout(context.Background(), "never-issued"))
	assert.NoError(t, f.svc.Logout(context.Background(), "never-issued"))
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "root", Email: "root@example.org", Password: "long-enough", Role: domain.RoleAdmin})
	de := apperrors.ToDomainError(err)
	require.NotNil(t, de)
	assert.Equal(t, "VALIDATION_FAILED", de.Code)
	assert.Contains(t, de.Details, "role")

	_, err = f.svc.Register(ctx, RegisterInput{Username: "x", Email: "bad", Password: "short"})
	de = apperrors.ToDomainError(err)
	require.NotNil(t, de)
	assert.Contains(t, de.Details, "username")
	assert.Contains(t, de.Details, "email")
	assert.Contains(t, de.Details, "password")

	_, err = f.svc.Register(ctx, RegisterInput{Username: "maya", Email: "maya@example.org", Password: strings.Repeat("p", 129)})
	assert.Contains(t, apperrors.ToDomainError(err).Details, "password")

	user, err := f.svc.Register(ctx, RegisterInput{Username: "maya", Email: "maya@example.org", Password: "maya-password"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRequester, user.Role)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "MAYA", Email: "other@example.org", Password: "maya-password"})
	assert.Equal(t, "CONFLICT", apperrors.ToDomainError(err).Code)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPassword(t, "nina", "old-password", domain.RoleRequester)

	current, err := f.svc.Login(ctx, "nina", "old-password")
	require.NoError(t, err)
	other, err := f.svc.Login(ctx, "nina", "old-password")
	require.NoError(t, err)

	_, err = f.svc.ChangePassword(ctx, current, "wrong-password", "new-password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.svc.ChangePassword(ctx, current, "old-password", "short")
	assert.Equal(t, "VALIDATION_FAILED", apperrors.ToDomainError(err).Code)

	revoked, err := f.svc.ChangePassword(ctx, current, "old-password", "new-password")
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	_, err = f.svc.Authorize(ctx, current.Token, auth.Authenticated())
	assert.NoError(t, err)
	_, err = f.svc.Authorize(ctx, other.Token, auth.Authenticated())
	assert.ErrorIs(t, err, auth.ErrSessionExpired)

	_, err = f.svc.Login(ctx, "nina", "old-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "nina", "new-password")
	assert.NoError(t, err)
}

func TestProfileAndActiveSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedPassword(t, "owen", "owen-password", domain.RoleVolunteer)

	got, err := f.svc.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "owen", got.Username)

	_, err = f.svc.Profile(ctx, "missing")
	assert.Equal(t, "NOT_FOUND", apperrors.ToDomainError(err).Code)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, "owen", "owen-password")
		require.NoError(t, err)
	}
	count, err := f.svc.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.False(t, f.svc.SessionPolicy().Sliding)
}

func TestConcurrentLoginsAndAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const users = 8
	for i := 0; i < users; i++ {
		f.seedPassword(t, fmt.Sprintf("user%d", i), fmt.Sprintf("password-%d", i), domain.RoleRequester)
	}

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := f.svc.Login(ctx, fmt.Sprintf("user%d", i), fmt.Sprintf("password-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			got, err := f.svc.Authorize(ctx, sess.Token, auth.WithCapability(domain.CapabilitySubmitRequests))
			if assert.NoError(t, err) {
				assert.Equal(t, sess.SubjectID, got.SubjectID)
			}
			assert.NoError(t, f.svc.Logout(ctx, sess.Token))
		}(i)
	}
	wg.Wait()

	count, err := f.svc.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewAuthServiceRequiresCollaborators(t *testing.T) {
	_, err := NewAuthService(testConfig(), AuthDependencies{})
	assert.Error(t, err)
}
