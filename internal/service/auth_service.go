package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	"github.com/spec-kit/community-hub/internal/auth"
	"github.com/spec-kit/community-hub/internal/config"
	"github.com/spec-kit/community-hub/internal/correlation"
	"github.com/spec-kit/community-hub/internal/domain"
	"github.com/spec-kit/community-hub/internal/events"
	"github.com/spec-kit/community-hub/internal/repository"
	"github.com/spec-kit/community-hub/internal/session"
	apperrors "github.com/spec-kit/community-hub/pkg/util"
)

const (
	maxPasswordLength = 128
	minUsernameLength = 3
	maxUsernameLength = 64
)

var _ auth.Authorizer = (*AuthService)(nil)

// AuthService is the authentication gateway: it turns credentials into
// sessions and sessions into authorization decisions.
type AuthService struct {
	users    repository.UserRepository
	sessions session.Store
	hasher   *auth.PasswordHasher
	throttle LoginThrottle
	events   events.Dispatcher
	logger   *zap.Logger
	clock    abtime.AbstractTime

	rehashLegacy      bool
	minPasswordLength int
	dummyHash         string
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Sessions   session.Store
	Throttle   LoginThrottle
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      abtime.AbstractTime
}

// RegisterInput carries a self-service sign-up.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     domain.Role
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) (*AuthService, error) {
	if deps.UserRepo == nil || deps.Sessions == nil {
		return nil, errors.New("auth service requires a user repository and a session store")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = abtime.NewRealTime()
	}
	if deps.Throttle == nil {
		deps.Throttle = NewMemoryThrottle(cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutWindow(), deps.Clock)
	}

	hasher := auth.NewPasswordHasher(cfg.Auth.SaltBytes)
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	minLen := cfg.Auth.MinPasswordLength
	if minLen <= 0 {
		minLen = 8
	}

	return &AuthService{
		users:             deps.UserRepo,
		sessions:          deps.Sessions,
		hasher:            hasher,
		throttle:          deps.Throttle,
		events:            deps.Dispatcher,
		logger:            deps.Logger,
		clock:             deps.Clock,
		rehashLegacy:      cfg.Auth.RehashLegacy,
		minPasswordLength: minLen,
		dummyHash:         dummyHash,
	}, nil
}

// Hasher exposes the credential hasher, e.g. for seeding accounts.
func (s *AuthService) Hasher() *auth.PasswordHasher {
	return s.hasher
}

// Login verifies credentials and opens a session. Unknown usernames and
// wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	log := correlation.Logger(ctx, s.logger)

	locked, err := s.throttle.Locked(ctx, username)
	if err != nil {
		log.Warn("login throttle check failed", zap.Error(err))
	}
	if locked {
		s.loginFailed(ctx, log, username, "locked")
		return nil, auth.NewError(auth.KindAccountLocked, "too many failed attempts", nil)
	}

	rec, found, err := s.users.FindCredential(ctx, username)
	if err != nil {
		log.Error("credential lookup failed", zap.Error(err))
		return nil, auth.NewError(auth.KindDirectoryUnavailable, "find credential", err)
	}
	if !found {
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return nil, s.rejectLogin(ctx, log, username, "unknown user")
	}

	ok, err := s.hasher.Verify(password, rec.EncodedHash)
	if err != nil {
		log.Error("stored credential is malformed", zap.String("subject", rec.SubjectID), zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, s.rejectLogin(ctx, log, username, "password mismatch")
	}

	user, found, err := s.users.FindByID(ctx, rec.SubjectID)
	if err != nil {
		log.Error("user lookup failed", zap.String("subject", rec.SubjectID), zap.Error(err))
		return nil, auth.NewError(auth.KindDirectoryUnavailable, "find user", err)
	}
	if !found || !user.Active() || !user.Role.Valid() {
		return nil, s.rejectLogin(ctx, log, username, "account not active")
	}

	if s.rehashLegacy && s.hasher.NeedsRehash(rec.EncodedHash) {
		s.rehash(ctx, log, user.ID, password)
	}

	if err := s.throttle.Reset(ctx, username); err != nil {
		log.Warn("login throttle reset failed", zap.Error(err))
	}

	sess, err := s.sessions.Create(ctx, user.ID, user.Role)
	if err != nil {
		log.Error("session create failed", zap.String("subject", user.ID), zap.Error(err))
		return nil, err
	}

	log.Info("login succeeded",
		zap.String("subject", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("token_prefix", session.TokenPrefix(sess.Token)))
	s.publish(ctx, events.EventLoginSucceeded, user.ID, events.LoginSucceededPayload{
		Role:        user.Role,
		TokenPrefix: session.TokenPrefix(sess.Token),
	})
	return sess, nil
}

func (s *AuthService) rejectLogin(ctx context.Context, log *zap.Logger, username, reason string) error {
	locked, err := s.throttle.Fail(ctx, username)
	if err != nil {
		log.Warn("login throttle update failed", zap.Error(err))
	}
	if locked {
		reason += "; account locked"
	}
	s.loginFailed(ctx, log, username, reason)
	return auth.NewError(auth.KindInvalidCredentials, reason, nil)
}

func (s *AuthService) loginFailed(ctx context.Context, log *zap.Logger, username, reason string) {
	log.Warn("login failed", zap.String("username", username), zap.String("reason", reason))
	s.publish(ctx, events.EventLoginFailed, domain.AnonymousSubject, events.LoginFailedPayload{
		Username: username,
		Reason:   reason,
	})
}

func (s *AuthService) rehash(ctx context.Context, log *zap.Logger, subjectID, password string) {
	encoded, err := s.hasher.Hash(password)
	if err != nil {
		log.Warn("legacy credential rehash failed", zap.String("subject", subjectID), zap.Error(err))
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, subjectID, encoded); err != nil {
		log.Warn("legacy credential rehash failed", zap.String("subject", subjectID), zap.Error(err))
		return
	}
	log.Info("legacy credential rehashed", zap.String("subject", subjectID))
	s.publish(ctx, events.EventCredentialRehashed, subjectID, nil)
}

// Authorize resolves token to its live session, checks req against it and
// records the activity.
func (s *AuthService) Authorize(ctx context.Context, token string, req auth.Requirement) (*domain.Session, error) {
	log := correlation.Logger(ctx, s.logger)

	sess, ok, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		log.Error("session lookup failed", zap.String("token_prefix", session.TokenPrefix(token)), zap.Error(err))
		return nil, err
	}
	if !ok {
		log.Info("session expired or unknown", zap.String("token_prefix", session.TokenPrefix(token)))
		return nil, auth.NewError(auth.KindSessionExpired, "no live session", nil)
	}

	if err := req.Check(sess); err != nil {
		log.Warn("access denied",
			zap.String("subject", sess.SubjectID),
			zap.String("role", string(sess.Role)),
			zap.Error(err))
		s.publish(ctx, events.EventAccessDenied, sess.SubjectID, events.AccessDeniedPayload{
			Role:     sess.Role,
			Required: describeRequirement(req),
			Reason:   string(auth.KindOf(err)),
		})
		return nil, err
	}

	refreshed, ok, err := s.sessions.Refresh(ctx, token)
	if err != nil {
		log.Error("session refresh failed", zap.String("token_prefix", session.TokenPrefix(token)), zap.Error(err))
		return nil, err
	}
	if !ok {
		return nil, auth.NewError(auth.KindSessionExpired, "session ended during refresh", nil)
	}
	return refreshed, nil
}

func describeRequirement(req auth.Requirement) string {
	parts := make([]string, 0, 2)
	if len(req.Roles) > 0 {
		roles := make([]string, len(req.Roles))
		for i, r := range req.Roles {
			roles[i] = string(r)
		}
		parts = append(parts, "roles="+strings.Join(roles, "|"))
	}
	if req.Capability != "" {
		parts = append(parts, "capability="+string(req.Capability))
	}
	if len(parts) == 0 {
		return "authenticated"
	}
	return strings.Join(parts, " ")
}

// Logout destroys the session for token. Unknown or expired tokens succeed.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	log := correlation.Logger(ctx, s.logger)

	subject := domain.AnonymousSubject
	if sess, ok, err := s.sessions.Lookup(ctx, token); err == nil && ok {
		subject = sess.SubjectID
	}
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		log.Error("session invalidate failed", zap.String("token_prefix", session.TokenPrefix(token)), zap.Error(err))
		return err
	}

	log.Info("logout", zap.String("token_prefix", session.TokenPrefix(token)))
	s.publish(ctx, events.EventLogout, subject, events.LogoutPayload{TokenPrefix: session.TokenPrefix(token)})
	return nil
}

// Register creates a Volunteer or Requester account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	details := map[string]any{}
	if n := utf8.RuneCountInString(username); n < minUsernameLength || n > maxUsernameLength {
		details["username"] = fmt.Sprintf("must be %d to %d characters", minUsernameLength, maxUsernameLength)
	}
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		details["email"] = "must be a valid address"
	}
	if msg := s.passwordProblem(in.Password); msg != "" {
		details["password"] = msg
	}
	role := in.Role
	if role == "" {
		role = domain.RoleRequester
	}
	if role != domain.RoleVolunteer && role != domain.RoleRequester {
		details["role"] = "must be VOLUNTEER or REQUESTER"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid registration", details)
	}

	exists, err := s.users.Exists(ctx, username, email)
	if err != nil {
		return nil, auth.NewError(auth.KindDirectoryUnavailable, "check existing user", err)
	}
	if exists {
		return nil, apperrors.NewConflict("username or email already registered", nil)
	}

	encoded, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: encoded,
		Role:         role,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, apperrors.NewConflict("username or email already registered", nil)
		}
		return nil, auth.NewError(auth.KindDirectoryUnavailable, "create user", err)
	}

	correlation.Logger(ctx, s.logger).Info("user registered",
		zap.String("subject", user.ID),
		zap.String("role", string(user.Role)))
	s.publish(ctx, events.EventUserRegistered, user.ID, events.UserRegisteredPayload{Role: user.Role})
	return user, nil
}

func (s *AuthService) passwordProblem(password string) string {
	n := utf8.RuneCountInString(password)
	if n < s.minPasswordLength || n > maxPasswordLength {
		return fmt.Sprintf("must be %d to %d characters", s.minPasswordLength, maxPasswordLength)
	}
	return ""
}

// ChangePassword replaces the subject's credential after verifying the
// current one, then ends every other session of the subject. It returns
// how many sessions were ended.
func (s *AuthService) ChangePassword(ctx context.Context, sess *domain.Session, currentPassword, newPassword string) (int, error) {
	if sess == nil {
		return 0, auth.NewError(auth.KindUnauthenticated, "no session", nil)
	}
	log := correlation.Logger(ctx, s.logger)

	user, found, err := s.users.FindByID(ctx, sess.SubjectID)
	if err != nil {
		return 0, auth.NewError(auth.KindDirectoryUnavailable, "find user", err)
	}
	if !found {
		return 0, auth.NewError(auth.KindInvalidCredentials, "subject no longer exists", nil)
	}

	ok, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Warn("password change rejected", zap.String("subject", user.ID))
		return 0, auth.NewError(auth.KindInvalidCredentials, "current password mismatch", nil)
	}
	if msg := s.passwordProblem(newPassword); msg != "" {
		return 0, apperrors.NewValidationError("invalid password", map[string]any{"new_password": msg})
	}

	encoded, err := s.hasher.Hash(newPassword)
	if err != nil {
		return 0, err
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, encoded); err != nil {
		return 0, auth.NewError(auth.KindDirectoryUnavailable, "update credential", err)
	}

	revoked, err := s.sessions.InvalidateSubject(ctx, user.ID, sess.Token)
	if err != nil {
		log.Error("revoking other sessions failed", zap.String("subject", user.ID), zap.Error(err))
		return revoked, err
	}

	log.Info("password changed", zap.String("subject", user.ID), zap.Int("sessions_revoked", revoked))
	s.publish(ctx, events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{SessionsRevoked: revoked})
	return revoked, nil
}

// Profile returns the account of subjectID.
func (s *AuthService) Profile(ctx context.Context, subjectID string) (*domain.User, error) {
	user, found, err := s.users.FindByID(ctx, subjectID)
	if err != nil {
		return nil, auth.NewError(auth.KindDirectoryUnavailable, "find user", err)
	}
	if !found {
		return nil, apperrors.NewNotFound("user", map[string]any{"id": subjectID})
	}
	return user, nil
}

// ActiveSessions returns the number of live sessions.
func (s *AuthService) ActiveSessions(ctx context.Context) (int, error) {
	return s.sessions.ActiveCount(ctx)
}

// SessionPolicy returns the expiry policy of the session store.
func (s *AuthService) SessionPolicy() session.Policy {
	return s.sessions.Policy()
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, subjectID string, payload interface{}) {
	if s.events == nil {
		return
	}
	event := events.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		SubjectID:     subjectID,
		CorrelationID: correlation.IDFromContext(ctx),
		Timestamp:     s.clock.Now(),
		Payload:       payload,
	}
	if err := s.events.Publish(ctx, event); err != nil {
		correlation.Logger(ctx, s.logger).Warn("event handler failed",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
