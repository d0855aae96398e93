package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/config"
	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
	"github.com/edu-portal/portal-identity/internal/ledger"
	"github.com/edu-portal/portal-identity/internal/repository"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// ClientMeta carries request origin info recorded with sessions and audit
// entries.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult bundles the authenticated identity with its freshly issued
// tokens.
type LoginResult struct {
	Identity  *domain.Identity
	SessionID string
	Tokens    TokenPair
}

// RegisterParams describes a self-service registration request.
type RegisterParams struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	Role         domain.Role
	AssignedApps []domain.ApplicationID
}

// AuthService coordinates login, verification, refresh rotation and session
// revocation.
type AuthService struct {
	identities repository.IdentityRepository
	sessions   ledger.SessionLedger
	codec      *auth.TokenCodec
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies encapsulates requirements for the auth service.
type AuthDependencies struct {
	IdentityRepo  repository.IdentityRepository
	SessionLedger ledger.SessionLedger
	Dispatcher    events.Dispatcher
	Logger        *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		identities: deps.IdentityRepo,
		sessions:   deps.SessionLedger,
		codec: auth.NewTokenCodec(
			cfg.Auth.AccessTokenSecret,
			cfg.Auth.RefreshTokenSecret,
			cfg.Auth.AccessTokenTTL(),
			cfg.Auth.RefreshTokenTTL(),
		),
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		bcryptCost: cfg.Auth.BcryptCost,
	}
}

// TokenCodec exposes the underlying codec for middleware usage.
func (s *AuthService) TokenCodec() *auth.TokenCodec {
	return s.codec
}

// Login authenticates an identity and opens a session. Unknown email, wrong
// password and inactive account all surface the same generic message; the
// audit trail keeps the precise reason.
func (s *AuthService) Login(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error) {
	identity, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.publishLoginFailure(ctx, "", email, "user_not_found", meta)
			return nil, apperrors.NewUnauthorized("invalid email or password")
		}
		return nil, apperrors.MapError(err)
	}
	if !identity.Active() {
		s.publishLoginFailure(ctx, identity.ID, email, "account_inactive", meta)
		return nil, apperrors.NewUnauthorized("invalid email or password")
	}
	if err := auth.ComparePassword(identity.PasswordHash, password); err != nil {
		s.publishLoginFailure(ctx, identity.ID, email, "invalid_password", meta)
		return nil, apperrors.NewUnauthorized("invalid email or password")
	}

	result, err := s.openSession(ctx, identity, meta)
	if err != nil {
		return nil, err
	}

	if err := s.identities.TouchLastLogin(ctx, identity.ID); err != nil {
		// Best effort; a failed lastLogin update never blocks the login.
		s.logger.Warn("last login update failed", zap.String("subject_id", identity.ID), zap.Error(err))
	}

	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventLogin,
		SubjectID: identity.ID,
		Level:     domain.AuditLevelInfo,
		Message:   "user logged in successfully",
		Details:   map[string]any{"session_id": result.SessionID},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return result, nil
}

// Register creates a new identity and logs it in. Duplicate email is a
// conflict, not an authentication failure.
func (s *AuthService) Register(ctx context.Context, params RegisterParams, meta ClientMeta) (*LoginResult, error) {
	if _, err := s.identities.GetByEmail(ctx, params.Email); err == nil {
		return nil, apperrors.NewConflict("user with this email already exists", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	role := params.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": params.Role})
	}

	hash, err := auth.HashPassword(params.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	identity := &domain.Identity{
		Email:        params.Email,
		PasswordHash: hash,
		Role:         role,
		AssignedApps: params.AssignedApps,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Status:       domain.IdentityStatusActive,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, apperrors.MapError(err)
	}

	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventRegister,
		SubjectID: identity.ID,
		Level:     domain.AuditLevelInfo,
		Message:   "user registered successfully",
		Details:   map[string]any{"role": identity.Role, "assigned_apps": identity.AssignedApps},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	// Registration auto-login opens the first session.
	return s.Login(ctx, params.Email, params.Password, meta)
}

// Verify checks an access token against both the codec and the session
// ledger. A cryptographically valid token whose session was revoked is
// rejected here.
func (s *AuthService) Verify(ctx context.Context, accessToken string) (*auth.Principal, error) {
	claims, err := s.codec.VerifyAccessToken(accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.NewUnauthorized("token expired")
		}
		return nil, apperrors.NewUnauthorized("invalid token")
	}

	session, err := s.sessions.FindByAccessFingerprint(ctx, auth.Fingerprint(accessToken))
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return nil, apperrors.NewUnauthorized("session revoked or expired")
		}
		return nil, apperrors.MapError(err)
	}

	return &auth.Principal{
		SubjectID:    claims.Subject,
		Email:        claims.Email,
		Role:         claims.Role,
		AssignedApps: claims.AssignedApps,
		SessionID:    session.ID,
	}, nil
}

// Refresh exchanges a still-valid refresh token for a new pair, making the
// old pair permanently unusable. Concurrent refreshes of the same token
// produce exactly one winner; the loser gets a conflict and must re-login.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*LoginResult, error) {
	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.publishRefreshFailure(ctx, "", refreshFailureReason(err), meta)
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.NewUnauthorized("refresh token expired")
		}
		return nil, apperrors.NewUnauthorized("invalid refresh token")
	}

	presentedFP := auth.Fingerprint(refreshToken)
	session, err := s.sessions.FindByRefreshFingerprint(ctx, presentedFP)
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			s.publishRefreshFailure(ctx, claims.Subject, "session_not_found", meta)
			return nil, apperrors.NewUnauthorized("invalid or expired refresh token")
		}
		return nil, apperrors.MapError(err)
	}

	identity, err := s.identities.GetByID(ctx, session.SubjectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.publishRefreshFailure(ctx, session.SubjectID, "identity_missing", meta)
			return nil, apperrors.NewUnauthorized("invalid or expired refresh token")
		}
		return nil, apperrors.MapError(err)
	}
	if !identity.Active() {
		s.publishRefreshFailure(ctx, identity.ID, "account_inactive", meta)
		return nil, apperrors.NewUnauthorized("invalid or expired refresh token")
	}

	newAccess, accessExp, err := s.codec.IssueAccessToken(identity, session.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	newRefresh, refreshExp, err := s.codec.IssueRefreshToken(identity.ID, session.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	_, err = s.sessions.Rotate(ctx, session.ID, ledger.RotateParams{
		PresentedRefreshFingerprint: presentedFP,
		NewAccessFingerprint:        auth.Fingerprint(newAccess),
		NewRefreshFingerprint:       auth.Fingerprint(newRefresh),
		NewAccessExpiresAt:          accessExp,
		NewRefreshExpiresAt:         refreshExp,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadyRotated):
			s.publishRefreshFailure(ctx, identity.ID, "refresh_token_replay", meta)
			return nil, apperrors.NewConflict("refresh token already used", nil)
		case errors.Is(err, ledger.ErrSessionNotFound):
			s.publishRefreshFailure(ctx, identity.ID, "session_not_found", meta)
			return nil, apperrors.NewUnauthorized("invalid or expired refresh token")
		default:
			return nil, apperrors.MapError(err)
		}
	}

	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventTokenRefresh,
		SubjectID: identity.ID,
		Level:     domain.AuditLevelInfo,
		Message:   "access token refreshed",
		Details:   map[string]any{"session_id": session.ID},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	return &LoginResult{
		Identity:  identity,
		SessionID: session.ID,
		Tokens: TokenPair{
			AccessToken:      newAccess,
			RefreshToken:     newRefresh,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
	}, nil
}

// Logout deactivates the session behind the presented access token. Replays
// of the old bearer value are rejected from then on, signature or not.
func (s *AuthService) Logout(ctx context.Context, accessToken string, meta ClientMeta) error {
	session, err := s.sessions.FindByAccessFingerprint(ctx, auth.Fingerprint(accessToken))
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			return apperrors.NewUnauthorized("invalid session")
		}
		return apperrors.MapError(err)
	}

	if err := s.sessions.Deactivate(ctx, session.ID); err != nil {
		return apperrors.MapError(err)
	}

	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventLogout,
		SubjectID: session.SubjectID,
		Level:     domain.AuditLevelInfo,
		Message:   "user logged out successfully",
		Details:   map[string]any{"session_id": session.ID},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// LogoutAll deactivates every session belonging to the subject. Sessions of
// other subjects are unaffected.
func (s *AuthService) LogoutAll(ctx context.Context, subjectID string, meta ClientMeta) error {
	if err := s.sessions.DeactivateAll(ctx, subjectID); err != nil {
		return apperrors.MapError(err)
	}

	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventLogout,
		SubjectID: subjectID,
		Level:     domain.AuditLevelInfo,
		Message:   "all sessions logged out",
		Details:   map[string]any{"scope": "logout_all"},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
	return nil
}

// EnsureBootstrapAdmin creates the initial superadmin account from config
// when none exists yet. Idempotent; called explicitly at startup.
func (s *AuthService) EnsureBootstrapAdmin(ctx context.Context, cfg config.BootstrapConfig) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		s.logger.Warn("bootstrap admin not configured; skipping")
		return nil
	}

	count, err := s.identities.CountByRole(ctx, domain.RoleSuperadmin)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword, s.bcryptCost)
	if err != nil {
		return err
	}

	admin := &domain.Identity{
		Email:        cfg.AdminEmail,
		PasswordHash: hash,
		Role:         domain.RoleSuperadmin,
		AssignedApps: []domain.ApplicationID{domain.AppRegion14, domain.AppRegion2, domain.AppDashboard},
		FirstName:    "Super",
		LastName:     "Admin",
		Status:       domain.IdentityStatusActive,
	}
	if err := s.identities.Create(ctx, admin); err != nil {
		return err
	}

	s.logger.Info("bootstrap superadmin created", zap.String("email", admin.Email))
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventUserCreate,
		SubjectID: admin.ID,
		Level:     domain.AuditLevelInfo,
		Message:   "bootstrap superadmin created",
		Details:   map[string]any{"source": "bootstrap"},
	})
	return nil
}

func (s *AuthService) openSession(ctx context.Context, identity *domain.Identity, meta ClientMeta) (*LoginResult, error) {
	sessionID := uuid.NewString()

	accessToken, accessExp, err := s.codec.IssueAccessToken(identity, sessionID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	refreshToken, refreshExp, err := s.codec.IssueRefreshToken(identity.ID, sessionID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if _, err := s.sessions.Create(ctx, ledger.CreateParams{
		SessionID:          sessionID,
		SubjectID:          identity.ID,
		AccessFingerprint:  auth.Fingerprint(accessToken),
		RefreshFingerprint: auth.Fingerprint(refreshToken),
		IPAddress:          meta.IPAddress,
		UserAgent:          meta.UserAgent,
		AccessExpiresAt:    accessExp,
		RefreshExpiresAt:   refreshExp,
	}); err != nil {
		return nil, apperrors.MapError(err)
	}

	return &LoginResult{
		Identity:  identity,
		SessionID: sessionID,
		Tokens: TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     refreshToken,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: refreshExp,
		},
	}, nil
}

func (s *AuthService) publishLoginFailure(ctx context.Context, subjectID, email, reason string, meta ClientMeta) {
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventLogin,
		SubjectID: subjectID,
		Level:     domain.AuditLevelWarn,
		Message:   "failed login attempt",
		Details:   map[string]any{"reason": reason, "email": email},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

func (s *AuthService) publishRefreshFailure(ctx context.Context, subjectID, reason string, meta ClientMeta) {
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      events.EventTokenRefresh,
		SubjectID: subjectID,
		Level:     domain.AuditLevelWarn,
		Message:   "token refresh rejected",
		Details:   map[string]any{"reason": reason},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

func refreshFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "refresh_token_expired"
	case errors.Is(err, auth.ErrWrongTokenType):
		return "wrong_token_type"
	default:
		return "refresh_token_malformed"
	}
}
