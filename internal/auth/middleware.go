package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
	"github.com/edu-portal/portal-identity/internal/ledger"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

const principalKey = "auth_principal"

// AuthTokenCookie is the first-party cookie carrying the access token.
const AuthTokenCookie = "auth_token"

// RefreshTokenCookie is the first-party cookie carrying the refresh token.
const RefreshTokenCookie = "refresh_token"

// Principal represents the authenticated caller, built from verified access
// token claims.
type Principal struct {
	SubjectID    string
	Email        string
	Role         domain.Role
	AssignedApps []domain.ApplicationID
	SessionID    string
}

// AuthMiddleware validates bearer tokens against the codec and the session
// ledger and loads the principal into the request context. Signature
// validity alone is never sufficient: a revoked session rejects the request
// even when the token still verifies cryptographically.
type AuthMiddleware struct {
	codec      *TokenCodec
	sessions   ledger.SessionLedger
	dispatcher events.Dispatcher
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(codec *TokenCodec, sessions ledger.SessionLedger, dispatcher events.Dispatcher) *AuthMiddleware {
	return &AuthMiddleware{codec: codec, sessions: sessions, dispatcher: dispatcher}
}

// ExtractBearer pulls the access token from the Authorization header or the
// auth_token cookie. The header takes precedence when both are present.
func ExtractBearer(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return c.Cookies(AuthTokenCookie)
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token := ExtractBearer(c)
	if token == "" {
		return apperrors.NewUnauthorized("access token required")
	}

	claims, err := m.codec.VerifyAccessToken(token)
	if err != nil {
		m.publishRejection(c, "", rejectionReason(err))
		if errors.Is(err, ErrTokenExpired) {
			return apperrors.NewUnauthorized("token expired")
		}
		return apperrors.NewUnauthorized("invalid token")
	}

	session, err := m.sessions.FindByAccessFingerprint(c.UserContext(), Fingerprint(token))
	if err != nil {
		if errors.Is(err, ledger.ErrSessionNotFound) {
			m.publishRejection(c, claims.Subject, "session_revoked_or_expired")
			return apperrors.NewUnauthorized("session revoked or expired")
		}
		return apperrors.MapError(err)
	}

	c.Locals(principalKey, &Principal{
		SubjectID:    claims.Subject,
		Email:        claims.Email,
		Role:         claims.Role,
		AssignedApps: claims.AssignedApps,
		SessionID:    session.ID,
	})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

func (m *AuthMiddleware) publishRejection(c *fiber.Ctx, subjectID, reason string) {
	_ = m.dispatcher.Publish(c.UserContext(), events.Event{
		Type:      events.EventTokenRejected,
		SubjectID: subjectID,
		Level:     domain.AuditLevelWarn,
		Message:   "bearer token rejected",
		Details: map[string]any{
			"reason": reason,
			"path":   c.Path(),
			"method": c.Method(),
		},
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	})
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrWrongTokenType):
		return "wrong_token_type"
	default:
		return "token_malformed"
	}
}
