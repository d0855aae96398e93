package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/edu-portal/portal-identity/internal/domain"
)

// Typed verification failures. Expiry is distinguished from structural
// failure so callers can decide whether a refresh attempt makes sense.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrWrongTokenType = errors.New("wrong token type")
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenCodec issues and verifies the two token classes. Access and refresh
// tokens are signed with distinct secrets so one can never stand in for the
// other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenCodec builds a codec from the configured secrets and TTLs.
func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// AccessClaims describes the access token payload.
type AccessClaims struct {
	Email        string                 `json:"email"`
	Role         domain.Role            `json:"role"`
	AssignedApps []domain.ApplicationID `json:"app_access"`
	SessionID    string                 `json:"session_id"`
	TokenType    string                 `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshClaims describes the refresh token payload. It carries only what
// the refresh flow needs.
type RefreshClaims struct {
	SessionID string `json:"session_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// AccessTTL returns the configured access token lifetime.
func (tc *TokenCodec) AccessTTL() time.Duration { return tc.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (tc *TokenCodec) RefreshTTL() time.Duration { return tc.refreshTTL }

// IssueAccessToken signs a short-lived access token embedding full identity
// claims.
func (tc *TokenCodec) IssueAccessToken(identity *domain.Identity, sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tc.accessTTL)
	claims := &AccessClaims{
		Email:        identity.Email,
		Role:         identity.Role,
		AssignedApps: identity.AssignedApps,
		SessionID:    sessionID,
		TokenType:    tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken signs a longer-lived refresh token carrying only the
// subject and session identifiers.
func (tc *TokenCodec) IssueRefreshToken(subjectID, sessionID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tc.refreshTTL)
	claims := &RefreshClaims{
		SessionID: sessionID,
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subjectID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tc.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken validates signature, expiry and type of an access token.
func (tc *TokenCodec) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, tc.keyFunc(tc.accessSecret))
	if err != nil {
		return nil, mapJWTError(err)
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyRefreshToken validates signature, expiry and type of a refresh token.
func (tc *TokenCodec) VerifyRefreshToken(tokenStr string) (*RefreshClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &RefreshClaims{}, tc.keyFunc(tc.refreshSecret))
	if err != nil {
		return nil, mapJWTError(err)
	}
	claims, ok := parsed.Claims.(*RefreshClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (tc *TokenCodec) keyFunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return ErrTokenMalformed
}
