package dto

import (
	"time"

	"github.com/edu-portal/portal-identity/internal/domain"
)

// LoginRequest payload for login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest payload for self-service registration.
type RegisterRequest struct {
	Email        string                 `json:"email"`
	Password     string                 `json:"password"`
	FirstName    string                 `json:"first_name"`
	LastName     string                 `json:"last_name"`
	Role         domain.Role            `json:"role"`
	AssignedApps []domain.ApplicationID `json:"assigned_apps"`
}

// RefreshRequest payload for token refresh. The cookie fallback makes the
// body optional.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// IdentityResponse is the externally visible account shape. Password hashes
// never leave the service.
type IdentityResponse struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	Role         domain.Role            `json:"role"`
	AssignedApps []domain.ApplicationID `json:"assigned_apps"`
	FirstName    string                 `json:"first_name,omitempty"`
	LastName     string                 `json:"last_name,omitempty"`
	Status       domain.IdentityStatus  `json:"status,omitempty"`
	LastLogin    *time.Time             `json:"last_login,omitempty"`
}

// TokensResponse carries an issued token pair.
type TokensResponse struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

// AuthResponse is the standard response for login/register/refresh.
type AuthResponse struct {
	User   IdentityResponse `json:"user"`
	Tokens TokensResponse   `json:"tokens"`
}

// VerifyResponse reports token validity.
type VerifyResponse struct {
	Valid    bool              `json:"valid"`
	Identity *IdentityResponse `json:"identity,omitempty"`
	Message  string            `json:"message,omitempty"`
}

// NewIdentityResponse maps a domain identity to its external shape.
func NewIdentityResponse(identity *domain.Identity) IdentityResponse {
	return IdentityResponse{
		ID:           identity.ID,
		Email:        identity.Email,
		Role:         identity.Role,
		AssignedApps: identity.AssignedApps,
		FirstName:    identity.FirstName,
		LastName:     identity.LastName,
		Status:       identity.Status,
		LastLogin:    identity.LastLogin,
	}
}
