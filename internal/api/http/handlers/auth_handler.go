package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/edu-portal/portal-identity/internal/api/dto"
	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/service"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// AuthHandler exposes the authentication endpoints.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password are required", nil)
	}

	result, err := h.auth.Login(c.UserContext(), req.Email, req.Password, clientMeta(c))
	if err != nil {
		return err
	}

	setAuthCookies(c, result)
	return c.JSON(fiber.Map{
		"data": dto.AuthResponse{
			User: dto.NewIdentityResponse(result.Identity),
			Tokens: dto.TokensResponse{
				AccessToken:     result.Tokens.AccessToken,
				RefreshToken:    result.Tokens.RefreshToken,
				AccessExpiresAt: result.Tokens.AccessExpiresAt,
			},
		},
	})
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password are required", nil)
	}
	if len(req.Password) < 6 {
		return apperrors.NewValidationError("password must be at least 6 characters long", nil)
	}

	result, err := h.auth.Register(c.UserContext(), service.RegisterParams{
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		AssignedApps: req.AssignedApps,
	}, clientMeta(c))
	if err != nil {
		return err
	}

	setAuthCookies(c, result)
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": dto.AuthResponse{
			User: dto.NewIdentityResponse(result.Identity),
			Tokens: dto.TokensResponse{
				AccessToken:     result.Tokens.AccessToken,
				RefreshToken:    result.Tokens.RefreshToken,
				AccessExpiresAt: result.Tokens.AccessExpiresAt,
			},
		},
	})
}

// Verify handles GET /api/auth/verify. Invalid tokens are a negative
// verification result, not a transport error.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token := auth.ExtractBearer(c)
	if token == "" {
		return c.JSON(dto.VerifyResponse{Valid: false, Message: "access token required"})
	}

	principal, err := h.auth.Verify(c.UserContext(), token)
	if err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) && domainErr.HTTPStatus == http.StatusUnauthorized {
			return c.JSON(dto.VerifyResponse{Valid: false, Message: domainErr.Message})
		}
		return err
	}

	return c.JSON(dto.VerifyResponse{
		Valid: true,
		Identity: &dto.IdentityResponse{
			ID:           principal.SubjectID,
			Email:        principal.Email,
			Role:         principal.Role,
			AssignedApps: principal.AssignedApps,
		},
	})
}

// Refresh handles POST /api/auth/refresh. The token may come from the body
// or the refresh_token cookie.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	_ = c.BodyParser(&req)
	token := req.RefreshToken
	if token == "" {
		token = c.Cookies(auth.RefreshTokenCookie)
	}
	if token == "" {
		return apperrors.NewValidationError("refresh token is required", nil)
	}

	result, err := h.auth.Refresh(c.UserContext(), token, clientMeta(c))
	if err != nil {
		return err
	}

	setAuthCookies(c, result)
	return c.JSON(fiber.Map{
		"data": dto.AuthResponse{
			User: dto.NewIdentityResponse(result.Identity),
			Tokens: dto.TokensResponse{
				AccessToken:     result.Tokens.AccessToken,
				RefreshToken:    result.Tokens.RefreshToken,
				AccessExpiresAt: result.Tokens.AccessExpiresAt,
			},
		},
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := auth.ExtractBearer(c)
	if token == "" {
		return apperrors.NewValidationError("no active session found", nil)
	}

	if err := h.auth.Logout(c.UserContext(), token, clientMeta(c)); err != nil {
		return err
	}

	clearAuthCookies(c)
	return c.JSON(fiber.Map{"success": true, "message": "logout successful"})
}

// LogoutAll handles POST /api/auth/logout-all. It revokes every session of
// the authenticated caller.
func (h *AuthHandler) LogoutAll(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	if err := h.auth.LogoutAll(c.UserContext(), principal.SubjectID, clientMeta(c)); err != nil {
		return err
	}

	clearAuthCookies(c)
	return c.JSON(fiber.Map{"success": true, "message": "all sessions logged out"})
}

func clientMeta(c *fiber.Ctx) service.ClientMeta {
	return service.ClientMeta{
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	}
}

func setAuthCookies(c *fiber.Ctx, result *service.LoginResult) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.AuthTokenCookie,
		Value:    result.Tokens.AccessToken,
		Expires:  result.Tokens.AccessExpiresAt,
		HTTPOnly: true,
		SameSite: "Strict",
		Path:     "/",
	})
	c.Cookie(&fiber.Cookie{
		Name:     auth.RefreshTokenCookie,
		Value:    result.Tokens.RefreshToken,
		Expires:  result.Tokens.RefreshExpiresAt,
		HTTPOnly: true,
		SameSite: "Strict",
		Path:     "/",
	})
}

func clearAuthCookies(c *fiber.Ctx) {
	expired := time.Now().Add(-time.Hour)
	for _, name := range []string{auth.AuthTokenCookie, auth.RefreshTokenCookie} {
		c.Cookie(&fiber.Cookie{
			Name:     name,
			Value:    "",
			Expires:  expired,
			HTTPOnly: true,
			SameSite: "Strict",
			Path:     "/",
		})
	}
}
