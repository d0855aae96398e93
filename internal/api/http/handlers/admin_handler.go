package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/edu-portal/portal-identity/internal/api/dto"
	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/service"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// AdminHandler exposes the superadmin account-management endpoints.
type AdminHandler struct {
	identities *service.IdentityService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(identityService *service.IdentityService) *AdminHandler {
	return &AdminHandler{identities: identityService}
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	identities, err := h.identities.List(c.UserContext(), limit, offset)
	if err != nil {
		return err
	}

	users := make([]dto.IdentityResponse, 0, len(identities))
	for _, identity := range identities {
		users = append(users, dto.NewIdentityResponse(identity))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"users": users}})
}

// GetUser handles GET /api/admin/users/:id.
func (h *AdminHandler) GetUser(c *fiber.Ctx) error {
	identity, err := h.identities.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewIdentityResponse(identity)}})
}

// CreateUser handles POST /api/admin/users.
func (h *AdminHandler) CreateUser(c *fiber.Ctx) error {
	var req dto.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password are required", nil)
	}

	principal, _ := auth.PrincipalFromContext(c)
	identity, err := h.identities.Create(c.UserContext(), principal, service.CreateIdentityParams{
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

	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"user": dto.NewIdentityResponse(identity)}})
}

// UpdateUser handles PUT /api/admin/users/:id.
func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	var req dto.UpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	principal, _ := auth.PrincipalFromContext(c)
	identity, err := h.identities.Update(c.UserContext(), principal, c.Params("id"), service.UpdateIdentityParams{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		AssignedApps: req.AssignedApps,
		Status:       req.Status,
	}, clientMeta(c))
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"user": dto.NewIdentityResponse(identity)}})
}

// DeleteUser handles DELETE /api/admin/users/:id.
func (h *AdminHandler) DeleteUser(c *fiber.Ctx) error {
	principal, _ := auth.PrincipalFromContext(c)
	if err := h.identities.Delete(c.UserContext(), principal, c.Params("id"), clientMeta(c)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
