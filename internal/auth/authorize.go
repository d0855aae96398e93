package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// Authorize decides whether the principal passes the role and application
// requirements. Superadmins pass every check regardless of their own
// assignments. Empty requirement sets impose no constraint.
func Authorize(p *Principal, requiredRoles []domain.Role, requiredApps []domain.ApplicationID) error {
	if p == nil {
		return apperrors.NewUnauthorized("authentication required")
	}

	if len(requiredRoles) > 0 && p.Role != domain.RoleSuperadmin {
		allowed := false
		for _, role := range requiredRoles {
			if p.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperrors.NewForbidden("insufficient role permissions")
		}
	}

	if len(requiredApps) > 0 && p.Role != domain.RoleSuperadmin {
		allowed := false
		for _, required := range requiredApps {
			for _, assigned := range p.AssignedApps {
				if assigned == required {
					allowed = true
					break
				}
			}
		}
		if !allowed {
			return apperrors.NewForbidden("application access denied")
		}
	}

	return nil
}

// RequireRoles ensures the principal holds one of the allowed roles.
// Denials are always audited with the offending role.
func RequireRoles(dispatcher events.Dispatcher, allowed ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if err := Authorize(principal, allowed, nil); err != nil {
			publishDenial(c, dispatcher, principal, map[string]any{
				"user_role":      principal.Role,
				"required_roles": allowed,
			})
			return err
		}
		return c.Next()
	}
}

// RequireApplications ensures the principal may enter one of the given
// applications. Denials are always audited with the offending app set.
func RequireApplications(dispatcher events.Dispatcher, apps ...domain.ApplicationID) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if err := Authorize(principal, nil, apps); err != nil {
			publishDenial(c, dispatcher, principal, map[string]any{
				"user_apps":     principal.AssignedApps,
				"required_apps": apps,
			})
			return err
		}
		return c.Next()
	}
}

func publishDenial(c *fiber.Ctx, dispatcher events.Dispatcher, principal *Principal, details map[string]any) {
	details["path"] = c.Path()
	details["method"] = c.Method()
	_ = dispatcher.Publish(c.UserContext(), events.Event{
		Type:      events.EventPermissionDenied,
		SubjectID: principal.SubjectID,
		Level:     domain.AuditLevelWarn,
		Message:   "access denied - insufficient permissions",
		Details:   details,
		IPAddress: c.IP(),
		UserAgent: c.Get("User-Agent"),
	})
}
