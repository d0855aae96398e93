package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/edu-portal/portal-identity/internal/api/dto"
	"github.com/edu-portal/portal-identity/internal/audit"
	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/repository"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// AuditHandler exposes the audit trail read side to superadmins.
type AuditHandler struct {
	recorder *audit.Recorder
}

// NewAuditHandler constructs handler.
func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// ListEntries handles GET /api/admin/audit-logs.
func (h *AuditHandler) ListEntries(c *fiber.Ctx) error {
	filter := repository.AuditFilter{
		SubjectID: c.Query("subject_id"),
		Action:    domain.AuditAction(c.Query("action")),
		Level:     domain.AuditLevel(c.Query("level")),
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.NewValidationError("invalid since timestamp", map[string]any{"since": raw})
		}
		filter.Since = since
	}
	if raw := c.Query("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return apperrors.NewValidationError("invalid until timestamp", map[string]any{"until": raw})
		}
		filter.Until = until
	}

	entries, err := h.recorder.Query(c.UserContext(), filter)
	if err != nil {
		return apperrors.MapError(err)
	}

	logs := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		logs = append(logs, dto.NewAuditEntryResponse(entry))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"logs": logs}})
}
