package dto

import (
	"time"

	"github.com/edu-portal/portal-identity/internal/domain"
)

// CreateUserRequest payload for the admin user-creation endpoint.
type CreateUserRequest struct {
	Email        string                 `json:"email"`
	Password     string                 `json:"password"`
	FirstName    string                 `json:"first_name"`
	LastName     string                 `json:"last_name"`
	Role         domain.Role            `json:"role"`
	AssignedApps []domain.ApplicationID `json:"assigned_apps"`
}

// UpdateUserRequest payload for partial account updates; absent fields are
// left unchanged.
type UpdateUserRequest struct {
	FirstName    *string                 `json:"first_name"`
	LastName     *string                 `json:"last_name"`
	Role         *domain.Role            `json:"role"`
	AssignedApps *[]domain.ApplicationID `json:"assigned_apps"`
	Status       *domain.IdentityStatus  `json:"status"`
}

// AuditEntryResponse is one row of the audit trail.
type AuditEntryResponse struct {
	ID        string             `json:"id"`
	SubjectID string             `json:"subject_id,omitempty"`
	Action    domain.AuditAction `json:"action"`
	Level     domain.AuditLevel  `json:"level"`
	Message   string             `json:"message"`
	Details   map[string]any     `json:"details,omitempty"`
	IPAddress string             `json:"ip_address,omitempty"`
	UserAgent string             `json:"user_agent,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewAuditEntryResponse maps a domain audit entry to its external shape.
func NewAuditEntryResponse(entry *domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:        entry.ID,
		SubjectID: entry.SubjectID,
		Action:    entry.Action,
		Level:     entry.Level,
		Message:   entry.Message,
		Details:   entry.Details,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Timestamp: entry.Timestamp,
	}
}
