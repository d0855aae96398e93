package events

import (
	"time"

	"github.com/edu-portal/portal-identity/internal/domain"
)

// EventType enumerates supported security event identifiers. The values
// mirror the audit action names so subscribers can map one to the other
// directly.
type EventType string

const (
	EventLogin            EventType = EventType(domain.AuditActionLogin)
	EventLogout           EventType = EventType(domain.AuditActionLogout)
	EventRegister         EventType = EventType(domain.AuditActionRegister)
	EventTokenRefresh     EventType = EventType(domain.AuditActionTokenRefresh)
	EventPermissionDenied EventType = EventType(domain.AuditActionPermissionDenied)
	EventTokenRejected    EventType = EventType(domain.AuditActionTokenRejected)
	EventUserCreate       EventType = EventType(domain.AuditActionUserCreate)
	EventUserUpdate       EventType = EventType(domain.AuditActionUserUpdate)
	EventUserDelete       EventType = EventType(domain.AuditActionUserDelete)
	EventSystemError      EventType = EventType(domain.AuditActionSystemError)
)

// AllEventTypes lists every event type a catch-all subscriber should attach
// to.
var AllEventTypes = []EventType{
	EventLogin,
	EventLogout,
	EventRegister,
	EventTokenRefresh,
	EventPermissionDenied,
	EventTokenRejected,
	EventUserCreate,
	EventUserUpdate,
	EventUserDelete,
	EventSystemError,
}

// Event represents a security-relevant occurrence emitted by the auth core.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	SubjectID string            `json:"subject_id,omitempty"`
	Level     domain.AuditLevel `json:"level"`
	Message   string            `json:"message"`
	Details   map[string]any    `json:"details,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
