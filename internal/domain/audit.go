package domain

import "time"

// AuditAction enumerates recorded security actions.
type AuditAction string

const (
	AuditActionLogin            AuditAction = "login"
	AuditActionLogout           AuditAction = "logout"
	AuditActionRegister         AuditAction = "register"
	AuditActionTokenRefresh     AuditAction = "token_refresh"
	AuditActionPermissionDenied AuditAction = "permission_denied"
	AuditActionTokenRejected    AuditAction = "token_rejected"
	AuditActionUserCreate       AuditAction = "user_create"
	AuditActionUserUpdate       AuditAction = "user_update"
	AuditActionUserDelete       AuditAction = "user_delete"
	AuditActionSystemError      AuditAction = "system_error"
)

// AuditLevel classifies the severity of an audit entry.
type AuditLevel string

const (
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelWarn  AuditLevel = "warn"
	AuditLevelError AuditLevel = "error"
)

// AuditEntry is an append-only record of a security-relevant event. Entries
// are never mutated after creation.
type AuditEntry struct {
	ID        string
	SubjectID string
	Action    AuditAction
	Level     AuditLevel
	Message   string
	Details   map[string]any
	IPAddress string
	UserAgent string
	Timestamp time.Time
}
