// Package ledger is the source of truth for whether an issued token pair is
// still usable. A token can be cryptographically valid and still be rejected
// here because its session was revoked or rotated away.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/edu-portal/portal-identity/internal/domain"
)

var (
	// ErrSessionNotFound covers absent, inactive and expired sessions alike.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyRotated is returned to the loser of a concurrent rotation
	// race. It must surface to the caller as a hard failure.
	ErrAlreadyRotated = errors.New("session already rotated")
	// ErrInvalidExpiry marks a construction attempt with a non-future
	// expiry. This is a programming error, never clamped.
	ErrInvalidExpiry = errors.New("session expiry must be in the future")
)

// CreateParams carries everything needed to open a session. SessionID lets
// the caller mint the id up front so token claims can embed it; when empty a
// random id is assigned.
type CreateParams struct {
	SessionID          string
	SubjectID          string
	AccessFingerprint  string
	RefreshFingerprint string
	IPAddress          string
	UserAgent          string
	AccessExpiresAt    time.Time
	RefreshExpiresAt   time.Time
}

// RotateParams describes a rotate-on-use exchange. PresentedRefreshFingerprint
// is the compare value of the CAS: rotation succeeds only while it still
// matches the stored refresh fingerprint.
type RotateParams struct {
	PresentedRefreshFingerprint string
	NewAccessFingerprint        string
	NewRefreshFingerprint       string
	NewAccessExpiresAt          time.Time
	NewRefreshExpiresAt         time.Time
}

// SessionLedger records issued token pairs and their revocation state.
type SessionLedger interface {
	Create(ctx context.Context, params CreateParams) (*domain.Session, error)
	FindByAccessFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error)
	FindByRefreshFingerprint(ctx context.Context, fingerprint string) (*domain.Session, error)
	Rotate(ctx context.Context, sessionID string, params RotateParams) (*domain.Session, error)
	Deactivate(ctx context.Context, sessionID string) error
	DeactivateAll(ctx context.Context, subjectID string) error
	SweepExpired(ctx context.Context) (int, error)
}
