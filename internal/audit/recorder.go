// Package audit maintains the append-only security audit trail. Writes are
// best effort: a failed audit insert is logged to process logs and never
// fails the auth operation that produced it.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
	"github.com/edu-portal/portal-identity/internal/repository"
)

// Recorder appends audit entries and serves the read side used by the admin
// surface.
type Recorder struct {
	repo      repository.AuditRepository
	logger    *zap.Logger
	retention time.Duration
}

// NewRecorder builds a recorder with the given retention horizon. Entries
// older than the horizon become eligible for deletion.
func NewRecorder(repo repository.AuditRepository, logger *zap.Logger, retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Recorder{repo: repo, logger: logger, retention: retention}
}

// RegisterHandlers subscribes the recorder to every security event type.
func (r *Recorder) RegisterHandlers(dispatcher events.Dispatcher) {
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, r.handleEvent)
	}
}

func (r *Recorder) handleEvent(ctx context.Context, event events.Event) error {
	r.Record(ctx, domain.AuditEntry{
		ID:        event.ID,
		SubjectID: event.SubjectID,
		Action:    domain.AuditAction(event.Type),
		Level:     event.Level,
		Message:   event.Message,
		Details:   event.Details,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Timestamp: event.Timestamp,
	})
	return nil
}

// Record appends an entry. The write outlives the request context so a
// caller disconnect cannot leave the trail missing a decision that was made.
func (r *Recorder) Record(ctx context.Context, entry domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Level == "" {
		entry.Level = domain.AuditLevelInfo
	}

	if err := r.repo.Insert(context.WithoutCancel(ctx), &entry); err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", string(entry.Action)),
			zap.String("subject_id", entry.SubjectID),
			zap.Error(err))
	}
}

// Query returns entries matching the filter, newest first. Entries beyond
// the retention horizon are not guaranteed to be present.
func (r *Recorder) Query(ctx context.Context, filter repository.AuditFilter) ([]*domain.AuditEntry, error) {
	return r.repo.List(ctx, filter)
}

// PurgeExpired deletes entries older than the retention horizon.
func (r *Recorder) PurgeExpired(ctx context.Context) (int64, error) {
	return r.repo.DeleteOlderThan(ctx, time.Now().Add(-r.retention))
}
