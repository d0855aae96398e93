package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edu-portal/portal-identity/internal/domain"
)

// AuditFilter narrows audit queries. Zero values mean "no constraint".
type AuditFilter struct {
	SubjectID string
	Action    domain.AuditAction
	Level     domain.AuditLevel
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
}

// AuditRepository persists the append-only security audit trail. Entries are
// inserted and eventually purged; never updated.
type AuditRepository interface {
	Insert(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]*domain.AuditEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns a Postgres-backed implementation.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_log (id, subject_id, action, level, message, details, ip_address, user_agent, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		nullable(entry.SubjectID),
		entry.Action,
		entry.Level,
		entry.Message,
		entry.Details,
		nullable(entry.IPAddress),
		nullable(entry.UserAgent),
		entry.Timestamp,
	)
	return err
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]*domain.AuditEntry, error) {
	query := `
        SELECT id, COALESCE(subject_id, ''), action, level, message, details,
               COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
        FROM audit_log WHERE 1=1`
	args := []any{}

	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		query += ` AND subject_id=` + placeholder(len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += ` AND action=` + placeholder(len(args))
	}
	if filter.Level != "" {
		args = append(args, filter.Level)
		query += ` AND level=` + placeholder(len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += ` AND created_at >= ` + placeholder(len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += ` AND created_at <= ` + placeholder(len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT ` + placeholder(len(args))
	args = append(args, filter.Offset)
	query += ` OFFSET ` + placeholder(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.SubjectID,
			&entry.Action,
			&entry.Level,
			&entry.Message,
			&entry.Details,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (r *auditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
