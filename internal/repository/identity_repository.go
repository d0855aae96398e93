package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edu-portal/portal-identity/internal/domain"
)

// IdentityRepository defines persistence access for portal identities. The
// auth core treats it as read-only except for TouchLastLogin; the admin
// surface owns the mutations.
type IdentityRepository interface {
	Create(ctx context.Context, identity *domain.Identity) error
	Update(ctx context.Context, identity *domain.Identity) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Identity, error)
	CountByRole(ctx context.Context, role domain.Role) (int64, error)
	TouchLastLogin(ctx context.Context, id string) error
}

type identityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns a Postgres-backed implementation.
func NewIdentityRepository(pool *pgxpool.Pool) IdentityRepository {
	return &identityRepository{pool: pool}
}

func (r *identityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	const query = `
        INSERT INTO identities (email, password_hash, role, assigned_apps, first_name, last_name, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		identity.Email,
		identity.PasswordHash,
		identity.Role,
		appsToStrings(identity.AssignedApps),
		identity.FirstName,
		identity.LastName,
		identity.Status,
	).Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
}

func (r *identityRepository) Update(ctx context.Context, identity *domain.Identity) error {
	const query = `
        UPDATE identities
        SET email=$1, role=$2, assigned_apps=$3, first_name=$4, last_name=$5, status=$6, updated_at=NOW()
        WHERE id=$7`

	cmd, err := r.pool.Exec(ctx, query,
		identity.Email,
		identity.Role,
		appsToStrings(identity.AssignedApps),
		identity.FirstName,
		identity.LastName,
		identity.Status,
		identity.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *identityRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE identities SET password_hash=$1, updated_at=NOW() WHERE id=$2`

	cmd, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *identityRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM identities WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *identityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	const query = identitySelect + ` WHERE id=$1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *identityRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	const query = identitySelect + ` WHERE LOWER(email)=LOWER($1)`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *identityRepository) List(ctx context.Context, limit, offset int) ([]*domain.Identity, error) {
	const query = identitySelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []*domain.Identity
	for rows.Next() {
		identity, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (r *identityRepository) CountByRole(ctx context.Context, role domain.Role) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities WHERE role=$1`, role).Scan(&count)
	return count, err
}

func (r *identityRepository) TouchLastLogin(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE identities SET last_login=NOW() WHERE id=$1`, id)
	return err
}

const identitySelect = `
        SELECT id, email, password_hash, role, assigned_apps, first_name, last_name, status, last_login, created_at, updated_at
        FROM identities`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *identityRepository) scanOne(row rowScanner) (*domain.Identity, error) {
	var identity domain.Identity
	var apps []string
	if err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.PasswordHash,
		&identity.Role,
		&apps,
		&identity.FirstName,
		&identity.LastName,
		&identity.Status,
		&identity.LastLogin,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	identity.AssignedApps = stringsToApps(apps)
	return &identity, nil
}

func appsToStrings(apps []domain.ApplicationID) []string {
	out := make([]string, len(apps))
	for i, app := range apps {
		out[i] = string(app)
	}
	return out
}

func stringsToApps(raw []string) []domain.ApplicationID {
	out := make([]domain.ApplicationID, len(raw))
	for i, app := range raw {
		out[i] = domain.ApplicationID(app)
	}
	return out
}
