package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
	"github.com/edu-portal/portal-identity/internal/ledger"
	"github.com/edu-portal/portal-identity/internal/repository"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// IdentityService backs the superadmin account-management surface. It owns
// the identity mutations the auth core itself never performs.
type IdentityService struct {
	identities repository.IdentityRepository
	sessions   ledger.SessionLedger
	dispatcher events.Dispatcher
	bcryptCost int
}

// NewIdentityService builds the service.
func NewIdentityService(identities repository.IdentityRepository, sessions ledger.SessionLedger, dispatcher events.Dispatcher, bcryptCost int) *IdentityService {
	return &IdentityService{
		identities: identities,
		sessions:   sessions,
		dispatcher: dispatcher,
		bcryptCost: bcryptCost,
	}
}

// CreateParams describes an admin-created account.
type CreateIdentityParams struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	Role         domain.Role
	AssignedApps []domain.ApplicationID
}

// UpdateIdentityParams carries mutable account fields. Nil pointers leave
// the current value untouched.
type UpdateIdentityParams struct {
	FirstName    *string
	LastName     *string
	Role         *domain.Role
	AssignedApps *[]domain.ApplicationID
	Status       *domain.IdentityStatus
}

// List returns identities ordered by creation time, newest first.
func (s *IdentityService) List(ctx context.Context, limit, offset int) ([]*domain.Identity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	identities, err := s.identities.List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return identities, nil
}

// Get fetches one identity by id.
func (s *IdentityService) Get(ctx context.Context, id string) (*domain.Identity, error) {
	identity, err := s.identities.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return identity, nil
}

// Create provisions a new account on behalf of an administrator.
func (s *IdentityService) Create(ctx context.Context, actor *auth.Principal, params CreateIdentityParams, meta ClientMeta) (*domain.Identity, error) {
	if _, err := s.identities.GetByEmail(ctx, params.Email); err == nil {
		return nil, apperrors.NewConflict("user with this email already exists", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	role := params.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": params.Role})
	}

	hash, err := auth.HashPassword(params.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	identity := &domain.Identity{
		Email:        params.Email,
		PasswordHash: hash,
		Role:         role,
		AssignedApps: params.AssignedApps,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Status:       domain.IdentityStatusActive,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.EventUserCreate, actor, "user account created", map[string]any{
		"target_id": identity.ID,
		"role":      identity.Role,
	}, meta)
	return identity, nil
}

// Update mutates an account. Deactivating an account also revokes its
// sessions so existing tokens stop working immediately.
func (s *IdentityService) Update(ctx context.Context, actor *auth.Principal, id string, params UpdateIdentityParams, meta ClientMeta) (*domain.Identity, error) {
	identity, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.FirstName != nil {
		identity.FirstName = *params.FirstName
	}
	if params.LastName != nil {
		identity.LastName = *params.LastName
	}
	if params.Role != nil {
		if !params.Role.Valid() {
			return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": *params.Role})
		}
		identity.Role = *params.Role
	}
	if params.AssignedApps != nil {
		identity.AssignedApps = *params.AssignedApps
	}
	deactivated := false
	if params.Status != nil {
		deactivated = identity.Status == domain.IdentityStatusActive && *params.Status == domain.IdentityStatusInactive
		identity.Status = *params.Status
	}

	if err := s.identities.Update(ctx, identity); err != nil {
		return nil, apperrors.MapError(err)
	}
	if deactivated {
		if err := s.sessions.DeactivateAll(ctx, identity.ID); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	s.publish(ctx, events.EventUserUpdate, actor, "user account updated", map[string]any{
		"target_id":   identity.ID,
		"deactivated": deactivated,
	}, meta)
	return identity, nil
}

// Delete removes an account and revokes all of its sessions.
func (s *IdentityService) Delete(ctx context.Context, actor *auth.Principal, id string, meta ClientMeta) error {
	if err := s.identities.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("user", map[string]any{"id": id})
		}
		return apperrors.MapError(err)
	}
	if err := s.sessions.DeactivateAll(ctx, id); err != nil {
		return apperrors.MapError(err)
	}

	s.publish(ctx, events.EventUserDelete, actor, "user account deleted", map[string]any{
		"target_id": id,
	}, meta)
	return nil
}

func (s *IdentityService) publish(ctx context.Context, eventType events.EventType, actor *auth.Principal, message string, details map[string]any, meta ClientMeta) {
	actorID := ""
	if actor != nil {
		actorID = actor.SubjectID
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		Type:      eventType,
		SubjectID: actorID,
		Level:     domain.AuditLevelInfo,
		Message:   message,
		Details:   details,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}
