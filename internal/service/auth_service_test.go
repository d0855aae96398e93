package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/config"
	"github.com/edu-portal/portal-identity/internal/domain"
	"github.com/edu-portal/portal-identity/internal/events"
	"github.com/edu-portal/portal-identity/internal/ledger"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

// fakeIdentityRepo keeps identities in memory and mirrors the repository's
// pgx.ErrNoRows contract.
type fakeIdentityRepo struct {
	mu        sync.Mutex
	byID      map[string]*domain.Identity
	createErr error
	calls     struct {
		touchLastLogin int
	}
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{byID: map[string]*domain.Identity{}}
}

func (r *fakeIdentityRepo) Create(_ context.Context, identity *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.CreatedAt = time.Now()
	identity.UpdatedAt = identity.CreatedAt
	copied := *identity
	r.byID[identity.ID] = &copied
	return nil
}

func (r *fakeIdentityRepo) Update(_ context.Context, identity *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[identity.ID]; !ok {
		return pgx.ErrNoRows
	}
	copied := *identity
	r.byID[identity.ID] = &copied
	return nil
}

func (r *fakeIdentityRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	identity.PasswordHash = passwordHash
	return nil
}

func (r *fakeIdentityRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeIdentityRepo) GetByID(_ context.Context, id string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *identity
	return &copied, nil
}

func (r *fakeIdentityRepo) GetByEmail(_ context.Context, email string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, identity := range r.byID {
		if strings.EqualFold(identity.Email, email) {
			copied := *identity
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeIdentityRepo) List(_ context.Context, limit, offset int) ([]*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Identity
	for _, identity := range r.byID {
		copied := *identity
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeIdentityRepo) CountByRole(_ context.Context, role domain.Role) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, identity := range r.byID {
		if identity.Role == role {
			count++
		}
	}
	return count, nil
}

func (r *fakeIdentityRepo) TouchLastLogin(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	now := time.Now()
	identity.LastLogin = &now
	r.calls.touchLastLogin++
	return nil
}

// eventSink captures every published security event.
type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) attach(dispatcher events.Dispatcher) {
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.events = append(s.events, event)
			return nil
		})
	}
}

func (s *eventSink) lastOfType(eventType events.EventType) (events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == eventType {
			return s.events[i], true
		}
	}
	return events.Event{}, false
}

type authFixture struct {
	service *AuthService
	repo    *fakeIdentityRepo
	sink    *eventSink
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newFakeIdentityRepo()
	dispatcher := events.NewInMemoryDispatcher()
	sink := &eventSink{}
	sink.attach(dispatcher)

	cfg := config.Config{
		Auth: config.AuthConfig{
			AccessTokenSecret:      "test-access-secret",
			RefreshTokenSecret:     "test-refresh-secret",
			AccessTokenTTLMinutes:  15,
			RefreshTokenTTLMinutes: 7 * 24 * 60,
			BcryptCost:             4,
		},
	}

	service := NewAuthService(cfg, AuthDependencies{
		IdentityRepo:  repo,
		SessionLedger: ledger.NewRedisLedger(client),
		Dispatcher:    dispatcher,
		Logger:        zap.NewNop(),
	})
	return &authFixture{service: service, repo: repo, sink: sink}
}

func (f *authFixture) seedIdentity(t *testing.T, email, password string, role domain.Role, status domain.IdentityStatus) *domain.Identity {
	t.Helper()
	hash, err := auth.HashPassword(password, 4)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	identity := &domain.Identity{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		AssignedApps: []domain.ApplicationID{domain.AppRegion14},
		FirstName:    "Test",
		LastName:     "User",
		Status:       status,
	}
	if err := f.repo.Create(context.Background(), identity); err != nil {
		t.Fatalf("seed identity: %v", err)
	}
	return identity
}

func domainErrorCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}

func TestLoginSuccess(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedIdentity(t, "jane@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)

	result, err := f.service.Login(ctx, "jane@example.com", "hunter22", ClientMeta{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if result.SessionID == "" {
		t.Fatal("expected a session id")
	}

	principal, err := f.service.Verify(ctx, result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify after login: %v", err)
	}
	if principal.SubjectID != result.Identity.ID {
		t.Fatalf("expected subject %s, got %s", result.Identity.ID, principal.SubjectID)
	}
	if principal.SessionID != result.SessionID {
		t.Fatalf("expected session %s, got %s", result.SessionID, principal.SessionID)
	}

	if f.repo.calls.touchLastLogin != 1 {
		t.Fatalf("expected last login touched once, got %d", f.repo.calls.touchLastLogin)
	}
	event, ok := f.sink.lastOfType(events.EventLogin)
	if !ok {
		t.Fatal("expected a login event")
	}
	if event.Level != domain.AuditLevelInfo {
		t.Fatalf("expected info level login event, got %s", event.Level)
	}
}

func TestLoginFailuresShareGenericMessage(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedIdentity(t, "jane@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)
	f.seedIdentity(t, "gone@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusInactive)

	tests := []struct {
		name       string
		email      string
		password   string
		wantReason string
	}{
		{"unknown email", "nobody@example.com", "hunter22", "user_not_found"},
		{"wrong password", "jane@example.com", "wrong", "invalid_password"},
		{"inactive account", "gone@example.com", "hunter22", "account_inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Login(ctx, tt.email, tt.password, ClientMeta{})
			if err == nil {
				t.Fatal("expected login failure")
			}
			if code := domainErrorCode(t, err); code != "UNAUTHORIZED" {
				t.Fatalf("expected UNAUTHORIZED, got %s", code)
			}
			// The external message never reveals which check failed.
			var domainErr *apperrors.DomainError
			errors.As(err, &domainErr)
			if domainErr.Message != "invalid email or password" {
				t.Fatalf("expected generic message, got %q", domainErr.Message)
			}

			event, ok := f.sink.lastOfType(events.EventLogin)
			if !ok {
				t.Fatal("expected a login failure event")
			}
			if event.Level != domain.AuditLevelWarn {
				t.Fatalf("expected warn level, got %s", event.Level)
			}
			if reason := event.Details["reason"]; reason != tt.wantReason {
				t.Fatalf("expected audit reason %q, got %v", tt.wantReason, reason)
			}
		})
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.Verify(context.Background(), "not-a-token")
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if code := domainErrorCode(t, err); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedIdentity(t, "jane@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)

	result, err := f.service.Login(ctx, "jane@example.com", "hunter22", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.service.Logout(ctx, result.Tokens.AccessToken, ClientMeta{}); err != nil {
		t.Fatalf("logout: %v", err)
	}

	// The token is still cryptographically valid but its session is gone.
	if _, err := f.service.Verify(ctx, result.Tokens.AccessToken); err == nil {
		t.Fatal("expected verification to fail after logout")
	}

	// Logging out again with the same dead token is rejected.
	if err := f.service.Logout(ctx, result.Tokens.AccessToken, ClientMeta{}); err == nil {
		t.Fatal("expected repeat logout to fail")
	}
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.seedIdentity(t, "jane@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)

	login, err := f.service.Login(ctx, "jane@example.com", "hunter22", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := f.service.Refresh(ctx, login.Tokens.RefreshToken, ClientMeta{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.SessionID != login.SessionID {
		t.Fatalf("refresh must keep the session id, got %s", refreshed.SessionID)
	}
	if refreshed.Tokens.AccessToken == login.Tokens.AccessToken {
		t.Fatal("expected a new access token")
	}
	if refreshed.Tokens.RefreshToken == login.Tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}

	// The pre-rotation pair is dead on both sides.
	if _, err := f.service.Verify(ctx, login.Tokens.AccessToken); err == nil {
		t.Fatal("expected old access token to be rejected")
	}
	if _, err := f.service.Refresh(ctx, login.Tokens.RefreshToken, ClientMeta{}); domainErrorCode(t, err) != "CONFLICT" {
		t.Fatalf("expected conflict on replayed refresh token, got %v", err)
	}

	// The new pair works.
	if _, err := f.service.Verify(ctx, refreshed.Tokens.AccessToken); err != nil {
		t.Fatalf("verify new access token: %v", err)
	}
	if _, err := f.service.Refresh(ctx, refreshed.Tokens.RefreshToken, ClientMeta{}); err != nil {
		t.Fatalf("refresh with new token: %v", err)
	}
}

func TestRefreshRejectsInactiveIdentity(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	identity := f.seedIdentity(t, "jane@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)

	login, err := f.service.Login(ctx, "jane@example.com", "hunter22", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	identity.Status = domain.IdentityStatusInactive
	if err := f.repo.Update(ctx, identity); err != nil {
		t.Fatalf("deactivate identity: %v", err)
	}

	_, err = f.service.Refresh(ctx, login.Tokens.RefreshToken, ClientMeta{})
	if err == nil {
		t.Fatal("expected refresh to fail for inactive identity")
	}
	if code := domainErrorCode(t, err); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestLogoutAllIsScopedToSubject(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	jane := f.seedIdentity(t, "jane@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)
	f.seedIdentity(t, "john@example.com", "hunter22", domain.RoleUser, domain.IdentityStatusActive)

	janeFirst, err := f.service.Login(ctx, "jane@example.com", "hunter22", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	janeSecond, err := f.service.Login(ctx, "jane@example.com", "hunter22", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	john, err := f.service.Login(ctx, "john@example.com", "hunter22", ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := f.service.LogoutAll(ctx, jane.ID, ClientMeta{}); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	if _, err := f.service.Verify(ctx, janeFirst.Tokens.AccessToken); err == nil {
		t.Fatal("expected jane's first session revoked")
	}
	if _, err := f.service.Verify(ctx, janeSecond.Tokens.AccessToken); err == nil {
		t.Fatal("expected jane's second session revoked")
	}
	if _, err := f.service.Verify(ctx, john.Tokens.AccessToken); err != nil {
		t.Fatalf("john's session must survive: %v", err)
	}
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	result, err := f.service.Register(ctx, RegisterParams{
		Email:     "new@example.com",
		Password:  "hunter22",
		FirstName: "New",
		LastName:  "User",
	}, ClientMeta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.Identity.Role != domain.RoleUser {
		t.Fatalf("expected default role user, got %s", result.Identity.Role)
	}
	if result.Tokens.AccessToken == "" {
		t.Fatal("registration must auto-login")
	}
	if _, err := f.service.Verify(ctx, result.Tokens.AccessToken); err != nil {
		t.Fatalf("verify after register: %v", err)
	}

	// Same email again, regardless of case, is a conflict.
	_, err = f.service.Register(ctx, RegisterParams{
		Email:    "NEW@example.com",
		Password: "other-pass",
	}, ClientMeta{})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if code := domainErrorCode(t, err); code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", code)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.service.Register(context.Background(), RegisterParams{
		Email:    "new@example.com",
		Password: "hunter22",
		Role:     domain.Role("owner"),
	}, ClientMeta{})
	if err == nil {
		t.Fatal("expected registration to fail")
	}
	if code := domainErrorCode(t, err); code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %s", code)
	}
}

func TestRegisterConcurrentDuplicateSurfacesConflict(t *testing.T) {
	f := newAuthFixture(t)

	// A concurrent insert can win between the duplicate check and our own
	// insert. The unique index violation must surface as a conflict, not a
	// server error.
	f.repo.createErr = &pgconn.PgError{Code: "23505", ConstraintName: "identities_email_lower_idx"}

	_, err := f.service.Register(context.Background(), RegisterParams{
		Email:    "new@example.com",
		Password: "hunter22",
	}, ClientMeta{})
	if code := domainErrorCode(t, err); code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s (%v)", code, err)
	}
}

func TestEnsureBootstrapAdminIdempotent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	cfg := config.BootstrapConfig{AdminEmail: "root@example.com", AdminPassword: "bootstrap-pass"}

	if err := f.service.EnsureBootstrapAdmin(ctx, cfg); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := f.service.EnsureBootstrapAdmin(ctx, cfg); err != nil {
		t.Fatalf("repeat bootstrap: %v", err)
	}

	count, err := f.repo.CountByRole(ctx, domain.RoleSuperadmin)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one superadmin, got %d", count)
	}

	if _, err := f.service.Login(ctx, "root@example.com", "bootstrap-pass", ClientMeta{}); err != nil {
		t.Fatalf("bootstrap admin login: %v", err)
	}
}

func TestEnsureBootstrapAdminSkippedWithoutConfig(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.service.EnsureBootstrapAdmin(ctx, config.BootstrapConfig{}); err != nil {
		t.Fatalf("bootstrap without config: %v", err)
	}
	count, err := f.repo.CountByRole(ctx, domain.RoleSuperadmin)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no superadmin, got %d", count)
	}
}
