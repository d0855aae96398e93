package auth

import (
	"errors"
	"testing"

	"github.com/edu-portal/portal-identity/internal/domain"
	apperrors "github.com/edu-portal/portal-identity/pkg/util"
)

func errorCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}

func TestAuthorizeNilPrincipal(t *testing.T) {
	err := Authorize(nil, []domain.Role{domain.RoleAdmin}, nil)
	if err == nil {
		t.Fatal("expected error for nil principal")
	}
	if code := errorCode(t, err); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestAuthorizeRoleChecks(t *testing.T) {
	tests := []struct {
		name     string
		role     domain.Role
		required []domain.Role
		wantCode string
	}{
		{"exact role match", domain.RoleAdmin, []domain.Role{domain.RoleAdmin}, ""},
		{"role in allowed set", domain.RoleUser, []domain.Role{domain.RoleAdmin, domain.RoleUser}, ""},
		{"role not in allowed set", domain.RoleUser, []domain.Role{domain.RoleAdmin}, "FORBIDDEN"},
		{"superadmin bypasses role check", domain.RoleSuperadmin, []domain.Role{domain.RoleAdmin}, ""},
		{"no role requirement", domain.RoleUser, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Principal{SubjectID: "ident-1", Role: tt.role}
			err := Authorize(p, tt.required, nil)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected deny")
			}
			if code := errorCode(t, err); code != tt.wantCode {
				t.Fatalf("expected %s, got %s", tt.wantCode, code)
			}
		})
	}
}

func TestAuthorizeApplicationChecks(t *testing.T) {
	tests := []struct {
		name     string
		role     domain.Role
		assigned []domain.ApplicationID
		required []domain.ApplicationID
		wantCode string
	}{
		{"assigned app allowed", domain.RoleUser, []domain.ApplicationID{domain.AppRegion14}, []domain.ApplicationID{domain.AppRegion14}, ""},
		{"unassigned app denied", domain.RoleUser, []domain.ApplicationID{domain.AppRegion14}, []domain.ApplicationID{domain.AppDashboard}, "FORBIDDEN"},
		{"no assignments denied", domain.RoleUser, nil, []domain.ApplicationID{domain.AppRegion2}, "FORBIDDEN"},
		{"superadmin enters anything", domain.RoleSuperadmin, nil, []domain.ApplicationID{domain.AppDashboard}, ""},
		{"any of required set suffices", domain.RoleUser, []domain.ApplicationID{domain.AppRegion2}, []domain.ApplicationID{domain.AppRegion14, domain.AppRegion2}, ""},
		{"no app requirement", domain.RoleUser, nil, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Principal{SubjectID: "ident-1", Role: tt.role, AssignedApps: tt.assigned}
			err := Authorize(p, nil, tt.required)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("expected allow, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected deny")
			}
			if code := errorCode(t, err); code != tt.wantCode {
				t.Fatalf("expected %s, got %s", tt.wantCode, code)
			}
		})
	}
}
