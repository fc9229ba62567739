package auth

import (
	"testing"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
)

func TestRoleValid(t *testing.T) {
	if !RoleBuyer.Valid() || !RoleFactory.Valid() {
		t.Fatal("buyer and factory must be valid roles")
	}
	if Role("admin").Valid() {
		t.Fatal("unknown role must not be valid")
	}
	if Role("").Valid() {
		t.Fatal("empty role must not be valid")
	}
}

func TestRequireRole(t *testing.T) {
	factory := Identity{UserID: "F1", Role: RoleFactory, FactoryID: "FAC-1"}
	buyer := Identity{UserID: "B1", Role: RoleBuyer}

	if err := RequireRole(factory, RoleFactory); err != nil {
		t.Fatalf("factory identity should hold factory role: %v", err)
	}
	err := RequireRole(buyer, RoleFactory)
	if err == nil {
		t.Fatal("buyer identity must not pass a factory role check")
	}
	if apperr.CodeOf(err) != apperr.ErrCodeAuthorization {
		t.Fatalf("code = %q, want authorization", apperr.CodeOf(err))
	}
}

func TestRequireOwnership(t *testing.T) {
	factory := Identity{UserID: "F1", Role: RoleFactory, FactoryID: "FAC-1"}

	if err := RequireOwnership("FAC-1", factory); err != nil {
		t.Fatalf("owning factory should pass: %v", err)
	}
	err := RequireOwnership("FAC-2", factory)
	if err == nil {
		t.Fatal("foreign factory must not pass ownership check")
	}
	if apperr.CodeOf(err) != apperr.ErrCodeAuthorization {
		t.Fatalf("code = %q, want authorization", apperr.CodeOf(err))
	}
}
