package service

import (
	"context"
	"testing"
	"time"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

func TestLoginValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"missing userId", LoginRequest{Role: auth.RoleBuyer}},
		{"unknown role", LoginRequest{UserID: "U1", Role: "admin"}},
		{"empty role", LoginRequest{UserID: "U1"}},
		{"factory without factoryId", LoginRequest{UserID: "F1", Role: auth.RoleFactory}},
		{"buyer with factoryId", LoginRequest{UserID: "B1", Role: auth.RoleBuyer, FactoryID: "FAC-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.identity.Login(ctx, &tt.req)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if apperr.CodeOf(err) != apperr.ErrCodeValidation {
				t.Fatalf("code = %q, want validation", apperr.CodeOf(err))
			}
		})
	}
}

func TestLoginIssuesResolvableToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	session, err := e.identity.Login(ctx, &LoginRequest{UserID: "factory-1", Role: auth.RoleFactory, FactoryID: "FAC-1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Token == "" {
		t.Fatal("expected a non-empty token")
	}
	if want := 24 * time.Hour; session.ExpiresAt.Sub(session.CreatedAt) != want {
		t.Fatalf("session lifetime = %v, want %v", session.ExpiresAt.Sub(session.CreatedAt), want)
	}

	ident, err := e.identity.Resolve(ctx, session.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := auth.Identity{UserID: "factory-1", Role: auth.RoleFactory, FactoryID: "FAC-1"}
	if ident != want {
		t.Fatalf("identity = %+v, want %+v", ident, want)
	}
}

func TestLoginTokensAreUnique(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		session, err := e.identity.Login(ctx, &LoginRequest{UserID: "buyer-1", Role: auth.RoleBuyer})
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		if seen[session.Token] {
			t.Fatal("token issued twice")
		}
		seen[session.Token] = true
	}
}

func TestResolveRejectsBadTokens(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, token := range []string{"", "no-such-token"} {
		_, err := e.identity.Resolve(ctx, token)
		if err == nil {
			t.Fatalf("token %q: expected error", token)
		}
		if apperr.CodeOf(err) != apperr.ErrCodeAuthentication {
			t.Fatalf("token %q: code = %q, want authentication", token, apperr.CodeOf(err))
		}
	}
}

func TestResolveRejectsExpiredSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Plant an already-expired session directly in the store.
	expired := &store.Session{
		Token:     "expired-token",
		UserID:    "buyer-1",
		Role:      auth.RoleBuyer,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
		ExpiresAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	err := e.store.Update(ctx, func(tx store.Tx) error {
		return tx.InsertSession(ctx, expired)
	})
	if err != nil {
		t.Fatalf("insert session: %v", err)
	}

	_, err = e.identity.Resolve(ctx, "expired-token")
	if err == nil {
		t.Fatal("expected error for expired session")
	}
	if apperr.CodeOf(err) != apperr.ErrCodeAuthentication {
		t.Fatalf("code = %q, want authentication", apperr.CodeOf(err))
	}
}

func TestLoginAppendsAuditRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.identity.Login(ctx, &LoginRequest{UserID: "factory-1", Role: auth.RoleFactory, FactoryID: "FAC-1"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	rec := lastAudit(t, e)
	if rec.Action != store.ActionLogin {
		t.Fatalf("action = %q, want LOGIN", rec.Action)
	}
	if rec.ObjectType != store.ObjectSession {
		t.Fatalf("object type = %q, want Session", rec.ObjectType)
	}
	if rec.ObjectID != "factory-1" {
		t.Fatalf("object id = %q, want the user id", rec.ObjectID)
	}
	if rec.Metadata["factoryId"] != "FAC-1" {
		t.Fatalf("metadata factoryId = %v, want FAC-1", rec.Metadata["factoryId"])
	}
}

func TestBuyerLoginAuditOmitsFactoryID(t *testing.T) {
	e := newEnv(t)

	if _, err := e.identity.Login(context.Background(), &LoginRequest{UserID: "buyer-1", Role: auth.RoleBuyer}); err != nil {
		t.Fatalf("login: %v", err)
	}
	rec := lastAudit(t, e)
	if _, ok := rec.Metadata["factoryId"]; ok {
		t.Fatal("buyer login metadata must not carry a factoryId")
	}
}
