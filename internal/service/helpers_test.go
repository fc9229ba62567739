package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
	"github.com/attestia/be-evidence-exchange/internal/store/memory"
)

// env bundles the services over one in-memory store.
type env struct {
	store    *memory.Store
	identity *IdentityService
	evidence *EvidenceService
	requests *RequestService
	audit    *AuditService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	log := zerolog.Nop()
	return &env{
		store:    st,
		identity: NewIdentityService(st, log),
		evidence: NewEvidenceService(st, log),
		requests: NewRequestService(st, log),
		audit:    NewAuditService(st, log),
	}
}

func buyerIdent(userID string) auth.Identity {
	return auth.Identity{UserID: userID, Role: auth.RoleBuyer}
}

func factoryIdent(userID, factoryID string) auth.Identity {
	return auth.Identity{UserID: userID, Role: auth.RoleFactory, FactoryID: factoryID}
}

// mustCreateEvidence creates an evidence document for tests that need one.
func mustCreateEvidence(t *testing.T, e *env, ident auth.Identity, name, docType string) *EvidenceRef {
	t.Helper()
	ref, err := e.evidence.Create(context.Background(), ident, &CreateEvidenceRequest{Name: name, DocType: docType})
	if err != nil {
		t.Fatalf("create evidence: %v", err)
	}
	return ref
}

// mustCreateRequest creates a buyer request with the given doc types.
func mustCreateRequest(t *testing.T, e *env, ident auth.Identity, factoryID string, docTypes ...string) *CreateRequestResult {
	t.Helper()
	items := make([]RequestItemInput, 0, len(docTypes))
	for _, dt := range docTypes {
		items = append(items, RequestItemInput{DocType: dt})
	}
	result, err := e.requests.Create(context.Background(), ident, &CreateRequestInput{
		FactoryID: factoryID,
		Title:     "Test request",
		Items:     items,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return result
}

// lastAudit returns the newest audit record.
func lastAudit(t *testing.T, e *env) *store.AuditRecord {
	t.Helper()
	records, err := e.audit.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("audit log is empty")
	}
	return records[0]
}
