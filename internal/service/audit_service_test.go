package service

import (
	"context"
	"testing"

	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

func TestAuditListNewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	factory := factoryIdent("factory-1", "FAC-1")

	mustCreateEvidence(t, e, factory, "Doc A", "certification")
	mustCreateEvidence(t, e, factory, "Doc B", "audit_report")
	mustCreateEvidence(t, e, factory, "Doc C", "test_report")

	records, err := e.audit.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Seq >= records[i-1].Seq {
			t.Fatalf("records out of order: seq %d before seq %d", records[i-1].Seq, records[i].Seq)
		}
	}
	if records[0].Metadata["name"] != "Doc C" {
		t.Fatalf("newest record names %v, want Doc C", records[0].Metadata["name"])
	}
}

func TestAuditListLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	factory := factoryIdent("factory-1", "FAC-1")

	for i := 0; i < 5; i++ {
		mustCreateEvidence(t, e, factory, "Doc", "certification")
	}

	records, err := e.audit.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestAuditDefaultLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Write more records than the default limit allows.
	err := e.store.Update(ctx, func(tx store.Tx) error {
		for i := 0; i < DefaultAuditLimit+10; i++ {
			rec := &store.AuditRecord{
				ActorUserID: "factory-1",
				ActorRole:   auth.RoleFactory,
				Action:      store.ActionAddVersion,
				ObjectType:  store.ObjectVersion,
				ObjectID:    "V1",
			}
			if err := tx.AppendAudit(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	records, err := e.audit.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != DefaultAuditLimit {
		t.Fatalf("got %d records, want the default limit %d", len(records), DefaultAuditLimit)
	}
}

func TestAuditSequenceIsMonotonic(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	factory := factoryIdent("factory-1", "FAC-1")
	buyer := buyerIdent("buyer-1")

	mustCreateEvidence(t, e, factory, "Doc", "certification")
	mustCreateRequest(t, e, buyer, "FAC-1", "certification")

	records, err := e.audit.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Seq != 2 || records[1].Seq != 1 {
		t.Fatalf("seqs = [%d %d], want [2 1]", records[0].Seq, records[1].Seq)
	}
}
