package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

func TestUpdateRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertEvidence(ctx, &store.Evidence{ID: "E1", FactoryID: "FAC-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	// The failed transaction must leave nothing behind.
	err = s.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetEvidence(ctx, "E1")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetEvidence after rollback = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.View(ctx, func(tx store.Tx) error {
		return tx.InsertEvidence(ctx, &store.Evidence{ID: "E1"})
	})
	if !errors.Is(err, store.ErrReadOnlyTx) {
		t.Fatalf("err = %v, want ErrReadOnlyTx", err)
	}
}

func TestReturnedValuesAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertEvidence(ctx, &store.Evidence{ID: "E1", Name: "original"})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// Mutating a value returned by the store must not leak into its state.
	err = s.View(ctx, func(tx store.Tx) error {
		ev, err := tx.GetEvidence(ctx, "E1")
		if err != nil {
			return err
		}
		ev.Name = "mutated"
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	err = s.View(ctx, func(tx store.Tx) error {
		ev, err := tx.GetEvidence(ctx, "E1")
		if err != nil {
			return err
		}
		if ev.Name != "original" {
			t.Fatalf("name = %q, caller mutation leaked into store state", ev.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestAppendAuditAssignsSeqAndTimestamp(t *testing.T) {
	s := New()
	ctx := context.Background()

	var first, second store.AuditRecord
	err := s.Update(ctx, func(tx store.Tx) error {
		first = store.AuditRecord{ActorUserID: "U1", ActorRole: auth.RoleBuyer, Action: store.ActionLogin, ObjectType: store.ObjectSession, ObjectID: "U1"}
		if err := tx.AppendAudit(ctx, &first); err != nil {
			return err
		}
		second = store.AuditRecord{ActorUserID: "U1", ActorRole: auth.RoleBuyer, Action: store.ActionLogin, ObjectType: store.ObjectSession, ObjectID: "U1"}
		return tx.AppendAudit(ctx, &second)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d, %d; want 1, 2", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() || first.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %v, want assigned in UTC", first.Timestamp)
	}
}

func TestMarkItemFulfilled(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertRequest(ctx, &store.Request{ID: "R1", FactoryID: "FAC-1", Status: store.RequestPending}); err != nil {
			return err
		}
		if err := tx.InsertRequestItem(ctx, &store.RequestItem{ID: "I1", RequestID: "R1", DocType: "certification", Status: store.ItemPending}); err != nil {
			return err
		}
		if err := tx.MarkItemFulfilled(ctx, "I1", "E1", "V1", now); err != nil {
			return err
		}
		total, done, err := tx.CountItems(ctx, "R1")
		if err != nil {
			return err
		}
		if total != 1 || done != 1 {
			t.Fatalf("counts = %d/%d, want 1/1", done, total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.View(ctx, func(tx store.Tx) error {
		item, err := tx.GetRequestItem(ctx, "R1", "I1")
		if err != nil {
			return err
		}
		if item.Status != store.ItemFulfilled {
			t.Fatalf("status = %q, want fulfilled", item.Status)
		}
		if item.EvidenceID == nil || *item.EvidenceID != "E1" {
			t.Fatal("evidence id not recorded")
		}
		if item.FulfilledAt == nil || !item.FulfilledAt.Equal(now) {
			t.Fatal("fulfillment time not recorded")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestListRequestsForFactory(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		for _, r := range []*store.Request{
			{ID: "R1", FactoryID: "FAC-1", Status: store.RequestPending},
			{ID: "R2", FactoryID: "FAC-2", Status: store.RequestPending},
			{ID: "R3", FactoryID: "FAC-1", Status: store.RequestPending},
		} {
			if err := tx.InsertRequest(ctx, r); err != nil {
				return err
			}
		}
		return tx.InsertRequestItem(ctx, &store.RequestItem{ID: "I1", RequestID: "R3", DocType: "certification", Status: store.ItemPending})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.View(ctx, func(tx store.Tx) error {
		out, err := tx.ListRequestsForFactory(ctx, "FAC-1")
		if err != nil {
			return err
		}
		if len(out) != 2 {
			t.Fatalf("got %d requests, want 2", len(out))
		}
		if out[0].ID != "R3" || out[1].ID != "R1" {
			t.Fatalf("order = [%s %s], want newest first", out[0].ID, out[1].ID)
		}
		if len(out[0].Items) != 1 || out[0].Items[0].ID != "I1" {
			t.Fatal("items not nested under request")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMaxVersionNumber(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		max, err := tx.MaxVersionNumber(ctx, "E1")
		if err != nil {
			return err
		}
		if max != 0 {
			t.Fatalf("max for unknown evidence = %d, want 0", max)
		}
		for n := 1; n <= 3; n++ {
			v := &store.EvidenceVersion{ID: store.NewID(store.PrefixVersion), EvidenceID: "E1", VersionNumber: n}
			if err := tx.InsertVersion(ctx, v); err != nil {
				return err
			}
		}
		max, err = tx.MaxVersionNumber(ctx, "E1")
		if err != nil {
			return err
		}
		if max != 3 {
			t.Fatalf("max = %d, want 3", max)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}
