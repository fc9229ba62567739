// Package memory is an in-process store driver used in development mode and
// by the test suite. A single mutex serializes read-write transactions;
// Update works on a cloned state and swaps it in on success, so a failed
// transaction leaves no partial effects.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/attestia/be-evidence-exchange/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	evidence []*store.Evidence
	versions []*store.EvidenceVersion
	requests []*store.Request // without nested items
	items    []*store.RequestItem
	sessions map[string]*store.Session
	audit    []*store.AuditRecord
	nextSeq  int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{st: &state{sessions: make(map[string]*store.Session), nextSeq: 1}}
}

// View runs fn against the current state without taking the write lock.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.st})
}

// Update clones the state, runs fn against the clone, and swaps it in only
// when fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	if err := fn(&tx{st: next, writable: true}); err != nil {
		return err
	}
	s.st = next
	return nil
}

// Close is a no-op for the memory driver.
func (s *Store) Close() {}

// ── state cloning ────────────────────────────────────────────────────────────

func (st *state) clone() *state {
	next := &state{
		evidence: make([]*store.Evidence, len(st.evidence)),
		versions: make([]*store.EvidenceVersion, len(st.versions)),
		requests: make([]*store.Request, len(st.requests)),
		items:    make([]*store.RequestItem, len(st.items)),
		sessions: make(map[string]*store.Session, len(st.sessions)),
		audit:    make([]*store.AuditRecord, len(st.audit)),
		nextSeq:  st.nextSeq,
	}
	for i, ev := range st.evidence {
		next.evidence[i] = cloneEvidence(ev)
	}
	for i, v := range st.versions {
		next.versions[i] = cloneVersion(v)
	}
	for i, r := range st.requests {
		next.requests[i] = cloneRequest(r)
	}
	for i, it := range st.items {
		next.items[i] = cloneItem(it)
	}
	for tok, sess := range st.sessions {
		next.sessions[tok] = cloneSession(sess)
	}
	for i, rec := range st.audit {
		next.audit[i] = cloneAudit(rec)
	}
	return next
}

func cloneEvidence(ev *store.Evidence) *store.Evidence {
	cp := *ev
	return &cp
}

func cloneVersion(v *store.EvidenceVersion) *store.EvidenceVersion {
	cp := *v
	cp.Expiry = cloneStrPtr(v.Expiry)
	cp.Notes = cloneStrPtr(v.Notes)
	return &cp
}

func cloneRequest(r *store.Request) *store.Request {
	cp := *r
	cp.Items = nil
	return &cp
}

func cloneItem(it *store.RequestItem) *store.RequestItem {
	cp := *it
	cp.EvidenceID = cloneStrPtr(it.EvidenceID)
	cp.VersionID = cloneStrPtr(it.VersionID)
	if it.FulfilledAt != nil {
		at := *it.FulfilledAt
		cp.FulfilledAt = &at
	}
	return &cp
}

func cloneSession(s *store.Session) *store.Session {
	cp := *s
	return &cp
}

func cloneAudit(rec *store.AuditRecord) *store.AuditRecord {
	cp := *rec
	if rec.Metadata != nil {
		cp.Metadata = make(store.Metadata, len(rec.Metadata))
		for k, v := range rec.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneStrPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ── transaction ──────────────────────────────────────────────────────────────

type tx struct {
	st       *state
	writable bool
}

var errReadOnly = store.ErrReadOnlyTx

func (t *tx) InsertEvidence(ctx context.Context, ev *store.Evidence) error {
	if !t.writable {
		return errReadOnly
	}
	t.st.evidence = append(t.st.evidence, cloneEvidence(ev))
	return nil
}

func (t *tx) GetEvidence(ctx context.Context, id string) (*store.Evidence, error) {
	for _, ev := range t.st.evidence {
		if ev.ID == id {
			return cloneEvidence(ev), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertVersion(ctx context.Context, v *store.EvidenceVersion) error {
	if !t.writable {
		return errReadOnly
	}
	t.st.versions = append(t.st.versions, cloneVersion(v))
	return nil
}

func (t *tx) MaxVersionNumber(ctx context.Context, evidenceID string) (int, error) {
	max := 0
	for _, v := range t.st.versions {
		if v.EvidenceID == evidenceID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

func (t *tx) GetVersion(ctx context.Context, evidenceID, versionID string) (*store.EvidenceVersion, error) {
	for _, v := range t.st.versions {
		if v.ID == versionID && v.EvidenceID == evidenceID {
			return cloneVersion(v), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) InsertRequest(ctx context.Context, req *store.Request) error {
	if !t.writable {
		return errReadOnly
	}
	t.st.requests = append(t.st.requests, cloneRequest(req))
	return nil
}

func (t *tx) InsertRequestItem(ctx context.Context, item *store.RequestItem) error {
	if !t.writable {
		return errReadOnly
	}
	t.st.items = append(t.st.items, cloneItem(item))
	return nil
}

func (t *tx) GetRequest(ctx context.Context, id string) (*store.Request, error) {
	for _, r := range t.st.requests {
		if r.ID == id {
			return cloneRequest(r), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) GetRequestItem(ctx context.Context, requestID, itemID string) (*store.RequestItem, error) {
	for _, it := range t.st.items {
		if it.ID == itemID && it.RequestID == requestID {
			return cloneItem(it), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) MarkItemFulfilled(ctx context.Context, itemID, evidenceID, versionID string, at time.Time) error {
	if !t.writable {
		return errReadOnly
	}
	for _, it := range t.st.items {
		if it.ID == itemID {
			it.Status = store.ItemFulfilled
			it.EvidenceID = &evidenceID
			it.VersionID = &versionID
			ts := at
			it.FulfilledAt = &ts
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) CountItems(ctx context.Context, requestID string) (total, fulfilled int, err error) {
	for _, it := range t.st.items {
		if it.RequestID != requestID {
			continue
		}
		total++
		if it.Status == store.ItemFulfilled {
			fulfilled++
		}
	}
	return total, fulfilled, nil
}

func (t *tx) SetRequestStatus(ctx context.Context, requestID string, status store.RequestStatus) error {
	if !t.writable {
		return errReadOnly
	}
	for _, r := range t.st.requests {
		if r.ID == requestID {
			r.Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (t *tx) ListRequestsForFactory(ctx context.Context, factoryID string) ([]*store.Request, error) {
	out := make([]*store.Request, 0)
	// Requests are appended in creation order; walk backwards for newest first.
	for i := len(t.st.requests) - 1; i >= 0; i-- {
		r := t.st.requests[i]
		if r.FactoryID != factoryID {
			continue
		}
		cp := cloneRequest(r)
		for _, it := range t.st.items {
			if it.RequestID == r.ID {
				cp.Items = append(cp.Items, cloneItem(it))
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (t *tx) InsertSession(ctx context.Context, s *store.Session) error {
	if !t.writable {
		return errReadOnly
	}
	t.st.sessions[s.Token] = cloneSession(s)
	return nil
}

func (t *tx) GetSession(ctx context.Context, token string) (*store.Session, error) {
	s, ok := t.st.sessions[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(s), nil
}

func (t *tx) AppendAudit(ctx context.Context, rec *store.AuditRecord) error {
	if !t.writable {
		return errReadOnly
	}
	rec.Seq = t.st.nextSeq
	rec.Timestamp = time.Now().UTC()
	t.st.nextSeq++
	t.st.audit = append(t.st.audit, cloneAudit(rec))
	return nil
}

func (t *tx) ListAudit(ctx context.Context, limit int) ([]*store.AuditRecord, error) {
	out := make([]*store.AuditRecord, 0, limit)
	for i := len(t.st.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneAudit(t.st.audit[i]))
	}
	return out, nil
}
