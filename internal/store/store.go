// Package store defines the persistence contract for the evidence exchange.
//
// Every request-handling operation runs as exactly one transaction: all the
// reads that inform a decision and the writes that follow happen inside one
// Update (or View) closure, isolated from concurrent transactions touching
// the same entities. Drivers: postgres (production) and memory (development
// and tests).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when the entity does not exist.
// Services translate it into the caller-facing not-found taxonomy.
var ErrNotFound = errors.New("not found")

// ErrReadOnlyTx is returned when a mutation is attempted inside View.
var ErrReadOnlyTx = errors.New("mutation in read-only transaction")

// Store opens transactions against the shared persisted state.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn in a read-write transaction. All of fn's effects are
	// committed atomically, or discarded entirely when fn returns an error.
	Update(ctx context.Context, fn func(Tx) error) error
	// Close releases the underlying resources.
	Close()
}

// Tx is the set of operations available inside a transaction. Lookups whose
// results gate subsequent writes (GetEvidence, GetRequest) lock the row when
// called inside an Update so that concurrent operations on the same entity
// serialize.
type Tx interface {
	InsertEvidence(ctx context.Context, ev *Evidence) error
	GetEvidence(ctx context.Context, id string) (*Evidence, error)
	InsertVersion(ctx context.Context, v *EvidenceVersion) error
	// MaxVersionNumber returns the highest version number under an evidence,
	// or 0 when none exist.
	MaxVersionNumber(ctx context.Context, evidenceID string) (int, error)
	GetVersion(ctx context.Context, evidenceID, versionID string) (*EvidenceVersion, error)

	InsertRequest(ctx context.Context, req *Request) error
	InsertRequestItem(ctx context.Context, item *RequestItem) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	GetRequestItem(ctx context.Context, requestID, itemID string) (*RequestItem, error)
	MarkItemFulfilled(ctx context.Context, itemID, evidenceID, versionID string, at time.Time) error
	// CountItems returns total and fulfilled item counts for a request.
	CountItems(ctx context.Context, requestID string) (total, fulfilled int, err error)
	SetRequestStatus(ctx context.Context, requestID string, status RequestStatus) error
	// ListRequestsForFactory returns the factory's requests newest-created
	// first, with items nested.
	ListRequestsForFactory(ctx context.Context, factoryID string) ([]*Request, error)

	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)

	// AppendAudit inserts one immutable audit row, assigning Seq and the
	// UTC Timestamp. There is no update or delete path.
	AppendAudit(ctx context.Context, rec *AuditRecord) error
	// ListAudit returns the most recent limit records, newest first.
	ListAudit(ctx context.Context, limit int) ([]*AuditRecord, error)
}
