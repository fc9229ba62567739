package store

import (
	"time"

	"github.com/attestia/be-evidence-exchange/internal/auth"
)

// ── Domain types ─────────────────────────────────────────────────────────────

// RequestStatus is the derived status of a request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestCompleted RequestStatus = "completed"
)

// ItemStatus is the status of a single request item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemFulfilled ItemStatus = "fulfilled"
)

// Evidence is a named document owned by one factory. It is created once and
// never deleted; its history lives in EvidenceVersion rows.
type Evidence struct {
	ID        string
	FactoryID string
	Name      string
	DocType   string
	CreatedAt time.Time
}

// EvidenceVersion is one immutable snapshot of an evidence document's
// metadata. VersionNumber is assigned by the ledger, contiguous from 1.
type EvidenceVersion struct {
	ID            string
	EvidenceID    string
	VersionNumber int
	Expiry        *string // YYYY-MM-DD
	Notes         *string
	CreatedAt     time.Time
}

// Request is a buyer's ask to one factory for a set of document items.
// Status is derived: completed iff every item is fulfilled.
type Request struct {
	ID        string
	BuyerID   string
	FactoryID string
	Title     string
	Status    RequestStatus
	CreatedAt time.Time
	Items     []*RequestItem
}

// RequestItem is one line of a request. Once fulfilled it records which
// evidence version satisfied it; an item is fulfilled at most once.
type RequestItem struct {
	ID          string
	RequestID   string
	DocType     string
	Status      ItemStatus
	EvidenceID  *string
	VersionID   *string
	FulfilledAt *time.Time
}

// Session binds an opaque bearer token to a caller identity. A buyer session
// carries no factory id; a factory session carries exactly one.
type Session struct {
	Token     string
	UserID    string
	Role      auth.Role
	FactoryID string // empty for buyers
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Identity converts the session into the caller identity consumed by the
// policy predicates.
func (s *Session) Identity() auth.Identity {
	return auth.Identity{UserID: s.UserID, Role: s.Role, FactoryID: s.FactoryID}
}

// ── Audit ────────────────────────────────────────────────────────────────────

// Action is the kind of mutating action being audited.
type Action string

const (
	ActionLogin          Action = "LOGIN"
	ActionCreateEvidence Action = "CREATE_EVIDENCE"
	ActionAddVersion     Action = "ADD_VERSION"
	ActionCreateRequest  Action = "CREATE_REQUEST"
	ActionFulfillItem    Action = "FULFILL_ITEM"
)

// ObjectType names the entity kind an audit record refers to.
type ObjectType string

const (
	ObjectSession     ObjectType = "Session"
	ObjectEvidence    ObjectType = "Evidence"
	ObjectVersion     ObjectType = "Version"
	ObjectRequest     ObjectType = "Request"
	ObjectRequestItem ObjectType = "RequestItem"
)

// Metadata is the action-specific context payload of an audit record. It is
// serialized opaquely; the recorder never interprets its keys.
type Metadata map[string]any

// AuditRecord is one immutable row in the audit log. Seq and Timestamp are
// assigned by the store at append time.
type AuditRecord struct {
	Seq         int64
	Timestamp   time.Time
	ActorUserID string
	ActorRole   auth.Role
	Action      Action
	ObjectType  ObjectType
	ObjectID    string
	Metadata    Metadata
}
