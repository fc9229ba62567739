package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

// RequestService is the request workflow engine: it creates buyer requests,
// lists them for the addressed factory, and fulfills items against evidence
// versions. Each operation is one atomic transaction; a failed check leaves
// no partial state behind.
type RequestService struct {
	store store.Store
	log   zerolog.Logger
}

// NewRequestService creates a new RequestService.
func NewRequestService(st store.Store, log zerolog.Logger) *RequestService {
	return &RequestService{store: st, log: log}
}

// RequestItemInput is one requested line item.
type RequestItemInput struct {
	DocType string
}

// CreateRequestInput describes a request to be created.
type CreateRequestInput struct {
	FactoryID string
	Title     string
	Items     []RequestItemInput
}

// CreateRequestResult reports the created request and its item ids.
type CreateRequestResult struct {
	RequestID string
	Status    store.RequestStatus
	ItemIDs   []string
}

// FulfillInput names the evidence version used to fulfill an item.
type FulfillInput struct {
	EvidenceID string
	VersionID  string
}

// Create inserts the request and all of its items atomically with status
// pending, and one CREATE_REQUEST audit record summarizing the whole batch.
func (s *RequestService) Create(ctx context.Context, ident auth.Identity, input *CreateRequestInput) (*CreateRequestResult, error) {
	if err := auth.RequireRole(ident, auth.RoleBuyer); err != nil {
		return nil, err
	}
	if input.FactoryID == "" {
		return nil, apperr.InvalidInput("factoryId", "is required")
	}
	if input.Title == "" {
		return nil, apperr.InvalidInput("title", "is required")
	}
	if len(input.Items) == 0 {
		return nil, apperr.InvalidInput("items", "at least one item is required")
	}
	for _, item := range input.Items {
		if item.DocType == "" {
			return nil, apperr.InvalidInput("items", "every item requires a docType")
		}
	}

	req := &store.Request{
		ID:        store.NewID(store.PrefixRequest),
		BuyerID:   ident.UserID,
		FactoryID: input.FactoryID,
		Title:     input.Title,
		Status:    store.RequestPending,
		CreatedAt: time.Now().UTC(),
	}

	itemIDs := make([]string, 0, len(input.Items))
	itemMeta := make([]any, 0, len(input.Items))

	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		for _, in := range input.Items {
			item := &store.RequestItem{
				ID:        store.NewID(store.PrefixItem),
				RequestID: req.ID,
				DocType:   in.DocType,
				Status:    store.ItemPending,
			}
			if err := tx.InsertRequestItem(ctx, item); err != nil {
				return err
			}
			itemIDs = append(itemIDs, item.ID)
			itemMeta = append(itemMeta, map[string]any{"docType": in.DocType})
		}
		return tx.AppendAudit(ctx, &store.AuditRecord{
			ActorUserID: ident.UserID,
			ActorRole:   ident.Role,
			Action:      store.ActionCreateRequest,
			ObjectType:  store.ObjectRequest,
			ObjectID:    req.ID,
			Metadata: store.Metadata{
				"buyerId":   ident.UserID,
				"factoryId": input.FactoryID,
				"title":     input.Title,
				"itemCount": len(input.Items),
				"items":     itemMeta,
			},
		})
	})
	if err != nil {
		return nil, coerce(err, "failed to create request")
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("buyer_id", ident.UserID).
		Str("factory_id", input.FactoryID).
		Int("item_count", len(itemIDs)).
		Msg("Request created")

	return &CreateRequestResult{RequestID: req.ID, Status: req.Status, ItemIDs: itemIDs}, nil
}

// ListForFactory returns the caller's factory's requests with nested items,
// newest-created first. The factory filter at the query level is the
// read-side half of the cross-factory isolation guarantee.
func (s *RequestService) ListForFactory(ctx context.Context, ident auth.Identity) ([]*store.Request, error) {
	if err := auth.RequireRole(ident, auth.RoleFactory); err != nil {
		return nil, err
	}

	var requests []*store.Request
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		requests, err = tx.ListRequestsForFactory(ctx, ident.FactoryID)
		return err
	})
	if err != nil {
		return nil, coerce(err, "failed to list requests")
	}
	return requests, nil
}

// Fulfill marks one item fulfilled with a specific evidence version. The
// five validation steps, the item update, the request status recount and the
// FULFILL_ITEM audit record all run in one transaction.
func (s *RequestService) Fulfill(ctx context.Context, ident auth.Identity, requestID, itemID string, input *FulfillInput) (*store.RequestItem, error) {
	if err := auth.RequireRole(ident, auth.RoleFactory); err != nil {
		return nil, err
	}
	if input.EvidenceID == "" {
		return nil, apperr.InvalidInput("evidenceId", "is required")
	}
	if input.VersionID == "" {
		return nil, apperr.InvalidInput("versionId", "is required")
	}

	var fulfilled *store.RequestItem
	var requestCompleted bool

	err := s.store.Update(ctx, func(tx store.Tx) error {
		// Step 1: request exists and belongs to the caller's factory.
		req, err := tx.GetRequest(ctx, requestID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("request", requestID)
		}
		if err != nil {
			return err
		}
		if err := auth.RequireOwnership(req.FactoryID, ident); err != nil {
			return err
		}

		// Step 2: item exists under that request.
		item, err := tx.GetRequestItem(ctx, requestID, itemID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("request item", itemID)
		}
		if err != nil {
			return err
		}
		if item.Status == store.ItemFulfilled {
			return apperr.New(apperr.ErrCodeValidation, "request item is already fulfilled")
		}

		// Step 3: evidence exists and is owned by the caller. Any of the
		// factory's own evidence is acceptable; the item's requested docType
		// is not matched against the evidence.
		ev, err := tx.GetEvidence(ctx, input.EvidenceID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("evidence", input.EvidenceID)
		}
		if err != nil {
			return err
		}
		if err := auth.RequireOwnership(ev.FactoryID, ident); err != nil {
			return err
		}

		// Step 4: the named version exists under that evidence.
		if _, err := tx.GetVersion(ctx, input.EvidenceID, input.VersionID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("evidence version", input.VersionID)
			}
			return err
		}

		// Step 5: fulfill and recount.
		now := time.Now().UTC()
		if err := tx.MarkItemFulfilled(ctx, itemID, input.EvidenceID, input.VersionID, now); err != nil {
			return err
		}

		total, done, err := tx.CountItems(ctx, requestID)
		if err != nil {
			return err
		}
		if total == done {
			if err := tx.SetRequestStatus(ctx, requestID, store.RequestCompleted); err != nil {
				return err
			}
			requestCompleted = true
		}

		if err := tx.AppendAudit(ctx, &store.AuditRecord{
			ActorUserID: ident.UserID,
			ActorRole:   ident.Role,
			Action:      store.ActionFulfillItem,
			ObjectType:  store.ObjectRequestItem,
			ObjectID:    itemID,
			Metadata: store.Metadata{
				"factoryId":      ident.FactoryID,
				"buyerId":        req.BuyerID,
				"requestId":      requestID,
				"docType":        item.DocType,
				"evidenceId":     input.EvidenceID,
				"versionId":      input.VersionID,
				"previousStatus": string(item.Status),
				"newStatus":      string(store.ItemFulfilled),
			},
		}); err != nil {
			return err
		}

		item.Status = store.ItemFulfilled
		item.EvidenceID = &input.EvidenceID
		item.VersionID = &input.VersionID
		item.FulfilledAt = &now
		fulfilled = item
		return nil
	})
	if err != nil {
		return nil, coerce(err, "failed to fulfill request item")
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("item_id", itemID).
		Str("evidence_id", input.EvidenceID).
		Bool("request_completed", requestCompleted).
		Msg("Request item fulfilled")

	return fulfilled, nil
}
