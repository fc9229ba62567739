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

// EvidenceService manages evidence documents and their append-only version
// history. Evidence is factory-scoped: only the owning factory may add
// versions, and versions are never edited after creation.
type EvidenceService struct {
	store store.Store
	log   zerolog.Logger
}

// NewEvidenceService creates a new EvidenceService.
func NewEvidenceService(st store.Store, log zerolog.Logger) *EvidenceService {
	return &EvidenceService{store: st, log: log}
}

// CreateEvidenceRequest describes a new evidence document.
type CreateEvidenceRequest struct {
	Name    string
	DocType string
	Expiry  *string
	Notes   *string
}

// AddVersionRequest describes a new version of existing evidence.
type AddVersionRequest struct {
	Notes  *string
	Expiry *string
}

// EvidenceRef identifies an evidence document together with one version.
type EvidenceRef struct {
	EvidenceID string
	VersionID  string
}

// Create inserts a new evidence document with its initial version numbered 1
// and the CREATE_EVIDENCE audit record, all in one transaction.
func (s *EvidenceService) Create(ctx context.Context, ident auth.Identity, req *CreateEvidenceRequest) (*EvidenceRef, error) {
	if err := auth.RequireRole(ident, auth.RoleFactory); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, apperr.InvalidInput("name", "is required")
	}
	if req.DocType == "" {
		return nil, apperr.InvalidInput("docType", "is required")
	}
	if err := validateExpiry(req.Expiry); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ev := &store.Evidence{
		ID:        store.NewID(store.PrefixEvidence),
		FactoryID: ident.FactoryID,
		Name:      req.Name,
		DocType:   req.DocType,
		CreatedAt: now,
	}
	version := &store.EvidenceVersion{
		ID:            store.NewID(store.PrefixVersion),
		EvidenceID:    ev.ID,
		VersionNumber: 1,
		Expiry:        req.Expiry,
		Notes:         req.Notes,
		CreatedAt:     now,
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertEvidence(ctx, ev); err != nil {
			return err
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &store.AuditRecord{
			ActorUserID: ident.UserID,
			ActorRole:   ident.Role,
			Action:      store.ActionCreateEvidence,
			ObjectType:  store.ObjectEvidence,
			ObjectID:    ev.ID,
			Metadata: store.Metadata{
				"factoryId": ident.FactoryID,
				"name":      req.Name,
				"docType":   req.DocType,
				"versionId": version.ID,
			},
		})
	})
	if err != nil {
		return nil, coerce(err, "failed to create evidence")
	}

	s.log.Info().
		Str("evidence_id", ev.ID).
		Str("factory_id", ident.FactoryID).
		Str("doc_type", req.DocType).
		Msg("Evidence created")

	return &EvidenceRef{EvidenceID: ev.ID, VersionID: version.ID}, nil
}

// AddVersion appends a new immutable version to existing evidence. The
// ledger alone computes the version number as max(existing)+1, inside the
// same transaction that inserts the row, so numbers stay contiguous under
// concurrency.
func (s *EvidenceService) AddVersion(ctx context.Context, ident auth.Identity, evidenceID string, req *AddVersionRequest) (*EvidenceRef, error) {
	if err := auth.RequireRole(ident, auth.RoleFactory); err != nil {
		return nil, err
	}
	if err := validateExpiry(req.Expiry); err != nil {
		return nil, err
	}

	var ref *EvidenceRef
	err := s.store.Update(ctx, func(tx store.Tx) error {
		ev, err := tx.GetEvidence(ctx, evidenceID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("evidence", evidenceID)
		}
		if err != nil {
			return err
		}
		if err := auth.RequireOwnership(ev.FactoryID, ident); err != nil {
			return err
		}

		max, err := tx.MaxVersionNumber(ctx, evidenceID)
		if err != nil {
			return err
		}

		version := &store.EvidenceVersion{
			ID:            store.NewID(store.PrefixVersion),
			EvidenceID:    evidenceID,
			VersionNumber: max + 1,
			Expiry:        req.Expiry,
			Notes:         req.Notes,
			CreatedAt:     time.Now().UTC(),
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, &store.AuditRecord{
			ActorUserID: ident.UserID,
			ActorRole:   ident.Role,
			Action:      store.ActionAddVersion,
			ObjectType:  store.ObjectVersion,
			ObjectID:    version.ID,
			Metadata: store.Metadata{
				"factoryId":     ident.FactoryID,
				"evidenceId":    evidenceID,
				"versionNumber": version.VersionNumber,
			},
		}); err != nil {
			return err
		}

		ref = &EvidenceRef{EvidenceID: evidenceID, VersionID: version.ID}
		return nil
	})
	if err != nil {
		return nil, coerce(err, "failed to add evidence version")
	}

	s.log.Info().
		Str("evidence_id", evidenceID).
		Str("version_id", ref.VersionID).
		Str("factory_id", ident.FactoryID).
		Msg("Evidence version added")

	return ref, nil
}

// validateExpiry checks the YYYY-MM-DD format of an optional expiry date.
func validateExpiry(expiry *string) error {
	if expiry == nil || *expiry == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", *expiry); err != nil {
		return apperr.InvalidInput("expiry", "invalid date format, expected YYYY-MM-DD")
	}
	return nil
}
