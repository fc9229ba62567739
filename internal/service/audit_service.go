package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/attestia/be-evidence-exchange/internal/store"
)

// DefaultAuditLimit caps the audit listing when the caller supplies no limit.
const DefaultAuditLimit = 100

// AuditService reads the immutable audit trail. Any authenticated identity
// may read the full log; there is no scoping by factory or role on read.
type AuditService struct {
	store store.Store
	log   zerolog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(st store.Store, log zerolog.Logger) *AuditService {
	return &AuditService{store: st, log: log}
}

// List returns the most recent limit records across all actors and object
// types, newest first.
func (s *AuditService) List(ctx context.Context, limit int) ([]*store.AuditRecord, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	var records []*store.AuditRecord
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		records, err = tx.ListAudit(ctx, limit)
		return err
	})
	if err != nil {
		return nil, coerce(err, "failed to list audit log")
	}
	return records, nil
}
