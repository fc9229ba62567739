// Package postgres is the production store driver, backed by a pgx
// connection pool. Update transactions run at repeatable read; the lookups
// whose results gate writes take row locks so that concurrent operations on
// the same evidence or request serialize (e.g. two concurrent version
// additions never compute the same next version number).
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

// Config holds the connection settings for the pool.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// Store implements store.Store on postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects the pool and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS evidence (
		id         TEXT PRIMARY KEY,
		factory_id TEXT NOT NULL,
		name       TEXT NOT NULL,
		doc_type   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS evidence_versions (
		id             TEXT PRIMARY KEY,
		evidence_id    TEXT NOT NULL REFERENCES evidence(id),
		version_number INTEGER NOT NULL,
		expiry         TEXT,
		notes          TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (evidence_id, version_number)
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id         TEXT PRIMARY KEY,
		buyer_id   TEXT NOT NULL,
		factory_id TEXT NOT NULL,
		title      TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS request_items (
		id           TEXT PRIMARY KEY,
		request_id   TEXT NOT NULL REFERENCES requests(id),
		doc_type     TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		evidence_id  TEXT,
		version_id   TEXT,
		fulfilled_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS auth_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL,
		factory_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id            BIGSERIAL PRIMARY KEY,
		timestamp     TIMESTAMPTZ NOT NULL DEFAULT now(),
		actor_user_id TEXT NOT NULL,
		actor_role    TEXT NOT NULL,
		action        TEXT NOT NULL,
		object_type   TEXT NOT NULL,
		object_id     TEXT NOT NULL,
		metadata      JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_factory ON requests (factory_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_request_items_request ON request_items (request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_versions_evidence ON evidence_versions (evidence_id)`,
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

// Update runs fn in a repeatable-read read-write transaction.
func (s *Store) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, writable bool, fn func(store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&tx{tx: pgtx, writable: writable}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ── transaction ──────────────────────────────────────────────────────────────

type tx struct {
	tx       pgx.Tx
	writable bool
}

func (t *tx) InsertEvidence(ctx context.Context, ev *store.Evidence) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO evidence (id, factory_id, name, doc_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.FactoryID, ev.Name, ev.DocType, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (t *tx) GetEvidence(ctx context.Context, id string) (*store.Evidence, error) {
	query := `
		SELECT id, factory_id, name, doc_type, created_at
		FROM evidence
		WHERE id = $1
	`
	if t.writable {
		// Lock the parent row so version numbering and fulfillment against
		// the same evidence serialize.
		query += ` FOR UPDATE`
	}

	ev := &store.Evidence{}
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&ev.ID, &ev.FactoryID, &ev.Name, &ev.DocType, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	return ev, nil
}

func (t *tx) InsertVersion(ctx context.Context, v *store.EvidenceVersion) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO evidence_versions (id, evidence_id, version_number, expiry, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.EvidenceID, v.VersionNumber, v.Expiry, v.Notes, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert evidence version: %w", err)
	}
	return nil
}

func (t *tx) MaxVersionNumber(ctx context.Context, evidenceID string) (int, error) {
	var max int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_number), 0)
		FROM evidence_versions
		WHERE evidence_id = $1
	`, evidenceID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return max, nil
}

func (t *tx) GetVersion(ctx context.Context, evidenceID, versionID string) (*store.EvidenceVersion, error) {
	v := &store.EvidenceVersion{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, evidence_id, version_number, expiry, notes, created_at
		FROM evidence_versions
		WHERE id = $1 AND evidence_id = $2
	`, versionID, evidenceID).Scan(
		&v.ID, &v.EvidenceID, &v.VersionNumber, &v.Expiry, &v.Notes, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence version: %w", err)
	}
	return v, nil
}

func (t *tx) InsertRequest(ctx context.Context, req *store.Request) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO requests (id, buyer_id, factory_id, title, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.BuyerID, req.FactoryID, req.Title, req.Status, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (t *tx) InsertRequestItem(ctx context.Context, item *store.RequestItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO request_items (id, request_id, doc_type, status)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.RequestID, item.DocType, item.Status)
	if err != nil {
		return fmt.Errorf("insert request item: %w", err)
	}
	return nil
}

func (t *tx) GetRequest(ctx context.Context, id string) (*store.Request, error) {
	query := `
		SELECT id, buyer_id, factory_id, title, status, created_at
		FROM requests
		WHERE id = $1
	`
	if t.writable {
		// Serializes fulfillment and the status recount per request.
		query += ` FOR UPDATE`
	}

	req := &store.Request{}
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.BuyerID, &req.FactoryID, &req.Title, &req.Status, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

func (t *tx) GetRequestItem(ctx context.Context, requestID, itemID string) (*store.RequestItem, error) {
	item := &store.RequestItem{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, request_id, doc_type, status, evidence_id, version_id, fulfilled_at
		FROM request_items
		WHERE id = $1 AND request_id = $2
	`, itemID, requestID).Scan(
		&item.ID, &item.RequestID, &item.DocType, &item.Status,
		&item.EvidenceID, &item.VersionID, &item.FulfilledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request item: %w", err)
	}
	return item, nil
}

func (t *tx) MarkItemFulfilled(ctx context.Context, itemID, evidenceID, versionID string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE request_items
		SET status = $2, evidence_id = $3, version_id = $4, fulfilled_at = $5
		WHERE id = $1
	`, itemID, store.ItemFulfilled, evidenceID, versionID, at)
	if err != nil {
		return fmt.Errorf("mark item fulfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) CountItems(ctx context.Context, requestID string) (total, fulfilled int, err error) {
	err = t.tx.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2)
		FROM request_items
		WHERE request_id = $1
	`, requestID, store.ItemFulfilled).Scan(&total, &fulfilled)
	if err != nil {
		return 0, 0, fmt.Errorf("count request items: %w", err)
	}
	return total, fulfilled, nil
}

func (t *tx) SetRequestStatus(ctx context.Context, requestID string, status store.RequestStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE requests SET status = $2 WHERE id = $1
	`, requestID, status)
	if err != nil {
		return fmt.Errorf("set request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListRequestsForFactory(ctx context.Context, factoryID string) ([]*store.Request, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, buyer_id, factory_id, title, status, created_at
		FROM requests
		WHERE factory_id = $1
		ORDER BY created_at DESC, id DESC
	`, factoryID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*store.Request, 0)
	for rows.Next() {
		req := &store.Request{}
		if err := rows.Scan(&req.ID, &req.BuyerID, &req.FactoryID, &req.Title, &req.Status, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	for _, req := range requests {
		items, err := t.listItems(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		req.Items = items
	}
	return requests, nil
}

func (t *tx) listItems(ctx context.Context, requestID string) ([]*store.RequestItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, request_id, doc_type, status, evidence_id, version_id, fulfilled_at
		FROM request_items
		WHERE request_id = $1
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list request items: %w", err)
	}
	defer rows.Close()

	items := make([]*store.RequestItem, 0)
	for rows.Next() {
		item := &store.RequestItem{}
		if err := rows.Scan(&item.ID, &item.RequestID, &item.DocType, &item.Status,
			&item.EvidenceID, &item.VersionID, &item.FulfilledAt); err != nil {
			return nil, fmt.Errorf("scan request item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *tx) InsertSession(ctx context.Context, s *store.Session) error {
	var factoryID *string
	if s.FactoryID != "" {
		factoryID = &s.FactoryID
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO auth_tokens (token, user_id, role, factory_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.Token, s.UserID, s.Role, factoryID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (t *tx) GetSession(ctx context.Context, token string) (*store.Session, error) {
	s := &store.Session{}
	var role string
	var factoryID *string
	err := t.tx.QueryRow(ctx, `
		SELECT token, user_id, role, factory_id, created_at, expires_at
		FROM auth_tokens
		WHERE token = $1
	`, token).Scan(&s.Token, &s.UserID, &role, &factoryID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Role = auth.Role(role)
	if factoryID != nil {
		s.FactoryID = *factoryID
	}
	return s, nil
}

func (t *tx) AppendAudit(ctx context.Context, rec *store.AuditRecord) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO audit_log (actor_user_id, actor_role, action, object_type, object_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, timestamp
	`, rec.ActorUserID, rec.ActorRole, rec.Action, rec.ObjectType, rec.ObjectID, metadataJSON,
	).Scan(&rec.Seq, &rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return nil
}

func (t *tx) ListAudit(ctx context.Context, limit int) ([]*store.AuditRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, timestamp, actor_user_id, actor_role, action, object_type, object_id, metadata
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	records := make([]*store.AuditRecord, 0, limit)
	for rows.Next() {
		rec := &store.AuditRecord{}
		var metadataJSON []byte
		if err := rows.Scan(&rec.Seq, &rec.Timestamp, &rec.ActorUserID, &rec.ActorRole,
			&rec.Action, &rec.ObjectType, &rec.ObjectID, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}
