package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

// sessionTTL is the fixed session lifetime. Sessions are one-shot grants:
// there is no refresh or renewal path.
const sessionTTL = 24 * time.Hour

// IdentityService issues and resolves bearer sessions. This is an
// identity-assertion model: no password or prior-identity check is performed.
type IdentityService struct {
	store store.Store
	log   zerolog.Logger
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(st store.Store, log zerolog.Logger) *IdentityService {
	return &IdentityService{store: st, log: log}
}

// LoginRequest asserts an identity to mint a session for.
type LoginRequest struct {
	UserID    string
	Role      auth.Role
	FactoryID string
}

// Login validates the role/factory pairing, mints an unguessable token and
// persists the session. The LOGIN audit record is appended in the same
// transaction as the session row.
func (s *IdentityService) Login(ctx context.Context, req *LoginRequest) (*store.Session, error) {
	if req.UserID == "" {
		return nil, apperr.InvalidInput("userId", "is required")
	}
	if !req.Role.Valid() {
		return nil, apperr.InvalidInput("role", fmt.Sprintf("unknown role '%s'", req.Role))
	}
	if req.Role == auth.RoleFactory && req.FactoryID == "" {
		return nil, apperr.InvalidInput("factoryId", "factory role requires a factoryId")
	}
	if req.Role == auth.RoleBuyer && req.FactoryID != "" {
		return nil, apperr.InvalidInput("factoryId", "buyer role must not carry a factoryId")
	}

	token, err := newToken()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to generate session token")
	}

	now := time.Now().UTC()
	session := &store.Session{
		Token:     token,
		UserID:    req.UserID,
		Role:      req.Role,
		FactoryID: req.FactoryID,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}

	metadata := store.Metadata{
		"userId": req.UserID,
		"role":   string(req.Role),
	}
	if req.FactoryID != "" {
		metadata["factoryId"] = req.FactoryID
	}

	err = s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertSession(ctx, session); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &store.AuditRecord{
			ActorUserID: req.UserID,
			ActorRole:   req.Role,
			Action:      store.ActionLogin,
			ObjectType:  store.ObjectSession,
			ObjectID:    req.UserID,
			Metadata:    metadata,
		})
	})
	if err != nil {
		return nil, coerce(err, "failed to create session")
	}

	s.log.Info().
		Str("user_id", req.UserID).
		Str("role", string(req.Role)).
		Str("factory_id", req.FactoryID).
		Msg("Session created")

	return session, nil
}

// Resolve validates a bearer token and returns the caller identity. A
// session resolves strictly before its expiry instant and fails at or after
// it.
func (s *IdentityService) Resolve(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, apperr.Unauthenticated("missing or invalid authorization header")
	}

	var ident auth.Identity
	err := s.store.View(ctx, func(tx store.Tx) error {
		session, err := tx.GetSession(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Unauthenticated("unknown token")
		}
		if err != nil {
			return err
		}
		if !time.Now().UTC().Before(session.ExpiresAt) {
			return apperr.Unauthenticated("token expired")
		}
		ident = session.Identity()
		return nil
	})
	if err != nil {
		return auth.Identity{}, coerce(err, "failed to resolve session")
	}
	return ident, nil
}

// newToken returns 32 random bytes, URL-safe base64 encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
