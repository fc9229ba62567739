// Package handler shapes the HTTP surface over the services. Handlers
// resolve the caller identity and decode/encode JSON; every business rule,
// including role checks, lives in the services.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/attestia/be-evidence-exchange/internal/apperr"
	"github.com/attestia/be-evidence-exchange/internal/auth"
	"github.com/attestia/be-evidence-exchange/internal/service"
	"github.com/attestia/be-evidence-exchange/internal/store"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	identity *service.IdentityService
	evidence *service.EvidenceService
	requests *service.RequestService
	audit    *service.AuditService
	log      zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	identity *service.IdentityService,
	evidence *service.EvidenceService,
	requests *service.RequestService,
	audit *service.AuditService,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		identity: identity,
		evidence: evidence,
		requests: requests,
		audit:    audit,
		log:      log,
	}
}

// timeFormat keeps timestamps in the responses UTC with microsecond
// precision.
const timeFormat = "2006-01-02T15:04:05.999999Z07:00"

// ── request/response shapes ──────────────────────────────────────────────────

type loginRequest struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	FactoryID string `json:"factoryId"`
}

type loginResponse struct {
	Token     string  `json:"token"`
	UserID    string  `json:"userId"`
	Role      string  `json:"role"`
	FactoryID *string `json:"factoryId"`
}

type evidenceCreateRequest struct {
	Name    string  `json:"name"`
	DocType string  `json:"docType"`
	Expiry  *string `json:"expiry"`
	Notes   *string `json:"notes"`
}

type versionCreateRequest struct {
	Notes  *string `json:"notes"`
	Expiry *string `json:"expiry"`
}

type evidenceResponse struct {
	EvidenceID string `json:"evidenceId"`
	VersionID  string `json:"versionId"`
}

type requestCreateRequest struct {
	FactoryID string `json:"factoryId"`
	Title     string `json:"title"`
	Items     []struct {
		DocType string `json:"docType"`
	} `json:"items"`
}

type requestCreateResponse struct {
	RequestID string   `json:"requestId"`
	Status    string   `json:"status"`
	ItemIDs   []string `json:"itemIds"`
}

type fulfillItemRequest struct {
	EvidenceID string `json:"evidenceId"`
	VersionID  string `json:"versionId"`
}

type fulfillItemResponse struct {
	Success bool   `json:"success"`
	ItemID  string `json:"itemId"`
	Status  string `json:"status"`
}

type requestItemView struct {
	ID          string  `json:"id"`
	DocType     string  `json:"docType"`
	Status      string  `json:"status"`
	EvidenceID  *string `json:"evidenceId"`
	VersionID   *string `json:"versionId"`
	FulfilledAt *string `json:"fulfilledAt"`
}

type requestView struct {
	RequestID string            `json:"requestId"`
	BuyerID   string            `json:"buyerId"`
	FactoryID string            `json:"factoryId"`
	Title     string            `json:"title"`
	Status    string            `json:"status"`
	CreatedAt string            `json:"createdAt"`
	Items     []requestItemView `json:"items"`
}

type auditEntryView struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"timestamp"`
	ActorUserID string         `json:"actorUserId"`
	ActorRole   string         `json:"actorRole"`
	Action      string         `json:"action"`
	ObjectType  string         `json:"objectType"`
	ObjectID    string         `json:"objectId"`
	Metadata    store.Metadata `json:"metadata"`
}

// ── endpoints ────────────────────────────────────────────────────────────────

// Root describes the API.
func (h *HTTPHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "Evidence Exchange API",
		"version": "1.0",
		"endpoints": map[string]string{
			"auth":     "POST /auth/login",
			"evidence": "POST /evidence, POST /evidence/{id}/versions",
			"requests": "POST /requests, GET /factory/requests, POST /requests/{rid}/items/{iid}/fulfill",
			"audit":    "GET /audit",
		},
	})
}

// Login authenticates an asserted identity and returns a bearer token.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return
	}

	session, err := h.identity.Login(r.Context(), &service.LoginRequest{
		UserID:    req.UserID,
		Role:      auth.Role(req.Role),
		FactoryID: req.FactoryID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := loginResponse{
		Token:  session.Token,
		UserID: session.UserID,
		Role:   string(session.Role),
	}
	if session.FactoryID != "" {
		resp.FactoryID = &session.FactoryID
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateEvidence creates an evidence document with its initial version.
func (h *HTTPHandler) CreateEvidence(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req evidenceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return
	}

	ref, err := h.evidence.Create(r.Context(), ident, &service.CreateEvidenceRequest{
		Name:    req.Name,
		DocType: req.DocType,
		Expiry:  req.Expiry,
		Notes:   req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evidenceResponse{EvidenceID: ref.EvidenceID, VersionID: ref.VersionID})
}

// AddVersion appends a version to existing evidence.
func (h *HTTPHandler) AddVersion(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req versionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return
	}

	ref, err := h.evidence.AddVersion(r.Context(), ident, r.PathValue("id"), &service.AddVersionRequest{
		Notes:  req.Notes,
		Expiry: req.Expiry,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evidenceResponse{EvidenceID: ref.EvidenceID, VersionID: ref.VersionID})
}

// CreateRequest creates a buyer request with its items.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req requestCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return
	}

	input := &service.CreateRequestInput{
		FactoryID: req.FactoryID,
		Title:     req.Title,
		Items:     make([]service.RequestItemInput, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, service.RequestItemInput{DocType: item.DocType})
	}

	result, err := h.requests.Create(r.Context(), ident, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestCreateResponse{
		RequestID: result.RequestID,
		Status:    string(result.Status),
		ItemIDs:   result.ItemIDs,
	})
}

// ListFactoryRequests returns the caller's factory's requests.
func (h *HTTPHandler) ListFactoryRequests(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	requests, err := h.requests.ListForFactory(r.Context(), ident)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]requestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, toRequestView(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": views})
}

// FulfillItem fulfills one request item with an evidence version.
func (h *HTTPHandler) FulfillItem(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req fulfillItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "invalid JSON"))
		return
	}

	item, err := h.requests.Fulfill(r.Context(), ident,
		r.PathValue("requestID"), r.PathValue("itemID"),
		&service.FulfillInput{EvidenceID: req.EvidenceID, VersionID: req.VersionID})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fulfillItemResponse{
		Success: true,
		ItemID:  item.ID,
		Status:  string(item.Status),
	})
}

// ListAudit returns the most recent audit records, newest first.
func (h *HTTPHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authenticate(r); err != nil {
		writeError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apperr.InvalidInput("limit", "must be an integer"))
			return
		}
		limit = n
	}

	records, err := h.audit.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]auditEntryView, 0, len(records))
	for _, rec := range records {
		views = append(views, auditEntryView{
			ID:          rec.Seq,
			Timestamp:   rec.Timestamp.Format(timeFormat),
			ActorUserID: rec.ActorUserID,
			ActorRole:   string(rec.ActorRole),
			Action:      string(rec.Action),
			ObjectType:  string(rec.ObjectType),
			ObjectID:    rec.ObjectID,
			Metadata:    rec.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

// ── helpers ──────────────────────────────────────────────────────────────────

// authenticate resolves the bearer token into a caller identity.
func (h *HTTPHandler) authenticate(r *http.Request) (auth.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return auth.Identity{}, apperr.Unauthenticated("missing or invalid authorization header")
	}
	return h.identity.Resolve(r.Context(), strings.TrimPrefix(header, "Bearer "))
}

func toRequestView(req *store.Request) requestView {
	view := requestView{
		RequestID: req.ID,
		BuyerID:   req.BuyerID,
		FactoryID: req.FactoryID,
		Title:     req.Title,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt.Format(timeFormat),
		Items:     make([]requestItemView, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		iv := requestItemView{
			ID:         item.ID,
			DocType:    item.DocType,
			Status:     string(item.Status),
			EvidenceID: item.EvidenceID,
			VersionID:  item.VersionID,
		}
		if item.FulfilledAt != nil {
			at := item.FulfilledAt.Format(timeFormat)
			iv.FulfilledAt = &at
		}
		view.Items = append(view.Items, iv)
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]any{
		"error": map[string]string{
			"code":    string(apperr.CodeOf(err)),
			"message": apperr.MessageOf(err),
		},
	})
}
