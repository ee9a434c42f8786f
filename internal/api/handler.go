// Package api exposes scanning and the execution ledger over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"github.com/af-corp/sentinel-gate/internal/auth"
	"github.com/af-corp/sentinel-gate/internal/breaker"
	"github.com/af-corp/sentinel-gate/internal/httputil"
	"github.com/af-corp/sentinel-gate/internal/ledger"
	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/types"
)

const maxBodyBytes = 4 << 20

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	scan     *scan.Service
	ledger   *ledger.Ledger
	breakers *breaker.Set
	logger   *slog.Logger
	version  string
}

func NewHandler(svc *scan.Service, l *ledger.Ledger, breakers *breaker.Set, logger *slog.Logger, version string) *Handler {
	return &Handler{scan: svc, ledger: l, breakers: breakers, logger: logger, version: version}
}

type healthResponse struct {
	Status       string           `json:"status"`
	Version      string           `json:"version"`
	Dependencies []breaker.Status `json:"dependencies"`
}

// Health handles GET /sentinel/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Version: h.version, Dependencies: []breaker.Status{}}
	if h.breakers != nil {
		resp.Dependencies = h.breakers.Snapshot()
	}
	for _, d := range resp.Dependencies {
		if d.State != breaker.StateClosed.String() {
			resp.Status = "degraded"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Scan handles POST /v1/scan.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	var req scan.Request
	if !h.decode(w, r, scanSchema, &req) {
		return
	}
	rep, err := h.scan.Scan(r.Context(), req)
	if errors.Is(err, scan.ErrInvalidRequest) {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("scan failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Scan failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rep)
}

// executionRequest is the webhook body for both create and append. The
// presence of prompt selects create.
type executionRequest struct {
	ExecutionID    string               `json:"execution_id"`
	Prompt         *string              `json:"prompt"`
	AgentName      string               `json:"agent_name"`
	Task           string               `json:"task"`
	Output         string               `json:"output"`
	SentinelResult types.SentinelResult `json:"sentinel_result"`
}

// Execution handles POST /v1/executions.
func (h *Handler) Execution(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	var req executionRequest
	if !h.decode(w, r, executionSchema, &req) {
		return
	}

	if req.Prompt != nil {
		e, err := h.ledger.Create(r.Context(), ledger.CreateRequest{
			ExecutionID:    req.ExecutionID,
			Prompt:         *req.Prompt,
			SentinelResult: req.SentinelResult,
		})
		if err != nil {
			h.writeLedgerError(w, reqID, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, e)
		return
	}

	e, err := h.ledger.AppendStep(r.Context(), ledger.StepRequest{
		ExecutionID:    req.ExecutionID,
		AgentName:      req.AgentName,
		Task:           req.Task,
		Output:         req.Output,
		SentinelResult: req.SentinelResult,
	})
	if err != nil {
		h.writeLedgerError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

// Override handles POST /v1/executions/override. Without user_id the
// authenticated key owner is recorded as the actor.
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	var req ledger.OverrideRequest
	if !h.decode(w, r, overrideSchema, &req) {
		return
	}
	if req.Actor == "" {
		if info, ok := auth.AuthFromContext(r.Context()); ok {
			req.Actor = info.Owner
		}
	}
	res, err := h.ledger.Override(r.Context(), req)
	if err != nil {
		h.writeLedgerError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// Finalize handles POST /v1/executions/finalize.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	var req ledger.FinalizeRequest
	if !h.decode(w, r, finalizeSchema, &req) {
		return
	}
	e, err := h.ledger.Finalize(r.Context(), req)
	if err != nil {
		h.writeLedgerError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

type listResponse struct {
	Executions []*ledger.Execution `json:"executions"`
	Count      int                 `json:"count"`
}

// List handles GET /v1/executions?limit=N.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			httputil.WriteBadRequestError(w, reqID, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.ledger.List(r.Context(), limit)
	if err != nil {
		h.writeLedgerError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Executions: list, Count: len(list)})
}

// Get handles GET /v1/executions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(w)
	e, err := h.ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

// decode reads the body, validates it against schema and unmarshals it into
// v. It writes the error response and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, v any) bool {
	reqID := requestID(w)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return false
	}
	defer r.Body.Close()

	if err := validate(schema, body); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, reqID string, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		httputil.WriteBadRequestError(w, reqID, err.Error())
	case errors.Is(err, ledger.ErrForbidden):
		httputil.WriteForbiddenError(w, reqID, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		httputil.WriteNotFoundError(w, reqID, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		httputil.WriteConflictError(w, reqID, err.Error())
	default:
		h.logger.Error("ledger operation failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Ledger operation failed")
	}
}

func requestID(w http.ResponseWriter) string {
	return w.Header().Get("X-Request-ID")
}
