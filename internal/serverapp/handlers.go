package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cmsquery/internal/entity"
	"cmsquery/internal/logging"
	"cmsquery/internal/observability"
	"cmsquery/internal/resolver"
	"cmsquery/internal/schema"
)

const maxRequestBody = 1 << 20

// statusClientClosedRequest is the nginx convention for a client that went
// away before the response was written.
const statusClientClosedRequest = 499

// apiHandler exposes the query service over JSON. Request bodies decode
// directly into the resolver request types; the entity or query name comes
// from the path.
type apiHandler struct {
	service *resolver.Service
	schemas *schema.Resolver
	source  schema.Provider
	reloads *observability.SchemaReloadMetrics
}

// Routes returns the query routes, mounted under /api.
func (h *apiHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/entities/{entity}", func(r chi.Router) {
		r.Post("/list", h.list)
		r.Post("/single", h.single)
		r.Post("/count", h.count)
		r.Post("/partial", h.partial)
	})
	r.Post("/queries/{name}", h.named)
	return r
}

// AdminRoutes returns the cache management routes, mounted under /admin.
func (h *apiHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/schema/entities", h.entities)
	r.Post("/schema/invalidate", h.invalidate)
	return r
}

func (h *apiHandler) list(w http.ResponseWriter, r *http.Request) {
	var req resolver.Request
	if !decodeBody(w, r, &req) {
		return
	}
	req.Entity = chi.URLParam(r, "entity")
	records, err := h.service.List(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

func (h *apiHandler) single(w http.ResponseWriter, r *http.Request) {
	var req resolver.Request
	if !decodeBody(w, r, &req) {
		return
	}
	req.Entity = chi.URLParam(r, "entity")
	record, err := h.service.Single(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": record})
}

func (h *apiHandler) count(w http.ResponseWriter, r *http.Request) {
	var req resolver.Request
	if !decodeBody(w, r, &req) {
		return
	}
	req.Entity = chi.URLParam(r, "entity")
	n, err := h.service.Count(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (h *apiHandler) partial(w http.ResponseWriter, r *http.Request) {
	var req resolver.PartialRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Entity = chi.URLParam(r, "entity")
	records, err := h.service.Partial(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

func (h *apiHandler) named(w http.ResponseWriter, r *http.Request) {
	var req resolver.NamedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = chi.URLParam(r, "name")
	records, err := h.service.Named(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}

type entitySummary struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	TableName   string `json:"tableName"`
}

// entities lists the definitions visible at ?status= (published by default).
func (h *apiHandler) entities(w http.ResponseWriter, r *http.Request) {
	status := entity.PublicationStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = entity.StatusPublished
	case entity.StatusPublished, entity.StatusDraft:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("unsupported status %q", status)})
		return
	}
	defs, err := h.schemas.AllEntities(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]entitySummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, entitySummary{Name: def.Name, DisplayName: def.DisplayName, TableName: def.Table()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

type invalidateRequest struct {
	// Entity limits invalidation to one entity and everything that links to
	// it. Empty reloads the source and clears every cache.
	Entity string `json:"entity"`
}

func (h *apiHandler) invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	reqLogger := logging.FromContext(ctx)
	reqLogger.Info("admin endpoint accessed",
		slog.String("operation", "schema_invalidate"),
		slog.String("entity", req.Entity),
		slog.String("remote_addr", r.RemoteAddr),
	)

	start := time.Now()
	if req.Entity != "" {
		h.schemas.Invalidate(ctx, req.Entity)
		h.reloads.RecordReload(ctx, time.Since(start), true, "admin")
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "entity": req.Entity})
		return
	}

	if reloader, ok := h.source.(schema.Reloader); ok {
		if err := reloader.Reload(); err != nil {
			h.reloads.RecordReload(ctx, time.Since(start), false, "admin")
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "schema reload failed"})
			return
		}
	}
	h.schemas.InvalidateAll(ctx)
	h.reloads.RecordReload(ctx, time.Since(start), true, "admin")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// decodeBody reads an optional JSON body into v. Unknown fields are
// rejected so misspelled arguments do not silently widen a query.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case resolver.IsNotFound(err):
		return http.StatusNotFound
	case resolver.IsBadRequest(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps a service error to a status. Server-side failures are
// logged and replaced with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("query failed", slog.String("error", err.Error()))
		message = "internal error"
	}
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
