// Package api is the HTTP gateway: it validates request shape, calls the
// registry, and maps each outcome onto exactly one status code and machine
// readable error kind. It owns no state of its own.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eldlib/shelfreg/internal/config"
	"github.com/eldlib/shelfreg/internal/registry"
)

type API struct {
	reg         *registry.Registry
	logger      *zap.Logger
	limits      config.LimitsConfig
	pushLimiter *RateLimiter
}

func New(reg *registry.Registry, logger *zap.Logger, limits config.LimitsConfig) *API {
	return &API{
		reg:         reg,
		logger:      logger,
		limits:      limits,
		pushLimiter: NewRateLimiter(limits.PushRateLimit, time.Duration(limits.PushRateWindow)*time.Second),
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tools", a.handleListTools)
	mux.HandleFunc("GET /api/tools/{name}", a.handleGetTool)
	mux.HandleFunc("POST /api/tools/{name}", RateLimitMiddleware(a.pushLimiter, a.handlePushTool))
	mux.HandleFunc("PUT /api/tools/{name}", RateLimitMiddleware(a.pushLimiter, a.handlePushTool))
	mux.HandleFunc("DELETE /api/tools/{name}", RateLimitMiddleware(a.pushLimiter, a.handleDeleteTool))

	mux.HandleFunc("GET /api/tools/{name}/icon", a.handleGetIcon)
	mux.HandleFunc("GET /api/tools/{name}/revisions", a.handleGetRevisions)

	mux.HandleFunc("GET /api/health", a.handleHealth)
}

// handleListTools returns summaries of all tools, name ascending.
func (a *API) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := a.reg.ListAll(r.Context())
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}

// handleGetTool returns the full definition, icon included (base64 in JSON).
func (a *API) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool, err := a.reg.Fetch(r.Context(), name)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, tool)
}

// handlePushTool creates or updates a tool definition.
// POST/PUT /api/tools/{name}  {"label": "...", "script": "...", "icon": "<base64>", "author": "..."}
func (a *API) handlePushTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	r.Body = http.MaxBytesReader(w, r.Body, a.limits.MaxBodyBytes)
	var req struct {
		Label  string `json:"label"`
		Script string `json:"script"`
		Icon   []byte `json:"icon"`
		Author string `json:"author"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", "validation", http.StatusBadRequest)
		return
	}
	if int64(len(req.Icon)) > a.limits.MaxIconBytes {
		jsonError(w, "icon exceeds size limit", "validation", http.StatusBadRequest)
		return
	}

	result, err := a.reg.Push(r.Context(), registry.PushInput{
		Name:   name,
		Label:  req.Label,
		Script: req.Script,
		Icon:   req.Icon,
		Author: req.Author,
	})
	if err != nil {
		a.serviceError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	jsonResp(w, status, result)
}

// handleDeleteTool removes a tool from the active namespace.
func (a *API) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := a.reg.Remove(r.Context(), name); err != nil {
		a.serviceError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// handleGetIcon serves the raw icon bytes so shelf UIs can load them without
// JSON decoding. 404 covers both "no tool" and "tool has no icon".
func (a *API) handleGetIcon(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool, err := a.reg.Fetch(r.Context(), name)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	if len(tool.Icon) == 0 {
		jsonError(w, "tool has no icon", "not_found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(tool.Icon))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tool.Icon)
}

// handleGetRevisions returns the append-only history, newest first.
func (a *API) handleGetRevisions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	revs, err := a.reg.History(r.Context(), name)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"name":      name,
		"revisions": revs,
		"count":     len(revs),
	})
}

// handleHealth probes the storage layer with a count query.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := a.reg.Count(r.Context())
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"tools":  n,
	})
}

// serviceError maps registry error kinds onto HTTP statuses. Every kind has
// exactly one status; unknown errors are storage failures.
func (a *API) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *registry.ValidationError
	switch {
	case errors.As(err, &vErr):
		jsonError(w, vErr.Error(), "validation", http.StatusBadRequest)
	case errors.Is(err, registry.ErrNotFound):
		jsonError(w, "tool not found", "not_found", http.StatusNotFound)
	case errors.Is(err, registry.ErrConflict):
		jsonError(w, "concurrent write conflict, retry the request", "conflict", http.StatusConflict)
	default:
		a.logger.Error("storage failure",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		jsonError(w, "storage failure", "storage", http.StatusInternalServerError)
	}
}

// --- Helpers ---

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg, kind string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}
