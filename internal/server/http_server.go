// Package server exposes the curator over HTTP. This is thin glue:
// routing and real authentication live upstream; the only contract here
// is that the contributor identity arrives in the X-Authenticated-User
// header installed by the gateway, never in a request body.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/phonologic/curator/internal/curator"
)

const identityHeader = "X-Authenticated-User"

// New builds the HTTP server for the curator service.
func New(svc *curator.Service, log *zap.Logger, addr string) *http.Server {
	h := &handlers{svc: svc, log: log.With(zap.String("module", "http"))}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/contributions", h.contributions)
	mux.HandleFunc("/api/contributions/resolve", h.resolve)
	mux.HandleFunc("/api/overrides", h.overrides)
	mux.HandleFunc("/api/overrides/history", h.history)
	mux.HandleFunc("/api/overrides/rollback", h.rollback)
	mux.HandleFunc("/api/audit", h.auditLog)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second, // Mitigate Slowloris
	}
}

type handlers struct {
	svc *curator.Service
	log *zap.Logger
}

// identity extracts the authenticated contributor. Requests without an
// identity are rejected; the body is never consulted for it.
func (h *handlers) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(identityHeader)
	if id == "" {
		http.Error(w, "missing authenticated identity", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

func (h *handlers) contributions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submit(w, r)
	case http.MethodGet:
		h.listPending(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Text  string `json:"text"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Submit(r.Context(), req.Text, identity, req.Force)
	if err != nil {
		h.log.Error("submit failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.identity(w, r); !ok {
		return
	}
	var req struct {
		ContributionID string `json:"contribution_id"`
		Action         string `json:"action"`
		Clarification  string `json:"clarification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Resolve(r.Context(), req.ContributionID, req.Action, req.Clarification)
	if err != nil {
		h.log.Error("resolve failed", zap.String("id", req.ContributionID), zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) listPending(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	page := intQuery(r, "page", 1)
	pageSize := intQuery(r, "page_size", 20)

	items, total, err := h.svc.ListPending(r.Context(), identity, page, pageSize)
	if errors.Is(err, curator.ErrRateLimited) {
		http.Error(w, "rate limit exceeded, try again shortly", http.StatusTooManyRequests)
		return
	}
	if err != nil {
		h.log.Error("list pending failed", zap.Error(err))
		http.Error(w, "listing unavailable", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": total,
	})
}

func (h *handlers) overrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := h.svc.GetOverrides(r.Context())
		if err != nil {
			http.Error(w, "overrides unavailable", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, http.StatusOK, all)
	case http.MethodDelete:
		if _, ok := h.identity(w, r); !ok {
			return
		}
		category := r.URL.Query().Get("category")
		key := r.URL.Query().Get("key")
		if category == "" || key == "" {
			http.Error(w, "category and key are required", http.StatusBadRequest)
			return
		}
		deleted, err := h.svc.DeleteOverride(r.Context(), category, key)
		if err != nil {
			http.Error(w, "delete unavailable", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.svc.GetHistory(r.Context(), intQuery(r, "limit", 100))
	if err != nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) rollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.identity(w, r); !ok {
		return
	}
	var req struct {
		Category string `json:"category"`
		Key      string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Category == "" || req.Key == "" {
		http.Error(w, "category and key are required", http.StatusBadRequest)
		return
	}

	restored, err := h.svc.Rollback(r.Context(), req.Category, req.Key)
	if err != nil {
		http.Error(w, "rollback unavailable", http.StatusServiceUnavailable)
		return
	}
	if restored == nil {
		http.Error(w, "no history for this override", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, restored)
}

func (h *handlers) auditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.svc.GetAuditLog(r.Context(), intQuery(r, "limit", 100), r.URL.Query().Get("action"))
	if err != nil {
		http.Error(w, "audit log unavailable", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("failed to encode response", zap.Error(err))
	}
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
