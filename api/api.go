// Package api is the auxiliary request/response surface next to the
// relay: message edit/delete with sender authorization, the health
// probe, registry stats, and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-relay-server/store"
)

// StatsSource reports live registry counts for the /stats endpoint.
type StatsSource interface {
	Stats() (rooms, identities, clients int)
}

type api struct {
	store *store.Store
	stats StatsSource
}

// NewRouter builds the HTTP routing table. The WebSocket endpoint is
// attached by the caller.
func NewRouter(st *store.Store, stats StatsSource) *mux.Router {
	a := &api{store: st, stats: stats}

	r := mux.NewRouter()
	r.HandleFunc("/health", a.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", a.statsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", a.editMessageHandler).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", a.deleteMessageHandler).Methods(http.MethodDelete)
	return r
}

func (a *api) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) statsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, identities, clients := a.stats.Stats()
	writeJSON(w, http.StatusOK, map[string]int{
		"rooms":      rooms,
		"identities": identities,
		"clients":    clients,
	})
}

type editRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

func (a *api) editMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if id == "" || req.From == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "id, from and text are required")
		return
	}

	msg, err := a.store.EditMessage(id, req.From, req.Text)
	if err != nil {
		a.writeStoreError(w, "edit", id, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type deleteRequest struct {
	From string `json:"from"`
}

func (a *api) deleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if id == "" || req.From == "" {
		writeError(w, http.StatusBadRequest, "id and from are required")
		return
	}

	if err := a.store.DeleteMessage(id, req.From); err != nil {
		a.writeStoreError(w, "delete", id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (a *api) writeStoreError(w http.ResponseWriter, op, id string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "sender does not own message")
	default:
		slog.Error("message "+op+" failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
