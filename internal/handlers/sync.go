package handlers

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/middleware"
	"github.com/ukydev/care-assets/internal/outbox"
)

const flushTimeout = 2 * time.Minute

// SyncHandler exposes the offline queue: the indicator, manual flushes and
// dead-letter handling.
type SyncHandler struct {
	queue  *outbox.Queue
	online func() bool
}

// NewSyncHandler creates a sync handler. online reports connectivity.
func NewSyncHandler(queue *outbox.Queue, online func() bool) *SyncHandler {
	return &SyncHandler{queue: queue, online: online}
}

type syncStatus struct {
	outbox.Stats
	Online bool `json:"online"`
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, syncStatus{Stats: h.queue.Stats(), Online: h.online()})
}

// Flush handles POST /api/sync/flush. It replays the queue and waits for the
// pass; a pass already running is joined rather than repeated.
func (h *SyncHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if !h.online() {
		writeJSON(w, http.StatusServiceUnavailable, syncStatus{Stats: h.queue.Stats()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), flushTimeout)
	defer cancel()

	log.WithField("actor", middleware.Actor(r.Context())).Info("Manual flush requested")
	result, err := h.queue.Flush(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeadLetters handles GET /api/sync/dead-letters.
func (h *SyncHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queue.DeadLetters())
}

// Requeue handles POST /api/sync/dead-letters/{id}/requeue.
func (h *SyncHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	m, err := h.queue.Requeue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	log.WithFields(log.Fields{"mutation_id": m.ID, "actor": middleware.Actor(r.Context())}).Info("Dead letter requeued")
	writeJSON(w, http.StatusOK, m)
}

// Discard handles DELETE /api/sync/dead-letters/{id}.
func (h *SyncHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.queue.Discard(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	log.WithFields(log.Fields{"mutation_id": id, "actor": middleware.Actor(r.Context())}).Info("Dead letter discarded")
	w.WriteHeader(http.StatusNoContent)
}
