package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/assets"
	"github.com/ukydev/care-assets/internal/db"
	"github.com/ukydev/care-assets/internal/outbox"
	"github.com/ukydev/care-assets/internal/syncerr"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

// writeError maps service errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, assets.ErrInvalidAsset), errors.Is(err, assets.ErrInvalidRecord),
		errors.Is(err, outbox.ErrInvalidMutation):
		status = http.StatusBadRequest
	case errors.Is(err, assets.ErrAssetNotFound), errors.Is(err, db.ErrNotFound),
		errors.Is(err, outbox.ErrUnknownMutation):
		status = http.StatusNotFound
	case errors.Is(err, assets.ErrAssetRetired), errors.Is(err, assets.ErrAssetExists):
		status = http.StatusConflict
	case errors.Is(err, assets.ErrOffline), syncerr.IsTransient(err):
		status = http.StatusServiceUnavailable
	case syncerr.IsPermanent(err):
		status = http.StatusUnprocessableEntity
		resp.Reason = syncerr.Reason(err)
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func decodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
