package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/care-assets/internal/assets"
	"github.com/ukydev/care-assets/internal/middleware"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/schedule"
)

// AssetHandler serves asset reads, writes and quick actions.
type AssetHandler struct {
	svc *assets.Service
}

// NewAssetHandler creates an asset handler
func NewAssetHandler(svc *assets.Service) *AssetHandler {
	return &AssetHandler{svc: svc}
}

// writeResponse wraps a written entity with where it went.
type writeResponse struct {
	Data   interface{}        `json:"data,omitempty"`
	Result assets.WriteResult `json:"result"`
}

// writeStatus is 202 when the write only reached the offline queue.
func writeStatus(res assets.WriteResult, applied int) int {
	if res.Queued {
		return http.StatusAccepted
	}
	return applied
}

// List handles GET /api/assets.
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := assets.Filter{
		Facility:       q.Get("facility"),
		Category:       models.AssetCategory(q.Get("category")),
		Status:         models.AssetStatus(q.Get("status")),
		ServiceStatus:  schedule.ServiceStatus(q.Get("service_status")),
		Search:         q.Get("q"),
		IncludeRetired: q.Get("include_retired") == "true",
	}
	if filter.Category != "" && !models.IsValidCategory(filter.Category) {
		badRequest(w, "Invalid category")
		return
	}
	if filter.Status != "" && !models.IsValidAssetStatus(filter.Status) {
		badRequest(w, "Invalid status")
		return
	}
	if filter.ServiceStatus != "" && !filter.ServiceStatus.IsValid() {
		badRequest(w, "Invalid service status")
		return
	}

	list, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /api/assets/{id}.
func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ByQRCode handles GET /api/qr/{code}.
func (h *AssetHandler) ByQRCode(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.FindByQRCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Create handles POST /api/assets.
func (h *AssetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var a models.Asset
	if err := decodeJSON(r, &a); err != nil {
		badRequest(w, err.Error())
		return
	}
	created, res, err := h.svc.Create(r.Context(), middleware.Actor(r.Context()), a)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(res, http.StatusCreated), writeResponse{Data: created, Result: res})
}

// Update handles PUT /api/assets/{id}.
func (h *AssetHandler) Update(w http.ResponseWriter, r *http.Request) {
	var ch assets.Changes
	if err := decodeJSON(r, &ch); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := h.svc.Update(r.Context(), middleware.Actor(r.Context()), r.PathValue("id"), ch)
	h.respondWrite(w, res, err)
}

// Retire handles DELETE /api/assets/{id}.
func (h *AssetHandler) Retire(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Retire(r.Context(), middleware.Actor(r.Context()), r.PathValue("id"))
	h.respondWrite(w, res, err)
}

// Assign handles POST /api/assets/{id}/assign.
func (h *AssetHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssignedTo string `json:"assigned_to"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := h.svc.Assign(r.Context(), middleware.Actor(r.Context()), r.PathValue("id"), req.AssignedTo)
	h.respondWrite(w, res, err)
}

// MarkSpare handles POST /api/assets/{id}/spare.
func (h *AssetHandler) MarkSpare(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.MarkSpare(r.Context(), middleware.Actor(r.Context()), r.PathValue("id"))
	h.respondWrite(w, res, err)
}

// MarkOutOfService handles POST /api/assets/{id}/out-of-service. The body
// is optional.
func (h *AssetHandler) MarkOutOfService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, err.Error())
			return
		}
	}
	res, err := h.svc.MarkOutOfService(r.Context(), middleware.Actor(r.Context()), r.PathValue("id"), req.Note)
	h.respondWrite(w, res, err)
}

// ServiceHistory handles GET /api/assets/{id}/services.
func (h *AssetHandler) ServiceHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ServiceHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// RecordService handles POST /api/assets/{id}/services.
func (h *AssetHandler) RecordService(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceDate string             `json:"service_date"`
		Type        models.ServiceType `json:"type"`
		PerformedBy string             `json:"performed_by"`
		Description string             `json:"description"`
		Cost        *float64           `json:"cost"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	rec := models.ServiceRecord{
		Type:        req.Type,
		PerformedBy: req.PerformedBy,
		Description: req.Description,
		Cost:        req.Cost,
	}
	if req.ServiceDate != "" {
		date, err := parseDate(req.ServiceDate)
		if err != nil {
			badRequest(w, "service_date must be YYYY-MM-DD")
			return
		}
		rec.ServiceDate = date
	}

	created, res, err := h.svc.RecordService(r.Context(), middleware.Actor(r.Context()), r.PathValue("id"), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(res, http.StatusCreated), writeResponse{Data: created, Result: res})
}

// Import handles POST /api/assets/import with a JSON array of mapped rows.
func (h *AssetHandler) Import(w http.ResponseWriter, r *http.Request) {
	var rows []assets.ImportRow
	if err := decodeJSON(r, &rows); err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(rows) == 0 {
		badRequest(w, "No rows to import")
		return
	}
	results := h.svc.ImportRows(r.Context(), middleware.Actor(r.Context()), rows)
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": len(results) - failed,
		"failed":   failed,
		"results":  results,
	})
}

func (h *AssetHandler) respondWrite(w http.ResponseWriter, res assets.WriteResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, writeStatus(res, http.StatusOK), writeResponse{Result: res})
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
