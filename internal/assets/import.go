package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/schedule"
)

// ImportRow is one spreadsheet row after its columns have been mapped.
type ImportRow struct {
	Name             string `json:"name"`
	Category         string `json:"category"`
	SerialNumber     string `json:"serial_number"`
	QRCode           string `json:"qr_code"`
	Facility         string `json:"facility"`
	Location         string `json:"location"`
	AssignedTo       string `json:"assigned_to"`
	LastServiceDate  string `json:"last_service_date"`
	ServiceFrequency string `json:"service_frequency"`
	Notes            string `json:"notes"`
}

// ImportResult reports the outcome for one row. Row is 1-based.
type ImportResult struct {
	Row     int    `json:"row"`
	AssetID string `json:"asset_id,omitempty"`
	Queued  bool   `json:"queued,omitempty"`
	Error   string `json:"error,omitempty"`
}

var importDateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", time.RFC3339}

// ImportRows creates one asset per row. A bad row is reported and skipped;
// it does not stop the rest of the import.
func (s *Service) ImportRows(ctx context.Context, actor string, rows []ImportRow) []ImportResult {
	results := make([]ImportResult, 0, len(rows))
	for i, row := range rows {
		result := ImportResult{Row: i + 1}
		asset, err := row.asset()
		if err == nil {
			var res WriteResult
			asset, res, err = s.Create(ctx, actor, asset)
			result.AssetID = asset.ID
			result.Queued = res.Queued
		}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
		if ctx.Err() != nil {
			break
		}
	}
	return results
}

func (r ImportRow) asset() (models.Asset, error) {
	a := models.Asset{
		Name:         strings.TrimSpace(r.Name),
		Category:     models.AssetCategory(strings.ToLower(strings.TrimSpace(r.Category))),
		SerialNumber: strings.TrimSpace(r.SerialNumber),
		QRCode:       strings.TrimSpace(r.QRCode),
		Facility:     strings.TrimSpace(r.Facility),
		Location:     strings.TrimSpace(r.Location),
		AssignedTo:   strings.TrimSpace(r.AssignedTo),
		Notes:        strings.TrimSpace(r.Notes),
	}
	if text := strings.TrimSpace(r.ServiceFrequency); text != "" {
		days, ok := schedule.ParseFrequency(text)
		if !ok {
			return models.Asset{}, fmt.Errorf("%w: cannot read service frequency %q", ErrInvalidAsset, text)
		}
		a.ServiceFrequencyDays = &days
	}
	if text := strings.TrimSpace(r.LastServiceDate); text != "" {
		date, err := parseImportDate(text)
		if err != nil {
			return models.Asset{}, err
		}
		a.LastServiceDate = &date
	}
	return a, nil
}

func parseImportDate(text string) (time.Time, error) {
	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot read date %q", ErrInvalidAsset, text)
}
