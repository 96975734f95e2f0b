package assets

import (
	"strings"

	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/schedule"
)

// Filter narrows List results. Empty fields match everything. Retired
// assets are hidden unless IncludeRetired is set or Status asks for them.
type Filter struct {
	Facility       string
	Category       models.AssetCategory
	Status         models.AssetStatus
	ServiceStatus  schedule.ServiceStatus
	Search         string
	IncludeRetired bool
}

// Match reports whether a, already derived, passes the filter.
func (f Filter) Match(a models.Asset) bool {
	if f.Facility != "" && !strings.EqualFold(a.Facility, f.Facility) {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Status != "" {
		if a.Status != f.Status {
			return false
		}
	} else if a.Status == models.AssetRetired && !f.IncludeRetired {
		return false
	}
	if f.ServiceStatus != "" && a.ServiceStatus != f.ServiceStatus {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(a.Name), q) ||
			strings.Contains(strings.ToLower(a.SerialNumber), q) ||
			strings.Contains(strings.ToLower(a.QRCode), q)
	}
	return true
}
