package models

import (
	"time"

	"github.com/ukydev/care-assets/internal/schedule"
)

// Collection names in the remote store.
const (
	AssetsCollection         = "assets"
	ServiceRecordsCollection = "service_records"
	StaffCollection          = "staff"
)

// AssetCategory is the kind of equipment being tracked.
type AssetCategory string

const (
	CategoryHoist      AssetCategory = "hoist"
	CategoryWheelchair AssetCategory = "wheelchair"
	CategoryBed        AssetCategory = "bed"
	CategoryScale      AssetCategory = "scale"
	CategoryOther      AssetCategory = "other"
)

// AssetStatus is the operational state of an asset. Retired is terminal and
// replaces physical deletion.
type AssetStatus string

const (
	AssetActive       AssetStatus = "active"
	AssetSpare        AssetStatus = "spare"
	AssetOutOfService AssetStatus = "out-of-service"
	AssetRetired      AssetStatus = "retired"
)

// Asset represents a tracked piece of equipment in an aged-care facility.
type Asset struct {
	ID                   string                 `bson:"_id" json:"id"`
	Name                 string                 `bson:"name" json:"name"`
	Category             AssetCategory          `bson:"category" json:"category"`
	SerialNumber         string                 `bson:"serial_number" json:"serial_number"`
	QRCode               string                 `bson:"qr_code" json:"qr_code"`
	Facility             string                 `bson:"facility" json:"facility"`
	Location             string                 `bson:"location" json:"location"` // room or wing within the facility
	AssignedTo           string                 `bson:"assigned_to" json:"assigned_to"`
	Status               AssetStatus            `bson:"status" json:"status"`
	LastServiceDate      *time.Time             `bson:"last_service_date,omitempty" json:"last_service_date,omitempty"`
	ServiceFrequencyDays *int                   `bson:"service_frequency_days,omitempty" json:"service_frequency_days,omitempty"`
	NextServiceDue       *time.Time             `bson:"next_service_due,omitempty" json:"next_service_due,omitempty"`
	ServiceStatus        schedule.ServiceStatus `bson:"service_status" json:"service_status"`
	Notes                string                 `bson:"notes" json:"notes"`
	CreatedAt            time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time              `bson:"updated_at" json:"updated_at"`
	UpdatedBy            string                 `bson:"updated_by" json:"updated_by"`
}

// IsValidCategory checks if a category is known
func IsValidCategory(c AssetCategory) bool {
	switch c {
	case CategoryHoist, CategoryWheelchair, CategoryBed, CategoryScale, CategoryOther:
		return true
	default:
		return false
	}
}

// IsValidAssetStatus checks if a status is known
func IsValidAssetStatus(s AssetStatus) bool {
	switch s {
	case AssetActive, AssetSpare, AssetOutOfService, AssetRetired:
		return true
	default:
		return false
	}
}

// Derive recomputes NextServiceDue and ServiceStatus from the schedule inputs
// and today's date. Stored values for both fields are never trusted.
func (a *Asset) Derive(today time.Time) {
	a.NextServiceDue = schedule.NextDue(a.LastServiceDate, a.ServiceFrequencyDays)
	a.ServiceStatus = schedule.StatusOf(a.NextServiceDue, today)
}

// DeriveAll runs Derive on every asset in place.
func DeriveAll(assets []Asset, today time.Time) {
	for i := range assets {
		assets[i].Derive(today)
	}
}
