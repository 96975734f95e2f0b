package models

import (
	"time"
)

// ServiceType is the kind of maintenance performed.
type ServiceType string

const (
	ServiceRoutine     ServiceType = "routine"
	ServiceRepair      ServiceType = "repair"
	ServiceCalibration ServiceType = "calibration"
	ServiceInspection  ServiceType = "inspection"
	ServiceCleaning    ServiceType = "cleaning"
)

// ServiceRecord is an immutable log entry of maintenance on one asset.
type ServiceRecord struct {
	ID          string      `json:"id" bson:"_id"`
	AssetID     string      `json:"asset_id" bson:"asset_id"`
	ServiceDate time.Time   `json:"service_date" bson:"service_date"`
	Type        ServiceType `json:"type" bson:"type"`
	PerformedBy string      `json:"performed_by" bson:"performed_by"`
	Description string      `json:"description" bson:"description"`
	Cost        *float64    `json:"cost,omitempty" bson:"cost,omitempty"` // in AUD
	// NextDueDate is fixed when the record is created from the asset's
	// frequency at that moment.
	NextDueDate *time.Time `json:"next_due_date,omitempty" bson:"next_due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	CreatedBy   string     `json:"created_by" bson:"created_by"`
}

// IsValidServiceType checks if a service type is known
func IsValidServiceType(t ServiceType) bool {
	switch t {
	case ServiceRoutine, ServiceRepair, ServiceCalibration, ServiceInspection, ServiceCleaning:
		return true
	default:
		return false
	}
}
