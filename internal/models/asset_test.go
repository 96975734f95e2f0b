package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/care-assets/internal/schedule"
)

func TestAsset_Derive(t *testing.T) {
	today := time.Date(2026, time.October, 18, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	freq := 180

	a := Asset{
		LastServiceDate:      &last,
		ServiceFrequencyDays: &freq,
		// stale values written while the device was offline
		ServiceStatus: schedule.StatusCurrent,
	}
	a.Derive(today)

	require.NotNil(t, a.NextServiceDue)
	assert.Equal(t, time.Date(2026, time.October, 28, 0, 0, 0, 0, time.UTC), *a.NextServiceDue)
	assert.Equal(t, schedule.StatusDueSoon, a.ServiceStatus)

	a.Derive(today.AddDate(0, 0, 11))
	assert.Equal(t, schedule.StatusOverdue, a.ServiceStatus)
}

func TestAsset_DeriveWithoutSchedule(t *testing.T) {
	stale := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	a := Asset{NextServiceDue: &stale, ServiceStatus: schedule.StatusOverdue}
	a.Derive(time.Now())

	assert.Nil(t, a.NextServiceDue)
	assert.Equal(t, schedule.StatusCurrent, a.ServiceStatus)
}

func TestAsset_JSONOmitsMissingSchedule(t *testing.T) {
	data, err := json.Marshal(Asset{ID: "a1", Name: "Ceiling hoist"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_service_date")
	assert.NotContains(t, string(data), "service_frequency_days")
}

func TestIsValidCategory(t *testing.T) {
	assert.True(t, IsValidCategory(CategoryHoist))
	assert.True(t, IsValidCategory(CategoryScale))
	assert.False(t, IsValidCategory("forklift"))
	assert.False(t, IsValidCategory(""))
}

func TestQueuedMutation_DocumentKey(t *testing.T) {
	m := QueuedMutation{Collection: AssetsCollection, TargetID: "abc"}
	assert.Equal(t, "assets/abc", m.DocumentKey())
}
