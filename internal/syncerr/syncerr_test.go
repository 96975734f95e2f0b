package syncerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassificationSurvivesWrapping(t *testing.T) {
	transient := fmt.Errorf("replaying: %w", Transient("put assets/a1", context.DeadlineExceeded))
	permanent := fmt.Errorf("replaying: %w", Permanent("update assets/a1", "document validation failed", nil))
	config := fmt.Errorf("startup: %w", &ConfigurationError{Setting: "MONGO_URI", Err: errors.New("empty")})

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.True(t, errors.Is(transient, context.DeadlineExceeded))

	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))

	assert.True(t, IsConfiguration(config))
	assert.False(t, IsTransient(config))
}

func TestNilStaysNil(t *testing.T) {
	assert.NoError(t, Transient("op", nil))
	assert.NoError(t, Permanent("op", "", nil))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "rejected", Reason(Permanent("op", "rejected", nil)))
	assert.Equal(t, "rejected: boom", Reason(Permanent("op", "rejected", errors.New("boom"))))
	assert.Equal(t, "plain", Reason(errors.New("plain")))
	assert.Equal(t, "", Reason(nil))
}

func TestCorruptCacheError(t *testing.T) {
	err := &CorruptCacheError{Key: "cached_assets", Err: errors.New("invalid character")}
	assert.Contains(t, err.Error(), "cached_assets")
	assert.EqualError(t, errors.Unwrap(err), "invalid character")
}
