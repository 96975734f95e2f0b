// Package syncerr holds the error taxonomy shared by the remote store, the
// local cache and the offline mutation queue.
package syncerr

import (
	"errors"
	"fmt"
)

// TransientSyncError marks a failure that is expected to clear on its own:
// network unreachable, timeouts, backend temporarily unavailable.
type TransientSyncError struct {
	Op  string
	Err error
}

func (e *TransientSyncError) Error() string {
	return fmt.Sprintf("transient sync error during %s: %v", e.Op, e.Err)
}

func (e *TransientSyncError) Unwrap() error { return e.Err }

// PermanentSyncError marks a write the remote store rejected. Retrying it
// will not help.
type PermanentSyncError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PermanentSyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permanent sync error during %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("permanent sync error during %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *PermanentSyncError) Unwrap() error { return e.Err }

// CorruptCacheError is reported when a locally persisted value cannot be
// decoded. Callers discard the value and fall back to empty state.
type CorruptCacheError struct {
	Key string
	Err error
}

func (e *CorruptCacheError) Error() string {
	return fmt.Sprintf("corrupt local value under %q: %v", e.Key, e.Err)
}

func (e *CorruptCacheError) Unwrap() error { return e.Err }

// ConfigurationError means the remote store cannot be used at all. It is the
// only error allowed to abort startup.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientSyncError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientSyncError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentSyncError. A nil err stays nil.
func Permanent(op, reason string, err error) error {
	if err == nil && reason == "" {
		return nil
	}
	return &PermanentSyncError{Op: op, Reason: reason, Err: err}
}

// IsTransient reports whether err is, or wraps, a TransientSyncError.
func IsTransient(err error) bool {
	var t *TransientSyncError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is, or wraps, a PermanentSyncError.
func IsPermanent(err error) bool {
	var p *PermanentSyncError
	return errors.As(err, &p)
}

// IsConfiguration reports whether err is, or wraps, a ConfigurationError.
func IsConfiguration(err error) bool {
	var c *ConfigurationError
	return errors.As(err, &c)
}

// Reason returns the text stored on a dead-lettered mutation for err.
func Reason(err error) string {
	var p *PermanentSyncError
	if errors.As(err, &p) && p.Reason != "" {
		if p.Err != nil {
			return p.Reason + ": " + p.Err.Error()
		}
		return p.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
