package db

import (
	"context"
	"errors"

	"github.com/ukydev/care-assets/internal/models"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrNotFound is wrapped by lookups and updates that match no document.
var ErrNotFound = errors.New("document not found")

// RemoteStore defines the document database the service treats as the
// source of truth. Errors returned by implementations are classified with
// the syncerr package so callers can tell retryable failures from rejected
// writes.
type RemoteStore interface {
	Get(ctx context.Context, collection, id string, out interface{}) error
	List(ctx context.Context, collection string, filter bson.M, out interface{}) error
	// Put creates or fully replaces a document.
	Put(ctx context.Context, collection, id string, doc interface{}) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields bson.M) error
	// Delete is logical: the document is marked retired, never removed.
	Delete(ctx context.Context, collection, id string) error
	// Subscribe pushes the full result list on every change until the
	// returned function is called.
	Subscribe(ctx context.Context, collection string, filter bson.M, onChange func([]bson.Raw)) (func(), error)
	Ping(ctx context.Context) error
}

// StaffCollection defines the interface for staff account operations
type StaffCollection interface {
	InsertStaff(ctx context.Context, staff models.Staff) error
	FindStaffByID(ctx context.Context, id string) (*models.Staff, error)
	FindStaffByUsername(ctx context.Context, username string) (*models.Staff, error)
	FindStaffByEmail(ctx context.Context, email string) (*models.Staff, error)
	UpdateLastLogin(ctx context.Context, id string) error
}
