package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// MutationKind is the remote operation a queued mutation replays as.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// IsValidMutationKind checks if a mutation kind is known
func IsValidMutationKind(k MutationKind) bool {
	switch k {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	default:
		return false
	}
}

// QueuedMutation is a write that has not yet been acknowledged by the remote
// store.
type QueuedMutation struct {
	ID         string       `bson:"id" json:"id"`
	Kind       MutationKind `bson:"kind" json:"kind"`
	Collection string       `bson:"collection" json:"collection"`
	TargetID   string       `bson:"target_id" json:"target_id"`
	Payload    bson.M       `bson:"payload,omitempty" json:"payload,omitempty"`
	CreatedAt  time.Time    `bson:"created_at" json:"created_at"`
	RetryCount int          `bson:"retry_count" json:"retry_count"`
	LastError  string       `bson:"last_error,omitempty" json:"last_error,omitempty"`
}

// DocumentKey identifies the remote document a mutation targets. Mutations
// sharing a key must be replayed in creation order.
func (m QueuedMutation) DocumentKey() string {
	return m.Collection + "/" + m.TargetID
}

// DeadLetter is a mutation abandoned after a permanent failure or after
// exhausting its retries. It is kept for operator review.
type DeadLetter struct {
	Mutation QueuedMutation `bson:"mutation" json:"mutation"`
	Reason   string         `bson:"reason" json:"reason"`
	DeadAt   time.Time      `bson:"dead_at" json:"dead_at"`
}
