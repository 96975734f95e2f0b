// Package outbox buffers asset writes made while the remote store is
// unreachable, persists them on the device and replays them in order once
// it can be reached again.
//
// A mutation moves pending -> in-flight -> applied (removed), back to
// pending after a transient failure, or to the dead-letter list after a
// permanent failure or too many retries. Dead letters are kept until an
// operator requeues or discards them.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/localstore"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	DefaultMaxRetries  = 5
	DefaultParallelism = 4
)

var (
	ErrInvalidMutation = errors.New("invalid mutation")
	ErrUnknownMutation = errors.New("mutation not found")
)

// Remote is the subset of the remote store used to replay mutations.
type Remote interface {
	Put(ctx context.Context, collection, id string, doc interface{}) error
	Update(ctx context.Context, collection, id string, fields bson.M) error
	Delete(ctx context.Context, collection, id string) error
}

// Options tunes a Queue. Zero values select the defaults.
type Options struct {
	MaxRetries  int
	Parallelism int
	Now         func() time.Time
}

// Stats is the aggregate indicator shown to users.
type Stats struct {
	Pending      int       `json:"pending"`
	DeadLettered int       `json:"dead_lettered"`
	Syncing      bool      `json:"syncing"`
	LastFlush    time.Time `json:"last_flush,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type queueState struct {
	Mutations []models.QueuedMutation `bson:"mutations"`
}

type deadLetterState struct {
	DeadLetters []models.DeadLetter `bson:"dead_letters"`
}

// Queue is the durable offline mutation queue.
type Queue struct {
	store  localstore.Store
	remote Remote
	opts   Options

	mu        sync.Mutex
	pending   []models.QueuedMutation
	dead      []models.DeadLetter
	inflight  *flushCall
	lastFlush time.Time
	lastError string
	listeners []func(Stats)
}

// New creates an empty queue. Call Load to restore persisted state.
func New(store localstore.Store, remote Remote, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{store: store, remote: remote, opts: opts}
}

// OnChange registers fn to receive the indicator after every enqueue and
// every flush state change.
func (q *Queue) OnChange(fn func(Stats)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Load replaces the in-memory state with what is persisted locally. Corrupt
// values are discarded and logged. It must not run concurrently with Flush.
func (q *Queue) Load(ctx context.Context) error {
	var qs queueState
	if err := q.read(ctx, localstore.KeyOfflineQueue, &qs); err != nil {
		return err
	}
	var ds deadLetterState
	if err := q.read(ctx, localstore.KeyDeadLetters, &ds); err != nil {
		return err
	}

	// A crash between the two writes of a dead-letter move can leave a
	// mutation in both lists; the dead-letter list wins.
	deadIDs := make(map[string]bool, len(ds.DeadLetters))
	dead := make([]models.DeadLetter, 0, len(ds.DeadLetters))
	for _, d := range ds.DeadLetters {
		if deadIDs[d.Mutation.ID] {
			continue
		}
		deadIDs[d.Mutation.ID] = true
		dead = append(dead, d)
	}
	pending := make([]models.QueuedMutation, 0, len(qs.Mutations))
	for _, m := range qs.Mutations {
		if !deadIDs[m.ID] {
			pending = append(pending, m)
		}
	}

	q.mu.Lock()
	q.pending = pending
	q.dead = dead
	stats := q.statsLocked()
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"pending":       stats.Pending,
		"dead_lettered": stats.DeadLettered,
	}).Info("Loaded offline queue")
	q.notify(stats)
	return nil
}

func (q *Queue) read(ctx context.Context, key string, out interface{}) error {
	raw, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := localstore.Decode(raw, out); err != nil {
		corrupt := &syncerr.CorruptCacheError{Key: key, Err: err}
		log.WithError(corrupt).Warn("Discarding corrupt offline queue state")
		if err := q.store.Remove(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("Failed to remove corrupt value")
		}
	}
	return nil
}

// Enqueue appends a mutation and persists the queue before returning. It does
// not contact the remote store.
func (q *Queue) Enqueue(ctx context.Context, kind models.MutationKind, collection, targetID string, payload bson.M) (models.QueuedMutation, error) {
	if !models.IsValidMutationKind(kind) {
		return models.QueuedMutation{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMutation, kind)
	}
	if collection == "" || targetID == "" {
		return models.QueuedMutation{}, fmt.Errorf("%w: collection and target id are required", ErrInvalidMutation)
	}
	if kind != models.MutationDelete && len(payload) == 0 {
		return models.QueuedMutation{}, fmt.Errorf("%w: %s needs a payload", ErrInvalidMutation, kind)
	}

	m := models.QueuedMutation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Collection: collection,
		TargetID:   targetID,
		Payload:    copyPayload(payload),
		CreatedAt:  q.opts.Now().UTC(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, m)
	if err := q.persistQueueLocked(ctx); err != nil {
		q.pending = q.pending[:len(q.pending)-1]
		q.mu.Unlock()
		return models.QueuedMutation{}, fmt.Errorf("persisting offline queue: %w", err)
	}
	stats := q.statsLocked()
	q.mu.Unlock()

	log.WithFields(log.Fields{
		"mutation_id": m.ID,
		"kind":        m.Kind,
		"document":    m.DocumentKey(),
		"pending":     stats.Pending,
	}).Info("Queued offline mutation")
	q.notify(stats)
	return m, nil
}

// Pending returns a copy of the queued mutations in FIFO order.
func (q *Queue) Pending() []models.QueuedMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.QueuedMutation, len(q.pending))
	copy(out, q.pending)
	return out
}

// HasPending reports whether any mutation for the document is still queued.
func (q *Queue) HasPending(collection, id string) bool {
	return q.HasPendingKind(collection, id, "")
}

// HasPendingKind reports whether a mutation of the given kind for the
// document is still queued. An empty kind matches any mutation.
func (q *Queue) HasPendingKind(collection, id string, kind models.MutationKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.pending {
		if m.Collection == collection && m.TargetID == id && (kind == "" || m.Kind == kind) {
			return true
		}
	}
	return false
}

// DeadLetters returns a copy of the dead-letter list, oldest first.
func (q *Queue) DeadLetters() []models.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Requeue moves a dead letter back into the queue with its retry count
// reset. It goes ahead of any queued mutation for the same document that was
// created after it, so the document's writes still replay in creation order;
// otherwise it joins the tail.
func (q *Queue) Requeue(ctx context.Context, id string) (models.QueuedMutation, error) {
	q.mu.Lock()
	idx := q.deadIndexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return models.QueuedMutation{}, fmt.Errorf("%w: %s", ErrUnknownMutation, id)
	}
	m := q.dead[idx].Mutation
	m.RetryCount = 0
	m.LastError = ""
	q.dead = append(q.dead[:idx:idx], q.dead[idx+1:]...)
	q.pending = insertInOrder(q.pending, m)

	err := q.persistQueueLocked(ctx)
	if err == nil {
		err = q.persistDeadLocked(ctx)
	}
	stats := q.statsLocked()
	q.mu.Unlock()
	if err != nil {
		return m, fmt.Errorf("persisting requeue: %w", err)
	}

	log.WithFields(log.Fields{"mutation_id": id, "document": m.DocumentKey()}).Info("Requeued dead-lettered mutation")
	q.notify(stats)
	return m, nil
}

// Discard drops a dead letter after an operator has dealt with it.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	idx := q.deadIndexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMutation, id)
	}
	q.dead = append(q.dead[:idx:idx], q.dead[idx+1:]...)
	err := q.persistDeadLocked(ctx)
	stats := q.statsLocked()
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persisting dead letters: %w", err)
	}

	log.WithField("mutation_id", id).Info("Discarded dead-lettered mutation")
	q.notify(stats)
	return nil
}

// Stats returns the current indicator.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	return Stats{
		Pending:      len(q.pending),
		DeadLettered: len(q.dead),
		Syncing:      q.inflight != nil,
		LastFlush:    q.lastFlush,
		LastError:    q.lastError,
	}
}

func (q *Queue) notify(stats Stats) {
	q.mu.Lock()
	listeners := make([]func(Stats), len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(stats)
	}
}

func (q *Queue) pendingIndexLocked(id string) int {
	for i, m := range q.pending {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) deadIndexLocked(id string) int {
	for i, d := range q.dead {
		if d.Mutation.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) persistQueueLocked(ctx context.Context) error {
	raw, err := localstore.Encode(queueState{Mutations: q.pending})
	if err != nil {
		return err
	}
	return q.store.Set(ctx, localstore.KeyOfflineQueue, raw)
}

func (q *Queue) persistDeadLocked(ctx context.Context) error {
	raw, err := localstore.Encode(deadLetterState{DeadLetters: q.dead})
	if err != nil {
		return err
	}
	return q.store.Set(ctx, localstore.KeyDeadLetters, raw)
}

// insertInOrder places m before the first mutation for the same document
// that was created after it.
func insertInOrder(pending []models.QueuedMutation, m models.QueuedMutation) []models.QueuedMutation {
	key := m.DocumentKey()
	for i, p := range pending {
		if p.DocumentKey() == key && p.CreatedAt.After(m.CreatedAt) {
			out := make([]models.QueuedMutation, 0, len(pending)+1)
			out = append(out, pending[:i]...)
			out = append(out, m)
			return append(out, pending[i:]...)
		}
	}
	return append(pending, m)
}

func copyPayload(p bson.M) bson.M {
	if p == nil {
		return nil
	}
	out := make(bson.M, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
