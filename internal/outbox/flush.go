package outbox

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/care-assets/internal/models"
	"github.com/ukydev/care-assets/internal/syncerr"
	"golang.org/x/sync/errgroup"
)

// FlushResult summarises one replay pass.
type FlushResult struct {
	Applied      int `json:"applied"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
	Remaining    int `json:"remaining"`
}

// Attempted is the number of mutations sent to the remote store.
func (r FlushResult) Attempted() int {
	return r.Applied + r.Retried + r.DeadLettered
}

type flushCall struct {
	done   chan struct{}
	result FlushResult
	err    error
}

// Flush replays every queued mutation against the remote store. Mutations
// for the same document run one at a time in creation order; different
// documents are replayed concurrently.
//
// A call made while another pass is running does not start a second pass:
// it waits for the running one and returns its result. Mutations enqueued
// during a pass are left for the next one.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	q.mu.Lock()
	if call := q.inflight; call != nil {
		q.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return FlushResult{}, ctx.Err()
		}
	}
	call := &flushCall{done: make(chan struct{})}
	q.inflight = call
	batch := make([]models.QueuedMutation, len(q.pending))
	copy(batch, q.pending)
	stats := q.statsLocked()
	q.mu.Unlock()
	q.notify(stats)

	call.result, call.err = q.replay(ctx, batch)

	q.mu.Lock()
	q.inflight = nil
	q.lastFlush = q.opts.Now().UTC()
	if call.err != nil {
		q.lastError = call.err.Error()
	} else if call.result.Retried == 0 {
		q.lastError = ""
	}
	call.result.Remaining = len(q.pending)
	stats = q.statsLocked()
	q.mu.Unlock()
	close(call.done)
	q.notify(stats)

	if call.result.Attempted() > 0 {
		log.WithFields(log.Fields{
			"applied":       call.result.Applied,
			"retried":       call.result.Retried,
			"dead_lettered": call.result.DeadLettered,
			"remaining":     call.result.Remaining,
		}).Info("Flushed offline queue")
	}
	return call.result, call.err
}

func (q *Queue) replay(ctx context.Context, batch []models.QueuedMutation) (FlushResult, error) {
	var (
		result FlushResult
		mu     sync.Mutex
		g      errgroup.Group
	)
	g.SetLimit(q.opts.Parallelism)

	for _, group := range groupByDocument(batch) {
		group := group
		g.Go(func() error {
			r, err := q.replayDocument(ctx, group)
			mu.Lock()
			result.Applied += r.Applied
			result.Retried += r.Retried
			result.DeadLettered += r.DeadLettered
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return result, err
}

// replayDocument applies one document's mutations in order. It stops at the
// first transient failure so later mutations cannot overtake it.
func (q *Queue) replayDocument(ctx context.Context, group []models.QueuedMutation) (FlushResult, error) {
	var r FlushResult
	for _, m := range group {
		if ctx.Err() != nil {
			return r, nil
		}
		logger := log.WithFields(log.Fields{
			"mutation_id": m.ID,
			"kind":        m.Kind,
			"document":    m.DocumentKey(),
		})

		err := q.apply(ctx, m)
		switch {
		case err == nil:
			if err := q.complete(ctx, m.ID); err != nil {
				return r, err
			}
			r.Applied++

		case syncerr.IsPermanent(err):
			logger.WithError(err).Error("Remote store rejected mutation, moving to dead letters")
			if err := q.bury(ctx, m.ID, syncerr.Reason(err)); err != nil {
				return r, err
			}
			r.DeadLettered++

		default:
			if ctx.Err() != nil {
				// Shutting down; the attempt does not count.
				return r, nil
			}
			dead, perr := q.retry(ctx, m.ID, err)
			if perr != nil {
				return r, perr
			}
			if dead {
				logger.WithError(err).Error("Mutation exhausted retries, moving to dead letters")
				r.DeadLettered++
			} else {
				logger.WithError(err).Warn("Transient failure replaying mutation, will retry")
				r.Retried++
			}
			return r, nil
		}
	}
	return r, nil
}

func (q *Queue) apply(ctx context.Context, m models.QueuedMutation) error {
	switch m.Kind {
	case models.MutationCreate:
		return q.remote.Put(ctx, m.Collection, m.TargetID, m.Payload)
	case models.MutationUpdate:
		return q.remote.Update(ctx, m.Collection, m.TargetID, m.Payload)
	case models.MutationDelete:
		return q.remote.Delete(ctx, m.Collection, m.TargetID)
	default:
		return syncerr.Permanent("replay "+m.ID, fmt.Sprintf("unknown mutation kind %q", m.Kind), nil)
	}
}

// complete removes an acknowledged mutation.
func (q *Queue) complete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.pendingIndexLocked(id)
	if idx < 0 {
		return nil
	}
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	if err := q.persistQueueLocked(ctx); err != nil {
		return fmt.Errorf("persisting offline queue: %w", err)
	}
	return nil
}

// retry records a failed attempt. It reports true when the mutation has run
// out of attempts and was dead-lettered.
func (q *Queue) retry(ctx context.Context, id string, cause error) (bool, error) {
	q.mu.Lock()
	idx := q.pendingIndexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false, nil
	}
	q.pending[idx].RetryCount++
	q.pending[idx].LastError = cause.Error()
	if q.pending[idx].RetryCount < q.opts.MaxRetries {
		defer q.mu.Unlock()
		if err := q.persistQueueLocked(ctx); err != nil {
			return false, fmt.Errorf("persisting offline queue: %w", err)
		}
		return false, nil
	}
	q.mu.Unlock()

	reason := fmt.Sprintf("gave up after %d attempts: %v", q.opts.MaxRetries, cause)
	return true, q.bury(ctx, id, reason)
}

// bury moves a mutation from the queue to the dead-letter list. The
// dead-letter list is written first; Load removes the duplicate if the
// process stops between the two writes.
func (q *Queue) bury(ctx context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.pendingIndexLocked(id)
	if idx < 0 {
		return nil
	}
	m := q.pending[idx]
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	q.dead = append(q.dead, models.DeadLetter{
		Mutation: m,
		Reason:   reason,
		DeadAt:   q.opts.Now().UTC(),
	})
	if err := q.persistDeadLocked(ctx); err != nil {
		return fmt.Errorf("persisting dead letters: %w", err)
	}
	if err := q.persistQueueLocked(ctx); err != nil {
		return fmt.Errorf("persisting offline queue: %w", err)
	}
	return nil
}

// groupByDocument splits a batch into per-document runs, keeping creation
// order inside each run and first-appearance order between runs.
func groupByDocument(batch []models.QueuedMutation) [][]models.QueuedMutation {
	index := make(map[string]int)
	var groups [][]models.QueuedMutation
	for _, m := range batch {
		key := m.DocumentKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}
