package outbox

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultMaxBackoff = 10 * time.Minute
)

// Runner triggers Flush periodically and on demand. After a pass that hit
// transient failures the next periodic pass is delayed exponentially, up to
// MaxBackoff; a clean pass restores the base interval. Explicit triggers
// always flush immediately.
type Runner struct {
	Queue      *Queue
	Interval   time.Duration
	MaxBackoff time.Duration
	// Online, when set, gates periodic passes so an offline device does not
	// burn retry attempts.
	Online func() bool

	trigger chan struct{}
}

// NewRunner creates a runner for q.
func NewRunner(q *Queue, interval, maxBackoff time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	return &Runner{
		Queue:      q,
		Interval:   interval,
		MaxBackoff: maxBackoff,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger requests a pass as soon as possible. It never blocks; triggers that
// arrive while one is already waiting are merged.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	failures := 0
	timer := time.NewTimer(r.Interval)
	defer timer.Stop()

	for {
		triggered := false
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-r.trigger:
			triggered = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if !triggered && r.Online != nil && !r.Online() {
			timer.Reset(r.Delay(failures))
			continue
		}

		result, err := r.Queue.Flush(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil || result.Retried > 0 {
			failures++
			log.WithFields(log.Fields{
				"failures": failures,
				"next_in":  r.Delay(failures),
			}).Debug("Backing off offline queue flush")
		} else {
			failures = 0
		}
		timer.Reset(r.Delay(failures))
	}
}

// Delay returns the wait before the next periodic pass after the given
// number of consecutive failed passes.
func (r *Runner) Delay(failures int) time.Duration {
	d := r.Interval
	for i := 0; i < failures && d < r.MaxBackoff; i++ {
		d *= 2
	}
	if d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	return d
}
