// Package connectivity tracks whether the remote store can be reached.
package connectivity

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultInterval = 15 * time.Second
	pingTimeout     = 5 * time.Second
)

// Pinger is anything that can tell whether the remote store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor pings the remote store on an interval. Callbacks registered with
// OnOnline run on every offline -> online transition.
type Monitor struct {
	pinger   Pinger
	interval time.Duration

	mu        sync.Mutex
	online    bool
	lastErr   error
	callbacks []func()
}

// NewMonitor returns a monitor that starts offline until the first check.
func NewMonitor(p Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{pinger: p, interval: interval}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastError is the error from the most recent failed ping, if any.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnOnline registers fn. It is called from the goroutine that observed the
// transition and must not block.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// SetOnline records a state observed elsewhere, e.g. a write that failed
// with a network error.
func (m *Monitor) SetOnline(online bool) {
	m.set(online, nil)
}

// Check pings once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	err := m.pinger.Ping(ctx)
	m.set(err == nil, err)
	return err == nil
}

// Run checks immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) set(online bool, err error) {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.lastErr = err
	var callbacks []func()
	if online && !was {
		callbacks = make([]func(), len(m.callbacks))
		copy(callbacks, m.callbacks)
	}
	m.mu.Unlock()

	switch {
	case online && !was:
		log.Info("Remote store reachable, back online")
	case !online && was:
		entry := log.NewEntry(log.StandardLogger())
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("Remote store unreachable, working offline")
	}
	for _, fn := range callbacks {
		fn()
	}
}
