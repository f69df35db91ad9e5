// Package connectivity tracks whether the remote service is reachable.
//
// A Monitor holds the current state, seeded from a platform Source, and
// notifies subscribers exactly once per actual transition. Redundant
// signals (online while already online) are ignored. The monitor never
// polls; it only reacts to Source events or explicit Set calls.
package connectivity

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// State is the connectivity state.
type State string

const (
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

func stateOf(online bool) State {
	if online {
		return Online
	}
	return Offline
}

// Source reports platform connectivity.
type Source interface {
	// Online returns the current platform state.
	Online() bool
	// Events delivers subsequent platform signals. A nil channel means the
	// source never changes.
	Events() <-chan bool
}

// Listener is called after a transition with the new state. Listeners must
// not call Set.
type Listener func(online bool)

type subscription struct {
	id int
	fn Listener
}

// Monitor is the connectivity state machine.
type Monitor struct {
	notifyMu sync.Mutex // serializes transitions so listeners see them in order

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners []subscription

	source Source
	logger *zap.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a monitor whose initial state is src.Online().
func New(src Source, opts ...Option) *Monitor {
	m := &Monitor{
		online: src.Online(),
		source: src,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsOnline returns the recorded state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// State returns the recorded state as ONLINE or OFFLINE.
func (m *Monitor) State() State {
	return stateOf(m.IsOnline())
}

// Subscribe registers a listener and returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, sub := range m.listeners {
				if sub.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Set records a platform signal. It reports whether the signal was a
// transition; listeners are notified only in that case.
func (m *Monitor) Set(online bool) bool {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := make([]subscription, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.String("state", string(stateOf(online))))
	for _, sub := range listeners {
		sub.fn(online)
	}
	return true
}

// Run feeds source events into the monitor until ctx is done or the source
// closes its channel.
func (m *Monitor) Run(ctx context.Context) error {
	// The platform may have changed between New and Run.
	m.Set(m.source.Online())

	events := m.source.Events()
	if events == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-events:
			if !ok {
				return nil
			}
			m.Set(online)
		}
	}
}
