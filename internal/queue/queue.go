// Package queue is the durable action queue.
//
// Mutations issued while offline are appended to the mirror's action_queue
// table and replayed in enqueue order when connectivity returns. A replay
// that fails increments the action's retry count and leaves it queued; an
// action whose retry count reaches MaxRetries is moved to the dropped log,
// a warning is logged and drop hooks run. Only one drain may be in flight
// at a time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/mirror"
)

// MaxRetries is the number of failed replays after which an action is
// dropped.
const MaxRetries = 3

// Action is a queued mutation.
type Action = mirror.QueuedAction

// Dropped is an action that exhausted its retries.
type Dropped = mirror.DroppedAction

// ReplayFunc re-executes a queued action against the remote service.
type ReplayFunc func(ctx context.Context, params json.RawMessage) error

// Replayers resolves operation names to replay functions.
type Replayers interface {
	Replayer(name string) (ReplayFunc, bool)
}

// ReplayerMap is a static Replayers.
type ReplayerMap map[string]ReplayFunc

// Replayer implements Replayers.
func (m ReplayerMap) Replayer(name string) (ReplayFunc, bool) {
	fn, ok := m[name]
	return fn, ok
}

// DropFunc is notified after an action is dropped.
type DropFunc func(ctx context.Context, d Dropped, cause error)

// MissingReplayerError is the failure recorded for actions whose name has
// no replayer.
type MissingReplayerError struct {
	Name string
}

func (e *MissingReplayerError) Error() string {
	return fmt.Sprintf("no replayer registered for %q", e.Name)
}

// Report summarizes one drain.
type Report struct {
	Attempted int  `json:"attempted"`
	Succeeded int  `json:"succeeded"`
	Requeued  int  `json:"requeued"`
	Dropped   int  `json:"dropped"`
	Skipped   bool `json:"skipped,omitempty"`
}

// Manager owns the queue.
type Manager struct {
	store  *mirror.Store
	logger *zap.Logger
	newID  func() string
	now    func() time.Time

	draining atomic.Bool

	mu     sync.Mutex
	onDrop []DropFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// WithClock overrides the enqueue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewID returns a UUIDv7 string. v7 ids sort by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// New creates a manager over the mirror's queue tables.
func New(store *mirror.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: zap.NewNop(),
		newID:  NewID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnDrop registers a hook run after each drop.
func (m *Manager) OnDrop(fn DropFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDrop = append(m.onDrop, fn)
}

// Enqueue persists a new action with retries = 0.
func (m *Manager) Enqueue(ctx context.Context, name string, params any) (Action, error) {
	a, err := m.newAction(name, params)
	if err != nil {
		return Action{}, err
	}
	if err := m.store.InsertAction(ctx, a); err != nil {
		return Action{}, err
	}
	m.logger.Debug("action enqueued", zap.String("action_id", a.ID), zap.String("action", a.Name))
	return a, nil
}

// EnqueueTx persists a new action inside a mirror transaction, so that it
// commits together with the optimistic local write it describes.
func (m *Manager) EnqueueTx(ctx context.Context, tx *mirror.Tx, name string, params any) (Action, error) {
	a, err := m.newAction(name, params)
	if err != nil {
		return Action{}, err
	}
	if err := tx.InsertAction(ctx, a); err != nil {
		return Action{}, err
	}
	m.logger.Debug("action enqueued", zap.String("action_id", a.ID), zap.String("action", a.Name))
	return a, nil
}

func (m *Manager) newAction(name string, params any) (Action, error) {
	if name == "" {
		return Action{}, errors.New("queue: action name is required")
	}
	var raw json.RawMessage
	switch p := params.(type) {
	case json.RawMessage:
		raw = p
	default:
		data, err := json.Marshal(params)
		if err != nil {
			return Action{}, fmt.Errorf("queue: encode params for %s: %w", name, err)
		}
		raw = data
	}
	return Action{
		ID:        m.newID(),
		Name:      name,
		Params:    raw,
		Timestamp: m.now(),
	}, nil
}

// Pending returns every queued action in enqueue order.
func (m *Manager) Pending(ctx context.Context) ([]Action, error) {
	return m.store.ListActions(ctx)
}

// Len returns the number of queued actions.
func (m *Manager) Len(ctx context.Context) (int, error) {
	return m.store.CountActions(ctx)
}

// Dropped returns the unacknowledged dropped actions.
func (m *Manager) Dropped(ctx context.Context) ([]Dropped, error) {
	return m.store.ListDropped(ctx)
}

// Acknowledge clears entries from the dropped log.
func (m *Manager) Acknowledge(ctx context.Context, ids ...string) error {
	return m.store.AcknowledgeDropped(ctx, ids...)
}

// InProgress reports whether a drain is running.
func (m *Manager) InProgress() bool {
	return m.draining.Load()
}

// Drain replays every queued action once, in enqueue order. A failing
// replay never stops the drain. If another drain is running, Drain returns
// immediately with Report.Skipped set. The returned error reports queue
// bookkeeping failures and cancellation only; replay failures are recorded
// on the actions.
func (m *Manager) Drain(ctx context.Context, replayers Replayers) (Report, error) {
	if !m.draining.CompareAndSwap(false, true) {
		m.logger.Debug("drain already in progress")
		return Report{Skipped: true}, nil
	}
	defer m.draining.Store(false)

	actions, err := m.store.ListActions(ctx)
	if err != nil {
		return Report{}, err
	}

	var (
		report Report
		errs   []error
	)
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Attempted++

		cause := m.replay(ctx, replayers, a)
		if cause == nil {
			if err := m.store.DeleteAction(ctx, a.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			report.Succeeded++
			m.logger.Debug("action replayed", zap.String("action_id", a.ID), zap.String("action", a.Name))
			continue
		}

		a.Retries++
		a.LastError = cause.Error()
		if a.Retries >= MaxRetries {
			dropped, err := m.store.DropAction(ctx, a)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			report.Dropped++
			m.logger.Warn("dropping action after max retries",
				zap.String("action_id", a.ID),
				zap.String("action", a.Name),
				zap.Int("retries", a.Retries),
				zap.Error(cause))
			m.notifyDrop(ctx, dropped, cause)
			continue
		}

		if err := m.store.RecordFailure(ctx, a.ID, a.Retries, a.LastError); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Requeued++
		m.logger.Info("action replay failed",
			zap.String("action_id", a.ID),
			zap.String("action", a.Name),
			zap.Int("retries", a.Retries),
			zap.Error(cause))
	}
	return report, errors.Join(errs...)
}

// replay runs one action, converting a panic into a failure.
func (m *Manager) replay(ctx context.Context, replayers Replayers, a Action) (err error) {
	var fn ReplayFunc
	if replayers != nil {
		fn, _ = replayers.Replayer(a.Name)
	}
	if fn == nil {
		return &MissingReplayerError{Name: a.Name}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("replay %s panicked: %v", a.Name, r)
		}
	}()
	return fn(ctx, a.Params)
}

func (m *Manager) notifyDrop(ctx context.Context, d Dropped, cause error) {
	m.mu.Lock()
	hooks := make([]DropFunc, len(m.onDrop))
	copy(hooks, m.onDrop)
	m.mu.Unlock()
	for _, fn := range hooks {
		m.runDropHook(ctx, fn, d, cause)
	}
}

func (m *Manager) runDropHook(ctx context.Context, fn DropFunc, d Dropped, cause error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("drop hook panicked",
				zap.String("action_id", d.ID),
				zap.String("action", d.Name),
				zap.Any("panic", r))
		}
	}()
	fn(ctx, d, cause)
}
