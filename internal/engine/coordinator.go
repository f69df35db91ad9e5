package engine

import (
	"context"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/connectivity"
	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/queue"
)

// Connectivity is the monitor surface the coordinator needs.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn connectivity.Listener) (unsubscribe func())
}

// Coordinator routes operations to the remote service or the mirror.
type Coordinator struct {
	store   *mirror.Store
	monitor Connectivity
	queue   *queue.Manager
	logger  *zap.Logger

	mu       sync.RWMutex
	bindings map[Op]*binding
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New builds a coordinator and registers its rollback hook on the queue.
func New(store *mirror.Store, monitor Connectivity, q *queue.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		monitor:  monitor,
		queue:    q,
		logger:   zap.NewNop(),
		bindings: make(map[Op]*binding),
	}
	for _, opt := range opts {
		opt(c)
	}
	q.OnDrop(c.rollbackDropped)
	return c
}

// Store returns the mirror.
func (c *Coordinator) Store() *mirror.Store { return c.store }

// Queue returns the action queue.
func (c *Coordinator) Queue() *queue.Manager { return c.queue }

// Online reports the monitor's current state.
func (c *Coordinator) Online() bool { return c.monitor.IsOnline() }

// Operations lists registered ops ordered by name.
func (c *Coordinator) Operations() []Op {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops := make([]Op, 0, len(c.bindings))
	for op := range c.bindings {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(a, b Op) int {
		return strings.Compare(a.String(), b.String())
	})
	return ops
}

func (c *Coordinator) lookup(op Op) (*binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[op]
	return b, ok
}

// Replayer implements queue.Replayers over the registered handlers.
func (c *Coordinator) Replayer(name string) (queue.ReplayFunc, bool) {
	op, err := ParseOp(name)
	if err != nil {
		return nil, false
	}
	b, ok := c.lookup(op)
	if !ok {
		return nil, false
	}
	return b.replay, true
}

// Result is the outcome of Do.
type Result[R any] struct {
	Value R
	// Remote is true when the remote procedure produced Value.
	Remote bool
	// Action is the queued action for an offline mutation.
	Action *queue.Action
}

// Execute runs op with params and returns its result. See Do.
func Execute[P, R any](ctx context.Context, c *Coordinator, op Op, params P) (R, error) {
	res, err := Do[P, R](ctx, c, op, params)
	return res.Value, err
}

// Do runs op with params.
//
// Online, the remote procedure runs and its result is applied to the
// mirror; remote errors are returned unchanged. If applying the result
// fails, the remote result is still returned together with the storage
// error.
//
// Offline, the local equivalent runs against the mirror and mutations are
// queued in the same transaction.
func Do[P, R any](ctx context.Context, c *Coordinator, op Op, params P) (Result[R], error) {
	var res Result[R]

	b, ok := c.lookup(op)
	if !ok {
		return res, &Error{Code: ErrCodeUnknownOperation, Op: op.String(), Message: "no handler registered"}
	}
	h, ok := b.handler.(Handler[P, R])
	if !ok {
		return res, &Error{Code: ErrCodeTypeMismatch, Op: op.String(), Message: "params or result type differs from the registered handler"}
	}
	if h.Validate != nil {
		if err := h.Validate(params); err != nil {
			return res, err
		}
	}

	if c.monitor.IsOnline() {
		value, err := h.Remote(ctx, params)
		if err != nil {
			return res, err
		}
		res.Value, res.Remote = value, true
		if h.Apply != nil {
			if err := c.store.Update(ctx, func(tx *mirror.Tx) error {
				return h.Apply(ctx, tx, params, value)
			}); err != nil {
				c.logger.Error("apply remote result", zap.String("op", op.String()), zap.Error(err))
				return res, err
			}
		}
		return res, nil
	}

	if op.IsRead() && h.Local == nil {
		return res, &Error{Code: ErrCodeNoLocalEquivalent, Op: op.String(), Message: "operation is unavailable offline"}
	}

	err := c.store.Update(ctx, func(tx *mirror.Tx) error {
		if h.Local != nil {
			value, err := h.Local(ctx, tx, params)
			if err != nil {
				return err
			}
			res.Value = value
		}
		if op.IsRead() {
			return nil
		}
		action, err := c.queue.EnqueueTx(ctx, tx, op.String(), params)
		if err != nil {
			return err
		}
		res.Action = &action
		return nil
	})
	if err != nil {
		return Result[R]{}, err
	}
	if res.Action != nil {
		c.logger.Info("queued offline action", zap.String("op", op.String()), zap.String("action_id", res.Action.ID))
	}
	return res, nil
}

// Drain replays the queue through the registered handlers.
func (c *Coordinator) Drain(ctx context.Context) (queue.Report, error) {
	return c.queue.Drain(ctx, c)
}

// Run drains the queue whenever connectivity returns, until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	transitions := newTransitionQueue()
	unsubscribe := c.monitor.Subscribe(func(online bool) {
		transitions.Enqueue(transition{online: online})
	})
	defer unsubscribe()
	defer transitions.Close()

	if c.monitor.IsOnline() {
		c.drainLogged(ctx)
	}

	for {
		if t, ok := transitions.TryDequeue(); ok {
			if t.online {
				c.drainLogged(ctx)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-transitions.Wait():
		}
	}
}

func (c *Coordinator) drainLogged(ctx context.Context) {
	n, err := c.queue.Len(ctx)
	if err != nil {
		c.logger.Error("read queue length", zap.Error(err))
		return
	}
	if n == 0 {
		return
	}
	report, err := c.Drain(ctx)
	if err != nil {
		c.logger.Error("drain queue", zap.Error(err))
	}
	c.logger.Info("drained queue",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("requeued", report.Requeued),
		zap.Int("dropped", report.Dropped),
		zap.Bool("skipped", report.Skipped))
}

// rollbackDropped runs the handler's Rollback for a dropped action.
func (c *Coordinator) rollbackDropped(ctx context.Context, d queue.Dropped, _ error) {
	op, err := ParseOp(d.Name)
	if err != nil {
		return
	}
	b, ok := c.lookup(op)
	if !ok || b.rollback == nil {
		return
	}
	if err := b.rollback(ctx, d.Params); err != nil {
		c.logger.Error("rollback dropped action",
			zap.String("action_id", d.ID), zap.String("action", d.Name), zap.Error(err))
		return
	}
	c.logger.Info("rolled back dropped action", zap.String("action_id", d.ID), zap.String("action", d.Name))
}
