package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/queue"
)

// Handler binds an operation to its remote procedure and its mirror
// equivalents. P is the operation's params type, R its result type.
type Handler[P, R any] struct {
	// Remote executes the operation against the server. Required.
	Remote func(ctx context.Context, params P) (R, error)

	// Local computes the offline result from the mirror. Reads need it to
	// work offline; a mutation without Local is only queued.
	Local func(ctx context.Context, tx *mirror.Tx, params P) (R, error)

	// Apply writes a confirmed remote result into the mirror.
	Apply func(ctx context.Context, tx *mirror.Tx, params P, result R) error

	// Validate checks params before execution, before enqueue and before
	// replay.
	Validate func(params P) error

	// Rollback reverts the optimistic local write of a dropped action.
	Rollback func(ctx context.Context, tx *mirror.Tx, params P) error
}

// binding is the type-erased registry entry for one Op.
type binding struct {
	op       Op
	handler  any
	replay   queue.ReplayFunc
	rollback func(ctx context.Context, raw json.RawMessage) error
}

// Register binds op to h. Each op may be registered once.
func Register[P, R any](c *Coordinator, op Op, h Handler[P, R]) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if h.Remote == nil {
		return &Error{Code: ErrCodeInvalidOperation, Op: op.String(), Message: "remote procedure is required"}
	}

	b := &binding{op: op, handler: h}
	b.replay = func(ctx context.Context, raw json.RawMessage) error {
		params, err := decodeParams[P](op, raw)
		if err != nil {
			return err
		}
		if h.Validate != nil {
			if err := h.Validate(params); err != nil {
				return err
			}
		}
		result, err := h.Remote(ctx, params)
		if err != nil {
			return err
		}
		if h.Apply == nil {
			return nil
		}
		return c.store.Update(ctx, func(tx *mirror.Tx) error {
			return h.Apply(ctx, tx, params, result)
		})
	}
	if h.Rollback != nil {
		b.rollback = func(ctx context.Context, raw json.RawMessage) error {
			params, err := decodeParams[P](op, raw)
			if err != nil {
				return err
			}
			return c.store.Update(ctx, func(tx *mirror.Tx) error {
				return h.Rollback(ctx, tx, params)
			})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.bindings[op]; dup {
		return &Error{Code: ErrCodeDuplicateOperation, Op: op.String(), Message: "operation already registered"}
	}
	c.bindings[op] = b
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func MustRegister[P, R any](c *Coordinator, op Op, h Handler[P, R]) {
	if err := Register(c, op, h); err != nil {
		panic(err)
	}
}

func decodeParams[P any](op Op, raw json.RawMessage) (P, error) {
	var params P
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("decode params for %s: %w", op, err)
	}
	return params, nil
}
