package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QueuedAction is a persisted mutation waiting to be replayed.
type QueuedAction struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Params    json.RawMessage `json:"params"`
	Timestamp time.Time       `json:"timestamp"`
	Retries   int             `json:"retries"`
	LastError string          `json:"lastError,omitempty"`
}

// DroppedAction is an action removed from the queue after exhausting its
// retries.
type DroppedAction struct {
	QueuedAction
	DroppedAt time.Time `json:"droppedAt"`
}

// InsertAction appends an action to the queue.
func (s *Store) InsertAction(ctx context.Context, a QueuedAction) error {
	db, err := s.conn("enqueue")
	if err != nil {
		return err
	}
	return insertAction(ctx, db, a)
}

// InsertAction appends an action to the queue inside the transaction.
func (t *Tx) InsertAction(ctx context.Context, a QueuedAction) error {
	return insertAction(ctx, t.tx, a)
}

func insertAction(ctx context.Context, q querier, a QueuedAction) error {
	if a.Retries < 0 {
		return &StorageError{Code: CodeConstraint, Op: "enqueue", Err: fmt.Errorf("negative retries %d", a.Retries)}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO action_queue (id, name, params, enqueued_at, retries, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, string(a.Params), a.Timestamp.UTC().Format(columnTimeLayout), a.Retries, a.LastError)
	return wrapErr("enqueue", "", err)
}

// ListActions returns every queued action in enqueue order.
func (s *Store) ListActions(ctx context.Context) ([]QueuedAction, error) {
	db, err := s.conn("list_actions")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, params, enqueued_at, retries, last_error
		FROM action_queue
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, wrapErr("list_actions", "", err)
	}
	defer rows.Close()

	var out []QueuedAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, wrapErr("list_actions", "", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_actions", "", err)
	}
	return out, nil
}

// CountActions returns the queue length.
func (s *Store) CountActions(ctx context.Context) (int, error) {
	db, err := s.conn("count_actions")
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_queue").Scan(&n); err != nil {
		return 0, wrapErr("count_actions", "", err)
	}
	return n, nil
}

// DeleteAction removes an action after a successful replay.
func (s *Store) DeleteAction(ctx context.Context, id string) error {
	db, err := s.conn("delete_action")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "DELETE FROM action_queue WHERE id = ?", id)
	return wrapErr("delete_action", "", err)
}

// RecordFailure persists a failed replay attempt, keeping the action in
// place in the queue.
func (s *Store) RecordFailure(ctx context.Context, id string, retries int, lastErr string) error {
	db, err := s.conn("record_failure")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		"UPDATE action_queue SET retries = ?, last_error = ? WHERE id = ?",
		retries, lastErr, id)
	return wrapErr("record_failure", "", err)
}

// DropAction moves an action from the queue to the dropped log.
func (s *Store) DropAction(ctx context.Context, a QueuedAction) (DroppedAction, error) {
	dropped := DroppedAction{QueuedAction: a, DroppedAt: s.now()}
	err := s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, "DELETE FROM action_queue WHERE id = ?", a.ID); err != nil {
			return wrapErr("drop_action", "", err)
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO dropped_actions (id, name, params, enqueued_at, retries, last_error, dropped_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				retries = excluded.retries,
				last_error = excluded.last_error,
				dropped_at = excluded.dropped_at
		`, a.ID, a.Name, string(a.Params), a.Timestamp.UTC().Format(columnTimeLayout),
			a.Retries, a.LastError, dropped.DroppedAt.UTC().Format(columnTimeLayout))
		return wrapErr("drop_action", "", err)
	})
	if err != nil {
		return DroppedAction{}, err
	}
	return dropped, nil
}

// ListDropped returns unacknowledged dropped actions, oldest first.
func (s *Store) ListDropped(ctx context.Context) ([]DroppedAction, error) {
	db, err := s.conn("list_dropped")
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, params, enqueued_at, retries, last_error, dropped_at
		FROM dropped_actions
		ORDER BY dropped_at ASC, id ASC
	`)
	if err != nil {
		return nil, wrapErr("list_dropped", "", err)
	}
	defer rows.Close()

	var out []DroppedAction
	for rows.Next() {
		var (
			d         DroppedAction
			params    string
			enqueued  string
			droppedAt string
		)
		if err := rows.Scan(&d.ID, &d.Name, &params, &enqueued, &d.Retries, &d.LastError, &droppedAt); err != nil {
			return nil, wrapErr("list_dropped", "", err)
		}
		d.Params = json.RawMessage(params)
		if d.Timestamp, err = time.Parse(time.RFC3339Nano, enqueued); err != nil {
			return nil, wrapErr("list_dropped", "", err)
		}
		if d.DroppedAt, err = time.Parse(time.RFC3339Nano, droppedAt); err != nil {
			return nil, wrapErr("list_dropped", "", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list_dropped", "", err)
	}
	return out, nil
}

// AcknowledgeDropped removes entries from the dropped log. Unknown ids are
// ignored.
func (s *Store) AcknowledgeDropped(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.conn("ack_dropped")
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = db.ExecContext(ctx, "DELETE FROM dropped_actions WHERE id IN ("+placeholders+")", args...)
	return wrapErr("ack_dropped", "", err)
}

func scanAction(sc scanner) (QueuedAction, error) {
	var (
		a        QueuedAction
		params   string
		enqueued string
	)
	if err := sc.Scan(&a.ID, &a.Name, &params, &enqueued, &a.Retries, &a.LastError); err != nil {
		return QueuedAction{}, err
	}
	a.Params = json.RawMessage(params)
	t, err := time.Parse(time.RFC3339Nano, enqueued)
	if err != nil {
		return QueuedAction{}, fmt.Errorf("parse enqueued_at %q: %w", enqueued, err)
	}
	a.Timestamp = t
	return a, nil
}
