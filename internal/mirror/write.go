package mirror

import (
	"context"
	"database/sql"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

// Put upserts a record, replacing any existing record with the same id. It
// returns the record's id.
func (s *Store) Put(ctx context.Context, kind schema.Kind, rec record.Record) (string, error) {
	db, err := s.conn("put")
	if err != nil {
		return "", err
	}
	if err := s.put(ctx, db, kind, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// BulkPut upserts every record in one transaction. If any record is
// malformed or any write fails, nothing is written.
func (s *Store) BulkPut(ctx context.Context, kind schema.Kind, recs []record.Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.BulkPut(ctx, kind, recs)
	})
}

// ReplaceTenant replaces every record of kind owned by tenantID with recs
// in one transaction.
func (s *Store) ReplaceTenant(ctx context.Context, kind schema.Kind, tenantID string, recs []record.Record) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.ReplaceTenant(ctx, kind, tenantID, recs)
	})
}

// Delete removes a record. Deleting a missing id succeeds.
func (s *Store) Delete(ctx context.Context, kind schema.Kind, id string) error {
	db, err := s.conn("delete")
	if err != nil {
		return err
	}
	return s.delete(ctx, db, kind, id)
}

// ClearAll removes every record from every collection, the action queue
// and the dropped-action log.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.Update(ctx, func(tx *Tx) error {
		for _, kind := range s.registry.Kinds() {
			if _, err := tx.tx.ExecContext(ctx, "DELETE FROM "+tableName(kind)); err != nil {
				return wrapErr("clear", string(kind), err)
			}
		}
		for _, table := range []string{"action_queue", "dropped_actions"} {
			if _, err := tx.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return wrapErr("clear", table, err)
			}
		}
		return nil
	})
}

// Update runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.conn("update")
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin", "", err)
	}
	defer sqlTx.Rollback() // no-op after commit

	if err := fn(&Tx{tx: sqlTx, s: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return wrapErr("commit", "", err)
	}
	return nil
}

// Tx is a mirror transaction. It is only valid inside the Update callback
// that created it.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

// Get reads a record inside the transaction.
func (t *Tx) Get(ctx context.Context, kind schema.Kind, id string) (record.Record, bool, error) {
	return t.s.get(ctx, t.tx, kind, id)
}

// QueryByTenant reads a tenant's records inside the transaction.
func (t *Tx) QueryByTenant(ctx context.Context, kind schema.Kind, tenantID string) ([]record.Record, error) {
	return t.s.queryByTenant(ctx, t.tx, kind, tenantID)
}

// QueryIndex runs an index query inside the transaction.
func (t *Tx) QueryIndex(ctx context.Context, kind schema.Kind, q IndexQuery) ([]record.Record, error) {
	return t.s.queryIndex(ctx, t.tx, kind, q)
}

// Put upserts a record inside the transaction and returns its id.
func (t *Tx) Put(ctx context.Context, kind schema.Kind, rec record.Record) (string, error) {
	if err := t.s.put(ctx, t.tx, kind, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// BulkPut validates every record before writing any of them.
func (t *Tx) BulkPut(ctx context.Context, kind schema.Kind, recs []record.Record) error {
	coll, err := t.s.collection("bulk_put", kind)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := coll.Check(rec); err != nil {
			return &StorageError{Code: CodeMalformedRecord, Op: "bulk_put", Kind: string(kind), Err: err}
		}
	}
	for _, rec := range recs {
		if err := t.s.put(ctx, t.tx, kind, rec); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceTenant deletes the tenant's records of kind and writes recs. Every
// record must belong to tenantID.
func (t *Tx) ReplaceTenant(ctx context.Context, kind schema.Kind, tenantID string, recs []record.Record) error {
	coll, err := t.s.collection("replace", kind)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := coll.Check(rec); err != nil {
			return &StorageError{Code: CodeMalformedRecord, Op: "replace", Kind: string(kind), Err: err}
		}
		if rec.TenantID != tenantID {
			return &StorageError{Code: CodeMalformedRecord, Op: "replace", Kind: string(kind),
				Err: &schema.ValidationError{Kind: kind, Field: record.KeyTenantID, Message: "record belongs to another tenant"}}
		}
	}
	if _, err := t.tx.ExecContext(ctx, "DELETE FROM "+tableName(coll.Kind)+" WHERE tenant_id = ?", tenantID); err != nil {
		return wrapErr("replace", string(kind), err)
	}
	for _, rec := range recs {
		if err := t.s.put(ctx, t.tx, kind, rec); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a record inside the transaction.
func (t *Tx) Delete(ctx context.Context, kind schema.Kind, id string) error {
	return t.s.delete(ctx, t.tx, kind, id)
}

func (s *Store) put(ctx context.Context, q querier, kind schema.Kind, rec record.Record) error {
	coll, err := s.collection("put", kind)
	if err != nil {
		return err
	}
	if err := coll.Check(rec); err != nil {
		return &StorageError{Code: CodeMalformedRecord, Op: "put", Kind: string(kind), Err: err}
	}
	attrs := rec.Attrs
	if attrs == nil {
		attrs = record.Object{}
	}
	data, err := record.MarshalCanonical(attrs)
	if err != nil {
		return &StorageError{Code: CodeMalformedRecord, Op: "put", Kind: string(kind), Err: err}
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO `+tableName(coll.Kind)+` (id, tenant_id, data, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`, rec.ID, rec.TenantID, string(data),
		formatColumnTime(rec.CreatedAt), formatColumnTime(rec.UpdatedAt), formatColumnTime(rec.DeletedAt))
	return wrapErr("put", string(kind), err)
}

func (s *Store) delete(ctx context.Context, q querier, kind schema.Kind, id string) error {
	coll, err := s.collection("delete", kind)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, "DELETE FROM "+tableName(coll.Kind)+" WHERE id = ?", id)
	return wrapErr("delete", string(kind), err)
}
