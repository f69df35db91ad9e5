package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IndexQuery selects records through a declared secondary index. Equal
// binds the leading index fields in order; the remaining fields order the
// result.
type IndexQuery struct {
	Index      string
	Equal      []any
	Descending bool
	Limit      int
}

const recordColumns = "id, tenant_id, data, created_at, updated_at, deleted_at"

// Get returns the record with the given id. A miss returns found=false and
// no error.
func (s *Store) Get(ctx context.Context, kind schema.Kind, id string) (record.Record, bool, error) {
	db, err := s.conn("get")
	if err != nil {
		return record.Record{}, false, err
	}
	return s.get(ctx, db, kind, id)
}

// QueryByTenant returns every record of kind owned by tenantID, ordered by
// the collection's natural sort key and then id.
func (s *Store) QueryByTenant(ctx context.Context, kind schema.Kind, tenantID string) ([]record.Record, error) {
	db, err := s.conn("query")
	if err != nil {
		return nil, err
	}
	return s.queryByTenant(ctx, db, kind, tenantID)
}

// QueryIndex returns records matching an index query.
func (s *Store) QueryIndex(ctx context.Context, kind schema.Kind, q IndexQuery) ([]record.Record, error) {
	db, err := s.conn("query")
	if err != nil {
		return nil, err
	}
	return s.queryIndex(ctx, db, kind, q)
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, kind schema.Kind) (int, error) {
	db, err := s.conn("count")
	if err != nil {
		return 0, err
	}
	coll, err := s.collection("count", kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName(coll.Kind)).Scan(&n); err != nil {
		return 0, wrapErr("count", string(kind), err)
	}
	return n, nil
}

func (s *Store) get(ctx context.Context, q querier, kind schema.Kind, id string) (record.Record, bool, error) {
	coll, err := s.collection("get", kind)
	if err != nil {
		return record.Record{}, false, err
	}
	row := q.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM "+tableName(coll.Kind)+" WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, wrapErr("get", string(kind), err)
	}
	return rec, true, nil
}

func (s *Store) queryByTenant(ctx context.Context, q querier, kind schema.Kind, tenantID string) ([]record.Record, error) {
	coll, err := s.collection("query", kind)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + recordColumns + " FROM " + tableName(coll.Kind) +
		" WHERE tenant_id = ? " + orderBy(coll.SortKey, false)
	return s.queryRecords(ctx, q, "query", kind, query, tenantID)
}

func (s *Store) queryIndex(ctx context.Context, q querier, kind schema.Kind, iq IndexQuery) ([]record.Record, error) {
	coll, err := s.collection("query", kind)
	if err != nil {
		return nil, err
	}
	idx, ok := coll.Index(iq.Index)
	if !ok {
		return nil, &StorageError{Code: CodeInvalidQuery, Op: "query", Kind: string(kind),
			Err: fmt.Errorf("no index %q", iq.Index)}
	}
	if len(iq.Equal) > len(idx.Fields) {
		return nil, &StorageError{Code: CodeInvalidQuery, Op: "query", Kind: string(kind),
			Err: fmt.Errorf("index %s has %d fields, got %d values", idx.Name, len(idx.Fields), len(iq.Equal))}
	}

	var b strings.Builder
	b.WriteString("SELECT " + recordColumns + " FROM " + tableName(coll.Kind))
	args := make([]any, 0, len(iq.Equal)+1)
	for i, v := range iq.Equal {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(columnExpr(idx.Fields[i]) + " = ?")
		args = append(args, v)
	}
	b.WriteString(" " + orderBy(idx.Fields[len(iq.Equal):], iq.Descending))
	if iq.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, iq.Limit)
	}
	return s.queryRecords(ctx, q, "query", kind, b.String(), args...)
}

func (s *Store) queryRecords(ctx context.Context, q querier, op string, kind schema.Kind, query string, args ...any) ([]record.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, string(kind), err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrapErr(op, string(kind), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, string(kind), err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (record.Record, error) {
	var (
		rec                         record.Record
		data                        string
		created, updated, deletedAt sql.NullString
	)
	if err := sc.Scan(&rec.ID, &rec.TenantID, &data, &created, &updated, &deletedAt); err != nil {
		return record.Record{}, err
	}
	if err := json.Unmarshal([]byte(data), &rec.Attrs); err != nil {
		return record.Record{}, fmt.Errorf("decode %s: %w", rec.ID, err)
	}
	var err error
	if rec.CreatedAt, err = parseColumnTime(created); err != nil {
		return record.Record{}, err
	}
	if rec.UpdatedAt, err = parseColumnTime(updated); err != nil {
		return record.Record{}, err
	}
	if rec.DeletedAt, err = parseColumnTime(deletedAt); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func parseColumnTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}

func formatColumnTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(columnTimeLayout)
}
