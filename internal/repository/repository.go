// Package repository gives typed access to mirrored collections.
//
// Repo[T] converts between entity structs and mirror records and delegates
// to a Backend, which is either the mirror store itself or a transaction
// opened with Store.Update. By-tenant reads filter strictly on the tenant
// index and hide soft-deleted records unless asked otherwise.
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/10d3/nexora/internal/entity"
	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

// Backend is implemented by *mirror.Store and *mirror.Tx.
type Backend interface {
	Get(ctx context.Context, kind schema.Kind, id string) (record.Record, bool, error)
	QueryByTenant(ctx context.Context, kind schema.Kind, tenantID string) ([]record.Record, error)
	QueryIndex(ctx context.Context, kind schema.Kind, q mirror.IndexQuery) ([]record.Record, error)
	Put(ctx context.Context, kind schema.Kind, rec record.Record) (string, error)
	BulkPut(ctx context.Context, kind schema.Kind, recs []record.Record) error
	ReplaceTenant(ctx context.Context, kind schema.Kind, tenantID string, recs []record.Record) error
	Delete(ctx context.Context, kind schema.Kind, id string) error
}

var (
	_ Backend = (*mirror.Store)(nil)
	_ Backend = (*mirror.Tx)(nil)
)

// Encode converts an entity to a mirror record.
func Encode[T entity.Entity](v T) (record.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return record.Record{}, fmt.Errorf("encode %s: %w", v.Kind(), err)
	}
	return record.FromJSON(data)
}

// Decode converts a mirror record to an entity.
func Decode[T entity.Entity](rec record.Record) (T, error) {
	var out T
	data, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("decode %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", rec.ID, err)
	}
	return out, nil
}

// ListOption adjusts list reads.
type ListOption func(*listOptions)

type listOptions struct {
	includeDeleted bool
}

// IncludeDeleted keeps soft-deleted records in the result.
func IncludeDeleted() ListOption {
	return func(o *listOptions) { o.includeDeleted = true }
}

// Repo is a typed view over one collection.
type Repo[T entity.Entity] struct {
	backend Backend
	kind    schema.Kind
}

// For returns the repository for T's collection.
func For[T entity.Entity](b Backend) *Repo[T] {
	var zero T
	return &Repo[T]{backend: b, kind: zero.Kind()}
}

// Kind returns the collection kind.
func (r *Repo[T]) Kind() schema.Kind {
	return r.kind
}

// Get returns the entity with the given id.
func (r *Repo[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	rec, found, err := r.backend.Get(ctx, r.kind, id)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := Decode[T](rec)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// ByTenant lists a tenant's entities in the collection's natural order.
func (r *Repo[T]) ByTenant(ctx context.Context, tenantID string, opts ...ListOption) ([]T, error) {
	recs, err := r.backend.QueryByTenant(ctx, r.kind, tenantID)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs, tenantID, opts)
}

// ByIndex lists entities through a declared index, restricted to tenantID
// when it is non-empty.
func (r *Repo[T]) ByIndex(ctx context.Context, tenantID string, q mirror.IndexQuery, opts ...ListOption) ([]T, error) {
	recs, err := r.backend.QueryIndex(ctx, r.kind, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](recs, tenantID, opts)
}

// Save upserts an entity and returns its id.
func (r *Repo[T]) Save(ctx context.Context, v T) (string, error) {
	rec, err := Encode(v)
	if err != nil {
		return "", err
	}
	return r.backend.Put(ctx, r.kind, rec)
}

// SaveAll upserts every entity, all or nothing.
func (r *Repo[T]) SaveAll(ctx context.Context, vs []T) error {
	recs, err := encodeAll(vs)
	if err != nil {
		return err
	}
	return r.backend.BulkPut(ctx, r.kind, recs)
}

// ReplaceTenant replaces the tenant's slice of the collection with vs.
func (r *Repo[T]) ReplaceTenant(ctx context.Context, tenantID string, vs []T) error {
	recs, err := encodeAll(vs)
	if err != nil {
		return err
	}
	return r.backend.ReplaceTenant(ctx, r.kind, tenantID, recs)
}

// Delete removes an entity. Missing ids are not an error.
func (r *Repo[T]) Delete(ctx context.Context, id string) error {
	return r.backend.Delete(ctx, r.kind, id)
}

func encodeAll[T entity.Entity](vs []T) ([]record.Record, error) {
	recs := make([]record.Record, len(vs))
	for i, v := range vs {
		rec, err := Encode(v)
		if err != nil {
			return nil, err
		}
		recs[i] = rec
	}
	return recs, nil
}

func decodeAll[T entity.Entity](recs []record.Record, tenantID string, opts []ListOption) ([]T, error) {
	var o listOptions
	for _, opt := range opts {
		opt(&o)
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		if rec.Deleted() && !o.includeDeleted {
			continue
		}
		v, err := Decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
