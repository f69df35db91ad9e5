// Package crud is the generic create/read/update/delete helper.
//
// Register binds the five coordinator operations of an entity
// ("{verb}_{entity}", e.g. create_customer) to the entity's remote
// procedures and to mirror equivalents built from the repository layer.
// Every Resource call then runs in the same order:
//
//  1. permission check, failing fast with *PermissionError;
//  2. schema validation, failing with *schema.ValidationError;
//  3. execution through the coordinator, which goes remote when online and
//     to the mirror plus the action queue when offline.
//
// Successful online writes revalidate the resource's dependent views.
// Permission and validation failures are never queued.
package crud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/10d3/nexora/internal/engine"
	"github.com/10d3/nexora/internal/entity"
	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/queue"
	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/repository"
	"github.com/10d3/nexora/internal/schema"
)

// FetchParams are the params of fetch_{entity}.
type FetchParams struct {
	TenantID string `json:"tenantId"`
}

// GetParams are the params of get_{entity}.
type GetParams struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
}

// DeleteParams are the params of delete_{entity}.
type DeleteParams struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
}

// Deleted is the result of delete_{entity}.
type Deleted struct {
	ID string `json:"id"`
}

// Remote holds an entity's remote procedures. Nil procedures leave the
// corresponding operation unregistered.
type Remote[T entity.Entity] struct {
	Fetch  func(ctx context.Context, p FetchParams) ([]T, error)
	Get    func(ctx context.Context, p GetParams) (T, error)
	Create func(ctx context.Context, v T) (T, error)
	Update func(ctx context.Context, v T) (T, error)
	Delete func(ctx context.Context, p DeleteParams) (Deleted, error)
}

// Config describes one resource.
type Config[T entity.Entity] struct {
	Remote Remote[T]
	// Views are revalidated after successful online writes.
	Views []string
}

// NotFoundError is returned by Get when the record is not in the mirror
// (offline) or belongs to another tenant.
type NotFoundError struct {
	Kind schema.Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Helper holds what every resource shares.
type Helper struct {
	coord    *engine.Coordinator
	registry *schema.Registry
	perms    PermissionChecker
	views    Revalidator
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Helper.
type Option func(*Helper)

// WithLogger sets the helper's logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Helper) { h.logger = l }
}

// WithClock overrides the timestamp source for created/updated times.
func WithClock(now func() time.Time) Option {
	return func(h *Helper) { h.now = now }
}

// WithIDGenerator overrides client-side id generation for creates.
func WithIDGenerator(fn func() string) Option {
	return func(h *Helper) { h.newID = fn }
}

// NewHelper builds a helper. views may be nil.
func NewHelper(coord *engine.Coordinator, reg *schema.Registry, perms PermissionChecker, views Revalidator, opts ...Option) *Helper {
	h := &Helper{
		coord:    coord,
		registry: reg,
		perms:    perms,
		views:    views,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    queue.NewID,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resource is the CRUD surface of one entity.
type Resource[T entity.Entity] struct {
	h    *Helper
	coll *schema.Collection
	cfg  Config[T]
}

// Register binds T's operations in the coordinator.
func Register[T entity.Entity](h *Helper, cfg Config[T]) (*Resource[T], error) {
	var zero T
	coll, ok := h.registry.Lookup(zero.Kind())
	if !ok {
		return nil, fmt.Errorf("crud: kind %q is not in the schema registry", zero.Kind())
	}
	r := &Resource[T]{h: h, coll: coll, cfg: cfg}

	if cfg.Remote.Fetch != nil {
		if err := engine.Register(h.coord, r.Op(engine.VerbFetch), engine.Handler[FetchParams, []T]{
			Remote: cfg.Remote.Fetch,
			Local: func(ctx context.Context, tx *mirror.Tx, p FetchParams) ([]T, error) {
				return repository.For[T](tx).ByTenant(ctx, p.TenantID)
			},
			Apply: func(ctx context.Context, tx *mirror.Tx, p FetchParams, vs []T) error {
				return repository.For[T](tx).ReplaceTenant(ctx, p.TenantID, vs)
			},
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Remote.Get != nil {
		if err := engine.Register(h.coord, r.Op(engine.VerbGet), engine.Handler[GetParams, T]{
			Remote: cfg.Remote.Get,
			Local: func(ctx context.Context, tx *mirror.Tx, p GetParams) (T, error) {
				v, found, err := repository.For[T](tx).Get(ctx, p.ID)
				if err != nil {
					return v, err
				}
				if !found {
					return v, &NotFoundError{Kind: coll.Kind, ID: p.ID}
				}
				return v, nil
			},
			Apply: func(ctx context.Context, tx *mirror.Tx, p GetParams, v T) error {
				ok, err := r.owned(v, p.TenantID)
				if err != nil || !ok {
					return err
				}
				_, err = repository.For[T](tx).Save(ctx, v)
				return err
			},
			Validate: validateID[GetParams](func(p GetParams) string { return p.ID }),
		}); err != nil {
			return nil, err
		}
	}
	if cfg.Remote.Create != nil {
		if err := engine.Register(h.coord, r.Op(engine.VerbCreate), r.writeHandler(cfg.Remote.Create, true)); err != nil {
			return nil, err
		}
	}
	if cfg.Remote.Update != nil {
		if err := engine.Register(h.coord, r.Op(engine.VerbUpdate), r.writeHandler(cfg.Remote.Update, false)); err != nil {
			return nil, err
		}
	}
	if cfg.Remote.Delete != nil {
		if err := engine.Register(h.coord, r.Op(engine.VerbDelete), engine.Handler[DeleteParams, Deleted]{
			Remote: cfg.Remote.Delete,
			Local: func(ctx context.Context, tx *mirror.Tx, p DeleteParams) (Deleted, error) {
				foreign, err := r.foreign(ctx, tx, p.ID, p.TenantID)
				if err != nil {
					return Deleted{}, err
				}
				if foreign {
					return Deleted{}, &NotFoundError{Kind: coll.Kind, ID: p.ID}
				}
				return Deleted{ID: p.ID}, repository.For[T](tx).Delete(ctx, p.ID)
			},
			Apply: func(ctx context.Context, tx *mirror.Tx, p DeleteParams, _ Deleted) error {
				foreign, err := r.foreign(ctx, tx, p.ID, p.TenantID)
				if err != nil || foreign {
					return err
				}
				return repository.For[T](tx).Delete(ctx, p.ID)
			},
			Validate: validateID[DeleteParams](func(p DeleteParams) string { return p.ID }),
		}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// writeHandler builds the create or update handler. Only creates can be
// rolled back: the optimistic record did not exist before.
//
// A mirrored record of another tenant is never overwritten: offline the
// write fails, online the confirmed result is not mirrored.
func (r *Resource[T]) writeHandler(remote func(context.Context, T) (T, error), create bool) engine.Handler[T, T] {
	guarded := func(ctx context.Context, tx *mirror.Tx, v T) (bool, string, error) {
		rec, err := repository.Encode(v)
		if err != nil {
			return false, "", err
		}
		foreign, err := r.foreign(ctx, tx, rec.ID, rec.TenantID)
		return foreign, rec.ID, err
	}
	h := engine.Handler[T, T]{
		Remote: remote,
		Local: func(ctx context.Context, tx *mirror.Tx, v T) (T, error) {
			var zero T
			foreign, id, err := guarded(ctx, tx, v)
			if err != nil {
				return zero, err
			}
			if foreign && create {
				return zero, &PermissionError{
					Permission: PermissionFor(r.coll.Entity, engine.VerbCreate),
					Reason:     fmt.Sprintf("id %q belongs to another tenant", id),
				}
			}
			if foreign {
				return zero, &NotFoundError{Kind: r.coll.Kind, ID: id}
			}
			_, err = repository.For[T](tx).Save(ctx, v)
			return v, err
		},
		Apply: func(ctx context.Context, tx *mirror.Tx, _ T, v T) error {
			foreign, id, err := guarded(ctx, tx, v)
			if err != nil {
				return err
			}
			if foreign {
				r.h.logger.Warn("not mirroring record owned by another tenant",
					zap.String("kind", string(r.coll.Kind)), zap.String("id", id))
				return nil
			}
			_, err = repository.For[T](tx).Save(ctx, v)
			return err
		},
		Validate: func(v T) error {
			return r.h.registry.Validate(r.coll.Kind, v)
		},
	}
	if create {
		h.Rollback = func(ctx context.Context, tx *mirror.Tx, v T) error {
			foreign, id, err := guarded(ctx, tx, v)
			if err != nil || foreign {
				return err
			}
			return repository.For[T](tx).Delete(ctx, id)
		}
	}
	return h
}

// foreign reports whether the mirrored record id belongs to a tenant other
// than tenantID. Missing records and unscoped collections are never foreign.
func (r *Resource[T]) foreign(ctx context.Context, tx *mirror.Tx, id, tenantID string) (bool, error) {
	if !r.coll.TenantScoped || id == "" {
		return false, nil
	}
	existing, found, err := repository.For[T](tx).Get(ctx, id)
	if err != nil || !found {
		return false, err
	}
	ok, err := r.owned(existing, tenantID)
	return err == nil && !ok, err
}

// owned reports whether v belongs to tenantID.
func (r *Resource[T]) owned(v T, tenantID string) (bool, error) {
	if !r.coll.TenantScoped || tenantID == "" {
		return true, nil
	}
	rec, err := repository.Encode(v)
	if err != nil {
		return false, err
	}
	return rec.TenantID == tenantID, nil
}

func validateID[P any](id func(P) string) func(P) error {
	return func(p P) error {
		if id(p) == "" {
			return &schema.ValidationError{Field: record.KeyID, Message: "id is required"}
		}
		return nil
	}
}

// Entity returns the entity name used in operation names.
func (r *Resource[T]) Entity() string {
	return r.coll.Entity
}

// Op returns the resource's operation for verb.
func (r *Resource[T]) Op(verb engine.Verb) engine.Op {
	return engine.NewOp(verb, r.coll.Entity)
}

// Create authorizes, completes and validates v, then runs create_{entity}.
// Missing ids are generated on the client so replays stay idempotent; the
// tenant defaults to the user's.
func (r *Resource[T]) Create(ctx context.Context, user User, v T) (T, error) {
	var zero T
	if err := r.authorize(ctx, user, engine.VerbCreate); err != nil {
		return zero, err
	}
	v, err := r.prepare(user, v, true)
	if err != nil {
		return zero, err
	}
	return r.write(ctx, engine.VerbCreate, v)
}

// Update authorizes and validates v, then runs update_{entity}.
func (r *Resource[T]) Update(ctx context.Context, user User, v T) (T, error) {
	var zero T
	if err := r.authorize(ctx, user, engine.VerbUpdate); err != nil {
		return zero, err
	}
	v, err := r.prepare(user, v, false)
	if err != nil {
		return zero, err
	}
	return r.write(ctx, engine.VerbUpdate, v)
}

// Delete runs delete_{entity}.
func (r *Resource[T]) Delete(ctx context.Context, user User, id string) error {
	if err := r.authorize(ctx, user, engine.VerbDelete); err != nil {
		return err
	}
	res, err := engine.Do[DeleteParams, Deleted](ctx, r.h.coord, r.Op(engine.VerbDelete),
		DeleteParams{ID: id, TenantID: r.scope(user)})
	if err != nil {
		return err
	}
	r.afterWrite(ctx, res.Remote)
	return nil
}

// Get runs get_{entity}. Records of other tenants are reported as not found.
func (r *Resource[T]) Get(ctx context.Context, user User, id string) (T, error) {
	var zero T
	if err := r.authorize(ctx, user, engine.VerbGet); err != nil {
		return zero, err
	}
	v, err := engine.Execute[GetParams, T](ctx, r.h.coord, r.Op(engine.VerbGet), GetParams{ID: id, TenantID: r.scope(user)})
	if err != nil {
		return zero, err
	}
	if r.coll.TenantScoped {
		rec, err := repository.Encode(v)
		if err != nil {
			return zero, err
		}
		if rec.TenantID != user.TenantID {
			return zero, &NotFoundError{Kind: r.coll.Kind, ID: id}
		}
	}
	return v, nil
}

// List runs fetch_{entity} for the user's tenant.
func (r *Resource[T]) List(ctx context.Context, user User) ([]T, error) {
	if err := r.authorize(ctx, user, engine.VerbFetch); err != nil {
		return nil, err
	}
	return engine.Execute[FetchParams, []T](ctx, r.h.coord, r.Op(engine.VerbFetch), FetchParams{TenantID: r.scope(user)})
}

func (r *Resource[T]) write(ctx context.Context, verb engine.Verb, v T) (T, error) {
	res, err := engine.Do[T, T](ctx, r.h.coord, r.Op(verb), v)
	if err != nil {
		var zero T
		return zero, err
	}
	r.afterWrite(ctx, res.Remote)
	return res.Value, nil
}

func (r *Resource[T]) afterWrite(ctx context.Context, remote bool) {
	if remote && r.h.views != nil && len(r.cfg.Views) > 0 {
		r.h.views.Revalidate(ctx, r.cfg.Views...)
	}
}

func (r *Resource[T]) authorize(ctx context.Context, user User, verb engine.Verb) error {
	perm := PermissionFor(r.coll.Entity, verb)
	if r.h.perms == nil {
		return &PermissionError{UserID: user.ID, Permission: perm, Reason: "no permission checker configured"}
	}
	ok, err := r.h.perms.Allowed(ctx, user, perm)
	if err != nil {
		return fmt.Errorf("check %s: %w", perm, err)
	}
	if !ok {
		return &PermissionError{UserID: user.ID, Permission: perm}
	}
	return nil
}

func (r *Resource[T]) scope(user User) string {
	if r.coll.TenantScoped {
		return user.TenantID
	}
	return ""
}

// prepare fills the id, tenant scope and timestamps of a write.
func (r *Resource[T]) prepare(user User, v T, create bool) (T, error) {
	var zero T
	rec, err := repository.Encode(v)
	if err != nil {
		return zero, &schema.ValidationError{Kind: r.coll.Kind, Message: err.Error()}
	}
	if r.coll.TenantScoped {
		if rec.TenantID == "" {
			rec.TenantID = user.TenantID
		}
		if rec.TenantID != user.TenantID {
			return zero, &PermissionError{
				UserID:     user.ID,
				Permission: PermissionFor(r.coll.Entity, verbOf(create)),
				Reason:     fmt.Sprintf("tenant %q is outside the user's scope", rec.TenantID),
			}
		}
	}
	now := r.h.now().UTC()
	if create {
		if rec.ID == "" {
			rec.ID = r.h.newID()
		}
		if rec.CreatedAt == nil {
			rec.CreatedAt = &now
		}
	}
	rec.UpdatedAt = &now
	return repository.Decode[T](rec)
}

func verbOf(create bool) engine.Verb {
	if create {
		return engine.VerbCreate
	}
	return engine.VerbUpdate
}
