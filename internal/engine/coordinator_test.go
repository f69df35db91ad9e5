package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/10d3/nexora/internal/connectivity"
	"github.com/10d3/nexora/internal/entity"
	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/queue"
	"github.com/10d3/nexora/internal/repository"
	"github.com/10d3/nexora/internal/schema"
)

var (
	opCreateCustomer = NewOp(VerbCreate, "customer")
	opFetchCustomer  = NewOp(VerbFetch, "customer")
)

type fetchParams struct {
	TenantID string `json:"tenantId"`
}

// fakeRemote records calls and returns canned results.
type fakeRemote struct {
	mu        sync.Mutex
	creates   []entity.CustomerProfile
	fetches   int
	createErr error
	customers []entity.CustomerProfile
}

func (f *fakeRemote) create(_ context.Context, c entity.CustomerProfile) (entity.CustomerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, c)
	if f.createErr != nil {
		return entity.CustomerProfile{}, f.createErr
	}
	c.LoyaltyPoints = 10 // server-side default
	return c, nil
}

func (f *fakeRemote) fetch(_ context.Context, p fetchParams) ([]entity.CustomerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.customers, nil
}

func (f *fakeRemote) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

type fixture struct {
	store   *mirror.Store
	source  *connectivity.ManualSource
	monitor *connectivity.Monitor
	queue   *queue.Manager
	coord   *Coordinator
	remote  *fakeRemote
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	s, err := mirror.Open(filepath.Join(t.TempDir(), "mirror.db"), schema.MustDefault())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	src := connectivity.NewManualSource(online)
	mon := connectivity.New(src)
	q := queue.New(s)
	f := &fixture{store: s, source: src, monitor: mon, queue: q, remote: &fakeRemote{}}
	f.coord = New(s, mon, q)

	reg := schema.MustDefault()
	require.NoError(t, Register(f.coord, opCreateCustomer, Handler[entity.CustomerProfile, entity.CustomerProfile]{
		Remote: f.remote.create,
		Local: func(ctx context.Context, tx *mirror.Tx, c entity.CustomerProfile) (entity.CustomerProfile, error) {
			_, err := repository.For[entity.CustomerProfile](tx).Save(ctx, c)
			return c, err
		},
		Apply: func(ctx context.Context, tx *mirror.Tx, _ entity.CustomerProfile, c entity.CustomerProfile) error {
			_, err := repository.For[entity.CustomerProfile](tx).Save(ctx, c)
			return err
		},
		Validate: func(c entity.CustomerProfile) error {
			return reg.Validate(schema.KindCustomerProfile, c)
		},
		Rollback: func(ctx context.Context, tx *mirror.Tx, c entity.CustomerProfile) error {
			return repository.For[entity.CustomerProfile](tx).Delete(ctx, c.ID)
		},
	}))
	require.NoError(t, Register(f.coord, opFetchCustomer, Handler[fetchParams, []entity.CustomerProfile]{
		Remote: f.remote.fetch,
		Local: func(ctx context.Context, tx *mirror.Tx, p fetchParams) ([]entity.CustomerProfile, error) {
			return repository.For[entity.CustomerProfile](tx).ByTenant(ctx, p.TenantID)
		},
		Apply: func(ctx context.Context, tx *mirror.Tx, p fetchParams, cs []entity.CustomerProfile) error {
			return repository.For[entity.CustomerProfile](tx).ReplaceTenant(ctx, p.TenantID, cs)
		},
	}))
	return f
}

func ada() entity.CustomerProfile {
	return entity.CustomerProfile{ID: "c1", TenantID: "t1", FirstName: "Ada", LastName: "Lovelace"}
}

func TestExecute_OnlineCallsRemoteAndAppliesResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	res, err := Do[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, ada())
	require.NoError(t, err)
	assert.True(t, res.Remote)
	assert.Nil(t, res.Action)
	assert.Equal(t, int64(10), res.Value.LoyaltyPoints)
	assert.Equal(t, 1, f.remote.createCalls())

	got, found, err := repository.CustomerProfile(ctx, f.store, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(10), got.LoyaltyPoints, "mirror holds the server's version")

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecute_OnlineRemoteErrorPropagatesUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	boom := errors.New("500 internal server error")
	f.remote.createErr = boom

	_, err := Execute[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, ada())
	assert.Same(t, boom, err)

	_, found, err := repository.CustomerProfile(ctx, f.store, "c1")
	require.NoError(t, err)
	assert.False(t, found, "no local fallback")
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "online failures are not queued")
}

func TestExecute_OfflineWritesLocallyAndQueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	res, err := Do[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, ada())
	require.NoError(t, err)
	assert.False(t, res.Remote)
	require.NotNil(t, res.Action)
	assert.Equal(t, "create_customer", res.Action.Name)
	assert.Zero(t, res.Action.Retries)
	assert.Zero(t, f.remote.createCalls(), "remote must not run offline")

	_, found, err := repository.CustomerProfile(ctx, f.store, "c1")
	require.NoError(t, err)
	assert.True(t, found)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"id":"c1","tenantId":"t1","firstName":"Ada","lastName":"Lovelace"}`, string(pending[0].Params))
}

func TestExecute_OfflineReadUsesMirrorWithoutQueueing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := repository.SaveCustomerProfile(ctx, f.store, ada())
	require.NoError(t, err)

	got, err := Execute[fetchParams, []entity.CustomerProfile](ctx, f.coord, opFetchCustomer, fetchParams{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Lovelace", got[0].LastName)
	assert.Zero(t, f.remote.fetches)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecute_OnlineFetchReplacesTenantWholesale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	_, err := repository.SaveCustomerProfile(ctx, f.store, ada())
	require.NoError(t, err)
	f.remote.customers = []entity.CustomerProfile{
		{ID: "c9", TenantID: "t1", FirstName: "Grace", LastName: "Hopper"},
	}

	got, err := Execute[fetchParams, []entity.CustomerProfile](ctx, f.coord, opFetchCustomer, fetchParams{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	local, err := repository.CustomerProfilesByTenant(ctx, f.store, "t1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "c9", local[0].ID)
}

func TestExecute_ValidationFailureIsNeverQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	bad := ada()
	bad.LastName = ""

	_, err := Execute[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, bad)
	require.Error(t, err)
	assert.True(t, schema.IsValidationError(err))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecute_MisuseErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := Execute[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, NewOp(VerbDelete, "customer"), ada())
	assert.True(t, IsUnknownOperation(err))

	_, err = Execute[fetchParams, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, fetchParams{})
	assert.True(t, HasCode(err, ErrCodeTypeMismatch))

	err = Register(f.coord, opCreateCustomer, Handler[entity.CustomerProfile, entity.CustomerProfile]{Remote: f.remote.create})
	assert.True(t, HasCode(err, ErrCodeDuplicateOperation))

	err = Register(f.coord, NewOp(VerbGet, "customer"), Handler[string, entity.CustomerProfile]{})
	assert.True(t, HasCode(err, ErrCodeInvalidOperation))
}

func TestExecute_OfflineReadWithoutLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	op := NewOp(VerbGet, "plan")
	require.NoError(t, Register(f.coord, op, Handler[string, string]{
		Remote: func(context.Context, string) (string, error) { return "gold", nil },
	}))

	_, err := Execute[string, string](ctx, f.coord, op, "p1")
	assert.True(t, HasCode(err, ErrCodeNoLocalEquivalent))
}

func TestRun_DrainsOnReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, false)

	_, err := Execute[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, ada())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx) }()
	go f.monitor.Run(ctx)

	f.source.Set(true)

	require.Eventually(t, func() bool {
		n, err := f.queue.Len(context.Background())
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.remote.createCalls())
	f.remote.mu.Lock()
	assert.Equal(t, "Ada", f.remote.creates[0].FirstName)
	f.remote.mu.Unlock()

	got, _, err := repository.CustomerProfile(context.Background(), f.store, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.LoyaltyPoints, "replayed result applied to the mirror")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_DrainsAtStartWhenOnline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, true)

	_, err := f.queue.Enqueue(ctx, "create_customer", ada())
	require.NoError(t, err)

	go f.coord.Run(ctx)

	require.Eventually(t, func() bool { return f.remote.createCalls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDrain_DroppedActionRollsBackOptimisticWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	_, err := Execute[entity.CustomerProfile, entity.CustomerProfile](ctx, f.coord, opCreateCustomer, ada())
	require.NoError(t, err)

	f.monitor.Set(true)
	f.remote.createErr = errors.New("409 conflict")
	for i := 0; i < queue.MaxRetries; i++ {
		_, err := f.coord.Drain(ctx)
		require.NoError(t, err)
	}

	_, found, err := repository.CustomerProfile(ctx, f.store, "c1")
	require.NoError(t, err)
	assert.False(t, found, "optimistic create rolled back")

	dropped, err := f.queue.Dropped(ctx)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, "create_customer", dropped[0].Name)
	assert.Equal(t, "409 conflict", dropped[0].LastError)
}

func TestOperations_Sorted(t *testing.T) {
	f := newFixture(t, true)
	ops := f.coord.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "create_customer", ops[0].String())
	assert.Equal(t, "fetch_customer", ops[1].String())
}
