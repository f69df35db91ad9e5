package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/10d3/nexora/internal/connectivity"
	"github.com/10d3/nexora/internal/crud"
	"github.com/10d3/nexora/internal/engine"
	"github.com/10d3/nexora/internal/entity"
	"github.com/10d3/nexora/internal/mirror"
	"github.com/10d3/nexora/internal/queue"
	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/remote"
	"github.com/10d3/nexora/internal/remote/stub"
	"github.com/10d3/nexora/internal/repository"
	"github.com/10d3/nexora/internal/schema"
	"github.com/10d3/nexora/internal/testutil"
)

// DefaultUser runs scenarios that do not name one.
var DefaultUser = crud.User{ID: "u1", TenantID: "t1", Role: "owner"}

var errInvalidParams = errors.New("invalid params")

// invoker runs one verb of a registered resource and reports the affected
// record id, or the number of records read.
type invoker func(ctx context.Context, user crud.User, verb engine.Verb, params map[string]any) (id string, count *int, err error)

// Harness is the wiring for one scenario run. Every run gets a fresh
// mirror in a temporary directory, a stub remote and deterministic clocks
// and ids.
type Harness struct {
	dir      string
	registry *schema.Registry
	store    *mirror.Store
	monitor  *connectivity.Monitor
	queue    *queue.Manager
	coord    *engine.Coordinator
	stub     *stub.Server
	server   *httptest.Server
	clock    *testutil.DeterministicClock
	logs     *observer.ObservedLogs
	user     crud.User
	invokers map[string]invoker
}

// Run executes a scenario and returns its result. Steps and assertions
// that do not hold are reported in the result; the error is reserved for
// failures to set up the run.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	ctx := context.Background()
	result := NewResult()
	for i, st := range scenario.Steps {
		h.execute(ctx, i, st, result)
	}
	for i, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	reg, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	dir, err := os.MkdirTemp("", "nexora-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario directory: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	st, err := mirror.Open(filepath.Join(dir, "mirror.db"), reg, mirror.WithClock(clock.Now))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	mon := connectivity.New(connectivity.NewManualSource(scenario.Online), connectivity.WithLogger(logger))
	q := queue.New(st,
		queue.WithLogger(logger),
		queue.WithClock(clock.Now),
		queue.WithIDGenerator(testutil.NewSequentialIDs("act").Next))
	coord := engine.New(st, mon, q, engine.WithLogger(logger))

	srv := stub.New(reg, stub.WithLogger(logger), stub.WithClock(clock.Now))
	ts := httptest.NewServer(srv.Handler())

	h := &Harness{
		dir:      dir,
		registry: reg,
		store:    st,
		monitor:  mon,
		queue:    q,
		coord:    coord,
		stub:     srv,
		server:   ts,
		clock:    clock,
		logs:     logs,
		user:     DefaultUser,
		invokers: make(map[string]invoker),
	}
	if scenario.User != nil {
		h.user = *scenario.User
	}

	client, err := remote.NewClient(ts.URL, remote.WithLogger(logger))
	if err != nil {
		h.Close()
		return nil, err
	}
	helper := crud.NewHelper(coord, reg, crud.DefaultRoles(), crud.NewViews(),
		crud.WithLogger(logger),
		crud.WithClock(clock.Now),
		crud.WithIDGenerator(testutil.NewSequentialIDs("rec").Next))

	for _, bindFn := range []func() error{
		func() error { return register[entity.CustomerProfile](h, helper, client) },
		func() error { return register[entity.Product](h, helper, client) },
		func() error { return register[entity.Order](h, helper, client) },
		func() error { return register[entity.Category](h, helper, client) },
	} {
		if err := bindFn(); err != nil {
			h.Close()
			return nil, fmt.Errorf("register resources: %w", err)
		}
	}
	return h, nil
}

// Close stops the stub remote and removes the mirror.
func (h *Harness) Close() {
	if h.server != nil {
		h.server.Close()
	}
	if h.store != nil {
		h.store.Close()
	}
	os.RemoveAll(h.dir)
}

func register[T entity.Entity](h *Harness, helper *crud.Helper, client *remote.Client) error {
	var zero T
	coll, ok := h.registry.Lookup(zero.Kind())
	if !ok {
		return fmt.Errorf("kind %q is not in the schema registry", zero.Kind())
	}
	r, err := crud.Register(helper, crud.Config[T]{Remote: remote.CRUD[T](client, coll.Entity)})
	if err != nil {
		return err
	}
	h.invokers[r.Entity()] = bind(r)
	return nil
}

func bind[T entity.Entity](r *crud.Resource[T]) invoker {
	return func(ctx context.Context, user crud.User, verb engine.Verb, params map[string]any) (string, *int, error) {
		switch verb {
		case engine.VerbFetch:
			vs, err := r.List(ctx, user)
			if err != nil {
				return "", nil, err
			}
			n := len(vs)
			return "", &n, nil
		case engine.VerbGet:
			id, _ := params[record.KeyID].(string)
			_, err := r.Get(ctx, user, id)
			return id, nil, err
		case engine.VerbDelete:
			id, _ := params[record.KeyID].(string)
			return id, nil, r.Delete(ctx, user, id)
		}

		var v T
		data, err := json.Marshal(params)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return "", nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		write := r.Create
		if verb == engine.VerbUpdate {
			write = r.Update
		}
		out, err := write(ctx, user, v)
		if err != nil {
			return "", nil, err
		}
		rec, err := repository.Encode(out)
		if err != nil {
			return "", nil, err
		}
		return rec.ID, nil, nil
	}
}

// execute runs one step, records its trace event and checks its
// expectation.
func (h *Harness) execute(ctx context.Context, i int, st Step, result *Result) {
	ev := TraceEvent{Seq: h.clock.Next(), Outcome: OutcomeOK}
	var err error

	switch {
	case st.Invoke != "":
		ev.Type, ev.Action = EventInvoke, st.Invoke
		ev.ID, ev.Count, ev.Outcome, err = h.invoke(ctx, st.Invoke, st.Params)

	case st.Connectivity != "":
		online := st.Connectivity == "online"
		ev.Type, ev.Online = EventConnectivity, &online
		h.monitor.Set(online)

	case st.Drain:
		ev.Type = EventDrain
		var report queue.Report
		report, err = h.coord.Drain(ctx)
		ev.Report = &report

	case st.Fail != nil:
		ev.Type, ev.Action = EventFail, st.Fail.Action
		h.stub.Fail(st.Fail.Action, st.Fail.Times, st.Fail.Status, st.Fail.Message)

	case st.Heal != "":
		ev.Type, ev.Action = EventHeal, st.Heal
		h.stub.Heal(st.Heal)

	case st.Put != nil:
		ev.Type = EventPut
		var rec record.Record
		if rec, err = recordFromMap(st.Put.Record); err == nil {
			ev.ID, err = h.store.Put(ctx, schema.Kind(st.Put.Kind), rec)
		}

	case st.BulkPut != nil:
		ev.Type = EventBulkPut
		recs := make([]record.Record, 0, len(st.BulkPut.Records))
		for _, m := range st.BulkPut.Records {
			var rec record.Record
			if rec, err = recordFromMap(m); err != nil {
				break
			}
			recs = append(recs, rec)
		}
		if err == nil {
			err = h.store.BulkPut(ctx, schema.Kind(st.BulkPut.Kind), recs)
		}
		if err == nil {
			n := len(recs)
			ev.Count = &n
		}
	}

	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, errorCategory(err)
		ev.ID, ev.Count = "", nil
	}
	result.AddTrace(ev)

	want := st.Expect
	switch {
	case want == nil && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, ev.Type, err))
	case want == nil:
	case want.Outcome != ev.Outcome:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected outcome %s, got %s (%v)", i, ev.Type, want.Outcome, ev.Outcome, err))
	case want.Outcome == OutcomeError && want.Error != ev.Error:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %s (%v)", i, ev.Type, want.Error, ev.Error, err))
	}
}

func (h *Harness) invoke(ctx context.Context, name string, params map[string]any) (string, *int, string, error) {
	op, err := engine.ParseOp(name)
	if err != nil {
		return "", nil, OutcomeError, err
	}
	inv, ok := h.invokers[op.Entity]
	if !ok {
		return "", nil, OutcomeError, &engine.Error{Code: engine.ErrCodeUnknownOperation, Op: name, Message: "no resource registered"}
	}

	outcome := OutcomeRemote
	if !h.coord.Online() {
		outcome = OutcomeQueued
		if op.IsRead() {
			outcome = OutcomeLocal
		}
	}
	id, count, err := inv(ctx, h.user, op.Verb, params)
	if err != nil {
		return "", nil, OutcomeError, err
	}
	return id, count, outcome, nil
}

func recordFromMap(m map[string]any) (record.Record, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	rec, err := record.FromJSON(data)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return rec, nil
}

// errorCategory names the class of a step error for traces and
// expectations.
func errorCategory(err error) string {
	var remoteErr *remote.Error
	switch {
	case mirror.HasCode(err, mirror.CodeMalformedRecord):
		return "malformed_record"
	case mirror.HasCode(err, mirror.CodeUnknownCollection):
		return "unknown_collection"
	case mirror.IsStorageError(err):
		return "storage"
	case crud.IsPermissionError(err):
		return "permission"
	case schema.IsValidationError(err):
		return "validation"
	case crud.IsNotFound(err):
		return "not_found"
	case errors.As(err, &remoteErr):
		return fmt.Sprintf("remote_%d", remoteErr.Status)
	case engine.HasCode(err, engine.ErrCodeNoLocalEquivalent):
		return "unavailable_offline"
	case engine.IsUnknownOperation(err):
		return "unknown_operation"
	case errors.Is(err, errInvalidParams):
		return "invalid_params"
	default:
		return "internal"
	}
}
