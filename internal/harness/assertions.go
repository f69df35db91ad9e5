package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

// AssertionError is returned when an assertion does not hold.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertQueueLength:
		return h.assertQueueLength(ctx, a)
	case AssertQueueContains:
		return h.assertQueueContains(ctx, a)
	case AssertDroppedContains:
		return h.assertDroppedContains(ctx, a)
	case AssertMirrorCount:
		return h.assertMirrorCount(ctx, a)
	case AssertMirrorRecord:
		return h.assertMirrorRecord(ctx, a)
	case AssertMirrorAbsent:
		return h.assertMirrorAbsent(ctx, a)
	case AssertRemoteCount:
		return h.assertRemoteCount(a)
	case AssertRemoteCalls:
		return h.assertRemoteCalls(a)
	case AssertLogContains:
		return h.assertLogContains(a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertQueueLength(ctx context.Context, a Assertion) error {
	n, err := h.queue.Len(ctx)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d pending actions", a.Count), Actual: fmt.Sprintf("%d", n)}
	}
	return nil
}

func (h *Harness) assertQueueContains(ctx context.Context, a Assertion) error {
	pending, err := h.queue.Pending(ctx)
	if err != nil {
		return err
	}
	var seen []string
	for _, act := range pending {
		if act.Name == a.Action && (a.Retries == nil || act.Retries == *a.Retries) {
			return nil
		}
		seen = append(seen, fmt.Sprintf("%s(retries=%d)", act.Name, act.Retries))
	}
	want := a.Action
	if a.Retries != nil {
		want = fmt.Sprintf("%s(retries=%d)", a.Action, *a.Retries)
	}
	return &AssertionError{Type: a.Type, Expected: want, Actual: listOrNone(seen)}
}

func (h *Harness) assertDroppedContains(ctx context.Context, a Assertion) error {
	dropped, err := h.queue.Dropped(ctx)
	if err != nil {
		return err
	}
	var seen []string
	for _, d := range dropped {
		if d.Name == a.Action {
			return nil
		}
		seen = append(seen, d.Name)
	}
	return &AssertionError{Type: a.Type, Expected: a.Action, Actual: listOrNone(seen)}
}

func (h *Harness) assertMirrorCount(ctx context.Context, a Assertion) error {
	recs, err := h.store.QueryByTenant(ctx, schema.Kind(a.Kind), h.tenant(a))
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d %s records", a.Count, a.Kind), Actual: fmt.Sprintf("%d", len(recs))}
	}
	return nil
}

func (h *Harness) assertMirrorRecord(ctx context.Context, a Assertion) error {
	rec, found, err := h.store.Get(ctx, schema.Kind(a.Kind), a.ID)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s %s", a.Kind, a.ID), Actual: "not found"}
	}
	actual, err := recordFields(rec)
	if err != nil {
		return err
	}
	for _, key := range slices.Sorted(maps.Keys(a.Expect)) {
		want, err := record.FromAny(a.Expect[key])
		if err != nil {
			return fmt.Errorf("expect.%s: %w", key, err)
		}
		got, ok := actual[key]
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s=%s", key, canonical(want)), Actual: "field absent"}
		}
		if !reflect.DeepEqual(want, got) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s=%s", key, canonical(want)), Actual: canonical(got)}
		}
	}
	return nil
}

func (h *Harness) assertMirrorAbsent(ctx context.Context, a Assertion) error {
	_, found, err := h.store.Get(ctx, schema.Kind(a.Kind), a.ID)
	if err != nil {
		return err
	}
	if found {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("no %s %s", a.Kind, a.ID), Actual: "record present"}
	}
	return nil
}

func (h *Harness) assertRemoteCount(a Assertion) error {
	n := len(h.stub.Records(a.Entity, h.tenant(a)))
	if n != a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d remote %s records", a.Count, a.Entity), Actual: fmt.Sprintf("%d", n)}
	}
	return nil
}

func (h *Harness) assertRemoteCalls(a Assertion) error {
	n := h.stub.Calls(a.Action)
	if n != a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d calls of %s", a.Count, a.Action), Actual: fmt.Sprintf("%d", n)}
	}
	return nil
}

func (h *Harness) assertLogContains(a Assertion) error {
	for _, e := range h.logs.All() {
		if e.Level.String() == a.Level && e.Message == a.Message {
			return nil
		}
	}
	return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s %q", a.Level, a.Message), Actual: "no matching entry"}
}

func (h *Harness) tenant(a Assertion) string {
	if a.Tenant != "" {
		return a.Tenant
	}
	return h.user.TenantID
}

// recordFields flattens a record into its entity document fields.
func recordFields(rec record.Record) (record.Object, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	v, err := record.FromAny(raw)
	if err != nil {
		return nil, err
	}
	return v.(record.Object), nil
}

func canonical(v record.Value) string {
	data, err := record.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
