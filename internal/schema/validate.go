package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/10d3/nexora/internal/record"
)

// Validate checks v against the kind's CUE definition. v may be anything
// that marshals to a JSON object (an entity struct, a record, a map). The
// returned *ValidationError names the first violated constraint in the
// definition's field order.
func (r *Registry) Validate(kind Kind, v any) error {
	coll, ok := r.Lookup(kind)
	if !ok {
		return fmt.Errorf("schema: unknown kind %q", kind)
	}

	input, err := toPlain(v)
	if err != nil {
		return &ValidationError{Kind: kind, Message: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def := r.root.LookupPath(cue.ParsePath(coll.Definition))
	unified := def.Unify(r.ctx.Encode(input))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return coll.firstViolation(err)
	}
	return nil
}

// toPlain normalizes v into the JSON-shaped values CUE encodes without
// surprises: strings, int64, bool, nil, []any and map[string]any.
func toPlain(v any) (any, error) {
	var data []byte
	switch val := v.(type) {
	case []byte:
		data = val
	case json.RawMessage:
		data = val
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("expected an object, got %T", raw)
	}
	val, err := record.FromAny(raw)
	if err != nil {
		return nil, err
	}
	return record.ToAny(val), nil
}

func (c *Collection) firstViolation(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Kind: c.Kind, Message: err.Error()}
	}

	best := -1
	bestRank := 0
	for i, e := range errs {
		rank := len(c.fieldOrder)
		if field := fieldPath(e.Path()); field != "" {
			top, _, _ := strings.Cut(field, ".")
			if pos, ok := c.fieldOrder[top]; ok {
				rank = pos
			}
		}
		if best == -1 || rank < bestRank {
			best, bestRank = i, rank
		}
	}

	e := errs[best]
	format, args := e.Msg()
	return &ValidationError{
		Kind:    c.Kind,
		Field:   fieldPath(e.Path()),
		Message: fmt.Sprintf(format, args...),
	}
}

// fieldPath drops definition selectors from a CUE error path.
func fieldPath(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if strings.HasPrefix(p, "#") {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ".")
}
