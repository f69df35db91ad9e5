package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Value is a sealed interface over the attribute value types a record may
// carry. Only Null, String, Int, Bool, Array and Object implement it.
type Value interface {
	recordValue()
}

// Null is an explicit JSON null.
type Null struct{}

func (Null) recordValue() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// String is a string attribute.
type String string

func (String) recordValue() {}

// Int is an integer attribute. Monetary amounts use minor units.
type Int int64

func (Int) recordValue() {}

// Bool is a boolean attribute.
type Bool bool

func (Bool) recordValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) recordValue() {}

// Object maps attribute names to values.
type Object map[string]Value

func (Object) recordValue() {}

// SortedKeys returns the object's keys in lexicographic order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = cloneValue(v)
	}
	return out
}

// Lookup returns the value at a top-level attribute name.
func (o Object) Lookup(name string) (Value, bool) {
	v, ok := o[name]
	return v, ok
}

// UnmarshalJSON decodes a JSON object, keeping integers exact and rejecting
// fractional numbers.
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	obj, err := objectFromAny(raw)
	if err != nil {
		return err
	}
	*o = obj
	return nil
}

// MarshalJSON encodes the object in canonical form.
func (o Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(o)
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// FromAny converts a decoded JSON value into a Value. Numbers must be
// json.Number or Go integers; any fractional number is an error.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case json.Number:
		if strings.ContainsAny(val.String(), ".eE") {
			return nil, fmt.Errorf("non-integer number %s: use integer minor units", val)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", val, err)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("float value %v: use integer minor units", val)
	case []any:
		arr := make(Array, len(val))
		for i, e := range val {
			ev, err := FromAny(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		return objectFromAny(val)
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", v)
	}
}

func objectFromAny(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, e := range m {
		ev, err := FromAny(e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		obj[k] = ev
	}
	return obj, nil
}

// ToAny converts a Value back to plain Go values (string, int64, bool,
// []any, map[string]any, nil).
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToAny(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}

// TypeName reports the schema type name of a value.
func TypeName(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
