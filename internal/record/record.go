package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Reserved JSON keys carried as record columns rather than attributes.
const (
	KeyID        = "id"
	KeyTenantID  = "tenantId"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
	KeyDeletedAt = "deletedAt"
)

// Record is one mirrored entity.
type Record struct {
	ID        string
	TenantID  string
	Attrs     Object
	CreatedAt *time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the record carries a soft-delete marker.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// Attr returns a top-level attribute, or Null if it is absent.
func (r Record) Attr(name string) Value {
	if v, ok := r.Attrs[name]; ok {
		return v
	}
	return Null{}
}

// FromJSON splits an entity JSON document into a Record. Reserved keys
// become record fields; everything else becomes an attribute.
func FromJSON(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return Record{}, fmt.Errorf("decode record: not an object")
	}

	var rec Record
	var err error
	if rec.ID, err = takeString(raw, KeyID); err != nil {
		return Record{}, err
	}
	if rec.TenantID, err = takeString(raw, KeyTenantID); err != nil {
		return Record{}, err
	}
	if rec.CreatedAt, err = takeTime(raw, KeyCreatedAt); err != nil {
		return Record{}, err
	}
	if rec.UpdatedAt, err = takeTime(raw, KeyUpdatedAt); err != nil {
		return Record{}, err
	}
	if rec.DeletedAt, err = takeTime(raw, KeyDeletedAt); err != nil {
		return Record{}, err
	}
	if rec.Attrs, err = objectFromAny(raw); err != nil {
		return Record{}, fmt.Errorf("decode record %q: %w", rec.ID, err)
	}
	return rec, nil
}

// MarshalJSON renders the record as a flat entity document.
func (r Record) MarshalJSON() ([]byte, error) {
	obj := r.Attrs.Clone()
	if obj == nil {
		obj = Object{}
	}
	obj[KeyID] = String(r.ID)
	if r.TenantID != "" {
		obj[KeyTenantID] = String(r.TenantID)
	}
	putTime(obj, KeyCreatedAt, r.CreatedAt)
	putTime(obj, KeyUpdatedAt, r.UpdatedAt)
	putTime(obj, KeyDeletedAt, r.DeletedAt)
	return MarshalCanonical(obj)
}

// FormatTime renders a timestamp the way records store it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func putTime(obj Object, key string, t *time.Time) {
	if t != nil {
		obj[key] = String(FormatTime(*t))
	}
}

func takeString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", nil
	}
	delete(raw, key)
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

func takeTime(raw map[string]any, key string) (*time.Time, error) {
	s, err := takeString(raw, key)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := ParseTime(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &t, nil
}
