// Package record defines the value model for mirrored entity records.
//
// A Record is the storage-level shape of any entity kind: a primary id, the
// tenant scope it belongs to, optional lifecycle timestamps, and a bag of
// kind-specific attributes. Attributes are restricted to a sealed set of
// value types (null, string, int, bool, array, object). Floats are rejected
// so that encoded records are byte-stable; money is carried as integer minor
// units.
//
// Records are persisted using MarshalCanonical, which sorts object keys and
// NFC-normalizes strings. Writing the same record twice therefore produces
// identical bytes, which keeps upserts idempotent.
package record
