// Package mirror is the durable on-device copy of tenant-scoped server
// state.
//
// The mirror is a SQLite database (WAL mode, single writer) with one table
// per registered collection plus the action queue and the dropped-action
// log. Record attributes are stored as canonical JSON and secondary indices
// are SQLite expression indices over json_extract, generated from the
// entity registry.
//
// # Write semantics
//
//   - Put is an upsert that fully replaces any existing record with the same id.
//   - BulkPut and ReplaceTenant run in one transaction: a malformed record or a
//     failed write leaves the collection untouched.
//   - Delete is idempotent.
//   - ClearAll wipes every collection, the queue and the dropped log.
//
// Store.Update exposes a transaction (Tx) so that a local write and the
// queued action describing it commit together.
//
// # Errors
//
// Failures are returned as *StorageError with a Code. A full disk maps to
// CodeQuotaExceeded; using a closed store yields CodeNotInitialized.
package mirror
