// Package engine implements the sync coordinator.
//
// The Coordinator is the single call site for every data operation. For
// each call it consults the connectivity monitor:
//
//   - Online: the operation's remote procedure runs. On success the result
//     is applied to the mirror (a fetch replaces the tenant's slice of the
//     collection wholesale, a mutation upserts or deletes). Remote errors are
//     returned unchanged and nothing falls back to the mirror.
//   - Offline: the operation's local equivalent runs against the mirror. For
//     mutations the queued action is written in the same mirror transaction
//     as the optimistic local write, so neither can exist without the other.
//     Reads are never queued.
//
// Operations are typed. An Op pairs a verb from a closed set (fetch, get,
// create, update, delete) with an entity name, and each Op is bound once to a
// Handler[P, R] whose params P are validated before execution and before
// enqueue. Queued params are persisted as JSON and decoded back into P on
// replay.
//
// Run subscribes to the monitor and drains the action queue on every
// OFFLINE to ONLINE transition (and once at start when already online).
// Transitions are funnelled through an internal FIFO so that drains run on
// the Run goroutine, never inside the monitor's listener callback.
//
// When the queue drops an action after exhausting its retries, the
// handler's optional Rollback reverts the optimistic local write. The
// action also stays in the dropped log until acknowledged, which is what
// user interfaces read to show unsynced changes.
package engine
