// Package harness runs offline-sync scenarios end to end.
//
// A scenario wires a fresh mirror, connectivity monitor, action queue,
// coordinator and CRUD resources against an in-process stub remote, then
// executes steps and checks assertions. Time and ids are deterministic,
// so the recorded trace can be compared against a golden file.
//
// # Scenario Format
//
//	name: offline_create_queues
//	description: "Offline create is queued and mirrored"
//	online: false
//	user: { id: u1, tenant: t1, role: staff }
//	steps:
//	  - invoke: create_customer
//	    params: { firstName: Ada, lastName: Lovelace, tenantId: t1 }
//	    expect: { outcome: queued }
//	  - connectivity: online
//	  - drain: true
//	  - fail: { action: create_customer, times: -1, status: 503 }
//	  - put: { kind: customer_profile, record: { id: c1, tenantId: t1, ... } }
//	  - bulk_put: { kind: product, records: [ ... ] }
//	    expect: { outcome: error, error: malformed_record }
//	assertions:
//	  - type: queue_length
//	    count: 0
//
// # Assertion Types
//
//   - queue_length: number of pending actions equals count
//   - queue_contains: a pending action named action, optionally with retries
//   - dropped_contains: the unsynced log holds an action named action
//   - mirror_count: records of kind for tenant equal count
//   - mirror_record: record kind/id exists and its fields include expect
//   - mirror_absent: record kind/id does not exist
//   - remote_count: the stub holds count records of entity for tenant
//   - remote_calls: the stub received count calls of action
//   - log_contains: a log entry at level with message was written
package harness
