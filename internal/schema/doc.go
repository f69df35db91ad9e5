// Package schema is the entity schema registry.
//
// The registry is compiled at startup from an embedded CUE document that
// declares every mirrored collection: its action entity name, whether it is
// tenant-scoped, its natural sort key, its secondary indices, and the CUE
// definition inputs must satisfy. Two checks are offered:
//
//   - Collection.Check is structural (id present, tenant scope present,
//     declared attribute types). The mirror applies it to every write.
//   - Registry.Validate unifies a value with the kind's CUE definition and
//     reports the first violated constraint. The CRUD layer and the sync
//     coordinator apply it before anything is written or queued.
package schema
