// Package core provides the foundational domain types and contracts used by
// sessionmesh. It defines:
//
//   - Sessions (versioned documents owning all coordination state of one run)
//   - Value (an opaque, losslessly round-trippable structured payload)
//   - Ledger, cache, task and report state embedded in the session document
//   - SessionStore, the durable store with a single optimistic Commit primitive
//   - Typed errors reachable through errors.Is
//
// Persistence backends live in the session packages; the components that
// operate on the document (ledger, cache, tasks, report) live in their own
// packages and only interact through a SessionStore.
package core
