// Package session houses concrete implementations of core.SessionStore.
// The interface itself (and the State document) live in the core package to
// centralize domain contracts; keeping only implementations here prevents the
// components (ledger, cache, tasks, report) from depending on concrete storage.
//
// InMemoryStore and FileStore are provided here. Database backed stores live
// in sub-packages (session/sqlite, session/badger) so their drivers are only
// linked when used.
package session
