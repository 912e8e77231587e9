// Package store provides SQLite-backed durable storage for the capability
// runtime.
//
// Tables:
//   - audit_events: append-only decision log (UPDATE is rejected by trigger)
//   - proposals: proposal lifecycle rows, mutated only through
//     compare-and-set status transitions
//   - runtime_flags: small key/value state such as the kill switch
//   - state_snapshots / state_diffs: one row per calendar date
//
// # Ordering
//
// Audit reads order by at_ms then seq (insertion order), so events that
// share a millisecond keep their append order. The store never reorders
// past events.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// JSON columns are written with canon.Marshal so stored documents are
// byte-stable.
package store
