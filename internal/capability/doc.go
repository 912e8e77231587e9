// Package capability implements the proposal, approval and execution
// state machine.
//
// The Runtime exclusively owns proposal lifecycle transitions:
//
//	pending -> approved -> executed
//	pending -> rejected
//
// Every transition, and every refused execution, appends an audit event.
// Execute evaluates a Decision in a fixed order (kill switch, quota,
// policy consistency) before any connector is touched. Blocked decisions
// are values, not errors; a blocked proposal stays approved and may be
// executed again later.
package capability
