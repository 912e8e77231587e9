// Package model defines the records shared between the runtime, the
// store and the state job.
//
// Types here carry no behaviour beyond small invariants (status
// transitions, terminality). Persistence lives in internal/store; the
// proposal lifecycle lives in internal/capability.
package model
