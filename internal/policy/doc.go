// Package policy holds the deployment-time capability contract and the
// governance metadata that accompanies it.
//
// Capabilities are a fixed in-process list; there is no runtime mutation
// API. Policy metadata (owner, approval mode, rollback plan, escalation
// path) is edited out-of-band in a YAML file, validated against a CUE
// schema on load and checked against the capability list by Lint.
package policy
