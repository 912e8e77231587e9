package model

import "time"

// SnapshotSchemaVersion is bumped when the snapshot field set changes.
const SnapshotSchemaVersion = 1

// Completeness reports whether every source contributed to a snapshot.
type Completeness string

const (
	CompletenessFull    Completeness = "full"
	CompletenessPartial Completeness = "partial"
)

// Diagnostics describes how a snapshot was produced.
type Diagnostics struct {
	Completeness Completeness     `json:"completeness"`
	Warnings     []string         `json:"warnings"`
	DurationsMs  map[string]int64 `json:"durationsMs"`
}

// StudioStateSnapshot is the dated rollup produced by the state job.
// SnapshotDate (YYYY-MM-DD) is the unique key; re-running on the same
// date overwrites that row.
type StudioStateSnapshot struct {
	SchemaVersion int               `json:"schemaVersion"`
	SnapshotDate  string            `json:"snapshotDate"`
	GeneratedAt   time.Time         `json:"generatedAt"`
	Counts        map[string]int64  `json:"counts"`
	Ops           map[string]int64  `json:"ops"`
	Finance       map[string]int64  `json:"finance"`
	SourceHashes  map[string]string `json:"sourceHashes"`
	Diagnostics   Diagnostics       `json:"diagnostics"`
}

// FieldChange is one numeric field that moved between snapshots.
type FieldChange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// StudioStateDiff lists the changed fields between two snapshots, keyed
// by field path ("counts.proposalsPending").
type StudioStateDiff struct {
	FromSnapshotDate string                 `json:"fromSnapshotDate"`
	ToSnapshotDate   string                 `json:"toSnapshotDate"`
	Changes          map[string]FieldChange `json:"changes"`
}
