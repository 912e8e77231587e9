// Package state computes the dated studio state snapshot and its diff
// against the previous date.
//
// A snapshot is assembled from independent read-only sources that run
// concurrently, each under its own timeout. A source that fails or times
// out contributes nothing and adds a warning; the snapshot is still
// produced and marked partial.
package state
