package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable identifiers ("prefix-0001", ...).
//
// It replaces uuid generation in tests so that stored rows, audit events
// and golden output stay byte-identical between runs.
//
// Thread-safety: SequenceIDs is safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Next returns the next identifier.
func (g *SequenceIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
