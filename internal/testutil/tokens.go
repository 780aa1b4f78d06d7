// Package testutil holds deterministic doubles for calibration tests: a
// fixed run-token source and a log handler that counts records by level.
package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens mints predictable run tokens: run-0001, run-0002, ...
//
// Substituting FixedTokens for the UUIDv7 source makes ledger rows and
// golden traces byte-stable across runs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type FixedTokens struct {
	mu sync.Mutex
	n  int
}

// NewFixedTokens creates a token source starting at run-0001.
func NewFixedTokens() *FixedTokens {
	return &FixedTokens{}
}

// Next returns the next token in sequence.
func (f *FixedTokens) Next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("run-%04d", f.n)
}

// Reset restarts the sequence. After Reset, Next returns run-0001 again.
func (f *FixedTokens) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n = 0
}
