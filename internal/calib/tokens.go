package calib

import (
	"github.com/google/uuid"
)

// TokenSource mints run tokens. Every Configure cycle gets one; it tags
// log lines and ledger rows so one configuration's resolutions can be
// pulled out of a night's worth of history.
type TokenSource interface {
	Next() string
}

// UUIDTokens generates time-sortable UUIDv7 run tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, so sorting
// tokens sorts configure cycles by wall-clock time.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDTokens struct{}

// Next creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDTokens) Next() string {
	return uuid.Must(uuid.NewV7()).String()
}
