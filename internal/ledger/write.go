package ledger

import (
	"context"
	"fmt"

	"github.com/roach88/prism/internal/calib"
)

// Record inserts one provenance event. Implements calib.Recorder.
//
// Inserts are idempotent per (run, key, product, source): re-recording a
// resolution (a replayed run, a retried recipe over a warm cache) is
// silently ignored instead of duplicating history.
func (l *Ledger) Record(ctx context.Context, ev calib.Event) error {
	if ev.RunID == "" {
		return fmt.Errorf("record event: empty run id")
	}
	if ev.Key == "" {
		return fmt.Errorf("record event: empty master key")
	}
	if !ev.Product.Valid() {
		return fmt.Errorf("record event: unknown product %q", ev.Product)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO events
		(run_id, master_key, product, source, path, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, master_key, product, source) DO NOTHING
	`,
		ev.RunID,
		ev.Key,
		string(ev.Product),
		string(ev.Source),
		ev.Path,
		ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
