package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/prism/internal/calib"
)

// Row is one persisted provenance event.
type Row struct {
	ID        int64
	RunID     string
	Key       string
	Product   calib.Product
	Source    calib.Source
	Path      string
	Detail    string
	CreatedAt string
}

const selectColumns = `id, run_id, master_key, product, source, path, detail, created_at`

// ByRun returns every event of one run, oldest first. Ordering is by
// insertion id, which within a run is resolution order.
func (l *Ledger) ByRun(ctx context.Context, runID string) ([]Row, error) {
	return l.query(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		WHERE run_id = ?
		ORDER BY id ASC
	`, selectColumns), runID)
}

// ByKey returns every event touching one master key, oldest first. This is
// the "where did this master come from" query.
func (l *Ledger) ByKey(ctx context.Context, key string) ([]Row, error) {
	return l.query(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		WHERE master_key = ?
		ORDER BY id ASC
	`, selectColumns), key)
}

// Recent returns the newest limit events, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.query(ctx, fmt.Sprintf(`
		SELECT %s FROM events
		ORDER BY id DESC
		LIMIT ?
	`, selectColumns), limit)
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]Row, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func scanRow(rows *sql.Rows) (Row, error) {
	var r Row
	var product, source string
	if err := rows.Scan(&r.ID, &r.RunID, &r.Key, &product, &source,
		&r.Path, &r.Detail, &r.CreatedAt); err != nil {
		return Row{}, fmt.Errorf("scan event: %w", err)
	}
	r.Product = calib.Product(product)
	r.Source = calib.Source(source)
	return r, nil
}
