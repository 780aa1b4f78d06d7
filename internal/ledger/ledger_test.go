package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/calib"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func event(run, key string, p calib.Product, src calib.Source) calib.Event {
	return calib.Event{RunID: run, Key: key, Product: p, Source: src}
}

func TestOpenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.db")

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(context.Background(),
		event("run-1", "A_0_01", calib.ProductBias, calib.SourceBuilt)))
	require.NoError(t, l.Close())

	// Reopen is idempotent and keeps prior rows.
	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	rows, err := l.ByRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRecordAndByRun(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductBias, calib.SourceBuilt)))
	require.NoError(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductArc, calib.SourceDisk)))
	require.NoError(t, l.Record(ctx, event("run-2", "A_0_01", calib.ProductBias, calib.SourceMemory)))

	rows, err := l.ByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, calib.ProductBias, rows[0].Product)
	assert.Equal(t, calib.SourceBuilt, rows[0].Source)
	assert.Equal(t, calib.ProductArc, rows[1].Product)
	assert.NotEmpty(t, rows[0].CreatedAt)

	rows, err = l.ByRun(ctx, "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecordIdempotent(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	ev := event("run-1", "A_0_01", calib.ProductBias, calib.SourceBuilt)
	require.NoError(t, l.Record(ctx, ev))
	require.NoError(t, l.Record(ctx, ev))

	rows, err := l.ByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// Same product, different source is a distinct fact (e.g. partial then
	// built after a retry) and must not collapse.
	require.NoError(t, l.Record(ctx,
		event("run-1", "A_0_01", calib.ProductBias, calib.SourceMemory)))
	rows, err = l.ByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestByKey(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductBias, calib.SourceBuilt)))
	require.NoError(t, l.Record(ctx, event("run-2", "A_0_01", calib.ProductBias, calib.SourceMemory)))
	require.NoError(t, l.Record(ctx, event("run-1", "A_1_01", calib.ProductBias, calib.SourceBuilt)))

	rows, err := l.ByKey(ctx, "A_0_01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0].RunID)
	assert.Equal(t, "run-2", rows[1].RunID)
}

func TestRecent(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductBias, calib.SourceBuilt)))
	require.NoError(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductArc, calib.SourceBuilt)))
	require.NoError(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductSlits, calib.SourceBuilt)))

	rows, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, calib.ProductSlits, rows[0].Product)
	assert.Equal(t, calib.ProductArc, rows[1].Product)
}

func TestRecordPartialDetail(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	ev := calib.Event{
		RunID:   "run-1",
		Key:     "A_0_01",
		Product: calib.ProductEdges,
		Source:  calib.SourcePartial,
		Detail:  "left edge 3 diverged",
	}
	require.NoError(t, l.Record(ctx, ev))

	rows, err := l.ByKey(ctx, "A_0_01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, calib.SourcePartial, rows[0].Source)
	assert.Equal(t, "left edge 3 diverged", rows[0].Detail)
}

func TestRecordValidation(t *testing.T) {
	l := openTest(t)
	ctx := context.Background()

	assert.Error(t, l.Record(ctx, event("", "A_0_01", calib.ProductBias, calib.SourceBuilt)))
	assert.Error(t, l.Record(ctx, event("run-1", "", calib.ProductBias, calib.SourceBuilt)))
	assert.Error(t, l.Record(ctx, event("run-1", "A_0_01", calib.Product("nope"), calib.SourceBuilt)))
	// Unknown sources are rejected by the schema CHECK.
	assert.Error(t, l.Record(ctx, event("run-1", "A_0_01", calib.ProductBias, calib.Source("nope"))))
}
