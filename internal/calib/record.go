package calib

import "context"

// Source says where a product resolution came from.
type Source string

const (
	// SourceMemory: served from the in-memory cache.
	SourceMemory Source = "memory"

	// SourceDisk: loaded from a persisted master.
	SourceDisk Source = "disk"

	// SourceBuilt: built fresh from raw frames or upstream artifacts.
	SourceBuilt Source = "built"

	// SourceDegraded: the getter short-circuited to a null result.
	SourceDegraded Source = "degraded"

	// SourcePartial: a build crashed and partial work was persisted.
	SourcePartial Source = "partial"
)

// Event is one provenance record: how one product resolved during one run.
type Event struct {
	RunID   string
	Key     string
	Product Product
	Source  Source
	Path    string
	Detail  string
}

// Recorder receives provenance events. Implementations must tolerate
// being called mid-failure; a recorder error is logged and swallowed,
// never allowed to fail a calibration.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}
