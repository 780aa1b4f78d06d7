package calib

import (
	"context"

	"github.com/roach88/prism/internal/param"
)

// Request carries everything a builder construction needs. One request
// describes one product resolution for one master key.
type Request struct {
	// Product identifies which product the builder serves.
	Product Product

	// Files are the raw frame paths feeding the build. Empty for
	// products derived from already-built artifacts.
	Files []string

	// Det is the 1-indexed detector.
	Det int

	// Key is the master key naming the cache epoch and master files.
	Key string

	// MasterDir is the persisted-master directory; empty disables
	// persistence for this resolution.
	MasterDir string

	// Reuse permits loading persisted masters instead of rebuilding.
	Reuse bool

	// Par is the full parameter set; builders read their own slice.
	Par *param.Set
}

// ImageBuilder stacks raw frames into one calibration image (bias, arc,
// tilt image, trace image).
//
// Load returns (nil, nil) when reuse is off or nothing is persisted; a
// non-nil error means a persisted master exists but cannot be read.
type ImageBuilder interface {
	Load() (*Image, error)
	Build(ctx context.Context, bias, bpm *Image) (*Image, error)
	Save(img *Image) error
}

// EdgeTracer finds slit edges on a trace image. Tracers hold mutable
// tracing state so that partially completed work can be persisted when a
// trace crashes; Save must therefore work at any point after construction.
type EdgeTracer interface {
	// Exists reports whether a persisted edge set is available for this
	// request's key (false whenever reuse is off).
	Exists() bool

	// Load restores persisted edge state into the tracer.
	Load() error

	// AutoTrace runs edge detection and slit assembly on the trace image.
	AutoTrace(ctx context.Context, traceImg, bias, bpm *Image) error

	// Save persists the tracer's current state, complete or not.
	Save() error

	// Slits converts the traced edges into a slit set.
	Slits() (*SlitSet, error)
}

// SlitStore loads and saves finished slit sets directly, bypassing edge
// tracing. Save is also invoked a second time when the flat-field build
// tweaked the edges.
type SlitStore interface {
	Load() (*SlitSet, error)
	Save(s *SlitSet) error
}

// WaveCalibrator builds per-slit wavelength solutions.
//
// MaskContribution derives the per-slit flags implied by a calibration
// (missing or over-threshold solutions); it must be pure so replaying it
// is safe.
type WaveCalibrator interface {
	Load() (*WaveCalib, error)
	Build(ctx context.Context, arc *Image, slits *SlitSet) (*WaveCalib, error)
	Save(wc *WaveCalib) error
	MaskContribution(wc *WaveCalib, nslits int) MaskVec
}

// TiltFitter fits the 2-D tilt model. Build returns the model together
// with its mask contribution; a model loaded from disk contributes
// nothing (its flags were merged when it was first built).
type TiltFitter interface {
	Load() (*TiltModel, error)
	Build(ctx context.Context, tiltImg *Image, slits *SlitSet, wc *WaveCalib) (*TiltModel, MaskVec, error)
	Save(tm *TiltModel) error
}

// FlatFielder builds the pixel/illumination flat pair.
//
// Build receives the slit set and may tweak its edge traces in place
// (LeftTweak/RightTweak) when the parameters ask for it; the orchestrator
// re-persists the slit set afterwards. LoadUser reads a user-supplied
// pixel flat from an explicit path.
type FlatFielder interface {
	Load() (*FlatPair, error)
	LoadUser(path string) (*Image, error)
	Build(ctx context.Context, bias, bpm *Image, slits *SlitSet, tilts *TiltModel) (*FlatPair, error)
	Save(pair *FlatPair) error
}

// WaveImager builds the per-pixel wavelength image.
type WaveImager interface {
	Load() (*Image, error)
	Build(ctx context.Context, tilts *TiltModel, slits *SlitSet, wc *WaveCalib) (*Image, error)
	Save(img *Image) error
}

// Toolkit constructs builders. One Toolkit serves every Configure cycle of
// a Manager; each method binds a builder to a single request.
//
// BadPixels is direct rather than a load/build/save ladder: bad-pixel
// masks are derived from detector state, are cheap, and are never
// persisted as masters.
type Toolkit interface {
	Stacker(req Request) ImageBuilder
	BadPixels(ctx context.Context, req Request, sciFile string, bias *Image) (*Image, error)
	EdgeTracer(req Request) EdgeTracer
	SlitStore(req Request) SlitStore
	WaveCalibrator(req Request) WaveCalibrator
	TiltFitter(req Request) TiltFitter
	FlatFielder(req Request) FlatFielder
	WaveImager(req Request) WaveImager
}
