// Package param defines the calibration parameter model. Parameter sets are
// CUE documents unified against an embedded schema, so defaults, types, and
// enums are enforced before the pipeline sees a single value.
package param

import (
	"fmt"
)

// Flat-field method values accepted by the schema.
const (
	FlatMethodPixel = "pixelflat"
	FlatMethodSkip  = "skip"
)

// FlatFrameDefault is the sentinel meaning "build the pixel flat from the
// pixelflat frames in the group". Any other value is a user-supplied file.
const FlatFrameDefault = "pixelflat"

// Wavelength reference frames.
const (
	WaveRefArc   = "arc"
	WaveRefPixel = "pixel"
)

// Set is one complete calibration parameter set: the decoded form of the
// calibrations block of a parameter file.
type Set struct {
	// BPMUseBias folds the bias frame into bad-pixel detection when one
	// has already been built for this group.
	BPMUseBias bool `json:"bpm_usebias"`

	Bias      FramePar `json:"biasframe"`
	Arc       FramePar `json:"arcframe"`
	Tilt      FramePar `json:"tiltframe"`
	Trace     FramePar `json:"traceframe"`
	PixelFlat FramePar `json:"pixelflatframe"`

	FlatField   FlatField   `json:"flatfield"`
	Wavelengths Wavelengths `json:"wavelengths"`
	Tilts       Tilts       `json:"tilts"`
	SlitEdges   SlitEdges   `json:"slitedges"`
}

// FramePar controls how raw frames of one role are combined.
type FramePar struct {
	Combine string  `json:"combine"`
	SigRej  float64 `json:"sig_rej"`
}

// FlatField controls flat-field construction.
type FlatField struct {
	// Method selects the algorithm; "skip" disables flat fielding.
	Method string `json:"method"`

	// Frame is FlatFrameDefault, or a path to a user-supplied pixel flat.
	// A bare file name is resolved against the master directory.
	Frame string `json:"frame"`

	// TweakSlits lets the flat illumination profile nudge slit edges;
	// the updated slit traces are re-persisted after the flat build.
	TweakSlits bool `json:"tweak_slits"`

	IllumFlatten bool `json:"illumflatten"`
}

// Wavelengths controls wavelength calibration.
type Wavelengths struct {
	// Reference is WaveRefArc for arc-line solutions or WaveRefPixel to
	// stay in pixel coordinates (no wavelength calibration is built).
	Reference string `json:"reference"`

	Method       string   `json:"method"`
	Lamps        []string `json:"lamps"`
	RMSThreshold float64  `json:"rms_threshold"`
}

// Tilts controls the 2-D tilt fit orders.
type Tilts struct {
	SpatOrder int `json:"spat_order"`
	SpecOrder int `json:"spec_order"`
}

// SlitEdges controls edge detection.
type SlitEdges struct {
	EdgeThresh float64 `json:"edge_thresh"`
}

// Validate checks invariants the schema enforces for CUE-loaded sets, so
// programmatically built sets get the same guarantees.
func (s *Set) Validate() error {
	switch s.FlatField.Method {
	case FlatMethodPixel, FlatMethodSkip:
	default:
		return fmt.Errorf("flatfield.method %q is not one of %q, %q",
			s.FlatField.Method, FlatMethodPixel, FlatMethodSkip)
	}
	if s.FlatField.Frame == "" {
		return fmt.Errorf("flatfield.frame is empty")
	}
	switch s.Wavelengths.Reference {
	case WaveRefArc, WaveRefPixel:
	default:
		return fmt.Errorf("wavelengths.reference %q is not one of %q, %q",
			s.Wavelengths.Reference, WaveRefArc, WaveRefPixel)
	}
	if s.Wavelengths.RMSThreshold <= 0 {
		return fmt.Errorf("wavelengths.rms_threshold must be positive, got %g",
			s.Wavelengths.RMSThreshold)
	}
	if s.Tilts.SpatOrder < 1 || s.Tilts.SpecOrder < 1 {
		return fmt.Errorf("tilt fit orders must be positive, got spat=%d spec=%d",
			s.Tilts.SpatOrder, s.Tilts.SpecOrder)
	}
	if s.SlitEdges.EdgeThresh <= 0 {
		return fmt.Errorf("slitedges.edge_thresh must be positive, got %g",
			s.SlitEdges.EdgeThresh)
	}
	return nil
}

// UserFlatFile returns the user-supplied flat path and true when the
// flat-field frame parameter overrides the default.
func (s *Set) UserFlatFile() (string, bool) {
	if s.FlatField.Frame == FlatFrameDefault {
		return "", false
	}
	return s.FlatField.Frame, true
}
