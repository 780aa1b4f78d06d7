// Package sim provides deterministic synthetic implementations of every
// calibration builder contract. They exist so the orchestration core is
// executable end to end (CLI, harness, tests) without instrument data:
// frame pixels are synthesized from file-path hashes, tilt fields are
// linear ramps, wavelength solutions are low-order polynomials. Numerical
// fidelity is not the point; determinism and contract coverage are.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/roach88/prism/internal/calib"
	"github.com/roach88/prism/internal/param"
)

// Toolkit constructs simulated builders for one detector geometry. It
// implements calib.Toolkit. The zero value is not usable; use New.
type Toolkit struct {
	// NSpec and NSpat fix the synthetic detector size.
	NSpec, NSpat int

	// NSlits is how many slits the edge tracer finds.
	NSlits int

	// TraceFailure, when set, makes AutoTrace fail after tracing one slit.
	// Tests use it to exercise the partial-persistence path.
	TraceFailure error

	// BadWaveSlits and BadTiltSlits mark slit indices whose wavelength or
	// tilt fits come out bad, driving mask-accumulation scenarios.
	BadWaveSlits []int
	BadTiltSlits []int
}

// New returns a Toolkit for an nspec x nspat detector with two slits.
func New(nspec, nspat int) *Toolkit {
	return &Toolkit{NSpec: nspec, NSpat: nspat, NSlits: 2}
}

// Stacker returns the stacked-image builder for req.
func (tk *Toolkit) Stacker(req calib.Request) calib.ImageBuilder {
	return &stacker{tk: tk, req: req}
}

// BadPixels derives the bad-pixel mask for the science frame: a hot column
// picked from the file-path hash, plus bias-driven flags when a bias is
// supplied.
func (tk *Toolkit) BadPixels(_ context.Context, req calib.Request, sciFile string, bias *calib.Image) (*calib.Image, error) {
	if sciFile == "" {
		return nil, fmt.Errorf("bad pixels: no science file for %s", req.Key)
	}
	bpm := calib.NewImage(tk.NSpec, tk.NSpat)

	hot := int(pathSeed(sciFile) % uint64(tk.NSpat))
	for i := 0; i < tk.NSpec; i++ {
		bpm.Set(i, hot, 1)
	}

	// A supplied bias flags saturated columns too.
	if bias != nil && !bias.Empty() && bias.NSpec == tk.NSpec && bias.NSpat == tk.NSpat {
		for idx, v := range bias.Data {
			if v > biasHotThreshold {
				bpm.Data[idx] = 1
			}
		}
	}
	return bpm, nil
}

// EdgeTracer returns the slit edge tracer for req.
func (tk *Toolkit) EdgeTracer(req calib.Request) calib.EdgeTracer {
	return &edgeTracer{tk: tk, req: req}
}

// SlitStore returns the direct slit-set store for req.
func (tk *Toolkit) SlitStore(req calib.Request) calib.SlitStore {
	return &slitStore{req: req}
}

// WaveCalibrator returns the wavelength-solution builder for req.
func (tk *Toolkit) WaveCalibrator(req calib.Request) calib.WaveCalibrator {
	return &waveCalibrator{tk: tk, req: req}
}

// TiltFitter returns the tilt-model builder for req.
func (tk *Toolkit) TiltFitter(req calib.Request) calib.TiltFitter {
	return &tiltFitter{tk: tk, req: req}
}

// FlatFielder returns the flat-pair builder for req.
func (tk *Toolkit) FlatFielder(req calib.Request) calib.FlatFielder {
	return &flatFielder{tk: tk, req: req}
}

// WaveImager returns the wavelength-image builder for req.
func (tk *Toolkit) WaveImager(req calib.Request) calib.WaveImager {
	return &waveImager{tk: tk, req: req}
}

const biasHotThreshold = 95.0

// pathSeed hashes a file path into the seed all synthetic pixel values
// derive from. Same path, same frame, every run.
func pathSeed(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return h.Sum64()
}

// synthLevel is the constant pixel level of a synthetic raw frame.
func synthLevel(path string) float64 {
	return float64(pathSeed(path)%1000) / 10.0
}

// framePar picks the combine parameters for the product being stacked.
func framePar(p calib.Product, par *param.Set) param.FramePar {
	if par == nil {
		return param.FramePar{Combine: "median", SigRej: 3}
	}
	switch p {
	case calib.ProductBias:
		return par.Bias
	case calib.ProductArc:
		return par.Arc
	case calib.ProductTiltImage:
		return par.Tilt
	case calib.ProductTraceImage:
		return par.Trace
	case calib.ProductFlats:
		return par.PixelFlat
	}
	return param.FramePar{Combine: "median", SigRej: 3}
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
