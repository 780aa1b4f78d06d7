package sim

import (
	"context"
	"fmt"

	"github.com/roach88/prism/internal/calib"
	"github.com/roach88/prism/internal/masters"
)

// flatFielder builds the pixel/illumination flat pair. The synthetic pixel
// flat is unity everywhere except the first spatial column, which dips so
// flat division is observable in tests. When tweak_slits is on, traced
// edges are nudged inward by a tenth of a pixel, mirroring how a real
// illumination profile trims slit boundaries.
type flatFielder struct {
	tk  *Toolkit
	req calib.Request
}

const edgeTweak = 0.1

func (f *flatFielder) Load() (*calib.FlatPair, error) {
	if !f.req.Reuse || f.req.MasterDir == "" {
		return nil, nil
	}
	if !masters.Exists(f.req.MasterDir, string(calib.ProductFlats), f.req.Key) {
		return nil, nil
	}
	var pair calib.FlatPair
	if err := masters.Read(f.req.MasterDir, string(calib.ProductFlats), f.req.Key, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (f *flatFielder) LoadUser(path string) (*calib.Image, error) {
	var img calib.Image
	if err := masters.ReadPath(path, &img); err != nil {
		return nil, err
	}
	if img.Empty() {
		return nil, fmt.Errorf("user flat %s: empty image", path)
	}
	return &img, nil
}

func (f *flatFielder) Build(_ context.Context, _, bpm *calib.Image, slits *calib.SlitSet, tilts *calib.TiltModel) (*calib.FlatPair, error) {
	if slits == nil || slits.NSlits == 0 {
		return nil, fmt.Errorf("flats %s: no slits", f.req.Key)
	}
	if tilts == nil || tilts.Field.Empty() {
		return nil, fmt.Errorf("flats %s: no tilt model", f.req.Key)
	}

	pixel := calib.NewImage(f.tk.NSpec, f.tk.NSpat)
	pixel.Files = append([]string(nil), f.req.Files...)
	for i := range pixel.Data {
		pixel.Data[i] = 1.0
	}
	for i := 0; i < f.tk.NSpec; i++ {
		pixel.Set(i, 0, 0.9)
	}
	if bpm != nil && !bpm.Empty() && len(bpm.Data) == len(pixel.Data) {
		for i, flag := range bpm.Data {
			if flag != 0 {
				pixel.Data[i] = 1.0
			}
		}
	}

	var illum *calib.Image
	if f.req.Par.FlatField.IllumFlatten {
		illum = calib.NewImage(f.tk.NSpec, f.tk.NSpat)
		for i := range illum.Data {
			illum.Data[i] = 1.0
		}
	}

	if f.req.Par.FlatField.TweakSlits {
		tweakEdges(slits)
	}

	return &calib.FlatPair{Pixel: pixel, Illum: illum}, nil
}

func (f *flatFielder) Save(pair *calib.FlatPair) error {
	if f.req.MasterDir == "" {
		return fmt.Errorf("save flats %s: no master directory", f.req.Key)
	}
	return masters.Write(f.req.MasterDir, string(calib.ProductFlats), f.req.Key, pair)
}

// tweakEdges writes the illumination-adjusted traces alongside the
// originals. The originals are kept; downstream consumers prefer the
// tweaked set when present.
func tweakEdges(slits *calib.SlitSet) {
	slits.LeftTweak = make([][]float64, len(slits.Left))
	slits.RightTweak = make([][]float64, len(slits.Right))
	for s, trace := range slits.Left {
		tweaked := make([]float64, len(trace))
		for i, v := range trace {
			tweaked[i] = v + edgeTweak
		}
		slits.LeftTweak[s] = tweaked
	}
	for s, trace := range slits.Right {
		tweaked := make([]float64, len(trace))
		for i, v := range trace {
			tweaked[i] = v - edgeTweak
		}
		slits.RightTweak[s] = tweaked
	}
}
