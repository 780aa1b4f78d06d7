package sim

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/prism/internal/calib"
	"github.com/roach88/prism/internal/masters"
)

// stacker combines synthetic raw frames into one calibration image. Each
// raw frame is a flat field of pixels at a level derived from its path
// hash; the stack combines levels per the role's combine parameter, then
// applies bias subtraction and bad-pixel zeroing.
type stacker struct {
	tk  *Toolkit
	req calib.Request
}

func (s *stacker) Load() (*calib.Image, error) {
	if !s.req.Reuse || s.req.MasterDir == "" {
		return nil, nil
	}
	if !masters.Exists(s.req.MasterDir, string(s.req.Product), s.req.Key) {
		return nil, nil
	}
	var img calib.Image
	if err := masters.Read(s.req.MasterDir, string(s.req.Product), s.req.Key, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *stacker) Build(_ context.Context, bias, bpm *calib.Image) (*calib.Image, error) {
	if len(s.req.Files) == 0 {
		return nil, nil
	}

	levels := make([]float64, len(s.req.Files))
	for i, f := range s.req.Files {
		levels[i] = synthLevel(f)
	}
	level := combine(levels, framePar(s.req.Product, s.req.Par).Combine)

	img := calib.NewImage(s.tk.NSpec, s.tk.NSpat)
	img.Files = append([]string(nil), s.req.Files...)
	for i := range img.Data {
		img.Data[i] = level
	}

	if bias != nil && !bias.Empty() && len(bias.Data) == len(img.Data) {
		for i, b := range bias.Data {
			img.Data[i] -= b
		}
	}
	if bpm != nil && !bpm.Empty() && len(bpm.Data) == len(img.Data) {
		for i, flag := range bpm.Data {
			if flag != 0 {
				img.Data[i] = 0
			}
		}
	}
	return img, nil
}

func (s *stacker) Save(img *calib.Image) error {
	if s.req.MasterDir == "" {
		return fmt.Errorf("save %s %s: no master directory", s.req.Product, s.req.Key)
	}
	return masters.Write(s.req.MasterDir, string(s.req.Product), s.req.Key, img)
}

func combine(levels []float64, method string) float64 {
	switch method {
	case "mean":
		sum := 0.0
		for _, v := range levels {
			sum += v
		}
		return sum / float64(len(levels))
	default: // median
		sorted := append([]float64(nil), levels...)
		sort.Float64s(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2]
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
}
