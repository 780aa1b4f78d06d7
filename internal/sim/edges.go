package sim

import (
	"context"
	"fmt"

	"github.com/roach88/prism/internal/calib"
	"github.com/roach88/prism/internal/masters"
)

// edgeState is the persisted form of a trace in progress. Complete is
// false for partial saves made on the crash path.
type edgeState struct {
	NSpec    int         `json:"nspec"`
	NSpat    int         `json:"nspat"`
	Left     [][]float64 `json:"left"`
	Right    [][]float64 `json:"right"`
	Complete bool        `json:"complete"`
}

// edgeTracer finds slit edges on the synthetic detector: slits are evenly
// spaced vertical bands, one pair of straight traces each.
type edgeTracer struct {
	tk    *Toolkit
	req   calib.Request
	state edgeState
}

func (e *edgeTracer) Exists() bool {
	if !e.req.Reuse || e.req.MasterDir == "" {
		return false
	}
	return masters.Exists(e.req.MasterDir, string(calib.ProductEdges), e.req.Key)
}

func (e *edgeTracer) Load() error {
	var st edgeState
	if err := masters.Read(e.req.MasterDir, string(calib.ProductEdges), e.req.Key, &st); err != nil {
		return err
	}
	if !st.Complete {
		return fmt.Errorf("edge traces for %s are partial; re-trace or fix them before reuse", e.req.Key)
	}
	e.state = st
	return nil
}

func (e *edgeTracer) AutoTrace(_ context.Context, traceImg, _, _ *calib.Image) error {
	if traceImg == nil || traceImg.Empty() {
		return fmt.Errorf("auto trace %s: no trace image", e.req.Key)
	}

	e.state = edgeState{NSpec: traceImg.NSpec, NSpat: traceImg.NSpat}
	band := float64(traceImg.NSpat) / float64(e.tk.NSlits)

	for slit := 0; slit < e.tk.NSlits; slit++ {
		left := make([]float64, traceImg.NSpec)
		right := make([]float64, traceImg.NSpec)
		for i := range left {
			left[i] = float64(slit)*band + band*0.1
			right[i] = float64(slit)*band + band*0.9
		}
		e.state.Left = append(e.state.Left, left)
		e.state.Right = append(e.state.Right, right)

		// Injected failure fires after the first slit, leaving real
		// partial state behind for Save.
		if e.tk.TraceFailure != nil && slit == 0 {
			return e.tk.TraceFailure
		}
	}

	e.state.Complete = true
	return nil
}

func (e *edgeTracer) Save() error {
	if e.req.MasterDir == "" {
		return fmt.Errorf("save edges %s: no master directory", e.req.Key)
	}
	return masters.Write(e.req.MasterDir, string(calib.ProductEdges), e.req.Key, &e.state)
}

func (e *edgeTracer) Slits() (*calib.SlitSet, error) {
	if !e.state.Complete {
		return nil, fmt.Errorf("slits %s: edge state is incomplete", e.req.Key)
	}
	n := len(e.state.Left)
	return &calib.SlitSet{
		NSpec:  e.state.NSpec,
		NSpat:  e.state.NSpat,
		NSlits: n,
		Left:   e.state.Left,
		Right:  e.state.Right,
		Mask:   calib.ZeroMask(n),
	}, nil
}

// slitStore persists finished slit sets, bypassing edge tracing on load.
type slitStore struct {
	req calib.Request
}

func (s *slitStore) Load() (*calib.SlitSet, error) {
	if !s.req.Reuse || s.req.MasterDir == "" {
		return nil, nil
	}
	if !masters.Exists(s.req.MasterDir, string(calib.ProductSlits), s.req.Key) {
		return nil, nil
	}
	var set calib.SlitSet
	if err := masters.Read(s.req.MasterDir, string(calib.ProductSlits), s.req.Key, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *slitStore) Save(set *calib.SlitSet) error {
	if s.req.MasterDir == "" {
		return fmt.Errorf("save slits %s: no master directory", s.req.Key)
	}
	return masters.Write(s.req.MasterDir, string(calib.ProductSlits), s.req.Key, set)
}
