// Package calib is the calibration core: a stateful orchestrator that
// resolves the calibration products a reduction needs, in dependency order,
// through a two-level cache (in-memory, then persisted masters via builder
// load, then a fresh build).
//
// One Manager serves one (frame, detector, calibration group) context at a
// time; Configure switches contexts and RunRecipe walks an ordered step
// list. Everything is sequential. The Manager performs no internal locking
// and must not be shared across goroutines; parallelism belongs one level
// up, with one Manager per worker and disjoint master directories or a
// shared read-only one.
package calib

import (
	"fmt"
	"sort"
)

// Product tags one calibration product kind in the cache, the ledger, and
// master file names. The set is closed; cache payload types are fixed per
// tag (see Entry).
type Product string

const (
	ProductBias      Product = "bias"
	ProductBPM       Product = "bpm"
	ProductArc       Product = "arc"
	ProductTiltImage Product = "tiltimg"
	ProductSlits     Product = "slits"
	ProductWaveCalib Product = "wavecalib"
	ProductWaveMask  Product = "wavemask"
	ProductTilts     Product = "tilts"
	ProductTiltMask  Product = "tiltmask"
	ProductFlats     Product = "flats"
	ProductWaveImage Product = "waveimg"

	// ProductTraceImage tags the transient slit-trace input stack. It is
	// built, consumed by edge tracing, and discarded; it never enters the
	// cache.
	ProductTraceImage Product = "traceimg"

	// ProductEdges tags persisted edge-trace state. Like the trace image
	// it never enters the in-memory cache, but partial edge traces are
	// saved under this tag when slit finding crashes.
	ProductEdges Product = "edges"
)

var productSet = map[Product]struct{}{
	ProductBias:       {},
	ProductBPM:        {},
	ProductArc:        {},
	ProductTiltImage:  {},
	ProductSlits:      {},
	ProductWaveCalib:  {},
	ProductWaveMask:   {},
	ProductTilts:      {},
	ProductTiltMask:   {},
	ProductFlats:      {},
	ProductWaveImage:  {},
	ProductTraceImage: {},
	ProductEdges:      {},
}

// Valid reports whether p is a known product tag.
func (p Product) Valid() bool {
	_, ok := productSet[p]
	return ok
}

func (p Product) String() string { return string(p) }

// Step names one orchestration step in a recipe. Steps and products are
// related but not identical: the wv_calib step, for example, produces both
// the wavecalib and wavemask products.
type Step string

const (
	StepBias      Step = "bias"
	StepBPM       Step = "bpm"
	StepArc       Step = "arc"
	StepTiltImage Step = "tiltimg"
	StepSlits     Step = "slits"
	StepWaveCalib Step = "wv_calib"
	StepTilts     Step = "tilts"
	StepFlats     Step = "flats"
	StepWaveImage Step = "wave"
)

var stepSet = map[Step]struct{}{
	StepBias:      {},
	StepBPM:       {},
	StepArc:       {},
	StepTiltImage: {},
	StepSlits:     {},
	StepWaveCalib: {},
	StepTilts:     {},
	StepFlats:     {},
	StepWaveImage: {},
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	_, ok := stepSet[s]
	return ok
}

func (s Step) String() string { return string(s) }

// ParseStep converts a string into a Step.
func ParseStep(name string) (Step, error) {
	s := Step(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown calibration step %q", name)
	}
	return s, nil
}

// Steps returns every known step in stable (sorted) order.
func Steps() []Step {
	out := make([]Step, 0, len(stepSet))
	for s := range stepSet {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// stepInputs declares what a step consumes from earlier steps.
//
// Hard inputs must be present in any recipe containing the step, and must
// come earlier; the getter also fails fast at runtime when one is missing.
// Soft inputs only constrain ordering when both steps appear in a recipe;
// at runtime their absence degrades the step (warn and produce nothing)
// instead of failing it.
type stepInputs struct {
	Hard []Step
	Soft []Step
}

var requirements = map[Step]stepInputs{
	StepBias:      {},
	StepBPM:       {Soft: []Step{StepBias}},
	StepArc:       {Hard: []Step{StepBias, StepBPM}},
	StepTiltImage: {Hard: []Step{StepBias, StepBPM}},
	StepSlits:     {Soft: []Step{StepBias, StepBPM}},
	StepWaveCalib: {Hard: []Step{StepArc, StepBPM, StepSlits}},
	StepTilts:     {Hard: []Step{StepTiltImage, StepBPM, StepSlits, StepWaveCalib}},
	StepFlats:     {Soft: []Step{StepSlits, StepTilts}},
	StepWaveImage: {Soft: []Step{StepTilts, StepSlits, StepWaveCalib}},
}

// Inputs returns the declared hard and soft inputs of a step. Slices are
// copies.
func (s Step) Inputs() (hard, soft []Step) {
	req := requirements[s]
	hard = append(hard, req.Hard...)
	soft = append(soft, req.Soft...)
	return hard, soft
}
