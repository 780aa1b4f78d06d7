package calib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/frame"
	"github.com/roach88/prism/internal/param"
	"github.com/roach88/prism/internal/testutil"
)

// fakeIndex is a canned frame index: one group, one frame list per role.
// Master keys are derived from the representative frame index, so distinct
// representatives give distinct cache epochs.
type fakeIndex struct {
	frames map[frame.Role][]int
	groups map[int][]int
}

// newFakeIndex lays out a complete calibration group 0:
// frames 0-1 bias, 2 arc, 3 tilt, 4 trace, 5 pixelflat, 9 science.
func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		frames: map[frame.Role][]int{
			frame.RoleBias:      {0, 1},
			frame.RoleArc:       {2},
			frame.RoleTilt:      {3},
			frame.RoleTrace:     {4},
			frame.RolePixelFlat: {5},
		},
		groups: map[int][]int{
			0: {0}, 1: {0}, 2: {0}, 3: {0}, 4: {0}, 5: {0}, 9: {0},
		},
	}
}

func (f *fakeIndex) FindFrames(role frame.Role, group int) []int {
	var out []int
	for _, idx := range f.frames[role] {
		for _, g := range f.groups[idx] {
			if g == group {
				out = append(out, idx)
			}
		}
	}
	return out
}

func (f *fakeIndex) FramePaths(indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = f.FramePath(idx)
	}
	return out
}

func (f *fakeIndex) FramePath(idx int) string { return fmt.Sprintf("f%d.fits", idx) }

func (f *fakeIndex) Groups(idx int) []int { return f.groups[idx] }

func (f *fakeIndex) MasterKey(idx, det int) (string, error) {
	if _, ok := f.groups[idx]; !ok {
		return "", fmt.Errorf("unknown frame %d", idx)
	}
	return fmt.Sprintf("F%d_%02d", idx, det), nil
}

// fakeTools implements Toolkit with per-product call counters and
// injectable behavior. Builders operate on a tiny 4x3 detector with two
// slits.
type fakeTools struct {
	builds     map[Product]int
	saves      map[Product]int
	buildOrder []Product

	// loadable marks products whose Load returns a persisted artifact.
	loadable map[Product]bool

	// traceErr makes AutoTrace fail; traceSaveErr makes the partial
	// Save fail too.
	traceErr     error
	traceSaveErr error

	// waveContrib and tiltContrib are the mask contributions handed to
	// the orchestrator.
	waveContrib MaskVec
	tiltContrib MaskVec

	// userFlats maps LoadUser paths to images; unlisted paths error.
	userFlats map[string]*Image
}

const (
	testNSpec = 4
	testNSpat = 3
)

func newFakeTools() *fakeTools {
	return &fakeTools{
		builds:   make(map[Product]int),
		saves:    make(map[Product]int),
		loadable: make(map[Product]bool),
	}
}

func (ft *fakeTools) built(p Product) {
	ft.builds[p]++
	ft.buildOrder = append(ft.buildOrder, p)
}

func (ft *fakeTools) image(level float64) *Image {
	img := NewImage(testNSpec, testNSpat)
	for i := range img.Data {
		img.Data[i] = level
	}
	return img
}

func (ft *fakeTools) Stacker(req Request) ImageBuilder {
	return &fakeStacker{ft: ft, req: req}
}

type fakeStacker struct {
	ft  *fakeTools
	req Request
}

func (s *fakeStacker) Load() (*Image, error) {
	if s.req.Reuse && s.ft.loadable[s.req.Product] {
		return s.ft.image(99), nil
	}
	return nil, nil
}

func (s *fakeStacker) Build(_ context.Context, _, _ *Image) (*Image, error) {
	if len(s.req.Files) == 0 {
		return nil, nil
	}
	s.ft.built(s.req.Product)
	img := s.ft.image(float64(10 + len(s.req.Files)))
	img.Files = s.req.Files
	return img, nil
}

func (s *fakeStacker) Save(*Image) error {
	s.ft.saves[s.req.Product]++
	return nil
}

func (ft *fakeTools) BadPixels(_ context.Context, _ Request, _ string, bias *Image) (*Image, error) {
	ft.built(ProductBPM)
	img := ft.image(0)
	if bias != nil {
		img.Set(0, 0, 1)
	}
	return img, nil
}

func (ft *fakeTools) EdgeTracer(req Request) EdgeTracer {
	return &fakeTracer{ft: ft, req: req}
}

type fakeTracer struct {
	ft     *fakeTools
	req    Request
	traced bool
}

func (t *fakeTracer) Exists() bool {
	return t.req.Reuse && t.ft.loadable[ProductEdges]
}

func (t *fakeTracer) Load() error {
	t.traced = true
	return nil
}

func (t *fakeTracer) AutoTrace(context.Context, *Image, *Image, *Image) error {
	if t.ft.traceErr != nil {
		return t.ft.traceErr
	}
	t.ft.built(ProductSlits)
	t.traced = true
	return nil
}

func (t *fakeTracer) Save() error {
	if t.ft.traceSaveErr != nil {
		return t.ft.traceSaveErr
	}
	t.ft.saves[ProductEdges]++
	return nil
}

func (t *fakeTracer) Slits() (*SlitSet, error) {
	if !t.traced {
		return nil, fmt.Errorf("no edge state")
	}
	return &SlitSet{
		NSpec: testNSpec, NSpat: testNSpat, NSlits: 2,
		Left:  [][]float64{{0, 0, 0, 0}, {1.5, 1.5, 1.5, 1.5}},
		Right: [][]float64{{1, 1, 1, 1}, {2.5, 2.5, 2.5, 2.5}},
		Mask:  ZeroMask(2),
	}, nil
}

func (ft *fakeTools) SlitStore(req Request) SlitStore {
	return &fakeSlitStore{ft: ft, req: req}
}

type fakeSlitStore struct {
	ft  *fakeTools
	req Request
}

func (s *fakeSlitStore) Load() (*SlitSet, error) {
	if s.req.Reuse && s.ft.loadable[ProductSlits] {
		return &SlitSet{NSpec: testNSpec, NSpat: testNSpat, NSlits: 2, Mask: ZeroMask(2)}, nil
	}
	return nil, nil
}

func (s *fakeSlitStore) Save(*SlitSet) error {
	s.ft.saves[ProductSlits]++
	return nil
}

func (ft *fakeTools) WaveCalibrator(req Request) WaveCalibrator {
	return &fakeWaveCalib{ft: ft, req: req}
}

type fakeWaveCalib struct {
	ft  *fakeTools
	req Request
}

func (w *fakeWaveCalib) Load() (*WaveCalib, error) {
	if w.req.Reuse && w.ft.loadable[ProductWaveCalib] {
		return &WaveCalib{Reference: "arc"}, nil
	}
	return nil, nil
}

func (w *fakeWaveCalib) Build(_ context.Context, _ *Image, slits *SlitSet) (*WaveCalib, error) {
	w.ft.built(ProductWaveCalib)
	wc := &WaveCalib{Reference: "arc"}
	for i := 0; i < slits.NSlits; i++ {
		wc.Solutions = append(wc.Solutions, WaveSolution{
			Slit: i, Coeffs: []float64{3500, 1.2}, RMS: 0.05, OK: true,
		})
	}
	return wc, nil
}

func (w *fakeWaveCalib) Save(*WaveCalib) error {
	w.ft.saves[ProductWaveCalib]++
	return nil
}

func (w *fakeWaveCalib) MaskContribution(_ *WaveCalib, nslits int) MaskVec {
	if w.ft.waveContrib != nil {
		return w.ft.waveContrib.Clone()
	}
	return ZeroMask(nslits)
}

func (ft *fakeTools) TiltFitter(req Request) TiltFitter {
	return &fakeTiltFitter{ft: ft, req: req}
}

type fakeTiltFitter struct {
	ft  *fakeTools
	req Request
}

func (t *fakeTiltFitter) Load() (*TiltModel, error) {
	if t.req.Reuse && t.ft.loadable[ProductTilts] {
		return &TiltModel{Field: t.ft.image(0.5)}, nil
	}
	return nil, nil
}

func (t *fakeTiltFitter) Build(_ context.Context, _ *Image, slits *SlitSet, _ *WaveCalib) (*TiltModel, MaskVec, error) {
	t.ft.built(ProductTilts)
	field := NewImage(testNSpec, testNSpat)
	for i := 0; i < testNSpec; i++ {
		for j := 0; j < testNSpat; j++ {
			field.Set(i, j, float64(i)/float64(testNSpec-1))
		}
	}
	contrib := t.ft.tiltContrib
	if contrib == nil {
		contrib = ZeroMask(slits.NSlits)
	}
	return &TiltModel{Field: field, SpatOrder: 3, SpecOrder: 4}, contrib.Clone(), nil
}

func (t *fakeTiltFitter) Save(*TiltModel) error {
	t.ft.saves[ProductTilts]++
	return nil
}

func (ft *fakeTools) FlatFielder(req Request) FlatFielder {
	return &fakeFlatFielder{ft: ft, req: req}
}

type fakeFlatFielder struct {
	ft  *fakeTools
	req Request
}

func (f *fakeFlatFielder) Load() (*FlatPair, error) {
	if f.req.Reuse && f.ft.loadable[ProductFlats] {
		return &FlatPair{Pixel: f.ft.image(1)}, nil
	}
	return nil, nil
}

func (f *fakeFlatFielder) LoadUser(path string) (*Image, error) {
	if img, ok := f.ft.userFlats[path]; ok {
		return img, nil
	}
	return nil, fmt.Errorf("cannot read %s", path)
}

func (f *fakeFlatFielder) Build(_ context.Context, _, _ *Image, slits *SlitSet, _ *TiltModel) (*FlatPair, error) {
	f.ft.built(ProductFlats)
	pair := &FlatPair{Pixel: f.ft.image(1)}
	if f.req.Par.FlatField.IllumFlatten {
		pair.Illum = f.ft.image(1)
	}
	if f.req.Par.FlatField.TweakSlits {
		slits.LeftTweak = slits.Left
		slits.RightTweak = slits.Right
	}
	return pair, nil
}

func (f *fakeFlatFielder) Save(*FlatPair) error {
	f.ft.saves[ProductFlats]++
	return nil
}

func (ft *fakeTools) WaveImager(req Request) WaveImager {
	return &fakeWaveImager{ft: ft, req: req}
}

type fakeWaveImager struct {
	ft  *fakeTools
	req Request
}

func (w *fakeWaveImager) Load() (*Image, error) {
	if w.req.Reuse && w.ft.loadable[ProductWaveImage] {
		return w.ft.image(3500), nil
	}
	return nil, nil
}

func (w *fakeWaveImager) Build(context.Context, *TiltModel, *SlitSet, *WaveCalib) (*Image, error) {
	w.ft.built(ProductWaveImage)
	return w.ft.image(3600), nil
}

func (w *fakeWaveImager) Save(*Image) error {
	w.ft.saves[ProductWaveImage]++
	return nil
}

// captureRecorder collects provenance events in order.
type captureRecorder struct {
	events []Event
}

func (r *captureRecorder) Record(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *captureRecorder) sources(p Product) []Source {
	var out []Source
	for _, ev := range r.events {
		if ev.Product == p {
			out = append(out, ev.Source)
		}
	}
	return out
}

// testManager wires a Manager over the fakes with quiet logging.
func testManager(t *testing.T, ft *fakeTools, opts ...func(*Config)) (*Manager, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	cfg := Config{
		Index:    newFakeIndex(),
		Params:   param.Default(),
		Tools:    ft,
		Recorder: rec,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tokens:   testutil.NewFixedTokens(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m, rec
}

// runSteps drives the named getters in order, failing the test on error.
func runSteps(t *testing.T, m *Manager, steps ...Step) {
	t.Helper()
	for _, s := range steps {
		require.NoError(t, m.runStep(context.Background(), s), "step %s", s)
	}
}
