package calib

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/prism/internal/frame"
	"github.com/roach88/prism/internal/masters"
	"github.com/roach88/prism/internal/param"
)

// Index is the frame-metadata view the orchestrator queries. frame.Table
// implements it; tests substitute small fakes.
type Index interface {
	FindFrames(role frame.Role, group int) []int
	FramePaths(indices []int) []string
	FramePath(idx int) string
	Groups(idx int) []int
	MasterKey(idx, det int) (string, error)
}

// keySlot names an entry in the per-run master-key table. Several products
// share one slot: the wavelength calibration, its mask, and the wavelength
// image all live under the arc slot, the tilt model under the tilt slot.
// One slot per raw-input family keeps one cache epoch per family.
type keySlot string

const (
	slotFrame keySlot = "frame"
	slotBias  keySlot = "bias"
	slotBPM   keySlot = "bpm"
	slotArc   keySlot = "arc"
	slotTilt  keySlot = "tilt"
	slotTrace keySlot = "trace"
	slotFlat  keySlot = "flat"
)

// Config assembles a Manager. Index, Params, and Tools are required.
type Config struct {
	Index  Index
	Params *param.Set
	Tools  Toolkit

	// MasterDir is where persisted masters live. Empty disables
	// persistence entirely (SaveMasters/ReuseMasters are forced off,
	// with a warning).
	MasterDir string

	// SaveMasters persists products after building them.
	SaveMasters bool

	// ReuseMasters consults persisted masters before rebuilding.
	ReuseMasters bool

	// Cache is the injected in-memory level. A nil Cache gets a fresh
	// private one; passing a shared Cache is how resolutions carry
	// across Configure cycles.
	Cache *Cache

	// Recorder receives provenance events. Optional.
	Recorder Recorder

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tokens mints run tokens; defaults to UUIDTokens.
	Tokens TokenSource
}

// Manager is the calibration orchestrator. It is configured for one
// (frame, detector, calibration group) context at a time and resolves
// products through cache, persisted masters, and builders, in that order.
//
// Not safe for concurrent use.
type Manager struct {
	index      Index
	defaultPar *param.Set
	tools      Toolkit
	masterDir  string
	save       bool
	reuse      bool
	cache      *Cache
	rec        Recorder
	log        *slog.Logger
	tokens     TokenSource

	// Per-configure state. resetRun clears all of it.
	configured bool
	frame      int
	det        int
	group      int
	runID      string
	par        *param.Set
	recipe     Recipe
	keys       map[keySlot]string

	bias      *Image
	bpm       *Image
	arc       *Image
	tiltImg   *Image
	slits     *SlitSet
	waveCalib *WaveCalib
	wvDone    bool
	tilts     *TiltModel
	pixelFlat *Image
	illumFlat *Image
	waveImg   *Image
}

// New builds a Manager from cfg.
func New(cfg Config) (*Manager, error) {
	if cfg.Index == nil {
		return nil, &ConfigError{Field: "index", Message: "frame index is required"}
	}
	if cfg.Tools == nil {
		return nil, &ConfigError{Field: "tools", Message: "builder toolkit is required"}
	}
	if cfg.Params == nil {
		return nil, &ConfigError{Field: "params", Message: "parameter set is required"}
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, &ConfigError{Field: "params", Message: err.Error()}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	save, reuse := cfg.SaveMasters, cfg.ReuseMasters
	if cfg.MasterDir == "" && (save || reuse) {
		log.Warn("no master directory configured; disabling master save and reuse")
		save, reuse = false, false
	}

	cache := cfg.Cache
	if cache == nil {
		cache = NewCache()
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = UUIDTokens{}
	}

	m := &Manager{
		index:      cfg.Index,
		defaultPar: cfg.Params,
		tools:      cfg.Tools,
		masterDir:  cfg.MasterDir,
		save:       save,
		reuse:      reuse,
		cache:      cache,
		rec:        cfg.Recorder,
		log:        log,
		tokens:     tokens,
	}
	m.resetRun()
	return m, nil
}

type configureOptions struct {
	group      int
	groupSet   bool
	par        *param.Set
	recipe     Recipe
	recipeSet  bool
	clearCache bool
}

// ConfigureOption adjusts one Configure call.
type ConfigureOption func(*configureOptions)

// WithGroup overrides the calibration group instead of taking the frame's
// first one. The frame must belong to the group.
func WithGroup(id int) ConfigureOption {
	return func(o *configureOptions) { o.group = id; o.groupSet = true }
}

// WithParams substitutes a parameter set for this context only.
func WithParams(s *param.Set) ConfigureOption {
	return func(o *configureOptions) { o.par = s }
}

// WithRecipe substitutes the recipe validated and run for this context.
func WithRecipe(r Recipe) ConfigureOption {
	return func(o *configureOptions) { o.recipe = r; o.recipeSet = true }
}

// WithCacheClear drops every cached calibration before configuring.
func WithCacheClear() ConfigureOption {
	return func(o *configureOptions) { o.clearCache = true }
}

// Configure points the Manager at a new (frame, detector) context. All
// per-run state is reset; the cache is kept unless WithCacheClear is
// given. The recipe (default or supplied) is validated here, so bad step
// orders fail before any work starts.
func (m *Manager) Configure(frameIdx, det int, opts ...ConfigureOption) error {
	o := configureOptions{group: -1}
	for _, opt := range opts {
		opt(&o)
	}

	if det < 1 {
		return &ConfigError{Field: "det", Message: fmt.Sprintf("detector %d is not 1-indexed", det)}
	}
	groups := m.index.Groups(frameIdx)
	if len(groups) == 0 {
		return &ConfigError{Field: "frame", Message: fmt.Sprintf("frame %d is unknown or has no calibration groups", frameIdx)}
	}

	par := m.defaultPar
	if o.par != nil {
		if err := o.par.Validate(); err != nil {
			return &ConfigError{Field: "params", Message: err.Error()}
		}
		par = o.par
	}

	recipe := MultiSlitRecipe()
	if o.recipeSet {
		recipe = o.recipe
	}
	if err := recipe.Validate(); err != nil {
		return &ConfigError{Field: "recipe", Message: err.Error()}
	}

	group := groups[0]
	if o.groupSet {
		if !containsInt(groups, o.group) {
			return &ConfigError{Field: "group", Message: fmt.Sprintf("frame %d is not in calibration group %d", frameIdx, o.group)}
		}
		group = o.group
	} else if len(groups) > 1 {
		m.log.Warn("frame belongs to multiple calibration groups; using the first",
			"frame", frameIdx, "groups", groups, "using", group)
	}

	if o.clearCache {
		m.log.Warn("dropping all cached calibrations")
		m.cache.Clear()
	}

	m.resetRun()
	m.frame, m.det, m.group = frameIdx, det, group
	m.par = par
	m.recipe = recipe
	m.runID = m.tokens.Next()

	key, err := m.index.MasterKey(frameIdx, det)
	if err != nil {
		return &ConfigError{Field: "frame", Message: err.Error()}
	}
	m.keys[slotFrame] = key

	m.configured = true
	m.log.Info("calibration context configured",
		"frame", frameIdx, "det", det, "group", group,
		"recipe", recipe.Name, "run", m.runID)
	return nil
}

func (m *Manager) resetRun() {
	m.configured = false
	m.frame, m.det, m.group = -1, -1, -1
	m.runID = ""
	m.par = nil
	m.recipe = Recipe{}
	m.keys = make(map[keySlot]string)
	m.bias, m.bpm, m.arc, m.tiltImg = nil, nil, nil, nil
	m.slits = nil
	m.waveCalib, m.wvDone = nil, false
	m.tilts = nil
	m.pixelFlat, m.illumFlat = nil, nil
	m.waveImg = nil
}

func (m *Manager) String() string {
	if !m.configured {
		return "Calibrations{unconfigured}"
	}
	return fmt.Sprintf("Calibrations{frame=%d, det=%d, group=%d}", m.frame, m.det, m.group)
}

// RunID returns the token of the current configure cycle.
func (m *Manager) RunID() string { return m.runID }

// Slits returns the current slit set, nil before the slits step produced
// one. The returned set is live: later steps accumulate into its mask.
func (m *Manager) Slits() *SlitSet { return m.slits }

// requireContext guards getters against running without Configure.
func (m *Manager) requireContext(step Step) error {
	if !m.configured {
		return &ConfigError{Field: "context", Message: fmt.Sprintf("call Configure before the %s step", step)}
	}
	for _, c := range []struct {
		ok    bool
		field string
	}{
		{m.det >= 1, "det"},
		{m.group >= 0, "group"},
		{m.par != nil, "params"},
	} {
		if !c.ok {
			return &ConfigError{Field: c.field, Message: fmt.Sprintf("set %s via Configure before the %s step", c.field, step)}
		}
	}
	return nil
}

// upstreamMissing reports whether the product of step s is unavailable to
// downstream consumers. For wv_calib "available" means "the step ran":
// pixel-reference runs legitimately carry a nil wavelength calibration.
func (m *Manager) upstreamMissing(s Step) bool {
	switch s {
	case StepBias:
		return m.bias == nil
	case StepBPM:
		return m.bpm == nil
	case StepArc:
		return m.arc == nil
	case StepTiltImage:
		return m.tiltImg == nil
	case StepSlits:
		return m.slits == nil
	case StepWaveCalib:
		return !m.wvDone
	case StepTilts:
		return m.tilts == nil
	}
	return false
}

// requireUpstream fails fast when hard upstream inputs are missing.
func (m *Manager) requireUpstream(step Step, deps ...Step) error {
	var missing []string
	var runFirst []Step
	for _, d := range deps {
		if m.upstreamMissing(d) {
			missing = append(missing, string(d))
			runFirst = append(runFirst, d)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingUpstreamError{Step: step, Missing: missing, RunFirst: runFirst}
}

// degradeWithout implements warn-and-degrade upstream gating: when any of
// deps are missing it warns once, listing them, and returns true.
func (m *Manager) degradeWithout(step Step, deps ...Step) bool {
	var missing []string
	for _, d := range deps {
		if m.upstreamMissing(d) {
			missing = append(missing, string(d))
		}
	}
	if len(missing) == 0 {
		return false
	}
	m.log.Warn("missing upstream calibrations; producing nothing",
		"step", step, "missing", missing)
	return true
}

func (m *Manager) setKey(slot keySlot, frameIdx int) (string, error) {
	key, err := m.index.MasterKey(frameIdx, m.det)
	if err != nil {
		return "", &ConfigError{Field: "frame", Message: err.Error()}
	}
	m.keys[slot] = key
	return key, nil
}

func (m *Manager) key(slot keySlot) (string, bool) {
	k, ok := m.keys[slot]
	return k, ok
}

// representative picks the frame whose identity names the master key:
// the first frame found for the role, else the context frame.
func (m *Manager) representative(rows []int) int {
	if len(rows) > 0 {
		return rows[0]
	}
	return m.frame
}

func (m *Manager) request(p Product, rows []int, key string) Request {
	return Request{
		Product:   p,
		Files:     m.index.FramePaths(rows),
		Det:       m.det,
		Key:       key,
		MasterDir: m.masterDir,
		Reuse:     m.reuse,
		Par:       m.par,
	}
}

func (m *Manager) record(ctx context.Context, key string, p Product, src Source, detail string) {
	if m.rec == nil {
		return
	}
	path := ""
	if m.masterDir != "" && p != ProductBPM {
		path = masters.Path(m.masterDir, string(p), key)
	}
	ev := Event{RunID: m.runID, Key: key, Product: p, Source: src, Path: path, Detail: detail}
	if err := m.rec.Record(ctx, ev); err != nil {
		m.log.Warn("provenance record failed", "product", p, "key", key, "error", err)
	}
}

func (m *Manager) cacheHit(p Product, key string) {
	m.log.Info("using cached calibration", "product", p, "key", key)
}

func (m *Manager) logStep(step Step, p Product, key string, src Source) {
	m.log.Info("calibration product resolved",
		"step", step, "product", p, "key", key, "source", src)
}

// Typed cache reads. Put enforces payload types, so a failed assertion
// here can only mean a nil placeholder; all of these return nil for it.

func (m *Manager) cachedImage(key string, p Product) *Image {
	a, _ := m.cache.Get(key, p)
	img, _ := a.(*Image)
	return img
}

func (m *Manager) cachedSlits(key string) *SlitSet {
	a, _ := m.cache.Get(key, ProductSlits)
	s, _ := a.(*SlitSet)
	return s
}

func (m *Manager) cachedWaveCalib(key string) *WaveCalib {
	a, _ := m.cache.Get(key, ProductWaveCalib)
	wc, _ := a.(*WaveCalib)
	return wc
}

func (m *Manager) cachedMask(key string, p Product) MaskVec {
	a, _ := m.cache.Get(key, p)
	mv, _ := a.(MaskVec)
	return mv
}

func (m *Manager) cachedTilts(key string) *TiltModel {
	a, _ := m.cache.Get(key, ProductTilts)
	tm, _ := a.(*TiltModel)
	return tm
}

func (m *Manager) cachedFlats(key string) *FlatPair {
	a, _ := m.cache.Get(key, ProductFlats)
	fp, _ := a.(*FlatPair)
	return fp
}

// imageArtifact avoids storing a typed nil inside the Artifact interface.
func imageArtifact(img *Image) Artifact {
	if img == nil {
		return nil
	}
	return img
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
