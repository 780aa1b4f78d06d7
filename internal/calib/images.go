package calib

import (
	"context"
	"fmt"

	"github.com/roach88/prism/internal/frame"
)

// loadOrBuildStack is the persisted-master / fresh-build ladder shared by
// the stacked-image getters. A nil image with a nil error from both rungs
// means the builder had nothing to work with; the caller decides whether
// that degrades or fails.
func (m *Manager) loadOrBuildStack(ctx context.Context, step Step, p Product, rows []int, key string, bias, bpm *Image) (*Image, Source, error) {
	b := m.tools.Stacker(m.request(p, rows, key))

	img, err := b.Load()
	if err != nil {
		return nil, "", &BuildError{Step: step, Key: key, Err: err}
	}
	if img != nil {
		return img, SourceDisk, nil
	}

	img, err = b.Build(ctx, bias, bpm)
	if err != nil {
		return nil, "", &BuildError{Step: step, Key: key, Err: err}
	}
	if img == nil {
		return nil, SourceDegraded, nil
	}
	if m.save {
		if err := b.Save(img); err != nil {
			return nil, "", &BuildError{Step: step, Key: key, Err: err}
		}
	}
	return img, SourceBuilt, nil
}

// GetBias resolves the combined bias for the current group. A group with
// no bias frames is not an error: the key degrades to the context frame
// and the builder decides what, if anything, it can produce.
func (m *Manager) GetBias(ctx context.Context) (*Image, error) {
	const step = StepBias
	if err := m.requireContext(step); err != nil {
		return nil, err
	}

	rows := m.index.FindFrames(frame.RoleBias, m.group)
	if len(rows) == 0 {
		m.log.Warn("no bias frames in group; keying off the context frame",
			"group", m.group)
	}
	key, err := m.setKey(slotBias, m.representative(rows))
	if err != nil {
		return nil, err
	}

	if m.cache.Exists(key, ProductBias) {
		m.bias = m.cachedImage(key, ProductBias)
		m.cacheHit(ProductBias, key)
		m.record(ctx, key, ProductBias, SourceMemory, "")
		return m.bias, nil
	}

	img, src, err := m.loadOrBuildStack(ctx, step, ProductBias, rows, key, nil, nil)
	if err != nil {
		return nil, err
	}
	if img == nil {
		m.log.Warn("no bias produced; frames will not be bias subtracted", "key", key)
	}

	m.bias = img
	if err := m.cache.Put(key, Entry{Product: ProductBias, Artifact: imageArtifact(img)}); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductBias, src, "")
	m.logStep(step, ProductBias, key, src)
	return m.bias, nil
}

// GetBPM resolves the bad-pixel mask. The mask is keyed off the context
// frame and derived from detector state, so it is memory-cached only and
// never persisted as a master.
func (m *Manager) GetBPM(ctx context.Context) (*Image, error) {
	const step = StepBPM
	if err := m.requireContext(step); err != nil {
		return nil, err
	}

	key, err := m.setKey(slotBPM, m.frame)
	if err != nil {
		return nil, err
	}

	if m.cache.Exists(key, ProductBPM) {
		m.bpm = m.cachedImage(key, ProductBPM)
		m.cacheHit(ProductBPM, key)
		m.record(ctx, key, ProductBPM, SourceMemory, "")
		return m.bpm, nil
	}

	// The bias sharpens hot-column detection, but only an already-built
	// one: BPM never triggers a bias build on its own.
	var bias *Image
	if m.par.BPMUseBias {
		if bkey, ok := m.key(slotBias); ok && m.cache.Exists(bkey, ProductBias) {
			bias = m.cachedImage(bkey, ProductBias)
			if bias != nil {
				m.log.Info("folding the bias into bad-pixel detection", "key", bkey)
			}
		}
	}

	sci := m.index.FramePath(m.frame)
	img, err := m.tools.BadPixels(ctx, m.request(ProductBPM, nil, key), sci, bias)
	if err != nil {
		return nil, &BuildError{Step: step, Key: key, Err: err}
	}
	if img == nil {
		return nil, &BuildError{Step: step, Key: key, Err: fmt.Errorf("builder produced no mask")}
	}

	m.bpm = img
	if err := m.cache.Put(key, Entry{Product: ProductBPM, Artifact: img}); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductBPM, SourceBuilt, "")
	m.logStep(step, ProductBPM, key, SourceBuilt)
	return m.bpm, nil
}

// GetArc resolves the combined arc. Bias and BPM must already be resolved;
// a group with no arc frames degrades the key like GetBias does.
func (m *Manager) GetArc(ctx context.Context) (*Image, error) {
	const step = StepArc
	if err := m.requireContext(step); err != nil {
		return nil, err
	}
	if err := m.requireUpstream(step, StepBias, StepBPM); err != nil {
		return nil, err
	}

	rows := m.index.FindFrames(frame.RoleArc, m.group)
	if len(rows) == 0 {
		m.log.Warn("no arc frames in group; keying off the context frame",
			"group", m.group)
	}
	key, err := m.setKey(slotArc, m.representative(rows))
	if err != nil {
		return nil, err
	}

	if m.cache.Exists(key, ProductArc) {
		m.arc = m.cachedImage(key, ProductArc)
		m.cacheHit(ProductArc, key)
		m.record(ctx, key, ProductArc, SourceMemory, "")
		return m.arc, nil
	}

	img, src, err := m.loadOrBuildStack(ctx, step, ProductArc, rows, key, m.bias, m.bpm)
	if err != nil {
		return nil, err
	}
	if img == nil {
		m.log.Warn("no arc produced; wavelength calibration will fail", "key", key)
	}

	m.arc = img
	if err := m.cache.Put(key, Entry{Product: ProductArc, Artifact: imageArtifact(img)}); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductArc, src, "")
	m.logStep(step, ProductArc, key, src)
	return m.arc, nil
}

// GetTiltImage resolves the combined tilt frame. Unlike bias and arc there
// is no degrade path: tilt frames must exist in the group.
func (m *Manager) GetTiltImage(ctx context.Context) (*Image, error) {
	const step = StepTiltImage
	if err := m.requireContext(step); err != nil {
		return nil, err
	}
	if err := m.requireUpstream(step, StepBias, StepBPM); err != nil {
		return nil, err
	}

	rows := m.index.FindFrames(frame.RoleTilt, m.group)
	if len(rows) == 0 {
		return nil, &NoFramesError{Role: frame.RoleTilt, Group: m.group, Step: step}
	}
	key, err := m.setKey(slotTilt, rows[0])
	if err != nil {
		return nil, err
	}

	if m.cache.Exists(key, ProductTiltImage) {
		m.tiltImg = m.cachedImage(key, ProductTiltImage)
		m.cacheHit(ProductTiltImage, key)
		m.record(ctx, key, ProductTiltImage, SourceMemory, "")
		return m.tiltImg, nil
	}

	img, src, err := m.loadOrBuildStack(ctx, step, ProductTiltImage, rows, key, m.bias, m.bpm)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, &BuildError{Step: step, Key: key, Err: fmt.Errorf("builder produced no tilt image")}
	}

	m.tiltImg = img
	if err := m.cache.Put(key, Entry{Product: ProductTiltImage, Artifact: img}); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductTiltImage, src, "")
	m.logStep(step, ProductTiltImage, key, src)
	return m.tiltImg, nil
}
