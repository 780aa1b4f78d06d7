package calib

import (
	"context"

	"github.com/roach88/prism/internal/param"
)

// GetWaveCalib resolves the wavelength calibration and merges its
// per-slit mask contribution into the slit set. The contribution is
// derived once, when the calibration is loaded or built, and cached
// alongside it; cache hits replay the stored contribution. Merging is an
// OR, so replays are no-ops.
//
// Pixel-reference reductions skip the builder entirely: the calibration
// is nil, the contribution is zero, and nothing is cached.
func (m *Manager) GetWaveCalib(ctx context.Context) (*WaveCalib, error) {
	const step = StepWaveCalib
	if err := m.requireContext(step); err != nil {
		return nil, err
	}
	if err := m.requireUpstream(step, StepArc, StepBPM, StepSlits); err != nil {
		return nil, err
	}
	key, ok := m.key(slotArc)
	if !ok {
		return nil, &MissingUpstreamError{Step: step, Missing: []string{"arc master key"}, RunFirst: []Step{StepArc}}
	}

	if m.cache.Exists(key, ProductWaveCalib) && m.cache.Exists(key, ProductWaveMask) {
		wc := m.cachedWaveCalib(key)
		if err := MergeMask(m.slits, m.cachedMask(key, ProductWaveMask)); err != nil {
			return nil, err
		}
		m.waveCalib, m.wvDone = wc, true
		m.cacheHit(ProductWaveCalib, key)
		m.record(ctx, key, ProductWaveCalib, SourceMemory, "")
		return wc, nil
	}

	if m.par.Wavelengths.Reference == param.WaveRefPixel {
		m.log.Info("pixel-reference reduction; skipping wavelength calibration")
		if err := MergeMask(m.slits, ZeroMask(m.slits.NSlits)); err != nil {
			return nil, err
		}
		m.waveCalib, m.wvDone = nil, true
		m.record(ctx, key, ProductWaveCalib, SourceDegraded, "pixel reference")
		return nil, nil
	}

	wb := m.tools.WaveCalibrator(m.request(ProductWaveCalib, nil, key))
	wc, err := wb.Load()
	if err != nil {
		return nil, &BuildError{Step: step, Key: key, Err: err}
	}
	src := SourceDisk
	if wc == nil {
		wc, err = wb.Build(ctx, m.arc, m.slits)
		if err != nil {
			return nil, &BuildError{Step: step, Key: key, Err: err}
		}
		src = SourceBuilt
		if m.save {
			if err := wb.Save(wc); err != nil {
				return nil, &BuildError{Step: step, Key: key, Err: err}
			}
		}
	}

	contrib := wb.MaskContribution(wc, m.slits.NSlits)
	if contrib == nil {
		contrib = ZeroMask(m.slits.NSlits)
	}
	if err := MergeMask(m.slits, contrib); err != nil {
		return nil, err
	}

	m.waveCalib, m.wvDone = wc, true
	if err := m.cache.Put(key,
		Entry{Product: ProductWaveCalib, Artifact: wc},
		Entry{Product: ProductWaveMask, Artifact: contrib},
	); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductWaveCalib, src, "")
	m.logStep(step, ProductWaveCalib, key, src)
	return wc, nil
}

// GetTilts resolves the tilt model and merges its mask contribution,
// following the same cache discipline as GetWaveCalib. A model loaded
// from a persisted master contributes a zero mask: its flags were merged
// when it was first built.
func (m *Manager) GetTilts(ctx context.Context) (*TiltModel, error) {
	const step = StepTilts
	if err := m.requireContext(step); err != nil {
		return nil, err
	}
	if err := m.requireUpstream(step, StepTiltImage, StepBPM, StepSlits, StepWaveCalib); err != nil {
		return nil, err
	}
	key, ok := m.key(slotTilt)
	if !ok {
		return nil, &MissingUpstreamError{Step: step, Missing: []string{"tilt master key"}, RunFirst: []Step{StepTiltImage}}
	}

	if m.cache.Exists(key, ProductTilts) && m.cache.Exists(key, ProductTiltMask) {
		tm := m.cachedTilts(key)
		if err := MergeMask(m.slits, m.cachedMask(key, ProductTiltMask)); err != nil {
			return nil, err
		}
		m.tilts = tm
		m.cacheHit(ProductTilts, key)
		m.record(ctx, key, ProductTilts, SourceMemory, "")
		return tm, nil
	}

	tb := m.tools.TiltFitter(m.request(ProductTilts, nil, key))
	tm, err := tb.Load()
	if err != nil {
		return nil, &BuildError{Step: step, Key: key, Err: err}
	}
	src := SourceDisk
	var contrib MaskVec
	if tm == nil {
		tm, contrib, err = tb.Build(ctx, m.tiltImg, m.slits, m.waveCalib)
		if err != nil {
			return nil, &BuildError{Step: step, Key: key, Err: err}
		}
		src = SourceBuilt
		if m.save {
			if err := tb.Save(tm); err != nil {
				return nil, &BuildError{Step: step, Key: key, Err: err}
			}
		}
	}
	if contrib == nil {
		contrib = ZeroMask(m.slits.NSlits)
	}
	if err := MergeMask(m.slits, contrib); err != nil {
		return nil, err
	}

	m.tilts = tm
	if err := m.cache.Put(key,
		Entry{Product: ProductTilts, Artifact: tm},
		Entry{Product: ProductTiltMask, Artifact: contrib},
	); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductTilts, src, "")
	m.logStep(step, ProductTilts, key, src)
	return tm, nil
}

// GetWaveImage resolves the per-pixel wavelength image. Missing upstreams
// degrade (warn, produce nothing). In pixel-reference mode the image is a
// deterministic ramp computed from the tilt field, no builder involved.
func (m *Manager) GetWaveImage(ctx context.Context) (*Image, error) {
	const step = StepWaveImage
	if err := m.requireContext(step); err != nil {
		return nil, err
	}
	if m.degradeWithout(step, StepTilts, StepSlits, StepWaveCalib) {
		m.waveImg = nil
		return nil, nil
	}
	key, ok := m.key(slotArc)
	if !ok {
		return nil, &MissingUpstreamError{Step: step, Missing: []string{"arc master key"}, RunFirst: []Step{StepArc}}
	}

	if m.cache.Exists(key, ProductWaveImage) {
		m.waveImg = m.cachedImage(key, ProductWaveImage)
		m.cacheHit(ProductWaveImage, key)
		m.record(ctx, key, ProductWaveImage, SourceMemory, "")
		return m.waveImg, nil
	}

	if m.par.Wavelengths.Reference == param.WaveRefPixel {
		img := pixelWaveImage(m.tilts)
		m.waveImg = img
		if err := m.cache.Put(key, Entry{Product: ProductWaveImage, Artifact: img}); err != nil {
			return nil, err
		}
		m.record(ctx, key, ProductWaveImage, SourceBuilt, "pixel ramp")
		m.logStep(step, ProductWaveImage, key, SourceBuilt)
		return img, nil
	}

	wb := m.tools.WaveImager(m.request(ProductWaveImage, nil, key))
	img, err := wb.Load()
	if err != nil {
		return nil, &BuildError{Step: step, Key: key, Err: err}
	}
	src := SourceDisk
	if img == nil {
		img, err = wb.Build(ctx, m.tilts, m.slits, m.waveCalib)
		if err != nil {
			return nil, &BuildError{Step: step, Key: key, Err: err}
		}
		src = SourceBuilt
		if m.save {
			if err := wb.Save(img); err != nil {
				return nil, &BuildError{Step: step, Key: key, Err: err}
			}
		}
	}

	m.waveImg = img
	if err := m.cache.Put(key, Entry{Product: ProductWaveImage, Artifact: imageArtifact(img)}); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductWaveImage, src, "")
	m.logStep(step, ProductWaveImage, key, src)
	return m.waveImg, nil
}

// pixelWaveImage maps the tilt field onto pixel "wavelengths":
// wave = tilts * (nspec - 1), so values span pixel coordinates.
func pixelWaveImage(tm *TiltModel) *Image {
	field := tm.Field
	out := NewImage(field.NSpec, field.NSpat)
	scale := float64(field.NSpec - 1)
	for i, v := range field.Data {
		out.Data[i] = v * scale
	}
	return out
}
