package calib

import (
	"context"
	"os"
	"path/filepath"

	"github.com/roach88/prism/internal/frame"
	"github.com/roach88/prism/internal/param"
)

// GetFlats resolves the pixel and illumination flats. Nothing on this path
// is fatal short of a broken build: the method parameter can disable flat
// fielding outright, and missing upstream calibrations warn and yield a
// null pair. Either way the outcome is cached, so repeat calls stay quiet.
//
// A user-supplied pixel flat (flatfield.frame) overrides both a loaded
// master and building: the value is tried as a literal path first, then
// relative to the master directory, and failing both is a user-input
// error naming every candidate.
func (m *Manager) GetFlats(ctx context.Context) (*Image, *Image, error) {
	const step = StepFlats

	// The skip check comes before everything else, including upstream
	// gating: exactly one warning, whatever else is missing.
	if m.par != nil && m.par.FlatField.Method == param.FlatMethodSkip {
		m.log.Warn("flat fielding disabled by configuration; data will NOT be flat fielded",
			"method", param.FlatMethodSkip)
		m.pixelFlat, m.illumFlat = nil, nil
		return nil, nil, nil
	}

	if err := m.requireContext(step); err != nil {
		return nil, nil, err
	}
	if m.degradeWithout(step, StepSlits, StepTilts) {
		m.pixelFlat, m.illumFlat = nil, nil
		return nil, nil, nil
	}

	rows := m.index.FindFrames(frame.RolePixelFlat, m.group)
	key, err := m.setKey(slotFlat, m.representative(rows))
	if err != nil {
		return nil, nil, err
	}

	if m.cache.Exists(key, ProductFlats) {
		pair := m.cachedFlats(key)
		m.setFlats(pair)
		m.cacheHit(ProductFlats, key)
		m.record(ctx, key, ProductFlats, SourceMemory, "")
		return m.pixelFlat, m.illumFlat, nil
	}

	fb := m.tools.FlatFielder(m.request(ProductFlats, rows, key))
	pair, err := fb.Load()
	if err != nil {
		return nil, nil, &BuildError{Step: step, Key: key, Err: err}
	}
	src := SourceDisk
	detail := ""

	// The user's explicit flat wins over whatever the load found: the
	// pixel flat comes from the user's file and the illumination flat is
	// dropped, even when a persisted master was available.
	if userPath, ok := m.par.UserFlatFile(); ok {
		resolved, err := m.resolveUserFlat(userPath)
		if err != nil {
			return nil, nil, err
		}
		img, err := fb.LoadUser(resolved)
		if err != nil {
			return nil, nil, &BuildError{Step: step, Key: key, Err: err}
		}
		m.log.Info("using user-supplied pixel flat", "path", resolved)
		pair = &FlatPair{Pixel: img}
		src, detail = SourceDisk, "user-supplied: "+resolved
	}

	if pair == nil && len(rows) > 0 {
		pair, err = fb.Build(ctx, m.bias, m.bpm, m.slits, m.tilts)
		if err != nil {
			return nil, nil, &BuildError{Step: step, Key: key, Err: err}
		}
		src = SourceBuilt
		if m.save {
			if err := fb.Save(pair); err != nil {
				return nil, nil, &BuildError{Step: step, Key: key, Err: err}
			}
			if m.par.FlatField.TweakSlits {
				if err := m.resaveTweakedSlits(rows); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	if pair == nil {
		pair = &FlatPair{}
		src, detail = SourceDegraded, "no flat frames"
	}
	if pair.Pixel == nil {
		m.log.Warn("no pixel flat available; data will NOT be flat fielded", "key", key)
	}
	if pair.Illum == nil && m.par.FlatField.IllumFlatten {
		m.log.Warn("no illumination flat available; data will NOT be illumination corrected", "key", key)
	}

	m.setFlats(pair)
	if err := m.cache.Put(key, Entry{Product: ProductFlats, Artifact: pair}); err != nil {
		return nil, nil, err
	}
	m.record(ctx, key, ProductFlats, src, detail)
	m.logStep(step, ProductFlats, key, src)
	return m.pixelFlat, m.illumFlat, nil
}

func (m *Manager) setFlats(pair *FlatPair) {
	if pair == nil {
		m.pixelFlat, m.illumFlat = nil, nil
		return
	}
	m.pixelFlat, m.illumFlat = pair.Pixel, pair.Illum
}

// resolveUserFlat tries the user's value as a literal path, then under the
// master directory.
func (m *Manager) resolveUserFlat(value string) (string, error) {
	tried := []string{value}
	if fileExists(value) {
		return value, nil
	}
	if m.masterDir != "" {
		joined := filepath.Join(m.masterDir, value)
		tried = append(tried, joined)
		if fileExists(joined) {
			return joined, nil
		}
	}
	return "", &UserInputError{Field: "flatfield.frame", Value: value, Tried: tried}
}

// resaveTweakedSlits re-persists the slit set after the flat build nudged
// its edges, so the persisted master matches what downstream consumers see.
func (m *Manager) resaveTweakedSlits(rows []int) error {
	key, ok := m.key(slotTrace)
	if !ok || m.slits == nil {
		return nil
	}
	m.log.Info("re-saving slit traces after flat-field tweaks", "key", key)
	store := m.tools.SlitStore(m.request(ProductSlits, rows, key))
	if err := store.Save(m.slits); err != nil {
		return &BuildError{Step: StepFlats, Key: key, Err: err}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
