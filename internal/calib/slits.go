package calib

import (
	"context"

	"github.com/roach88/prism/internal/frame"
)

// GetSlits resolves the slit traces. Resolution order: memory cache, a
// directly persisted slit set, persisted edge traces, and finally a fresh
// trace image plus automatic edge finding.
//
// Without a bad-pixel mask there is nothing to trace on: the getter warns
// and produces no slits rather than failing, and downstream consumers
// degrade in turn.
//
// A crash inside edge finding persists whatever was traced before the
// error propagates, so hours of interactive fixing start from the partial
// result instead of zero.
func (m *Manager) GetSlits(ctx context.Context) (*SlitSet, error) {
	const step = StepSlits
	if err := m.requireContext(step); err != nil {
		return nil, err
	}

	if m.degradeWithout(step, StepBPM) {
		m.slits = nil
		return nil, nil
	}

	rows := m.index.FindFrames(frame.RoleTrace, m.group)
	key, err := m.setKey(slotTrace, m.representative(rows))
	if err != nil {
		return nil, err
	}

	if m.cache.Exists(key, ProductSlits) {
		m.slits = m.cachedSlits(key)
		m.cacheHit(ProductSlits, key)
		m.record(ctx, key, ProductSlits, SourceMemory, "")
		return m.slits, nil
	}

	// A finished slit set on disk short-cuts edge tracing entirely.
	store := m.tools.SlitStore(m.request(ProductSlits, rows, key))
	s, err := store.Load()
	if err != nil {
		return nil, &BuildError{Step: step, Key: key, Err: err}
	}
	src := SourceDisk

	if s == nil {
		s, src, err = m.traceSlits(ctx, step, rows, key)
		if err != nil {
			return nil, err
		}
		if m.save {
			if err := store.Save(s); err != nil {
				return nil, &BuildError{Step: step, Key: key, Err: err}
			}
		}
	}

	if len(s.Mask) != s.NSlits {
		s.Mask = ZeroMask(s.NSlits)
	}

	m.slits = s
	if err := m.cache.Put(key, Entry{Product: ProductSlits, Artifact: s}); err != nil {
		return nil, err
	}
	m.record(ctx, key, ProductSlits, src, "")
	m.logStep(step, ProductSlits, key, src)
	return m.slits, nil
}

// traceSlits runs the edge-tracing arm of GetSlits: load persisted edges
// when allowed, otherwise build the trace image and auto-trace it. The
// tracer is transient; only the slit set it yields survives.
func (m *Manager) traceSlits(ctx context.Context, step Step, rows []int, key string) (*SlitSet, Source, error) {
	tracer := m.tools.EdgeTracer(m.request(ProductSlits, rows, key))
	src := SourceBuilt

	if m.reuse && tracer.Exists() {
		if err := tracer.Load(); err != nil {
			return nil, "", &BuildError{Step: step, Key: key, Err: err}
		}
		m.log.Info("loaded persisted edge traces", "key", key)
		src = SourceDisk
	} else {
		timg, err := m.tools.Stacker(m.request(ProductTraceImage, rows, key)).Build(ctx, m.bias, m.bpm)
		if err != nil {
			return nil, "", &BuildError{Step: step, Key: key, Err: err}
		}

		if err := tracer.AutoTrace(ctx, timg, m.bias, m.bpm); err != nil {
			saved := true
			if saveErr := tracer.Save(); saveErr != nil {
				saved = false
				m.log.Error("could not save partial edge traces",
					"key", key, "error", saveErr)
			}
			m.record(ctx, key, ProductEdges, SourcePartial, err.Error())
			return nil, "", &BuildError{Step: step, Key: key, Saved: saved, Err: err}
		}
		if m.save {
			if err := tracer.Save(); err != nil {
				return nil, "", &BuildError{Step: step, Key: key, Err: err}
			}
		}
	}

	s, err := tracer.Slits()
	if err != nil {
		return nil, "", &BuildError{Step: step, Key: key, Err: err}
	}
	return s, src, nil
}
