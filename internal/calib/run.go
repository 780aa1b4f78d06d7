package calib

import (
	"context"
	"fmt"
)

// RunRecipe executes the configured recipe in order. The first error stops
// the run; remaining steps are skipped but the Manager and its cache stay
// usable, so the caller can Configure the next (frame, detector) pair and
// keep going.
func (m *Manager) RunRecipe(ctx context.Context) error {
	if !m.configured {
		return &ConfigError{Field: "context", Message: "call Configure before RunRecipe"}
	}

	m.log.Info("running calibration recipe",
		"recipe", m.recipe.Name, "steps", len(m.recipe.Steps), "run", m.runID)

	for i, step := range m.recipe.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recipe %s: step %s: %w", m.recipe.Name, step, err)
		}
		if err := m.runStep(ctx, step); err != nil {
			m.log.Error("calibration step failed; aborting recipe",
				"recipe", m.recipe.Name, "step", step, "remaining", len(m.recipe.Steps)-i-1,
				"error", err)
			return err
		}
	}

	m.log.Info("calibration complete",
		"frame", m.frame, "det", m.det, "group", m.group, "run", m.runID)
	return nil
}

// runStep dispatches one step to its getter. Recipe validation guarantees
// the step is known, but a direct caller could hand us anything.
func (m *Manager) runStep(ctx context.Context, step Step) error {
	var err error
	switch step {
	case StepBias:
		_, err = m.GetBias(ctx)
	case StepBPM:
		_, err = m.GetBPM(ctx)
	case StepArc:
		_, err = m.GetArc(ctx)
	case StepTiltImage:
		_, err = m.GetTiltImage(ctx)
	case StepSlits:
		_, err = m.GetSlits(ctx)
	case StepWaveCalib:
		_, err = m.GetWaveCalib(ctx)
	case StepTilts:
		_, err = m.GetTilts(ctx)
	case StepFlats:
		_, _, err = m.GetFlats(ctx)
	case StepWaveImage:
		_, err = m.GetWaveImage(ctx)
	default:
		err = fmt.Errorf("unknown calibration step %q", step)
	}
	return err
}
