package calib

import (
	"fmt"
)

// Recipe is an ordered list of calibration steps. Order is the dependency
// declaration: a step may only consume what earlier steps produced.
// Recipes are validated once, at Configure time, against each step's
// declared inputs.
type Recipe struct {
	Name  string
	Steps []Step
}

// MultiSlitRecipe is the standard order for multi-slit (and echelle)
// reductions. Order matters: images first, then slits, then the
// wavelength ladder, flats near the end so slit tweaks land after tracing,
// and the wavelength image last.
func MultiSlitRecipe() Recipe {
	return Recipe{
		Name: "multislit",
		Steps: []Step{
			StepBias,
			StepBPM,
			StepArc,
			StepTiltImage,
			StepSlits,
			StepWaveCalib,
			StepTilts,
			StepFlats,
			StepWaveImage,
		},
	}
}

// ParseRecipe builds a recipe from step names, validating as it goes.
func ParseRecipe(name string, steps []string) (Recipe, error) {
	r := Recipe{Name: name, Steps: make([]Step, 0, len(steps))}
	for _, s := range steps {
		step, err := ParseStep(s)
		if err != nil {
			return Recipe{}, fmt.Errorf("recipe %s: %w", name, err)
		}
		r.Steps = append(r.Steps, step)
	}
	if err := r.Validate(); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// Validate checks the recipe against the declared step inputs:
//
//   - no step appears twice
//   - every hard input of a listed step is itself listed, earlier
//   - every soft input that is listed comes earlier
//
// A valid recipe is exactly a topological order of its steps under the
// input relation.
func (r Recipe) Validate() error {
	if len(r.Steps) == 0 {
		return fmt.Errorf("recipe %s: no steps", r.Name)
	}
	pos := make(map[Step]int, len(r.Steps))
	for i, s := range r.Steps {
		if !s.Valid() {
			return fmt.Errorf("recipe %s: unknown step %q", r.Name, s)
		}
		if prev, dup := pos[s]; dup {
			return fmt.Errorf("recipe %s: step %s listed twice (positions %d and %d)",
				r.Name, s, prev, i)
		}
		pos[s] = i
	}
	for i, s := range r.Steps {
		hard, soft := s.Inputs()
		for _, dep := range hard {
			j, ok := pos[dep]
			if !ok {
				return fmt.Errorf("recipe %s: step %s requires %s, which the recipe omits",
					r.Name, s, dep)
			}
			if j >= i {
				return fmt.Errorf("recipe %s: step %s must come after %s", r.Name, s, dep)
			}
		}
		for _, dep := range soft {
			if j, ok := pos[dep]; ok && j >= i {
				return fmt.Errorf("recipe %s: step %s must come after %s", r.Name, s, dep)
			}
		}
	}
	return nil
}

func (r Recipe) String() string {
	return fmt.Sprintf("Recipe{%s: %d steps}", r.Name, len(r.Steps))
}
