package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: the fixtures to calibrate
// against, the runs to execute, and the expectations on the resulting
// provenance trace.
type Scenario struct {
	// Name uniquely identifies the scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Table is the path to the YAML frame table, relative to the scenario
	// file location.
	Table string `yaml:"table"`

	// Detector fixes the synthetic detector geometry.
	Detector Detector `yaml:"detector"`

	// Params is optional inline CUE source overriding the default
	// calibration parameters.
	Params string `yaml:"params,omitempty"`

	// Persist runs the scenario with a throwaway master directory and
	// save/reuse enabled. Scenarios exercising the partial-save path
	// need it; everything else stays in memory.
	Persist bool `yaml:"persist,omitempty"`

	// Faults injects builder failures.
	Faults Faults `yaml:"faults,omitempty"`

	// Runs lists the calibration runs, executed in order against one
	// shared Manager (and therefore one shared cache).
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the trace and the final slit mask.
	Assertions []Assertion `yaml:"assertions"`
}

// Detector is the synthetic detector geometry for a scenario.
type Detector struct {
	NSpec int `yaml:"nspec"`
	NSpat int `yaml:"nspat"`

	// NSlits defaults to the sim toolkit's two slits when zero.
	NSlits int `yaml:"nslits,omitempty"`
}

// Faults configures injected builder failures.
type Faults struct {
	// Trace, when non-empty, makes edge tracing fail with this message
	// after the first slit, exercising partial persistence.
	Trace string `yaml:"trace,omitempty"`

	// BadWaveSlits and BadTiltSlits mark slits whose wavelength or tilt
	// fits come out bad, driving mask accumulation.
	BadWaveSlits []int `yaml:"bad_wave_slits,omitempty"`
	BadTiltSlits []int `yaml:"bad_tilt_slits,omitempty"`
}

// RunStep is one calibration run: configure for (frame, det) and execute
// the recipe.
type RunStep struct {
	// Frame is the context frame index into the table.
	Frame int `yaml:"frame"`

	// Det is the 1-indexed detector.
	Det int `yaml:"det"`

	// Steps optionally replaces the default multislit recipe.
	Steps []string `yaml:"steps,omitempty"`

	// ExpectError, when non-empty, requires the run to fail with an error
	// containing this substring. An empty value requires success.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates one aspect of the scenario outcome.
type Assertion struct {
	// Type is one of the Assert* constants below.
	Type string `yaml:"type"`

	// Product and Source select trace events (source_count, source_order).
	Product string `yaml:"product,omitempty"`
	Source  string `yaml:"source,omitempty"`

	// Count is the expected number of matching events (source_count).
	Count int `yaml:"count,omitempty"`

	// Sources is the expected source sequence for Product across the
	// whole trace (source_order).
	Sources []string `yaml:"sources,omitempty"`

	// Mask is the expected per-slit flag rendering of the final slit mask
	// (final_mask).
	Mask []string `yaml:"mask,omitempty"`
}

// Assertion type constants.
const (
	AssertSourceCount = "source_count"
	AssertSourceOrder = "source_order"
	AssertFinalMask   = "final_mask"
)

// LoadScenario reads and parses a scenario YAML file. Decoding is strict:
// unknown fields are an error, catching typos like "assertion:" for
// "assertions:". The table path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Scenario
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("scenario %s: parse: %w", path, err)
	}

	if s.Table != "" && !filepath.IsAbs(s.Table) {
		s.Table = filepath.Join(filepath.Dir(path), s.Table)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks required fields and per-entry sanity.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Table == "" {
		return fmt.Errorf("table is required")
	}
	if _, err := os.Stat(s.Table); err != nil {
		return fmt.Errorf("frame table not found: %s", s.Table)
	}
	if s.Detector.NSpec < 2 || s.Detector.NSpat < 2 {
		return fmt.Errorf("detector must be at least 2x2, got %dx%d",
			s.Detector.NSpec, s.Detector.NSpat)
	}
	if s.Detector.NSlits < 0 {
		return fmt.Errorf("detector nslits must be non-negative")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}
	for i, r := range s.Runs {
		if r.Frame < 0 {
			return fmt.Errorf("runs[%d]: negative frame index", i)
		}
		if r.Det < 1 {
			return fmt.Errorf("runs[%d]: detector %d is not 1-indexed", i, r.Det)
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertSourceCount:
		if a.Product == "" || a.Source == "" {
			return fmt.Errorf("assertions[%d]: product and source are required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertSourceOrder:
		if a.Product == "" {
			return fmt.Errorf("assertions[%d]: product is required for %s", index, a.Type)
		}
		if len(a.Sources) == 0 {
			return fmt.Errorf("assertions[%d]: sources list is required for %s", index, a.Type)
		}
	case AssertFinalMask:
		if len(a.Mask) == 0 {
			return fmt.Errorf("assertions[%d]: mask list is required for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
