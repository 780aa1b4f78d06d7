package frame

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is an ordered collection of frame records for one instrument setup.
// It is the concrete implementation of the index the calibration core
// queries; all lookups are read-only and safe to share once loaded.
type Table struct {
	// Name labels the table in logs and ledger rows.
	Name string `yaml:"name,omitempty"`

	// Setup identifies the instrument configuration (grating, slit,
	// central wavelength family). It is the first master-key component.
	Setup string `yaml:"setup"`

	// RawDir is the directory raw frame paths are resolved against.
	// Empty means paths are used as written.
	RawDir string `yaml:"raw_dir,omitempty"`

	Frames []Record `yaml:"frames"`
}

// LoadTable reads a YAML frame table from disk. Decoding is strict:
// unknown fields are an error, as are unknown roles or empty records.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame table: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("frame table %s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

// ParseTable decodes and validates a YAML frame table.
func ParseTable(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Table
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks structural invariants: a non-empty setup, at least one
// frame, and per-record file/role/group sanity.
func (t *Table) Validate() error {
	if strings.TrimSpace(t.Setup) == "" {
		return fmt.Errorf("table has no setup identifier")
	}
	if len(t.Frames) == 0 {
		return fmt.Errorf("table has no frames")
	}
	for i := range t.Frames {
		rec := &t.Frames[i]
		if rec.File == "" {
			return fmt.Errorf("frame %d: missing file", i)
		}
		if len(rec.Roles) == 0 {
			return fmt.Errorf("frame %d (%s): no roles", i, rec.File)
		}
		for _, r := range rec.Roles {
			if !r.Valid() {
				return fmt.Errorf("frame %d (%s): unknown role %q", i, rec.File, r)
			}
		}
		if len(rec.Groups) == 0 {
			return fmt.Errorf("frame %d (%s): no calibration groups", i, rec.File)
		}
		for _, g := range rec.Groups {
			if g < 0 {
				return fmt.Errorf("frame %d (%s): negative calibration group %d", i, rec.File, g)
			}
		}
	}
	return nil
}

// Len returns the number of frames in the table.
func (t *Table) Len() int { return len(t.Frames) }

// Record returns the record at index idx.
func (t *Table) Record(idx int) (*Record, error) {
	if idx < 0 || idx >= len(t.Frames) {
		return nil, fmt.Errorf("frame index %d out of range [0,%d)", idx, len(t.Frames))
	}
	return &t.Frames[idx], nil
}

// FindFrames returns the indices, in table order, of frames that serve the
// given role and belong to calibration group id.
func (t *Table) FindFrames(role Role, group int) []int {
	var out []int
	for i := range t.Frames {
		if t.Frames[i].HasRole(role) && t.Frames[i].InGroup(group) {
			out = append(out, i)
		}
	}
	return out
}

// FramePaths maps frame indices to raw file paths under RawDir.
// Unknown indices are skipped.
func (t *Table) FramePaths(indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(t.Frames) {
			continue
		}
		out = append(out, t.FramePath(idx))
	}
	return out
}

// FramePath returns the raw file path of the frame at idx.
func (t *Table) FramePath(idx int) string {
	if idx < 0 || idx >= len(t.Frames) {
		return ""
	}
	if t.RawDir == "" {
		return t.Frames[idx].File
	}
	return filepath.Join(t.RawDir, t.Frames[idx].File)
}

// Groups returns the calibration groups of the frame at idx in declared
// order. The slice is a copy.
func (t *Table) Groups(idx int) []int {
	if idx < 0 || idx >= len(t.Frames) {
		return nil
	}
	out := make([]int, len(t.Frames[idx].Groups))
	copy(out, t.Frames[idx].Groups)
	return out
}

// GroupString renders a frame's group memberships the way observers write
// them: comma-joined in declared order, e.g. "0,2".
func (t *Table) GroupString(idx int) string {
	groups := t.Groups(idx)
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strconv.Itoa(g)
	}
	return strings.Join(parts, ",")
}

// GroupIDs returns the sorted set of every calibration group referenced by
// the table.
func (t *Table) GroupIDs() []int {
	seen := map[int]struct{}{}
	for i := range t.Frames {
		for _, g := range t.Frames[i].Groups {
			seen[g] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Ints(out)
	return out
}

// MasterKey derives the master key for the frame at idx on the 1-indexed
// detector det, using the frame's first calibration group.
func (t *Table) MasterKey(idx, det int) (string, error) {
	rec, err := t.Record(idx)
	if err != nil {
		return "", err
	}
	return DeriveKey(t.Setup, rec.Groups[0], det)
}
