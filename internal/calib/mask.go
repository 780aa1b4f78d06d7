package calib

import (
	"fmt"
	"sort"
	"strings"
)

// SlitFlag is a bit in the per-slit quality mask.
type SlitFlag uint16

const (
	// FlagShortSlit marks a slit whose traced length is unusable.
	FlagShortSlit SlitFlag = 1 << iota

	// FlagUserIgnore marks a slit excluded by the observer.
	FlagUserIgnore

	// FlagBadWave marks a slit whose wavelength solution is missing or
	// failed its quality threshold.
	FlagBadWave

	// FlagBadTilt marks a slit whose tilt fit failed.
	FlagBadTilt
)

var flagNames = map[SlitFlag]string{
	FlagShortSlit:  "SHORTSLIT",
	FlagUserIgnore: "USERIGNORE",
	FlagBadWave:    "BADWAVE",
	FlagBadTilt:    "BADTILT",
}

// Has reports whether flag f includes bit b.
func (f SlitFlag) Has(b SlitFlag) bool { return f&b != 0 }

// Names expands a flag value into its set bit names, sorted.
func (f SlitFlag) Names() []string {
	var out []string
	for bit, name := range flagNames {
		if f.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (f SlitFlag) String() string {
	if f == 0 {
		return "OK"
	}
	return strings.Join(f.Names(), "|")
}

// ParseFlag converts a bit name (as produced by Names) back into a flag.
func ParseFlag(name string) (SlitFlag, error) {
	for bit, n := range flagNames {
		if n == name {
			return bit, nil
		}
	}
	return 0, fmt.Errorf("unknown slit flag %q", name)
}

// MaskVec is a per-slit quality mask, one flag word per slit. Getters
// produce MaskVec contributions; the orchestrator folds them into the slit
// set with MergeMask. MaskVec is itself a cacheable artifact so a
// contribution can be replayed on cache hits.
type MaskVec []SlitFlag

func (MaskVec) artifact() {}

// ZeroMask returns an all-clear mask for n slits.
func ZeroMask(n int) MaskVec { return make(MaskVec, n) }

// Clone returns an independent copy.
func (m MaskVec) Clone() MaskVec {
	out := make(MaskVec, len(m))
	copy(out, m)
	return out
}

// CountSet returns how many slits have any flag set.
func (m MaskVec) CountSet() int {
	n := 0
	for _, f := range m {
		if f != 0 {
			n++
		}
	}
	return n
}

// Covers reports whether every flag set in other is also set in m.
// Merging only ever grows a mask, so after MergeMask(s, c),
// s.Mask.Covers(c) always holds.
func (m MaskVec) Covers(other MaskVec) bool {
	if len(other) != len(m) {
		return false
	}
	for i, f := range other {
		if m[i]&f != f {
			return false
		}
	}
	return true
}

// MergeMask ORs a contribution into the slit set's quality mask. This is
// the only write path into an established mask: bits accumulate and are
// never cleared, so merges commute and repeating one is a no-op.
func MergeMask(s *SlitSet, contrib MaskVec) error {
	if s == nil {
		return fmt.Errorf("merge mask: nil slit set")
	}
	if len(contrib) == 0 {
		return nil
	}
	if len(contrib) != s.NSlits {
		return fmt.Errorf("merge mask: contribution covers %d slits, slit set has %d",
			len(contrib), s.NSlits)
	}
	if len(s.Mask) != s.NSlits {
		s.Mask = ZeroMask(s.NSlits)
	}
	for i, f := range contrib {
		s.Mask[i] |= f
	}
	return nil
}
