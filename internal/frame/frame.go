// Package frame holds the observation metadata model: typed frame roles,
// per-frame records, and the table that the calibration core queries for
// frame selection and master-key derivation.
//
// A frame is one raw exposure. A frame can serve several calibration roles
// at once (an arc that doubles as a tilt frame is common) and can belong to
// several calibration groups. The table is ordered; frame indices are
// positions in that order and are stable for the lifetime of the table.
package frame

import (
	"fmt"
	"sort"
)

// Role is a calibration role a frame can serve. The set is closed; tables
// carrying unknown roles fail to load.
type Role string

const (
	RoleBias      Role = "bias"
	RoleDark      Role = "dark"
	RoleArc       Role = "arc"
	RoleTilt      Role = "tilt"
	RoleTrace     Role = "trace"
	RolePixelFlat Role = "pixelflat"
	RoleIllumFlat Role = "illumflat"
	RoleScience   Role = "science"
	RoleStandard  Role = "standard"
)

var roleSet = map[Role]struct{}{
	RoleBias:      {},
	RoleDark:      {},
	RoleArc:       {},
	RoleTilt:      {},
	RoleTrace:     {},
	RolePixelFlat: {},
	RoleIllumFlat: {},
	RoleScience:   {},
	RoleStandard:  {},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleSet[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown frame role %q", s)
	}
	return r, nil
}

// Roles returns every known role in stable (sorted) order. Used by
// validation errors and the CLI frame summary.
func Roles() []Role {
	out := make([]Role, 0, len(roleSet))
	for r := range roleSet {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Record is one row of the table: a single raw exposure and the metadata
// the calibration core needs from it.
type Record struct {
	// File is the raw file name, joined onto the table's RawDir for paths.
	File string `yaml:"file"`

	// Roles lists every calibration role this exposure serves.
	Roles []Role `yaml:"frametype"`

	// Groups lists the calibration groups this exposure belongs to,
	// in the order given by the observer.
	Groups []int `yaml:"calib_groups"`

	// Binning is the detector binning, e.g. "1,1". Informational.
	Binning string `yaml:"binning,omitempty"`

	// Exptime is the exposure time in seconds. Informational.
	Exptime float64 `yaml:"exptime,omitempty"`
}

// HasRole reports whether the record serves the given role.
func (r *Record) HasRole(role Role) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// InGroup reports whether the record belongs to calibration group id.
func (r *Record) InGroup(id int) bool {
	for _, g := range r.Groups {
		if g == id {
			return true
		}
	}
	return false
}
