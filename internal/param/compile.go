package param

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource []byte

// Load reads a CUE parameter file and unifies it with the embedded schema.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter file: %w", err)
	}
	return Parse(data, path)
}

// Parse unifies CUE source against the schema and decodes the calibrations
// block. The filename is used in error positions only.
func Parse(data []byte, filename string) (*Set, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("embedded parameter schema: %w", err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	merged := schema.Unify(user)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	return decode(merged)
}

// Default returns the parameter set produced by the schema's defaults alone.
// The schema guarantees this is concrete; a failure here is a programming
// error, so Default panics rather than returning one.
func Default() *Set {
	s, err := Parse([]byte("{}"), "defaults")
	if err != nil {
		panic(fmt.Sprintf("param: default set does not validate: %v", err))
	}
	return s
}

func decode(v cue.Value) (*Set, error) {
	cal := v.LookupPath(cue.ParsePath("calibrations"))
	if !cal.Exists() {
		return nil, &Error{
			Path:    "calibrations",
			Message: "calibrations section is missing",
			Pos:     v.Pos(),
		}
	}

	var s Set
	if err := cal.Decode(&s); err != nil {
		return nil, formatCUEError(err)
	}
	if err := s.Validate(); err != nil {
		return nil, &Error{
			Path:    "calibrations",
			Message: err.Error(),
			Pos:     cal.Pos(),
		}
	}
	return &s, nil
}

// Error is a parameter error with CUE source position.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &Error{
			Path:    "params",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
