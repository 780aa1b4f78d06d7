package frame

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DeriveKey builds a master key from an instrument setup identifier, a
// calibration group, and a 1-indexed detector: "<setup>_<group>_<det%02d>".
//
// Master keys name cache epochs and appear verbatim in master file names and
// ledger rows, so two textually different spellings of the same setup must
// never produce different keys. Setup identifiers are NFC-normalized before
// use; composed and decomposed Unicode collapse to one key.
func DeriveKey(setup string, group, det int) (string, error) {
	setup = norm.NFC.String(strings.TrimSpace(setup))
	if setup == "" {
		return "", fmt.Errorf("master key: empty setup identifier")
	}
	if strings.ContainsAny(setup, "_/\\ \t") {
		return "", fmt.Errorf("master key: setup %q contains a reserved character", setup)
	}
	if group < 0 {
		return "", fmt.Errorf("master key: negative calibration group %d", group)
	}
	if det < 1 {
		return "", fmt.Errorf("master key: detector %d is not 1-indexed", det)
	}
	return fmt.Sprintf("%s_%d_%02d", setup, group, det), nil
}
