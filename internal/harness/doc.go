// Package harness runs YAML-defined calibration scenarios end to end and
// compares their provenance traces against golden files.
//
// A scenario names a synthetic frame table, a detector geometry, optional
// parameter overrides and injected builder faults, and a list of calibration
// runs (frame, detector, optional custom recipe). The harness wires a real
// calib.Manager over the sim builders, records every product resolution in
// an in-memory ledger, and reads the rows back as the trace. Deterministic
// run tokens and synthetic builders make the trace byte-stable, so golden
// comparison catches any drift in resolution order, cache behavior, or mask
// accumulation.
//
// Scenarios live in testdata/scenarios/, frame tables in testdata/tables/,
// and golden traces in testdata/golden/. To regenerate golden files after an
// intentional behavior change, run:
//
//	go test ./internal/harness -update
package harness
