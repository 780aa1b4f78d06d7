package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = `name: night1
setup: A
frames:
  - file: bias_001.fits
    frametype: [bias]
    calib_groups: [0]
  - file: bias_002.fits
    frametype: [bias]
    calib_groups: [0]
  - file: arc_001.fits
    frametype: [arc, tilt]
    calib_groups: [0]
  - file: trace_001.fits
    frametype: [trace]
    calib_groups: [0]
  - file: flat_001.fits
    frametype: [pixelflat]
    calib_groups: [0]
  - file: sci_001.fits
    frametype: [science]
    calib_groups: [0]
    exptime: 600
`

func writeTable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTable), 0o644))
	return path
}

// executeCommand runs the root command with args and returns its stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := executeCommand(t, "--format", "xml", "plan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad input")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := WrapExitError(ExitCommandError, "outer", errors.New("inner"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: inner", wrapped.Error())
}

func TestPlanDefaultRecipe(t *testing.T) {
	out, err := executeCommand(t, "plan")
	require.NoError(t, err)
	assert.Contains(t, out, "recipe multislit: 9 steps")
	assert.Contains(t, out, "1. bias")
	assert.Contains(t, out, "wv_calib")
	assert.Contains(t, out, "requires arc, bpm, slits")
}

func TestPlanCustomRecipe(t *testing.T) {
	out, err := executeCommand(t, "plan", "--steps", "bias,bpm,arc")
	require.NoError(t, err)
	assert.Contains(t, out, "recipe custom: 3 steps")
}

func TestPlanRejectsMisorderedRecipe(t *testing.T) {
	_, err := executeCommand(t, "plan", "--steps", "arc,bias,bpm")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "must come after")
}

func TestPlanJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "plan")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
}

func TestFramesSummary(t *testing.T) {
	table := writeTable(t)

	out, err := executeCommand(t, "frames", table)
	require.NoError(t, err)
	assert.Contains(t, out, "table night1: setup A, 6 frames, groups [0]")
	assert.Contains(t, out, "science")
	assert.Contains(t, out, "sci_001.fits")
}

func TestFramesJSON(t *testing.T) {
	table := writeTable(t)

	out, err := executeCommand(t, "--format", "json", "frames", table)
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report framesReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "A", report.Setup)
	assert.Equal(t, []int{5}, report.Science)
	assert.Equal(t, 2, report.ByRole["bias"])
}

func TestFramesMissingTable(t *testing.T) {
	_, err := executeCommand(t, "frames", "no-such-table.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCalibrateCleanRun(t *testing.T) {
	table := writeTable(t)

	out, err := executeCommand(t, "calibrate", table)
	require.NoError(t, err)
	assert.Contains(t, out, "recipe multislit")
	assert.Contains(t, out, "frame 5 det 1")
	assert.Contains(t, out, "A_0_01")
	assert.Contains(t, out, "1 runs, 0 failed")
}

func TestCalibrateJSON(t *testing.T) {
	table := writeTable(t)

	out, err := executeCommand(t, "--format", "json", "calibrate", table, "--dets", "1,2")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var report calibrateReport
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Runs, 2)
	assert.Equal(t, "A_0_01", report.Runs[0].Key)
	assert.Equal(t, "A_0_02", report.Runs[1].Key)
	assert.Zero(t, report.Failed)
}

func TestCalibrateCustomSteps(t *testing.T) {
	table := writeTable(t)

	out, err := executeCommand(t, "calibrate", table, "--steps", "bias,bpm,arc")
	require.NoError(t, err)
	assert.Contains(t, out, "recipe custom")
	assert.Contains(t, out, "0 failed")
}

func TestCalibrateRejectsBadRecipe(t *testing.T) {
	table := writeTable(t)

	_, err := executeCommand(t, "calibrate", table, "--steps", "tilts")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCalibrateRejectsTinyDetector(t *testing.T) {
	table := writeTable(t)

	_, err := executeCommand(t, "calibrate", table, "--nspec", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCalibrateNoScienceFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.yaml")
	biasOnly := `setup: A
frames:
  - file: bias_001.fits
    frametype: [bias]
    calib_groups: [0]
`
	require.NoError(t, os.WriteFile(path, []byte(biasOnly), 0o644))

	_, err := executeCommand(t, "calibrate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no science frames")
}

func TestCalibrateExplicitFramesFailure(t *testing.T) {
	table := writeTable(t)

	// An out-of-range frame index fails its run and drives exit code 1.
	out, err := executeCommand(t, "calibrate", table, "--frames", "99")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAILED")
}

func TestCalibratePersistAndReuse(t *testing.T) {
	table := writeTable(t)
	masterDir := t.TempDir()

	_, err := executeCommand(t, "calibrate", table, "--master-dir", masterDir, "--save")
	require.NoError(t, err)

	entries, err := os.ReadDir(masterDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "saved masters expected")

	// A second invocation with a cold cache loads the persisted masters.
	_, err = executeCommand(t, "calibrate", table, "--master-dir", masterDir, "--reuse")
	require.NoError(t, err)
}

func TestCalibrateLedgerAndHistory(t *testing.T) {
	table := writeTable(t)
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := executeCommand(t, "calibrate", table, "--ledger", db)
	require.NoError(t, err)

	out, err := executeCommand(t, "history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "A_0_01")
	assert.Contains(t, out, "built")

	out, err = executeCommand(t, "--format", "json", "history", db, "--key", "A_0_01")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
}

func TestHistoryFlagsMutuallyExclusive(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := executeCommand(t, "history", db, "--run", "x", "--key", "y")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestHistoryEmptyLedger(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	out, err := executeCommand(t, "history", db)
	require.NoError(t, err)
	assert.Contains(t, out, "no events")
}
