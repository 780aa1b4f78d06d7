package masters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	N    int       `json:"n"`
	Data []float64 `json:"data"`
}

func TestName(t *testing.T) {
	assert.Equal(t, "MasterBias_A_0_01.json.gz", Name("bias", "A_0_01"))
	assert.Equal(t, "MasterTiltimg_A_0_01.json.gz", Name("tiltimg", "A_0_01"))
	assert.Equal(t, "MasterSlits_B_2_03.json.gz", Name("SLITS", "B_2_03"))
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	in := payload{N: 2, Data: []float64{1.5, -3}}

	require.NoError(t, Write(dir, "bias", "A_0_01", in))
	assert.True(t, Exists(dir, "bias", "A_0_01"))
	assert.False(t, Exists(dir, "arc", "A_0_01"))

	var out payload
	require.NoError(t, Read(dir, "bias", "A_0_01", &out))
	assert.Equal(t, in, out)
}

func TestWriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "bias", "A_0_01", payload{N: 1}))
	require.NoError(t, Write(dir, "bias", "A_0_01", payload{N: 2}))

	var out payload
	require.NoError(t, Read(dir, "bias", "A_0_01", &out))
	assert.Equal(t, 2, out.N)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadMissing(t *testing.T) {
	var out payload
	err := Read(t.TempDir(), "bias", "A_0_01", &out)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestReadRejectsMismatchedIdentity(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, "bias", "A_0_01", payload{N: 1}))

	// Masquerade the bias master as an arc master.
	require.NoError(t, os.Rename(
		Path(dir, "bias", "A_0_01"),
		Path(dir, "arc", "A_0_01"),
	))

	var out payload
	err := Read(dir, "arc", "A_0_01", &out)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "claims to be")
}

func TestReadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir, "bias", "A_0_01")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o644))

	var out payload
	err := Read(dir, "bias", "A_0_01", &out)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestWriteEmptyDir(t *testing.T) {
	assert.Error(t, Write("", "bias", "A_0_01", payload{}))
}

func TestWriteCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "masters", "night1")
	require.NoError(t, Write(dir, "bias", "A_0_01", payload{N: 1}))
	assert.True(t, Exists(dir, "bias", "A_0_01"))
}
