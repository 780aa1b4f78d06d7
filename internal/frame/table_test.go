package frame

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `
name: kast_blue_night1
setup: A
raw_dir: /data/raw
frames:
  - file: b1.fits
    frametype: [bias]
    calib_groups: [0]
  - file: b2.fits
    frametype: [bias]
    calib_groups: [0, 1]
  - file: arc1.fits
    frametype: [arc, tilt]
    calib_groups: [0]
    exptime: 30
  - file: trace1.fits
    frametype: [trace, pixelflat]
    calib_groups: [0]
  - file: sci1.fits
    frametype: [science]
    calib_groups: [0]
    binning: "1,1"
`

func TestParseTable(t *testing.T) {
	tab, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	assert.Equal(t, "kast_blue_night1", tab.Name)
	assert.Equal(t, "A", tab.Setup)
	assert.Equal(t, 5, tab.Len())

	rec, err := tab.Record(2)
	require.NoError(t, err)
	assert.True(t, rec.HasRole(RoleArc))
	assert.True(t, rec.HasRole(RoleTilt))
	assert.False(t, rec.HasRole(RoleBias))
	assert.InDelta(t, 30.0, rec.Exptime, 1e-9)
}

func TestParseTable_Strict(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{
			name: "unknown field",
			in: `
setup: A
telescope: shane
frames:
  - file: b1.fits
    frametype: [bias]
    calib_groups: [0]
`,
		},
		{
			name: "unknown role",
			in: `
setup: A
frames:
  - file: b1.fits
    frametype: [superbias]
    calib_groups: [0]
`,
		},
		{
			name: "no groups",
			in: `
setup: A
frames:
  - file: b1.fits
    frametype: [bias]
    calib_groups: []
`,
		},
		{
			name: "negative group",
			in: `
setup: A
frames:
  - file: b1.fits
    frametype: [bias]
    calib_groups: [-1]
`,
		},
		{
			name: "missing setup",
			in: `
frames:
  - file: b1.fits
    frametype: [bias]
    calib_groups: [0]
`,
		},
		{
			name: "no frames",
			in: `
setup: A
frames: []
`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tc.in))
			assert.Error(t, err)
		})
	}
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "night1.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleTable), 0o644))

	tab, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "kast_blue_night1", tab.Name)

	_, err = LoadTable(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTable_NameDefaultsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "night2.yaml")
	unnamed := `
setup: B
frames:
  - file: b1.fits
    frametype: [bias]
    calib_groups: [0]
`
	require.NoError(t, os.WriteFile(path, []byte(unnamed), 0o644))

	tab, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "night2", tab.Name)
}

func TestFindFrames(t *testing.T) {
	tab, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, tab.FindFrames(RoleBias, 0))
	assert.Equal(t, []int{1}, tab.FindFrames(RoleBias, 1))
	assert.Equal(t, []int{2}, tab.FindFrames(RoleArc, 0))
	assert.Equal(t, []int{2}, tab.FindFrames(RoleTilt, 0))
	assert.Equal(t, []int{3}, tab.FindFrames(RoleTrace, 0))
	assert.Empty(t, tab.FindFrames(RoleArc, 1))
	assert.Empty(t, tab.FindFrames(RoleDark, 0))
}

func TestFramePaths(t *testing.T) {
	tab, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	paths := tab.FramePaths([]int{0, 2})
	assert.Equal(t, []string{
		filepath.Join("/data/raw", "b1.fits"),
		filepath.Join("/data/raw", "arc1.fits"),
	}, paths)

	// Out-of-range indices are dropped, not errors.
	assert.Len(t, tab.FramePaths([]int{0, 99}), 1)
	assert.Equal(t, "", tab.FramePath(-1))
}

func TestGroups(t *testing.T) {
	tab, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, tab.Groups(1))
	assert.Equal(t, "0,1", tab.GroupString(1))
	assert.Equal(t, "0", tab.GroupString(0))
	assert.Equal(t, []int{0, 1}, tab.GroupIDs())

	// Returned group slice is a copy.
	g := tab.Groups(1)
	g[0] = 99
	assert.Equal(t, []int{0, 1}, tab.Groups(1))
}

func TestTableMasterKey(t *testing.T) {
	tab, err := ParseTable([]byte(sampleTable))
	require.NoError(t, err)

	key, err := tab.MasterKey(1, 1)
	require.NoError(t, err)
	assert.Equal(t, "A_0_01", key)

	_, err = tab.MasterKey(99, 1)
	assert.Error(t, err)
}
