package calib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlitFlagNames(t *testing.T) {
	assert.Equal(t, "OK", SlitFlag(0).String())
	assert.Equal(t, "BADWAVE", FlagBadWave.String())
	assert.Equal(t, "BADTILT|BADWAVE", (FlagBadWave | FlagBadTilt).String())

	f, err := ParseFlag("SHORTSLIT")
	require.NoError(t, err)
	assert.Equal(t, FlagShortSlit, f)

	_, err = ParseFlag("BOGUS")
	assert.Error(t, err)
}

func TestMergeMaskAccumulates(t *testing.T) {
	s := &SlitSet{NSlits: 3, Mask: ZeroMask(3)}

	require.NoError(t, MergeMask(s, MaskVec{FlagBadWave, 0, 0}))
	require.NoError(t, MergeMask(s, MaskVec{0, FlagBadTilt, 0}))

	assert.Equal(t, MaskVec{FlagBadWave, FlagBadTilt, 0}, s.Mask)
}

func TestMergeMaskOrderIndependent(t *testing.T) {
	a := MaskVec{FlagBadWave, 0, FlagShortSlit}
	b := MaskVec{FlagBadTilt, FlagBadTilt, FlagShortSlit}

	s1 := &SlitSet{NSlits: 3, Mask: ZeroMask(3)}
	require.NoError(t, MergeMask(s1, a))
	require.NoError(t, MergeMask(s1, b))

	s2 := &SlitSet{NSlits: 3, Mask: ZeroMask(3)}
	require.NoError(t, MergeMask(s2, b))
	require.NoError(t, MergeMask(s2, a))

	assert.Equal(t, s1.Mask, s2.Mask)
	assert.True(t, s1.Mask.Covers(a))
	assert.True(t, s1.Mask.Covers(b))
}

func TestMergeMaskIdempotent(t *testing.T) {
	s := &SlitSet{NSlits: 2, Mask: ZeroMask(2)}
	contrib := MaskVec{FlagBadWave, FlagUserIgnore}

	require.NoError(t, MergeMask(s, contrib))
	before := s.Mask.Clone()
	require.NoError(t, MergeMask(s, contrib))
	assert.Equal(t, before, s.Mask)
}

func TestMergeMaskValidation(t *testing.T) {
	assert.Error(t, MergeMask(nil, MaskVec{0}))

	s := &SlitSet{NSlits: 2, Mask: ZeroMask(2)}
	assert.Error(t, MergeMask(s, MaskVec{0, 0, 0}))

	// Empty contributions are no-ops, not errors.
	require.NoError(t, MergeMask(s, nil))

	// A slit set with a stale mask length is healed before merging.
	stale := &SlitSet{NSlits: 2}
	require.NoError(t, MergeMask(stale, MaskVec{FlagBadWave, 0}))
	assert.Equal(t, MaskVec{FlagBadWave, 0}, stale.Mask)
}

func TestMaskVecCountSet(t *testing.T) {
	assert.Equal(t, 0, ZeroMask(3).CountSet())
	assert.Equal(t, 2, MaskVec{FlagBadWave, 0, FlagBadTilt | FlagBadWave}.CountSet())
}

func TestMaskVecCovers(t *testing.T) {
	m := MaskVec{FlagBadWave | FlagBadTilt, 0}
	assert.True(t, m.Covers(MaskVec{FlagBadWave, 0}))
	assert.False(t, m.Covers(MaskVec{FlagUserIgnore, 0}))
	assert.False(t, m.Covers(MaskVec{0}))
}

func TestMaskVecCloneIndependent(t *testing.T) {
	m := MaskVec{FlagBadWave}
	c := m.Clone()
	c[0] = 0
	assert.Equal(t, MaskVec{FlagBadWave}, m)
}
