package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwink3101/dfb-go/internal/hashset"
)

func TestEqual_SizeMismatchAlwaysWins(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, MTime: 100, HasMTime: true}
	d := FileInfo{Size: 20, HasSize: true, MTime: 100, HasMTime: true}
	res, err := Equal(s, d, AttribMtime, 1.0, false)
	require.NoError(t, err)
	assert.False(t, res.Equal)
}

func TestEqual_MtimeWithinTolerance(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, MTime: 100.2, HasMTime: true}
	d := FileInfo{Size: 10, HasSize: true, MTime: 100.7, HasMTime: true}
	res, err := Equal(s, d, AttribMtime, 1.0, false)
	require.NoError(t, err)
	assert.True(t, res.Equal)
}

func TestEqual_MtimeOutsideTolerance(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, MTime: 100, HasMTime: true}
	d := FileInfo{Size: 10, HasSize: true, MTime: 102, HasMTime: true}
	res, err := Equal(s, d, AttribMtime, 1.0, false)
	require.NoError(t, err)
	assert.False(t, res.Equal)
}

func TestEqual_MtimeMissingIsNotEqual(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true}
	d := FileInfo{Size: 10, HasSize: true, MTime: 100, HasMTime: true}
	res, err := Equal(s, d, AttribMtime, 1.0, false)
	require.NoError(t, err)
	assert.False(t, res.Equal)
}

func TestEqual_SizeOnly(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, MTime: 1, HasMTime: true}
	d := FileInfo{Size: 10, HasSize: true, MTime: 99999, HasMTime: true}
	res, err := Equal(s, d, AttribSize, 1.0, false)
	require.NoError(t, err)
	assert.True(t, res.Equal)
}

func TestEqual_HashMatchAndMismatch(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.SHA256: "abc"}}
	d := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.SHA256: "abc"}}
	res, err := Equal(s, d, AttribHash, 1.0, false)
	require.NoError(t, err)
	assert.True(t, res.Equal)
	assert.Equal(t, hashset.SHA256, res.UsedHash)

	d2 := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.SHA256: "xyz"}}
	res2, err := Equal(s, d2, AttribHash, 1.0, false)
	require.NoError(t, err)
	assert.False(t, res2.Equal)
}

func TestEqual_HashNoCommonFallsBackToSizeWhenNotStrict(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.SHA256: "abc"}}
	d := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.BLAKE3: "def"}}
	res, err := Equal(s, d, AttribHash, 1.0, false)
	require.NoError(t, err)
	assert.True(t, res.Equal)
}

func TestEqual_HashNoCommonErrorsWhenStrict(t *testing.T) {
	s := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.SHA256: "abc"}}
	d := FileInfo{Size: 10, HasSize: true, Checksum: hashset.Set{hashset.BLAKE3: "def"}}
	_, err := Equal(s, d, AttribHash, 1.0, true)
	require.Error(t, err)
}

func TestEqual_MissingSizeIsNotEqual(t *testing.T) {
	s := FileInfo{}
	d := FileInfo{Size: 0, HasSize: true}
	res, err := Equal(s, d, AttribSize, 1.0, false)
	require.NoError(t, err)
	assert.False(t, res.Equal)
}
