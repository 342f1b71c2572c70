package hashset

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute_MultipleTypes(t *testing.T) {
	set, err := Compute(bytes.NewReader([]byte("hello world")), []Type{SHA256, BLAKE3})
	require.NoError(t, err)
	require.Contains(t, set, SHA256)
	require.Contains(t, set, BLAKE3)

	_, err = hex.DecodeString(set[SHA256])
	assert.NoError(t, err, "sha256 digest must be valid hex")
	_, err = hex.DecodeString(set[BLAKE3])
	assert.NoError(t, err, "blake3 digest must be valid hex")
}

func TestCompute_Empty(t *testing.T) {
	set, err := Compute(bytes.NewReader([]byte("x")), nil)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestCommon_PrefersBlake3(t *testing.T) {
	a := Set{SHA256: "aaa", BLAKE3: "bbb"}
	b := Set{SHA256: "aaa", BLAKE3: "ccc"}
	common := Common(a, b)
	require.NotEmpty(t, common)
	assert.Equal(t, BLAKE3, common[0])
}

func TestCommon_NoOverlap(t *testing.T) {
	a := Set{SHA256: "aaa"}
	b := Set{BLAKE3: "bbb"}
	assert.Empty(t, Common(a, b))
}

func TestMatch_EqualAndDiffer(t *testing.T) {
	a := Set{SHA256: "same"}
	b := Set{SHA256: "same"}
	equal, used, err := Match(a, b, false)
	require.NoError(t, err)
	assert.True(t, equal)
	assert.Equal(t, SHA256, used)

	c := Set{SHA256: "different"}
	equal2, _, err := Match(a, c, false)
	require.NoError(t, err)
	assert.False(t, equal2)
}

func TestMatch_NoCommonHash(t *testing.T) {
	a := Set{SHA256: "aaa"}
	b := Set{BLAKE3: "bbb"}

	equal, used, err := Match(a, b, false)
	require.NoError(t, err)
	assert.False(t, equal)
	assert.Empty(t, used)

	_, _, err = Match(a, b, true)
	var noCommon *ErrNoCommonHash
	require.ErrorAs(t, err, &noCommon)
}
