package pathcodec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApathToRpath_SimpleExtension(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	rpath := ApathToRpath("photos/a.jpg", ts, FlagNone)
	assert.Equal(t, "photos/a.20240304050607.jpg", rpath)
}

func TestApathToRpath_Flags(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "a.20240304050607D.txt", ApathToRpath("a.txt", ts, FlagDelete))
	assert.Equal(t, "a.20240304050607R.txt", ApathToRpath("a.txt", ts, FlagRef))
}

func TestApathToRpath_CompoundExtension(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive.20240101000000.tar.gz", ApathToRpath("archive.tar.gz", ts, FlagNone))
}

func TestApathToRpath_NoExtension(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "README.20240101000000", ApathToRpath("README", ts, FlagNone))
}

func TestApathToRpath_DotfileKeepsLeadingDot(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ".bashrc.20240101000000", ApathToRpath(".bashrc", ts, FlagNone))
}

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"photos/a.jpg",
		"archive.tar.gz",
		"README",
		".bashrc",
		"nested/dir/report.2024.q1.csv",
	}
	ts := time.Date(2023, 11, 2, 13, 14, 15, 0, time.UTC)
	for _, apath := range cases {
		rpath := ApathToRpath(apath, ts, FlagNone)
		gotApath, gotTs, gotFlag, err := RpathToApath(rpath)
		require.NoError(t, err, apath)
		assert.Equal(t, apath, gotApath)
		assert.Equal(t, FlagNone, gotFlag)
		assert.True(t, ts.Equal(gotTs))
	}
}

func TestRpathToApath_PicksRightmostTimestamp(t *testing.T) {
	// a filename that itself looks like it contains a timestamp segment
	// followed by the real embedded one must resolve to the rightmost.
	apath, ts, flag, err := RpathToApath("report.20200101000000.20240304050607.csv")
	require.NoError(t, err)
	assert.Equal(t, "report.20200101000000.csv", apath)
	assert.Equal(t, FlagNone, flag)
	assert.Equal(t, 2024, ts.Year())
}

func TestRpathToApath_DeleteFlag(t *testing.T) {
	apath, _, flag, err := RpathToApath("gone.20240304050607D.txt")
	require.NoError(t, err)
	assert.Equal(t, "gone.txt", apath)
	assert.Equal(t, FlagDelete, flag)
}

func TestRpathToApath_NoTimestamp(t *testing.T) {
	_, _, _, err := RpathToApath("just-a-file.txt")
	assert.ErrorIs(t, err, ErrNoTimestampInName)
}
