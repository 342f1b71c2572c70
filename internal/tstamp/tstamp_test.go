package tstamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTime(t *testing.T) {
	ts := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	now := FromTime(ts)
	assert.Equal(t, ts.Unix(), now.Epoch)
	assert.Equal(t, "20240615103000", now.Compact)
	assert.True(t, ts.Equal(now.Time))
}

func TestParse_ISO8601Basic(t *testing.T) {
	got, err := Parse("2024-06-15T10:30:00Z", Options{Now: time.Now(), UTC: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC), got)
}

func TestParse_CompactDigitsOnly(t *testing.T) {
	got, err := Parse("20240615103000", Options{Now: time.Now(), Aware: AwareUTC, UTC: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC), got)
}

func TestParse_DateOnly(t *testing.T) {
	got, err := Parse("20240615", Options{Now: time.Now(), Aware: AwareUTC, UTC: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), got)
}

func TestParse_EpochPrefixed(t *testing.T) {
	got, err := Parse("u1718447400", Options{Now: time.Now(), UTC: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1718447400), got.Unix())
}

func TestParse_RelativeDelta(t *testing.T) {
	ref := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	got, err := Parse("3 days 2 hours", Options{Now: ref, UTC: true})
	require.NoError(t, err)
	assert.Equal(t, ref.Add(-3*24*time.Hour-2*time.Hour), got)
}

func TestParse_RelativeDeltaSingleUnit(t *testing.T) {
	ref := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	got, err := Parse("30 minutes", Options{Now: ref, UTC: true})
	require.NoError(t, err)
	assert.Equal(t, ref.Add(-30*time.Minute), got)
}

func TestParse_TooFewDigitsErrors(t *testing.T) {
	_, err := Parse("2024", Options{Now: time.Now()})
	assert.Error(t, err)
}

func TestParse_TimezoneOffset(t *testing.T) {
	got, err := Parse("2024-06-15T10:30:00+02:00", Options{Now: time.Now(), UTC: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC), got)
}

func TestParseEpoch(t *testing.T) {
	epoch, err := ParseEpoch("2024-06-15T10:30:00Z", time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC).Unix(), epoch)
}
