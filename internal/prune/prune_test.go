package prune

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwink3101/dfb-go/internal/dstdb"
)

func TestPlan_OldVersionBeforeCutoffIsPrunable(t *testing.T) {
	groups := []dstdb.Group{
		{APath: "a.txt", Items: []dstdb.Item{
			{RPath: "a.1.txt", Timestamp: 100, Size: 10, HasSize: true},
			{RPath: "a.2.txt", Timestamp: 200, Size: 20, HasSize: true},
			{RPath: "a.3.txt", Timestamp: 300, Size: 30, HasSize: true},
		}},
	}
	candidates := Plan(groups, 250, "")
	if assert.Len(t, candidates, 1) {
		assert.Equal(t, "a.1.txt", candidates[0].RPath)
		assert.EqualValues(t, 10, candidates[0].Size)
	}
}

func TestPlan_FileCreatedAfterCutoffIsUntouched(t *testing.T) {
	groups := []dstdb.Group{
		{APath: "b.txt", Items: []dstdb.Item{
			{RPath: "b.1.txt", Timestamp: 400, Size: 5, HasSize: true},
		}},
	}
	candidates := Plan(groups, 250, "")
	assert.Empty(t, candidates)
}

func TestPlan_OldVersionBeforeADeleteMarkerIsPrunable(t *testing.T) {
	groups := []dstdb.Group{
		{APath: "c.txt", Items: []dstdb.Item{
			{RPath: "c.1.txt", Timestamp: 100, Size: 50, HasSize: true},
			{RPath: "c.2.del", Timestamp: 200, Size: -1, HasSize: true},
		}},
	}
	candidates := Plan(groups, 300, "")
	if assert.Len(t, candidates, 1) {
		assert.Equal(t, "c.1.txt", candidates[0].RPath)
	}
}

func TestPlan_ReferencedRPathIsNeverPruned(t *testing.T) {
	groups := []dstdb.Group{
		{APath: "orig.txt", Items: []dstdb.Item{
			{RPath: "orig.bin.ts1", Timestamp: 100, Size: 50, HasSize: true},
			{RPath: "orig.del", Timestamp: 700, Size: -1, HasSize: true},
		}},
		{APath: "ref.txt", Items: []dstdb.Item{
			{RPath: "orig.bin.ts1", Timestamp: 900, Size: 50, HasSize: true, IsRef: 1},
		}},
	}
	candidates := Plan(groups, 750, "")
	assert.Empty(t, candidates)
}

func TestPlan_SubdirFilter(t *testing.T) {
	groups := []dstdb.Group{
		{APath: "a/x.txt", Items: []dstdb.Item{
			{RPath: "a/x.1.txt", Timestamp: 100, Size: 10, HasSize: true},
			{RPath: "a/x.2.txt", Timestamp: 900, Size: 10, HasSize: true},
		}},
		{APath: "b/y.txt", Items: []dstdb.Item{
			{RPath: "b/y.1.txt", Timestamp: 100, Size: 10, HasSize: true},
			{RPath: "b/y.2.txt", Timestamp: 900, Size: 10, HasSize: true},
		}},
	}
	candidates := Plan(groups, 500, "a")
	if assert.Len(t, candidates, 1) {
		assert.Equal(t, "a/x.1.txt", candidates[0].RPath)
	}
}

func TestTotalSize_IgnoresDeleteMarkers(t *testing.T) {
	candidates := []Candidate{
		{RPath: "a", Size: 10},
		{RPath: "b", Size: -1},
		{RPath: "c", Size: 20},
	}
	assert.EqualValues(t, 30, TotalSize(candidates))
}
