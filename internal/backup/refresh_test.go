package backup

import (
	"context"
	"encoding/json"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwink3101/dfb-go/internal/pathcodec"
)

func TestRefresh_PlainAndDeleteMarker(t *testing.T) {
	b, be := newBackup(t, baseCfg)

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rpath := pathcodec.ApathToRpath("a.txt", ts, pathcodec.FlagNone)
	be.Put(path.Join("/dst", rpath), []byte("hello"), time.Time{}, nil)

	delTs := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	delRPath := pathcodec.ApathToRpath("gone.txt", delTs, pathcodec.FlagDelete)
	be.Put(path.Join("/dst", delRPath), []byte("DEL"), time.Time{}, nil)

	ctx := context.Background()
	require.NoError(t, b.Refresh(ctx))

	live, ok, err := b.DB.ByRPath(ctx, rpath)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a.txt", live.APath)

	versions, err := b.DB.FileVersions(ctx, "a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.False(t, versions[0].IsDeleted())
	assert.EqualValues(t, 5, versions[0].Size)

	delVersions, err := b.DB.FileVersions(ctx, "gone.txt")
	require.NoError(t, err)
	require.Len(t, delVersions, 1)
	assert.True(t, delVersions[0].IsDeleted())
}

func TestRefresh_ResolvesReferenceSidecar(t *testing.T) {
	b, be := newBackup(t, baseCfg)

	targetTs := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	targetRPath := pathcodec.ApathToRpath("photo.jpg", targetTs, pathcodec.FlagNone)
	be.Put(path.Join("/dst", targetRPath), []byte("binarydata"), time.Time{}, nil)

	refTs := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	refRPath := pathcodec.ApathToRpath("renamed.jpg", refTs, pathcodec.FlagRef)
	rel, err := filepathRelSlash(path.Dir(refRPath), targetRPath)
	require.NoError(t, err)
	body, err := json.Marshal(sidecarBody{Ver: 2, Rel: rel})
	require.NoError(t, err)
	be.Put(path.Join("/dst", refRPath), body, time.Time{}, nil)

	ctx := context.Background()
	require.NoError(t, b.Refresh(ctx))

	versions, err := b.DB.FileVersions(ctx, "renamed.jpg")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].IsRef)
	assert.Equal(t, targetRPath, versions[0].RPath)
	assert.EqualValues(t, 10, versions[0].Size)
}

func TestRefresh_MissingReferenceTargetSynthesizesDeleteMarker(t *testing.T) {
	b, be := newBackup(t, baseCfg)

	refTs := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	refRPath := pathcodec.ApathToRpath("orphan.jpg", refTs, pathcodec.FlagRef)
	body, err := json.Marshal(sidecarBody{Ver: 2, Rel: "nonexistent.jpg.20240101000000"})
	require.NoError(t, err)
	be.Put(path.Join("/dst", refRPath), body, time.Time{}, nil)

	ctx := context.Background()
	require.NoError(t, b.Refresh(ctx))

	versions, err := b.DB.FileVersions(ctx, "orphan.jpg")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.True(t, versions[0].IsDeleted())
	assert.Equal(t, 0, versions[0].IsRef)
}
