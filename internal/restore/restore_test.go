package restore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/dstdb"
)

func openDB(t *testing.T) *dstdb.DB {
	t.Helper()
	db, err := dstdb.Open(context.Background(), filepath.Join(t.TempDir(), "dfb.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPlanDir_RestoresEveryFileUnderSubdir(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "sub/a.1.txt", APath: "sub/a.txt", Timestamp: 100, Size: 10, HasSize: true}))
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "sub/b.1.txt", APath: "sub/b.txt", Timestamp: 100, Size: 20, HasSize: true}))
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "other.1.txt", APath: "other.txt", Timestamp: 100, Size: 30, HasSize: true}))

	transfers, err := PlanDir(ctx, db, "sub", "/restore", 0, false)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.EqualValues(t, 30, TotalSize(transfers))
	for _, tr := range transfers {
		assert.Equal(t, filepath.Join("/restore", tr.APath), tr.Dest)
	}
}

func TestPlanDir_NotFound(t *testing.T) {
	db := openDB(t)
	_, err := PlanDir(context.Background(), db, "nope", "/restore", 0, false)
	var notFound *ErrSourceNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestPlanFile_DefaultsToBasenameUnderDestDir(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "sub/a.1.txt", APath: "sub/a.txt", Timestamp: 100, Size: 5, HasSize: true}))

	transfers, err := PlanFile(ctx, db, "sub/a.txt", "/restore", 0, false, false)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "/restore/a.txt", transfers[0].Dest)
}

func TestPlanFile_ExactDestination(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "sub/a.1.txt", APath: "sub/a.txt", Timestamp: 100, Size: 5, HasSize: true}))

	transfers, err := PlanFile(ctx, db, "sub/a.txt", "-", 0, false, true)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "-", transfers[0].Dest)
}

func TestPlanFile_RespectsAtCutoff(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "a.1.txt", APath: "a.txt", Timestamp: 100, Size: 5, HasSize: true}))
	require.NoError(t, db.Insert(ctx, dstdb.Item{RPath: "a.2.txt", APath: "a.txt", Timestamp: 300, Size: 50, HasSize: true}))

	transfers, err := PlanFile(ctx, db, "a.txt", "/restore", 200, true, false)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "a.1.txt", transfers[0].RPath)
}

func TestRun_CopiesEveryTransfer(t *testing.T) {
	be := backend.NewFakeBackend()
	be.Put("/dst/a.1.txt", []byte("hello"), time.Time{}, nil)

	transfers := []Transfer{{APath: "a.txt", RPath: "a.1.txt", Dest: "/restore/a.txt", Size: 5}}
	results := Run(context.Background(), be, "/dst", transfers, false)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)

	data, err := be.Read(context.Background(), "/restore/a.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
