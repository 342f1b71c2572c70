package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/config"
	"github.com/jwink3101/dfb-go/internal/dstdb"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func loadTestConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dfb.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path, nil)
	require.NoError(t, err)
	return cfg
}

func openTestDB(t *testing.T) *dstdb.DB {
	t.Helper()
	db, err := dstdb.Open(context.Background(), filepath.Join(t.TempDir(), "dfb.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newBackup(t *testing.T, cfgBody string) (*Backup, *backend.FakeBackend) {
	t.Helper()
	cfg := loadTestConfig(t, cfgBody)
	db := openTestDB(t)
	be := backend.NewFakeBackend()
	return New(cfg, db, be, testLogger()), be
}

const baseCfg = `
src = "/src"
dst = "/dst"
concurrency = 2
`

func TestBuildPlan_NewFiles(t *testing.T) {
	b, be := newBackup(t, baseCfg)
	be.Put("/src/a.txt", []byte("hello"), time.Now(), nil)
	be.Put("/src/sub/b.txt", []byte("world"), time.Now(), nil)

	plan, err := b.BuildPlan(context.Background(), "", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "sub/b.txt"}, plan.New)
	assert.Empty(t, plan.Modified)
	assert.Empty(t, plan.Deleted)
	assert.Empty(t, plan.Moves)
}

func TestExecute_TransferThenModifyThenDelete(t *testing.T) {
	b, be := newBackup(t, baseCfg)
	be.Put("/src/a.txt", []byte("hello"), time.Now(), nil)

	ctx := context.Background()
	plan, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.txt"}, plan.New)

	now := RunTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	res, err := b.Execute(ctx, plan, ExecOptions{Now: now})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Transfer.Succeeded)
	assert.Zero(t, res.Transfer.Failed)

	items, err := b.DB.Snapshot(ctx, dstdb.SnapshotOpts{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.txt", items[0].APath)
	assert.False(t, items[0].IsDeleted())

	// modify the source file and run a second plan/execute
	be.Put("/src/a.txt", []byte("hello, world, much longer now"), time.Now(), nil)
	plan2, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	assert.Empty(t, plan2.New)
	assert.ElementsMatch(t, []string{"a.txt"}, plan2.Modified)

	now2 := RunTime(time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC))
	res2, err := b.Execute(ctx, plan2, ExecOptions{Now: now2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res2.Transfer.Succeeded)

	// remove the source file entirely: next plan must see a deletion
	require.NoError(t, be.Delete(ctx, "/src/a.txt"))
	plan3, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt"}, plan3.Deleted)

	now3 := RunTime(time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))
	res3, err := b.Execute(ctx, plan3, ExecOptions{Now: now3})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res3.Delete.Succeeded)

	cur, err := b.DB.CurrentTotals(ctx)
	require.NoError(t, err)
	assert.Zero(t, cur.Size)
}

func TestExecute_RenameTrackedAsReference(t *testing.T) {
	cfgBody := baseCfg + "\nrenames = \"size\"\nrename_method = \"reference\"\nmin_rename_size = \"0\"\n"
	b, be := newBackup(t, cfgBody)
	be.Put("/src/orig.bin", make([]byte, 4096), time.Now(), nil)

	ctx := context.Background()
	now1 := RunTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	plan, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	_, err = b.Execute(ctx, plan, ExecOptions{Now: now1})
	require.NoError(t, err)

	// rename on the source side: same content/size, different apath
	require.NoError(t, be.Delete(ctx, "/src/orig.bin"))
	be.Put("/src/renamed.bin", make([]byte, 4096), time.Now(), nil)

	now2 := RunTime(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	plan2, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, plan2.Moves, 1)
	assert.Equal(t, "renamed.bin", plan2.Moves[0].ToSrc.APath)
	assert.Empty(t, plan2.New)

	res2, err := b.Execute(ctx, plan2, ExecOptions{Now: now2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res2.Reference.Succeeded)
	assert.Zero(t, res2.Transfer.Succeeded)
	assert.EqualValues(t, 1, res2.Delete.Succeeded)

	items, err := b.DB.FileVersions(ctx, "renamed.bin")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].IsRef)
	assert.NotEmpty(t, items[0].RefRPath)
}

func TestExecute_RenameByCopy(t *testing.T) {
	cfgBody := baseCfg + "\nrenames = \"size\"\nrename_method = \"copy\"\nmin_rename_size = \"0\"\n"
	b, be := newBackup(t, cfgBody)
	be.Put("/src/orig.bin", make([]byte, 2048), time.Now(), nil)

	ctx := context.Background()
	plan, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	_, err = b.Execute(ctx, plan, ExecOptions{Now: RunTime(time.Now())})
	require.NoError(t, err)

	require.NoError(t, be.Delete(ctx, "/src/orig.bin"))
	be.Put("/src/renamed.bin", make([]byte, 2048), time.Now(), nil)

	plan2, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	require.Len(t, plan2.Moves, 1)

	res2, err := b.Execute(ctx, plan2, ExecOptions{Now: RunTime(time.Now())})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res2.Copy.Succeeded)

	items, err := b.DB.FileVersions(ctx, "renamed.bin")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].IsRef)
}

func TestStatsText(t *testing.T) {
	b, be := newBackup(t, baseCfg)
	be.Put("/src/a.txt", []byte("hello"), time.Now(), nil)

	ctx := context.Background()
	plan, err := b.BuildPlan(ctx, "", false)
	require.NoError(t, err)
	_, err = b.Execute(ctx, plan, ExecOptions{Now: RunTime(time.Now())})
	require.NoError(t, err)

	text, err := b.StatsText(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "current:")
	assert.Contains(t, text, "all-time:")
}
