package snapshot

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwink3101/dfb-go/internal/dstdb"
	"github.com/jwink3101/dfb-go/internal/hashset"
)

func TestWriter_WritesOneJSONLinePerItem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	w, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, w.Write(dstdb.Item{
		RPath: "a.1.txt", APath: "a.txt", Timestamp: 100,
		Size: 5, HasSize: true, MTime: 1.5, HasMTime: true,
		Checksum: hashset.Set{hashset.SHA256: "abc"},
	}))
	require.NoError(t, w.Write(dstdb.Item{
		RPath: "b.1.txt", APath: "b.txt", Timestamp: 200,
		Size: -1, HasSize: true,
	}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var rows []map[string]any
	for scanner.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	assert.Equal(t, "a.txt", rows[0]["apath"])
	assert.EqualValues(t, 5, rows[0]["size"])
	assert.Contains(t, rows[0], "checksum")
	assert.Equal(t, "b.txt", rows[1]["apath"])
	assert.EqualValues(t, -1, rows[1]["size"])
}

func TestGzip_RoundTrips(t *testing.T) {
	src := filepath.Join(t.TempDir(), "run.jsonl")
	require.NoError(t, os.WriteFile(src, []byte("{\"a\":1}\n{\"a\":2}\n"), 0o644))

	dst := filepath.Join(t.TempDir(), "run.jsonl.gz")
	require.NoError(t, Gzip(src, dst))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()

	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gr.Close()

	scanner := bufio.NewScanner(gr)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":1}`, lines[0])
}

func TestDestPath(t *testing.T) {
	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, ".dfb/snapshots/2024/03/run-1.gz", DestPath(now, "run-1"))
}
