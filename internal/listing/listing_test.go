package listing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwink3101/dfb-go/internal/backend"
)

func TestList_BasicFiles(t *testing.T) {
	be := backend.NewFakeBackend()
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	be.Put("/src/a.txt", []byte("hello"), mtime, map[string]string{"sha256": "abc"})
	be.Put("/src/sub/b.txt", []byte("world!"), mtime, nil)

	files, err := List(context.Background(), be, "/src", Options{WithModTime: true, WithHashes: true})
	require.NoError(t, err)
	require.Len(t, files, 2)

	byApath := ByAPath(files)
	a, ok := byApath["a.txt"]
	require.True(t, ok)
	assert.Equal(t, int64(5), a.Size)
	assert.True(t, a.HasMTime)
	assert.Equal(t, "abc", string(a.Checksum["sha256"]))

	b, ok := byApath["sub/b.txt"]
	require.True(t, ok)
	assert.Equal(t, int64(6), b.Size)
}

func TestList_Subdir(t *testing.T) {
	be := backend.NewFakeBackend()
	be.Put("/src/photos/2024/a.jpg", []byte("x"), time.Time{}, nil)

	files, err := List(context.Background(), be, "/src", Options{Subdir: "photos/2024"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "photos/2024/a.jpg", files[0].APath)
}

func TestList_RcloneLinkSkipped(t *testing.T) {
	be := backend.NewFakeBackend()
	be.Put("/src/a.txt", []byte("x"), time.Time{}, nil)
	be.Put("/src/link.rclonelink", []byte("/somewhere"), time.Time{}, nil)

	files, err := List(context.Background(), be, "/src", Options{Links: LinkSkip})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].APath)
}

func TestList_RcloneLinkCopiedAsPlainFileByDefault(t *testing.T) {
	be := backend.NewFakeBackend()
	be.Put("/src/link.rclonelink", []byte("/somewhere"), time.Time{}, nil)

	files, err := List(context.Background(), be, "/src", Options{Links: LinkCopy})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Nil(t, files[0].LinkData)
}
