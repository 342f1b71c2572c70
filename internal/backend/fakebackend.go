package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// FakeObject is one file stored in a FakeBackend.
type FakeObject struct {
	Data    []byte
	ModTime time.Time
	Hashes  map[string]string
}

// FakeBackend is an in-memory Backend used by tests in place of a real
// remote-filesystem control process (spec.md §8 end-to-end scenarios
// need a hermetic, deterministic backend).
type FakeBackend struct {
	mu      sync.Mutex
	objects map[string]FakeObject
	feats   Features
}

// NewFakeBackend returns an empty FakeBackend reporting sub-second
// modtime precision and no slow features by default.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		objects: map[string]FakeObject{},
		feats: Features{
			Precision: time.Nanosecond,
			HashTypes: []string{"sha256", "blake3"},
		},
	}
}

func normalize(fs, remote string) string {
	return path.Join(fs, remote)
}

// Put seeds an object directly, bypassing Write/Copyfile — for test
// setup.
func (f *FakeBackend) Put(fullPath string, data []byte, modTime time.Time, hashes map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path.Clean(fullPath)] = FakeObject{Data: append([]byte(nil), data...), ModTime: modTime, Hashes: hashes}
}

// SetFeatures overrides the Features this backend reports.
func (f *FakeBackend) SetFeatures(feats Features) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feats = feats
}

func (f *FakeBackend) Start(ctx context.Context) error { return nil }
func (f *FakeBackend) Stop() error                     { return nil }

func (f *FakeBackend) List(ctx context.Context, fs, dir string, opts ListOpts) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := path.Clean(path.Join(fs, dir))
	var out []Entry
	seen := map[string]bool{}
	for p, obj := range f.objects {
		rel := strings.TrimPrefix(p, prefix)
		if rel == p { // not under prefix
			continue
		}
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			continue
		}
		if !opts.Recurse {
			if idx := strings.IndexByte(rel, '/'); idx >= 0 {
				rel = rel[:idx]
				if seen[rel] {
					continue
				}
				seen[rel] = true
				out = append(out, Entry{Path: rel, IsDir: true})
				continue
			}
		}
		out = append(out, Entry{Path: rel, Size: int64(len(obj.Data)), ModTime: obj.ModTime, Hashes: obj.Hashes})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (f *FakeBackend) Stat(ctx context.Context, p string) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[path.Clean(p)]
	if !ok {
		return Entry{}, fmt.Errorf("fakebackend: not found: %s", p)
	}
	return Entry{Path: p, Size: int64(len(obj.Data)), ModTime: obj.ModTime, Hashes: obj.Hashes}, nil
}

func (f *FakeBackend) Copyfile(ctx context.Context, src, dst string, opts CopyOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[path.Clean(src)]
	if !ok {
		return fmt.Errorf("fakebackend: copy source not found: %s", src)
	}
	f.objects[path.Clean(dst)] = obj
	if opts.Move {
		delete(f.objects, path.Clean(src))
	}
	return nil
}

func (f *FakeBackend) Write(ctx context.Context, dst string, data []byte, opts WriteOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path.Clean(dst)] = FakeObject{Data: append([]byte(nil), data...), ModTime: time.Now().UTC()}
	return nil
}

func (f *FakeBackend) Read(ctx context.Context, p string, start, end int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[path.Clean(p)]
	if !ok {
		return nil, fmt.Errorf("fakebackend: not found: %s", p)
	}
	if end <= 0 || end >= int64(len(obj.Data)) {
		end = int64(len(obj.Data)) - 1
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		return nil, nil
	}
	return obj.Data[start : end+1], nil
}

func (f *FakeBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	data, err := f.Read(ctx, p, 0, -1)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeBackend) Delete(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path.Clean(p))
	return nil
}

func (f *FakeBackend) Features(ctx context.Context, fs string) (Features, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feats, nil
}
