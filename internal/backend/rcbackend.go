package backend

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jwink3101/dfb-go/internal/dfberr"
)

// DelEnv, set as a value in Env, removes that key from the spawned
// process's environment rather than setting it.
const DelEnv = "**DELENV**"

// RCConfig configures an RCBackend.
type RCConfig struct {
	// Exe is the control-process executable (e.g. "rclone").
	Exe string
	// ServeFlags are extra flags passed when launching the server.
	ServeFlags []string
	// Env is merged over the parent process's environment. A value of
	// DelEnv removes that key.
	Env map[string]string

	StartTimeout time.Duration
}

// RCBackend implements Backend by spawning a local control-plane
// process (e.g. "rclone rcd") and driving it over HTTP with basic
// auth, grounded on original_source/dfb/rclonerc.py's RC class.
type RCBackend struct {
	cfg  RCConfig
	addr string
	user string
	pass string

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool

	client *http.Client
}

// NewRCBackend constructs an RCBackend. Start must be called before
// use.
func NewRCBackend(cfg RCConfig) *RCBackend {
	if cfg.Exe == "" {
		cfg.Exe = "rclone"
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	return &RCBackend{
		cfg:    cfg,
		user:   randHex(8),
		pass:   randHex(8),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// randomLoopbackPort asks the OS for a free TCP port on loopback.
func randomLoopbackPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Start launches the control process and polls it with bounded
// exponential backoff until it answers rc/noop or StartTimeout elapses.
func (b *RCBackend) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}

	port, err := randomLoopbackPort()
	if err != nil {
		return dfberr.BackendFatal(errors.Wrap(err, "reserve loopback port"))
	}
	b.addr = fmt.Sprintf("127.0.0.1:%d", port)

	args := append([]string{"rcd"}, b.cfg.ServeFlags...)
	args = append(args,
		"--rc-serve",
		"--rc-addr", b.addr,
		"--rc-user", b.user,
		"--rc-pass", b.pass,
		"--rc-server-read-timeout", "100h",
		"--rc-server-write-timeout", "100h",
		"--log-format", "",
	)

	cmd := exec.CommandContext(ctx, b.cfg.Exe, args...)
	cmd.Env = mergeEnv(os.Environ(), b.cfg.Env)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return dfberr.BackendFatal(errors.Wrapf(err, "spawn %s", b.cfg.Exe))
	}
	b.cmd = cmd

	if err := b.waitForStart(ctx); err != nil {
		_ = b.stopLocked()
		return dfberr.BackendFatal(err)
	}

	b.started = true
	return nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	m := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range overrides {
		if v == DelEnv {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

// waitForStart polls rc/noop with bounded exponential backoff, capped
// at cfg.StartTimeout.
func (b *RCBackend) waitForStart(ctx context.Context) error {
	deadline := time.Now().Add(b.cfg.StartTimeout)
	delay := 20 * time.Millisecond
	for {
		if err := b.call(ctx, "rc/noop", nil, nil); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("backend control process did not become ready in time")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(float64(delay*2), float64(500*time.Millisecond)))
	}
}

// Stop terminates the control process. Idempotent.
func (b *RCBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopLocked()
}

func (b *RCBackend) stopLocked() error {
	if !b.started || b.cmd == nil || b.cmd.Process == nil {
		b.started = false
		return nil
	}
	_ = b.call(context.Background(), "core/quit", nil, nil)
	_ = b.cmd.Process.Kill()
	_, _ = b.cmd.Process.Wait()
	b.started = false
	return nil
}

func (b *RCBackend) call(ctx context.Context, endpoint string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "encode rc params")
	}
	url := fmt.Sprintf("http://%s/%s", b.addr, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build rc request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(b.user, b.pass)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read rc response")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rc %s: status %d: %s", endpoint, resp.StatusCode, string(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "decode rc response for %s", endpoint)
		}
	}
	return nil
}

func (b *RCBackend) List(ctx context.Context, fs, dir string, opts ListOpts) ([]Entry, error) {
	var resp struct {
		List []struct {
			Path    string            `json:"Path"`
			Size    int64             `json:"Size"`
			ModTime time.Time         `json:"ModTime"`
			IsDir   bool              `json:"IsDir"`
			Hashes  map[string]string `json:"Hashes"`
		} `json:"list"`
	}
	params := map[string]any{
		"fs":     fs,
		"remote": dir,
		"opt": map[string]any{
			"recurse":   opts.Recurse,
			"noModTime": !opts.WithModTime,
			"hashes":    opts.WithHashes,
		},
	}
	if err := b.call(ctx, "operations/list", params, &resp); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(resp.List))
	for _, e := range resp.List {
		out = append(out, Entry{
			Path:    e.Path,
			Size:    e.Size,
			ModTime: e.ModTime,
			IsDir:   e.IsDir,
			Hashes:  e.Hashes,
		})
	}
	return out, nil
}

func (b *RCBackend) Stat(ctx context.Context, p string) (Entry, error) {
	fs, remote := SplitPath(p)
	var resp struct {
		Item struct {
			Path    string            `json:"Path"`
			Size    int64             `json:"Size"`
			ModTime time.Time         `json:"ModTime"`
			IsDir   bool              `json:"IsDir"`
			Hashes  map[string]string `json:"Hashes"`
		} `json:"item"`
	}
	if err := b.call(ctx, "operations/stat", map[string]any{"fs": fs, "remote": remote}, &resp); err != nil {
		return Entry{}, err
	}
	return Entry{
		Path:    resp.Item.Path,
		Size:    resp.Item.Size,
		ModTime: resp.Item.ModTime,
		IsDir:   resp.Item.IsDir,
		Hashes:  resp.Item.Hashes,
	}, nil
}

func (b *RCBackend) Copyfile(ctx context.Context, src, dst string, opts CopyOpts) error {
	srcFs, srcRemote := SplitPath(src)
	dstFs, dstRemote := SplitPath(dst)
	endpoint := "operations/copyfile"
	if opts.Move {
		endpoint = "operations/movefile"
	}
	return b.call(ctx, endpoint, map[string]any{
		"srcFs": srcFs, "srcRemote": srcRemote,
		"dstFs": dstFs, "dstRemote": dstRemote,
	}, nil)
}

func (b *RCBackend) Write(ctx context.Context, dst string, data []byte, opts WriteOpts) error {
	fs, remotePath := SplitPath(dst)
	dir, name := splitDir(remotePath)
	_ = dir
	url := fmt.Sprintf("http://%s/operations/uploadfile?fs=%s&remote=%s", b.addr, fs, remotePath)
	_ = name

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build upload request")
	}
	req.SetBasicAuth(b.user, b.pass)
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload %s: status %d: %s", dst, resp.StatusCode, string(body))
	}
	return nil
}

func splitDir(p string) (dir, name string) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i], p[i+1:]
		}
	}
	return "", p
}

func (b *RCBackend) Read(ctx context.Context, p string, start, end int64) ([]byte, error) {
	fs, remote := SplitPath(p)
	url := fmt.Sprintf("http://%s:%s@%s/[%s]/%s", b.user, b.pass, b.addr, fs, remote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build read request")
	}
	rangeHeader := "bytes=" + strconv.FormatInt(start, 10) + "-"
	if end > 0 {
		rangeHeader += strconv.FormatInt(end, 10)
	}
	req.Header.Set("Range", rangeHeader)
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("not found or range too far: %s", p)
	}
	return io.ReadAll(resp.Body)
}

type rcReader struct {
	ctx    context.Context
	b      *RCBackend
	path   string
	offset int64
	buf    []byte
	eof    bool
}

func (r *rcReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		const chunk = 8 * 1024 * 1024
		data, err := r.b.Read(r.ctx, r.path, r.offset, r.offset+chunk-1)
		if err != nil {
			return 0, err
		}
		if len(data) < chunk {
			r.eof = true
		}
		r.offset += int64(len(data))
		r.buf = data
		if len(data) == 0 {
			return 0, io.EOF
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *rcReader) Close() error { return nil }

func (b *RCBackend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	return &rcReader{ctx: ctx, b: b, path: p}, nil
}

func (b *RCBackend) Delete(ctx context.Context, p string) error {
	fs, remote := SplitPath(p)
	return b.call(ctx, "operations/deletefile", map[string]any{"fs": fs, "remote": remote}, nil)
}

func (b *RCBackend) Features(ctx context.Context, fs string) (Features, error) {
	var resp struct {
		Precision float64         `json:"Precision"`
		Hashes    []string        `json:"Hashes"`
		Features  map[string]bool `json:"Features"`
	}
	if err := b.call(ctx, "operations/fsinfo", map[string]any{"fs": fs}, &resp); err != nil {
		return Features{}, err
	}
	return Features{
		Precision:   time.Duration(resp.Precision),
		SlowModTime: resp.Features["SlowModTime"],
		SlowHash:    resp.Features["SlowHash"],
		HashTypes:   resp.Hashes,
	}, nil
}
