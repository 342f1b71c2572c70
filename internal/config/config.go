// Package config loads and validates the TOML configuration that
// describes one source/destination pair and its run-time policy
// (spec.md §4 ambient AMBIENT STACK / DOMAIN STACK sections). Grounded
// on original_source/dfb/configuration.py (the Config class and its
// TEMPLATE), adapted from an exec'd Python template to a declarative
// TOML file decoded with BurntSushi/toml, with mitchellh/mapstructure
// applying --override key=value pairs on top (mirroring the original's
// override_txt mechanism without re-exposing arbitrary code execution).
package config

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/jwink3101/dfb-go/internal/dfberr"
)

// Config is the fully resolved configuration for one backup/restore run.
type Config struct {
	Src string `toml:"src" mapstructure:"src"`
	Dst string `toml:"dst" mapstructure:"dst"`

	FilterFlags []string `toml:"filter_flags" mapstructure:"filter_flags"`

	Compare      string `toml:"compare" mapstructure:"compare"`
	DstCompare   string `toml:"dst_compare" mapstructure:"dst_compare"`
	Renames      string `toml:"renames" mapstructure:"renames"`
	DstRenames   string `toml:"dst_renames" mapstructure:"dst_renames"`
	RenameMethod string `toml:"rename_method" mapstructure:"rename_method"`
	MinRenameSize string `toml:"min_rename_size" mapstructure:"min_rename_size"`
	minRenameSizeBytes int64

	BackendFlags     []string          `toml:"backend_flags" mapstructure:"backend_flags"`
	BackendEnv       map[string]string `toml:"backend_env" mapstructure:"backend_env"`
	DstListFlags     []string          `toml:"dst_list_flags" mapstructure:"dst_list_flags"`
	BackendExe       string            `toml:"backend_exe" mapstructure:"backend_exe"`

	Concurrency int     `toml:"concurrency" mapstructure:"concurrency"`
	Dt          float64 `toml:"dt" mapstructure:"dt"`

	GetModtime         string   `toml:"get_modtime" mapstructure:"get_modtime"`
	ErrorOnMissingHash bool     `toml:"error_on_missing_hash" mapstructure:"error_on_missing_hash"`
	HashType           []string `toml:"hash_type" mapstructure:"hash_type"`
	GetHashes          bool     `toml:"get_hashes" mapstructure:"get_hashes"`
	Metadata           bool     `toml:"metadata" mapstructure:"metadata"`

	LogDest []string `toml:"log_dest" mapstructure:"log_dest"`

	ConfigID              string `toml:"config_id" mapstructure:"config_id"`
	DBCacheDir            string `toml:"dbcache_dir" mapstructure:"dbcache_dir"`
	EmptyDirectoryMarkers bool   `toml:"empty_directory_markers" mapstructure:"empty_directory_markers"`

	DisablePrune   bool `toml:"disable_prune" mapstructure:"disable_prune"`
	DisableRefresh bool `toml:"disable_refresh" mapstructure:"disable_refresh"`

	PreShell         string `toml:"pre_shell" mapstructure:"pre_shell"`
	PostShell        string `toml:"post_shell" mapstructure:"post_shell"`
	StopOnShellError bool   `toml:"stop_on_shell_error" mapstructure:"stop_on_shell_error"`
	FailShell        string `toml:"fail_shell" mapstructure:"fail_shell"`

	UUID string `toml:"uuid" mapstructure:"uuid"`

	// ConfigPath is the absolute path this Config was loaded from. Not
	// part of the TOML document itself.
	ConfigPath string `toml:"-" mapstructure:"-"`
}

// Defaults returns a Config with every field set to the same defaults
// as the original TEMPLATE.
func Defaults() Config {
	return Config{
		Compare:      "auto",
		DstCompare:   "",
		Renames:      "auto",
		DstRenames:   "",
		RenameMethod: "reference",
		MinRenameSize: "0",
		BackendExe:   "rclone",
		Concurrency:  runtime.NumCPU(),
		Dt:           1.0,
		GetModtime:   "auto",
		GetHashes:    false,
		Metadata:     true,
		UUID:         uuid.NewString(),
	}
}

// Load reads a TOML config file at path, applies Defaults for any
// unset field, merges override key/value pairs, and validates the
// result.
func Load(path string, overrides map[string]any) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, dfberr.Config(fmt.Errorf("resolve config path %q: %w", path, err))
	}

	cfg := Defaults()
	if _, err := toml.DecodeFile(abs, &cfg); err != nil {
		return nil, dfberr.Config(fmt.Errorf("decode %q: %w", abs, err))
	}
	cfg.ConfigPath = abs

	if len(overrides) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			TagName:          "mapstructure",
		})
		if err != nil {
			return nil, dfberr.Config(fmt.Errorf("build override decoder: %w", err))
		}
		if err := dec.Decode(overrides); err != nil {
			return nil, dfberr.Config(fmt.Errorf("apply overrides: %w", err))
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var allowedCompare = map[string]bool{"mtime": true, "size": true, "hash": true, "auto": true}
var allowedRenames = map[string]bool{"mtime": true, "size": true, "hash": true, "auto": true, "": true, "false": true}
var allowedRenameMethod = map[string]bool{"reference": true, "copy": true, "": true, "false": true}
var allowedModtime = map[string]bool{"true": true, "false": true, "auto": true}

func (c *Config) validate() error {
	if c.Src == "" {
		return dfberr.Config(fmt.Errorf("must specify 'src'"))
	}
	if c.Dst == "" {
		return dfberr.Config(fmt.Errorf("must specify 'dst'"))
	}
	if !allowedCompare[c.Compare] {
		return dfberr.Config(fmt.Errorf("invalid 'compare': %q", c.Compare))
	}
	if c.DstCompare != "" && !allowedCompare[c.DstCompare] {
		return dfberr.Config(fmt.Errorf("invalid 'dst_compare': %q", c.DstCompare))
	}
	if !allowedRenames[c.Renames] {
		return dfberr.Config(fmt.Errorf("invalid 'renames': %q", c.Renames))
	}
	if !allowedRenames[c.DstRenames] {
		return dfberr.Config(fmt.Errorf("invalid 'dst_renames': %q", c.DstRenames))
	}
	if !allowedRenameMethod[c.RenameMethod] {
		return dfberr.Config(fmt.Errorf("invalid 'rename_method': %q", c.RenameMethod))
	}
	if !allowedModtime[c.GetModtime] {
		return dfberr.Config(fmt.Errorf("invalid 'get_modtime': %q", c.GetModtime))
	}

	// dst_compare/dst_renames default to their src-to-src counterpart
	// when unset, matching the original "or" fallback.
	if c.DstCompare == "" {
		c.DstCompare = c.Compare
	}
	if c.DstRenames == "" {
		c.DstRenames = c.Renames
	}

	n, err := parseBytes(c.MinRenameSize)
	if err != nil {
		return dfberr.Config(fmt.Errorf("invalid 'min_rename_size' %q: %w", c.MinRenameSize, err))
	}
	c.minRenameSizeBytes = n

	if c.ConfigID == "" {
		c.ConfigID = fmt.Sprintf("%s-%s", c.Src, c.Dst)
	}
	c.ConfigID = cleanConfigID(c.ConfigID)

	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}

	return nil
}

// MinRenameSizeBytes returns the resolved byte threshold below which a
// rename is not tracked.
func (c *Config) MinRenameSizeBytes() int64 { return c.minRenameSizeBytes }

// cleanConfigID mirrors clean_config_id: restrict to a safe alphabet and
// collapse overly long IDs with an md5 digest, so it is always safe to
// use as a filename component.
func cleanConfigID(id string) string {
	const allowed = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-[]"
	var b strings.Builder
	for _, r := range id {
		if strings.ContainsRune(allowed, r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('=')
		}
	}
	cleaned := b.String()
	if len(cleaned) <= 40 {
		return cleaned
	}
	sum := md5.Sum([]byte(cleaned))
	digest := base64.URLEncoding.EncodeToString(sum[:])
	return fmt.Sprintf("%s.%s.%s", cleaned[:20], digest[:8], cleaned[len(cleaned)-20:])
}

var byteSuffixes = []struct {
	suffix string
	mult   float64
}{
	{"kib", 1024}, {"mib", 1024 * 1024}, {"gib", 1024 * 1024 * 1024}, {"tib", 1024 * 1024 * 1024 * 1024},
	{"kb", 1000}, {"mb", 1000 * 1000}, {"gb", 1000 * 1000 * 1000}, {"tb", 1000 * 1000 * 1000 * 1000},
	{"k", 1024}, {"m", 1024 * 1024}, {"g", 1024 * 1024 * 1024}, {"b", 1},
}

// parseBytes accepts a bare integer or a size with a binary/decimal
// suffix ("2 KiB", "10MB", "15"), mirroring utils.parse_bytes.
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	lower := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for _, suf := range byteSuffixes {
		if strings.HasSuffix(lower, suf.suffix) {
			numPart := strings.TrimSuffix(lower, suf.suffix)
			f, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("cannot parse numeric portion of %q", s)
			}
			return int64(math.Round(f * suf.mult)), nil
		}
	}
	return 0, fmt.Errorf("unrecognized byte size %q", s)
}

// WriteTemplate writes a fresh, commented TOML config skeleton to path,
// with a random UUID filled into its uuid field (nothing reads that
// field; the snapshot DB file is named from ConfigID). It refuses to
// overwrite an existing file unless force is set.
func WriteTemplate(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return dfberr.Config(fmt.Errorf("%q already exists; use --force to overwrite", path))
	}
	txt := strings.ReplaceAll(templateTOML, "__UUID4__", uuid.NewString())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dfberr.Config(fmt.Errorf("create config dir: %w", err))
	}
	if err := os.WriteFile(path, []byte(txt), 0o644); err != nil {
		return dfberr.Config(fmt.Errorf("write %q: %w", path, err))
	}
	return nil
}

const templateTOML = `# dfb config file.
# All local paths should be absolute.

src = "<<MUST SPECIFY>>"
dst = "<<MUST SPECIFY>>"

filter_flags = []

# src-to-src comparison to determine changes: "size", "mtime", "hash", "auto"
compare = "auto"
# src-to-dst comparison; empty string uses 'compare'
dst_compare = ""
# rename tracking src-to-src: "size", "mtime", "hash", "auto", "false"
renames = "auto"
dst_renames = ""
rename_method = "reference"
min_rename_size = "0"

backend_flags = []
backend_env = {}
dst_list_flags = []
backend_exe = "rclone"

concurrency = 0
dt = 1.0

get_modtime = "auto"
error_on_missing_hash = false
hash_type = []
get_hashes = false
metadata = true

log_dest = []

config_id = ""
dbcache_dir = ""
empty_directory_markers = false

disable_prune = false
disable_refresh = false

pre_shell = ""
post_shell = ""
stop_on_shell_error = false
fail_shell = ""

uuid = "__UUID4__"
`
