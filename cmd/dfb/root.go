// Command dfb is a dated, append-only file backup tool: it drives an
// external rclone-style control process to copy new and changed files
// into timestamped real paths, tracking every version in a local
// snapshot database so any past state can be restored, listed, or
// pruned. Grounded on original_source/dfb/__main__.py's command
// surface, in the cobra/color/progressbar/promptui idiom of the
// teacher's main.go/ui.go.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/config"
	"github.com/jwink3101/dfb-go/internal/dfberr"
	"github.com/jwink3101/dfb-go/internal/dstdb"
	"github.com/jwink3101/dfb-go/internal/tstamp"
)

var (
	flagConfigPath  string
	flagVerbose     bool
	flagQuiet       bool
	flagDryRun      bool
	flagInteractive bool
	flagShellScript string
	flagOverride    []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if e, ok := dfberr.As(err); ok {
			color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error (%s): %v\n", e.Kind, e.Err)
			os.Exit(e.Kind.ExitCode())
		}
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dfb",
	Short: "A dated, append-only file backup tool",
	Long: `dfb copies new and changed files from a source to a destination,
keeping every past version under a timestamped real path, and records
what it did in a local snapshot database so any past state can be
listed, restored, or pruned.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "config.toml", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose (debug) logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "plan the run but make no changes")
	rootCmd.PersistentFlags().BoolVarP(&flagInteractive, "interactive", "i", false, "confirm the action summary before executing")
	rootCmd.PersistentFlags().StringVar(&flagShellScript, "shell-script", "", "write a shell script to this path instead of running (prune: one delete command per real path; backup: only the cd/environment header)")
	rootCmd.PersistentFlags().StringArrayVar(&flagOverride, "override", nil, "override a config key, e.g. --override concurrency=4")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreDirCmd)
	rootCmd.AddCommand(restoreFileCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(timestampsCmd)
	rootCmd.AddCommand(pruneCmd)
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch {
	case flagVerbose:
		log.SetLevel(logrus.DebugLevel)
	case flagQuiet:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// parseOverrides turns "--override key=value" pairs into the
// map[string]any config.Load expects. Any value containing a comma is
// split into a []string, whatever the key.
func parseOverrides(raw []string) (map[string]any, error) {
	out := map[string]any{}
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, dfberr.Usage(fmt.Errorf("invalid --override %q, want key=value", kv))
		}
		key, val := strings.TrimSpace(parts[0]), parts[1]
		if strings.Contains(val, ",") {
			out[key] = strings.Split(val, ",")
			continue
		}
		out[key] = val
	}
	return out, nil
}

// appContext bundles everything a subcommand needs once the config is
// loaded: the config itself, an open snapshot DB, a started backend,
// and a logger. newAppContext also returns a close function that
// callers must call when done.
type appContext struct {
	Cfg *config.Config
	DB  *dstdb.DB
	Be  backend.Backend
	Log *logrus.Logger
}

func newAppContext(ctx context.Context) (*appContext, func(), error) {
	log := newLogger()

	overrides, err := parseOverrides(flagOverride)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(flagConfigPath, overrides)
	if err != nil {
		return nil, nil, err
	}

	dbPath := cfg.DBCacheDir
	if dbPath == "" {
		dbPath = filepath.Join(filepath.Dir(cfg.ConfigPath), "."+cfg.ConfigID+".dfb.db")
	} else {
		dbPath = filepath.Join(dbPath, cfg.ConfigID+".db")
	}
	db, err := dstdb.Open(ctx, dbPath)
	if err != nil {
		return nil, nil, dfberr.BackendFatal(fmt.Errorf("open snapshot db: %w", err))
	}

	be := backend.NewRCBackend(backend.RCConfig{
		Exe:        cfg.BackendExe,
		ServeFlags: cfg.BackendFlags,
		Env:        toBackendEnv(cfg.BackendEnv),
	})
	if err := be.Start(ctx); err != nil {
		db.Close()
		return nil, nil, dfberr.BackendFatal(fmt.Errorf("start backend: %w", err))
	}

	app := &appContext{Cfg: cfg, DB: db, Be: be, Log: log}
	closeFn := func() {
		be.Stop()
		db.Close()
	}
	return app, closeFn, nil
}

func toBackendEnv(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// parseAt parses an --at/--before/--after value, which may be an
// ISO-8601-ish timestamp, a bare epoch integer, or a relative delta
// like "3 days 2 hours" (counted back from now), via internal/tstamp.
func parseAt(s string) (int64, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	now := time.Now()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true, nil
	}
	t, err := tstamp.Parse(s, tstamp.Options{Now: now})
	if err != nil {
		return 0, false, dfberr.Usage(fmt.Errorf("invalid time %q: %w", s, err))
	}
	return t.Unix(), true, nil
}
