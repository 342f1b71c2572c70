package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwink3101/dfb-go/internal/dstdb"
)

var (
	snapshotAt       string
	snapshotDeleted  bool
	snapshotOutput   string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [subdir]",
	Short: "Dump the current (or point-in-time) destination state as JSONL",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotAt, "at", "", "snapshot as of this time (default: now)")
	snapshotCmd.Flags().BoolVarP(&snapshotDeleted, "del", "d", false, "include delete markers instead of excluding them")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "", "write to this file instead of stdout")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, closeApp, err := newAppContext(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	opts := dstdb.SnapshotOpts{RemoveDelete: !snapshotDeleted}
	if len(args) == 1 {
		opts.Path = args[0]
	}
	if at, hasAt, err := parseAt(snapshotAt); err != nil {
		return err
	} else if hasAt {
		opts.Before, opts.HasBefore = at, true
	}

	items, err := app.DB.Snapshot(ctx, opts)
	if err != nil {
		return err
	}

	out := os.Stdout
	if snapshotOutput != "" {
		f, err := os.Create(snapshotOutput)
		if err != nil {
			return fmt.Errorf("snapshot: create %q: %w", snapshotOutput, err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}
