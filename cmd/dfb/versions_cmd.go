package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	versionsRefCount bool
	versionsRealPath bool
)

var versionsCmd = &cobra.Command{
	Use:   "versions <apath>",
	Short: "List every version of one file in the snapshot history",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersions,
}

func init() {
	versionsCmd.Flags().BoolVar(&versionsRefCount, "ref-count", false, "show how many rows share each version's real path (the version itself included)")
	versionsCmd.Flags().BoolVar(&versionsRealPath, "real-path", false, "show the real path alongside each version")
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, closeApp, err := newAppContext(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	items, err := app.DB.FileVersions(ctx, args[0])
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Printf("no versions found for %q\n", args[0])
		return nil
	}

	var refCounts map[string]int
	if versionsRefCount {
		rpaths := make([]string, len(items))
		for i, it := range items {
			rpaths[i] = it.RPath
		}
		refCounts, err = app.DB.CountByRPath(ctx, rpaths)
		if err != nil {
			return err
		}
	}

	for _, it := range items {
		ts := time.Unix(it.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
		line := ts
		if it.IsDeleted() {
			line += " (deleted)"
		} else if it.IsRef == 1 {
			line += " (reference)"
		}
		if versionsRealPath {
			line += " " + it.RPath
		}
		if versionsRefCount {
			line += fmt.Sprintf(" [%d referrers]", refCounts[it.RPath])
		}
		fmt.Println(line)
	}
	return nil
}
