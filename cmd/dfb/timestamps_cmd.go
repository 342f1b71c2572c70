package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var timestampsCmd = &cobra.Command{
	Use:   "timestamps",
	Short: "Summarize every run recorded in the snapshot history",
	Args:  cobra.NoArgs,
	RunE:  runTimestamps,
}

func runTimestamps(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, closeApp, err := newAppContext(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	summaries, err := app.DB.Timestamps(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%-20s %8s %8s %8s %12s\n", "time", "total", "deleted", "moved", "size")
	for _, s := range summaries {
		ts := time.Unix(s.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
		fmt.Printf("%-20s %8d %8d %8d %12s\n", ts, s.Total, s.Deleted, s.Moved, humanize.Bytes(uint64(s.Size)))
	}
	return nil
}
