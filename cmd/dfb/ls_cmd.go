package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jwink3101/dfb-go/internal/dstdb"
)

var (
	lsAt        string
	lsLongCount int
	lsFullPath  bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [subdir]",
	Short: "List files and subdirectories under the destination as of a point in time",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

func init() {
	lsCmd.Flags().StringVar(&lsAt, "at", "", "list as of this time (default: now)")
	lsCmd.Flags().CountVarP(&lsLongCount, "long", "l", "show size/timestamp columns; repeat (-ll) to add versions/tot_size")
	lsCmd.Flags().BoolVar(&lsFullPath, "full-path", false, "show the full apath instead of just the basename")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, closeApp, err := newAppContext(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	subdir := ""
	if len(args) == 1 {
		subdir = args[0]
	}

	opts := dstdb.SnapshotOpts{RemoveDelete: true}
	if at, hasAt, err := parseAt(lsAt); err != nil {
		return err
	} else if hasAt {
		opts.Before, opts.HasBefore = at, true
	}

	dirs, files, err := app.DB.Ls(ctx, subdir, opts)
	if err != nil {
		return err
	}

	for _, d := range dirs {
		fmt.Printf("%s/\n", d)
	}
	for _, f := range files {
		name := f.APath
		if !lsFullPath {
			name = baseName(f.APath)
		}
		switch {
		case lsLongCount >= 2:
			size := "?"
			if f.HasSize {
				size = humanize.Bytes(uint64(f.Size))
			}
			totSize := humanize.Bytes(uint64(f.TotSize))
			fmt.Printf("%4d  %10s  %10s  %d  %s\n", f.Versions, totSize, size, f.Timestamp, name)
		case lsLongCount == 1:
			size := "?"
			if f.HasSize {
				size = humanize.Bytes(uint64(f.Size))
			}
			fmt.Printf("%10s  %d  %s\n", size, f.Timestamp, name)
		default:
			fmt.Println(name)
		}
	}
	return nil
}

func baseName(apath string) string {
	for i := len(apath) - 1; i >= 0; i-- {
		if apath[i] == '/' {
			return apath[i+1:]
		}
	}
	return apath
}
