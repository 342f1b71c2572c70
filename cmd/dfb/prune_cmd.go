package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/jwink3101/dfb-go/internal/backup"
	"github.com/jwink3101/dfb-go/internal/prune"
	"github.com/jwink3101/dfb-go/internal/shellhook"
)

var pruneSubdir string

var pruneCmd = &cobra.Command{
	Use:   "prune <when>",
	Short: "Delete destination versions older than <when> that nothing still depends on",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().StringVar(&pruneSubdir, "subdir", "", "restrict pruning to this subdirectory")
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, closeApp, err := newAppContext(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	if app.Cfg.DisablePrune {
		return fmt.Errorf("prune: disabled by config (disable_prune = true)")
	}

	when, _, err := parseAt(args[0])
	if err != nil {
		return err
	}

	groups, err := app.DB.GroupByApath(ctx)
	if err != nil {
		return err
	}

	candidates := prune.Plan(groups, when, pruneSubdir)
	if len(candidates) == 0 {
		color.New(color.FgGreen).Println("nothing to prune")
		return nil
	}
	color.New(color.FgCyan).Printf("%d real paths to delete (%s)\n", len(candidates), humanize.Bytes(uint64(prune.TotalSize(candidates))))

	if flagShellScript != "" {
		return writePruneScript(app, candidates)
	}

	if flagDryRun {
		for _, c := range candidates {
			fmt.Println(c.RPath)
		}
		return nil
	}

	if flagInteractive {
		prompt := promptui.Select{Label: "Delete these real paths?", Items: []string{"Yes", "No"}}
		_, choice, err := prompt.Run()
		if err != nil || choice != "Yes" {
			color.New(color.FgYellow).Println("aborted")
			return nil
		}
	}

	var failed int
	for _, c := range candidates {
		if err := app.Be.Delete(ctx, backup.RCPathJoin(app.Cfg.Dst, c.RPath)); err != nil {
			failed++
			app.Log.WithField("rpath", c.RPath).WithError(err).Error("prune: delete failed")
			continue
		}
	}
	if failed > 0 {
		return fmt.Errorf("prune: %d of %d deletes failed", failed, len(candidates))
	}
	color.New(color.FgGreen).Printf("pruned %d real paths\n", len(candidates))
	return nil
}

// writePruneScript exports an equivalent shell script of rm-style
// delete commands instead of running them directly, grounded on
// shellhook.Header's --shell-script support.
func writePruneScript(app *appContext, candidates []prune.Candidate) error {
	header, err := shellhook.Header(filepath.Dir(app.Cfg.ConfigPath), app.Cfg.BackendEnv, "**DELENV**")
	if err != nil {
		return err
	}
	var body string
	for _, c := range candidates {
		body += fmt.Sprintf("%s deletefile %s\n", app.Cfg.BackendExe, backup.RCPathJoin(app.Cfg.Dst, c.RPath))
	}
	return os.WriteFile(flagShellScript, []byte(header+"\n"+body), 0o644)
}
