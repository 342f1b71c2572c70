package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jwink3101/dfb-go/internal/backend"
	"github.com/jwink3101/dfb-go/internal/backup"
	"github.com/jwink3101/dfb-go/internal/dfberr"
	"github.com/jwink3101/dfb-go/internal/resume"
	"github.com/jwink3101/dfb-go/internal/shellhook"
	"github.com/jwink3101/dfb-go/internal/snapshot"
)

var (
	backupSubdir  string
	backupRefresh bool
	backupResume  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up new and changed files from src to dst",
	RunE:  runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupSubdir, "subdir", "", "restrict this run to a subdirectory of src")
	backupCmd.Flags().BoolVar(&backupRefresh, "refresh", false, "rebuild the snapshot db from a live destination listing first")
	backupCmd.Flags().BoolVar(&backupResume, "resume", false, "resume a checkpointed run left over from an interruption")
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, closeApp, err := newAppContext(ctx)
	if err != nil {
		return err
	}
	defer closeApp()

	b := backup.New(app.Cfg, app.DB, app.Be, app.Log)

	checkpointPath := filepath.Join(filepath.Dir(app.Cfg.ConfigPath), "."+app.Cfg.ConfigID+".resume")
	var checkpoint *resume.Checkpoint
	if backupResume {
		if checkpoint, err = resume.Load(checkpointPath); err != nil {
			app.Log.WithError(err).Warn("no resumable checkpoint found, starting fresh")
		}
	}

	if _, err := shellhook.Run(app.Cfg.PreShell, nil, flagDryRun, app.Log, "pre"); err != nil {
		if app.Cfg.StopOnShellError {
			return dfberr.BackendFatal(fmt.Errorf("pre_shell: %w", err))
		}
		app.Log.WithError(err).Warn("pre_shell failed, continuing")
	}

	app.Log.Info("listing source and destination")
	plan, err := b.BuildPlan(ctx, backupSubdir, backupRefresh)
	if err != nil {
		return err
	}

	summary := backup.ActionSummary(plan)
	fmt.Println(summary)

	if flagShellScript != "" {
		header, err := shellhook.Header(filepath.Dir(app.Cfg.ConfigPath), app.Cfg.BackendEnv, "**DELENV**")
		if err != nil {
			return err
		}
		return os.WriteFile(flagShellScript, []byte(header+"\n"), 0o644)
	}

	totalActions := len(plan.New) + len(plan.Modified) + len(plan.Moves) + len(plan.Deleted)
	if totalActions == 0 {
		color.New(color.FgGreen).Println("nothing to do")
		return nil
	}

	if flagDryRun {
		color.New(color.FgYellow).Println("dry-run: no changes made")
		return nil
	}

	if flagInteractive {
		prompt := promptui.Select{Label: "Proceed with this backup?", Items: []string{"Yes", "No"}}
		_, choice, err := prompt.Run()
		if err != nil || choice != "Yes" {
			color.New(color.FgYellow).Println("aborted")
			return nil
		}
	}

	now := time.Now()
	if checkpoint == nil {
		checkpoint = resume.New(checkpointPath, app.Cfg.ConfigID, now)
	}

	var snapWriter *snapshot.Writer
	snapPath := filepath.Join(filepath.Dir(app.Cfg.ConfigPath), fmt.Sprintf(".dfb-snapshot-%d.jsonl", now.Unix()))
	snapWriter, err = snapshot.Create(snapPath)
	if err != nil {
		return fmt.Errorf("backup: creating run snapshot export: %w", err)
	}

	bar := progressbar.Default(int64(totalActions), "backing up")
	opts := backup.ExecOptions{
		Now:            backup.RunTime(now),
		SnapshotWriter: snapWriter,
		Checkpoint:     checkpoint,
	}

	result, err := b.Execute(ctx, plan, opts)
	bar.Finish()
	snapWriter.Close()
	if err != nil {
		runFailShell(app, err)
		return err
	}

	gzPath := snapshot.DestPath(now, app.Cfg.ConfigID)
	localGz := snapPath + ".gz"
	if err := snapshot.Gzip(snapPath, localGz); err != nil {
		app.Log.WithError(err).Warn("could not compress run snapshot export")
	} else {
		dstGz := backup.RCPathJoin(app.Cfg.Dst, gzPath)
		data, rerr := os.ReadFile(localGz)
		if rerr == nil {
			if werr := app.Be.Write(ctx, dstGz, data, backend.WriteOpts{NoCheckDest: true}); werr != nil {
				app.Log.WithError(werr).Warn("could not upload run snapshot export")
			}
		}
	}
	os.Remove(snapPath)
	os.Remove(localGz)

	if err := checkpoint.Remove(); err != nil {
		app.Log.WithError(err).Warn("could not remove resume checkpoint")
	}

	if _, err := shellhook.Run(app.Cfg.PostShell, nil, false, app.Log, "post"); err != nil {
		app.Log.WithError(err).Warn("post_shell failed")
	}

	statsText, err := b.StatsText(ctx)
	if err == nil {
		app.Log.Info(statsText)
	}

	color.New(color.FgGreen).Printf(
		"transferred %d, referenced %d, copied %d, deleted %d (failed: %d)\n",
		result.Transfer.Succeeded, result.Reference.Succeeded, result.Copy.Succeeded, result.Delete.Succeeded,
		result.Transfer.Failed+result.Reference.Failed+result.Copy.Failed+result.Delete.Failed,
	)
	return nil
}

func runFailShell(app *appContext, runErr error) {
	if app.Cfg.FailShell == "" {
		return
	}
	env := map[string]string{"DFB_ERROR": runErr.Error()}
	if _, err := shellhook.Run(app.Cfg.FailShell, env, false, app.Log, "fail"); err != nil {
		app.Log.WithError(err).Warn("fail_shell itself failed")
	}
}
