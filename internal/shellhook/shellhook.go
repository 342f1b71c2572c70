// Package shellhook runs the pre/post/fail shell commands a config may
// specify, and builds the header of an exported shell script for
// --shell-script prune output. Grounded on
// original_source/dfb/utils.py's shell_runner and shell_header.
package shellhook

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Run executes cmd (a shell string, run with "sh -c", matching the
// original's shell=True string case) with env merged over the current
// process environment. If dry is true, it only logs what would run.
// Returns the command's exit code (0 on success, or on dry-run).
func Run(cmd string, env map[string]string, dry bool, log *logrus.Logger, prefix string) (int, error) {
	if strings.TrimSpace(cmd) == "" {
		return 0, nil
	}

	for _, line := range strings.Split(strings.TrimRight(cmd, "\n"), "\n") {
		if log != nil {
			log.WithField("prefix", prefix).Infof("$ %s", line)
		}
	}

	if dry {
		if log != nil {
			log.WithField("prefix", prefix).Info("DRY-RUN: not running")
		}
		return 0, nil
	}

	c := exec.Command("sh", "-c", cmd)
	c.Env = mergeEnv(os.Environ(), env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if log != nil {
		if stdout.Len() > 0 {
			log.WithField("prefix", prefix).Debug(stdout.String())
		}
		if stderr.Len() > 0 {
			log.WithField("prefix", prefix).Debug(stderr.String())
		}
	}

	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("shellhook: run %q: %w", prefix, err)
}

// RunArgs executes an argv-style command (shell=False in the
// original's list/tuple case). It does no tokenizing itself; a single
// command string can be split into args first with Tokenize.
func RunArgs(args []string, env map[string]string, dry bool, log *logrus.Logger, prefix string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	if log != nil {
		log.WithField("prefix", prefix).Infof("%v", args)
	}
	if dry {
		if log != nil {
			log.WithField("prefix", prefix).Info("DRY-RUN: not running")
		}
		return 0, nil
	}

	c := exec.Command(args[0], args[1:]...)
	c.Env = mergeEnv(os.Environ(), env)
	err := c.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("shellhook: run %v: %w", args, err)
}

// Tokenize splits a single command-line string into argv using POSIX
// shell quoting rules, for callers that accept either a single string
// or a pre-split arg list for a shell hook.
func Tokenize(cmd string) ([]string, error) {
	return shlex.Split(cmd)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, len(base), len(base)+len(overrides))
	copy(out, base)
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}

// Header builds the header of an exported shell script: a "cd" to the
// current directory (rooting relative paths the way the process ran),
// plus export/unset lines for each backend environment override.
func Header(cwd string, env map[string]string, delEnvSentinel string) (string, error) {
	var out []string
	if cwd != "" {
		quoted, err := shellQuoteAll([]string{"cd", cwd})
		if err != nil {
			return "", err
		}
		out = append(out, quoted)
	}
	for k, v := range env {
		if v == delEnvSentinel || v == "**UNSET**" {
			out = append(out, fmt.Sprintf("unset %s", k))
			continue
		}
		out = append(out, fmt.Sprintf("export %s=%s", k, shellQuote(v)))
	}
	return strings.Join(out, "\n"), nil
}

func shellQuoteAll(args []string) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = shellQuote(a)
	}
	return strings.Join(parts, " "), nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r == '_' || r == '-' || r == '.' || r == '/' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
