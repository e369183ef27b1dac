// Package shell runs external commands in two forms: plain argument vectors,
// and shell expressions for commands that need substitution at invocation
// time (e.g. pruning whatever sandboxes happen to be running).
package shell

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
)

// Command is a tagged union: exactly one of Argv or Expr is set.
type Command struct {
	Argv []string // executed directly, no shell involved
	Expr string   // executed via "sh -c" for $(...) and glob expansion
}

// ArgV builds a plain argument-vector command.
func ArgV(args ...string) Command {
	return Command{Argv: args}
}

// ShellExpr builds a command evaluated by the shell.
func ShellExpr(expr string) Command {
	return Command{Expr: expr}
}

// String renders the command for logging.
func (c Command) String() string {
	if c.Expr != "" {
		return c.Expr
	}
	return strings.Join(c.Argv, " ")
}

func (c Command) build(ctx context.Context) *exec.Cmd {
	if c.Expr != "" {
		return exec.CommandContext(ctx, "sh", "-c", c.Expr)
	}
	//nolint:gosec // commands are operator-configured, not untrusted input
	return exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
}

// Runner executes commands and logs their output. Failures are reported via
// the return value, never escalated: callers decide whether to continue.
type Runner struct{}

// Run executes cmd, logging stdout/stderr under the task and step names.
// Returns true iff the command ran and exited zero.
func (r *Runner) Run(ctx context.Context, taskName, stepName string, cmd Command) bool {
	slog.Info("running step", "task", taskName, "step", stepName, "cmd", cmd.String())

	output, err := cmd.build(ctx).CombinedOutput()
	if len(output) > 0 {
		slog.Info("step output", "task", taskName, "step", stepName,
			"output", strings.TrimSpace(string(output)))
	}

	if err == nil {
		return true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		slog.Error("step failed", "task", taskName, "step", stepName,
			"exit_code", exitErr.ExitCode())
	} else {
		// Launch failure, e.g. binary not on PATH.
		slog.Error("step could not start", "task", taskName, "step", stepName,
			"error", err)
	}
	return false
}
