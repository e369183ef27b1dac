// Package postrun implements the ordered cleanup steps that follow each
// task's agent process: sandbox prune, settle delay, and a checkpoint commit
// of the working copy. Every step is best-effort; failures are logged and
// never affect the task's recorded outcome.
package postrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gittaskbench/swebatch/internal/shell"
)

// Pipeline holds the post-task configuration. The zero value runs every step
// with no delay.
type Pipeline struct {
	Shell       *shell.Runner
	RepoPath    string        // working copy for the checkpoint commit
	SettleDelay time.Duration // 0 disables the delay
	SkipPrune   bool
	SkipCommit  bool
}

// PruneCommands are the environment-reset commands. Both use shell expansion
// because the container set is computed at invocation time, and both are
// attempted even if the first fails.
func PruneCommands() []shell.Command {
	return []shell.Command{
		shell.ShellExpr("docker stop $(docker ps -aq)"),
		shell.ShellExpr("docker rm $(docker ps -aq)"),
	}
}

// CheckpointCommands stage and commit all changes in repoPath, labeled with
// the task name. The commit may be empty and bypasses pre-commit hooks so a
// checkpoint always lands.
func CheckpointCommands(repoPath, taskName string) []shell.Command {
	msg := fmt.Sprintf("swebatch task %s: post-run checkpoint", taskName)
	return []shell.Command{
		shell.ArgV("git", "-C", repoPath, "add", "."),
		shell.ArgV("git", "-C", repoPath, "commit", "--allow-empty", "--no-verify", "-m", msg),
	}
}

// Run executes the pipeline for one task. Only the executor that owns the
// task calls this; with more than one worker the shared-state steps from
// different tasks may interleave (an operator-accepted risk).
func (p *Pipeline) Run(ctx context.Context, taskName string) {
	runner := p.Shell
	if runner == nil {
		runner = &shell.Runner{}
	}

	if p.SkipPrune {
		slog.Info("skipping sandbox prune step", "task", taskName)
	} else {
		for i, cmd := range PruneCommands() {
			runner.Run(ctx, taskName, fmt.Sprintf("sandbox prune %d/2", i+1), cmd)
		}
	}

	if p.SettleDelay > 0 {
		slog.Info("settle delay", "task", taskName, "duration", p.SettleDelay)
		select {
		case <-time.After(p.SettleDelay):
		case <-ctx.Done():
			return
		}
	}

	if p.SkipCommit {
		slog.Info("skipping checkpoint commit step", "task", taskName)
		return
	}
	if info, err := os.Stat(p.RepoPath); err != nil || !info.IsDir() {
		slog.Warn("working copy not found, skipping checkpoint commit",
			"task", taskName, "repo", p.RepoPath)
		return
	}
	for _, cmd := range CheckpointCommands(p.RepoPath, taskName) {
		runner.Run(ctx, taskName, "checkpoint commit", cmd)
	}
}
