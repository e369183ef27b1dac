package postrun

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPruneCommands(t *testing.T) {
	cmds := PruneCommands()
	if len(cmds) != 2 {
		t.Fatalf("got %d prune commands, want 2", len(cmds))
	}
	if cmds[0].Expr == "" || cmds[1].Expr == "" {
		t.Error("prune commands must be shell expressions so $(...) expands")
	}
	if !strings.Contains(cmds[0].Expr, "docker stop") {
		t.Errorf("first prune command = %q, want docker stop", cmds[0].Expr)
	}
	if !strings.Contains(cmds[1].Expr, "docker rm") {
		t.Errorf("second prune command = %q, want docker rm", cmds[1].Expr)
	}
}

func TestCheckpointCommands(t *testing.T) {
	cmds := CheckpointCommands("/repo", "Scrapy_02.md")
	if len(cmds) != 2 {
		t.Fatalf("got %d checkpoint commands, want 2", len(cmds))
	}

	add := cmds[0].Argv
	if add[0] != "git" || add[len(add)-1] != "." {
		t.Errorf("add command = %v", add)
	}

	commit := strings.Join(cmds[1].Argv, " ")
	for _, want := range []string{"-C /repo", "--allow-empty", "--no-verify", "Scrapy_02.md"} {
		if !strings.Contains(commit, want) {
			t.Errorf("commit command %q missing %q", commit, want)
		}
	}
}

func TestRunSettleDelay(t *testing.T) {
	p := &Pipeline{SettleDelay: 30 * time.Millisecond, SkipPrune: true, SkipCommit: true}

	start := time.Now()
	p.Run(context.Background(), "task")
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, want at least the settle delay", elapsed)
	}
}

func TestRunCanceledDuringDelay(t *testing.T) {
	p := &Pipeline{SettleDelay: 10 * time.Second, SkipPrune: true, SkipCommit: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx, "task")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}

func TestRunMissingRepoSkipsCommit(t *testing.T) {
	// The checkpoint step is skipped with a warning, never an error.
	p := &Pipeline{RepoPath: "/path/that/does/not/exist", SkipPrune: true}
	p.Run(context.Background(), "task")
}
