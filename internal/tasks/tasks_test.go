package tasks

import (
	"os"
	"path/filepath"
	"testing"
)

func writePrompt(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunID(t *testing.T) {
	tests := []struct {
		model, taskName, want string
	}{
		{"gpt-4o", "Scrapy_02.md", "gpt-4o-Scrapy_02"},
		{"gpt-4o", "Scrapy_02", "gpt-4o-Scrapy_02"},
		{"claude-opus", "task.with.dots.md", "claude-opus-task.with.dots"},
	}
	for _, tt := range tests {
		if got := RunID(tt.model, tt.taskName); got != tt.want {
			t.Errorf("RunID(%q, %q) = %q, want %q", tt.model, tt.taskName, got, tt.want)
		}
	}
}

func TestExpectedOutputDir(t *testing.T) {
	got := ExpectedOutputDir("trajectories", "batch_user", "gpt-4o", "Scrapy_02.md")
	want := filepath.Join("trajectories", "batch_user", "gpt-4o-Scrapy_02")
	if got != want {
		t.Errorf("ExpectedOutputDir = %q, want %q", got, want)
	}
}

func TestBaseName(t *testing.T) {
	task := Task{Name: "Scrapy_02.md"}
	if got := task.BaseName(); got != "Scrapy_02" {
		t.Errorf("BaseName = %q, want %q", got, "Scrapy_02")
	}
}

func TestDiscoverMissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"), "out", "u", "m")
	if err == nil {
		t.Fatal("expected error for missing prompt directory")
	}
}

func TestDiscoverEmpty(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "notes.txt", "not a prompt")

	_, err := Discover(dir, "out", "u", "m")
	if err == nil {
		t.Fatal("expected error when no prompt files are present")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writePrompt(t, dir, "b_task.md", "# Fix the parser\n\ndetails")
	writePrompt(t, dir, "a_task.md", "no heading here")
	writePrompt(t, dir, "readme.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "subdir.md"), 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := Discover(dir, "out", "u", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("got %d tasks, want 2", len(found))
	}

	// Sorted by name regardless of directory order.
	if found[0].Name != "a_task.md" || found[1].Name != "b_task.md" {
		t.Errorf("unexpected order: %q, %q", found[0].Name, found[1].Name)
	}

	if found[0].Title != "a_task.md" {
		t.Errorf("fallback title = %q, want file name", found[0].Title)
	}
	if found[1].Title != "Fix the parser" {
		t.Errorf("heading title = %q, want %q", found[1].Title, "Fix the parser")
	}

	wantDir := filepath.Join("out", "u", "gpt-4o-b_task")
	if found[1].OutputDir != wantDir {
		t.Errorf("OutputDir = %q, want %q", found[1].OutputDir, wantDir)
	}
	if found[0].PromptPath != filepath.Join(dir, "a_task.md") {
		t.Errorf("PromptPath = %q", found[0].PromptPath)
	}
}

func TestPartition(t *testing.T) {
	base := t.TempDir()
	doneDir := filepath.Join(base, "u", "gpt-4o-done_task")
	if err := os.MkdirAll(doneDir, 0o755); err != nil {
		t.Fatal(err)
	}

	items := []Task{
		{Name: "done_task.md", OutputDir: doneDir},
		{Name: "fresh_task.md", OutputDir: filepath.Join(base, "u", "gpt-4o-fresh_task")},
	}

	toRun, skipped := Partition(items)
	if len(toRun) != 1 || toRun[0].Name != "fresh_task.md" {
		t.Errorf("toRun = %v, want only fresh_task.md", toRun)
	}
	if len(skipped) != 1 || skipped[0].Name != "done_task.md" {
		t.Errorf("skipped = %v, want only done_task.md", skipped)
	}
}

func TestPartitionFileIsNotDone(t *testing.T) {
	base := t.TempDir()
	// A plain file at the expected path does not mark the task done.
	path := filepath.Join(base, "gpt-4o-file_task")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	toRun, skipped := Partition([]Task{{Name: "file_task.md", OutputDir: path}})
	if len(toRun) != 1 || len(skipped) != 0 {
		t.Errorf("toRun=%d skipped=%d, want 1/0", len(toRun), len(skipped))
	}
}
