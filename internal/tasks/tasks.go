// Package tasks discovers batch tasks from a prompt directory and applies
// the output-directory naming convention used to skip completed work.
package tasks

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PromptExtension is the filename suffix of task description files.
const PromptExtension = ".md"

// Task is one unit of batch work, identified by its prompt file.
type Task struct {
	Name       string // prompt file base name, e.g. "Scrapy_02.md"
	Title      string // first markdown heading, or Name when absent
	PromptPath string // absolute or caller-relative path to the prompt file
	OutputDir  string // expected output directory per the naming convention
}

// BaseName returns the task name without the prompt extension.
func (t Task) BaseName() string {
	return strings.TrimSuffix(t.Name, filepath.Ext(t.Name))
}

// RunID returns the derived run identifier for a task name and model.
func RunID(model, taskName string) string {
	return model + "-" + strings.TrimSuffix(taskName, filepath.Ext(taskName))
}

// ExpectedOutputDir is the naming rule tying a task to its output location:
// base/user/model-<task name without extension>. It performs no filesystem
// access so callers can unit-test layout decisions in isolation.
func ExpectedOutputDir(base, user, model, taskName string) string {
	return filepath.Join(base, user, RunID(model, taskName))
}

// Discover lists prompt files in promptDir and builds the task set for one
// batch run. A missing directory or an empty task set is a configuration
// error: the batch must fail fast before any work starts.
func Discover(promptDir, outputBase, user, model string) ([]Task, error) {
	entries, err := os.ReadDir(promptDir)
	if err != nil {
		return nil, fmt.Errorf("prompt directory %s: %w", promptDir, err)
	}

	var found []Task
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), PromptExtension) {
			continue
		}
		path := filepath.Join(promptDir, entry.Name())
		found = append(found, Task{
			Name:       entry.Name(),
			Title:      promptTitle(path, entry.Name()),
			PromptPath: path,
			OutputDir:  ExpectedOutputDir(outputBase, user, model, entry.Name()),
		})
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", PromptExtension, promptDir)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}

// Partition splits tasks into to-run and already-done sets. Existence of the
// expected output directory alone marks a task done; the directory's contents
// are not inspected, so a partially written prior attempt is treated as
// complete and surfaces later through the sweep.
func Partition(items []Task) (toRun, skipped []Task) {
	for _, t := range items {
		if dirExists(t.OutputDir) {
			slog.Info("skipping task: output directory already exists",
				"task", t.Name, "dir", t.OutputDir)
			skipped = append(skipped, t)
		} else {
			toRun = append(toRun, t)
		}
	}
	return toRun, skipped
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
