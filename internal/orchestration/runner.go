// Package orchestration drives a batch of agent tasks: discovery, dedup,
// bounded-concurrency dispatch, the post-run sweep over historical output,
// and the final report.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gittaskbench/swebatch/internal/ledger"
	"github.com/gittaskbench/swebatch/internal/postrun"
	"github.com/gittaskbench/swebatch/internal/tasks"
	"github.com/gittaskbench/swebatch/internal/trajectory"
)

// Config holds everything one batch run needs.
type Config struct {
	PromptDir  string
	Model      string
	AgentArgv  []string // base agent invocation; task args are appended
	OutputBase string
	User       string
	Workers    int // <= 0 means 1 (fully serial)
	Pipeline   postrun.Pipeline
}

// EventType identifies a progress event.
type EventType string

const (
	EventBatchStart    EventType = "batch_start"
	EventTaskStart     EventType = "task_start"
	EventTaskComplete  EventType = "task_complete"
	EventSweepBackfill EventType = "sweep_backfill"
	EventBatchComplete EventType = "batch_complete"
)

// ProgressEvent is one progress update delivered to listeners.
type ProgressEvent struct {
	EventType  EventType
	TaskName   string
	TaskNum    int
	TotalTasks int
	Outcome    *ledger.TaskOutcome
}

// ProgressListener receives progress updates. Listeners may be called from
// worker goroutines.
type ProgressListener func(event ProgressEvent)

// Report summarizes a completed batch.
type Report struct {
	Outcomes   []ledger.TaskOutcome
	Totals     ledger.Totals
	Dispatched int
	Skipped    int
	Swept      int
	LedgerPath string
	Duration   time.Duration
}

// Runner executes one batch run.
type Runner struct {
	cfg       Config
	ledger    *ledger.Ledger
	extractor *trajectory.Extractor

	progressMu sync.Mutex
	listeners  []ProgressListener
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExtractor overrides the statistics extractor (e.g. for chunk size).
func WithExtractor(e *trajectory.Extractor) RunnerOption {
	return func(r *Runner) {
		r.extractor = e
	}
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:       cfg,
		ledger:    ledger.New(),
		extractor: &trajectory.Extractor{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnProgress registers a progress listener.
func (r *Runner) OnProgress(l ProgressListener) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Runner) notify(event ProgressEvent) {
	r.progressMu.Lock()
	listeners := make([]ProgressListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.progressMu.Unlock()

	for _, l := range listeners {
		l(event)
	}
}

// Run drives the batch: Discover, Filter, Dispatch, Sweep, Report. Only
// discovery failure is fatal; per-task faults become ledger entries and the
// batch continues. An empty to-run set is not an error — the run degenerates
// to re-generating the report from prior output.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	found, err := tasks.Discover(r.cfg.PromptDir, r.cfg.OutputBase, r.cfg.User, r.cfg.Model)
	if err != nil {
		return nil, err
	}

	toRun, skipped := tasks.Partition(found)
	if len(skipped) > 0 {
		slog.Info("skipped tasks with existing output directories", "count", len(skipped))
	}

	r.notify(ProgressEvent{EventType: EventBatchStart, TotalTasks: len(toRun)})

	if len(toRun) > 0 {
		r.dispatch(ctx, toRun)
	} else {
		slog.Info("no new tasks to run, proceeding to analyze existing trajectories")
	}

	swept := r.sweep()

	report := &Report{
		Outcomes:   r.ledger.Outcomes(),
		Totals:     r.ledger.Totals(),
		Dispatched: len(toRun),
		Skipped:    len(skipped),
		Swept:      swept,
		LedgerPath: r.persist(),
		Duration:   time.Since(start),
	}

	r.notify(ProgressEvent{EventType: EventBatchComplete})
	return report, nil
}

// dispatch runs the to-run set on a bounded worker pool. Each worker takes a
// task to completion — agent process, post-task pipeline, extraction, ledger
// append — before picking up the next one.
func (r *Runner) dispatch(ctx context.Context, toRun []tasks.Task) {
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for i, t := range toRun {
		num := i + 1
		task := t
		g.Go(func() error {
			r.executeTask(ctx, task, num, len(toRun))
			return nil
		})
	}

	// Workers never return errors; faults are recorded per task.
	_ = g.Wait()
}

// executeTask runs one task end to end and appends exactly one outcome.
func (r *Runner) executeTask(ctx context.Context, t tasks.Task, num, total int) {
	r.notify(ProgressEvent{
		EventType:  EventTaskStart,
		TaskName:   t.Name,
		TaskNum:    num,
		TotalTasks: total,
	})

	outcome := ledger.TaskOutcome{
		TaskName: t.Name,
		RunID:    tasks.RunID(r.cfg.Model, t.Name),
	}

	runErr := r.launchAgent(ctx, t)

	// The pipeline runs whether or not the agent succeeded, and its own
	// failures never change the task's recorded result.
	pipeline := r.cfg.Pipeline
	pipeline.Run(ctx, t.Name)

	if runErr != nil {
		msg := runErr.Error()
		outcome.Error = &msg
	} else {
		outcome.Success = true
		outcome = r.attachStats(outcome, t.OutputDir)
	}

	r.ledger.Append(outcome)
	r.notify(ProgressEvent{
		EventType:  EventTaskComplete,
		TaskName:   t.Name,
		TaskNum:    num,
		TotalTasks: total,
		Outcome:    &outcome,
	})
}

// launchAgent creates the task output directory and runs the agent process,
// streaming its output to the operator's terminal. Success iff exit code 0.
func (r *Runner) launchAgent(ctx context.Context, t tasks.Task) error {
	if err := os.MkdirAll(t.OutputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", t.OutputDir, err)
	}

	argv := make([]string, 0, len(r.cfg.AgentArgv)+4)
	argv = append(argv, r.cfg.AgentArgv...)
	argv = append(argv,
		"--problem_statement.path", t.PromptPath,
		"--output_dir", t.OutputDir,
	)

	slog.Info("starting task", "task", t.Name, "title", t.Title, "cmd", strings.Join(argv, " "))

	//nolint:gosec // the agent invocation is operator-configured
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("agent process could not start: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("agent exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("agent process: %w", err)
	}
	return nil
}

// attachStats locates the task's run log and copies its statistics onto the
// outcome. Extraction failure leaves the outcome successful with an error
// string and nil statistics.
func (r *Runner) attachStats(outcome ledger.TaskOutcome, outputDir string) ledger.TaskOutcome {
	trajPath := trajectory.Locate(outputDir)
	if trajPath == "" {
		msg := "trajectory file not found for cost analysis"
		outcome.Error = &msg
		return outcome
	}

	stats, err := r.extractor.Extract(trajPath)
	if err != nil {
		msg := fmt.Sprintf("reading trajectory %s: %v", trajPath, err)
		outcome.Error = &msg
		return outcome
	}
	if stats == nil {
		msg := fmt.Sprintf("could not parse model_stats from trajectory: %s", trajPath)
		outcome.Error = &msg
		return outcome
	}
	return outcome.WithStats(stats)
}

// sweep back-fills ledger entries for every output directory matching the
// naming convention whose task was not dispatched this run, so the final
// report covers all historical attempts. A swept task counts as successful
// iff its statistics were recoverable.
func (r *Runner) sweep() int {
	scanDir := filepath.Join(r.cfg.OutputBase, r.cfg.User)
	entries, err := os.ReadDir(scanDir)
	if err != nil {
		slog.Debug("no prior output to sweep", "dir", scanDir, "error", err)
		return 0
	}

	prefix := r.cfg.Model + "-"
	swept := 0

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		taskName := strings.TrimPrefix(entry.Name(), prefix) + tasks.PromptExtension
		if r.ledger.Contains(taskName) {
			continue
		}

		dir := filepath.Join(scanDir, entry.Name())
		outcome := ledger.TaskOutcome{
			TaskName: taskName,
			RunID:    tasks.RunID(r.cfg.Model, taskName),
		}

		if trajPath := trajectory.Locate(dir); trajPath == "" {
			msg := fmt.Sprintf("trajectory file not found for existing task: %s in %s", taskName, dir)
			outcome.Error = &msg
		} else if stats, err := r.extractor.Extract(trajPath); err != nil {
			msg := fmt.Sprintf("reading trajectory %s: %v", trajPath, err)
			outcome.Error = &msg
		} else if stats == nil {
			msg := fmt.Sprintf("could not parse model_stats from existing trajectory: %s", trajPath)
			outcome.Error = &msg
		} else {
			outcome.Success = true
			outcome = outcome.WithStats(stats)
		}

		r.ledger.Append(outcome)
		r.notify(ProgressEvent{
			EventType: EventSweepBackfill,
			TaskName:  taskName,
			Outcome:   &outcome,
		})
		swept++
	}

	return swept
}

// persist writes the ledger once, at batch end. When the output directory
// cannot be created the ledger falls back to the working directory rather
// than being lost.
func (r *Runner) persist() string {
	dir := filepath.Join(r.cfg.OutputBase, r.cfg.User)
	path := filepath.Join(dir, ledger.FileName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("could not create ledger directory, falling back to working directory",
			"dir", dir, "error", err)
		path = ledger.FileName
	}

	if err := r.ledger.WriteFile(path); err != nil {
		slog.Error("failed to persist ledger", "path", path, "error", err)
		return ""
	}
	return path
}
