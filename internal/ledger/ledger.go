// Package ledger collects per-task outcome records and running totals for
// one batch run. The in-memory ledger is append-only and safe for concurrent
// workers; persistence is a single bulk write at batch end so a crash
// mid-run never corrupts a previously written file.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gittaskbench/swebatch/internal/trajectory"
)

// FileName is the ledger file written under the output base at batch end.
const FileName = "results.jsonl"

// TaskOutcome is one task's result, created once and never mutated. The four
// numeric fields come from a single parsed statistics record: they are
// populated together or all nil.
type TaskOutcome struct {
	TaskName       string   `json:"task_name"`
	RunID          string   `json:"run_id"`
	Success        bool     `json:"success"`
	InstanceCost   *float64 `json:"instance_cost"`
	TokensSent     *int64   `json:"tokens_sent"`
	TokensReceived *int64   `json:"tokens_received"`
	APICalls       *int64   `json:"api_calls"`
	Error          *string  `json:"error"`
}

// HasStats reports whether any statistics field was recovered.
func (o TaskOutcome) HasStats() bool {
	return o.InstanceCost != nil || o.TokensSent != nil ||
		o.TokensReceived != nil || o.APICalls != nil
}

// WithStats copies a recovered statistics record onto the outcome.
func (o TaskOutcome) WithStats(stats *trajectory.ModelStats) TaskOutcome {
	if stats != nil {
		o.InstanceCost = stats.InstanceCost
		o.TokensSent = stats.TokensSent
		o.TokensReceived = stats.TokensReceived
		o.APICalls = stats.APICalls
	}
	return o
}

// Totals is the batch-wide accumulator, increased only by outcomes that are
// both successful and carry recovered statistics.
type Totals struct {
	Cost           float64
	TokensSent     int64
	TokensReceived int64
	APICalls       int64
	Succeeded      int
	Failed         int
}

// Ledger is the mutex-guarded outcome collection shared by all workers.
type Ledger struct {
	mu       sync.Mutex
	outcomes []TaskOutcome
	totals   Totals
	names    map[string]struct{}
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{names: make(map[string]struct{})}
}

// Append records one outcome and folds it into the totals. Concurrent calls
// from worker goroutines are safe.
func (l *Ledger) Append(o TaskOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.outcomes = append(l.outcomes, o)
	l.names[o.TaskName] = struct{}{}

	if o.Success {
		l.totals.Succeeded++
	} else {
		l.totals.Failed++
	}

	if !o.Success || !o.HasStats() {
		return
	}
	if o.InstanceCost != nil {
		l.totals.Cost += *o.InstanceCost
	}
	if o.TokensSent != nil {
		l.totals.TokensSent += *o.TokensSent
	}
	if o.TokensReceived != nil {
		l.totals.TokensReceived += *o.TokensReceived
	}
	if o.APICalls != nil {
		l.totals.APICalls += *o.APICalls
	}
}

// Contains reports whether an outcome for taskName was already appended.
func (l *Ledger) Contains(taskName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.names[taskName]
	return ok
}

// Outcomes returns a copy of the appended outcomes in append order.
func (l *Ledger) Outcomes() []TaskOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TaskOutcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}

// Totals returns a snapshot of the running totals.
func (l *Ledger) Totals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals
}

// WriteFile persists the ledger as one compact JSON record per line.
func (l *Ledger) WriteFile(path string) error {
	outcomes := l.Outcomes()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating ledger file %s: %w", path, err)
	}

	enc := json.NewEncoder(f)
	for _, o := range outcomes {
		if err := enc.Encode(o); err != nil {
			f.Close()
			return fmt.Errorf("writing ledger entry %s: %w", o.TaskName, err)
		}
	}
	return f.Close()
}
