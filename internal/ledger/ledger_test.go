package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int64) *int64     { return &v }
func ptrS(v string) *string   { return &v }

func TestAppendTotals(t *testing.T) {
	l := New()

	l.Append(TaskOutcome{
		TaskName: "a.md", RunID: "m-a", Success: true,
		InstanceCost: ptrF(1.5), TokensSent: ptrI(100),
		TokensReceived: ptrI(20), APICalls: ptrI(3),
	})
	// Success without stats counts toward Succeeded but not toward cost.
	l.Append(TaskOutcome{TaskName: "b.md", RunID: "m-b", Success: true})
	// Failure with stats attached must not pollute the totals.
	l.Append(TaskOutcome{
		TaskName: "c.md", RunID: "m-c", Success: false,
		InstanceCost: ptrF(9.0), Error: ptrS("agent exited with code 1"),
	})

	got := l.Totals()
	if got.Succeeded != 2 || got.Failed != 1 {
		t.Errorf("Succeeded=%d Failed=%d, want 2/1", got.Succeeded, got.Failed)
	}
	if got.Cost != 1.5 {
		t.Errorf("Cost = %v, want 1.5", got.Cost)
	}
	if got.TokensSent != 100 || got.TokensReceived != 20 || got.APICalls != 3 {
		t.Errorf("token totals = %d/%d/%d, want 100/20/3",
			got.TokensSent, got.TokensReceived, got.APICalls)
	}
}

func TestAppendPartialStats(t *testing.T) {
	l := New()
	l.Append(TaskOutcome{TaskName: "a.md", Success: true, InstanceCost: ptrF(0.5)})

	got := l.Totals()
	if got.Cost != 0.5 || got.TokensSent != 0 {
		t.Errorf("totals = %+v, want cost 0.5 and zero tokens", got)
	}
}

func TestHasStats(t *testing.T) {
	if (TaskOutcome{}).HasStats() {
		t.Error("empty outcome must not report stats")
	}
	if !(TaskOutcome{APICalls: ptrI(1)}).HasStats() {
		t.Error("any populated field reports stats")
	}
}

func TestContains(t *testing.T) {
	l := New()
	l.Append(TaskOutcome{TaskName: "seen.md"})

	if !l.Contains("seen.md") {
		t.Error("Contains(seen.md) = false")
	}
	if l.Contains("unseen.md") {
		t.Error("Contains(unseen.md) = true")
	}
}

func TestConcurrentAppend(t *testing.T) {
	l := New()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(TaskOutcome{
				TaskName:     fmt.Sprintf("task_%03d.md", i),
				Success:      true,
				InstanceCost: ptrF(0.01),
			})
		}(i)
	}
	wg.Wait()

	got := l.Totals()
	if got.Succeeded != 100 {
		t.Errorf("Succeeded = %d, want 100", got.Succeeded)
	}
	if got.Cost < 0.999 || got.Cost > 1.001 {
		t.Errorf("Cost = %v, want ~1.0", got.Cost)
	}
	if len(l.Outcomes()) != 100 {
		t.Errorf("got %d outcomes, want 100", len(l.Outcomes()))
	}
}

func TestWriteFile(t *testing.T) {
	l := New()
	l.Append(TaskOutcome{
		TaskName: "a.md", RunID: "m-a", Success: true,
		InstanceCost: ptrF(1.5), TokensSent: ptrI(100),
		TokensReceived: ptrI(20), APICalls: ptrI(3),
	})
	l.Append(TaskOutcome{
		TaskName: "b.md", RunID: "m-b", Success: false,
		Error: ptrS("trajectory file not found for cost analysis"),
	})

	path := filepath.Join(t.TempDir(), FileName)
	if err := l.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first TaskOutcome
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.TaskName != "a.md" || !first.Success || *first.InstanceCost != 1.5 {
		t.Errorf("first record = %+v", first)
	}

	// Absent stats serialize as explicit nulls, matching the record schema.
	if !strings.Contains(lines[1], `"instance_cost":null`) {
		t.Errorf("second line missing null stats: %s", lines[1])
	}
	if !strings.Contains(lines[1], `"error":"trajectory file not found for cost analysis"`) {
		t.Errorf("second line missing error: %s", lines[1])
	}
}
