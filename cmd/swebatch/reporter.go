package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/gittaskbench/swebatch/internal/orchestration"
)

const defaultReportWidth = 72

// reportWidth returns the rule width for the summary, clamped to the
// terminal when stdout is one.
func reportWidth() int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return defaultReportWidth
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || w > defaultReportWidth {
		return defaultReportWidth
	}
	return w
}

func printSummary(report *orchestration.Report) {
	width := reportWidth()
	rule := strings.Repeat("=", width)

	fmt.Println()
	fmt.Println(rule)
	fmt.Println(" BATCH RUN SUMMARY")
	fmt.Println(rule)
	fmt.Printf("Total tasks processed: %d\n", len(report.Outcomes))
	fmt.Printf("Successful runs:       %d\n", report.Totals.Succeeded)
	fmt.Printf("Failed runs:           %d\n", report.Totals.Failed)
	fmt.Printf("Dispatched this run:   %d (skipped %d, back-filled %d)\n",
		report.Dispatched, report.Skipped, report.Swept)
	fmt.Printf("Duration:              %v\n", report.Duration.Round(10*time.Millisecond))
	if report.LedgerPath != "" {
		fmt.Printf("Batch summary saved to: %s\n", report.LedgerPath)
	}

	if report.Totals.Cost > 0 || report.Totals.TokensSent > 0 {
		fmt.Println()
		fmt.Println(strings.Repeat("-", width))
		fmt.Println(" OVERALL COST SUMMARY")
		fmt.Println(strings.Repeat("-", width))
		fmt.Printf("Total cost:            $%.4f\n", report.Totals.Cost)
		fmt.Printf("Total tokens sent:     %d\n", report.Totals.TokensSent)
		fmt.Printf("Total tokens received: %d\n", report.Totals.TokensReceived)
		fmt.Printf("Total API calls:       %d\n", report.Totals.APICalls)
		if report.Totals.Succeeded > 0 && report.Totals.Cost > 0 {
			fmt.Printf("Average cost per successful task: $%.4f\n",
				report.Totals.Cost/float64(report.Totals.Succeeded))
		}
	}

	if report.Totals.Failed > 0 {
		fmt.Println()
		fmt.Println("Failed runs:")
		nameWidth := 0
		for _, o := range report.Outcomes {
			if !o.Success && runewidth.StringWidth(o.TaskName) > nameWidth {
				nameWidth = runewidth.StringWidth(o.TaskName)
			}
		}
		for _, o := range report.Outcomes {
			if o.Success {
				continue
			}
			reason := "Unknown error"
			if o.Error != nil {
				reason = truncate(firstLine(*o.Error), 100)
			}
			fmt.Printf("  - %s  %s\n", runewidth.FillRight(o.TaskName, nameWidth), reason)
		}
	}
	fmt.Println()
}

// truncate shortens s to maxWidth display cells, appending "..." if cut.
func truncate(s string, maxWidth int) string {
	return runewidth.Truncate(s, maxWidth, "...")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
