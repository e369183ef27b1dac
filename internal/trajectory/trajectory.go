// Package trajectory recovers usage statistics from the run-log artifacts
// (.traj files) that the external agent writes. Artifacts may be a single
// JSON document, line-delimited JSON, or a document with multiple stats
// blocks appended over time, and they can be too large to hold in memory.
package trajectory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogExtension is the filename suffix of run-log artifacts.
const LogExtension = ".traj"

// DefaultChunkSize is the read size used by the backward scan.
const DefaultChunkSize = 100_000

// wholeFileLimit caps the artifact size for the whole-file parse tier.
// Larger artifacts go straight to the backward chunked scan.
const wholeFileLimit = 64 << 20

// statsMarker is the JSON key that precedes a statistics block.
const statsMarker = `"model_stats":`

// ModelStats is the usage record recovered from a run log. Each field is
// independently optional: a field absent in the source yields nil, not zero.
type ModelStats struct {
	InstanceCost   *float64 `json:"instance_cost"`
	TokensSent     *int64   `json:"tokens_sent"`
	TokensReceived *int64   `json:"tokens_received"`
	APICalls       *int64   `json:"api_calls"`
}

// Extractor recovers ModelStats records from trajectory files.
type Extractor struct {
	// ChunkSize overrides DefaultChunkSize for the backward scan.
	ChunkSize int
}

// Extract recovers the most recent statistics record from the artifact at
// path. A missing or empty path returns (nil, nil): the caller reports
// "no statistics recoverable", not an error. Only I/O faults return errors.
func (e *Extractor) Extract(path string) (*ModelStats, error) {
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat trajectory %s: %w", path, err)
	}

	// Tier 1: whole-file parse for artifacts small enough to hold.
	if info.Size() <= wholeFileLimit {
		if stats := parseWholeFile(path); stats != nil {
			return stats, nil
		}
	}

	// Tier 2: backward chunked scan for the last complete stats block.
	return e.scanBackward(path, info.Size())
}

// Extract recovers statistics using the default chunk size.
func Extract(path string) (*ModelStats, error) {
	return (&Extractor{}).Extract(path)
}

// trajDocument is the subset of a trajectory file the extractor cares about.
type trajDocument struct {
	Info struct {
		ModelStats *ModelStats `json:"model_stats"`
	} `json:"info"`
	ModelStats *ModelStats `json:"model_stats"`
}

// parseWholeFile attempts to parse the entire artifact as one JSON document
// and returns the stats block nested under "info" or at the top level.
// Any failure returns nil so the caller falls through to the backward scan.
func parseWholeFile(path string) *ModelStats {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("whole-file read failed, falling back to chunked scan", "path", path, "error", err)
		return nil
	}

	var doc trajDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Debug("whole-file parse failed, falling back to chunked scan", "path", path, "error", err)
		return nil
	}

	if doc.Info.ModelStats != nil {
		return doc.Info.ModelStats
	}
	return doc.ModelStats
}

// scanBackward reads the artifact from its end in fixed-size chunks, keeping
// a carry-over buffer so that a stats block straddling a chunk boundary is
// not missed. The rightmost marker in each window wins because later file
// positions are more recent. A marker followed by malformed JSON is skipped
// in favor of an earlier complete block.
func (e *Extractor) scanBackward(path string, size int64) (*ModelStats, error) {
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory %s: %w", path, err)
	}
	defer f.Close()

	pos := size
	carry := ""
	buf := make([]byte, chunkSize)

	for pos > 0 {
		readSize := int64(chunkSize)
		if pos < readSize {
			readSize = pos
		}
		pos -= readSize

		if _, err := f.ReadAt(buf[:readSize], pos); err != nil {
			return nil, fmt.Errorf("read trajectory %s at %d: %w", path, pos, err)
		}
		window := string(buf[:readSize]) + carry

		stats, nextCarry := extractFromWindow(window)
		if stats != nil {
			return stats, nil
		}
		carry = nextCarry
	}

	return nil, nil
}

// extractFromWindow searches window for the rightmost complete stats block.
// When no block parses it returns the text that must be retained so the next
// (earlier) chunk can complete a match straddling the window start.
func extractFromWindow(window string) (*ModelStats, string) {
	searchEnd := len(window)

	for {
		markerIdx := strings.LastIndex(window[:searchEnd], statsMarker)
		if markerIdx < 0 {
			break
		}

		open := strings.IndexByte(window[markerIdx+len(statsMarker):], '{')
		if open < 0 {
			// Marker with no object start in this window; nothing after it
			// can help, keep the whole window and read further back.
			return nil, window
		}
		open += markerIdx + len(statsMarker)

		candidate, complete := balancedObject(window[open:])
		if !complete {
			// The closing brace lies outside the window; retain the partial
			// object as carry-over and continue with earlier chunks.
			return nil, window[open:]
		}

		var stats ModelStats
		if err := json.Unmarshal([]byte(candidate), &stats); err == nil {
			return &stats, ""
		}

		// Malformed block (e.g. mid-write); try the next-earlier marker.
		searchEnd = markerIdx
	}

	// No usable marker. Keep the window so a marker whose prefix lies in an
	// earlier chunk can still be assembled.
	if len(window) > 0 {
		return nil, window
	}
	return nil, ""
}

// balancedObject returns the prefix of s spanning one brace-balanced object
// starting at s[0] (which must be '{'), and whether the object closed.
func balancedObject(s string) (string, bool) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return s, false
}

// Locate finds the run-log artifact for a task output directory: any file
// ending in LogExtension directly inside dir or inside one level of
// subdirectory. When several qualify the newest by modification time wins,
// with ties broken by the lexicographically greatest path, so the choice is
// deterministic across platforms. Returns "" when none is found.
func Locate(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("trajectory search directory not readable", "dir", dir, "error", err)
		return ""
	}

	var best string
	var bestInfo fs.FileInfo

	consider := func(path string) {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if bestInfo == nil ||
			info.ModTime().After(bestInfo.ModTime()) ||
			(info.ModTime().Equal(bestInfo.ModTime()) && path > best) {
			best, bestInfo = path, info
		}
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if !entry.IsDir() {
			if strings.HasSuffix(entry.Name(), LogExtension) {
				consider(path)
			}
			continue
		}

		sub, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, se := range sub {
			if !se.IsDir() && strings.HasSuffix(se.Name(), LogExtension) {
				consider(filepath.Join(path, se.Name()))
			}
		}
	}

	return best
}
