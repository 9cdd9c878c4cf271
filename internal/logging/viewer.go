package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed JSON log line.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Msg     string         `json:"msg"`
	Attrs   map[string]any `json:"-"` // remaining structured attributes
	Raw     string         `json:"-"` // original line
	IsValid bool           `json:"-"` // whether JSON parsing succeeded
}

// followInterval is the poll cadence while following a log file.
const followInterval = 500 * time.Millisecond

// maxLineBytes bounds a single log line during scanning.
const maxLineBytes = 1024 * 1024

// ViewerConfig configures filtering.
type ViewerConfig struct {
	// Level is the minimum level to show ("" = all).
	Level string
	// Pattern filters entries whose message or raw line matches.
	Pattern *regexp.Regexp
}

// Viewer reads and filters the engine's rotated JSON logs.
type Viewer struct {
	config   ViewerConfig
	minLevel slog.Level
	hasLevel bool
}

// NewViewer creates a viewer.
func NewViewer(cfg ViewerConfig) *Viewer {
	v := &Viewer{config: cfg}
	if cfg.Level != "" {
		v.minLevel = ParseLevel(cfg.Level)
		v.hasLevel = true
	}
	return v
}

// Tail returns the last n matching entries. Rotated files (path.1, path.2,
// ...) are consulted when the live file alone cannot satisfy n.
func (v *Viewer) Tail(path string, n int) ([]Entry, error) {
	// Newest file first; stop once enough lines are collected.
	var chunks [][]string
	collected := 0
	for _, p := range rotationChain(path) {
		fileLines, err := readLines(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		chunks = append(chunks, fileLines)
		collected += len(fileLines)
		if collected >= n {
			break
		}
	}

	// Replay oldest chunk first to restore chronological order.
	var entries []Entry
	for i := len(chunks) - 1; i >= 0; i-- {
		for _, line := range chunks[i] {
			entry := v.parseLine(line)
			if v.matches(entry) {
				entries = append(entries, entry)
			}
		}
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Follow streams appended entries until ctx is cancelled. Rotation (the file
// shrinking or vanishing) resets the read offset to the new file's start.
func (v *Viewer) Follow(ctx context.Context, path string, fn func(Entry)) error {
	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size() // start at the end, like tail -f
	}

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			continue // file rotated away; wait for the next one
		}
		if info.Size() < offset {
			offset = 0 // rotation happened
		}
		if info.Size() == offset {
			continue
		}

		newOffset, err := v.emitFrom(path, offset, fn)
		if err != nil {
			return err
		}
		offset = newOffset
	}
}

func (v *Viewer) emitFrom(path string, offset int64, fn func(Entry)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)
	read := offset
	for scanner.Scan() {
		line := scanner.Text()
		read += int64(len(line)) + 1
		entry := v.parseLine(line)
		if v.matches(entry) {
			fn(entry)
		}
	}
	return read, scanner.Err()
}

// parseLine decodes one slog JSON record; unparseable lines pass through
// raw so nothing is hidden from the operator.
func (v *Viewer) parseLine(line string) Entry {
	entry := Entry{Raw: line}

	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return entry
	}
	entry.IsValid = true

	if ts, ok := record["time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = t
		}
	}
	entry.Level, _ = record["level"].(string)
	entry.Msg, _ = record["msg"].(string)

	delete(record, "time")
	delete(record, "level")
	delete(record, "msg")
	if len(record) > 0 {
		entry.Attrs = record
	}
	return entry
}

func (v *Viewer) matches(entry Entry) bool {
	if v.hasLevel {
		if !entry.IsValid {
			return false
		}
		if ParseLevel(entry.Level) < v.minLevel {
			return false
		}
	}
	if v.config.Pattern != nil {
		if !v.config.Pattern.MatchString(entry.Msg) && !v.config.Pattern.MatchString(entry.Raw) {
			return false
		}
	}
	return true
}

// FormatEntry renders one entry for terminal display.
func FormatEntry(entry Entry) string {
	if !entry.IsValid {
		return entry.Raw
	}
	var sb strings.Builder
	if !entry.Time.IsZero() {
		sb.WriteString(entry.Time.Format("15:04:05.000"))
		sb.WriteByte(' ')
	}
	sb.WriteString(fmt.Sprintf("%-5s %s", entry.Level, entry.Msg))
	if len(entry.Attrs) > 0 {
		keys := make([]string, 0, len(entry.Attrs))
		for k := range entry.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf(" %s=%v", k, entry.Attrs[k]))
		}
	}
	return sb.String()
}

// rotationChain returns the live file followed by its rotations, newest
// rotation first.
func rotationChain(path string) []string {
	chain := []string{path}
	for i := 1; ; i++ {
		rotated := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(rotated); err != nil {
			break
		}
		chain = append(chain, rotated)
	}
	return chain
}

func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, maxLineBytes), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
