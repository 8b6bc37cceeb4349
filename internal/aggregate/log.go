package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eefei22/well-bot-EmotionRecognition/internal/result"
)

// ResultLog is the append-only JSONL log of aggregated records plus an
// in-memory ring of recent records for dashboard queries.
type ResultLog struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	recent    []result.AggregatedResult // newest first, capped at maxRecent
	maxRecent int
	written   uint64
}

// OpenResultLog opens (or creates) the JSONL log at path for appending.
func OpenResultLog(path string, maxRecent int) (*ResultLog, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open result log: %w", err)
	}

	return &ResultLog{
		file:      file,
		path:      path,
		maxRecent: maxRecent,
	}, nil
}

// Append writes each record as one JSON line and syncs the file. The
// in-memory ring is only updated once the write is confirmed durable, so
// callers may treat a nil return as permission to prune source data.
func (l *ResultLog) Append(records []result.AggregatedResult) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal aggregated record: %w", err)
		}
		if _, err := l.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write aggregated record: %w", err)
		}
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync result log: %w", err)
	}

	for _, record := range records {
		l.recent = append([]result.AggregatedResult{record}, l.recent...)
	}
	if len(l.recent) > l.maxRecent {
		l.recent = l.recent[:l.maxRecent]
	}
	l.written += uint64(len(records))

	return nil
}

// Recent returns up to limit recent records, newest first, optionally
// filtered to one user. A non-positive limit returns all retained records.
func (l *ResultLog) Recent(limit int, userID string) []result.AggregatedResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]result.AggregatedResult, 0, len(l.recent))
	for _, record := range l.recent {
		if userID != "" && record.UserID != userID {
			continue
		}
		out = append(out, record)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Written returns the total number of records appended since open.
func (l *ResultLog) Written() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Path returns the log file path.
func (l *ResultLog) Path() string {
	return l.path
}

// Close closes the underlying log file.
func (l *ResultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
