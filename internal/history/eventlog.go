// Package history - eventlog.go appends alert lines to a JSONL file.
//
// DESIGN: One JSON object per line, appended immediately after each event.
// The write is best-effort: callers log a failure and carry on, because the
// durable line log must never block or fail the alert path.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AlertLine is one durable event log entry.
type AlertLine struct {
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}

// EventLog appends alert lines to a JSONL file.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// NewEventLog ensures the log file exists and is writable.
func NewEventLog(path string) (*EventLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create event log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log '%s': %w", path, err)
	}
	f.Close()

	return &EventLog{path: path}, nil
}

// Append writes one line to the log.
func (l *EventLog) Append(line AlertLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}
