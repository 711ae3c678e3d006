package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// LogLine is one JSON-lines record appended alongside the SQLite chain —
// a plain-text tail an operator can `tail -f` without a sqlite3 client.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Node      string    `json:"node"`
	Scope     string    `json:"scope,omitempty"`
	Action    string    `json:"action"`
	Name      string    `json:"name,omitempty"`
	Pid       string    `json:"pid,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Logger appends LogLine records to a file as newline-delimited JSON.
type Logger struct {
	file *os.File
	mu   sync.Mutex
}

// NewLogger opens (creating if absent) a JSON-lines log at logPath.
func NewLogger(logPath string) (*Logger, error) {
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Logger{file: file}, nil
}

// Log writes one line, fsyncing so a crash right after doesn't drop it.
func (l *Logger) Log(entry LogLine) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return l.file.Sync()
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	return l.file.Close()
}
