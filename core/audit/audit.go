// Package audit appends verdicts and plugin-scan outcomes to a JSON Lines
// log with size-based rotation. The log is fail-open: an audit failure never
// blocks a verdict.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sage-hq/sage/core/artifact"
	"github.com/sage-hq/sage/core/decision"
)

// Rotation defaults.
const (
	DefaultMaxBytes = 5242880
	DefaultMaxFiles = 3
)

// Entry types.
const (
	TypeVerdict    = "verdict"
	TypePluginScan = "plugin_scan"
)

// Entry is one audit line.
type Entry struct {
	Type             string              `json:"type"`
	Timestamp        time.Time           `json:"timestamp"`
	SessionID        string              `json:"session_id,omitempty"`
	ToolName         string              `json:"tool_name,omitempty"`
	ToolInputSummary string              `json:"tool_input_summary,omitempty"`
	Artifacts        []artifact.Artifact `json:"artifacts,omitempty"`
	Verdict          decision.Decision   `json:"verdict,omitempty"`
	Severity         decision.Severity   `json:"severity,omitempty"`
	Reasons          []string            `json:"reasons,omitempty"`
	Source           string              `json:"source,omitempty"`
	UserOverride     bool                `json:"user_override,omitempty"`
}

// Logger appends entries to a JSONL file, rotating when the active file
// reaches MaxBytes. MaxBytes or MaxFiles of zero disables rotation.
type Logger struct {
	Path     string
	MaxBytes int64
	MaxFiles int
	LogClean bool
}

// NewLogger returns a logger with the default rotation policy.
func NewLogger(path string) *Logger {
	return &Logger{Path: path, MaxBytes: DefaultMaxBytes, MaxFiles: DefaultMaxFiles}
}

// Append writes one entry. Allow verdicts are skipped unless the logger is
// configured to log clean calls or the entry records a user override.
func (l *Logger) Append(e Entry) error {
	if e.Type == TypeVerdict && e.Verdict == decision.Allow && !l.LogClean && !e.UserOverride {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if err := l.rotate(); err != nil {
		return fmt.Errorf("rotating audit log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o700); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// rotate shifts backups when the active file is at or over the size limit:
// .N is dropped, .N-1 becomes .N, and the active file becomes .1.
func (l *Logger) rotate() error {
	if l.MaxBytes <= 0 || l.MaxFiles <= 0 {
		return nil
	}
	info, err := os.Stat(l.Path)
	if err != nil || info.Size() < l.MaxBytes {
		return nil
	}

	os.Remove(fmt.Sprintf("%s.%d", l.Path, l.MaxFiles))
	for i := l.MaxFiles - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", l.Path, i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, fmt.Sprintf("%s.%d", l.Path, i+1)); err != nil {
				return err
			}
		}
	}
	return os.Rename(l.Path, l.Path+".1")
}

// Read returns up to limit entries from the active file, oldest first, with
// limit <= 0 meaning all. Malformed lines are skipped so a torn final write
// does not hide the rest of the log.
func (l *Logger) Read(limit int) ([]Entry, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var entries []Entry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		var e Entry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		entries = append(entries, e)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
