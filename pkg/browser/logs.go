package browser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/spf13/afero"

	"rodharness/internal/config"
	"rodharness/pkg/numbered"
)

// Severities of collected log entries.
const (
	LevelSevere  = "SEVERE"
	LevelWarning = "WARNING"
	LevelInfo    = "INFO"
	LevelDebug   = "DEBUG"
)

// TimestampFormat is the ISO-8601 layout used in saved log lines.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// maxEntries bounds each channel's buffer; the oldest entries are dropped first.
const maxEntries = 10000

// ErrUnsupportedLogType is reported for channels Chrome cannot provide.
var ErrUnsupportedLogType = errors.New("log type not supported by this browser")

// LogEntry is one collected log message.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// String formats the entry as "<timestamp> <level> <message>" on a single line.
func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s %s", e.Time.UTC().Format(TimestampFormat), e.Level, oneLine(e.Message))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// logStore buffers entries per enabled channel until they are fetched.
type logStore struct {
	mu      sync.Mutex
	enabled map[string]bool
	entries map[string][]LogEntry
}

func newLogStore(types []string) *logStore {
	s := &logStore{
		enabled: make(map[string]bool, len(types)),
		entries: make(map[string][]LogEntry),
	}
	for _, t := range types {
		s.enabled[t] = true
	}
	return s
}

func (s *logStore) isEnabled(channel string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[channel]
}

func (s *logStore) add(channel string, e LogEntry) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled[channel] {
		return
	}
	buf := append(s.entries[channel], e)
	if len(buf) > maxEntries {
		buf = buf[len(buf)-maxEntries:]
	}
	s.entries[channel] = buf
}

// drain removes and returns everything buffered for channel.
func (s *logStore) drain(channel string) []LogEntry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries[channel]
	delete(s.entries, channel)
	return out
}

// fetchLogs returns and clears the buffered lines of one channel. Channels Chrome cannot
// provide yield a single "ERROR FETCHING LOGS" line instead of an error.
func (s *logStore) fetchLogs(logType string) ([]string, error) {
	if !validLogType(logType) {
		return nil, fmt.Errorf("%w: LogType %s invalid", config.ErrInvalid, logType)
	}
	switch logType {
	case config.LogClient, config.LogServer:
		return []string{fmt.Sprintf("ERROR FETCHING LOGS: %s: %v", logType, ErrUnsupportedLogType)}, nil
	}
	entries := s.drain(logType)
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.String())
	}
	return lines, nil
}

func consoleLevel(t proto.RuntimeConsoleAPICalledType) string {
	switch t {
	case proto.RuntimeConsoleAPICalledTypeError, proto.RuntimeConsoleAPICalledTypeAssert:
		return LevelSevere
	case proto.RuntimeConsoleAPICalledTypeWarning:
		return LevelWarning
	case proto.RuntimeConsoleAPICalledTypeDebug:
		return LevelDebug
	}
	return LevelInfo
}

func entryLevel(l proto.LogLogEntryLevel) string {
	switch l {
	case proto.LogLogEntryLevelError:
		return LevelSevere
	case proto.LogLogEntryLevelWarning:
		return LevelWarning
	case proto.LogLogEntryLevelVerbose:
		return LevelDebug
	}
	return LevelInfo
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

// SaveLogs appends messages, one per line, to a numbered file built from relPath under dir.
// An empty dir disables saving and returns "".
func SaveLogs(fsys afero.Fs, messages []string, relPath, dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	full := filepath.Join(dir, relPath)
	if err := fsys.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create log directory: %w", err)
	}
	path, err := numbered.Create(fsys, full)
	if err != nil {
		return "", err
	}
	f, err := fsys.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m)
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return "", fmt.Errorf("write log file: %w", err)
	}
	return path, nil
}
