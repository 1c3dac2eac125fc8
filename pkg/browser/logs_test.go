package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rodharness/internal/config"
)

func TestLogEntry_String(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 123_000_000, time.FixedZone("X", 3600))
	e := LogEntry{Time: ts, Level: LevelWarning, Message: "first line\n\tsecond   line "}
	assert.Equal(t, "2024-03-05T13:07:09.123Z WARNING first line second line", e.String())
}

func TestLogStore(t *testing.T) {
	t.Run("drains", func(t *testing.T) {
		s := newLogStore([]string{config.LogBrowser, config.LogDriver})
		s.add(config.LogBrowser, LogEntry{Level: LevelInfo, Message: "a"})
		s.add(config.LogBrowser, LogEntry{Level: LevelInfo, Message: "b"})
		s.add(config.LogDriver, LogEntry{Level: LevelDebug, Message: "Page.navigate"})

		lines, err := s.fetchLogs(config.LogBrowser)
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.True(t, strings.HasSuffix(lines[0], " INFO a"))
		assert.True(t, strings.HasSuffix(lines[1], " INFO b"))

		lines, err = s.fetchLogs(config.LogBrowser)
		require.NoError(t, err)
		assert.Empty(t, lines)

		lines, err = s.fetchLogs(config.LogDriver)
		require.NoError(t, err)
		assert.Len(t, lines, 1)
	})

	t.Run("disabled channel collects nothing", func(t *testing.T) {
		s := newLogStore([]string{config.LogBrowser})
		s.add(config.LogPerformance, LogEntry{Message: "x"})
		lines, err := s.fetchLogs(config.LogPerformance)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})

	t.Run("bounded", func(t *testing.T) {
		s := newLogStore([]string{config.LogBrowser})
		for i := 0; i < maxEntries+5; i++ {
			s.add(config.LogBrowser, LogEntry{Message: fmt.Sprint(i)})
		}
		got := s.drain(config.LogBrowser)
		require.Len(t, got, maxEntries)
		assert.Equal(t, "5", got[0].Message)
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := newLogStore(nil).fetchLogs("bogus")
		require.ErrorIs(t, err, config.ErrInvalid)
		assert.Contains(t, err.Error(), "LogType bogus invalid")
	})

	t.Run("unsupported type yields one error line", func(t *testing.T) {
		for _, typ := range []string{config.LogClient, config.LogServer} {
			lines, err := newLogStore([]string{typ}).fetchLogs(typ)
			require.NoError(t, err)
			require.Len(t, lines, 1)
			assert.True(t, strings.HasPrefix(lines[0], "ERROR FETCHING LOGS: "), lines[0])
		}
	})
}

func TestSessionFetchLogs(t *testing.T) {
	s := &Session{logs: newLogStore([]string{config.LogBrowser})}
	s.logs.add(config.LogBrowser, LogEntry{Level: LevelSevere, Message: "boom"})

	lines, err := s.FetchLogs(config.LogBrowser)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "SEVERE boom")
}

func TestLevels(t *testing.T) {
	assert.Equal(t, LevelSevere, consoleLevel(proto.RuntimeConsoleAPICalledTypeError))
	assert.Equal(t, LevelWarning, consoleLevel(proto.RuntimeConsoleAPICalledTypeWarning))
	assert.Equal(t, LevelDebug, consoleLevel(proto.RuntimeConsoleAPICalledTypeDebug))
	assert.Equal(t, LevelInfo, consoleLevel(proto.RuntimeConsoleAPICalledTypeLog))

	assert.Equal(t, LevelSevere, entryLevel(proto.LogLogEntryLevelError))
	assert.Equal(t, LevelDebug, entryLevel(proto.LogLogEntryLevelVerbose))
	assert.Equal(t, LevelInfo, entryLevel(proto.LogLogEntryLevelInfo))
}

func TestSaveLogs(t *testing.T) {
	fs := afero.NewMemMapFs()

	t.Run("no dir", func(t *testing.T) {
		path, err := SaveLogs(fs, []string{"x"}, "t-browser-{N}.log", "")
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("numbered files", func(t *testing.T) {
		dir := filepath.Join("out", "logs")
		p1, err := SaveLogs(fs, []string{"one", "two"}, "t-browser-{N}.log", dir)
		require.NoError(t, err)
		p2, err := SaveLogs(fs, []string{"three"}, "t-browser-{N}.log", dir)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "t-browser-1.log"), p1)
		assert.Equal(t, filepath.Join(dir, "t-browser-2.log"), p2)

		data, err := afero.ReadFile(fs, p1)
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("plain name appends", func(t *testing.T) {
		_, err := SaveLogs(fs, []string{"a"}, "all.log", "out")
		require.NoError(t, err)
		_, err = SaveLogs(fs, []string{"b"}, "all.log", "out")
		require.NoError(t, err)

		data, err := afero.ReadFile(fs, filepath.Join("out", "all.log"))
		require.NoError(t, err)
		assert.Equal(t, "a\nb\n", string(data))
	})
}

func TestSaveScreenshot_NoDir(t *testing.T) {
	s := &Session{fs: afero.NewMemMapFs()}
	path, err := s.SaveScreenshot(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, path)
}
