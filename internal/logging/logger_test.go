package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = New("nope")
	assert.Error(t, err)
}

func TestFor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	For(base, CategoryCapture).Info("saved", zap.String("path", "a.log"))
	For(base, CategoryTriage).Debug("armed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "capture", entries[0].LoggerName)
	assert.Equal(t, "a.log", entries[0].ContextMap()["path"])
	assert.Equal(t, "triage", entries[1].LoggerName)

	assert.NotPanics(t, func() { For(nil, CategorySession).Info("dropped") })
	assert.NotPanics(t, func() { OrNop(nil).Info("dropped") })
}
