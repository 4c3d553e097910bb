package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "monitor.log")

	log, err := New(LogConfig{Level: "debug", Format: "json", Output: logPath})
	require.NoError(t, err)

	log.Info("cycle finished", "cycle_id", "abc", "error", errors.New("boom"))
	log.Sync()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle finished")
	assert.Contains(t, string(data), "boom")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "text"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(0))  // info
	assert.False(t, log.Core().Enabled(-1)) // debug
}

func TestConvertFields(t *testing.T) {
	fields := convertFields("a", 1, 42, "ignored", "b")
	require.Len(t, fields, 1)
	assert.Equal(t, "a", fields[0].Key)
}

func TestLogger_WithAndNamed(t *testing.T) {
	log := NewNopLogger().Named("loop").With("camera", "local")
	require.NotNil(t, log)
	log.Debug("noop")
}
