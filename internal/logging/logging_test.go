package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	svcwrap "github.com/axondata/go-svcwrap"
)

func TestNewWritesJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closeFn, err := New(Options{
		Level:   "info",
		Dir:     dir,
		File:    "supervisor.log",
		MaxSize: 1,
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("worker started", zap.Int("pid", 42))
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, "supervisor.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "worker started", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 42, entry["pid"])
}

func TestNewConsoleTee(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn, err := New(Options{
		Level:   "debug",
		Dir:     t.TempDir(),
		File:    "supervisor.log",
		Console: true,
		Stderr:  &console,
	})
	require.NoError(t, err)

	logger.Debug("probing worker")
	closeFn()
	assert.Contains(t, console.String(), "probing worker")
}

func TestNewFallsBackToConsole(t *testing.T) {
	// A regular file where the log directory should be.
	blocker := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	var console bytes.Buffer
	logger, closeFn, err := New(Options{
		Level:  "info",
		Dir:    blocker,
		File:   "supervisor.log",
		Stderr: &console,
	})
	defer closeFn()

	var commErr *svcwrap.CommunicationError
	require.True(t, errors.As(err, &commErr))
	assert.Equal(t, "log file", commErr.Sink)

	require.NotNil(t, logger)
	logger.Info("still logging")
	assert.Contains(t, console.String(), "still logging")
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var console bytes.Buffer
	logger, closeFn, err := New(Options{Level: "chatty", Console: true, Stderr: &console})
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("dropped")
	logger.Info("kept")
	assert.NotContains(t, console.String(), "dropped")
	assert.Contains(t, console.String(), "kept")
}

func TestRotatingWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	w, err := RotatingWriter(dir, "worker.log", 5, 2, 7)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.Equal(t, filepath.Join(dir, "worker.log"), w.Filename)
	assert.Equal(t, 5, w.MaxSize)
	assert.FileExists(t, w.Filename)

	_, err = w.Write([]byte("hello from the worker\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(w.Filename)
	require.NoError(t, err)
	assert.Equal(t, "hello from the worker\n", string(data))
}
