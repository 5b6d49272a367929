package svcwrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFileRoundTrip(t *testing.T) {
	p := Paths{ConfigDir: t.TempDir()}
	sink := NewStatusFile(p)
	assert.Equal(t, filepath.Join(p.ConfigDir, StatusFileName), sink.Path)

	r := NewStatusReport(StateRunning, 321)
	r.Err = errors.New("previous failure")
	require.NoError(t, sink.PublishStatus(r))

	got, err := ReadStatusFile(sink.Path)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, 321, got.PID)
	assert.Equal(t, AcceptsFor(StateRunning), got.Accepts)
	require.Error(t, got.Err)
	assert.Equal(t, "previous failure", got.Err.Error())

	require.NoError(t, sink.PublishStatus(NewStatusReport(StateStopped, 0)))
	got, err = ReadStatusFile(sink.Path)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, got.State)
	assert.Nil(t, got.Err)
}

func TestStatusFileMissingDirectory(t *testing.T) {
	sink := &StatusFile{Path: filepath.Join(t.TempDir(), "missing", StatusFileName)}
	assert.Error(t, sink.PublishStatus(NewStatusReport(StateRunning, 1)))
}

func TestReadStatusFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadStatusFile(filepath.Join(dir, "absent.json"))
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), FileMode))
	_, err = ReadStatusFile(bad)
	assert.Error(t, err)
}

func TestWatchStatusFile(t *testing.T) {
	p := Paths{ConfigDir: t.TempDir()}
	sink := NewStatusFile(p)

	events, cleanup, err := WatchStatusFile(context.Background(), sink.Path)
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	// Unrelated files in the directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(p.ConfigDir, "other.txt"), []byte("x"), FileMode))

	require.NoError(t, sink.PublishStatus(NewStatusReport(StateStopPending, 0)))

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.Equal(t, StateStopPending, ev.Report.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for status file change")
	}
}

func TestWatchStatusFileCleanupClosesChannel(t *testing.T) {
	p := Paths{ConfigDir: t.TempDir()}

	events, cleanup, err := WatchStatusFile(context.Background(), p.StatusFile())
	require.NoError(t, err)
	require.NoError(t, cleanup())

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cleanup")
	}
}

func TestWatchStatusFileMissingDirectory(t *testing.T) {
	_, _, err := WatchStatusFile(context.Background(), filepath.Join(t.TempDir(), "nope", StatusFileName))
	assert.Error(t, err)
}
