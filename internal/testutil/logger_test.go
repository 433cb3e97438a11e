package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/testutil"
)

func TestRecordingLogger(t *testing.T) {
	logger := testutil.NewRecordingLogger()

	logger.Info("store loaded", logging.String("fingerprint", "abc"))
	logger.Error("reload failed")

	entries := logger.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[0].Level)
	v, ok := entries[0].Field("fingerprint")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	assert.True(t, logger.Has("error", "reload failed"))
	assert.False(t, logger.Has("info", "reload failed"))
	assert.True(t, logger.Contains("loaded"))

	logger.Reset()
	assert.Empty(t, logger.Entries())
}

func TestRecordingLogger_DerivedShareEntries(t *testing.T) {
	root := testutil.NewRecordingLogger()
	child := root.Named("patterns").Named("watcher").With(logging.Int("attempt", 2))

	child.Warn("debounced")

	e, ok := root.Find(func(e testutil.LogEntry) bool { return e.Message == "debounced" })
	require.True(t, ok)
	assert.Equal(t, "patterns.watcher", e.Logger)
	v, _ := e.Field("attempt")
	assert.Equal(t, 2, v)
}
