package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// eventSink captures pushed events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *eventSink) push(ev models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) snapshot() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

func (s *eventSink) waitFor(t *testing.T, want int) []models.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := s.snapshot()
		if len(events) >= want {
			return events
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pushed events, have %d", want, len(s.snapshot()))
	return nil
}

func TestLogWatchPushesAuthFailureEvents(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	require.NoError(t, os.WriteFile(logPath, []byte("boot line\n"), 0644))

	sink := &eventSink{}
	c := NewLogWatchCollector([]string{logPath}, zap.NewNop())
	c.RegisterPush(sink.push)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("Jan 1 00:00:00 host sshd[99]: Failed password for root from 10.0.0.9\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events := sink.waitFor(t, 1)
	assert.Equal(t, models.CategoryProcess, events[0].Category)
	assert.Equal(t, models.SeverityMedium, events[0].Severity)
	assert.Contains(t, events[0].Message, "Failed password")
}

func TestLogWatchTruncationIsTamperSignal(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\nline three\n"), 0644))

	sink := &eventSink{}
	c := NewLogWatchCollector([]string{logPath}, zap.NewNop())
	c.RegisterPush(sink.push)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	require.NoError(t, os.Truncate(logPath, 0))
	// A write is needed on some platforms for the truncate to surface.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events := sink.waitFor(t, 1)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
	assert.Contains(t, events[0].Message, "truncated")
}

func TestLogWatchStartFailsWithNoWatchablePaths(t *testing.T) {
	c := NewLogWatchCollector([]string{"/nonexistent/auth.log"}, zap.NewNop())
	c.RegisterPush(func(models.Event) {})

	err := c.Start(context.Background())
	assert.Error(t, err)

	// Stop is still owed after a failed start and must not block.
	assert.NoError(t, c.Stop())
}

func TestLogWatchStartIdempotentAndPollNil(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "auth.log")
	require.NoError(t, os.WriteFile(logPath, []byte(""), 0644))

	c := NewLogWatchCollector([]string{logPath}, zap.NewNop())
	c.RegisterPush(func(models.Event) {})

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	snap, err := c.Poll(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, snap, "push-only collector produces no snapshot")
}
