package collector

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// authFailureMarkers are substrings of security-log lines worth pushing
// as events between poll cycles.
var authFailureMarkers = []string{
	"Failed password",
	"authentication failure",
	"Invalid user",
	"POSSIBLE BREAK-IN ATTEMPT",
}

// LogWatchCollector tails the configured security log files through
// fsnotify and pushes events outside the poll cycle: failed
// authentication lines at medium severity and log truncation or removal
// (a tamper signal) at high. It is a push-only collector; Poll returns
// no snapshot.
type LogWatchCollector struct {
	paths   []string
	watcher *fsnotify.Watcher
	push    PushFunc
	offsets map[string]int64
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewLogWatchCollector builds the security-log watcher.
func NewLogWatchCollector(paths []string, logger *zap.Logger) *LogWatchCollector {
	return &LogWatchCollector{
		paths:   paths,
		offsets: make(map[string]int64),
		logger:  logger,
	}
}

func (c *LogWatchCollector) Name() string              { return "security-logs" }
func (c *LogWatchCollector) Category() models.Category { return models.CategoryFile }

// RegisterPush wires the event queue; must be called before Start.
func (c *LogWatchCollector) RegisterPush(fn PushFunc) { c.push = fn }

// Start opens the fsnotify watcher, seeds read offsets at the current end
// of each file, and begins the watch loop. Idempotent.
func (c *LogWatchCollector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, path := range c.paths {
		info, err := os.Stat(path)
		if err != nil {
			c.logger.Debug("security log not present, skipping", zap.String("path", path))
			continue
		}
		if err := watcher.Add(path); err != nil {
			c.logger.Debug("cannot watch security log", zap.String("path", path), zap.Error(err))
			continue
		}
		c.offsets[path] = info.Size()
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return fmt.Errorf("no watchable security logs among %d configured paths", len(c.paths))
	}

	c.watcher = watcher
	c.done = make(chan struct{})
	c.started = true
	go c.watchLoop(ctx)
	return nil
}

// Stop closes the watcher and waits for the loop to exit.
func (c *LogWatchCollector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	watcher := c.watcher
	done := c.done
	c.mu.Unlock()

	watcher.Close()
	<-done
	return nil
}

// Poll returns no snapshot: this collector only pushes.
func (c *LogWatchCollector) Poll(ctx context.Context) (*models.Snapshot, error) {
	return nil, nil
}

func (c *LogWatchCollector) watchLoop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			c.handleEvent(event)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

func (c *LogWatchCollector) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Write):
		c.scanAppended(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		c.pushEvent(models.NewEvent(
			models.CategoryFile,
			models.SeverityHigh,
			fmt.Sprintf("security log %s was removed or renamed", event.Name),
			"logtamper|"+event.Name,
			map[string]interface{}{"path": event.Name},
		))
	}
}

// scanAppended reads lines added since the last offset. A shrinking file
// means truncation, which is pushed as a tamper event.
func (c *LogWatchCollector) scanAppended(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	offset := c.offsets[path]
	if info.Size() < offset {
		c.offsets[path] = info.Size()
		c.pushEvent(models.NewEvent(
			models.CategoryFile,
			models.SeverityHigh,
			fmt.Sprintf("security log %s was truncated", path),
			"logtamper|"+path,
			map[string]interface{}{"path": path, "previous_size": offset, "size": info.Size()},
		))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(offset, 0); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, marker := range authFailureMarkers {
			if strings.Contains(line, marker) {
				c.pushEvent(models.NewEvent(
					models.CategoryProcess,
					models.SeverityMedium,
					fmt.Sprintf("security log entry matched %q", marker),
					fmt.Sprintf("authlog|%s|%s", path, marker),
					map[string]interface{}{"path": path, "line": line},
				))
				break
			}
		}
	}
	c.offsets[path] = info.Size()
}

func (c *LogWatchCollector) pushEvent(ev models.Event) {
	if c.push != nil {
		c.push(ev)
	}
}
