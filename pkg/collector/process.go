package collector

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// processSource abstracts how the process table is sampled. The default
// reads it directly through gopsutil; an osquery-backed source is used
// when a socket path is configured.
type processSource interface {
	sample(ctx context.Context) ([]models.Item, error)
	close() error
}

// ProcessCollector samples the running process table.
type ProcessCollector struct {
	source processSource
	logger *zap.Logger
}

// NewProcessCollector builds the process collector. An empty osquery
// socket path selects the direct gopsutil source.
func NewProcessCollector(osquerySocket string, logger *zap.Logger) *ProcessCollector {
	var source processSource = &gopsutilProcessSource{logger: logger}
	if osquerySocket != "" {
		source = &osqueryProcessSource{socketPath: osquerySocket, logger: logger}
	}
	return &ProcessCollector{source: source, logger: logger}
}

func (c *ProcessCollector) Name() string              { return "process" }
func (c *ProcessCollector) Category() models.Category { return models.CategoryProcess }

// Start is a no-op for the direct source; the osquery source connects
// lazily on first poll, so there is nothing to open here either.
func (c *ProcessCollector) Start(ctx context.Context) error { return nil }

// Stop releases the underlying source. Safe to call more than once.
func (c *ProcessCollector) Stop() error { return c.source.close() }

// Poll returns a fresh snapshot of all running processes.
func (c *ProcessCollector) Poll(ctx context.Context) (*models.Snapshot, error) {
	items, err := c.source.sample(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{
		Category:  models.CategoryProcess,
		Timestamp: time.Now().UTC(),
		Items:     items,
	}, nil
}

// gopsutilProcessSource reads the process table directly.
type gopsutilProcessSource struct {
	logger *zap.Logger
}

func (s *gopsutilProcessSource) sample(ctx context.Context) ([]models.Item, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		item := models.ProcessItem{PID: p.Pid}

		// Per-field errors are expected for short-lived or privileged
		// processes; the item is kept with whatever fields resolved.
		if name, err := p.NameWithContext(ctx); err == nil {
			item.Name = name
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			item.Exe = exe
			if info, err := os.Stat(exe); err == nil {
				item.ExeSize = info.Size()
			}
		}
		if user, err := p.UsernameWithContext(ctx); err == nil {
			item.Username = user
		}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			item.Cmdline = cmdline
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			item.StartTime = time.UnixMilli(created).UTC()
		}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			item.CPUPercent = cpu
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			item.MemoryRSS = mem.RSS
		}

		items = append(items, item)
	}
	return items, nil
}

func (s *gopsutilProcessSource) close() error { return nil }
