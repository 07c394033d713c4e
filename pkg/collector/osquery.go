package collector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	osquery "github.com/osquery/osquery-go"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

// Process queries tried in order on the first sample; the first one this
// osqueryd accepts is kept. The versioned variants join the host's
// package table so running services carry an installed version for the
// vulnerable-software check; hosts without that table fall back to the
// plain query and leave Version empty.
var osqueryProcessQueries = []string{
	"SELECT p.pid, p.name, p.path, p.cmdline, p.start_time, d.version FROM processes p LEFT JOIN deb_packages d ON d.name = p.name;",
	"SELECT p.pid, p.name, p.path, p.cmdline, p.start_time, r.version FROM processes p LEFT JOIN rpm_packages r ON r.name = p.name;",
	"SELECT pid, name, path, cmdline, start_time FROM processes;",
}

// osqueryProcessSource samples the process table through a local osqueryd
// socket instead of reading it directly. The client is opened lazily on
// first poll and reopened after a failure.
type osqueryProcessSource struct {
	socketPath string
	client     *osquery.ExtensionManagerClient
	query      string
	logger     *zap.Logger
}

func (s *osqueryProcessSource) connect() error {
	if s.client != nil {
		return nil
	}
	client, err := osquery.NewClient(s.socketPath, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to osqueryd: %w", err)
	}
	s.client = client
	return nil
}

func (s *osqueryProcessSource) sample(ctx context.Context) ([]models.Item, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}
	if s.query == "" {
		if err := s.selectQuery(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := s.client.QueryContext(ctx, s.query)
	if err != nil {
		// Drop the client so the next poll reconnects.
		s.client.Close()
		s.client = nil
		return nil, fmt.Errorf("osquery query failed: %w", err)
	}
	if resp.Status.Code != 0 {
		return nil, fmt.Errorf("osquery error: %s", resp.Status.Message)
	}

	items := make([]models.Item, 0, len(resp.Response))
	for _, row := range resp.Response {
		item, ok := processItemFromRow(row)
		if !ok {
			s.logger.Debug("skipping osquery row with bad pid", zap.String("pid", row["pid"]))
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// selectQuery probes the candidate queries and keeps the first one the
// daemon accepts. A rejected query (missing package table) moves on to
// the next candidate; a transport failure aborts the poll.
func (s *osqueryProcessSource) selectQuery(ctx context.Context) error {
	for _, q := range osqueryProcessQueries {
		resp, err := s.client.QueryContext(ctx, q)
		if err != nil {
			s.client.Close()
			s.client = nil
			return fmt.Errorf("osquery query failed: %w", err)
		}
		if resp.Status.Code == 0 {
			s.query = q
			return nil
		}
		s.logger.Debug("osquery rejected process query, trying next variant",
			zap.String("message", resp.Status.Message))
	}
	return fmt.Errorf("osqueryd accepted none of the process queries")
}

func (s *osqueryProcessSource) close() error {
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	return nil
}

// processItemFromRow converts one osquery result row. Rows without a
// parseable pid are skipped.
func processItemFromRow(row map[string]string) (models.ProcessItem, bool) {
	pid, err := strconv.ParseInt(row["pid"], 10, 32)
	if err != nil {
		return models.ProcessItem{}, false
	}
	item := models.ProcessItem{
		PID:     int32(pid),
		Name:    row["name"],
		Exe:     row["path"],
		Cmdline: row["cmdline"],
		Version: row["version"],
	}
	if start, err := strconv.ParseInt(row["start_time"], 10, 64); err == nil {
		item.StartTime = time.Unix(start, 0).UTC()
	}
	return item, true
}
