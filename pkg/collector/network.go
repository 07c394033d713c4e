package collector

import (
	"net"
	"time"

	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oschwald/geoip2-golang"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

const processNameCacheSize = 2048

// NetworkCollector samples the connection table. Owning process names are
// resolved through an LRU cache keyed by pid so a busy endpoint does not
// re-read the process table for every connection. When a GeoIP database
// is configured, remote addresses are annotated with their country code.
type NetworkCollector struct {
	geoipPath string
	geoip     *geoip2.Reader
	nameCache *lru.Cache
	logger    *zap.Logger
}

// NewNetworkCollector builds the network collector. An empty geoipPath
// disables enrichment.
func NewNetworkCollector(geoipPath string, logger *zap.Logger) (*NetworkCollector, error) {
	cache, err := lru.New(processNameCacheSize)
	if err != nil {
		return nil, err
	}
	return &NetworkCollector{
		geoipPath: geoipPath,
		nameCache: cache,
		logger:    logger,
	}, nil
}

func (c *NetworkCollector) Name() string              { return "network" }
func (c *NetworkCollector) Category() models.Category { return models.CategoryNetwork }

// Start opens the GeoIP database when configured. A missing database is
// logged and enrichment disabled rather than failing the collector.
func (c *NetworkCollector) Start(ctx context.Context) error {
	if c.geoipPath == "" || c.geoip != nil {
		return nil
	}
	reader, err := geoip2.Open(c.geoipPath)
	if err != nil {
		c.logger.Warn("geoip database unavailable, enrichment disabled",
			zap.String("path", c.geoipPath), zap.Error(err))
		return nil
	}
	c.geoip = reader
	return nil
}

// Stop closes the GeoIP reader.
func (c *NetworkCollector) Stop() error {
	if c.geoip != nil {
		c.geoip.Close()
		c.geoip = nil
	}
	return nil
}

// Poll returns a fresh snapshot of all inet connections.
func (c *NetworkCollector) Poll(ctx context.Context) (*models.Snapshot, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(conns))
	for _, conn := range conns {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		item := models.ConnectionItem{
			Protocol:   protocolName(conn.Type),
			LocalIP:    conn.Laddr.IP,
			LocalPort:  conn.Laddr.Port,
			RemoteIP:   conn.Raddr.IP,
			RemotePort: conn.Raddr.Port,
			State:      conn.Status,
			PID:        conn.Pid,
		}
		if conn.Pid > 0 {
			item.ProcessName = c.resolveProcessName(ctx, conn.Pid)
		}
		if c.geoip != nil && conn.Raddr.IP != "" {
			item.RemoteGeo = c.lookupCountry(conn.Raddr.IP)
		}
		items = append(items, item)
	}

	return &models.Snapshot{
		Category:  models.CategoryNetwork,
		Timestamp: time.Now().UTC(),
		Items:     items,
	}, nil
}

// resolveProcessName maps a pid to its process name through the cache.
// Unresolvable pids (exited processes, permissions) yield an empty name.
func (c *NetworkCollector) resolveProcessName(ctx context.Context, pid int32) string {
	if cached, ok := c.nameCache.Get(pid); ok {
		return cached.(string)
	}
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return ""
	}
	c.nameCache.Add(pid, name)
	return name
}

// lookupCountry returns the ISO country code for an IP, or empty for
// private/unresolvable addresses.
func (c *NetworkCollector) lookupCountry(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() {
		return ""
	}
	record, err := c.geoip.Country(parsed)
	if err != nil || record == nil {
		return ""
	}
	return record.Country.IsoCode
}

// protocolName maps the socket type from the connection table to a
// protocol label.
func protocolName(sockType uint32) string {
	switch sockType {
	case 1: // SOCK_STREAM
		return "tcp"
	case 2: // SOCK_DGRAM
		return "udp"
	default:
		return "other"
	}
}
