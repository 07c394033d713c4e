// Package sysinfo provides the platform hooks the lifecycle controller
// composes: host identity for registration and system metrics for the
// heartbeat. The Provider interface exists so tests can substitute a
// fixed implementation.
package sysinfo

import (
	"context"
	"fmt"
	"net"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo identifies this endpoint to the central service.
type HostInfo struct {
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
	OS        string `json:"os"`
	OSVersion string `json:"os_version"`
}

// Metrics is the liveness payload attached to each heartbeat.
type Metrics struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	DiskPercent     float64 `json:"disk_percent"`
	UptimeSeconds   uint64  `json:"uptime_seconds"`
	ProcessCount    int     `json:"process_count"`
	ConnectionCount int     `json:"connection_count"`
}

// Provider exposes the per-platform probes behind one interface.
type Provider interface {
	HostInfo(ctx context.Context) (HostInfo, error)
	Metrics(ctx context.Context) (Metrics, error)
}

// System is the gopsutil-backed Provider.
type System struct{}

// NewSystem returns the real provider for the current platform.
func NewSystem() *System { return &System{} }

// HostInfo returns hostname, primary non-loopback IPv4 and OS identity.
func (s *System) HostInfo(ctx context.Context) (HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to read host info: %w", err)
	}
	return HostInfo{
		Hostname:  info.Hostname,
		IPAddress: primaryIPv4(),
		OS:        info.OS,
		OSVersion: fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion),
	}, nil
}

// Metrics samples the heartbeat metrics. Individual probe failures zero
// that metric rather than failing the whole heartbeat.
func (s *System) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, rootPath()); err == nil {
		m.DiskPercent = du.UsedPercent
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		m.UptimeSeconds = uptime
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		m.ProcessCount = len(pids)
	}
	if conns, err := gopsnet.ConnectionsWithContext(ctx, "inet"); err == nil {
		m.ConnectionCount = len(conns)
	}
	return m, nil
}

// primaryIPv4 returns the first non-loopback IPv4 address, or empty when
// the host has none.
func primaryIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
