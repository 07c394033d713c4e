package models

import (
	"fmt"
	"strconv"
	"time"
)

// Category identifies one class of observation produced by a collector.
type Category string

const (
	CategoryProcess       Category = "process"
	CategoryNetwork       Category = "network"
	CategoryPersistence   Category = "persistence"
	CategoryFile          Category = "file"
	CategoryMalware       Category = "malware"
	CategoryVulnerability Category = "vulnerability"
)

// Severity ranks how urgent an event is for the central service.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Item is a single observation within a snapshot. Key must be unique within
// one snapshot of a category; Fingerprint covers the mutable fields so two
// items with equal keys can be compared across consecutive snapshots.
type Item interface {
	Key() string
	Fingerprint() string
}

// Snapshot is the complete set of observed items for one category at one
// poll instant. Snapshots are never mutated after the collector returns them.
type Snapshot struct {
	Category  Category  `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Items     []Item    `json:"items"`
}

// ProcessItem describes one running process.
type ProcessItem struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	Exe        string    `json:"exe"`
	Username   string    `json:"username"`
	Cmdline    string    `json:"cmdline"`
	StartTime  time.Time `json:"start_time"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	ExeSize    int64     `json:"exe_size"`
	Version    string    `json:"version,omitempty"`

	// SignatureStatus is filled in on platforms that expose code-signing
	// state: "valid", "invalid", "unsigned" or empty when unknown.
	SignatureStatus string `json:"signature_status,omitempty"`
}

func (p ProcessItem) Key() string { return strconv.FormatInt(int64(p.PID), 10) }

func (p ProcessItem) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%d", p.Name, p.Exe, p.Cmdline, p.StartTime.Unix())
}

// ConnectionItem describes one network connection. Identity is the
// (protocol, local, remote) tuple, not the owning pid, so a restarted
// process reusing the same socket does not show up as a change.
type ConnectionItem struct {
	Protocol    string `json:"protocol"`
	LocalIP     string `json:"local_ip"`
	LocalPort   uint32 `json:"local_port"`
	RemoteIP    string `json:"remote_ip"`
	RemotePort  uint32 `json:"remote_port"`
	State       string `json:"state"`
	PID         int32  `json:"pid"`
	ProcessName string `json:"process_name,omitempty"`
	RemoteGeo   string `json:"remote_geo,omitempty"`
}

func (c ConnectionItem) Key() string {
	return fmt.Sprintf("%s|%s:%d|%s:%d", c.Protocol, c.LocalIP, c.LocalPort, c.RemoteIP, c.RemotePort)
}

func (c ConnectionItem) Fingerprint() string {
	return fmt.Sprintf("%s|%d", c.State, c.PID)
}

// PersistencePointItem describes one autorun-equivalent location: a path
// that can cause code to execute automatically, plus a hash of its content
// so edits are detectable without retaining the content itself.
type PersistencePointItem struct {
	KeyPath     string    `json:"key_path"`
	Value       string    `json:"value"`
	ContentHash string    `json:"content_hash"`
	ModTime     time.Time `json:"mod_time"`
}

func (p PersistencePointItem) Key() string         { return p.KeyPath }
func (p PersistencePointItem) Fingerprint() string { return p.ContentHash }

// FileArtifact describes one file found in a scanned directory.
type FileArtifact struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	SHA256  string    `json:"sha256,omitempty"`
	Tags    []string  `json:"tags,omitempty"`
}

func (f FileArtifact) Key() string { return f.Path }

func (f FileArtifact) Fingerprint() string {
	return fmt.Sprintf("%d|%d|%s", f.Size, f.ModTime.Unix(), f.SHA256)
}

// Event is a classified, queued unit of information destined for the
// central service. Immutable once enqueued.
type Event struct {
	Category  Category               `json:"category"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	DedupKey  string                 `json:"dedup_key"`

	// Attempts counts failed delivery attempts; maintained by the queue,
	// never serialized.
	Attempts int `json:"-"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(category Category, severity Severity, message, dedupKey string, details map[string]interface{}) Event {
	return Event{
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Details:   details,
		DedupKey:  dedupKey,
	}
}
