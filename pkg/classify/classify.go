// Package classify scores single snapshot items against the configured
// heuristics. Classifiers are pure functions over immutable rule data:
// rules are compiled once from configuration and never mutated.
package classify

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hostsentry/agent/config"
	"github.com/hostsentry/agent/internal/models"
)

// Verdict is the outcome of classifying one item. Rules are applied in
// order and the first match decides the severity, but every matching
// rule contributes its reason.
type Verdict struct {
	Suspicious bool
	Severity   models.Severity
	Reasons    []string

	// Confidence is only set for vulnerability matches; it is the fixed
	// scalar from the vulnerability table, surfaced unchanged.
	Confidence float64
}

func (v *Verdict) add(severity models.Severity, reason string) {
	if !v.Suspicious {
		v.Suspicious = true
		v.Severity = severity
	}
	v.Reasons = append(v.Reasons, reason)
}

// Classifier holds the compiled rule data.
type Classifier struct {
	names      []string
	dirs       []string
	ports      map[uint32]struct{}
	extensions map[string]struct{}
	minExeSize int64
}

// New compiles the detection configuration into a classifier. Name tokens
// and directory prefixes are lowercased once here so every comparison is
// case-insensitive without repeated allocations.
func New(det config.Detection) *Classifier {
	c := &Classifier{
		ports:      make(map[uint32]struct{}, len(det.SuspiciousPorts)),
		extensions: make(map[string]struct{}, len(det.SuspiciousExtensions)),
		minExeSize: det.MinExecutableSize,
	}
	for _, name := range det.SuspiciousNames {
		c.names = append(c.names, strings.ToLower(name))
	}
	for _, dir := range det.SuspiciousDirectories {
		c.dirs = append(c.dirs, strings.ToLower(dir))
	}
	for _, port := range det.SuspiciousPorts {
		c.ports[port] = struct{}{}
	}
	for _, ext := range det.SuspiciousExtensions {
		c.extensions[strings.ToLower(ext)] = struct{}{}
	}
	return c
}

// matchName returns the first suspicious token contained in s, if any.
func (c *Classifier) matchName(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, token := range c.names {
		if strings.Contains(lower, token) {
			return token, true
		}
	}
	return "", false
}

// matchDir returns the suspicious directory that prefixes path, if any.
func (c *Classifier) matchDir(path string) (string, bool) {
	lower := strings.ToLower(path)
	for _, dir := range c.dirs {
		if strings.HasPrefix(lower, dir) {
			return dir, true
		}
	}
	return "", false
}

func (c *Classifier) suspiciousExtension(path string) bool {
	_, ok := c.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Process classifies a newly observed process.
func (c *Classifier) Process(item models.ProcessItem) Verdict {
	var v Verdict
	if token, ok := c.matchName(item.Name); ok {
		v.add(models.SeverityHigh, fmt.Sprintf("process name matches suspicious token %q", token))
	} else if token, ok := c.matchName(item.Cmdline); ok {
		v.add(models.SeverityHigh, fmt.Sprintf("command line matches suspicious token %q", token))
	}
	if dir, ok := c.matchDir(item.Exe); ok {
		v.add(models.SeverityHigh, fmt.Sprintf("executable runs from suspicious directory %q", dir))
	}
	if item.ExeSize > 0 && item.ExeSize < c.minExeSize {
		v.add(models.SeverityMedium, fmt.Sprintf("executable smaller than %d bytes", c.minExeSize))
	}
	switch item.SignatureStatus {
	case "invalid":
		v.add(models.SeverityMedium, "executable has an invalid code signature")
	case "unsigned":
		v.add(models.SeverityMedium, "executable is unsigned")
	}
	return v
}

// Connection classifies a newly observed network connection.
func (c *Classifier) Connection(item models.ConnectionItem) Verdict {
	var v Verdict
	if _, ok := c.ports[item.RemotePort]; ok {
		v.add(models.SeverityHigh, fmt.Sprintf("remote port %d is a known suspicious port", item.RemotePort))
	}
	if token, ok := c.matchName(item.ProcessName); ok {
		v.add(models.SeverityMedium, fmt.Sprintf("owning process matches suspicious token %q", token))
	}
	return v
}

// Persistence classifies a newly observed persistence point. Any new
// autorun-equivalent entry is at least medium; keyword or suspicious
// directory hits in its value escalate it.
func (c *Classifier) Persistence(item models.PersistencePointItem) Verdict {
	var v Verdict
	if token, ok := c.matchName(item.Value); ok {
		v.add(models.SeverityHigh, fmt.Sprintf("persistence value matches suspicious token %q", token))
	}
	if dir, ok := c.matchDir(item.Value); ok {
		v.add(models.SeverityHigh, fmt.Sprintf("persistence value references suspicious directory %q", dir))
	}
	v.add(models.SeverityMedium, fmt.Sprintf("new persistence point %q", item.KeyPath))
	return v
}

// File classifies a newly observed file artifact. A suspicious extension
// inside a suspicious directory is flagged regardless of name.
func (c *Classifier) File(item models.FileArtifact) Verdict {
	var v Verdict
	if token, ok := c.matchName(filepath.Base(item.Path)); ok {
		v.add(models.SeverityHigh, fmt.Sprintf("file name matches suspicious token %q", token))
	}
	dir, inSuspiciousDir := c.matchDir(item.Path)
	if inSuspiciousDir && c.suspiciousExtension(item.Path) {
		v.add(models.SeverityHigh, fmt.Sprintf("executable content in suspicious directory %q", dir))
	}
	if c.suspiciousExtension(item.Path) && item.Size > 0 && item.Size < c.minExeSize {
		v.add(models.SeverityMedium, fmt.Sprintf("executable smaller than %d bytes", c.minExeSize))
	}
	return v
}
