package classify

import (
	"fmt"
	"strings"

	"github.com/hostsentry/agent/internal/models"
)

// VulnerableEntry describes one known-vulnerable piece of software.
// Confidence is a fixed scalar surfaced unchanged in the event detail.
type VulnerableEntry struct {
	Name          string
	VersionPrefix string
	Advisory      string
	Severity      models.Severity
	Confidence    float64
}

// Built-in table of vulnerable service versions. Matching is by exact
// process name and exact-or-prefix version.
var vulnerableSoftware = []VulnerableEntry{
	{Name: "openssh", VersionPrefix: "7.2", Advisory: "CVE-2016-6210", Severity: models.SeverityMedium, Confidence: 0.8},
	{Name: "sshd", VersionPrefix: "9.3p1", Advisory: "CVE-2023-38408", Severity: models.SeverityHigh, Confidence: 0.8},
	{Name: "vsftpd", VersionPrefix: "2.3.4", Advisory: "VSFTPD backdoor", Severity: models.SeverityCritical, Confidence: 0.9},
	{Name: "apache2", VersionPrefix: "2.4.49", Advisory: "CVE-2021-41773", Severity: models.SeverityCritical, Confidence: 0.9},
	{Name: "httpd", VersionPrefix: "2.4.49", Advisory: "CVE-2021-41773", Severity: models.SeverityCritical, Confidence: 0.9},
	{Name: "nginx", VersionPrefix: "1.3.9", Advisory: "CVE-2013-2028", Severity: models.SeverityHigh, Confidence: 0.8},
	{Name: "mysqld", VersionPrefix: "5.5", Advisory: "CVE-2016-6662", Severity: models.SeverityHigh, Confidence: 0.7},
	{Name: "smbd", VersionPrefix: "3.5.0", Advisory: "CVE-2017-7494", Severity: models.SeverityCritical, Confidence: 0.9},
	{Name: "log4j", VersionPrefix: "2.14", Advisory: "CVE-2021-44228", Severity: models.SeverityCritical, Confidence: 0.9},
}

// Vulnerability checks a process against the built-in vulnerable-software
// table. It returns a non-suspicious verdict when the process carries no
// version information or nothing matches.
func (c *Classifier) Vulnerability(item models.ProcessItem) Verdict {
	var v Verdict
	if item.Version == "" {
		return v
	}
	name := strings.ToLower(item.Name)
	for _, entry := range vulnerableSoftware {
		if name != entry.Name {
			continue
		}
		if item.Version == entry.VersionPrefix || strings.HasPrefix(item.Version, entry.VersionPrefix) {
			v.add(entry.Severity, fmt.Sprintf("%s %s matches %s", item.Name, item.Version, entry.Advisory))
			v.Confidence = entry.Confidence
			return v
		}
	}
	return v
}
