package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
)

// Capabilities toggles each collector category. The default set is
// deliberately minimal: only process and network monitoring are on.
type Capabilities struct {
	FileSystemMonitoring   bool `json:"fileSystemMonitoring"`
	ProcessMonitoring      bool `json:"processMonitoring"`
	NetworkMonitoring      bool `json:"networkMonitoring"`
	RegistryMonitoring     bool `json:"registryMonitoring"`
	SecurityLogsMonitoring bool `json:"securityLogsMonitoring"`
	MalwareScanning        bool `json:"malwareScanning"`
	VulnerabilityScanning  bool `json:"vulnerabilityScanning"`
}

// Detection holds the heuristic data: suspicious tokens, paths and ports.
// Loaded once at initialize time, never mutated afterwards.
type Detection struct {
	SuspiciousNames       []string `json:"suspiciousNames"`
	SuspiciousDirectories []string `json:"suspiciousDirectories"`
	SuspiciousPorts       []uint32 `json:"suspiciousPorts"`
	SuspiciousExtensions  []string `json:"suspiciousExtensions"`
	MinExecutableSize     int64    `json:"minExecutableSize"`
}

// Config represents the agent configuration loaded from the JSON file
// passed via --config.
type Config struct {
	ServerURL            string       `json:"serverUrl"`
	RegistrationKey      string       `json:"registrationKey"`
	HeartbeatInterval    int          `json:"heartbeatInterval"`
	DataUploadInterval   int          `json:"dataUploadInterval"`
	ScanInterval         int          `json:"scanInterval"`
	RegistrationEndpoint string       `json:"registrationEndpoint"`
	DataEndpoint         string       `json:"dataEndpoint"`
	HeartbeatEndpoint    string       `json:"heartbeatEndpoint"`
	Capabilities         Capabilities `json:"capabilities"`
	LogFilePath          string       `json:"logFilePath"`
	MaxStorageSize       int          `json:"maxStorageSize"`
	LogLevel             string       `json:"logLevel"`
	DirectoriesToScan    []string     `json:"directoriesToScan"`

	// Persistence points to watch (cron-style drop directories, unit
	// directories). Empty means platform defaults.
	PersistencePaths []string `json:"persistencePaths"`

	// Security log files tailed by the push collector.
	SecurityLogPaths []string `json:"securityLogPaths"`

	// Optional osquery socket; when set the process collector samples
	// through osqueryd instead of reading the process table directly.
	OsquerySocketPath string `json:"osquerySocketPath"`

	// Optional GeoIP database for remote address enrichment.
	GeoIPDBPath string `json:"geoipDbPath"`

	// StopGracePeriod bounds how long Stop waits for in-flight polls
	// and uploads, in seconds.
	StopGracePeriod int `json:"stopGracePeriod"`

	Detection Detection `json:"detection"`
}

// DefaultConfig returns the default configuration for the current platform.
func DefaultConfig() *Config {
	suspiciousDirs := []string{"/tmp", "/var/tmp", "/dev/shm"}
	persistencePaths := []string{"/etc/cron.d", "/etc/init.d", "/etc/systemd/system"}
	securityLogs := []string{"/var/log/auth.log", "/var/log/secure"}
	scanDirs := []string{"/tmp"}
	if runtime.GOOS == "windows" {
		suspiciousDirs = []string{
			"C:\\Windows\\Temp",
			"C:\\Users\\Public",
			"C:\\ProgramData\\Temp",
		}
		persistencePaths = []string{
			"C:\\ProgramData\\Microsoft\\Windows\\Start Menu\\Programs\\StartUp",
		}
		securityLogs = nil
		scanDirs = []string{"C:\\Windows\\Temp"}
	}

	return &Config{
		ServerURL:            "https://localhost:8443",
		HeartbeatInterval:    60,
		DataUploadInterval:   30,
		ScanInterval:         60,
		RegistrationEndpoint: "/api/v1/agents/register",
		DataEndpoint:         "/api/v1/agents/data",
		HeartbeatEndpoint:    "/api/v1/agents/heartbeat",
		Capabilities: Capabilities{
			ProcessMonitoring: true,
			NetworkMonitoring: true,
		},
		LogFilePath:       "agent.log",
		MaxStorageSize:    1000,
		LogLevel:          "info",
		DirectoriesToScan: scanDirs,
		PersistencePaths:  persistencePaths,
		SecurityLogPaths:  securityLogs,
		StopGracePeriod:   10,
		Detection: Detection{
			SuspiciousNames: []string{
				"mimikatz", "psexec", "netcat", "ncat", "lazagne",
				"procdump", "bloodhound", "cobaltstrike", "meterpreter",
				"xmrig", "minerd",
			},
			SuspiciousDirectories: suspiciousDirs,
			SuspiciousPorts:       []uint32{4444, 5555, 6666, 1337, 31337, 8444, 9001},
			SuspiciousExtensions:  []string{".exe", ".dll", ".ps1", ".bat", ".vbs", ".scr", ".sh"},
			MinExecutableSize:     20000,
		},
	}
}

// LoadConfig loads configuration from a file, overlaying it on defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("serverUrl is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid serverUrl: %w", err)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeatInterval must be positive")
	}
	if c.DataUploadInterval <= 0 {
		return fmt.Errorf("dataUploadInterval must be positive")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scanInterval must be positive")
	}
	if c.MaxStorageSize <= 0 {
		return fmt.Errorf("maxStorageSize must be positive")
	}
	if c.StopGracePeriod <= 0 {
		return fmt.Errorf("stopGracePeriod must be positive")
	}
	if c.Detection.MinExecutableSize < 0 {
		return fmt.Errorf("minExecutableSize cannot be negative")
	}
	return nil
}

// SaveConfig saves the configuration to a file.
func (c *Config) SaveConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
