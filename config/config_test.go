package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.Capabilities.ProcessMonitoring)
	assert.True(t, cfg.Capabilities.NetworkMonitoring)
	assert.False(t, cfg.Capabilities.MalwareScanning, "optional capabilities start off")
	assert.NotEmpty(t, cfg.Detection.SuspiciousNames)
	assert.Contains(t, cfg.Detection.SuspiciousPorts, uint32(4444))
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"serverUrl": "https://siem.example.com:8443",
		"registrationKey": "abc",
		"heartbeatInterval": 120,
		"capabilities": {"processMonitoring": true, "malwareScanning": true}
	}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://siem.example.com:8443", cfg.ServerURL)
	assert.Equal(t, 120, cfg.HeartbeatInterval)
	assert.True(t, cfg.Capabilities.MalwareScanning)

	// Fields the file does not mention keep their defaults.
	assert.Equal(t, 30, cfg.DataUploadInterval)
	assert.Equal(t, "/api/v1/agents/register", cfg.RegistrationEndpoint)
	assert.Equal(t, int64(20000), cfg.Detection.MinExecutableSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"heartbeatInterval": -5}`), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty server url", func(c *Config) { c.ServerURL = "" }, false},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, false},
		{"zero upload interval", func(c *Config) { c.DataUploadInterval = 0 }, false},
		{"zero scan interval", func(c *Config) { c.ScanInterval = 0 }, false},
		{"zero queue capacity", func(c *Config) { c.MaxStorageSize = 0 }, false},
		{"zero grace period", func(c *Config) { c.StopGracePeriod = 0 }, false},
		{"negative min exe size", func(c *Config) { c.Detection.MinExecutableSize = -1 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "agent.json")

	cfg := DefaultConfig()
	cfg.ServerURL = "https://siem.example.com:8443"
	cfg.RegistrationKey = "abc"
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.RegistrationKey, loaded.RegistrationKey)
	assert.Equal(t, cfg.Detection.SuspiciousPorts, loaded.Detection.SuspiciousPorts)
}
