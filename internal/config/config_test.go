// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 2*time.Minute, cfg.LockTimeout)
	assert.Equal(t, "none", cfg.Auth.Mode)
	assert.Equal(t, "interval", cfg.Sync.Schedule)
	assert.Len(t, cfg.ReuseWhitelist, 3)

	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("LOCK_TIMEOUT", "45s")
	t.Setenv("AUTH_MODE", "ldap")
	t.Setenv("LDAP_URL", "ldap://ds.internal")
	t.Setenv("SYNC_SCHEDULE", "manual")
	t.Setenv("REUSE_WHITELIST", "10.0.0.0/8,192.168.0.0/16")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 45*time.Second, cfg.LockTimeout)
	assert.Equal(t, "ldap", cfg.Auth.Mode)
	assert.Equal(t, "manual", cfg.Sync.Schedule)
	assert.Len(t, cfg.ReuseWhitelist, 2)

	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipzone.yaml")
	content := `
database:
  host: pg.internal
  dbname: ipzone_test
soa:
  primary_ns: ns0.internal.example
  default_ttl: 600
sync:
  schedule: manual
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("IPZONE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pg.internal", cfg.Database.Host)
	assert.Equal(t, "ipzone_test", cfg.Database.DBName)
	assert.Equal(t, "ns0.internal.example", cfg.SOA.PrimaryNS)
	assert.Equal(t, uint32(600), cfg.SOA.DefaultTTL)
	assert.Equal(t, "manual", cfg.Sync.Schedule)
	// Untouched settings keep their defaults
	assert.Equal(t, 5432, cfg.Database.Port)

	t.Setenv("IPZONE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

func TestWhitelistParsing(t *testing.T) {
	cfg := defaultConfig()
	prefixes, err := cfg.Whitelist()
	require.NoError(t, err)
	require.Len(t, prefixes, 3)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())

	cfg.ReuseWhitelist = []string{"not-a-prefix"}
	_, err = cfg.Whitelist()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config { return defaultConfig() }

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.LockTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.SOA.Retry = cfg.SOA.Refresh
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Mode = "kerberos"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Mode = "ldap"
	assert.Error(t, cfg.Validate(), "ldap mode requires a URL")
	cfg.Auth.LDAP.URL = "ldap://ds.internal"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Sync.Schedule = "hourly"
	assert.Error(t, cfg.Validate())

	// Retries count total apply attempts, so zero would mean never
	// applying at all
	cfg = base()
	cfg.Sync.MaxRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ReuseWhitelist = []string{"bogus"}
	assert.Error(t, cfg.Validate())
}

func TestValidateZoneProfiles(t *testing.T) {
	cfg := defaultConfig()
	cfg.ZoneProfiles = map[string]ZoneProfile{
		"public": {Records: []ZoneProfileRecord{
			{Name: "@", Type: "NS", Content: "ns1.dns.example.net"},
			{Name: "@", Type: "ns", Content: "ns2.dns.example.net"},
		}},
	}
	assert.NoError(t, cfg.Validate(), "record types are case-insensitive")

	cfg.ZoneProfiles["public"].Records[1].Type = "SRV"
	assert.Error(t, cfg.Validate(), "unsupported record type must be rejected")

	cfg.ZoneProfiles["public"].Records[1].Type = "NS"
	cfg.ZoneProfiles["public"].Records[1].Content = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateOutputs(t *testing.T) {
	cfg := defaultConfig()
	cfg.Outputs = []OutputConfig{
		{Name: "primary", Enabled: true, Database: cfg.Database},
		{Name: "primary", Enabled: true, Database: cfg.Database},
	}
	assert.Error(t, cfg.Validate(), "duplicate output names must be rejected")

	cfg.Outputs[1].Name = "secondary"
	assert.NoError(t, cfg.Validate())

	cfg.Sync.DryRun = true
	cfg.Sync.TestOutput = "nonexistent"
	assert.Error(t, cfg.Validate())

	cfg.Sync.TestOutput = "secondary"
	assert.NoError(t, cfg.Validate())
}
