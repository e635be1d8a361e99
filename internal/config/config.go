// internal/config/config.go
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"ipzone.io/internal/models"
)

// Config holds all configuration for the allocation engine. It is built
// once at startup and passed into the engine at construction; nothing in
// the engine reads configuration globally.
type Config struct {
	// Primary datastore
	Database DatabaseConfig `yaml:"database"`

	// Advisory lock acquisition timeout for domain and zone locks
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// Request timeout for calls against external nameserver backends
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Default TTL/SOA tuple applied to newly created zones
	SOA SOAConfig `yaml:"soa"`

	// Private ranges that may appear in any number of layer3domains.
	// Any range not covered here must be globally unique across domains.
	ReuseWhitelist []string `yaml:"reuse_whitelist"`

	// Identity provider selection
	Auth AuthConfig `yaml:"auth"`

	// Zone snapshot cache
	Cache CacheConfig `yaml:"cache"`

	// Sync coordinator policy and targets
	Sync SyncConfig `yaml:"sync"`

	// Nameserver output databases
	Outputs []OutputConfig `yaml:"outputs"`

	// Named zone templates selectable at zone creation
	ZoneProfiles map[string]ZoneProfile `yaml:"zone_profiles"`

	// Logging
	LogLevel      string `yaml:"log_level"`
	LogDirectory  string `yaml:"log_directory"`
	EnableConsole bool   `yaml:"enable_console"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	ConnectionName string `yaml:"connection_name"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// SOAConfig holds the default TTL/SOA tuple for new zones
type SOAConfig struct {
	PrimaryNS  string `yaml:"primary_ns"`
	Mbox       string `yaml:"mbox"`
	Refresh    uint32 `yaml:"refresh"`
	Retry      uint32 `yaml:"retry"`
	Expire     uint32 `yaml:"expire"`
	Minimum    uint32 `yaml:"minimum"`
	DefaultTTL uint32 `yaml:"default_ttl"`
}

// AuthConfig selects the identity provider and session lifetimes
type AuthConfig struct {
	// Mode is "none" or "ldap"
	Mode string     `yaml:"mode"`
	LDAP LDAPConfig `yaml:"ldap"`

	// Session lifetime for authenticated sessions
	PermanentSessionLifetime time.Duration `yaml:"permanent_session_lifetime"`
	TemporarySessionLifetime time.Duration `yaml:"temporary_session_lifetime"`
}

// LDAPConfig holds directory connection parameters
type LDAPConfig struct {
	URL            string `yaml:"url"`
	UserDNFormat   string `yaml:"user_dn_format"` // e.g. "uid=%s,ou=people,dc=example,dc=com"
	DepartmentBase string `yaml:"department_base"`
	DepartmentAttr string `yaml:"department_attr"`
	SearchTimeout  int    `yaml:"search_timeout"` // seconds
}

// CacheConfig holds zone snapshot cache configuration
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Optional Redis L2
	RedisEnabled bool   `yaml:"redis_enabled"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisClient  string `yaml:"redis_client"`
	KeyPrefix    string `yaml:"key_prefix"`
}

// SyncConfig holds sync coordinator policy
type SyncConfig struct {
	// Schedule is "manual" (on-demand only) or "interval"
	Schedule string        `yaml:"schedule"`
	Interval time.Duration `yaml:"interval"`

	MaxRetries int           `yaml:"max_retries"`
	RetryBase  time.Duration `yaml:"retry_base"`
	RetryMax   time.Duration `yaml:"retry_max"`

	// DryRun routes all syncs to the configured test output; the other
	// outputs are not opened, so verification never touches a live
	// backend.
	DryRun     bool   `yaml:"dry_run"`
	TestOutput string `yaml:"test_output"`
}

// ZoneProfile is a named template applied at zone creation: SOA
// overrides plus records seeded into the new zone. Zero SOA fields
// fall back to the global defaults.
type ZoneProfile struct {
	SOA     SOAConfig           `yaml:"soa"`
	Records []ZoneProfileRecord `yaml:"records"`
}

// ZoneProfileRecord is one record a profile seeds
type ZoneProfileRecord struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	TTL     uint32 `yaml:"ttl"`
	Content string `yaml:"content"`
}

// OutputConfig declares one nameserver output database
type OutputConfig struct {
	Name     string         `yaml:"name"`
	Enabled  bool           `yaml:"enabled"`
	TestOnly bool           `yaml:"test_only"`
	Database DatabaseConfig `yaml:"database"`
}

// Load creates a new Config from defaults, an optional YAML file named by
// IPZONE_CONFIG, then environment variable overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("IPZONE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	loadDatabaseConfig(cfg)
	loadEngineConfig(cfg)
	loadAuthConfig(cfg)
	loadCacheConfig(cfg)
	loadSyncConfig(cfg)

	return cfg, nil
}

// defaultConfig returns the built-in defaults
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "ipzone",
			Password:        "ipzone",
			DBName:          "ipzone",
			SSLMode:         "disable",
			ConnectionName:  "ipzone_primary",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
		},

		LockTimeout:    2 * time.Minute,
		RequestTimeout: 10 * time.Second,

		SOA: SOAConfig{
			PrimaryNS:  "ns1.example.com",
			Mbox:       "hostmaster.example.com",
			Refresh:    14400,
			Retry:      3600,
			Expire:     605000,
			Minimum:    86400,
			DefaultTTL: 86400,
		},

		ReuseWhitelist: []string{
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
		},

		Auth: AuthConfig{
			Mode:                     "none",
			PermanentSessionLifetime: 30 * 24 * time.Hour,
			TemporarySessionLifetime: 12 * time.Hour,
			LDAP: LDAPConfig{
				DepartmentAttr: "departmentNumber",
				SearchTimeout:  10,
			},
		},

		Cache: CacheConfig{
			Enabled:         true,
			MaxEntries:      10000,
			CleanupInterval: 60 * time.Second,
			RedisClient:     "zone_snapshots",
			KeyPrefix:       "ipzone:",
		},

		Sync: SyncConfig{
			Schedule:   "interval",
			Interval:   60 * time.Second,
			MaxRetries: 3,
			RetryBase:  500 * time.Millisecond,
			RetryMax:   30 * time.Second,
		},

		LogLevel:        "info",
		LogDirectory:    "logs",
		EnableConsole:   true,
		ShutdownTimeout: 30 * time.Second,
	}
}

// loadFile overlays settings from a YAML config file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig(cfg *Config) {
	if env := os.Getenv("DB_HOST"); env != "" {
		cfg.Database.Host = env
	}

	if env := os.Getenv("DB_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 {
			cfg.Database.Port = port
		}
	}

	if env := os.Getenv("DB_USER"); env != "" {
		cfg.Database.User = env
	}

	if env := os.Getenv("DB_PASSWORD"); env != "" {
		cfg.Database.Password = env
	}

	if env := os.Getenv("DB_NAME"); env != "" {
		cfg.Database.DBName = env
	}

	if env := os.Getenv("DB_SSL_MODE"); env != "" {
		cfg.Database.SSLMode = env
	}

	if env := os.Getenv("DB_CONNECTION_NAME"); env != "" {
		cfg.Database.ConnectionName = env
	}

	if env := os.Getenv("DB_MAX_OPEN_CONNS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Database.MaxOpenConns = val
		}
	}

	if env := os.Getenv("DB_MAX_IDLE_CONNS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val >= 0 {
			cfg.Database.MaxIdleConns = val
		}
	}
}

// loadEngineConfig loads engine behavior configuration from environment
func loadEngineConfig(cfg *Config) {
	if env := os.Getenv("LOCK_TIMEOUT"); env != "" {
		if val, err := time.ParseDuration(env); err == nil && val > 0 {
			cfg.LockTimeout = val
		}
	}

	if env := os.Getenv("REQUEST_TIMEOUT"); env != "" {
		if val, err := time.ParseDuration(env); err == nil && val > 0 {
			cfg.RequestTimeout = val
		}
	}

	if env := os.Getenv("DEFAULT_TTL"); env != "" {
		if val, err := strconv.ParseUint(env, 10, 32); err == nil && val > 0 {
			cfg.SOA.DefaultTTL = uint32(val)
		}
	}

	if env := os.Getenv("REUSE_WHITELIST"); env != "" {
		cfg.ReuseWhitelist = strings.Split(env, ",")
	}

	if env := os.Getenv("LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}

	if env := os.Getenv("LOG_DIRECTORY"); env != "" {
		cfg.LogDirectory = env
	}

	if env := os.Getenv("SHUTDOWN_TIMEOUT"); env != "" {
		if val, err := time.ParseDuration(env); err == nil {
			cfg.ShutdownTimeout = val
		}
	}
}

// loadAuthConfig loads identity provider configuration from environment
func loadAuthConfig(cfg *Config) {
	if env := os.Getenv("AUTH_MODE"); env != "" {
		if env == "none" || env == "ldap" {
			cfg.Auth.Mode = env
		}
	}

	if env := os.Getenv("LDAP_URL"); env != "" {
		cfg.Auth.LDAP.URL = env
	}

	if env := os.Getenv("LDAP_USER_DN_FORMAT"); env != "" {
		cfg.Auth.LDAP.UserDNFormat = env
	}

	if env := os.Getenv("LDAP_DEPARTMENT_BASE"); env != "" {
		cfg.Auth.LDAP.DepartmentBase = env
	}
}

// loadCacheConfig loads snapshot cache configuration from environment
func loadCacheConfig(cfg *Config) {
	if env := os.Getenv("CACHE_ENABLED"); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			cfg.Cache.Enabled = val
		}
	}

	if env := os.Getenv("CACHE_MAX_ENTRIES"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Cache.MaxEntries = val
		}
	}

	if env := os.Getenv("REDIS_ENABLED"); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			cfg.Cache.RedisEnabled = val
		}
	}

	if env := os.Getenv("REDIS_ADDR"); env != "" {
		cfg.Cache.RedisAddr = env
	}
}

// loadSyncConfig loads sync coordinator configuration from environment
func loadSyncConfig(cfg *Config) {
	if env := os.Getenv("SYNC_SCHEDULE"); env != "" {
		if env == "manual" || env == "interval" {
			cfg.Sync.Schedule = env
		}
	}

	if env := os.Getenv("SYNC_INTERVAL"); env != "" {
		if val, err := time.ParseDuration(env); err == nil && val > 0 {
			cfg.Sync.Interval = val
		}
	}

	if env := os.Getenv("SYNC_MAX_RETRIES"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val >= 1 {
			cfg.Sync.MaxRetries = val
		}
	}

	if env := os.Getenv("SYNC_DRY_RUN"); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			cfg.Sync.DryRun = val
		}
	}
}

// Whitelist parses the configured reuse whitelist into prefixes.
func (c *Config) Whitelist() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.ReuseWhitelist))
	for _, raw := range c.ReuseWhitelist {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist entry %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config error: %w", err)
	}

	if c.LockTimeout <= 0 {
		return &ValidationError{Field: "LockTimeout", Message: "must be greater than 0"}
	}

	if c.RequestTimeout <= 0 {
		return &ValidationError{Field: "RequestTimeout", Message: "must be greater than 0"}
	}

	if err := c.SOA.Validate(); err != nil {
		return fmt.Errorf("soa config error: %w", err)
	}

	if _, err := c.Whitelist(); err != nil {
		return fmt.Errorf("whitelist config error: %w", err)
	}

	if c.Auth.Mode != "none" && c.Auth.Mode != "ldap" {
		return &ValidationError{Field: "Auth.Mode", Message: "must be 'none' or 'ldap'"}
	}

	if c.Auth.Mode == "ldap" && c.Auth.LDAP.URL == "" {
		return &ValidationError{Field: "Auth.LDAP.URL", Message: "cannot be empty in ldap mode"}
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config error: %w", err)
	}

	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync config error: %w", err)
	}

	names := make(map[string]bool, len(c.Outputs))
	for i := range c.Outputs {
		out := &c.Outputs[i]
		if out.Name == "" {
			return &ValidationError{Field: "Outputs.Name", Message: "cannot be empty"}
		}
		if names[out.Name] {
			return &ValidationError{Field: "Outputs.Name", Message: fmt.Sprintf("duplicate output %q", out.Name)}
		}
		names[out.Name] = true
		if err := out.Database.Validate(); err != nil {
			return fmt.Errorf("output %s config error: %w", out.Name, err)
		}
	}

	if c.Sync.DryRun && c.Sync.TestOutput != "" && !names[c.Sync.TestOutput] {
		return &ValidationError{Field: "Sync.TestOutput", Message: fmt.Sprintf("unknown output %q", c.Sync.TestOutput)}
	}

	for name, profile := range c.ZoneProfiles {
		if name == "" {
			return &ValidationError{Field: "ZoneProfiles", Message: "profile name cannot be empty"}
		}
		for _, rec := range profile.Records {
			if !models.RecordType(strings.ToUpper(rec.Type)).IsValid() {
				return &ValidationError{Field: "ZoneProfiles", Message: fmt.Sprintf("profile %q: unsupported record type %q", name, rec.Type)}
			}
			if rec.Name == "" || rec.Content == "" {
				return &ValidationError{Field: "ZoneProfiles", Message: fmt.Sprintf("profile %q: record name and content cannot be empty", name)}
			}
		}
	}

	return nil
}

// Validate validates database configuration
func (db *DatabaseConfig) Validate() error {
	if db.Host == "" {
		return &ValidationError{Field: "Host", Message: "cannot be empty"}
	}

	if db.Port <= 0 || db.Port > 65535 {
		return &ValidationError{Field: "Port", Message: "must be between 1 and 65535"}
	}

	if db.User == "" {
		return &ValidationError{Field: "User", Message: "cannot be empty"}
	}

	if db.DBName == "" {
		return &ValidationError{Field: "DBName", Message: "cannot be empty"}
	}

	if db.MaxOpenConns <= 0 {
		return &ValidationError{Field: "MaxOpenConns", Message: "must be greater than 0"}
	}

	if db.MaxIdleConns < 0 {
		return &ValidationError{Field: "MaxIdleConns", Message: "cannot be negative"}
	}

	return nil
}

// Validate validates the SOA default tuple
func (s *SOAConfig) Validate() error {
	if s.PrimaryNS == "" {
		return &ValidationError{Field: "PrimaryNS", Message: "cannot be empty"}
	}

	if s.Refresh == 0 || s.Retry == 0 || s.Expire == 0 {
		return &ValidationError{Field: "Refresh/Retry/Expire", Message: "must be greater than 0"}
	}

	if s.Retry >= s.Refresh {
		return &ValidationError{Field: "Retry", Message: "must be less than Refresh"}
	}

	if s.Expire <= s.Refresh {
		return &ValidationError{Field: "Expire", Message: "must be greater than Refresh"}
	}

	if s.DefaultTTL == 0 {
		return &ValidationError{Field: "DefaultTTL", Message: "must be greater than 0"}
	}

	return nil
}

// Validate validates cache configuration
func (cache *CacheConfig) Validate() error {
	if cache.Enabled {
		if cache.MaxEntries <= 0 {
			return &ValidationError{Field: "MaxEntries", Message: "must be greater than 0 when cache is enabled"}
		}

		if cache.CleanupInterval < 0 {
			return &ValidationError{Field: "CleanupInterval", Message: "cannot be negative"}
		}
	}

	if cache.RedisEnabled && cache.KeyPrefix == "" {
		return &ValidationError{Field: "KeyPrefix", Message: "cannot be empty when Redis is enabled"}
	}

	return nil
}

// Validate validates sync configuration
func (s *SyncConfig) Validate() error {
	if s.Schedule != "manual" && s.Schedule != "interval" {
		return &ValidationError{Field: "Schedule", Message: "must be 'manual' or 'interval'"}
	}

	if s.Schedule == "interval" && s.Interval <= 0 {
		return &ValidationError{Field: "Interval", Message: "must be greater than 0 in interval mode"}
	}

	if s.MaxRetries < 1 {
		return &ValidationError{Field: "MaxRetries", Message: "must be at least 1"}
	}

	if s.RetryBase <= 0 {
		return &ValidationError{Field: "RetryBase", Message: "must be greater than 0"}
	}

	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s %s", e.Field, e.Message)
}
