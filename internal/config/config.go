// Package config loads the YAML settings file and exposes it as immutable,
// hot-reloadable snapshots.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// FileName is the name of the settings file inside the settings directory.
	FileName = "smbhood.yaml"

	DefaultTimeout       = 10 * time.Second
	MinTimeout           = 2 * time.Second
	DefaultInterval      = 15 * time.Minute
	DefaultNegativeTTL   = 15 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultScanWorkers   = 16
	DefaultBroadcastAddr = "255.255.255.255"
)

// Credentials authenticate against one server or share. The zero value is
// an anonymous login.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Domain   string `mapstructure:"domain"`
}

// IsAnonymous reports whether no username is configured.
func (c Credentials) IsAnonymous() bool {
	return c.Username == ""
}

// Config is the decoded settings file.
type Config struct {
	Global        GlobalConfig            `mapstructure:"global"`
	Ignore        IgnoreConfig            `mapstructure:"ignore"`
	Workgroups    map[string]ScopeConfig  `mapstructure:"workgroups"`
	Servers       map[string]ServerConfig `mapstructure:"servers"`
	NegativeCache NegativeCacheConfig     `mapstructure:"negativecache"`
	Scan          ScanConfig              `mapstructure:"scan"`
}

// GlobalConfig holds process wide options.
type GlobalConfig struct {
	// Timeout is the per-operation network timeout in seconds.
	Timeout int `mapstructure:"timeout"`
	// Interval is the number of minutes between scans, 0 disables them.
	Interval         int  `mapstructure:"interval"`
	ShowHiddenShares bool `mapstructure:"showhiddenshares"`

	Credentials `mapstructure:",squash"`
}

// IgnoreConfig lists names excluded from scans.
type IgnoreConfig struct {
	Workgroups []string `mapstructure:"workgroups"`
	Servers    []string `mapstructure:"servers"`
}

// ScopeConfig overrides options for one workgroup.
type ScopeConfig struct {
	ShowHiddenShares *bool `mapstructure:"showhiddenshares"`
}

// ServerConfig overrides options for one server.
type ServerConfig struct {
	Ignore           bool                   `mapstructure:"ignore"`
	ShowHiddenShares *bool                  `mapstructure:"showhiddenshares"`
	Shares           map[string]Credentials `mapstructure:"shares"`

	Credentials `mapstructure:",squash"`
}

// NegativeCacheConfig tunes the failed-lookup cache.
type NegativeCacheConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Sweep time.Duration `mapstructure:"sweep"`
}

// ScanConfig tunes topology scans.
type ScanConfig struct {
	Workers   int    `mapstructure:"workers"`
	Broadcast string `mapstructure:"broadcast"`
}

// Load reads and validates the settings file at path. A missing file, or an
// empty path, yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if path != "" {
		if err := readConfigFile(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// setupViper configures defaults, environment overrides and the file to read.
func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix("SMBHOOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("global.timeout", int(DefaultTimeout/time.Second))
	v.SetDefault("global.interval", int(DefaultInterval/time.Minute))
	v.SetDefault("global.showhiddenshares", true)
	v.SetDefault("negativecache.ttl", DefaultNegativeTTL)
	v.SetDefault("negativecache.sweep", DefaultSweepInterval)
	v.SetDefault("scan.workers", DefaultScanWorkers)
	v.SetDefault("scan.broadcast", DefaultBroadcastAddr)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the settings file, tolerating its absence.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// normalize trims list items and lower-cases every name so lookups are
// case-insensitive. viper already lower-cases map keys.
func (c *Config) normalize() {
	c.Ignore.Workgroups = normalizeNames(c.Ignore.Workgroups)
	c.Ignore.Servers = normalizeNames(c.Ignore.Servers)

	workgroups := make(map[string]ScopeConfig, len(c.Workgroups))
	for name, wg := range c.Workgroups {
		workgroups[strings.ToLower(name)] = wg
	}
	c.Workgroups = workgroups

	servers := make(map[string]ServerConfig, len(c.Servers))
	for name, srv := range c.Servers {
		shares := make(map[string]Credentials, len(srv.Shares))
		for share, creds := range srv.Shares {
			shares[strings.ToLower(share)] = creds
		}
		srv.Shares = shares
		servers[strings.ToLower(name)] = srv
	}
	c.Servers = servers
}

func normalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, strings.ToLower(n))
		}
	}
	return out
}

// Validate clamps out-of-range values and rejects unusable ones.
func (c *Config) Validate() error {
	if c.Global.Timeout < int(MinTimeout/time.Second) {
		c.Global.Timeout = int(MinTimeout / time.Second)
	}
	if c.Global.Interval < 0 {
		c.Global.Interval = 0
	}
	if c.NegativeCache.TTL <= 0 {
		return fmt.Errorf("negativecache.ttl must be positive, got %v", c.NegativeCache.TTL)
	}
	if c.NegativeCache.Sweep <= 0 {
		return fmt.Errorf("negativecache.sweep must be positive, got %v", c.NegativeCache.Sweep)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan.workers must be at least 1, got %d", c.Scan.Workers)
	}
	if c.Scan.Broadcast == "" {
		c.Scan.Broadcast = DefaultBroadcastAddr
	}
	return nil
}

// EnsureFile creates an empty settings file readable only by its owner when
// none exists, and rejects an existing file that group or others can access.
func EnsureFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		f, createErr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if createErr != nil {
			return fmt.Errorf("failed to create config file %s: %w", path, createErr)
		}
		return f.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to stat config file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %s is a directory", path)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has mode %#o, it must only be accessible by its owner", path, perm)
	}
	return nil
}
