// Package config provides configuration management for the bundlecheck CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
	"github.com/fluxbase-eu/bundlecheck/cli/output"
	"github.com/fluxbase-eu/bundlecheck/internal/cache"
	"github.com/fluxbase-eu/bundlecheck/internal/observability"
	"github.com/fluxbase-eu/bundlecheck/internal/registry"
	"github.com/fluxbase-eu/bundlecheck/internal/trend"
)

// Version is the config file format version
const Version = "1"

// EnvPrefix prefixes every environment override, e.g. BUNDLECHECK_GZIP_LEVEL
const EnvPrefix = "BUNDLECHECK"

// Config represents the CLI configuration file
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// CurrentProfile is the active profile name
	CurrentProfile string `yaml:"current_profile,omitempty"`

	// Profiles is a map of profile name to profile configuration
	Profiles map[string]*Profile `yaml:"profiles,omitempty"`

	// Defaults for all commands
	Defaults Defaults `yaml:"defaults"`

	// Cache selects the result cache backend
	Cache cache.Config `yaml:"cache"`

	// Tracing exports analysis spans over OTLP
	Tracing observability.TracerConfig `yaml:"tracing"`
}

// Profile is a named set of analysis settings layered over Defaults, e.g. a
// private registry with its own externals.
type Profile struct {
	Name      string   `yaml:"name"`
	Registry  string   `yaml:"registry,omitempty"`
	GzipLevel int      `yaml:"gzip_level,omitempty"`
	Platform  string   `yaml:"platform,omitempty"`
	External  []string `yaml:"external,omitempty"`
}

// Defaults contains default settings for commands
type Defaults struct {
	// Output format: table, json, yaml
	Output string `yaml:"output,omitempty"`

	// NoHeaders suppresses table headers
	NoHeaders bool `yaml:"no_headers,omitempty"`

	// Quiet mode for minimal output
	Quiet bool `yaml:"quiet,omitempty"`

	Registry  string `yaml:"registry,omitempty"`
	GzipLevel int    `yaml:"gzip_level,omitempty"`
	Platform  string `yaml:"platform,omitempty"`

	// Versions is how many releases `trend` compares
	Versions int `yaml:"versions,omitempty"`
}

// Settings is the effective configuration for one invocation, after the
// profile and environment have been applied
type Settings struct {
	Profile   string                     `yaml:"profile,omitempty" json:"profile,omitempty"`
	Registry  string                     `yaml:"registry" json:"registry"`
	GzipLevel int                        `yaml:"gzip_level" json:"gzipLevel"`
	Platform  string                     `yaml:"platform" json:"platform"`
	External  []string                   `yaml:"external" json:"external"`
	Versions  int                        `yaml:"versions" json:"versions"`
	Output    string                     `yaml:"output" json:"output"`
	NoHeaders bool                       `yaml:"no_headers" json:"noHeaders"`
	Quiet     bool                       `yaml:"quiet" json:"quiet"`
	Cache     cache.Config               `yaml:"cache" json:"cache"`
	Tracing   observability.TracerConfig `yaml:"tracing" json:"tracing"`
}

// DefaultConfigDir returns the default config directory path
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bundlecheck"
	}
	return filepath.Join(home, ".bundlecheck")
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// New creates a configuration holding the built-in defaults
func New() *Config {
	return &Config{
		Version:  Version,
		Profiles: make(map[string]*Profile),
		Defaults: Defaults{
			Output:    string(output.FormatTable),
			GzipLevel: bundler.DefaultGzipLevel,
			Platform:  cache.PlatformAuto,
			Versions:  trend.DefaultVersionCount,
		},
		Cache: cache.Config{
			Backend:    cache.BackendSQLite,
			MaxEntries: cache.DefaultMaxEntries,
		},
		Tracing: observability.DefaultTracerConfig(),
	}
}

// Load reads configuration from the specified path
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found at %s - run 'bundlecheck config init' to create one: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := New()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	for name, p := range cfg.Profiles {
		if p == nil {
			cfg.Profiles[name] = &Profile{Name: name}
		} else if p.Name == "" {
			p.Name = name
		}
	}

	return cfg, nil
}

// LoadOrCreate reads configuration or returns defaults if the file doesn't exist
func LoadOrCreate(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return cfg, err
}

// Save writes the configuration to the specified path
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetProfile returns the named profile or the current profile if name is empty
func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	if name == "" {
		return nil, fmt.Errorf("no profile specified and no current profile set")
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

// SetProfile adds or updates a profile
func (c *Config) SetProfile(profile *Profile) {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[profile.Name] = profile
}

// DeleteProfile removes a profile. Deleting the current profile clears the
// selection rather than picking another one.
func (c *Config) DeleteProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return nil
}

// ListProfiles returns all profile names, sorted
func (c *Config) ListProfiles() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keys lists the keys accepted by Set and Get
var Keys = []string{
	"current_profile",
	"defaults.output",
	"defaults.no_headers",
	"defaults.quiet",
	"defaults.registry",
	"defaults.gzip_level",
	"defaults.platform",
	"defaults.versions",
	"cache.backend",
	"cache.path",
	"cache.redis_url",
	"cache.max_entries",
	"tracing.enabled",
	"tracing.endpoint",
	"tracing.sample_rate",
}

// Set assigns a single value by key
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "current_profile":
		if value != "" {
			if _, err := c.GetProfile(value); err != nil {
				return err
			}
		}
		c.CurrentProfile = value
	case "defaults.output":
		c.Defaults.Output = value
	case "defaults.no_headers":
		c.Defaults.NoHeaders = parseBool(value)
	case "defaults.quiet":
		c.Defaults.Quiet = parseBool(value)
	case "defaults.registry":
		c.Defaults.Registry = value
	case "defaults.gzip_level":
		return setInt(&c.Defaults.GzipLevel, key, value)
	case "defaults.platform":
		c.Defaults.Platform = value
	case "defaults.versions":
		return setInt(&c.Defaults.Versions, key, value)
	case "cache.backend":
		c.Cache.Backend = value
	case "cache.path":
		c.Cache.Path = value
	case "cache.redis_url":
		c.Cache.RedisURL = value
	case "cache.max_entries":
		return setInt(&c.Cache.MaxEntries, key, value)
	case "tracing.enabled":
		c.Tracing.Enabled = parseBool(value)
	case "tracing.endpoint":
		c.Tracing.Endpoint = value
	case "tracing.sample_rate":
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %s", key, value)
		}
		c.Tracing.SampleRate = rate
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

// Get returns a single value by key
func (c *Config) Get(key string) (string, error) {
	switch strings.ToLower(key) {
	case "current_profile":
		return c.CurrentProfile, nil
	case "defaults.output":
		return c.Defaults.Output, nil
	case "defaults.no_headers":
		return strconv.FormatBool(c.Defaults.NoHeaders), nil
	case "defaults.quiet":
		return strconv.FormatBool(c.Defaults.Quiet), nil
	case "defaults.registry":
		return c.Defaults.Registry, nil
	case "defaults.gzip_level":
		return strconv.Itoa(c.Defaults.GzipLevel), nil
	case "defaults.platform":
		return c.Defaults.Platform, nil
	case "defaults.versions":
		return strconv.Itoa(c.Defaults.Versions), nil
	case "cache.backend":
		return c.Cache.Backend, nil
	case "cache.path":
		return c.Cache.Path, nil
	case "cache.redis_url":
		return c.Cache.RedisURL, nil
	case "cache.max_entries":
		return strconv.Itoa(c.Cache.MaxEntries), nil
	case "tracing.enabled":
		return strconv.FormatBool(c.Tracing.Enabled), nil
	case "tracing.endpoint":
		return c.Tracing.Endpoint, nil
	case "tracing.sample_rate":
		return strconv.FormatFloat(c.Tracing.SampleRate, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

func parseBool(value string) bool {
	return value == "true" || value == "1"
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %s", key, value)
	}
	*dst = n
	return nil
}

// NewEnv returns a viper instance bound to BUNDLECHECK_* variables. The
// defaults. prefix is dropped, so defaults.gzip_level is read from
// BUNDLECHECK_GZIP_LEVEL and cache.redis_url from BUNDLECHECK_CACHE_REDIS_URL.
func NewEnv() *viper.Viper {
	v := viper.New()
	for _, key := range Keys {
		_ = v.BindEnv(key, EnvName(key))
	}
	_ = v.BindEnv("profile", EnvName("profile"))
	return v
}

// EnvName returns the environment variable that overrides key
func EnvName(key string) string {
	name := strings.TrimPrefix(key, "defaults.")
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// LoadEnvFile loads the first .env file found in the working directory.
// Existing environment variables are never overwritten.
func LoadEnvFile() {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err != nil {
			continue
		}
		if err := godotenv.Load(location); err != nil {
			log.Warn().Err(err).Str("file", location).Msg("Failed to load .env file")
			return
		}
		log.Debug().Str("file", location).Msg(".env file loaded")
		return
	}
}

// Resolve layers the named profile (or the current one) and env over the
// defaults. An empty profile name with no current profile uses defaults only.
func (c *Config) Resolve(profileName string, env *viper.Viper) (*Settings, error) {
	d := c.Defaults
	s := &Settings{
		Registry:  d.Registry,
		GzipLevel: d.GzipLevel,
		Platform:  d.Platform,
		External:  []string{},
		Versions:  d.Versions,
		Output:    d.Output,
		NoHeaders: d.NoHeaders,
		Quiet:     d.Quiet,
		Cache:     c.Cache,
		Tracing:   c.Tracing,
	}

	if env != nil && profileName == "" {
		profileName = env.GetString("profile")
	}
	if profileName != "" || c.CurrentProfile != "" {
		p, err := c.GetProfile(profileName)
		if err != nil {
			return nil, err
		}
		s.Profile = p.Name
		if p.Registry != "" {
			s.Registry = p.Registry
		}
		if p.GzipLevel != 0 {
			s.GzipLevel = p.GzipLevel
		}
		if p.Platform != "" {
			s.Platform = p.Platform
		}
		s.External = append(s.External, p.External...)
	}

	if env != nil {
		if err := s.applyEnv(env); err != nil {
			return nil, err
		}
	}

	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv(v *viper.Viper) error {
	strs := map[string]*string{
		"defaults.registry": &s.Registry,
		"defaults.platform": &s.Platform,
		"defaults.output":   &s.Output,
		"cache.backend":     &s.Cache.Backend,
		"cache.path":        &s.Cache.Path,
		"cache.redis_url":   &s.Cache.RedisURL,
		"tracing.endpoint":  &s.Tracing.Endpoint,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"defaults.gzip_level": &s.GzipLevel,
		"defaults.versions":   &s.Versions,
		"cache.max_entries":   &s.Cache.MaxEntries,
	}
	for key, dst := range ints {
		if !v.IsSet(key) {
			continue
		}
		n, err := strconv.Atoi(v.GetString(key))
		if err != nil {
			return fmt.Errorf("invalid value for %s: %s", key, v.GetString(key))
		}
		*dst = n
	}

	if v.IsSet("tracing.enabled") {
		s.Tracing.Enabled = v.GetBool("tracing.enabled")
	}
	return nil
}

func (s *Settings) fillDefaults() {
	if s.GzipLevel == 0 {
		s.GzipLevel = bundler.DefaultGzipLevel
	}
	if s.Platform == "" {
		s.Platform = cache.PlatformAuto
	}
	if s.Versions == 0 {
		s.Versions = trend.DefaultVersionCount
	}
	if s.Output == "" {
		s.Output = string(output.FormatTable)
	}
	if s.Cache.Backend == "" {
		s.Cache.Backend = cache.BackendSQLite
	}
	if s.Cache.MaxEntries == 0 {
		s.Cache.MaxEntries = cache.DefaultMaxEntries
	}
}

// Validate checks the effective settings
func (s *Settings) Validate() error {
	if s.GzipLevel < bundler.MinGzipLevel || s.GzipLevel > bundler.MaxGzipLevel {
		return fmt.Errorf("gzip_level must be between %d and %d, got %d", bundler.MinGzipLevel, bundler.MaxGzipLevel, s.GzipLevel)
	}
	if _, err := bundler.ParsePlatform(s.Platform); err != nil {
		return err
	}
	if s.Versions < 1 {
		return fmt.Errorf("versions must be at least 1, got %d", s.Versions)
	}
	if _, err := output.ParseFormat(s.Output); err != nil {
		return err
	}
	if s.Registry != "" {
		normalized, err := registry.ValidateURL(s.Registry)
		if err != nil {
			return err
		}
		s.Registry = normalized
	}

	switch s.Cache.Backend {
	case cache.BackendSQLite, cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis:
		if s.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for redis cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s (valid options: sqlite, redis, memory, none)", s.Cache.Backend)
	}
	if s.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}

	if s.Tracing.Enabled && s.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}
