package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlecheck/internal/cache"
)

func TestLoadOrCreate_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundlecheck config init")

	cfg, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 5, cfg.Defaults.GzipLevel)
	assert.Equal(t, cache.BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := New()
	cfg.SetProfile(&Profile{Name: "internal", Registry: "https://npm.internal.example.com", External: []string{"lodash"}})
	cfg.CurrentProfile = "internal"
	cfg.Cache.Backend = cache.BackendMemory
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "internal", loaded.CurrentProfile)
	assert.Equal(t, cache.BackendMemory, loaded.Cache.Backend)
	require.Contains(t, loaded.Profiles, "internal")
	assert.Equal(t, []string{"lodash"}, loaded.Profiles["internal"].External)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "version: \"1\"\nprofiles:\n  ci: {}\ndefaults:\n  gzip_level: 9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Defaults.GzipLevel)
	assert.Equal(t, 5, cfg.Defaults.Versions)
	assert.Equal(t, cache.BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, "ci", cfg.Profiles["ci"].Name)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults: [unclosed"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestProfiles(t *testing.T) {
	cfg := New()

	_, err := cfg.GetProfile("")
	assert.Error(t, err)

	cfg.SetProfile(&Profile{Name: "b"})
	cfg.SetProfile(&Profile{Name: "a"})
	assert.Equal(t, []string{"a", "b"}, cfg.ListProfiles())

	cfg.CurrentProfile = "a"
	p, err := cfg.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name)

	require.NoError(t, cfg.DeleteProfile("a"))
	assert.Empty(t, cfg.CurrentProfile)
	assert.Error(t, cfg.DeleteProfile("a"))
}

func TestSetGet(t *testing.T) {
	cfg := New()

	tests := []struct {
		key   string
		value string
		want  string
	}{
		{"defaults.output", "json", "json"},
		{"defaults.no_headers", "1", "true"},
		{"defaults.gzip_level", "9", "9"},
		{"defaults.platform", "node", "node"},
		{"cache.backend", "redis", "redis"},
		{"cache.max_entries", "50", "50"},
		{"tracing.enabled", "true", "true"},
		{"tracing.sample_rate", "0.25", "0.25"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, cfg.Set(tt.key, tt.value))
			got, err := cfg.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Error(t, cfg.Set("defaults.gzip_level", "high"))
	assert.Error(t, cfg.Set("defaults.namespace", "x"))
	assert.Error(t, cfg.Set("current_profile", "missing"))
	_, err := cfg.Get("nope")
	assert.Error(t, err)
}

func TestResolve_Layers(t *testing.T) {
	cfg := New()
	cfg.Defaults.Registry = "https://registry.example.com/"
	cfg.SetProfile(&Profile{Name: "ci", GzipLevel: 9, External: []string{"vue"}})

	t.Run("defaults only", func(t *testing.T) {
		s, err := cfg.Resolve("", nil)
		require.NoError(t, err)
		assert.Empty(t, s.Profile)
		assert.Equal(t, "https://registry.example.com", s.Registry)
		assert.Equal(t, 5, s.GzipLevel)
		assert.Equal(t, "auto", s.Platform)
		assert.Equal(t, []string{}, s.External)
	})

	t.Run("profile overrides defaults", func(t *testing.T) {
		s, err := cfg.Resolve("ci", nil)
		require.NoError(t, err)
		assert.Equal(t, "ci", s.Profile)
		assert.Equal(t, 9, s.GzipLevel)
		assert.Equal(t, []string{"vue"}, s.External)
	})

	t.Run("environment overrides profile", func(t *testing.T) {
		t.Setenv("BUNDLECHECK_GZIP_LEVEL", "1")
		t.Setenv("BUNDLECHECK_PLATFORM", "node")
		t.Setenv("BUNDLECHECK_CACHE_BACKEND", "none")

		s, err := cfg.Resolve("ci", NewEnv())
		require.NoError(t, err)
		assert.Equal(t, 1, s.GzipLevel)
		assert.Equal(t, "node", s.Platform)
		assert.Equal(t, cache.BackendNone, s.Cache.Backend)
	})

	t.Run("profile from environment", func(t *testing.T) {
		t.Setenv("BUNDLECHECK_PROFILE", "ci")

		s, err := cfg.Resolve("", NewEnv())
		require.NoError(t, err)
		assert.Equal(t, "ci", s.Profile)
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := cfg.Resolve("staging", nil)
		assert.Error(t, err)
	})

	t.Run("malformed environment value", func(t *testing.T) {
		t.Setenv("BUNDLECHECK_CACHE_MAX_ENTRIES", "lots")
		_, err := cfg.Resolve("", NewEnv())
		assert.Error(t, err)
	})
}

func TestSettingsValidate(t *testing.T) {
	valid := func() *Settings {
		s := &Settings{Output: "table", Cache: cache.Config{Backend: cache.BackendSQLite}}
		s.fillDefaults()
		return s
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
		errMsg string
	}{
		{"gzip too high", func(s *Settings) { s.GzipLevel = 10 }, "gzip_level"},
		{"gzip too low", func(s *Settings) { s.GzipLevel = -1 }, "gzip_level"},
		{"platform", func(s *Settings) { s.Platform = "deno" }, "platform"},
		{"output", func(s *Settings) { s.Output = "xml" }, "output format"},
		{"registry", func(s *Settings) { s.Registry = "ftp://registry" }, "invalid registry URL"},
		{"backend", func(s *Settings) { s.Cache.Backend = "etcd" }, "unknown cache backend"},
		{"redis without url", func(s *Settings) { s.Cache.Backend = cache.BackendRedis }, "redis_url"},
		{"tracing endpoint", func(s *Settings) { s.Tracing.Enabled = true; s.Tracing.Endpoint = "" }, "tracing.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "BUNDLECHECK_GZIP_LEVEL", EnvName("defaults.gzip_level"))
	assert.Equal(t, "BUNDLECHECK_CACHE_REDIS_URL", EnvName("cache.redis_url"))
	assert.Equal(t, "BUNDLECHECK_PROFILE", EnvName("profile"))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BUNDLECHECK_TEST_ENV_FILE=loaded\n"), 0600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Cleanup(func() { _ = os.Unsetenv("BUNDLECHECK_TEST_ENV_FILE") })

	LoadEnvFile()
	assert.Equal(t, "loaded", os.Getenv("BUNDLECHECK_TEST_ENV_FILE"))
}
