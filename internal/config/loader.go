package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "SNAPBACK"
	configFileName = "snapback.json"
)

// Load builds the configuration from defaults, an optional JSON config file,
// and SNAPBACK_* environment variables (highest precedence).
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg, v)

	if cfg.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.WorkspaceRoot = wd
	}
	if info, err := os.Stat(cfg.WorkspaceRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a readable directory", cfg.WorkspaceRoot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides maps recognized environment variables onto the config.
func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	if s := v.GetString("MODE"); s != "" {
		cfg.Mode = s
	}
	if s := v.GetString("LISTEN"); s != "" {
		cfg.Listen = s
	}
	if s := v.GetString("WORKSPACE_ROOT"); s != "" {
		cfg.WorkspaceRoot = s
	}
	if s := v.GetString("UPSTREAM_BASE_URL"); s != "" {
		cfg.UpstreamBaseURL = s
	}
	if s := v.GetString("UPSTREAM_API_KEY"); s != "" {
		cfg.UpstreamAPIKey = s
	}
	if s := v.GetString("DOCS_BASE_URL"); s != "" {
		cfg.DocsBaseURL = s
	}
	if s := v.GetString("DOCS_API_KEY"); s != "" {
		cfg.DocsAPIKey = s
	}
	if s := v.GetString("VULN_DB_PATH"); s != "" {
		cfg.VulnDBPath = s
	}
	if n := v.GetInt64("SEARCH_CACHE_TTL_SEC"); n > 0 {
		cfg.SearchCacheTTL = time.Duration(n) * time.Second
	}
	if n := v.GetInt64("DOCS_CACHE_TTL_SEC"); n > 0 {
		cfg.DocsCacheTTL = time.Duration(n) * time.Second
	}
	if n := v.GetInt64("RATE_LIMIT_WINDOW_MS"); n > 0 {
		cfg.RateLimitWindow = time.Duration(n) * time.Millisecond
	}
	if n := v.GetInt("RATE_LIMIT_MAX"); n > 0 {
		cfg.RateLimitMax = n
	}
	if n := v.GetInt64("MAX_BODY_BYTES"); n > 0 {
		cfg.MaxBodyBytes = n
	}
	if s := v.GetString("CORS_ORIGINS"); s != "" {
		cfg.CORSOrigins = ParseOrigins(s)
	}
}

// DataDir returns the workspace-local state directory, creating it on first
// use.
func (c *Config) DataDir() (string, error) {
	dir := filepath.Join(c.WorkspaceRoot, DataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultConfigPath returns the workspace-local config file path if present.
func DefaultConfigPath(workspaceRoot string) string {
	p := filepath.Join(workspaceRoot, DataDirName, configFileName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}
