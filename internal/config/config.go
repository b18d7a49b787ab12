package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/snapback-dev/snapback-go/internal/logs"
)

// Mode switches dev-vs-prod behavior: error verbosity, API key strictness,
// and whether a wildcard CORS origin is tolerated.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

const (
	minAPIKeyLength = 32

	// DataDirName is the workspace-local state directory.
	DataDirName = ".snapback"

	defaultRateLimitWindow = time.Minute
	defaultRateLimitMax    = 100
	defaultMaxBodyBytes    = 4 << 20 // 4 MiB

	defaultSearchCacheTTL = time.Hour
	defaultDocsCacheTTL   = 24 * time.Hour
)

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the full runtime configuration.
type Config struct {
	Mode   string `json:"mode" mapstructure:"mode"`
	Listen string `json:"listen" mapstructure:"listen"` // empty = stdio transport

	// WorkspaceRoot confines every file operation. Defaults to the process
	// working directory.
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace-root"`

	// Upstream analysis service.
	UpstreamBaseURL string `json:"upstream_base_url" mapstructure:"upstream-base-url"`
	UpstreamAPIKey  string `json:"upstream_api_key" mapstructure:"upstream-api-key"`

	// External documentation service.
	DocsBaseURL    string        `json:"docs_base_url" mapstructure:"docs-base-url"`
	DocsAPIKey     string        `json:"docs_api_key" mapstructure:"docs-api-key"`
	SearchCacheTTL time.Duration `json:"search_cache_ttl" mapstructure:"search-cache-ttl"`
	DocsCacheTTL   time.Duration `json:"docs_cache_ttl" mapstructure:"docs-cache-ttl"`

	// VulnDBPath points at the JSON advisory fixture backing the offline
	// dependency checks. Empty disables advisory lookups.
	VulnDBPath string `json:"vuln_db_path" mapstructure:"vuln-db-path"`

	// HTTP transport limits.
	RateLimitWindow time.Duration `json:"rate_limit_window" mapstructure:"rate-limit-window"`
	RateLimitMax    int           `json:"rate_limit_max" mapstructure:"rate-limit-max"`
	MaxBodyBytes    int64         `json:"max_body_bytes" mapstructure:"max-body-bytes"`
	CORSOrigins     []string      `json:"cors_origins" mapstructure:"cors-origins"`

	// Per-operation performance budget overrides, milliseconds.
	PerfBudgetsMS map[string]int64 `json:"perf_budgets_ms" mapstructure:"perf-budgets-ms"`

	Logging *logs.Config `json:"logging,omitempty" mapstructure:"logging"`
}

// DefaultConfig returns a development-mode configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeDevelopment,
		Listen:          "",
		WorkspaceRoot:   "",
		SearchCacheTTL:  defaultSearchCacheTTL,
		DocsCacheTTL:    defaultDocsCacheTTL,
		RateLimitWindow: defaultRateLimitWindow,
		RateLimitMax:    defaultRateLimitMax,
		MaxBodyBytes:    defaultMaxBodyBytes,
		CORSOrigins:     []string{"*"},
		PerfBudgetsMS:   map[string]int64{},
		Logging:         logs.DefaultConfig(),
	}
}

// IsDevelopment reports whether dev-mode relaxations apply.
func (c *Config) IsDevelopment() bool {
	return c.Mode != ModeProduction
}

// Validate checks the configuration and normalizes defaults. Violations are
// fatal at startup: the caller exits with the configuration error code.
func (c *Config) Validate() error {
	if c.Mode == "" {
		c.Mode = ModeDevelopment
	}
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("invalid mode %q: must be %q or %q", c.Mode, ModeDevelopment, ModeProduction)
	}

	if err := c.validateAPIKey("upstream_api_key", c.UpstreamAPIKey); err != nil {
		return err
	}

	if c.UpstreamBaseURL != "" {
		if err := validateBaseURL("upstream_base_url", c.UpstreamBaseURL); err != nil {
			return err
		}
	}
	if c.DocsBaseURL != "" {
		if err := validateBaseURL("docs_base_url", c.DocsBaseURL); err != nil {
			return err
		}
	}

	// Negative or zero TTLs fall back to defaults.
	if c.SearchCacheTTL <= 0 {
		c.SearchCacheTTL = defaultSearchCacheTTL
	}
	if c.DocsCacheTTL <= 0 {
		c.DocsCacheTTL = defaultDocsCacheTTL
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = defaultRateLimitWindow
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = defaultRateLimitMax
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}

	for _, origin := range c.CORSOrigins {
		if origin == "*" && !c.IsDevelopment() {
			return fmt.Errorf("cors_origins: wildcard origin is only permitted in development mode")
		}
	}

	if c.Logging == nil {
		c.Logging = logs.DefaultConfig()
	}
	return nil
}

// validateAPIKey enforces production key strictness. Development and test
// runs may leave the key empty.
func (c *Config) validateAPIKey(field, key string) error {
	if c.IsDevelopment() && key == "" {
		return nil
	}
	if key == "" {
		return fmt.Errorf("%s: required in production mode", field)
	}
	if len(key) < minAPIKeyLength {
		return fmt.Errorf("%s: must be at least %d characters", field, minAPIKeyLength)
	}
	if !apiKeyPattern.MatchString(key) {
		return fmt.Errorf("%s: must match [A-Za-z0-9_-]+", field)
	}
	return nil
}

func validateBaseURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: URL scheme must be http or https", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: URL host is empty", field)
	}
	return nil
}

// ParseOrigins splits a comma-separated origin list.
func ParseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
