// Package config provides configuration types for inkgate.
//
// Configuration is file-based (YAML) with environment overrides. Every
// section is optional; SetDefaults fills in a runnable configuration except
// for the platform and policy endpoints.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the metrics and status listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Platform configures the collaborative-fiction platform API.
	Platform PlatformConfig `yaml:"platform" mapstructure:"platform"`

	// Policy configures where behaviour policies are fetched and cached.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Loop configures the decision loop cadence.
	Loop LoopConfig `yaml:"loop" mapstructure:"loop"`

	// Quotas overrides the built-in per-kind quota defaults. Keys are action
	// kinds (aliases accepted). Published policies still take precedence.
	Quotas map[string]QuotaConfig `yaml:"quotas" mapstructure:"quotas" validate:"omitempty,dive"`

	// Scores overrides the per-kind candidate score profiles.
	// Example: scores: {continue: {continuity: 0.8}}
	Scores map[string]map[string]float64 `yaml:"scores" mapstructure:"scores"`

	// Drafter configures optional text generation for empty payloads.
	Drafter DrafterConfig `yaml:"drafter" mapstructure:"drafter"`

	// Audit configures the decision journal.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures OpenTelemetry exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// StatePath is the runtime state file (quota windows, last policy check).
	// Defaults to ~/.inkgate/state.json.
	StatePath string `yaml:"state_path" mapstructure:"state_path"`

	// DevMode enables debug logging and local defaults.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:9464"
	// (localhost only). Set to "off" to disable the server.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,http_addr"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins allowed to call the status API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`
}

// PlatformConfig configures the platform client.
type PlatformConfig struct {
	// BaseURL is the API root, e.g. "https://inkpath-api.onrender.com/api/v1".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Timeout bounds each HTTP request (e.g. "30s"). Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// MaxStories and MaxBranches bound candidate discovery per cycle.
	MaxStories  int `yaml:"max_stories" mapstructure:"max_stories" validate:"omitempty,min=1"`
	MaxBranches int `yaml:"max_branches" mapstructure:"max_branches" validate:"omitempty,min=1"`
}

// PolicyConfig configures policy fetching.
// Exactly one of SourceURL or SourceDir must be set.
type PolicyConfig struct {
	// SourceURL is the base URL documents are fetched from, under
	// /.well-known/.
	SourceURL string `yaml:"source_url" mapstructure:"source_url" validate:"omitempty,url"`

	// SourceDir reads documents from a local directory instead.
	SourceDir string `yaml:"source_dir" mapstructure:"source_dir"`

	// CacheDir holds the last fetched copy of every document.
	// Defaults to ~/.inkgate/policies.
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`

	// FetchTimeout bounds each remote fetch (e.g. "10s"). Defaults to "10s".
	FetchTimeout string `yaml:"fetch_timeout" mapstructure:"fetch_timeout" validate:"omitempty,duration"`

	// Documents lists the policy documents in lookup order.
	Documents []PolicyDocumentConfig `yaml:"documents" mapstructure:"documents" validate:"omitempty,dive"`
}

// PolicyDocumentConfig names one policy document and its file.
type PolicyDocumentConfig struct {
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// LoopConfig configures the decision loop.
type LoopConfig struct {
	// Interval is the pause between cycles (e.g. "5m"). Defaults to "5m".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty,duration"`

	// MaxInterval caps Interval. Defaults to "1h".
	MaxInterval string `yaml:"max_interval" mapstructure:"max_interval" validate:"omitempty,duration"`
}

// QuotaConfig is a per-kind quota rule.
type QuotaConfig struct {
	Max         int    `yaml:"max" mapstructure:"max" validate:"min=1"`
	Window      string `yaml:"window" mapstructure:"window" validate:"required,duration"`
	PerResource bool   `yaml:"per_resource" mapstructure:"per_resource"`
}

// DrafterConfig configures the OpenAI-compatible drafter.
type DrafterConfig struct {
	// Enabled turns drafting on. When off, candidates without text are
	// rejected by content-length validation.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// BaseURL is the chat completion endpoint root. Empty uses OpenAI.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" validate:"omitempty,min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" validate:"omitempty,min=1"`
}

// AuditConfig configures the decision journal.
type AuditConfig struct {
	// Output specifies where decisions are journaled.
	// Valid values: "stdout", "file:///absolute/dir" or
	// "sqlite:///absolute/path.db". Defaults to "stdout".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// BufferSize is the number of recent decisions kept in memory for the
	// status API. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// MaxFileSizeMB rotates file journals. Defaults to 50.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// RetentionDays is how long file journals are kept. Defaults to 30.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Tracing is "none" or "stdout". Defaults to "none".
	Tracing string `yaml:"tracing" mapstructure:"tracing" validate:"omitempty,oneof=none stdout"`

	// Metrics is "none" or "stdout". Defaults to "none".
	Metrics string `yaml:"metrics" mapstructure:"metrics" validate:"omitempty,oneof=none stdout"`

	// MetricsInterval is the stdout metric export period. Defaults to "1m".
	MetricsInterval string `yaml:"metrics_interval" mapstructure:"metrics_interval" validate:"omitempty,duration"`
}

// DefaultDocuments are the documents the platform publishes.
func DefaultDocuments() []PolicyDocumentConfig {
	return []PolicyDocumentConfig{
		{Name: "agent", Path: "inkpath-agent.json"},
		{Name: "skills", Path: "inkpath-skills.json"},
		{Name: "cli", Path: "inkpath-cli.json"},
	}
}

// DocumentNames returns the configured document names in lookup order.
func (c *Config) DocumentNames() []string {
	names := make([]string, len(c.Policy.Documents))
	for i, d := range c.Policy.Documents {
		names[i] = d.Name
	}
	return names
}

// DocumentFiles maps document names to their files.
func (c *Config) DocumentFiles() map[string]string {
	files := make(map[string]string, len(c.Policy.Documents))
	for _, d := range c.Policy.Documents {
		files[d.Name] = d.Path
	}
	return files
}

// ServerEnabled reports whether the status server should run.
func (c *Config) ServerEnabled() bool {
	return c.Server.HTTPAddr != "off"
}

// Duration parses a duration field that Validate has already checked.
// Empty or invalid values yield fallback.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SetDevDefaults applies local defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// A local platform stub and a policies directory next to the binary.
	if c.Platform.BaseURL == "" {
		c.Platform.BaseURL = "http://127.0.0.1:5000/api/v1"
	}
	if c.Policy.SourceURL == "" && c.Policy.SourceDir == "" {
		c.Policy.SourceDir = "./policies"
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".inkgate")

	// Bind to localhost only. Set http_addr: "0.0.0.0:9464" for network access.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:9464"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Platform.Timeout == "" {
		c.Platform.Timeout = "30s"
	}
	if c.Platform.MaxStories == 0 {
		c.Platform.MaxStories = 10
	}
	if c.Platform.MaxBranches == 0 {
		c.Platform.MaxBranches = 5
	}

	if c.Policy.CacheDir == "" {
		c.Policy.CacheDir = filepath.Join(base, "policies")
	}
	if c.Policy.FetchTimeout == "" {
		c.Policy.FetchTimeout = "10s"
	}
	if len(c.Policy.Documents) == 0 {
		c.Policy.Documents = DefaultDocuments()
	}

	if c.Loop.Interval == "" {
		c.Loop.Interval = "5m"
	}
	if c.Loop.MaxInterval == "" {
		c.Loop.MaxInterval = "1h"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 50
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}

	if c.Telemetry.Tracing == "" {
		c.Telemetry.Tracing = "none"
	}
	if c.Telemetry.Metrics == "" {
		c.Telemetry.Metrics = "none"
	}
	if c.Telemetry.MetricsInterval == "" {
		c.Telemetry.MetricsInterval = "1m"
	}

	// Drafting is on by default when an API key is present, unless the
	// user set drafter.enabled explicitly.
	if !viper.IsSet("drafter.enabled") && c.Drafter.APIKey != "" {
		c.Drafter.Enabled = true
	}

	if c.StatePath == "" {
		c.StatePath = filepath.Join(base, "state.json")
	}
}
