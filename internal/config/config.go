// Package config provides configuration types for ToolBridge.
//
// Configuration is file-based (YAML) with environment variable overrides.
// The schema is deliberately small: a listener, a SQLite store, signing
// secrets, and upstream invocation limits. Everything else (servers,
// tools, APIs, mappings, users) lives in the store, not the config file.
package config

// Config is the top-level configuration for ToolBridge.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store configures the SQLite persistence layer.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Auth configures token signing and the login session.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Upstream configures outbound API invocation limits.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Usage configures the usage event pipeline.
	Usage UsageConfig `yaml:"usage" mapstructure:"usage"`

	// DevMode enables development features (verbose logging, generated
	// secrets). Never run production with DevMode on.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// BaseURL is the externally visible origin used in OAuth challenges
	// and metadata documents (e.g., "https://bridge.example.com").
	// Defaults to "http://" + HTTPAddr if empty.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the SQLite database file, or ":memory:" for an ephemeral
	// store. Defaults to "toolbridge.db" in the working directory.
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty,store_path"`
}

// AuthConfig configures token signing and the login session.
type AuthConfig struct {
	// SigningSecret signs access tokens. Required outside dev mode;
	// minimum 32 bytes. Rotating it invalidates every outstanding token.
	SigningSecret string `yaml:"signing_secret" mapstructure:"signing_secret" validate:"omitempty,min=32"`

	// LoginSecret signs the authorize login session cookie.
	// Defaults to SigningSecret when empty.
	LoginSecret string `yaml:"login_secret" mapstructure:"login_secret" validate:"omitempty,min=32"`
}

// UpstreamConfig configures outbound API invocation.
type UpstreamConfig struct {
	// Timeout is the per-call timeout for upstream requests (e.g., "30s").
	// Defaults to "30s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// UsageConfig configures the usage event pipeline.
type UsageConfig struct {
	// BufferSize is the usage event channel capacity. Events beyond it
	// are dropped rather than blocking the serving path.
	// Defaults to 1024 if not specified or 0.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only for security.
	// Users who need network access must explicitly set http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://" + c.Server.HTTPAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Store.Path == "" {
		c.Store.Path = "toolbridge.db"
	}

	if c.Auth.LoginSecret == "" {
		c.Auth.LoginSecret = c.Auth.SigningSecret
	}

	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}

	if c.Usage.BufferSize == 0 {
		c.Usage.BufferSize = 1024
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are
// satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if c.Auth.SigningSecret == "" {
		c.Auth.SigningSecret = "dev-signing-secret-do-not-use-in-production"
	}
	if c.Auth.LoginSecret == "" {
		c.Auth.LoginSecret = c.Auth.SigningSecret
	}
	if c.Store.Path == "" {
		c.Store.Path = ":memory:"
	}
	if c.Server.LogLevel == "" || c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}
