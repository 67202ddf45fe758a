package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Auth.SigningSecret = strings.Repeat("s", 32)
	cfg.SetDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want localhost default", cfg.Server.HTTPAddr)
	}
	if cfg.Server.BaseURL != "http://127.0.0.1:8080" {
		t.Errorf("BaseURL = %q, want derived from addr", cfg.Server.BaseURL)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Store.Path != "toolbridge.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Auth.LoginSecret != cfg.Auth.SigningSecret {
		t.Error("LoginSecret should default to SigningSecret")
	}
	if cfg.Upstream.Timeout != "30s" {
		t.Errorf("Upstream.Timeout = %q", cfg.Upstream.Timeout)
	}
	if cfg.Usage.BufferSize != 1024 {
		t.Errorf("Usage.BufferSize = %d", cfg.Usage.BufferSize)
	}
}

func TestSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.HTTPAddr = "0.0.0.0:9000"
	cfg.Server.BaseURL = "https://bridge.example.com"
	cfg.Store.Path = ":memory:"
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.BaseURL != "https://bridge.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
}

func TestSetDevDefaults(t *testing.T) {
	cfg := &Config{DevMode: true}
	cfg.SetDevDefaults()

	if cfg.Auth.SigningSecret == "" {
		t.Error("dev mode should generate a signing secret")
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("Store.Path = %q, want :memory: in dev mode", cfg.Store.Path)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}
}

func TestSetDevDefaultsNoopWithoutDevMode(t *testing.T) {
	cfg := &Config{}
	cfg.SetDevDefaults()

	if cfg.Auth.SigningSecret != "" {
		t.Error("non-dev mode must not generate secrets")
	}
}
