package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apierrors "shoonya-bridge/internal/errors"
)

func validConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{Mode: "sim", UpstreamTimeout: 10 * time.Second},
		Risk:   RiskConfig{MaxOrderQuantity: 100000, MaxOrderValue: 5000000},
		Feed:   FeedConfig{BufferSize: 1000, SubscriberBufferSize: 100},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Bridge.Mode = "paper" }},
		{"zero timeout", func(c *Config) { c.Bridge.UpstreamTimeout = 0 }},
		{"zero max quantity", func(c *Config) { c.Risk.MaxOrderQuantity = 0 }},
		{"negative max value", func(c *Config) { c.Risk.MaxOrderValue = -1 }},
		{"zero feed buffer", func(c *Config) { c.Feed.BufferSize = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, apierrors.ErrConfigInvalid) {
				t.Errorf("err = %v, want ErrConfigInvalid", err)
			}
		})
	}
}

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BRIDGE_MODE", "")
	t.Setenv("SHOONYA_USER_ID", "")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bridge.Mode != "live" {
		t.Errorf("default mode = %s", cfg.Bridge.Mode)
	}
	if cfg.Bridge.UpstreamTimeout != 10*time.Second {
		t.Errorf("default timeout = %s", cfg.Bridge.UpstreamTimeout)
	}
	if cfg.Risk.MaxOrderQuantity != 100000 {
		t.Errorf("default max quantity = %d", cfg.Risk.MaxOrderQuantity)
	}

	for _, name := range []string{"config.toml", "credentials.toml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("template %s not created: %v", name, err)
		}
	}

	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	if err == nil && info.Mode().Perm() != 0600 {
		t.Errorf("credentials.toml mode = %o, want 0600", info.Mode().Perm())
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BRIDGE_MODE", "sim")
	t.Setenv("SHOONYA_USER_ID", "FA0001")
	t.Setenv("SHOONYA_TOTP_SECRET", "JBSWY3DPEHPK3PXP")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.IsSimMode() {
		t.Error("BRIDGE_MODE=sim not applied")
	}
	if cfg.Credentials.UserID != "FA0001" {
		t.Errorf("UserID = %s", cfg.Credentials.UserID)
	}

	creds := cfg.Credentials.ToModel()
	if creds.TwoFA != "JBSWY3DPEHPK3PXP" {
		t.Errorf("TwoFA = %s", creds.TwoFA)
	}
}
