package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("topology", "", "")
	fs.Int("ttl", 255, "")
	fs.Int("max-probes", 10000, "")
	fs.Int("workers", 1, "")
	fs.String("log-level", "INFO", "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := DefaultConfig()
	if cfg.TTL != def.TTL || cfg.MaxProbes != def.MaxProbes || cfg.LogLevel != "INFO" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	// This test checks that a set flag beats the environment, which beats
	// the file, which beats the defaults.
	path := writeConfig(t, "topology: lab.yaml\nttl: 32\nmax_probes: 50\nlog_level: DEBUG\n")
	t.Setenv("ANALYZER_MAX_PROBES", "70")

	cfg, err := Load(testFlags(t, "--config", path, "--ttl", "16"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("config file = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.Topology != "lab.yaml" {
		t.Fatalf("topology = %q", cfg.Topology)
	}
	if cfg.TTL != 16 {
		t.Fatalf("ttl = %d, want flag value 16", cfg.TTL)
	}
	if cfg.MaxProbes != 70 {
		t.Fatalf("max_probes = %d, want env value 70", cfg.MaxProbes)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Fatalf("log_level = %q, want file value DEBUG", cfg.LogLevel)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{"ttl too large", "ttl: 300\n", true},
		{"zero workers", "workers: 0\n", true},
		{"negative max probes", "max_probes: -1\n", true},
		{"malformed yaml", "ttl: [1, 2\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := Load(testFlags(t, "--config", path))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.invalid && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
