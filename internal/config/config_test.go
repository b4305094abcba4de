package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuidalink/service-registry/internal/app/domain/token"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Registry.Variant != "full" {
		t.Errorf("expected default variant full, got %q", cfg.Registry.Variant)
	}
	if cfg.Ledger.Mode != "memory" {
		t.Errorf("expected default ledger mode memory, got %q", cfg.Ledger.Mode)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REGISTRY_VARIANT", "simplified")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Variant() != token.VariantSimplified {
		t.Errorf("expected simplified variant, got %q", cfg.Variant())
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad variant", func(c *Config) { c.Registry.Variant = "both" }},
		{"bad ledger mode", func(c *Config) { c.Ledger.Mode = "chain" }},
		{"rpc without url", func(c *Config) { c.Ledger.Mode = "rpc"; c.Ledger.RPCURL = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadStateURIs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uris.yaml")
	content := []byte("state_uris:\n  created: ipfs://created\n  matched: ipfs://matched\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	uris, err := LoadStateURIs(path, token.VariantFull)
	if err != nil {
		t.Fatalf("LoadStateURIs failed: %v", err)
	}
	if uris[token.StateCreated] != "ipfs://created" {
		t.Errorf("unexpected created uri %q", uris[token.StateCreated])
	}
	if uris[token.StateMatched] != "ipfs://matched" {
		t.Errorf("unexpected matched uri %q", uris[token.StateMatched])
	}
}

func TestLoadStateURIsUnknownState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uris.yaml")
	content := []byte("state_uris:\n  paid: ipfs://paid\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	// Paid does not exist in the simplified variant.
	if _, err := LoadStateURIs(path, token.VariantSimplified); err == nil {
		t.Error("expected error for out-of-variant state")
	}
}
