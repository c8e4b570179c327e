package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Addr() != "0.0.0.0:9000" {
		t.Errorf("addr = %q", cfg.Addr())
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Runs.MaxIterations != 10 || cfg.Runs.Timeout != 10*time.Minute {
		t.Errorf("runs = %+v", cfg.Runs)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_KEY", "sk-secret")
	cfg, err := Parse([]byte(`
providers:
  openai:
    type: openai
    api_key: ${RELAY_TEST_KEY}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Providers["openai"].APIKey != "sk-secret" {
		t.Errorf("api_key = %q", cfg.Providers["openai"].APIKey)
	}

	specs := cfg.ProviderSpecs()
	if specs["openai"].Type != "openai" || specs["openai"].APIKey != "sk-secret" {
		t.Errorf("spec = %+v", specs["openai"])
	}
}

func TestParseRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "store:\n  backend: dynamo\n"},
		{"postgres without dsn", "store:\n  backend: postgres\n"},
		{"bad logging format", "logging:\n  format: xml\n"},
		{"provider without type", "providers:\n  p1:\n    api_key: x\n"},
		{"invalid yaml", "server: [\n"},
	}
	for _, tc := range cases {
		if _, err := Parse([]byte(tc.yaml)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestEngineConfigMapping(t *testing.T) {
	cfg, err := Parse([]byte(`
runs:
  max_iterations: 3
  timeout: 2m
  tool_timeout: 10s
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ec := cfg.EngineConfig()
	if ec.MaxIterations != 3 || ec.RunTimeout != 2*time.Minute || ec.ToolTimeout != 10*time.Second {
		t.Errorf("engine config = %+v", ec)
	}
}
