package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8099 {
		t.Fatalf("expected default port 8099, got %d", cfg.HTTP.Port)
	}
	if cfg.Embeddings.Dir != "./data/embeddings" {
		t.Fatalf("expected default embeddings dir, got %q", cfg.Embeddings.Dir)
	}
	if cfg.Recognizer.Mode != "analyzer" {
		t.Fatalf("expected analyzer mode, got %q", cfg.Recognizer.Mode)
	}
	if cfg.Recognizer.MinConfidence != 0.75 {
		t.Fatalf("expected min confidence 0.75, got %v", cfg.Recognizer.MinConfidence)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speakerd.yaml")
	data := []byte(`
http:
  bind: 127.0.0.1
  port: 9000
  access_log: false
telemetry:
  log_level: debug
embeddings:
  dir: /data/embeddings
  dimension: 128
recognizer:
  mode: exec
  command: "voice-encoder --json"
  min_confidence: 0.6
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Bind != "127.0.0.1" || cfg.HTTP.Port != 9000 {
		t.Fatalf("expected http overrides, got %s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	}
	if cfg.HTTP.AccessLog {
		t.Fatal("expected access log disabled")
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.Telemetry.LogLevel)
	}
	if cfg.Embeddings.Dir != "/data/embeddings" || cfg.Embeddings.Dimension != 128 {
		t.Fatalf("expected embeddings overrides, got %q dim=%d", cfg.Embeddings.Dir, cfg.Embeddings.Dimension)
	}
	if cfg.Recognizer.Mode != "exec" || cfg.Recognizer.Command == "" {
		t.Fatalf("expected exec recognizer, got %q", cfg.Recognizer.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SPEAKERD_HTTP_BIND", "127.0.0.1")
	t.Setenv("SPEAKERD_HTTP_PORT", "8100")
	t.Setenv("SPEAKERD_HTTP_ACCESS_LOG", "false")
	t.Setenv("SPEAKERD_TELEMETRY_LOG_LEVEL", "warn")
	t.Setenv("SPEAKERD_EMBEDDINGS_DIR", "/tmp/embeddings")
	t.Setenv("SPEAKERD_RECOGNIZER_MIN_CONFIDENCE", "0.5")
	t.Setenv("SPEAKERD_REGISTRY_PATH", "./tmp.db")
	t.Setenv("SPEAKERD_BUS_ENABLED", "true")
	t.Setenv("SPEAKERD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SPEAKERD_NODE_ID", "test-node")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Bind != "127.0.0.1" || cfg.HTTP.Port != 8100 {
		t.Fatalf("expected http env overrides, got %s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	}
	if cfg.HTTP.AccessLog {
		t.Fatal("expected access log override false")
	}
	if cfg.Telemetry.LogLevel != "warn" {
		t.Fatalf("expected warn log level, got %q", cfg.Telemetry.LogLevel)
	}
	if cfg.Embeddings.Dir != "/tmp/embeddings" {
		t.Fatalf("expected embeddings dir override, got %q", cfg.Embeddings.Dir)
	}
	if cfg.Recognizer.MinConfidence != 0.5 {
		t.Fatalf("expected min confidence 0.5, got %v", cfg.Recognizer.MinConfidence)
	}
	if cfg.Registry.Path != "./tmp.db" {
		t.Fatalf("expected registry path override, got %q", cfg.Registry.Path)
	}
	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Node.ID != "test-node" {
		t.Fatalf("expected node id override, got %q", cfg.Node.ID)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad log level", map[string]string{"SPEAKERD_TELEMETRY_LOG_LEVEL": "verbose"}},
		{"bad recognizer mode", map[string]string{"SPEAKERD_RECOGNIZER_MODE": "neural"}},
		{"exec without command", map[string]string{"SPEAKERD_RECOGNIZER_MODE": "exec"}},
		{"confidence out of range", map[string]string{"SPEAKERD_RECOGNIZER_MIN_CONFIDENCE": "1.5"}},
		{"bad port", map[string]string{"SPEAKERD_HTTP_PORT": "70000"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
