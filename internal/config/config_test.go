package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OSC.ListenPort != 9000 || cfg.OSC.SendPort != 9001 {
		t.Fatalf("default ports = %d/%d", cfg.OSC.ListenPort, cfg.OSC.SendPort)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Fatalf("default dimension = %d", cfg.Embedding.Dimension)
	}
	if cfg.Orchestrator.OverlapThreshold != 0.2 {
		t.Fatalf("default overlap threshold = %g", cfg.Orchestrator.OverlapThreshold)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "hibikido.db" {
		t.Fatalf("default database path = %q", cfg.Database.Path)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/custom.db
osc:
  listen_port: 7000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/tmp/custom.db" {
		t.Fatalf("database path = %q", cfg.Database.Path)
	}
	if cfg.OSC.ListenPort != 7000 {
		t.Fatalf("listen port = %d", cfg.OSC.ListenPort)
	}
	if cfg.OSC.SendPort != 9001 {
		t.Fatalf("send port not defaulted: %d", cfg.OSC.SendPort)
	}
	if cfg.Search.TopK != 10 {
		t.Fatalf("top_k not defaulted: %d", cfg.Search.TopK)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "osc: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"overlap above one", "orchestrator:\n  overlap_threshold: 1.5\n"},
		{"negative top_k", "search:\n  top_k: -1\n  min_score: 0.5\n"},
		{"inverted default band", "orchestrator:\n  default_freq_low: 5000\n  default_freq_high: 100\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
