package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DataDir != "~/.retrace" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("retention = %d", cfg.RetentionDays)
	}
	if cfg.Dedupe.Threshold != 0.85 || !cfg.Dedupe.IndexDuplicateText {
		t.Errorf("dedupe defaults = %+v", cfg.Dedupe)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadPartialInheritsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
data_dir: /tmp/retrace-test
capture:
  base_url: http://127.0.0.1:9000
dedupe:
  threshold: 0.9
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDir != "/tmp/retrace-test" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if cfg.Capture.BaseURL != "http://127.0.0.1:9000" {
		t.Errorf("base url = %q", cfg.Capture.BaseURL)
	}
	if cfg.Dedupe.Threshold != 0.9 {
		t.Errorf("threshold = %v", cfg.Dedupe.Threshold)
	}

	// Everything the file omits stays at defaults.
	if cfg.Capture.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v", cfg.Capture.PollInterval)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	if cfg.HTTP.Addr != "127.0.0.1:7340" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
}

func TestLoadAPIKeyEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("capture:\n  base_url: http://x\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Embedding.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env fallback", cfg.Embedding.APIKey)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing base_url": "capture:\n  base_url: \"\"\n",
		"bad threshold":    "capture:\n  base_url: http://x\ndedupe:\n  threshold: 1.5\n",
		"bad retention":    "capture:\n  base_url: http://x\nretention_days: -1\n",
	}

	for name, body := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "-")+".yaml")
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: want validation error", name)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.DataDir = "/var/lib/retrace"
	cfg.HTTP.Token = "secret"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.DataDir != "/var/lib/retrace" || got.HTTP.Token != "secret" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	if got := ExpandHome("~/.retrace"); got != filepath.Join(home, ".retrace") {
		t.Errorf("ExpandHome(~/.retrace) = %q", got)
	}
	if got := ExpandHome("/absolute/path"); got != "/absolute/path" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandHome("relative/~path"); got != "relative/~path" {
		t.Errorf("inner tilde expanded: %q", got)
	}
}
