package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/bodhi/pkg/errorsx"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != "wss://bodhi.navana.ai" || cfg.Stream.Model != "hi-banking-v2-8khz" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Stream.SampleRate != 8000 || cfg.Stream.Interval() != 20*time.Millisecond {
		t.Fatalf("unexpected stream defaults %+v", cfg.Stream)
	}
	if cfg.Stream.DrainTimeout() != 10*time.Second || cfg.Provider.Name != "bodhi" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bodhi.yaml")
	content := `
server:
  url: wss://example.test
stream:
  model: ${BODHI_TEST_MODEL}
  sample_rate: 16000
provider:
  name: deepgram
  settings:
    api_key: ${BODHI_TEST_DG_KEY}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BODHI_TEST_MODEL", "en-general-v2-8khz")
	t.Setenv("BODHI_TEST_DG_KEY", "dg-secret")
	t.Setenv("BODHI_API_KEY", "key-from-env")
	t.Setenv("BODHI_CUSTOMER_ID", "cust-from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != "wss://example.test" || cfg.Stream.SampleRate != 16000 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Stream.Model != "en-general-v2-8khz" {
		t.Fatalf("env expansion failed: %q", cfg.Stream.Model)
	}
	if cfg.Provider.Settings["api_key"] != "dg-secret" {
		t.Fatalf("settings expansion failed: %v", cfg.Provider.Settings)
	}
	if cfg.Auth.APIKey != "key-from-env" || cfg.Auth.CustomerID != "cust-from-env" {
		t.Fatalf("credentials not read from env: %+v", cfg.Auth)
	}
	if err := cfg.RequireCredentials(); err != nil {
		t.Fatalf("credentials: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("BODHI_STREAM_SAMPLE_RATE", "0")
	_, err := LoadConfig("")
	if err == nil || !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := Config{}
	if err := cfg.RequireCredentials(); err == nil {
		t.Fatalf("expected missing credentials")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("BODHI_DOTENV_PROBE=loaded\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BODHI_DOTENV_PROBE", "")
	os.Unsetenv("BODHI_DOTENV_PROBE")
	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("BODHI_DOTENV_PROBE"); got != "loaded" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}
