package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/cryptolctl/internal/config"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
	"github.com/danmuck/cryptolctl/internal/testutil/testlog"
)

func TestLoadCLIConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	t.Setenv(config.EnvServerURL, "")

	cfg, err := loadCLIConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.Endpoint != "http://localhost:8080/" {
		t.Fatalf("unexpected endpoint: %q", cfg.Session.Endpoint)
	}
	if cfg.Session.RequestTimeout != 90*time.Second {
		t.Fatalf("request_timeout override ignored: %v", cfg.Session.RequestTimeout)
	}
	if cfg.Session.ConnectTimeout != 5*time.Second {
		t.Fatalf("profile connect_timeout lost: %v", cfg.Session.ConnectTimeout)
	}
	if cfg.Session.MaxOccupancy != 4 || cfg.Session.MaxConnectAttempts != 3 {
		t.Fatalf("unexpected profile values: %+v", cfg.Session)
	}
	if !cfg.Session.CompressResponses {
		t.Fatalf("expected compressed responses")
	}
	if cfg.Session.Headers["X-Team"] != "crypto" {
		t.Fatalf("unexpected headers: %+v", cfg.Session.Headers)
	}
	if cfg.Session.Backoff.Jitter || cfg.Session.Backoff.InitialDelay != 100*time.Millisecond {
		t.Fatalf("unexpected backoff: %+v", cfg.Session.Backoff)
	}
	if len(cfg.Preload) != 2 || cfg.Preload[0] != "SuiteB" || cfg.Preload[1] != "Float" {
		t.Fatalf("unexpected preload: %+v", cfg.Preload)
	}
	if cfg.Prover != "yices" {
		t.Fatalf("unexpected prover: %q", cfg.Prover)
	}
	if cfg.MetricsAddr != "127.0.0.1:9464" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
	if !cfg.Dump || cfg.Trace {
		t.Fatalf("unexpected flags: dump=%v trace=%v", cfg.Dump, cfg.Trace)
	}
}

func TestLoadCLIConfigKeepsDefaultsForUndefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "cryptolctl.toml")
	if err := os.WriteFile(path, []byte("endpoint = \"http://127.0.0.1:9/\"\nmax_occupancy = 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.RequestTimeout != session.DefaultRequestTimeout {
		t.Fatalf("default request timeout lost: %v", cfg.Session.RequestTimeout)
	}
	if cfg.Session.BootstrapModule != session.DefaultBootstrapModule {
		t.Fatalf("default bootstrap module lost: %q", cfg.Session.BootstrapModule)
	}
	if cfg.Prover != "z3" {
		t.Fatalf("default prover lost: %q", cfg.Prover)
	}
	if len(cfg.Preload) != 0 {
		t.Fatalf("unexpected preload: %+v", cfg.Preload)
	}
}

func TestLoadCLIConfigRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "cryptolctl.toml")
	if err := os.WriteFile(path, []byte("request_timeout = \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadCLIConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
