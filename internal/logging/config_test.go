package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{raw: "", want: zerolog.InfoLevel, ok: false},
		{raw: "DEBUG", want: zerolog.DebugLevel, ok: true},
		{raw: " warning ", want: zerolog.WarnLevel, ok: true},
		{raw: "off", want: zerolog.Disabled, ok: true},
		{raw: "loud", want: zerolog.InfoLevel, ok: false},
	}
	for _, tc := range tests {
		got, ok := parseLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v,%v want %v,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "true")
	t.Setenv(EnvLogNoColor, "1")
	t.Setenv(EnvLogBypass, "not-a-bool")

	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || !cfg.Timestamp || !cfg.NoColor || cfg.Bypass {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestApplyBypassWritesJSON(t *testing.T) {
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, Bypass: true, Out: &buf})
	log.Info().Str("method", "load module").Msg("call")
	log.Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, `"method":"load module"`) {
		t.Fatalf("expected json field in output, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
}
