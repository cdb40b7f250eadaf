package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/cryptolctl/internal/config"
	"github.com/danmuck/cryptolctl/internal/protocol"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
)

type fileConfig struct {
	ClientConfig   string   `toml:"client_config"`
	Endpoint       string   `toml:"endpoint"`
	RequestTimeout string   `toml:"request_timeout"`
	MaxOccupancy   int      `toml:"max_occupancy"`
	SecurityMode   string   `toml:"security_mode"`
	Preload        []string `toml:"preload"`
	Prover         string   `toml:"prover"`
	MetricsAddr    string   `toml:"metrics_addr"`
	Trace          bool     `toml:"trace"`
	Dump           bool     `toml:"dump"`
}

type cliConfig struct {
	Session     session.Config
	Preload     []string
	Prover      string
	MetricsAddr string
	Trace       bool
	Dump        bool
}

func defaultCLIConfig() cliConfig {
	return cliConfig{
		Session: session.DefaultConfig(),
		Preload: []string{},
		Prover:  protocol.DefaultProver,
	}
}

// loadCLIConfig starts from defaults, then a client profile named by
// client_config, then the individual keys defined in path.
func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load cryptolctl config: %w", err)
	}

	if meta.IsDefined("client_config") {
		profile := strings.TrimSpace(raw.ClientConfig)
		if !filepath.IsAbs(profile) {
			profile = filepath.Join(filepath.Dir(path), profile)
		}
		client, err := config.LoadClientConfig(profile)
		if err != nil {
			return cliConfig{}, err
		}
		cfg.Session, err = client.SessionConfig()
		if err != nil {
			return cliConfig{}, err
		}
	}

	if meta.IsDefined("endpoint") {
		cfg.Session.Endpoint = strings.TrimSpace(raw.Endpoint)
	}

	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.Session.RequestTimeout = d
	}

	if meta.IsDefined("max_occupancy") {
		cfg.Session.MaxOccupancy = raw.MaxOccupancy
	}

	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	if meta.IsDefined("preload") {
		cfg.Preload = normalizeModules(raw.Preload)
	}

	if meta.IsDefined("prover") {
		if p := strings.TrimSpace(raw.Prover); p != "" {
			cfg.Prover = p
		}
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	if meta.IsDefined("trace") {
		cfg.Trace = raw.Trace
	}

	if meta.IsDefined("dump") {
		cfg.Dump = raw.Dump
	}

	return cfg, nil
}

func normalizeModules(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, m := range in {
		v := strings.TrimSpace(m)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
