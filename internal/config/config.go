package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvServerURL overrides the configured endpoint when set.
const EnvServerURL = "CRYPTOL_SERVER_URL"

// ClientConfig is the on-disk form of a connection profile. Durations are
// Go duration strings ("90s", "1h").
type ClientConfig struct {
	Endpoint           string            `toml:"endpoint"`
	Scheme             string            `toml:"scheme"`
	Host               string            `toml:"host"`
	Port               int               `toml:"port"`
	RequestTimeout     string            `toml:"request_timeout"`
	ConnectTimeout     string            `toml:"connect_timeout"`
	MaxOccupancy       int               `toml:"max_occupancy"`
	MaxConnectAttempts int               `toml:"max_connect_attempts"`
	CompressResponses  bool              `toml:"compress_responses"`
	BootstrapModule    string            `toml:"bootstrap_module"`
	SecurityMode       string            `toml:"security_mode"`
	AuthToken          string            `toml:"auth_token"`
	AuthTokenFile      string            `toml:"auth_token_file"`
	Headers            map[string]string `toml:"headers"`
	TLS                TLSConfig         `toml:"tls"`
	Backoff            BackoffConfig     `toml:"backoff"`
}

type TLSConfig struct {
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	Mutual             bool   `toml:"mutual"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type BackoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       *bool   `toml:"jitter"`
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	ApplyEnv(&cfg)
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// ParseClientConfig decodes and validates a profile held in memory.
func ParseClientConfig(data []byte) (ClientConfig, error) {
	var cfg ClientConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

// ApplyEnv replaces the endpoint with $CRYPTOL_SERVER_URL when it is set.
func ApplyEnv(cfg *ClientConfig) {
	if url := strings.TrimSpace(os.Getenv(EnvServerURL)); url != "" {
		cfg.Endpoint = url
		cfg.Scheme, cfg.Host, cfg.Port = "", "", 0
	}
}

// ResolvedEndpoint returns Endpoint, or a URL assembled from scheme, host
// and port.
func (c ClientConfig) ResolvedEndpoint() string {
	if e := strings.TrimSpace(c.Endpoint); e != "" {
		return e
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}
	scheme := strings.ToLower(strings.TrimSpace(c.Scheme))
	if scheme == "" {
		scheme = "http"
	}
	if c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return scheme + "://" + host + "/"
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Endpoint) != "" && strings.TrimSpace(cfg.Host) != "" {
		return fmt.Errorf("client config sets both endpoint and host")
	}
	if cfg.ResolvedEndpoint() == "" {
		return fmt.Errorf("client config missing endpoint (or host)")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("client config port %d out of range", cfg.Port)
	}
	if cfg.MaxOccupancy < 0 {
		return fmt.Errorf("client config max_occupancy must not be negative")
	}
	if cfg.AuthToken != "" && cfg.AuthTokenFile != "" {
		return fmt.Errorf("client config sets both auth_token and auth_token_file")
	}
	for _, d := range []struct{ name, raw string }{
		{"request_timeout", cfg.RequestTimeout},
		{"connect_timeout", cfg.ConnectTimeout},
		{"backoff.initial_delay", cfg.Backoff.InitialDelay},
		{"backoff.max_delay", cfg.Backoff.MaxDelay},
	} {
		if _, err := parseDuration(d.raw); err != nil {
			return fmt.Errorf("client config %s: %w", d.name, err)
		}
	}
	sc, err := cfg.sessionConfig()
	if err != nil {
		return err
	}
	if err := sc.ValidateClientTransport(); err != nil {
		return fmt.Errorf("client config transport invalid: %w", err)
	}
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
