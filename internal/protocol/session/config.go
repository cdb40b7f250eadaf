package session

import (
	"strings"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// SecurityMode controls how strictly transport settings are checked.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures https endpoints. Mutual enables a client certificate.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	Mutual             bool
	InsecureSkipVerify bool
}

const (
	DefaultRequestTimeout  = time.Hour
	DefaultConnectTimeout  = 10 * time.Second
	DefaultBootstrapModule = "Cryptol"
)

// Config defines endpoint, timeout and retry settings for one Session.
type Config struct {
	// Endpoint is the server URL, e.g. http://localhost:8080/.
	Endpoint string
	// RequestTimeout bounds a call whose context carries no deadline.
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	// MaxOccupancy is forwarded to the server on bootstrap and caps the
	// number of connections to the endpoint. Zero means unlimited.
	MaxOccupancy       int
	MaxConnectAttempts int
	CompressResponses  bool
	Headers            map[string]string
	AuthToken          string
	BootstrapModule    string
	SecurityMode       SecurityMode
	TLS                TLSConfig
	Backoff            BackoffConfig
}

// DefaultConfig allows one hour per request and loads the Cryptol prelude
// on connect.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     DefaultRequestTimeout,
		ConnectTimeout:     DefaultConnectTimeout,
		MaxConnectAttempts: 5,
		BootstrapModule:    DefaultBootstrapModule,
		SecurityMode:       SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = d.MaxConnectAttempts
	}
	if strings.TrimSpace(c.BootstrapModule) == "" {
		c.BootstrapModule = d.BootstrapModule
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	return c
}
