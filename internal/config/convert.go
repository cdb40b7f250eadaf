package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/cryptolctl/internal/auth"
	"github.com/danmuck/cryptolctl/internal/protocol/session"
)

// SessionConfig converts a validated profile into session settings, reading
// auth_token_file if one is named.
func (c ClientConfig) SessionConfig() (session.Config, error) {
	sc, err := c.sessionConfig()
	if err != nil {
		return session.Config{}, err
	}
	if path := strings.TrimSpace(c.AuthTokenFile); path != "" {
		token, err := auth.ReadTokenFile(path)
		if err != nil {
			return session.Config{}, err
		}
		sc.AuthToken = token
	}
	return sc.WithDefaults(), nil
}

func (c ClientConfig) sessionConfig() (session.Config, error) {
	sc := session.Config{
		Endpoint:           c.ResolvedEndpoint(),
		MaxOccupancy:       c.MaxOccupancy,
		MaxConnectAttempts: c.MaxConnectAttempts,
		CompressResponses:  c.CompressResponses,
		BootstrapModule:    strings.TrimSpace(c.BootstrapModule),
		SecurityMode:       session.NormalizeSecurityMode(session.SecurityMode(c.SecurityMode)),
		AuthToken:          strings.TrimSpace(c.AuthToken),
		TLS: session.TLSConfig{
			CAFile:             strings.TrimSpace(c.TLS.CAFile),
			CertFile:           strings.TrimSpace(c.TLS.CertFile),
			KeyFile:            strings.TrimSpace(c.TLS.KeyFile),
			ServerName:         strings.TrimSpace(c.TLS.ServerName),
			Mutual:             c.TLS.Mutual,
			InsecureSkipVerify: c.TLS.InsecureSkipVerify,
		},
		Backoff: session.BackoffConfig{
			Multiplier: c.Backoff.Multiplier,
			Jitter:     true,
		},
	}
	if len(c.Headers) > 0 {
		sc.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			sc.Headers[k] = v
		}
	}
	if c.Backoff.Jitter != nil {
		sc.Backoff.Jitter = *c.Backoff.Jitter
	}

	var err error
	if sc.RequestTimeout, err = parseDuration(c.RequestTimeout); err != nil {
		return session.Config{}, fmt.Errorf("request_timeout: %w", err)
	}
	if sc.ConnectTimeout, err = parseDuration(c.ConnectTimeout); err != nil {
		return session.Config{}, fmt.Errorf("connect_timeout: %w", err)
	}
	if sc.Backoff.InitialDelay, err = parseDuration(c.Backoff.InitialDelay); err != nil {
		return session.Config{}, fmt.Errorf("backoff.initial_delay: %w", err)
	}
	if sc.Backoff.MaxDelay, err = parseDuration(c.Backoff.MaxDelay); err != nil {
		return session.Config{}, fmt.Errorf("backoff.max_delay: %w", err)
	}
	return sc, nil
}
