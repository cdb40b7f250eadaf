// Package auth handles the bearer tokens sent to token-guarded servers.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrEmptyToken   = errors.New("auth: empty token")
)

const bearerPrefix = "Bearer "

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerHeader formats token as an Authorization header value.
func BearerHeader(token string) string {
	return bearerPrefix + token
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

// ReadTokenFile reads a token from path, trimming surrounding whitespace.
func ReadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyToken, path)
	}
	return token, nil
}
