package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client", "":
		return clientTemplate, nil
	case "client-tls":
		return clientTLSTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `endpoint = "http://localhost:8080/"
request_timeout = "1h"
connect_timeout = "10s"
max_occupancy = 0
max_connect_attempts = 5
compress_responses = false
bootstrap_module = "Cryptol"
security_mode = "development"

[headers]

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`

const clientTLSTemplate = `scheme = "https"
host = "cryptol.internal"
port = 8443
request_timeout = "1h"
connect_timeout = "10s"
max_connect_attempts = 5
bootstrap_module = "Cryptol"
security_mode = "production"
auth_token_file = "local/cryptol.token"

[tls]
ca_file = "local/tls/ca.crt"
cert_file = "local/tls/client.crt"
key_file = "local/tls/client.key"
server_name = "cryptol.internal"
mutual = true

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
