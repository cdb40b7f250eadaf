package main

import (
	"flag"
	"log"

	"github.com/danmuck/cryptolctl/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "client", "":
		return "cmd/cryptolctl/client.toml"
	case "client-tls":
		return "cmd/cryptolctl/client-tls.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}

func main() {
	kind := flag.String("kind", "client", "config kind: client|client-tls")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		cfg, err := config.LoadClientConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := cfg.SessionConfig(); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (endpoint %s)", *kind, path, cfg.ResolvedEndpoint())
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
