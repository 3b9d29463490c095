package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/typedbuf/internal/config"
	"github.com/danmuck/typedbuf/internal/observability"
	"github.com/danmuck/typedbuf/internal/registry"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	kind := pflag.String("kind", "runtime", "config kind: "+strings.Join(config.Kinds(), "|"))
	output := pflag.String("output", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	logger := observability.InitLogger("configgen")

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		switch *kind {
		case "runtime":
			cfg, err := config.LoadRuntimeConfig(path)
			if err != nil {
				fatal(logger, err)
			}
			if _, err := cfg.LoadRegistry(); err != nil {
				fatal(logger, err)
			}
		case "schema", "schema-yaml":
			if _, err := registry.LoadFiles(path); err != nil {
				fatal(logger, err)
			}
		default:
			fatal(logger, fmt.Errorf("unknown kind: %s", *kind))
		}
		logger.Info().Str("kind", *kind).Str("path", path).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fatal(logger, err)
	}
	logger.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}

func defaultPath(kind string) string {
	switch kind {
	case "schema":
		return "schema.toml"
	case "schema-yaml":
		return "schema.yaml"
	default:
		return "typedbuf.toml"
	}
}

func fatal(logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("configgen failed")
	os.Exit(1)
}
