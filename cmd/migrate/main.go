// Command migrate applies or rolls back the runhub schema.
//
//	migrate up | down | version
package main

import (
	"flag"
	"fmt"
	"os"

	"example.com/runhub/internal/config"
	"example.com/runhub/internal/logging"
	persistence "example.com/runhub/internal/persistence/postgres"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: migrate [up|down|version]")
	}
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.PostgresURL == "" {
		logging.Fatal().Msg("migrate requires POSTGRES_URL")
	}

	migrator, err := persistence.NewMigrator(cfg.PostgresURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("open migrator")
	}

	code := run(migrator, command)
	if err := migrator.Close(); err != nil {
		logging.Warn().Err(err).Msg("close migrator")
	}
	os.Exit(code)
}

func run(migrator *persistence.Migrator, command string) int {
	switch command {
	case "up":
		if err := migrator.Up(); err != nil {
			logging.Error().Err(err).Msg("migrate up failed")
			return 1
		}
	case "down":
		if err := migrator.Down(); err != nil {
			logging.Error().Err(err).Msg("migrate down failed")
			return 1
		}
	case "version":
	default:
		flag.Usage()
		return 2
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		logging.Error().Err(err).Msg("read version failed")
		return 1
	}
	logging.Info().Uint("version", version).Bool("dirty", dirty).Str("command", command).Msg("schema version")
	return 0
}
