package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const (
	// GovernorLogDir specifies where log files are stored.
	GovernorLogDir = "logs/governor_logs"
)

var (
	ErrIdentityRequired = errors.New("at least one IDENTITY argument or --file is required")
	ErrResolveFailed    = errors.New("one or more profiles could not be resolved")
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "governor",
		Usage: "Resolve profiles through a paced request queue and a snapshot cache",
		Commands: []*cli.Command{
			resolveCommand(),
			warmCommand(),
			migrateCommand(),
			statusCommand(),
		},
	}

	return app.Run(ctx, os.Args)
}
