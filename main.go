package main

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/dawgdevv/identity-reconciliation/internal/config"
	"github.com/dawgdevv/identity-reconciliation/internal/database"
	"github.com/dawgdevv/identity-reconciliation/internal/logging"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal("application error", "err", err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "bitespeed",
		Usage: "Reconcile customer identities across email addresses and phone numbers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			identifyCommand(),
			initCommand(),
		},
	}
}

// setup loads configuration and builds the logger every command shares
func setup(cmd *cli.Command) (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func dbOptions(cfg *config.Config, logger *log.Logger) database.Options {
	return database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout(),
		Logger:       logger,
	}
}

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
