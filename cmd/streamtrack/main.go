package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/identity"
)

func main() {
	logger := newLogger(nil)

	path, err := config.ClientConfigPath()
	if err != nil {
		logger.Fatal("failed to resolve config path", "err", err)
	}
	cfg, err := config.LoadClientConfig(path)
	if err != nil {
		logger.Fatal("failed to load config", "path", path, "err", err)
	}

	dir, err := config.ClientDir()
	if err != nil {
		logger.Fatal("failed to resolve config dir", "err", err)
	}
	store := identity.NewFileStore(nil, filepath.Join(dir, "token.json"))
	session := identity.NewSession(keycloakConfig(cfg), store)

	runner := NewRunner(RunnerOpts{
		Config:  cfg,
		Session: session,
		Logger:  logger,
	})

	app := newApp(runner)
	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, client.ErrNotAuthenticated) {
			logger.Error("not logged in, run `streamtrack auth login` first")
			os.Exit(1)
		}
		logger.Fatal(err)
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "streamtrack",
		Usage:   "Track movies and series: notes, watchlist and streaming suggestions",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.before,
		After:    r.after,
		Commands: r.register(),
	}
}
