// Gleaner-refresh runs a single refresh pass and prints the per-feed results as JSON.
//
// It's meant to be invoked by whatever schedules refreshes: cron, a systemd timer, a
// Kubernetes CronJob.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/gleaner/internal/fetch"
	"github.com/jdholdren/gleaner/internal/ingest"
	"github.com/jdholdren/gleaner/internal/logger"
	"github.com/jdholdren/gleaner/internal/migrations"
	"github.com/jdholdren/gleaner/internal/refresh"
	"github.com/jdholdren/gleaner/internal/registry"
	"github.com/jdholdren/gleaner/internal/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli.App{
		Name:  "gleaner-refresh",
		Usage: "Fetch subscribed feeds and store their new items",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database",
				Aliases:  []string{"d"},
				Usage:    "SQLite database file location",
				EnvVars:  []string{"DATABASE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Only refresh the feeds this user subscribes to",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Refresh every feed that has a subscriber",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   30 * time.Second,
				Usage:   "Deadline for the whole pass",
				EnvVars: []string{"REFRESH_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "fetch-timeout",
				Value:   fetch.DefaultTimeout,
				Usage:   "Deadline for a single feed fetch",
				EnvVars: []string{"FETCH_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Value:   refresh.DefaultConcurrency,
				Usage:   "How many feeds to fetch at once",
				EnvVars: []string{"REFRESH_CONCURRENCY"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Usage:   "Either text or json",
				EnvVars: []string{"LOGGER_FORMAT"},
			},
		},
		Before: func(c *cli.Context) error {
			slog.SetDefault(logger.New(os.Stderr, c.String("log-format"), slog.LevelInfo))
			return nil
		},
		Action: refreshAction,
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("error refreshing", "error", err)
		os.Exit(1)
	}
}

func refreshAction(c *cli.Context) error {
	var (
		userID = c.String("user")
		all    = c.Bool("all")
	)
	if (userID == "") == !all {
		return errors.New("exactly one of --user or --all is required")
	}

	dbx, err := sqlite.Open(c.String("database"))
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer dbx.Close()

	if err := migrations.Run(dbx); err != nil {
		return err
	}

	var (
		repo   = sqlite.New(dbx)
		engine = ingest.NewEngine(repo)
		orch   = refresh.New(
			repo,
			fetch.New(c.Duration("fetch-timeout")),
			registry.New(repo, engine),
			engine,
			c.Int("concurrency"),
		)
	)

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	var outcomes []refresh.Outcome
	if all {
		outcomes, err = orch.RefreshAll(ctx)
	} else {
		outcomes, err = orch.Refresh(ctx, userID)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(outcomes)
}
