package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/repository/postgres"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func newDBURLFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "db-url",
		Usage:   "Database connection string; runs are not persisted when empty",
		EnvVars: []string{"DATABASE_URL"},
	}
}

func newParamsFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "params",
		Aliases: []string{"p"},
		Usage:   "YAML, JSON or TOML problem file; SOLVER_* settings are used when empty",
	}
}

func newOutFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "out",
		Aliases: []string{"o"},
		Usage:   "Output directory (default APP_OUTPUT_DIR)",
	}
}

// openDB returns nil when no database url is set. The schema is migrated
// before the handle is returned.
func openDB(c *cli.Context) (*sql.DB, error) {
	url := c.String("db-url")
	if url == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(c.Context); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := postgres.Migrate(c.Context, postgres.Wrap(sqlx.NewDb(db, "pgx"), 1)); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// loadParameters reads --params, falling back to the configured defaults.
func loadParameters(c *cli.Context, cfg *config.Config) (domain.Parameters, error) {
	if path := c.String("params"); path != "" {
		return config.LoadParametersFile(path)
	}
	return cfg.Solver.Parameters()
}

func outputDir(c *cli.Context, cfg *config.Config) string {
	if dir := c.String("out"); dir != "" {
		return dir
	}
	return cfg.App.OutputDir
}

func main() {
	_ = godotenv.Load(".env")

	app := &cli.App{
		Name:  "sdp",
		Usage: "Solve cash-constrained lot sizing instances and extract (s, C, S) policies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.SetLevel(c.String("log-level"))
			return nil
		},
		Commands: []*cli.Command{
			solveCommand(),
			extractCommand(),
			sweepCommand(),
			kconvexityCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		logger.Log.Fatal().Err(err).Msg("sdp failed")
	}
}
