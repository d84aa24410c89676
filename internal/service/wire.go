package service

import (
	"context"

	"github.com/andresuchdata/cashflow-sdp/internal/cache"
	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/andresuchdata/cashflow-sdp/internal/repository/postgres"
	"github.com/andresuchdata/cashflow-sdp/internal/simulation"
	"github.com/andresuchdata/cashflow-sdp/internal/storage"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
)

// NewFromConfig builds a SolveService from the application config. The
// database, cache and bucket are optional: each one that cannot be reached is
// logged and left out. The returned func releases the database pool.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*SolveService, func()) {
	log := logger.Component("wire")
	cleanup := func() {}

	var repo repository.RunRepository
	db, err := postgres.NewDB(ctx, &cfg.Database)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("database unavailable, runs will not be persisted")
	case cfg.Database.AutoMigrate:
		if _, err := postgres.Migrate(ctx, db); err != nil {
			log.Error().Err(err).Msg("schema migration failed, runs will not be persisted")
			db.Close()
			break
		}
		fallthrough
	default:
		repo = postgres.NewRunRepository(db)
		cleanup = func() { db.Close() }
	}

	results, err := cache.NewResultCache(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("result cache unavailable")
	}
	policies, err := cache.NewPolicyCache(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("policy cache unavailable")
	}

	var store storage.ObjectStorage
	if s, err := storage.New(cfg.Storage, cfg.App.OutputDir); err != nil {
		log.Warn().Err(err).Msg("export storage unavailable")
	} else {
		store = s
	}

	return NewSolveService(repo, results, policies, store, SimulationConfig(cfg.Solver)), cleanup
}

// SimulationConfig reads the Monte-Carlo knobs of the solver config.
func SimulationConfig(c config.SolverConfig) simulation.Config {
	sim := simulation.DefaultConfig()
	sim.Samples = c.SimulationSamples
	if c.Workers > 0 {
		sim.Workers = c.Workers
	}
	return sim
}
