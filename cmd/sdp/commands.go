package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/drive"
	"github.com/andresuchdata/cashflow-sdp/internal/export"
	"github.com/andresuchdata/cashflow-sdp/internal/pipeline"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/andresuchdata/cashflow-sdp/internal/repository/postgres"
	"github.com/andresuchdata/cashflow-sdp/internal/service"
	"github.com/andresuchdata/cashflow-sdp/internal/storage"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
)

func solveCommand() *cli.Command {
	return &cli.Command{
		Name:  "solve",
		Usage: "Solve an instance, extract and verify its (s, C, S) policy and write the exports",
		Flags: []cli.Flag{
			newParamsFlag(),
			newOutFlag(),
			newDBURLFlag(),
			&cli.StringFlag{
				Name:  "forecast",
				Usage: "CSV or XLSX demand forecast; every series is solved with --params",
			},
			&cli.StringFlag{
				Name:  "criteria",
				Usage: "Cash threshold aggregation: xrelate, max, min or avg",
			},
			&cli.IntFlag{
				Name:  "samples",
				Usage: "Monte-Carlo samples per policy, 0 disables simulation",
				Value: -1,
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Usage: "Simulation seed",
				Value: 1,
			},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			base, err := loadParameters(c, cfg)
			if err != nil {
				return err
			}
			if label := c.String("criteria"); label != "" {
				if base.Criteria, err = domain.ParseCriteria(label); err != nil {
					return err
				}
			}

			instances := []namedInstance{{name: "instance", params: base}}
			if path := c.String("forecast"); path != "" {
				forecasts, err := drive.LoadForecastFile(path)
				if err != nil {
					return err
				}
				instances = instances[:0]
				for _, f := range forecasts {
					p := base
					p.MeanDemand = f.MeanDemand
					instances = append(instances, namedInstance{name: f.Name, params: p})
				}
			}

			db, err := openDB(c)
			if err != nil {
				return err
			}
			var repo repository.RunRepository
			if db != nil {
				defer db.Close()
				repo = postgres.NewRunRepository(postgres.Wrap(sqlx.NewDb(db, "pgx"), 0))
			}

			out := outputDir(c, cfg)
			store, err := storage.NewLocalStorage(out)
			if err != nil {
				return err
			}

			sim := service.SimulationConfig(cfg.Solver)
			if n := c.Int("samples"); n >= 0 {
				sim.Samples = n
			}
			sim.Seed = c.Uint64("seed")

			svc := service.NewSolveService(repo, nil, nil, store, sim)
			for _, inst := range instances {
				res, err := svc.Run(c.Context, inst.params)
				if err != nil {
					return fmt.Errorf("solve %s: %w", inst.name, err)
				}
				printResult(os.Stdout, inst.name, res, filepath.Join(out, export.RunFolder(res)))
			}
			return nil
		},
	}
}

type namedInstance struct {
	name   string
	params domain.Parameters
}

func printResult(w io.Writer, name string, res *domain.SolveResult, folder string) {
	fmt.Fprintf(w, "%s: optimal value %.4f, final cash %.4f, first order %g, %d states, %d mismatches\n",
		name, res.OptimalValue, res.FinalCash, res.FirstAction, res.StateCount, res.Mismatches)
	if res.OptimalSim != nil && res.PolicySim != nil && res.OptimalityGap != nil {
		fmt.Fprintf(w, "  simulated final cash: optimal %.4f ± %.4f, (s, C, S) %.4f ± %.4f, gap %.4f%%\n",
			res.OptimalSim.Mean, res.OptimalSim.HalfWidth, res.PolicySim.Mean, res.PolicySim.HalfWidth, *res.OptimalityGap*100)
	}
	printPolicy(w, res.Policy)
	fmt.Fprintf(w, "  exports: %s\n", folder)
}

func printPolicy(w io.Writer, rows []domain.ThresholdPolicyRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "period\ts\tC\tS\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%g\t%.2f\t%g\t\n", r.Period, r.ReorderPoint, r.CashThreshold, r.OrderUpTo)
	}
	tw.Flush()
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Re-extract the (s, C, S) policy of a saved table.csv under another criteria",
		Flags: []cli.Flag{
			newParamsFlag(),
			&cli.StringFlag{
				Name:     "table",
				Usage:    "table.csv written by solve",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "criteria",
				Usage: "Cash threshold aggregation: xrelate, max, min or avg",
				Value: string(domain.CriteriaXRelate),
			},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			params, err := loadParameters(c, cfg)
			if err != nil {
				return err
			}
			criteria, err := domain.ParseCriteria(c.String("criteria"))
			if err != nil {
				return err
			}

			f, err := os.Open(c.String("table"))
			if err != nil {
				return err
			}
			defer f.Close()
			table, err := export.ReadTableCSV(f)
			if err != nil {
				return err
			}

			ex, report := service.Reextract(params, table, criteria, logger.Component("extract"))
			logger.Log.Info().
				Int("checked", report.Checked).
				Int("mismatches", report.Mismatches).
				Int("cache_misses", report.CacheMisses).
				Msg("policy verified")
			return export.WritePolicyCSV(os.Stdout, ex.Rows)
		},
	}
}

func sweepCommand() *cli.Command {
	def := pipeline.DefaultSweepConfig()
	return &cli.Command{
		Name:  "sweep",
		Usage: "Solve a grid of demand patterns and cost settings and write one CSV row per scenario",
		Flags: []cli.Flag{
			newParamsFlag(),
			newOutFlag(),
			newDBURLFlag(),
			&cli.StringSliceFlag{
				Name:  "patterns",
				Usage: "Demand patterns by name or number 1-10 (default all)",
			},
			&cli.Float64SliceFlag{Name: "fixed-costs", Usage: "Fixed ordering costs (default 2000,1000,500)"},
			&cli.Float64SliceFlag{Name: "variable-costs", Usage: "Unit costs (default 2,5,10)"},
			&cli.Float64SliceFlag{Name: "prices", Usage: "Selling prices (default 20,10,5)"},
			&cli.Float64SliceFlag{Name: "capacities", Usage: "Capacity multipliers of average demand (default 3,5,7)"},
			&cli.IntFlag{Name: "horizon", Usage: "Truncate every pattern to this many periods"},
			&cli.IntFlag{Name: "workers", Value: def.WorkerCount},
			&cli.IntFlag{Name: "samples", Value: def.Simulation.Samples, Usage: "Monte-Carlo samples per policy, 0 disables simulation"},
			&cli.IntFlag{Name: "retries", Value: def.RetryAttempts, Usage: "Failures allowed per scenario"},
			&cli.BoolFlag{Name: "retry-failed", Usage: "Only re-run failed scenarios of earlier sweeps (needs --db-url)"},
		},
		Action: func(c *cli.Context) error {
			appCfg := config.Load()
			base, err := loadParameters(c, appCfg)
			if err != nil {
				return err
			}

			cfg := pipeline.DefaultSweepConfig()
			cfg.OutputDir = filepath.Join(outputDir(c, appCfg), "sweeps")
			cfg.WorkerCount = c.Int("workers")
			cfg.RetryAttempts = c.Int("retries")
			cfg.Simulation.Samples = c.Int("samples")

			db, err := openDB(c)
			if err != nil {
				return err
			}
			var repo pipeline.Repository = pipeline.NewMemoryRepository()
			if db != nil {
				defer db.Close()
				repo = pipeline.NewSQLRepository(db)
			}
			orch := pipeline.NewOrchestrator(repo, cfg, nil)

			if c.Bool("retry-failed") {
				if db == nil {
					return fmt.Errorf("--retry-failed needs --db-url")
				}
				return orch.RetryFailed(c.Context)
			}

			grid := pipeline.ReferenceGrid(base)
			if grid.Patterns, err = pipeline.SelectPatterns(grid.Patterns, c.StringSlice("patterns")); err != nil {
				return err
			}
			overrideAxis(&grid.FixedCosts, c.Float64Slice("fixed-costs"))
			overrideAxis(&grid.VariableCosts, c.Float64Slice("variable-costs"))
			overrideAxis(&grid.Prices, c.Float64Slice("prices"))
			overrideAxis(&grid.Capacities, c.Float64Slice("capacities"))
			grid.Horizon = c.Int("horizon")

			run, err := orch.Run(c.Context, grid)
			if err != nil {
				return err
			}
			fmt.Printf("sweep %d: %d scenarios, %d completed, %d failed\nresults: %s\n",
				run.ID, run.TotalScenarios, run.Completed, run.Failed, run.ResultPath)
			return nil
		},
	}
}

func overrideAxis(axis *[]float64, values []float64) {
	if len(values) > 0 {
		*axis = values
	}
}

func kconvexityCommand() *cli.Command {
	return &cli.Command{
		Name:  "kconvexity",
		Usage: "Check K-convexity of G(x) = -V(1, x, initial cash) over an inventory range",
		Flags: []cli.Flag{
			newParamsFlag(),
			&cli.Float64Flag{Name: "min", Usage: "Lowest initial inventory", Value: 0},
			&cli.Float64Flag{Name: "max", Usage: "Highest initial inventory", Value: 30},
		},
		Action: func(c *cli.Context) error {
			params, err := loadParameters(c, config.Load())
			if err != nil {
				return err
			}
			report, err := service.KConvexity(c.Context, params, c.Float64("min"), c.Float64("max"))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(tw, "x\tG(x)\t")
			for _, p := range report.Points {
				fmt.Fprintf(tw, "%g\t%.4f\t\n", p.X, p.G)
			}
			tw.Flush()

			if len(report.Violations) == 0 {
				fmt.Printf("G is %g-convex on [%g, %g]\n", report.K, c.Float64("min"), c.Float64("max"))
				return nil
			}
			fmt.Printf("%d violations of %g-convexity:\n", len(report.Violations), report.K)
			for _, v := range report.Violations {
				fmt.Printf("  x=%g y=%g z=%g slack=%.6f\n", v.X, v.Y, v.Z, v.Slack)
			}
			return nil
		},
	}
}
