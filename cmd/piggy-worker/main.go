package main

import (
	"context"
	"os"
	"time"

	"piggysaving/internal/backend"
	"piggysaving/internal/cli"
	"piggysaving/internal/log"
	"piggysaving/internal/scheduler"
	"piggysaving/internal/services"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger("info", log.ComponentScheduler, nil)
	cfg := cli.MustLoadConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentScheduler, nil)

	logger.Info("Starting piggy-worker", log.FieldOperation, log.OpStartup)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	// Only the local store is seeded here; a remote install gets its
	// proposals from the server's own worker.
	var seeder scheduler.Seeder
	if res.Local != nil {
		lo, hi := cfg.SeedRange()
		proposer, err := services.NewProposer(lo, hi, nil)
		if err != nil {
			logger.Error("Invalid seed range", log.FieldError, err)
			os.Exit(1)
		}
		seeder = services.NewSeedProcessor(res.Local, proposer, logger)
	}

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	sched := scheduler.NewScheduler(jobCtx, seeder, res.Store, logger)
	if err := sched.RegisterAll(cfg.SeedCron, cfg.RefreshCron); err != nil {
		logger.Error("Failed to register jobs", log.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		cancelJobs()
		sched.Stop(ctx)
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	})

	// catch up on anything missed while the worker was down
	sched.RunNow()
	sched.Start()

	cli.WaitForShutdown(ctx, done)
}
