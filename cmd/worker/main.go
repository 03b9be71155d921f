// Command worker runs the pipeline workers, the renewal scheduler, and the
// duplicate-certificate sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloud-gov/external-domain-broker/internal/cloud"
	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/database"
	"github.com/cloud-gov/external-domain-broker/internal/queue"
	"github.com/cloud-gov/external-domain-broker/internal/reconciler"
	"github.com/cloud-gov/external-domain-broker/internal/repository"
	"github.com/cloud-gov/external-domain-broker/internal/tasks"
)

const (
	renewalSweepInterval   = time.Hour
	duplicateSweepInterval = 24 * time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pg, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pg.Close()

	if err := pg.RunMigrations(cfg.Database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clients, err := cloud.NewClients(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build cloud clients: %w", err)
	}

	instances := repository.NewInstanceRepository(pg.Pool())
	certs := repository.NewCertificateRepository(pg.Pool())
	ops := repository.NewOperationRepository(pg.Pool())

	steps := tasks.NewSteps(instances, certs, clients, cfg, logger)
	handler := tasks.NewHandler(steps, ops, logger)
	runner := queue.NewRunner(rdb.Client(), handler, logger, queue.Options{})

	renewals := reconciler.NewRenewalScheduler(instances, ops, runner, cfg, logger)
	duplicates := reconciler.New(instances, certs, clients.LoadBalancer, clients.ALBCertStore, cfg, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		renewals.Run(ctx, renewalSweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(duplicateSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := duplicates.SweepDuplicates(ctx); err != nil {
					logger.Error("duplicate sweep failed", "error", err)
				}
			}
		}
	}()

	logger.Info("worker started")
	err = runner.Run(ctx)
	wg.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
