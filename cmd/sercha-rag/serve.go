package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/custodia-labs/sercha-rag/internal/adapters/driving/http"
	"github.com/custodia-labs/sercha-rag/internal/worker"
)

const (
	modeAPI    = "api"
	modeWorker = "worker"
	modeAll    = "all"
)

func validateMode(mode string) error {
	switch mode {
	case modeAPI, modeWorker, modeAll:
		return nil
	default:
		return fmt.Errorf("unknown mode %q (use api, worker or all)", mode)
	}
}

// runServe runs the API and/or worker until ctx is cancelled
func runServe(ctx context.Context, a *app, mode string) error {
	if mode == modeAPI && a.cfg.RedisURL == "" {
		a.logger.Warn("api mode with an in-memory queue: queued documents are never processed; use --mode all or set REDIS_URL")
	}

	if err := a.index.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var w *worker.Worker
	if mode == modeWorker || mode == modeAll {
		w = worker.New(worker.Config{
			Queue:          a.queue,
			Ingest:         a.ingest,
			Logger:         a.logger.Named("worker"),
			Concurrency:    a.cfg.Worker.Concurrency,
			DequeueTimeout: a.cfg.Worker.DequeueTimeout,
		})
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		defer w.Stop()
	}

	if mode == modeWorker {
		a.logger.Info("worker running; waiting for shutdown signal")
		w.Wait()
		a.logger.Info("worker loops exited")
		return nil
	}

	return runAPI(ctx, a, w)
}

// runAPI serves HTTP until ctx is cancelled. w is nil in api mode.
func runAPI(ctx context.Context, a *app, w *worker.Worker) error {
	cfg := http.DefaultConfig()
	cfg.Host = a.cfg.Server.Host
	cfg.Port = a.cfg.Server.Port
	cfg.Version = version
	cfg.CORSOrigins = a.cfg.Server.CORSOrigins
	cfg.AuthEnabled = a.cfg.Auth.Enabled
	cfg.AdminKeyHash = a.cfg.Auth.AdminKeyHash
	if t := a.cfg.Timeouts.Generate + a.cfg.Timeouts.Rewrite + a.cfg.Timeouts.Rerank + a.cfg.Timeouts.Embed; t > cfg.WriteTimeout {
		cfg.WriteTimeout = t
	}

	svc := http.Services{
		Ingest:  a.ingest,
		Chat:    a.chat,
		Memory:  a.memory,
		Queue:   a.queue,
		Auth:    a.auth,
		Runtime: a.caps.Config(),
	}
	if w != nil {
		svc.Worker = w
	}
	server := http.NewServer(cfg, svc, a.checks, a.logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		a.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
