package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fintrack/internal/backend"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	"fintrack/internal/ledger"
	"fintrack/internal/log"
	"fintrack/internal/predict"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}

	startCtx := context.Background()
	res, err := backend.NewFactory(logger).CreateBackend(startCtx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(logger)}
	if res.Publisher != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(res.Publisher))
	}
	store, err := ledger.Open(startCtx, res.Store, ledgerOpts...)
	if err != nil {
		cli.Fatal(logger, "Failed to load ledger", err)
	}

	var gen predict.Generator
	if cfg.PredictionsEnabled() {
		if gen, err = backend.NewGenerator(startCtx, cfg); err != nil {
			cli.Fatal(logger, "Failed to initialize prediction provider", err)
		}
	}

	cacheManager := cache.NewManager(logger)
	var flow *predict.Flow
	if gen != nil {
		predictions := cache.NewLRUCache[predict.Result](cfg.PredictionCacheSize, cfg.PredictionCacheTTL)
		cacheManager.Register(predictions)
		flow = predict.NewFlow(gen,
			predict.WithTimeout(cfg.PredictionTimeout),
			predict.WithCache(predictions),
			predict.WithLogger(logger))
		logger.Info("Predictions enabled", "provider", gen.Name())
	} else {
		logger.Info("Predictions disabled", "provider", cfg.AIProvider)
	}

	srv := apphttp.NewServer(":"+cfg.Port, store, flow, logger,
		apphttp.WithTrustedProxies(cfg.TrustedProxyPrefixes()...))

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
		if res.Cleanup != nil {
			if err := res.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", log.FieldError, err.Error())
			}
		}
	})

	go cacheManager.Run(ctx, time.Minute)

	logger.Info("Starting fintrack server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"transactions", len(store.Transactions(ledger.Filter{})))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
