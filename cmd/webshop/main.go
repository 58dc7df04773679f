package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/config"
	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/lock"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/seed"
	"github.com/josh-kwaku/sep-payments/internal/server"
	"github.com/josh-kwaku/sep-payments/internal/service/webshop"
)

const (
	serviceName    = "webshop"
	idempotencyTTL = 24 * time.Hour
)

func main() {
	cfg, err := config.LoadWebshop()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init(serviceName, cfg.LogLevel, cfg.AppEnv)
	ctx, stop := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, cfg.Pool())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	locker, closeLocker := lock.FromURL(ctx, cfg.RedisURL, serviceName+":")
	defer closeLocker()

	users := repository.NewUserRepository(db)
	vehicles := repository.NewVehicleRepository(db)
	idempotency := repository.NewIdempotencyRepository(db)

	if cfg.SeedData {
		if err := seed.Webshop(ctx, users, vehicles); err != nil {
			slog.Error("failed to seed webshop data", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New(serviceName)
	pspClient := apiclient.New(cfg.PSPURL, "psp", cfg.PSPTimeout, m)

	svc := webshop.NewOrderService(
		repository.NewOrderRepository(db),
		vehicles,
		webshop.NewPSPClient(pspClient, cfg.MerchantID, cfg.MerchantPassword),
		security.NewSigner(cfg.MerchantHMACSecret),
		m,
		webshop.Config{
			BaseURL:     cfg.BaseURL,
			FrontendURL: cfg.FrontendURL,
		},
	)

	reconciler := webshop.NewReconciler(svc, idempotency, locker, logger, cfg.ReconcileInterval, cfg.ReconcileAfter)
	go reconciler.Start(ctx)

	mux := server.NewMux(handler.NewHealthHandler(db, serviceName), m)
	server.RegisterWebshop(mux, server.WebshopRoutes{
		Shop:           handler.NewWebshopHandler(svc),
		Auth:           handler.NewAuthHandler(users, cfg.JWTSecret, cfg.JWTExpiry),
		JWTSecret:      cfg.JWTSecret,
		Idempotency:    idempotency,
		IdempotencyTTL: idempotencyTTL,
	})

	srv := server.New(cfg.Port, server.Handler(serviceName, mux, m))
	if err := server.Run(srv, stop); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
