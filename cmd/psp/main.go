package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/config"
	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/seed"
	"github.com/josh-kwaku/sep-payments/internal/server"
	"github.com/josh-kwaku/sep-payments/internal/service/psp"
)

const serviceName = "psp"

func main() {
	cfg, err := config.LoadPSP()
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

	merchants := repository.NewMerchantRepository(db)
	if cfg.SeedData {
		err := seed.PSP(ctx, merchants, seed.MerchantSeed{
			MerchantID:     cfg.MerchantID,
			Password:       cfg.MerchantPassword,
			Name:           cfg.MerchantName,
			CallbackSecret: cfg.MerchantHMACSecret,
		})
		if err != nil {
			slog.Error("failed to seed psp data", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New(serviceName)
	signer := security.NewSigner(cfg.BankHMACSecret)
	bankClient := apiclient.New(cfg.BankURL, "bank", cfg.BankTimeout, m)
	merchantClient := apiclient.New("", "merchant", cfg.MerchantTimeout, m)

	registry := psp.NewRegistry(
		psp.NewCardProvider(bankClient, signer),
		psp.NewQRProvider(bankClient, signer),
	)

	svc := psp.NewService(
		repository.NewSessionRepository(db),
		merchants,
		registry,
		psp.NewMerchantNotifier(merchantClient),
		signer,
		m,
		psp.Config{
			BankMerchantID: cfg.BankMerchantID,
			SessionTTL:     cfg.SessionTTL,
		},
	)

	h := handler.NewPSPHandler(svc)
	mux := server.NewMux(handler.NewHealthHandler(db, serviceName), m)
	server.RegisterPSP(mux, h)

	srv := server.New(cfg.Port, server.Handler(serviceName, mux, m))
	if err := server.Run(srv, stop); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
