package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/josh-kwaku/sep-payments/internal/apiclient"
	"github.com/josh-kwaku/sep-payments/internal/card"
	"github.com/josh-kwaku/sep-payments/internal/config"
	"github.com/josh-kwaku/sep-payments/internal/handler"
	"github.com/josh-kwaku/sep-payments/internal/lock"
	"github.com/josh-kwaku/sep-payments/internal/logging"
	"github.com/josh-kwaku/sep-payments/internal/metrics"
	"github.com/josh-kwaku/sep-payments/internal/repository"
	"github.com/josh-kwaku/sep-payments/internal/security"
	"github.com/josh-kwaku/sep-payments/internal/seed"
	"github.com/josh-kwaku/sep-payments/internal/server"
	"github.com/josh-kwaku/sep-payments/internal/service/bank"
)

const serviceName = "bank"

func main() {
	cfg, err := config.LoadBank()
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

	cipher, err := security.NewPANCipher(cfg.PANEncryptionKey)
	if err != nil {
		slog.Error("invalid PAN encryption key", "error", err)
		os.Exit(1)
	}

	locker, closeLocker := lock.FromURL(ctx, cfg.RedisURL, serviceName+":")
	defer closeLocker()

	m := metrics.New(serviceName)
	accounts := repository.NewAccountRepository(db)
	cards := repository.NewCardRepository(db)

	if cfg.SeedData {
		if err := seed.Bank(ctx, accounts, cards, cipher, cfg.QRMerchantAccount, cfg.QRMerchantName); err != nil {
			slog.Error("failed to seed bank data", "error", err)
			os.Exit(1)
		}
	}

	signer := security.NewSigner(cfg.PSPHMACSecret)
	pspClient := apiclient.New(cfg.PSPURL, "psp", cfg.PSPTimeout, m)

	svc := bank.NewService(
		repository.NewTransactionRepository(db),
		accounts,
		repository.NewLedgerRepository(db),
		repository.NewAuditRepository(db),
		card.NewVault(cards),
		bank.NewPSPNotifier(pspClient, signer),
		signer,
		db,
		m,
		bank.Config{
			AcquirerMerchantID: cfg.AcquirerMerchantID,
			FrontendURL:        cfg.FrontendURL,
			PaymentTTL:         cfg.PaymentURLTTL,
			QRMerchantAccount:  cfg.QRMerchantAccount,
			QRMerchantName:     cfg.QRMerchantName,
		},
	)

	sweeper := bank.NewExpirySweeper(svc, locker, logger, cfg.ExpirySweepInterval)
	go sweeper.Start(ctx)

	h := handler.NewBankHandler(svc)
	mux := server.NewMux(handler.NewHealthHandler(db, serviceName), m)
	server.RegisterBank(mux, h)

	srv := server.New(cfg.Port, server.Handler(serviceName, mux, m))
	if err := server.Run(srv, stop); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
