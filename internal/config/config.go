package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/josh-kwaku/sep-payments/internal/repository"
)

type Common struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	RedisURL string `env:"REDIS_URL"`
	SeedData bool   `env:"SEED_DATA" envDefault:"false"`
}

type Database struct {
	DatabaseURL        string `env:"DATABASE_URL,required"`
	DBMaxOpenConns     int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int    `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int    `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int    `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func (d Database) Pool() repository.PoolConfig {
	return repository.PoolConfig{
		MaxOpenConns:     d.DBMaxOpenConns,
		MaxIdleConns:     d.DBMaxIdleConns,
		ConnMaxLifetimeS: d.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: d.DBConnMaxIdleTimeS,
	}
}

type BankConfig struct {
	Common
	Database
	Port int `env:"PORT" envDefault:"8080"`

	PSPURL              string        `env:"PSP_URL" envDefault:"http://localhost:8081"`
	PSPTimeout          time.Duration `env:"PSP_TIMEOUT" envDefault:"10s"`
	PSPHMACSecret       string        `env:"BANK_PSP_HMAC_SECRET,required"`
	PANEncryptionKey    string        `env:"PAN_ENCRYPTION_KEY,required"`
	AcquirerMerchantID  string        `env:"BANK_ACQUIRER_MERCHANT_ID" envDefault:"PSP-MERCHANT-001"`
	FrontendURL         string        `env:"BANK_FRONTEND_URL" envDefault:"http://localhost:4201"`
	PaymentURLTTL       time.Duration `env:"PAYMENT_URL_TTL" envDefault:"10m"`
	ExpirySweepInterval time.Duration `env:"BANK_EXPIRY_SWEEP_INTERVAL" envDefault:"3m"`
	QRMerchantAccount   string        `env:"QR_MERCHANT_ACCOUNT" envDefault:"840000000095584510"`
	QRMerchantName      string        `env:"QR_MERCHANT_NAME" envDefault:"Car Rental Agency"`
}

type PSPConfig struct {
	Common
	Database
	Port int `env:"PORT" envDefault:"8081"`

	BankURL        string        `env:"BANK_URL" envDefault:"http://localhost:8080"`
	BankHMACSecret string        `env:"BANK_PSP_HMAC_SECRET,required"`
	BankMerchantID string        `env:"BANK_ACQUIRER_MERCHANT_ID" envDefault:"PSP-MERCHANT-001"`
	SessionTTL     time.Duration `env:"PSP_SESSION_TTL" envDefault:"15m"`

	// Hops made while serving a webshop or bank request. They must stay
	// below the callers' PSP_TIMEOUT.
	BankTimeout     time.Duration `env:"BANK_TIMEOUT" envDefault:"5s"`
	MerchantTimeout time.Duration `env:"MERCHANT_TIMEOUT" envDefault:"5s"`

	// Seed values for the merchant registry.
	MerchantID         string `env:"MERCHANT_ID" envDefault:"WEBSHOP-001"`
	MerchantPassword   string `env:"MERCHANT_PASSWORD" envDefault:"webshop-secret-key-123"`
	MerchantName       string `env:"MERCHANT_NAME" envDefault:"Car Rental Agency"`
	MerchantHMACSecret string `env:"MERCHANT_HMAC_SECRET,required"`
}

type WebshopConfig struct {
	Common
	Database
	Port int `env:"PORT" envDefault:"8082"`

	PSPURL             string        `env:"PSP_URL" envDefault:"http://localhost:8081"`
	PSPTimeout         time.Duration `env:"PSP_TIMEOUT" envDefault:"10s"`
	MerchantID         string        `env:"MERCHANT_ID" envDefault:"WEBSHOP-001"`
	MerchantPassword   string        `env:"MERCHANT_PASSWORD" envDefault:"webshop-secret-key-123"`
	MerchantHMACSecret string        `env:"MERCHANT_HMAC_SECRET,required"`
	BaseURL            string        `env:"WEBSHOP_BASE_URL" envDefault:"http://localhost:8082"`
	FrontendURL        string        `env:"WEBSHOP_FRONTEND_URL" envDefault:"http://localhost:4200"`
	JWTSecret          string        `env:"JWT_SECRET,required"`
	JWTExpiry          time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
	ReconcileInterval  time.Duration `env:"WEBSHOP_RECONCILE_INTERVAL" envDefault:"2m"`
	ReconcileAfter     time.Duration `env:"WEBSHOP_RECONCILE_AFTER" envDefault:"2m"`
}

func LoadBank() (*BankConfig, error) {
	return load[BankConfig]("LoadBank")
}

func LoadPSP() (*PSPConfig, error) {
	return load[PSPConfig]("LoadPSP")
}

func LoadWebshop() (*WebshopConfig, error) {
	return load[WebshopConfig]("LoadWebshop")
}

func load[T any](name string) (*T, error) {
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("config.%s: %w", name, err)
	}
	return &cfg, nil
}
