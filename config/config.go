package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yourusername/proofpay/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port              string
	DatabaseURL       string
	JWTSecret         string
	HorizonURL        string
	NetworkPassphrase string
	EscrowSecret      string
	AssetCode         string
	AssetIssuer       string
	OracleAPIKeys     []string
	OracleModel       string
	ReconcileInterval time.Duration
	LogLevel          string
	LogFormat         string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	interval := 2 * time.Second
	if ms := os.Getenv("RECONCILE_INTERVAL_MS"); ms != "" {
		v, err := strconv.Atoi(ms)
		if err != nil {
			return nil, fmt.Errorf("invalid RECONCILE_INTERVAL_MS: %w", err)
		}
		interval = time.Duration(v) * time.Millisecond
	}

	var oracleKeys []string
	for _, k := range strings.Split(os.Getenv("ORACLE_API_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			oracleKeys = append(oracleKeys, k)
		}
	}

	return &Config{
		Port:              os.Getenv("PORT"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		HorizonURL:        getEnvOrDefault("HORIZON_URL", "https://horizon-testnet.stellar.org"),
		NetworkPassphrase: getEnvOrDefault("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		EscrowSecret:      os.Getenv("ESCROW_SECRET"),
		AssetCode:         getEnvOrDefault("ASSET_CODE", "XLM"),
		AssetIssuer:       os.Getenv("ASSET_ISSUER"),
		OracleAPIKeys:     oracleKeys,
		OracleModel:       os.Getenv("ORACLE_MODEL"),
		ReconcileInterval: interval,
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "text"),
	}, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&models.Payment{}, &models.Proof{}, &models.Verification{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
