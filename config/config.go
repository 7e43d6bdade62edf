package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration, loaded from the environment with an
// optional .env file for local runs.
type Config struct {
	Bybit    BybitConfig
	Trading  TradingConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Vault    VaultConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type BybitConfig struct {
	APIKey    string `envconfig:"BYBIT_API_KEY"`
	APISecret string `envconfig:"BYBIT_API_SECRET"`
	Testnet   bool   `envconfig:"BYBIT_TESTNET" default:"true"`
}

type TradingConfig struct {
	Mode           string  `envconfig:"TRADING_MODE" default:"medium"`
	TargetNotional float64 `envconfig:"TARGET_NOTIONAL" default:"1000"`
	NotionalBand   float64 `envconfig:"NOTIONAL_BAND" default:"0.20"`
	DryRun         bool    `envconfig:"DRY_RUN" default:"false"`
	// CloseLosingOnReversal also closes losing opposite positions when a
	// reversal fires, not only profitable ones.
	CloseLosingOnReversal bool `envconfig:"CLOSE_LOSING_ON_REVERSAL" default:"false"`
}

type PostgresConfig struct {
	// Empty DSN disables the trade journal.
	DSN string `envconfig:"POSTGRES_DSN"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type VaultConfig struct {
	// Empty Addr means API keys come straight from the environment.
	Addr      string `envconfig:"VAULT_ADDR"`
	Token     string `envconfig:"VAULT_TOKEN"`
	SecretKey string `envconfig:"VAULT_SECRET_PATH" default:"secret/data/bybit"`
}

type ServerConfig struct {
	Port int `envconfig:"SERVER_PORT" default:"8080"`
}

type LoggingConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}
	if _, err := ModeByName(cfg.Trading.Mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}
