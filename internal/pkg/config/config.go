package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	LedgerSourceRpc    = "rpc"
	LedgerSourcePubsub = "pubsub"

	envFile = "./.env"
)

type Config struct {
	Port     string
	DbUrl    string
	LogLevel zerolog.Level

	LedgerSource           string
	LedgerRpcUrl           string
	LedgerSubscribeTimeout time.Duration
	GameFactoryAddress     common.Address
	GameHubAddress         common.Address

	GoogleProjectId                string
	PubsubGameCreatedSubscription  string
	PubsubCommentAddedSubscription string

	ReconcileInterval   time.Duration
	ReconcileMaxRetry   int
	ReconcileRowTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LEDGER_SOURCE", LedgerSourceRpc)
	v.SetDefault("LEDGER_SUBSCRIBE_TIMEOUT", "15s")
	v.SetDefault("RECONCILE_INTERVAL", "5s")
	v.SetDefault("RECONCILE_MAX_RETRY", 10)
	v.SetDefault("RECONCILE_ROW_TIMEOUT", "10s")

	// AutomaticEnv only answers Get for keys viper already knows about
	for _, key := range []string{
		"DB_URL",
		"LEDGER_RPC_URL",
		"GAME_FACTORY_ADDRESS",
		"GAME_HUB_ADDRESS",
		"GOOGLE_PROJECT_ID",
		"PUBSUB_GAME_CREATED_SUBSCRIPTION",
		"PUBSUB_COMMENT_ADDED_SUBSCRIPTION",
	} {
		v.SetDefault(key, "")
	}
}

// Load reads the environment, falling back to ./.env when present.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	level, err := zerolog.ParseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := Config{
		Port:                           v.GetString("PORT"),
		DbUrl:                          v.GetString("DB_URL"),
		LogLevel:                       level,
		LedgerSource:                   v.GetString("LEDGER_SOURCE"),
		LedgerRpcUrl:                   v.GetString("LEDGER_RPC_URL"),
		LedgerSubscribeTimeout:         v.GetDuration("LEDGER_SUBSCRIBE_TIMEOUT"),
		GoogleProjectId:                v.GetString("GOOGLE_PROJECT_ID"),
		PubsubGameCreatedSubscription:  v.GetString("PUBSUB_GAME_CREATED_SUBSCRIPTION"),
		PubsubCommentAddedSubscription: v.GetString("PUBSUB_COMMENT_ADDED_SUBSCRIPTION"),
		ReconcileInterval:              v.GetDuration("RECONCILE_INTERVAL"),
		ReconcileMaxRetry:              v.GetInt("RECONCILE_MAX_RETRY"),
		ReconcileRowTimeout:            v.GetDuration("RECONCILE_ROW_TIMEOUT"),
	}

	var errs []error
	if cfg.DbUrl == "" {
		errs = append(errs, errors.New("DB_URL is required"))
	}
	cfg.GameFactoryAddress, err = address(v, "GAME_FACTORY_ADDRESS")
	errs = append(errs, err)
	cfg.GameHubAddress, err = address(v, "GAME_HUB_ADDRESS")
	errs = append(errs, err)

	switch cfg.LedgerSource {
	case LedgerSourceRpc:
		// receipts are always read over rpc
	case LedgerSourcePubsub:
		if cfg.GoogleProjectId == "" || cfg.PubsubGameCreatedSubscription == "" || cfg.PubsubCommentAddedSubscription == "" {
			errs = append(errs, errors.New("LEDGER_SOURCE=pubsub requires GOOGLE_PROJECT_ID and both PUBSUB_*_SUBSCRIPTION values"))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_SOURCE must be %q or %q, got %q", LedgerSourceRpc, LedgerSourcePubsub, cfg.LedgerSource))
	}
	if cfg.LedgerRpcUrl == "" {
		errs = append(errs, errors.New("LEDGER_RPC_URL is required"))
	}

	if cfg.ReconcileInterval <= 0 || cfg.ReconcileRowTimeout <= 0 || cfg.LedgerSubscribeTimeout <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL, RECONCILE_ROW_TIMEOUT and LEDGER_SUBSCRIBE_TIMEOUT must be positive durations"))
	}
	if cfg.ReconcileMaxRetry <= 0 {
		errs = append(errs, errors.New("RECONCILE_MAX_RETRY must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func address(v *viper.Viper, key string) (common.Address, error) {
	raw := v.GetString(key)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a hex address, got %q", key, raw)
	}
	return common.HexToAddress(raw), nil
}
