package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig                `mapstructure:"app"`
	DB       DBConfig                 `mapstructure:"db"`
	Redis    RedisConfig              `mapstructure:"redis"`
	Kafka    KafkaConfig              `mapstructure:"kafka"`
	Engine   EngineConfig             `mapstructure:"engine"`
	Recovery RecoveryConfig           `mapstructure:"recovery"`
	KMS      KMSConfig                `mapstructure:"kms"`
	Networks map[string]NetworkConfig `mapstructure:"networks"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type EngineConfig struct {
	RPCTimeout        time.Duration `mapstructure:"rpc_timeout"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	GasCacheTTL       time.Duration `mapstructure:"gas_cache_ttl"`
	GasHistorySize    int           `mapstructure:"gas_history_size"`
	WalletHistorySize int           `mapstructure:"wallet_history_size"`
	ApprovalTTL       time.Duration `mapstructure:"approval_ttl"`
	AlertBufferSize   int           `mapstructure:"alert_buffer_size"`
	CacheBackend      string        `mapstructure:"cache_backend"` // memory, redis, multilevel
	LockBackend       string        `mapstructure:"lock_backend"`  // memory, redis
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	SweepSchedule     string        `mapstructure:"sweep_schedule"`
}

type RecoveryConfig struct {
	ApprovalThreshold   int           `mapstructure:"approval_threshold"`
	RequestTTL          time.Duration `mapstructure:"request_ttl"`
	FreezeDuration      time.Duration `mapstructure:"freeze_duration"`
	Confirmations       uint64        `mapstructure:"confirmations"`
	ConfirmationPoll    time.Duration `mapstructure:"confirmation_poll"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

type KMSConfig struct {
	RootSecret string `mapstructure:"root_secret"` // usually from KMS_ROOT_SECRET
}

// NetworkConfig holds human-denominated policy; amounts are decimal strings
// in the network's native unit, gas prices in gwei.
type NetworkConfig struct {
	RPCURL                    string        `mapstructure:"rpc_url"`
	ChainID                   int64         `mapstructure:"chain_id"`
	Symbol                    string        `mapstructure:"symbol"`
	Decimals                  int32         `mapstructure:"decimals"`
	EIP1559                   bool          `mapstructure:"eip1559"`
	DefaultGasLimit           uint64        `mapstructure:"default_gas_limit"`
	MinGasLimit               uint64        `mapstructure:"min_gas_limit"`
	MaxGasLimit               uint64        `mapstructure:"max_gas_limit"`
	GasBufferPercent          int64         `mapstructure:"gas_buffer_percent"`
	MaxGasPriceGwei           string        `mapstructure:"max_gas_price_gwei"`
	MaxPriorityFeeGwei        string        `mapstructure:"max_priority_fee_gwei"`
	MaxTransactionValue       string        `mapstructure:"max_transaction_value"`
	MinConfirmations          uint64        `mapstructure:"min_confirmations"`
	MaxPendingTransactions    int           `mapstructure:"max_pending_transactions"`
	Cooldown                  time.Duration `mapstructure:"cooldown"`
	RequiredGuardians         int           `mapstructure:"required_guardians"`
	PendingTxThreshold        int           `mapstructure:"pending_tx_threshold"`
	BlockDelayThreshold       time.Duration `mapstructure:"block_delay_threshold"`
	LargeTransactionThreshold string        `mapstructure:"large_transaction_threshold"`
	GasAlertThresholdGwei     string        `mapstructure:"gas_alert_threshold_gwei"`
}

var Global Config

// Init loads config.yaml from the working directory into Global.
func Init() {
	cfg, err := Load("")
	if err != nil {
		log.Fatalf("Fatal error config file: %s \n", err)
	}
	Global = *cfg
	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

// Load reads path (or config.yaml from . and ./config when empty), applies
// defaults and environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Printf("Warning: Config file not found, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_port", "8080")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "wallet_user")
	v.SetDefault("db.password", "wallet_password")
	v.SetDefault("db.name", "wallet_db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.mq_type", "redis")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "safety-engine")

	v.SetDefault("engine.rpc_timeout", 10*time.Second)
	v.SetDefault("engine.refresh_interval", 15*time.Second)
	v.SetDefault("engine.gas_cache_ttl", 60*time.Second)
	v.SetDefault("engine.gas_history_size", 1000)
	v.SetDefault("engine.wallet_history_size", 100)
	v.SetDefault("engine.approval_ttl", time.Hour)
	v.SetDefault("engine.alert_buffer_size", 1000)
	v.SetDefault("engine.cache_backend", "multilevel")
	v.SetDefault("engine.lock_backend", "redis")
	v.SetDefault("engine.lock_ttl", 30*time.Second)
	v.SetDefault("engine.sweep_schedule", "@every 1m")

	v.SetDefault("recovery.approval_threshold", 2)
	v.SetDefault("recovery.request_ttl", 24*time.Hour)
	v.SetDefault("recovery.freeze_duration", 72*time.Hour)
	v.SetDefault("recovery.confirmations", 3)
	v.SetDefault("recovery.confirmation_poll", 5*time.Second)
	v.SetDefault("recovery.confirmation_timeout", 10*time.Minute)

	for name, n := range DefaultNetworks() {
		prefix := "networks." + name + "."
		v.SetDefault(prefix+"rpc_url", n.RPCURL)
		v.SetDefault(prefix+"chain_id", n.ChainID)
		v.SetDefault(prefix+"symbol", n.Symbol)
		v.SetDefault(prefix+"decimals", n.Decimals)
		v.SetDefault(prefix+"eip1559", n.EIP1559)
		v.SetDefault(prefix+"default_gas_limit", n.DefaultGasLimit)
		v.SetDefault(prefix+"min_gas_limit", n.MinGasLimit)
		v.SetDefault(prefix+"max_gas_limit", n.MaxGasLimit)
		v.SetDefault(prefix+"gas_buffer_percent", n.GasBufferPercent)
		v.SetDefault(prefix+"max_gas_price_gwei", n.MaxGasPriceGwei)
		v.SetDefault(prefix+"max_priority_fee_gwei", n.MaxPriorityFeeGwei)
		v.SetDefault(prefix+"max_transaction_value", n.MaxTransactionValue)
		v.SetDefault(prefix+"min_confirmations", n.MinConfirmations)
		v.SetDefault(prefix+"max_pending_transactions", n.MaxPendingTransactions)
		v.SetDefault(prefix+"cooldown", n.Cooldown)
		v.SetDefault(prefix+"required_guardians", n.RequiredGuardians)
		v.SetDefault(prefix+"pending_tx_threshold", n.PendingTxThreshold)
		v.SetDefault(prefix+"block_delay_threshold", n.BlockDelayThreshold)
		v.SetDefault(prefix+"large_transaction_threshold", n.LargeTransactionThreshold)
		v.SetDefault(prefix+"gas_alert_threshold_gwei", n.GasAlertThresholdGwei)
	}
}

// DefaultNetworks returns the built-in mainnet policies.
func DefaultNetworks() map[string]NetworkConfig {
	return map[string]NetworkConfig{
		"ethereum": {
			RPCURL:                    "wss://ethereum-rpc.publicnode.com",
			ChainID:                   1,
			Symbol:                    "ETH",
			Decimals:                  18,
			EIP1559:                   true,
			DefaultGasLimit:           21000,
			MinGasLimit:               21000,
			MaxGasLimit:               500000,
			GasBufferPercent:          10,
			MaxGasPriceGwei:           "500",
			MaxPriorityFeeGwei:        "10",
			MaxTransactionValue:       "10",
			MinConfirmations:          12,
			MaxPendingTransactions:    5,
			Cooldown:                  60 * time.Second,
			RequiredGuardians:         2,
			PendingTxThreshold:        5000,
			BlockDelayThreshold:       30 * time.Second,
			LargeTransactionThreshold: "100",
			GasAlertThresholdGwei:     "200",
		},
		"polygon": {
			RPCURL:                    "wss://polygon-bor-rpc.publicnode.com",
			ChainID:                   137,
			Symbol:                    "MATIC",
			Decimals:                  18,
			EIP1559:                   true,
			DefaultGasLimit:           21000,
			MinGasLimit:               21000,
			MaxGasLimit:               1000000,
			GasBufferPercent:          20,
			MaxGasPriceGwei:           "1000",
			MaxPriorityFeeGwei:        "100",
			MaxTransactionValue:       "50000",
			MinConfirmations:          64,
			MaxPendingTransactions:    5,
			Cooldown:                  300 * time.Second,
			RequiredGuardians:         2,
			PendingTxThreshold:        10000,
			BlockDelayThreshold:       10 * time.Second,
			LargeTransactionThreshold: "100000",
			GasAlertThresholdGwei:     "500",
		},
		"bsc": {
			RPCURL:                    "wss://bsc-rpc.publicnode.com",
			ChainID:                   56,
			Symbol:                    "BNB",
			Decimals:                  18,
			EIP1559:                   false,
			DefaultGasLimit:           21000,
			MinGasLimit:               21000,
			MaxGasLimit:               1000000,
			GasBufferPercent:          15,
			MaxGasPriceGwei:           "20",
			MaxPriorityFeeGwei:        "3",
			MaxTransactionValue:       "100",
			MinConfirmations:          15,
			MaxPendingTransactions:    5,
			Cooldown:                  60 * time.Second,
			RequiredGuardians:         2,
			PendingTxThreshold:        8000,
			BlockDelayThreshold:       9 * time.Second,
			LargeTransactionThreshold: "1000",
			GasAlertThresholdGwei:     "10",
		},
	}
}
