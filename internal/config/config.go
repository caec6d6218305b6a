package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/xrfq/chain_ledger/internal/chain"
)

const (
	defaultAppName         = "ChainLedger"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultAppRegion       = string(chain.RegionUSEastOhio)
	defaultBlockStore      = BlockStoreKafka
	defaultBlockTopic      = "ledger.blocks"
	defaultKeyspace        = "ledger"
	defaultCommissionRate  = "0.001"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRateCacheTTL    = 5 * time.Minute
	defaultReplayBatchSize = 100
	defaultRateLimit       = 60
	defaultKafkaPartitions = 6
	defaultKafkaReplicas   = 3
)

// Block store backends.
const (
	BlockStoreKafka     = "kafka"
	BlockStoreCassandra = "cassandra"
	BlockStoreMemory    = "memory"
)

// Config captures application runtime configuration loaded from the environment.
type Config struct {
	AppName  string
	AppEnv   string
	Port     string
	LogLevel string

	DatabaseURL   string
	DBMaxConns    int32
	RunMigrations bool
	RedisURL      string

	AppID  string
	Region chain.Region

	BlockStore        string
	KafkaBrokers      []string
	KafkaBlockTopic   string
	KafkaPartitions   int32
	KafkaReplication  int16
	CassandraHosts    []string
	CassandraKeyspace string

	FeeAccountID   string
	CommissionRate decimal.Decimal

	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	RateCacheTTL    time.Duration
	ReplayBatchSize int

	// RateLimitPerMinute caps debits and credits per caller.
	RateLimitPerMinute int
}

// Load reads a .env file when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("DB_MAX_CONNS", 0)
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("APP_REGION", defaultAppRegion)
	v.SetDefault("BLOCK_STORE", defaultBlockStore)
	v.SetDefault("KAFKA_BLOCK_TOPIC", defaultBlockTopic)
	v.SetDefault("KAFKA_BLOCK_PARTITIONS", defaultKafkaPartitions)
	v.SetDefault("KAFKA_REPLICATION_FACTOR", defaultKafkaReplicas)
	v.SetDefault("CASSANDRA_KEYSPACE", defaultKeyspace)
	v.SetDefault("COMMISSION_RATE", defaultCommissionRate)
	v.SetDefault("REPLAY_BATCH_SIZE", defaultReplayBatchSize)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", defaultRateLimit)
	v.AutomaticEnv()

	cfg := Config{
		AppName:            v.GetString("APP_NAME"),
		AppEnv:             v.GetString("APP_ENV"),
		Port:               v.GetString("PORT"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DBMaxConns:         v.GetInt32("DB_MAX_CONNS"),
		RunMigrations:      v.GetBool("RUN_MIGRATIONS"),
		RedisURL:           v.GetString("REDIS_URL"),
		AppID:              v.GetString("APP_ID"),
		BlockStore:         strings.ToLower(v.GetString("BLOCK_STORE")),
		KafkaBrokers:       splitList(v.GetString("KAFKA_BROKERS")),
		KafkaBlockTopic:    v.GetString("KAFKA_BLOCK_TOPIC"),
		CassandraHosts:     splitList(v.GetString("CASSANDRA_HOSTS")),
		CassandraKeyspace:  v.GetString("CASSANDRA_KEYSPACE"),
		FeeAccountID:       v.GetString("FEE_ACCOUNT_ID"),
		ReplayBatchSize:    v.GetInt("REPLAY_BATCH_SIZE"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}
	if cfg.AppID == "" {
		cfg.AppID = cfg.AppName
	}

	var err error
	if cfg.ShutdownPeriod, err = duration(v, "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration(v, "IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateCacheTTL, err = duration(v, "RATE_CACHE_TTL", defaultRateCacheTTL); err != nil {
		return Config{}, err
	}

	if cfg.Region, err = chain.ParseRegion(v.GetString("APP_REGION")); err != nil {
		return Config{}, fmt.Errorf("invalid APP_REGION: %w", err)
	}

	cfg.CommissionRate, err = decimal.NewFromString(v.GetString("COMMISSION_RATE"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid COMMISSION_RATE: %w", err)
	}
	if cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Config{}, fmt.Errorf("COMMISSION_RATE must be in [0, 1), got %s", cfg.CommissionRate)
	}

	switch cfg.BlockStore {
	case BlockStoreKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS must be set when BLOCK_STORE=kafka")
		}
		if cfg.KafkaPartitions <= 0 || cfg.KafkaReplication <= 0 {
			return Config{}, fmt.Errorf("KAFKA_BLOCK_PARTITIONS and KAFKA_REPLICATION_FACTOR must be positive")
		}
	case BlockStoreCassandra:
		if len(cfg.CassandraHosts) == 0 {
			return Config{}, fmt.Errorf("CASSANDRA_HOSTS must be set when BLOCK_STORE=cassandra")
		}
	case BlockStoreMemory:
	default:
		return Config{}, fmt.Errorf("unknown BLOCK_STORE %q", cfg.BlockStore)
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// duration reads KEY_SECONDS as whole seconds, falling back to KEY as a Go duration string.
func duration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	if raw := v.GetString(key + "_SECONDS"); raw != "" {
		var seconds int
		if _, err := fmt.Sscanf(raw, "%d", &seconds); err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if raw := v.GetString(key); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
