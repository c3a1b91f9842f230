package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Auction  AuctionConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	Topics   TopicConfig
	MockMode bool
	Enabled  bool
}

type TopicConfig struct {
	AuctionExtended   string
	AuctionClosed     string
	BidOutbid         string
	Settlement        string
	SettlementResults string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// AuctionConfig carries the bidding policy knobs. Anti-sniping values are
// policy, not constants: every deployment tunes its own window.
type AuctionConfig struct {
	AntiSnipeWindow    time.Duration
	AntiSnipeExtension time.Duration
	MaxExtensions      int
	BidLockTimeout     time.Duration
	ConflictRetries    int
	ConflictBackoff    time.Duration
	CloseSweepInterval time.Duration
	ActivateInterval   time.Duration
	SettlementRetry    time.Duration
}

func Load() *Config {
	kafkaEnabled := getEnvBool("KAFKA_ENABLED", true)
	mockMode := getEnvBool("KAFKA_MOCK_MODE", false)

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "auction_user"),
			Password:     getEnv("DB_PASSWORD", "auction_pass"),
			Database:     getEnv("DB_NAME", "bidding_engine"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:  []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID:  getEnv("KAFKA_GROUP_ID", "bidding-engine-group"),
			Enabled:  kafkaEnabled,
			MockMode: mockMode,
			Topics: TopicConfig{
				AuctionExtended:   getEnv("KAFKA_TOPIC_EXTENDED", "auction.extended"),
				AuctionClosed:     getEnv("KAFKA_TOPIC_CLOSED", "auction.closed"),
				BidOutbid:         getEnv("KAFKA_TOPIC_OUTBID", "bid.outbid"),
				Settlement:        getEnv("KAFKA_TOPIC_SETTLEMENT", "auction.settlement"),
				SettlementResults: getEnv("KAFKA_TOPIC_SETTLEMENT_RESULTS", "auction.settlement.results"),
			},
		},
		Auction: AuctionConfig{
			AntiSnipeWindow:    time.Duration(getEnvInt("ANTISNIPE_WINDOW_SECONDS", 120)) * time.Second,
			AntiSnipeExtension: time.Duration(getEnvInt("ANTISNIPE_EXTENSION_SECONDS", 120)) * time.Second,
			MaxExtensions:      getEnvInt("ANTISNIPE_MAX_EXTENSIONS", 3),
			BidLockTimeout:     time.Duration(getEnvInt("BID_LOCK_TIMEOUT_MS", 2000)) * time.Millisecond,
			ConflictRetries:    getEnvInt("CONFLICT_MAX_RETRIES", 3),
			ConflictBackoff:    time.Duration(getEnvInt("CONFLICT_BACKOFF_MS", 25)) * time.Millisecond,
			CloseSweepInterval: time.Duration(getEnvInt("CLOSE_SWEEP_SECONDS", 10)) * time.Second,
			ActivateInterval:   time.Duration(getEnvInt("ACTIVATE_SWEEP_SECONDS", 15)) * time.Second,
			SettlementRetry:    time.Duration(getEnvInt("SETTLEMENT_RETRY_SECONDS", 60)) * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
