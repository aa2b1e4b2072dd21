package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/84hero/launch-indexer/internal/webhook"
	"github.com/84hero/launch-indexer/pkg/chain"
	"github.com/84hero/launch-indexer/pkg/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	DefaultChunkSize         = 2000
	DefaultEnrichCap         = 80
	DefaultEnrichConcurrency = 8
	DefaultInterval          = 30 * time.Second
)

type Config struct {
	Project string           `mapstructure:"project"`
	Log     LogConfig        `mapstructure:"log"`
	RPC     []rpc.NodeConfig `mapstructure:"rpc_nodes"`
	Feed    FeedConfig       `mapstructure:"feed"`
	Storage StorageConfig    `mapstructure:"storage"`
	Outputs OutputsConfig    `mapstructure:"outputs"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type FeedConfig struct {
	ChainID string `mapstructure:"chain_id"`
	Preset  string `mapstructure:"preset"`
	// Address of the launch factory
	Address    string `mapstructure:"address"`
	StartBlock uint64 `mapstructure:"start_block"`
	ChunkSize  uint64 `mapstructure:"chunk_size"`

	// Confirmations keeps the scan head this many blocks behind latest
	Confirmations uint64 `mapstructure:"confirmations"`

	EnrichCap         int           `mapstructure:"enrich_cap"`
	EnrichConcurrency int           `mapstructure:"enrich_concurrency"`
	Interval          time.Duration `mapstructure:"interval"`
	UseBloom          bool          `mapstructure:"use_bloom"`
}

// FeedAddress returns the parsed factory address.
func (f FeedConfig) FeedAddress() (common.Address, error) {
	if !common.IsHexAddress(f.Address) {
		return common.Address{}, fmt.Errorf("feed.address %q is not a valid address", f.Address)
	}
	return common.HexToAddress(f.Address), nil
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // memory, redis, postgres
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresURL   string `mapstructure:"postgres_url"`
	// Prefix for storage layer (e.g., PG table prefix or Redis Key prefix)
	Prefix string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics listener
}

type OutputsConfig struct {
	Webhook  WebhookOutputConfig  `mapstructure:"webhook"`
	File     FileOutputConfig     `mapstructure:"file"`
	Console  ConsoleOutputConfig  `mapstructure:"console"`
	Postgres PostgresOutputConfig `mapstructure:"postgres"`
	Redis    RedisOutputConfig    `mapstructure:"redis"`
	Kafka    KafkaOutputConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQOutputConfig `mapstructure:"rabbitmq"`
}

type WebhookOutputConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	URL        string      `mapstructure:"url"`
	Secret     string      `mapstructure:"secret"`
	Retry      RetryConfig `mapstructure:"retry"`
	Async      bool        `mapstructure:"async"`
	BufferSize int         `mapstructure:"buffer_size"`
	Workers    int         `mapstructure:"workers"`
}

// ClientConfig converts to the webhook client configuration.
func (w WebhookOutputConfig) ClientConfig() webhook.Config {
	return webhook.Config{
		URL:            w.URL,
		Secret:         w.Secret,
		MaxAttempts:    w.Retry.MaxAttempts,
		InitialBackoff: w.Retry.InitialBackoff,
		MaxBackoff:     w.Retry.MaxBackoff,
	}
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type FileOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Verbose bool `mapstructure:"verbose"`
}

type PostgresOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Table   string `mapstructure:"table"`
}

type RedisOutputConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"` // list, pubsub
}

type KafkaOutputConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LAUNCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyPreset(&cfg, v.IsSet("feed.confirmations"))

	// Set default values
	if cfg.Feed.ChunkSize == 0 {
		cfg.Feed.ChunkSize = DefaultChunkSize
	}
	if cfg.Feed.EnrichCap == 0 {
		cfg.Feed.EnrichCap = DefaultEnrichCap
	}
	if cfg.Feed.EnrichConcurrency == 0 {
		cfg.Feed.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if cfg.Feed.Interval == 0 {
		cfg.Feed.Interval = DefaultInterval
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}

	return &cfg, nil
}

// applyPreset fills unset feed parameters from the named preset, or from the
// preset matching the chain id when no name is given.
func applyPreset(cfg *Config, confirmationsSet bool) {
	name := cfg.Feed.Preset
	if name == "" {
		name = cfg.Feed.ChainID
	}
	preset, ok := chain.Lookup(name)
	if !ok {
		return
	}
	if cfg.Feed.ChainID == "" {
		cfg.Feed.ChainID = preset.ChainID
	}
	if cfg.Feed.ChunkSize == 0 {
		cfg.Feed.ChunkSize = preset.ChunkSize
	}
	if cfg.Feed.Interval == 0 {
		cfg.Feed.Interval = preset.PollInterval
	}
	if !confirmationsSet {
		cfg.Feed.Confirmations = preset.Confirmations
	}
}
