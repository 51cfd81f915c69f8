package config

import (
	"fmt"
	"strings"

	"github.com/sabikalabs/sabika/libs/config"
	"github.com/spf13/viper"
)

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TradesTopic string   `mapstructure:"trades_topic"`
	OrdersTopic string   `mapstructure:"orders_topic"`
	DLQTopic    string   `mapstructure:"dlq_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type Config struct {
	App      *config.AppConfig
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// Load reads the archiver configuration: the shared app section plus the
// Kafka and Postgres sections.
func Load(path string) (*Config, error) {
	app, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("SABIKA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	_ = v.ReadInConfig()

	cfg := Config{App: app}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal archiver config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trades_topic", "trades.executed")
	v.SetDefault("kafka.orders_topic", "orders.status")
	v.SetDefault("kafka.dlq_topic", "archiver.dlq")
	v.SetDefault("kafka.group_id", "archiver")
	v.SetDefault("postgres.max_conns", 8)
}
