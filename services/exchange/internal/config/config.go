package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sabikalabs/sabika/libs/config"
	"github.com/spf13/viper"
)

type InstrumentConfig struct {
	Symbol string `mapstructure:"symbol"`
	MinQty string `mapstructure:"min_qty"`
	MaxQty string `mapstructure:"max_qty"`
}

type FeesConfig struct {
	TierBps     map[string]int64 `mapstructure:"tier_bps"`
	DefaultTier string           `mapstructure:"default_tier"`
	PlatformBps int64            `mapstructure:"platform_bps"`
	Places      int32            `mapstructure:"places"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TradesTopic string   `mapstructure:"trades_topic"`
	OrdersTopic string   `mapstructure:"orders_topic"`
	PricesTopic string   `mapstructure:"prices_topic"`
	DLQTopic    string   `mapstructure:"dlq_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type EngineConfig struct {
	SlippageBps    int64         `mapstructure:"slippage_bps"`
	ExpirySweep    time.Duration `mapstructure:"expiry_sweep"`
	PlatformFeeAcc string        `mapstructure:"platform_account"`
}

type Config struct {
	App          *config.AppConfig
	Instruments  []InstrumentConfig `mapstructure:"instruments"`
	Fees         FeesConfig         `mapstructure:"fees"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Engine       EngineConfig       `mapstructure:"engine"`
	OTLPEndpoint string             `mapstructure:"otlp_endpoint"`
}

// Load reads the exchange service configuration: the shared app section plus
// the exchange-specific sections, both overridable through SABIKA_-prefixed
// environment variables.
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
		return nil, fmt.Errorf("unmarshal exchange config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument must be listed")
	}
	if c.Fees.DefaultTier == "" {
		return fmt.Errorf("fees.default_tier is required")
	}
	if _, ok := c.Fees.TierBps[c.Fees.DefaultTier]; !ok {
		return fmt.Errorf("fees.default_tier %q not present in fees.tier_bps", c.Fees.DefaultTier)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instruments", []map[string]any{
		{"symbol": "GOLD24K-SAR", "min_qty": "0.1", "max_qty": "10000"},
		{"symbol": "GOLD21K-SAR", "min_qty": "0.1", "max_qty": "10000"},
		{"symbol": "SILVER-SAR", "min_qty": "1", "max_qty": "100000"},
	})
	v.SetDefault("fees.tier_bps", map[string]int64{"basic": 50, "pro": 30, "enterprise": 10})
	v.SetDefault("fees.default_tier", "basic")
	v.SetDefault("fees.platform_bps", 5)
	v.SetDefault("fees.places", 2)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.trades_topic", "trades.executed")
	v.SetDefault("kafka.orders_topic", "orders.status")
	v.SetDefault("kafka.prices_topic", "prices.ticks")
	v.SetDefault("kafka.dlq_topic", "exchange.dlq")
	v.SetDefault("kafka.group_id", "exchange")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("engine.slippage_bps", 100)
	v.SetDefault("engine.expiry_sweep", "1s")
	v.SetDefault("engine.platform_account", "00000000-0000-0000-0000-000000000001")
}
