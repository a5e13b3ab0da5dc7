package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// EngineConfig holds the tunables of the progression engine.
type EngineConfig struct {
	DefinitionsPath string                 `mapstructure:"definitions_path"`
	Claims          map[string]ClaimConfig `mapstructure:"claims"`
	Delivery        DeliveryConfig         `mapstructure:"delivery"`
	Session         SessionConfig          `mapstructure:"session"`
	Lock            LockConfig             `mapstructure:"lock"`
}

// ClaimConfig describes one periodic reward, e.g. the daily gift.
type ClaimConfig struct {
	Period time.Duration `mapstructure:"period"`
	Min    int64         `mapstructure:"min"`
	Max    int64         `mapstructure:"max"`
}

type DeliveryConfig struct {
	Backend  string        `mapstructure:"backend"` // lru | cache
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LockConfig struct {
	Distributed bool          `mapstructure:"distributed"`
	TTL         time.Duration `mapstructure:"ttl"`
	Retry       time.Duration `mapstructure:"retry"`
}

type SecurityConfig struct {
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	// AllowedOrigins limits gateway WebSocket origins; empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DailyGift is the reward key used by the claim-gift entry point.
const DailyGift = "daily_gift"

// Load reads config from the given YAML file path. Values can be overridden by
// ENGAGE_* environment variables, optionally sourced from a .env file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("engage")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if _, ok := cfg.Engine.Claims[DailyGift]; !ok {
		if cfg.Engine.Claims == nil {
			cfg.Engine.Claims = make(map[string]ClaimConfig)
		}
		cfg.Engine.Claims[DailyGift] = ClaimConfig{Period: 24 * time.Hour, Min: 100, Max: 500}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/engage.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("engine.definitions_path", "./config/definitions.yaml")
	v.SetDefault("engine.delivery.backend", "lru")
	v.SetDefault("engine.delivery.capacity", 100000)
	v.SetDefault("engine.delivery.ttl", "168h")
	v.SetDefault("engine.session.idle_timeout", "30m")
	v.SetDefault("engine.session.sweep_interval", "1m")
	v.SetDefault("engine.lock.distributed", false)
	v.SetDefault("engine.lock.ttl", "10s")
	v.SetDefault("engine.lock.retry", "20ms")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
}
