package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full process configuration. It is loaded once at startup and
// handed to each component's constructor.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Market   MarketConfig   `mapstructure:"market"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Quote    QuoteConfig    `mapstructure:"quote"`
	Decision DecisionConfig `mapstructure:"decision"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// MarketConfig describes the exchange calendar the jobs are gated by
type MarketConfig struct {
	Timezone     string   `mapstructure:"timezone"`
	Open         string   `mapstructure:"open"`  // HH:MM
	Close        string   `mapstructure:"close"` // HH:MM
	Holidays     []string `mapstructure:"holidays"`
	Weekdays     []string `mapstructure:"weekdays"`
	SymbolSuffix string   `mapstructure:"symbol_suffix"`
}

type CacheConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	Store            string        `mapstructure:"store"` // memory, database, redis
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
}

type QuoteConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	FallbackURL     string        `mapstructure:"fallback_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

type DecisionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JobsConfig holds the trigger times of the trading jobs, in market local time
type JobsConfig struct {
	Premarket       string        `mapstructure:"premarket"`
	Afternoon       string        `mapstructure:"afternoon"`
	EndOfDay        string        `mapstructure:"end_of_day"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres or sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.rate_per_second", 10.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("market.timezone", "Europe/Berlin")
	v.SetDefault("market.open", "09:00")
	v.SetDefault("market.close", "17:30")
	v.SetDefault("market.holidays", []string{})
	v.SetDefault("market.weekdays", []string{"mon", "tue", "wed", "thu", "fri"})
	v.SetDefault("market.symbol_suffix", ".DE")

	v.SetDefault("cache.ttl", 300*time.Second)
	v.SetDefault("cache.store", "memory")
	v.SetDefault("cache.fetch_concurrency", 4)

	v.SetDefault("quote.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("quote.timeout", 10*time.Second)
	v.SetDefault("quote.rate_per_second", 2.0)
	v.SetDefault("quote.burst", 5)
	v.SetDefault("quote.breaker_failures", 5)
	v.SetDefault("quote.breaker_cooldown", time.Minute)

	v.SetDefault("decision.base_url", "http://localhost:9000")
	v.SetDefault("decision.timeout", 2*time.Minute)

	v.SetDefault("jobs.premarket", "08:30")
	v.SetDefault("jobs.afternoon", "14:00")
	v.SetDefault("jobs.end_of_day", "17:45")
	v.SetDefault("jobs.refresh_interval", 15*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/trading.db")

	v.SetDefault("quote.fallback_url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("log.file", "")

	v.SetDefault("mongo.database", "trading")
	v.SetDefault("mongo.collection", "batch_results")
	v.SetDefault("kafka.topic", "trading.batch-results")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.max_age_days", 30)
}

// Load reads configuration from <dir>/config.yaml (optional), a .env file
// (optional) and APP_* environment variables, in increasing precedence.
func Load(dir string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no component could run with.
func (c *Config) Validate() error {
	for name, hhmm := range map[string]string{
		"market.open":     c.Market.Open,
		"market.close":    c.Market.Close,
		"jobs.premarket":  c.Jobs.Premarket,
		"jobs.afternoon":  c.Jobs.Afternoon,
		"jobs.end_of_day": c.Jobs.EndOfDay,
	} {
		if _, _, err := ParseClock(hhmm); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Jobs.RefreshInterval <= 0 {
		return fmt.Errorf("jobs.refresh_interval must be positive, got %s", c.Jobs.RefreshInterval)
	}
	if c.Market.SymbolSuffix == "" {
		return errors.New("market.symbol_suffix is required")
	}
	switch c.Cache.Store {
	case "memory", "database", "redis":
	default:
		return fmt.Errorf("unknown cache.store %q", c.Cache.Store)
	}
	return nil
}

// ParseClock parses "HH:MM" into hour and minute
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseWeekdays maps short or long English day names to time.Weekday.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		if len(key) < 3 {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		d, ok := weekdayNames[key[:3]]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		days = append(days, d)
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// MaskDSN masks credentials for logging, preserving the host part
func MaskDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
		return "***" + dsn[at:]
	}
	if strings.Contains(dsn, "password=") {
		parts := strings.Fields(dsn)
		for i, p := range parts {
			if strings.HasPrefix(p, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	}
	return dsn
}
