package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// Store selects the persistence backend, postgres or memory.
	Store string `mapstructure:"store"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres URL understood by both pgx and lib/pq.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	GoalTTL  time.Duration `mapstructure:"goal_ttl"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AnalysisConfig struct {
	ConflictInterval  time.Duration `mapstructure:"conflict_interval"`
	UpdateSkipWindow  time.Duration `mapstructure:"update_skip_window"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	ActivityCacheTTL  time.Duration `mapstructure:"activity_cache_ttl"`
	NotificationQueue int           `mapstructure:"notification_queue_size"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

var envBindings = map[string]string{
	"server.port":                      "PORT",
	"server.store":                     "STORE",
	"log.level":                        "LOG_LEVEL",
	"log.format":                       "LOG_FORMAT",
	"database.driver":                  "DB_DRIVER",
	"database.host":                    "DB_HOST",
	"database.port":                    "DB_PORT",
	"database.user":                    "DB_USER",
	"database.password":                "DB_PASSWORD",
	"database.name":                    "DB_NAME",
	"database.sslmode":                 "DB_SSLMODE",
	"redis.enabled":                    "REDIS_ENABLED",
	"redis.host":                       "REDIS_HOST",
	"redis.port":                       "REDIS_PORT",
	"redis.password":                   "REDIS_PASSWORD",
	"redis.db":                         "REDIS_DB",
	"redis.goal_ttl":                   "REDIS_GOAL_TTL",
	"kafka.brokers":                    "KAFKA_BROKERS",
	"kafka.topic":                      "KAFKA_TOPIC",
	"analysis.conflict_interval":       "ANALYSIS_CONFLICT_INTERVAL",
	"analysis.update_skip_window":      "ANALYSIS_UPDATE_SKIP_WINDOW",
	"analysis.lock_timeout":            "ANALYSIS_LOCK_TIMEOUT",
	"analysis.activity_cache_ttl":      "ACTIVITY_CACHE_TTL",
	"analysis.notification_queue_size": "NOTIFICATION_QUEUE_SIZE",
	"rate_limit.limit":                 "RATE_LIMIT_LIMIT",
	"rate_limit.window":                "RATE_LIMIT_WINDOW",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.store", StorePostgres)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "kanso_user")
	v.SetDefault("database.password", "secret")
	v.SetDefault("database.name", "kanso_db")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.goal_ttl", 30*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "goal-conflicts")

	v.SetDefault("analysis.conflict_interval", 15*time.Minute)
	v.SetDefault("analysis.update_skip_window", 5*time.Second)
	v.SetDefault("analysis.lock_timeout", 10*time.Second)
	v.SetDefault("analysis.activity_cache_ttl", 24*time.Hour)
	v.SetDefault("analysis.notification_queue_size", 100)

	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Minute)
}

// Load reads an optional .env file, then defaults, config.yaml and the environment,
// the environment winning.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

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
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Server.Store)
	}
	if c.Server.Store == StorePostgres {
		if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
			return fmt.Errorf("DB_DRIVER must be pgx or postgres, got %q", c.Database.Driver)
		}
		if c.Database.Name == "" {
			return errors.New("DB_NAME is required")
		}
	}
	if c.Analysis.ConflictInterval < 0 {
		return errors.New("ANALYSIS_CONFLICT_INTERVAL cannot be negative")
	}
	if c.Analysis.UpdateSkipWindow < 0 {
		return errors.New("ANALYSIS_UPDATE_SKIP_WINDOW cannot be negative")
	}
	if c.Analysis.LockTimeout < 0 {
		return errors.New("ANALYSIS_LOCK_TIMEOUT cannot be negative")
	}
	if c.Analysis.NotificationQueue <= 0 {
		return errors.New("NOTIFICATION_QUEUE_SIZE must be positive")
	}
	if c.RateLimit.Limit < 0 {
		return errors.New("RATE_LIMIT_LIMIT cannot be negative")
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
