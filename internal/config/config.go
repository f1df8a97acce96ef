package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/Archan-07/my-chat-app/internal/pubsub"
	"github.com/Archan-07/my-chat-app/pkg/config"
	"github.com/Archan-07/my-chat-app/pkg/database"
	"github.com/Archan-07/my-chat-app/pkg/log"
)

type Config struct {
	Server      ServerConfig
	WebSocket   WebSocketConfig
	Auth        AuthConfig
	Database    database.Config
	PubSub      pubsub.Config
	Cache       CacheConfig
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	LinkPreview LinkPreviewConfig `mapstructure:"link_preview"`
	Log         log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

type AuthConfig struct {
	AccessTokenSecret string `mapstructure:"access_token_secret"`
}

type CacheConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LinkPreviewConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBodySize int64         `mapstructure:"max_body_size"`
}

// Load reads configuration from ./config/config.yaml and the environment.
func Load() (*Config, error) {
	v, err := config.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.handshake_timeout", "5s")
	v.SetDefault("auth.access_token_secret", "")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "chatapp")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("pubsub.driver", "redis")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "chat-gateway")
	v.SetDefault("pubsub.kafka.partitions", 8)
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.db", 1)
	v.SetDefault("cache.prefix", "chat:cache")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("link_preview.enabled", true)
	v.SetDefault("link_preview.timeout", "3s")
	v.SetDefault("link_preview.max_body_size", 1048576)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "chat-server")

	// Environment overrides
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.access_token_secret", "ACCESS_TOKEN_SECRET")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("cache.address", "CACHE_REDIS_ADDRESS")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Durations come through as strings from env overrides.
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.WebSocket.HandshakeTimeout = parseDuration(v, "websocket.handshake_timeout", 5*time.Second)
	cfg.Cache.TTL = parseDuration(v, "cache.ttl", 5*time.Minute)
	cfg.RateLimit.Window = parseDuration(v, "rate_limit.window", time.Minute)
	cfg.LinkPreview.Timeout = parseDuration(v, "link_preview.timeout", 3*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
