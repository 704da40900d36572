package config

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/weiawesome/wes-io-live/live-relay/internal/ownership"
	"github.com/weiawesome/wes-io-live/live-relay/internal/relay"
	"github.com/weiawesome/wes-io-live/live-relay/internal/source"
	pkgconfig "github.com/weiawesome/wes-io-live/live-relay/pkg/config"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	WebSocket WebSocketConfig       `mapstructure:"websocket"`
	Relay     RelaySettings         `mapstructure:"relay"`
	Source    source.Config         `mapstructure:"source"`
	Cluster   ClusterConfig         `mapstructure:"cluster"`
	Redis     ownership.RedisConfig `mapstructure:"redis"`
	PubSub    pubsub.Config         `mapstructure:"pubsub"`
	Admin     AdminConfig           `mapstructure:"admin"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
	Log       log.Config            `mapstructure:"log"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	InstanceID string `mapstructure:"instance_id"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBufferSize int           `mapstructure:"send_buffer_size"`
}

// RelaySettings is the file form of relay.Config.
type RelaySettings struct {
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	BackoffCap           time.Duration `mapstructure:"backoff_cap"`
	BackoffJitter        float64       `mapstructure:"backoff_jitter"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	DisconnectTimeout    time.Duration `mapstructure:"disconnect_timeout"`
	BacklogSize          int           `mapstructure:"backlog_size"`
}

type ClusterConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// OwnerCheckInterval is how often a follower confirms the owner is alive.
	OwnerCheckInterval time.Duration `mapstructure:"owner_check_interval"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// RelayConfig converts the file settings into the room settings.
func (c *Config) RelayConfig() relay.Config {
	jitter := c.Relay.BackoffJitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return relay.Config{
		MaxAttempts: c.Relay.MaxReconnectAttempts,
		Backoff: relay.Backoff{
			Base:   c.Relay.BackoffBase,
			Cap:    c.Relay.BackoffCap,
			Jitter: jitter,
		},
		ConnectTimeout:    c.Relay.ConnectTimeout,
		DisconnectTimeout: c.Relay.DisconnectTimeout,
		BacklogSize:       c.Relay.BacklogSize,
	}
}

// Load reads the config file at path (a directory or a yaml file) and the
// environment.
func Load(path string) (*Config, error) {
	v, err := pkgconfig.Load(path, "config")
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.instance_id", "INSTANCE_ID")
	v.BindEnv("source.driver", "SOURCE_DRIVER")
	v.BindEnv("source.url", "SOURCE_URL")
	v.BindEnv("cluster.enabled", "CLUSTER_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("admin.jwt_secret", "ADMIN_JWT_SECRET")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = defaultInstanceID()
	}
	cfg.Log.InstanceID = cfg.Server.InstanceID

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	src := source.DefaultConfig()
	ps := pubsub.DefaultConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer_size", 256)
	v.SetDefault("relay.max_reconnect_attempts", 5)
	v.SetDefault("relay.backoff_base", "500ms")
	v.SetDefault("relay.backoff_cap", "30s")
	v.SetDefault("relay.backoff_jitter", 0.2)
	v.SetDefault("relay.connect_timeout", "15s")
	v.SetDefault("relay.disconnect_timeout", "5s")
	v.SetDefault("relay.backlog_size", 50)
	v.SetDefault("source.driver", src.Driver)
	v.SetDefault("source.handshake_timeout", src.HandshakeTimeout)
	v.SetDefault("source.read_limit", src.ReadLimit)
	v.SetDefault("source.event_buffer", src.EventBuffer)
	v.SetDefault("source.mock.min_interval", src.Mock.MinInterval)
	v.SetDefault("source.mock.max_interval", src.Mock.MaxInterval)
	v.SetDefault("source.mock.failure_rate", 0.0)
	v.SetDefault("cluster.enabled", false)
	v.SetDefault("cluster.owner_check_interval", "5s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ownership_prefix", "live-relay")
	v.SetDefault("redis.heartbeat_interval", "5s")
	v.SetDefault("redis.key_ttl", "15s")
	v.SetDefault("pubsub.driver", ps.Driver)
	v.SetDefault("pubsub.redis.address", ps.Redis.Address)
	v.SetDefault("pubsub.redis.pool_size", ps.Redis.PoolSize)
	v.SetDefault("pubsub.redis.read_timeout", ps.Redis.ReadTimeout)
	v.SetDefault("pubsub.redis.write_timeout", ps.Redis.WriteTimeout)
	v.SetDefault("pubsub.kafka.brokers", ps.Kafka.Brokers)
	v.SetDefault("pubsub.kafka.group_id", ps.Kafka.GroupID)
	v.SetDefault("pubsub.kafka.partitions", ps.Kafka.Partitions)
	v.SetDefault("admin.issuer", "live-relay")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "live-relay")
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}
