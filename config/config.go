package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	Labels   LabelsConfig   `yaml:"labels"`
}

// LogConfig selects the log encoder and sinks.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // console or json
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RealtimeConfig defines the push-messaging connection and the feeds
// bound to it.
type RealtimeConfig struct {
	Backend             string        `yaml:"backend"` // "stomp", "mqtt" or "kafka"
	Topics              []string      `yaml:"topics"`
	SendDestination     string        `yaml:"send_destination"`
	ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
	ReplaySubscriptions bool          `yaml:"replay_subscriptions"`
	FeedCapacity        int           `yaml:"feed_capacity"`
	History             string        `yaml:"history"` // "memory" or "redis"
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`

	STOMP STOMPConfig `yaml:"stomp"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// STOMPConfig defines the STOMP-over-WebSocket endpoint.
type STOMPConfig struct {
	URL            string        `yaml:"url"`    // http(s) or ws(s) endpoint
	SockJS         bool          `yaml:"sockjs"` // wrap frames in SockJS framing
	Host           string        `yaml:"host"`
	Login          string        `yaml:"login"`
	Passcode       string        `yaml:"passcode"`
	HeartbeatOut   time.Duration `yaml:"heartbeat_out"`
	HeartbeatIn    time.Duration `yaml:"heartbeat_in"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker    string        `yaml:"broker"`
	Port      int           `yaml:"port"`
	ClientID  string        `yaml:"client_id"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// APIConfig defines the REST back end the dashboard talks to.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	TokenPath string        `yaml:"token_path"`
}

// LabelsConfig defines label batch defaults.
type LabelsConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Unique      bool          `yaml:"unique"`
	RenderDelay time.Duration `yaml:"render_delay"`
	SpoolDir    string        `yaml:"spool_dir"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			FilePath:   "logs/tiximaxd.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8090,
			SessionSecret: "change-me-in-production",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "tiximax.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "tiximax",
				User:     "tiximax",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Realtime: RealtimeConfig{
			Backend:             "stomp",
			Topics:              []string{"/topic/orders"},
			SendDestination:     "/app/orders",
			ReconnectDelay:      5 * time.Second,
			ReplaySubscriptions: true,
			FeedCapacity:        200,
			History:             "memory",
			OutboxDrainInterval: 5 * time.Second,
			STOMP: STOMPConfig{
				URL:            "http://localhost:8080/ws",
				SockJS:         true,
				HeartbeatOut:   4 * time.Second,
				HeartbeatIn:    4 * time.Second,
				ConnectTimeout: 10 * time.Second,
			},
			MQTT: MQTTConfig{
				Broker:    "localhost",
				Port:      1883,
				ClientID:  "tiximaxd",
				KeepAlive: 30 * time.Second,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "tiximaxd",
			},
		},
		API: APIConfig{
			BaseURL:   "http://localhost:8080/api",
			Timeout:   15 * time.Second,
			TokenPath: "token.json",
		},
		Labels: LabelsConfig{
			BatchSize:   10,
			RenderDelay: 100 * time.Millisecond,
			SpoolDir:    "spool",
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Lock acquires the config mutex for multi-step mutations.
func (c *Config) Lock() { c.mu.Lock() }

// Unlock releases the config mutex.
func (c *Config) Unlock() { c.mu.Unlock() }
