package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/thanos-io/thanos/pkg/tracing/otlp"
	yaml "gopkg.in/yaml.v3"
)

const (
	HistoryPrometheus = "prometheus"
	HistorySQL        = "sql"

	SQLPostgreSQL = "postgresql"
	SQLSQLite     = "sqlite"

	LiveNone  = "none"
	LiveOTLP  = "otlp"
	LiveRedis = "redis"
	LiveKafka = "kafka"
	LiveMQTT  = "mqtt"
)

type Config struct {
	Server      ServerConfig      `yaml:"server,omitempty"`
	Dashboard   DashboardConfig   `yaml:"dashboard,omitempty"`
	History     HistoryConfig     `yaml:"history,omitempty"`
	Live        LiveConfig        `yaml:"live,omitempty"`
	Tracing     *otlp.Config      `yaml:"tracing,omitempty"`
	CORS        CORSConfig        `yaml:"cors,omitempty"`
	MemoryLimit MemoryLimitConfig `yaml:"memory_limit,omitempty"`
	Retention   RetentionConfig   `yaml:"retention,omitempty"`
}

type ServerConfig struct {
	InsecureListenAddress string `yaml:"insecure_listen_address,omitempty"`
}

type DashboardConfig struct {
	Window        time.Duration `yaml:"window,omitempty"`
	Selection     []string      `yaml:"selection,omitempty"`
	UpdateBuffer  int           `yaml:"update_buffer,omitempty"`
	RetryInterval time.Duration `yaml:"retry_interval,omitempty"`
}

type HistoryConfig struct {
	Provider   string           `yaml:"provider,omitempty"`
	Prometheus PrometheusConfig `yaml:"prometheus,omitempty"`
	SQL        SQLConfig        `yaml:"sql,omitempty"`
	Retry      RetryConfig      `yaml:"retry,omitempty"`
}

type PrometheusConfig struct {
	URL      string            `yaml:"url,omitempty"`
	Metrics  []string          `yaml:"metrics,omitempty"`
	Matchers []string          `yaml:"matchers,omitempty"`
	Query    string            `yaml:"query,omitempty"`
	Step     time.Duration     `yaml:"step,omitempty"`
	Units    map[string]string `yaml:"units,omitempty"`
}

type SQLConfig struct {
	Provider   string           `yaml:"provider,omitempty"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql,omitempty"`
	SQLite     SQLiteConfig     `yaml:"sqlite,omitempty"`
}

type PostgreSQLConfig struct {
	Addr            string        `yaml:"addr,omitempty"`
	Database        string        `yaml:"database,omitempty"`
	DialTimeout     time.Duration `yaml:"dial_timeout,omitempty"`
	Password        string        `yaml:"password,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	SSLMode         string        `yaml:"sslmode,omitempty"`
	User            string        `yaml:"user,omitempty"`
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

type SQLiteConfig struct {
	DatabasePath string `yaml:"database_path,omitempty"`
}

type RetryConfig struct {
	MaxTries        uint          `yaml:"max_tries,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time,omitempty"`
}

type LiveConfig struct {
	Provider string      `yaml:"provider,omitempty"`
	OTLP     OTLPConfig  `yaml:"otlp,omitempty"`
	Redis    RedisConfig `yaml:"redis,omitempty"`
	Kafka    KafkaConfig `yaml:"kafka,omitempty"`
	MQTT     MQTTConfig  `yaml:"mqtt,omitempty"`
}

type OTLPConfig struct {
	ListenAddress           string        `yaml:"listen_address,omitempty"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout,omitempty"`
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses,omitempty"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	Channel   string   `yaml:"channel,omitempty"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers,omitempty"`
	Topic    string   `yaml:"topic,omitempty"`
	GroupID  string   `yaml:"group_id,omitempty"`
	MinBytes int      `yaml:"min_bytes,omitempty"`
	MaxBytes int      `yaml:"max_bytes,omitempty"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker,omitempty"`
	Topic          string        `yaml:"topic,omitempty"`
	QoS            int           `yaml:"qos,omitempty"`
	ClientIDPrefix string        `yaml:"client_id_prefix,omitempty"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods   []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders   []string `yaml:"allowed_headers,omitempty"`
	AllowCredentials bool     `yaml:"allow_credentials,omitempty"`
	MaxAge           int      `yaml:"max_age,omitempty"`
}

// RetentionConfig controls pruning of the SQL history store.
type RetentionConfig struct {
	Enabled    bool          `yaml:"enabled,omitempty"`
	Interval   time.Duration `yaml:"interval,omitempty"`
	RunTimeout time.Duration `yaml:"run_timeout,omitempty"`
	MaxAge     time.Duration `yaml:"max_age,omitempty"`
}

type MemoryLimitConfig struct {
	Enabled bool    `yaml:"enabled,omitempty"`
	Ratio   float64 `yaml:"ratio,omitempty"`
}

var DefaultConfig = NewDefaultConfig()

// NewDefaultConfig returns the configuration used before flags and the
// configuration file are applied.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			InsecureListenAddress: ":9091",
		},
		Dashboard: DashboardConfig{
			Window:       30 * time.Minute,
			UpdateBuffer: 64,
		},
		History: HistoryConfig{
			Provider: HistoryPrometheus,
			Prometheus: PrometheusConfig{
				URL:  "http://localhost:9090",
				Step: 15 * time.Second,
			},
			SQL: SQLConfig{
				Provider: SQLSQLite,
				PostgreSQL: PostgreSQLConfig{
					Addr:        "localhost",
					Port:        5432,
					SSLMode:     "disable",
					DialTimeout: 5 * time.Second,
				},
				SQLite: SQLiteConfig{
					DatabasePath: "opsdash.db",
				},
			},
			Retry: RetryConfig{
				MaxTries:        3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		Live: LiveConfig{
			Provider: LiveNone,
			OTLP: OTLPConfig{
				ListenAddress:           ":4317",
				GracefulShutdownTimeout: 30 * time.Second,
			},
			Redis: RedisConfig{
				Addresses: []string{"localhost:6379"},
				Channel:   "measurements",
			},
			Kafka: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				Topic:    "measurements",
				MinBytes: 1,
				MaxBytes: 10e6,
			},
			MQTT: MQTTConfig{
				Broker:         "tcp://localhost:1883",
				Topic:          "measurements",
				ClientIDPrefix: "opsdash",
				ConnectTimeout: 10 * time.Second,
			},
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With", "If-None-Match"},
			AllowCredentials: true,
			MaxAge:           300,
		},
		MemoryLimit: MemoryLimitConfig{
			Enabled: true,
			Ratio:   0.9,
		},
		Retention: RetentionConfig{
			Interval:   time.Hour,
			RunTimeout: 2 * time.Minute,
			MaxAge:     7 * 24 * time.Hour,
		},
	}
}

func LoadConfig(path string) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = yaml.Unmarshal(f, DefaultConfig)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}

// Validate reports configuration errors that would only surface at runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Dashboard.Window <= 0 {
		errs = append(errs, fmt.Errorf("dashboard window must be positive, got %s", c.Dashboard.Window))
	}

	switch c.History.Provider {
	case HistoryPrometheus:
		if c.History.Prometheus.URL == "" {
			errs = append(errs, errors.New("history prometheus url is required"))
		}
	case HistorySQL:
		switch c.History.SQL.Provider {
		case SQLPostgreSQL, SQLSQLite:
		default:
			errs = append(errs, fmt.Errorf("unsupported sql provider %q", c.History.SQL.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported history provider %q", c.History.Provider))
	}

	switch c.Live.Provider {
	case LiveNone, "":
	case LiveOTLP:
		if c.Live.OTLP.ListenAddress == "" {
			errs = append(errs, errors.New("live otlp listen address is required"))
		}
	case LiveRedis:
		if len(c.Live.Redis.Addresses) == 0 || c.Live.Redis.Channel == "" {
			errs = append(errs, errors.New("live redis addresses and channel are required"))
		}
	case LiveKafka:
		if len(c.Live.Kafka.Brokers) == 0 || c.Live.Kafka.Topic == "" {
			errs = append(errs, errors.New("live kafka brokers and topic are required"))
		}
	case LiveMQTT:
		if c.Live.MQTT.Broker == "" || c.Live.MQTT.Topic == "" {
			errs = append(errs, errors.New("live mqtt broker and topic are required"))
		}
		if c.Live.MQTT.QoS < 0 || c.Live.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("live mqtt qos must be 0, 1 or 2, got %d", c.Live.MQTT.QoS))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported live provider %q", c.Live.Provider))
	}

	if c.MemoryLimit.Enabled && (c.MemoryLimit.Ratio <= 0 || c.MemoryLimit.Ratio > 1) {
		errs = append(errs, fmt.Errorf("memory limit ratio must be in (0, 1], got %v", c.MemoryLimit.Ratio))
	}
	if c.Retention.Enabled {
		if c.History.Provider != HistorySQL {
			errs = append(errs, errors.New("retention requires the sql history provider"))
		}
		if c.Retention.Interval <= 0 || c.Retention.RunTimeout <= 0 || c.Retention.MaxAge <= 0 {
			errs = append(errs, errors.New("retention interval, run timeout and max age must be positive"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) IsTracingEnabled() bool {
	if c == nil {
		return false
	}
	return c.Tracing != nil
}

func (c *Config) GetTracingServiceName() string {
	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		if c == nil || c.Tracing == nil {
			return ""
		}
		return c.Tracing.ServiceName
	}
	return serviceName
}

// GetSanitizedConfig returns a copy of the configuration without credentials.
func (c *Config) GetSanitizedConfig() *Config {
	sc := *c
	sc.History.SQL.PostgreSQL.User = ""
	sc.History.SQL.PostgreSQL.Password = ""
	sc.Live.Redis.Username = ""
	sc.Live.Redis.Password = ""
	sc.Live.MQTT.Username = ""
	sc.Live.MQTT.Password = ""
	return &sc
}
