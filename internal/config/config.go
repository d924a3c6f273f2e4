// Package config loads and validates the InfoLogger configuration
// surface (spec.md §6): the infoLoggerServer and infoLoggerD sections,
// plus the expansion sub-sections (metrics, tracing, kafka, fifo
// compression). YAML parse, compiled-in defaults, environment
// overrides, then validation — in that order, same pipeline the
// teacher's loader follows.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"infologger/pkg/errors"
)

// ServerConfig is the infoLoggerServer section (spec.md §6): central
// server listening ports, DB pool sizing, and the stats aggregator's
// window tuning.
type ServerConfig struct {
	ServerPortRx        int    `yaml:"serverPortRx"`
	MaxClientsRx        int    `yaml:"maxClientsRx"`
	MsgQueueLengthRx    int    `yaml:"msgQueueLengthRx"`
	DBHost              string `yaml:"dbHost"`
	DBUser              string `yaml:"dbUser"`
	DBPassword          string `yaml:"dbPassword"`
	DBName              string `yaml:"dbName"`
	DBEnabled           bool   `yaml:"dbEnabled"`
	DBNThreads          int    `yaml:"dbNThreads"`
	DBDispatchQueueSize int    `yaml:"dbDispatchQueueSize"`
	ServerPortTx        int    `yaml:"serverPortTx"`
	MaxClientsTx        int    `yaml:"maxClientsTx"`
	StatsPort           int    `yaml:"statsPort"`
	StatsMaxClients     int    `yaml:"statsMaxClients"`
	StatsPublishInterval string `yaml:"statsPublishInterval"` // duration string, e.g. "5s"
	StatsResetInterval   string `yaml:"statsResetInterval"`
	StatsHistory         string `yaml:"statsHistory"`

	// FIFOCompression selects the on-disk codec for spilled
	// batches (expansion, DOMAIN STACK: klauspost/compress + snappy + lz4).
	FIFOCompression string `yaml:"fifoCompression"` // none|snappy|lz4|zstd
}

func (s ServerConfig) StatsPublishIntervalDuration() time.Duration {
	return mustParseOrZero(s.StatsPublishInterval)
}

func (s ServerConfig) StatsResetIntervalDuration() time.Duration {
	return mustParseOrZero(s.StatsResetInterval)
}

func (s ServerConfig) StatsHistoryDuration() time.Duration {
	return mustParseOrZero(s.StatsHistory)
}

func mustParseOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// CollectorConfig is the infoLoggerD section (spec.md §6): the local
// collector daemon's ingest socket and upstream transport-client target.
type CollectorConfig struct {
	RxSocketPath         string `yaml:"rxSocketPath"`
	RxSocketInBufferSize int    `yaml:"rxSocketInBufferSize"`
	RxMaxConnections     int    `yaml:"rxMaxConnections"`
	LogFile              string `yaml:"logFile"`
	LocalLogDirectory    string `yaml:"localLogDirectory"`
	ServerHost           string `yaml:"serverHost"`
	ServerPort           int    `yaml:"serverPort"`
	QueueLength          int    `yaml:"queueLength"`
	MsgQueuePath         string `yaml:"msgQueuePath"`
}

// MetricsConfig is the admin HTTP/metrics surface (expansion).
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

// TracingConfig selects the otel exporter (expansion).
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // jaeger|otlphttp
	Endpoint string `yaml:"endpoint"`
}

// KafkaConfig configures the kafka consumer (expansion).
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	SASLUser     string   `yaml:"saslUser"`
	SASLPassword string   `yaml:"saslPassword"`
	Compression  string   `yaml:"compression"` // none|gzip|snappy|lz4|zstd
}

// Config is the root InfoLogger configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"infoLoggerServer"`
	Collector CollectorConfig `yaml:"infoLoggerD"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// LoadConfig parses the YAML file at path (if non-empty), applies
// compiled-in defaults, then environment-variable overrides, then
// validates the result.
func LoadConfig(path string, logger *logrus.Logger) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.ConfigError("load", fmt.Sprintf("read config file %s: %v", path, err)).Wrap(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ConfigError("load", fmt.Sprintf("parse config file %s: %v", path, err)).Wrap(err)
		}
		logger.WithFields(logrus.Fields{"component": "config", "path": path}).Info("loaded configuration file")
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills every zero-valued field with its spec.md §6
// compiled-in default.
func applyDefaults(c *Config) {
	s := &c.Server
	if s.ServerPortRx == 0 {
		s.ServerPortRx = 6006
	}
	if s.MaxClientsRx == 0 {
		s.MaxClientsRx = 100
	}
	if s.MsgQueueLengthRx == 0 {
		s.MsgQueueLengthRx = 1000
	}
	if s.DBNThreads == 0 {
		s.DBNThreads = 1
	}
	if s.DBDispatchQueueSize == 0 {
		s.DBDispatchQueueSize = 1000
	}
	if s.ServerPortTx == 0 {
		s.ServerPortTx = 6102
	}
	if s.MaxClientsTx == 0 {
		s.MaxClientsTx = 10
	}
	if s.StatsPort == 0 {
		s.StatsPort = 6103
	}
	if s.StatsMaxClients == 0 {
		s.StatsMaxClients = 10
	}
	if s.StatsPublishInterval == "" {
		s.StatsPublishInterval = "5s"
	}
	if s.StatsResetInterval == "" {
		s.StatsResetInterval = "30s"
	}
	if s.StatsHistory == "" {
		s.StatsHistory = "600s"
	}
	if s.FIFOCompression == "" {
		s.FIFOCompression = "none"
	}

	d := &c.Collector
	if d.RxSocketPath == "" {
		d.RxSocketPath = "infoLoggerD"
	}
	if d.RxSocketInBufferSize == 0 {
		d.RxSocketInBufferSize = 64 * 1024
	}
	if d.RxMaxConnections == 0 {
		d.RxMaxConnections = 64
	}
	if d.LocalLogDirectory == "" {
		d.LocalLogDirectory = "/tmp/infoLoggerD"
	}
	if d.ServerHost == "" {
		d.ServerHost = "localhost"
	}
	if d.ServerPort == 0 {
		d.ServerPort = s.ServerPortRx
	}
	if d.QueueLength == 0 {
		d.QueueLength = 1000
	}
	if d.MsgQueuePath == "" {
		d.MsgQueuePath = "/tmp/infoLoggerD/msg.fifo"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "127.0.0.1:9401"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "jaeger"
	}
	if c.Kafka.Compression == "" {
		c.Kafka.Compression = "none"
	}
}

// applyEnvironmentOverrides mirrors the teacher's SSW_* prefix with
// INFOLOGGER_*.
func applyEnvironmentOverrides(c *Config) {
	c.Server.ServerPortRx = getEnvInt("INFOLOGGER_SERVER_PORT_RX", c.Server.ServerPortRx)
	c.Server.ServerPortTx = getEnvInt("INFOLOGGER_SERVER_PORT_TX", c.Server.ServerPortTx)
	c.Server.StatsPort = getEnvInt("INFOLOGGER_STATS_PORT", c.Server.StatsPort)
	c.Server.DBHost = getEnvString("INFOLOGGER_DB_HOST", c.Server.DBHost)
	c.Server.DBUser = getEnvString("INFOLOGGER_DB_USER", c.Server.DBUser)
	c.Server.DBPassword = getEnvString("INFOLOGGER_DB_PASSWORD", c.Server.DBPassword)
	c.Server.DBName = getEnvString("INFOLOGGER_DB_NAME", c.Server.DBName)
	c.Server.DBEnabled = getEnvBool("INFOLOGGER_DB_ENABLED", c.Server.DBEnabled)
	c.Server.FIFOCompression = getEnvString("INFOLOGGER_FIFO_COMPRESSION", c.Server.FIFOCompression)

	c.Collector.RxSocketPath = getEnvString("INFOLOGGER_RX_SOCKET_PATH", c.Collector.RxSocketPath)
	c.Collector.ServerHost = getEnvString("INFOLOGGER_UPSTREAM_HOST", c.Collector.ServerHost)
	c.Collector.ServerPort = getEnvInt("INFOLOGGER_UPSTREAM_PORT", c.Collector.ServerPort)

	c.Metrics.Enabled = getEnvBool("INFOLOGGER_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.ListenAddr = getEnvString("INFOLOGGER_METRICS_ADDR", c.Metrics.ListenAddr)

	c.Tracing.Enabled = getEnvBool("INFOLOGGER_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnvString("INFOLOGGER_TRACING_ENDPOINT", c.Tracing.Endpoint)

	c.Kafka.Enabled = getEnvBool("INFOLOGGER_KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = getEnvStringSlice("INFOLOGGER_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnvString("INFOLOGGER_KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.SASLUser = getEnvString("INFOLOGGER_KAFKA_SASL_USER", c.Kafka.SASLUser)
	c.Kafka.SASLPassword = getEnvString("INFOLOGGER_KAFKA_SASL_PASSWORD", c.Kafka.SASLPassword)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Split(v, ",")
	}
	return defaultValue
}
