package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Topograph TopographConfig `yaml:"topograph"`
}

// TopographConfig is the project configuration.
type TopographConfig struct {
	Store       StoreConfig       `yaml:"store"`
	Input       InputConfig       `yaml:"input"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Output      OutputConfig      `yaml:"output"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StoreConfig selects and tunes the graph store backend.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // memory|postgres
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	RetryAttempts   uint          `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	OpTimeout       time.Duration `yaml:"op_timeout"`
}

// InputConfig controls the input readers.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	EventsKey    string        `yaml:"events_key"`
	EdgesKey     string        `yaml:"edges_key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RejectsPath   string        `yaml:"rejects_path"`
}

// SuppressionConfig controls the suppression engine.
type SuppressionConfig struct {
	Enabled        bool              `yaml:"enabled"`
	PingEventClass string            `yaml:"ping_event_class"`
	Layers         []string          `yaml:"layers"`
	SettingsPath   string            `yaml:"settings_path"`
	Status         StatusStoreConfig `yaml:"status"`
	TTL            TTLConfig         `yaml:"ttl"`
}

// StatusStoreConfig selects where device statuses persist.
type StatusStoreConfig struct {
	Driver    string        `yaml:"driver"` // memory|redis
	KeyPrefix string        `yaml:"key_prefix"`
	KeyTTL    time.Duration `yaml:"key_ttl"`
}

// TTLConfig holds suppression cache lifetimes.
type TTLConfig struct {
	Status    time.Duration `yaml:"status"`
	Settings  time.Duration `yaml:"settings"`
	Gateways  time.Duration `yaml:"gateways"`
	Neighbors time.Duration `yaml:"neighbors"`
	Paths     time.Duration `yaml:"paths"`
}

// OutputConfig controls where processed events go.
type OutputConfig struct {
	Mode       string                 `yaml:"mode"` // file|http|clickhouse
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	t := &c.Topograph

	if t.Store.Driver == "" {
		t.Store.Driver = "memory"
	}
	if t.Store.RetryAttempts == 0 {
		t.Store.RetryAttempts = 3
	}
	if t.Store.RetryDelay <= 0 {
		t.Store.RetryDelay = 100 * time.Millisecond
	}
	if t.Store.OpTimeout <= 0 {
		t.Store.OpTimeout = 10 * time.Second
	}

	if t.Input.Redis.Addr == "" {
		t.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if t.Input.Redis.EventsKey == "" {
		t.Input.Redis.EventsKey = "topograph:events"
	}
	if t.Input.Redis.EdgesKey == "" {
		t.Input.Redis.EdgesKey = "topograph:edges"
	}
	if t.Input.Redis.BlockTimeout == 0 {
		t.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if t.Pipeline.Workers <= 0 {
		t.Pipeline.Workers = 8
	}
	if t.Pipeline.BatchSize <= 0 {
		t.Pipeline.BatchSize = 1000
	}
	if t.Pipeline.FlushInterval <= 0 {
		t.Pipeline.FlushInterval = 2 * time.Second
	}

	if t.Suppression.PingEventClass == "" {
		t.Suppression.PingEventClass = "/Status/Ping"
	}
	if len(t.Suppression.Layers) == 0 {
		t.Suppression.Layers = []string{"layer2"}
	}
	if t.Suppression.Status.Driver == "" {
		t.Suppression.Status.Driver = "memory"
	}
	if t.Suppression.Status.KeyPrefix == "" {
		t.Suppression.Status.KeyPrefix = "topograph:status"
	}
	if t.Suppression.TTL.Status <= 0 {
		t.Suppression.TTL.Status = 50 * time.Second
	}
	if t.Suppression.TTL.Settings <= 0 {
		t.Suppression.TTL.Settings = 600 * time.Second
	}
	if t.Suppression.TTL.Gateways <= 0 {
		t.Suppression.TTL.Gateways = 600 * time.Second
	}
	if t.Suppression.TTL.Neighbors <= 0 {
		t.Suppression.TTL.Neighbors = 3300 * time.Second
	}
	if t.Suppression.TTL.Paths <= 0 {
		t.Suppression.TTL.Paths = 3300 * time.Second
	}

	if t.Output.Mode == "" {
		t.Output.Mode = "file"
	}
	if t.Output.File.Path == "" {
		t.Output.File.Path = "output/events.jsonl"
	}
	if t.Output.ClickHouse.Database == "" {
		t.Output.ClickHouse.Database = "topograph"
	}
	if t.Output.ClickHouse.Table == "" {
		t.Output.ClickHouse.Table = "events"
	}

	if t.Metrics.Addr == "" {
		t.Metrics.Addr = ":9108"
	}
	if t.Logging.Level == "" {
		t.Logging.Level = "info"
	}
}
