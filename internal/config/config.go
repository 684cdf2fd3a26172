// Package config defines all configuration for the storage and real-time
// synchronization core. Config is loaded from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via EXCHANGED_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DataDir     string           `mapstructure:"data_dir"`
	Instruments []string         `mapstructure:"instruments"` // opened at startup; the subscriber drops events for any other instrument
	WAL         WALConfig        `mapstructure:"wal"`
	Memtable   MemtableConfig   `mapstructure:"memtable"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Diffsync   DiffsyncConfig  `mapstructure:"diffsync"`
	API        APIConfig        `mapstructure:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// WALConfig controls segment sizing and durability (spec §4.1, §6.4).
type WALConfig struct {
	FsyncMode       string        `mapstructure:"fsync_mode"` // "group" or "per_record"
	GroupBatchSize  int           `mapstructure:"group_batch_size"`
	GroupTimeout    time.Duration `mapstructure:"group_timeout"`
	SegmentMaxBytes int64         `mapstructure:"segment_max_bytes"`
}

// MemtableConfig controls the active-generation freeze threshold (spec §6.4).
type MemtableConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// CompactionConfig controls the leveled compactor's thresholds (spec §4.4).
type CompactionConfig struct {
	L0MaxFiles      int     `mapstructure:"l0_max_files"`
	LevelSizeRatio  int     `mapstructure:"level_size_ratio"`
	BaseSizeBytes   int64   `mapstructure:"base_size_bytes"`
	TargetFileBytes int64   `mapstructure:"target_file_bytes"`
	Interval        time.Duration `mapstructure:"interval"`
}

// CheckpointConfig controls the checkpoint manager's schedule (spec §4.5).
type CheckpointConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Dir      string        `mapstructure:"dir"`
}

// SubscriberConfig controls the decoupling subscriber's batching (spec §4.7).
type SubscriberConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// BrokerConfig controls the notification broker's queues and dedup window
// (spec §4.8).
type BrokerConfig struct {
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	DedupCacheSize   int           `mapstructure:"dedup_cache_size"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
}

// GatewayConfig controls per-session push batching and idle reaping (spec §4.9).
type GatewayConfig struct {
	BatchWindow    time.Duration `mapstructure:"batch_window"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// DiffsyncConfig controls the differential sync peek protocol (spec §4.10).
type DiffsyncConfig struct {
	PeekTimeout time.Duration `mapstructure:"peek_timeout"`
}

// APIConfig controls the HTTP/WebSocket listener (spec §6.2).
type APIConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsEnabled bool     `mapstructure:"metrics_enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXCHANGED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dir := os.Getenv("EXCHANGED_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if addr := os.Getenv("EXCHANGED_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.WAL.GroupBatchSize <= 0 {
		c.WAL.GroupBatchSize = 200
	}
	if c.WAL.GroupTimeout <= 0 {
		c.WAL.GroupTimeout = 10 * time.Millisecond
	}
	if c.WAL.SegmentMaxBytes <= 0 {
		c.WAL.SegmentMaxBytes = 64 << 20
	}
	if c.Memtable.MaxBytes <= 0 {
		c.Memtable.MaxBytes = 64 << 20
	}
	if c.Compaction.L0MaxFiles <= 0 {
		c.Compaction.L0MaxFiles = 4
	}
	if c.Compaction.LevelSizeRatio <= 0 {
		c.Compaction.LevelSizeRatio = 10
	}
	if c.Compaction.BaseSizeBytes <= 0 {
		c.Compaction.BaseSizeBytes = 64 << 20
	}
	if c.Compaction.TargetFileBytes <= 0 {
		c.Compaction.TargetFileBytes = 64 << 20
	}
	if c.Compaction.Interval <= 0 {
		c.Compaction.Interval = 30 * time.Second
	}
	if c.Checkpoint.Interval <= 0 {
		c.Checkpoint.Interval = time.Hour
	}
	if c.Subscriber.BatchSize <= 0 {
		c.Subscriber.BatchSize = 100
	}
	if c.Subscriber.BatchTimeout <= 0 {
		c.Subscriber.BatchTimeout = 10 * time.Millisecond
	}
	if c.Broker.DedupCacheSize <= 0 {
		c.Broker.DedupCacheSize = 10_000
	}
	if c.Broker.DispatchInterval <= 0 {
		c.Broker.DispatchInterval = 100 * time.Microsecond
	}
	if c.Gateway.BatchWindow <= 0 {
		c.Gateway.BatchWindow = 100 * time.Millisecond
	}
	if c.Gateway.ReapInterval <= 0 {
		c.Gateway.ReapInterval = 30 * time.Second
	}
	if c.Gateway.IdleTimeout <= 0 {
		c.Gateway.IdleTimeout = 300 * time.Second
	}
	if c.Diffsync.PeekTimeout <= 0 {
		c.Diffsync.PeekTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.WAL.FsyncMode != "group" && c.WAL.FsyncMode != "per_record" {
		return fmt.Errorf("wal.fsync_mode must be one of: group, per_record")
	}
	if c.Compaction.L0MaxFiles <= 0 {
		return fmt.Errorf("compaction.l0_max_files must be > 0")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	return nil
}
