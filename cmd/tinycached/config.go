package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/hupe1980/tinycache/codec"
	"github.com/hupe1980/tinycache/distance"
	"github.com/hupe1980/tinycache/wal"
	"github.com/spf13/viper"
)

// Config is the daemon configuration.
type Config struct {
	Service   ServiceConfig             `mapstructure:"service"`
	WAL       WALConfig                 `mapstructure:"wal"`
	Archive   ArchiveConfig             `mapstructure:"archive"`
	Resources ResourceConfig            `mapstructure:"resources"`
	Databases map[string]DatabaseConfig `mapstructure:"databases"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	MetricsAddr        string        `mapstructure:"metrics_addr"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	StatsInterval      time.Duration `mapstructure:"stats_interval"`
	Codec              string        `mapstructure:"codec"`
}

// WALConfig enables write-ahead logging when Dir is set.
type WALConfig struct {
	Dir           string        `mapstructure:"dir"`
	Sync          string        `mapstructure:"sync"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	SegmentSize   int64         `mapstructure:"segment_size"`
	MaxSegments   int           `mapstructure:"max_segments"`
	Compression   string        `mapstructure:"compression"`
}

// ArchiveConfig selects where retired WAL segments are uploaded.
type ArchiveConfig struct {
	// Type is "", "local", "s3" or "minio".
	Type   string `mapstructure:"type"`
	Prefix string `mapstructure:"prefix"`

	// Path is the root directory of a local archive.
	Path string `mapstructure:"path"`

	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`

	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
}

// ResourceConfig bounds background work.
type ResourceConfig struct {
	MaxBackgroundWorkers int64 `mapstructure:"max_background_workers"`
	IOLimitBytesPerSec   int64 `mapstructure:"io_limit_bytes_per_sec"`
}

// DatabaseConfig is the textual form of tinycache.DatabaseConfig.
type DatabaseConfig struct {
	MaxSize            int           `mapstructure:"max_size"`
	ShardCount         int           `mapstructure:"shard_count"`
	EvictionPolicy     string        `mapstructure:"eviction_policy"`
	FrequencyThreshold uint32        `mapstructure:"frequency_threshold"`
	StalenessFilter    bool          `mapstructure:"staleness_filter"`
	TimeThreshold      time.Duration `mapstructure:"time_threshold"`
	Routing            string        `mapstructure:"routing"`
	DefaultTTL         time.Duration `mapstructure:"default_ttl"`
	IndexMode          string        `mapstructure:"index_mode"`
	VectorMetric       string        `mapstructure:"vector_metric"`
	VectorDimension    int           `mapstructure:"vector_dimension"`
	MaxStreamSize      int           `mapstructure:"max_stream_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	MaxSubscribers     int           `mapstructure:"max_subscribers"`
	Indexes            []string      `mapstructure:"indexes"`
}

// Load reads path (if set) and TINYCACHE_* environment variables on top of
// the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TINYCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		cfg.Databases = map[string]DatabaseConfig{"default": defaultDatabase()}
	}

	return &cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.metrics_addr", ":9121")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_format", "text")
	v.SetDefault("service.shutdown_timeout", 10*time.Second)
	v.SetDefault("service.sweep_interval", time.Second)
	v.SetDefault("service.checkpoint_interval", 5*time.Minute)
	v.SetDefault("service.stats_interval", time.Minute)
	v.SetDefault("service.codec", codec.Default.Name())

	// Registered so AutomaticEnv can override them without a config file.
	v.SetDefault("wal.dir", "")
	v.SetDefault("wal.sync", wal.SyncEverySecond.String())
	v.SetDefault("wal.flush_interval", wal.DefaultOptions.FlushInterval)
	v.SetDefault("wal.segment_size", wal.DefaultOptions.SegmentSize)
	v.SetDefault("wal.max_segments", wal.DefaultOptions.MaxSegments)
	v.SetDefault("wal.compression", "none")

	v.SetDefault("archive.type", "")
	v.SetDefault("archive.prefix", "wal/")

	v.SetDefault("resources.max_background_workers", 2)
	v.SetDefault("resources.io_limit_bytes_per_sec", 0)
}

func defaultDatabase() DatabaseConfig {
	d := tinycache.DefaultDatabaseConfig()
	return DatabaseConfig{
		MaxSize:            d.MaxSize,
		ShardCount:         d.ShardCount,
		EvictionPolicy:     d.EvictionPolicy.String(),
		FrequencyThreshold: d.FrequencyThreshold,
		TimeThreshold:      d.TimeThreshold,
		Routing:            d.Routing.String(),
		IndexMode:          d.IndexMode.String(),
		VectorMetric:       d.VectorMetric.String(),
		MaxStreamSize:      d.MaxStreamSize,
		MaxQueueSize:       d.MaxQueueSize,
		MaxSubscribers:     d.MaxSubscribers,
	}
}

// Validate checks every database and the WAL settings.
func (c *Config) Validate() error {
	var errs []error
	for name, db := range c.Databases {
		if _, err := db.Build(); err != nil {
			errs = append(errs, fmt.Errorf("database %q: %w", name, err))
		}
	}
	if _, err := c.WALOptions(); err != nil {
		errs = append(errs, fmt.Errorf("wal: %w", err))
	}
	if _, err := c.Service.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, ok := codec.ByName(c.Service.Codec); !ok {
		errs = append(errs, fmt.Errorf("service: unknown codec %q", c.Service.Codec))
	}
	switch c.Archive.Type {
	case "", "local", "s3", "minio":
	default:
		errs = append(errs, fmt.Errorf("archive: unknown type %q", c.Archive.Type))
	}
	return errors.Join(errs...)
}

// Build converts d into a validated tinycache.DatabaseConfig. Zero numeric
// fields keep the library defaults.
func (d DatabaseConfig) Build() (tinycache.DatabaseConfig, error) {
	cfg := tinycache.DefaultDatabaseConfig()

	if d.MaxSize != 0 {
		cfg.MaxSize = d.MaxSize
	}
	cfg.ShardCount = d.ShardCount
	if d.FrequencyThreshold != 0 {
		cfg.FrequencyThreshold = d.FrequencyThreshold
	}
	cfg.StalenessFilter = d.StalenessFilter
	if d.TimeThreshold != 0 {
		cfg.TimeThreshold = d.TimeThreshold
	}
	cfg.DefaultTTL = d.DefaultTTL
	cfg.VectorDimension = d.VectorDimension
	if d.MaxStreamSize != 0 {
		cfg.MaxStreamSize = d.MaxStreamSize
	}
	if d.MaxQueueSize != 0 {
		cfg.MaxQueueSize = d.MaxQueueSize
	}
	if d.MaxSubscribers != 0 {
		cfg.MaxSubscribers = d.MaxSubscribers
	}

	var err error
	if cfg.EvictionPolicy, err = tinycache.ParseEvictionPolicy(d.EvictionPolicy); err != nil {
		return cfg, err
	}
	if cfg.Routing, err = tinycache.ParseRouting(d.Routing); err != nil {
		return cfg, err
	}
	if cfg.IndexMode, err = tinycache.ParseIndexMode(d.IndexMode); err != nil {
		return cfg, err
	}
	if d.VectorMetric != "" {
		if cfg.VectorMetric, err = distance.ParseMetric(d.VectorMetric); err != nil {
			return cfg, fmt.Errorf("%w: %w", tinycache.ErrInvalidConfig, err)
		}
	}

	return cfg, cfg.Validate()
}

// WALOptions returns the WAL option mutators, or nil when the WAL is
// disabled.
func (c *Config) WALOptions() ([]func(*wal.Options), error) {
	if c.WAL.Dir == "" {
		return nil, nil
	}

	sync, err := wal.ParseSyncPolicy(c.WAL.Sync)
	if err != nil {
		return nil, err
	}
	comp, err := wal.ParseCompression(c.WAL.Compression)
	if err != nil {
		return nil, err
	}

	return []func(*wal.Options){func(o *wal.Options) {
		o.SyncPolicy = sync
		o.Compression = comp
		if c.WAL.FlushInterval > 0 {
			o.FlushInterval = c.WAL.FlushInterval
		}
		if c.WAL.SegmentSize > 0 {
			o.SegmentSize = c.WAL.SegmentSize
		}
		if c.WAL.MaxSegments > 0 {
			o.MaxSegments = c.WAL.MaxSegments
		}
		if c.Archive.Prefix != "" {
			o.ArchivePrefix = c.Archive.Prefix
		}
	}}, nil
}

// Level parses the configured log level.
func (s ServiceConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("service: log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}
