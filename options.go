package tinycache

import (
	"log/slog"
	"time"

	"github.com/hupe1980/tinycache/codec"
	"github.com/hupe1980/tinycache/resource"
	"github.com/hupe1980/tinycache/wal"
)

type options struct {
	codec              codec.Codec
	metricsCollector   MetricsCollector
	logger             *Logger
	walDir             string
	walOptions         []func(*wal.Options)
	resource           *resource.Controller
	now                func() time.Time
	sweepInterval      time.Duration
	checkpointInterval time.Duration
	databases          map[string]DatabaseConfig
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used for WAL payloads and checkpoints.
// The codec name is recorded in every WAL file; reopening with a different
// codec fails.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithWAL configures write-ahead logging in dir. Open replays the log before
// returning.
//
// Example:
//
//	tc, _ := tinycache.Open(ctx,
//	    tinycache.WithWAL("./wal", func(o *wal.Options) {
//	        o.SyncPolicy = wal.SyncAlways
//	        o.Compression = wal.CompressionZstd
//	    }),
//	)
func WithWAL(dir string, optFns ...func(*wal.Options)) Option {
	return func(o *options) {
		o.walDir = dir
		o.walOptions = optFns
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController bounds background work (checkpoints, sweeps,
// archive uploads) and archive IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resource = rc
	}
}

// WithClock replaces time.Now for expiry and timestamps. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSweepInterval starts a background expiry sweep over all databases.
// 0 disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

// WithCheckpointInterval starts periodic WAL checkpoints. 0 disables the
// timer; checkpoints are still triggered when the WAL exceeds its segment
// limit.
func WithCheckpointInterval(d time.Duration) Option {
	return func(o *options) {
		o.checkpointInterval = d
	}
}

// WithDatabase creates the database at Open unless recovery restored it.
func WithDatabase(name string, cfg DatabaseConfig) Option {
	return func(o *options) {
		if o.databases == nil {
			o.databases = make(map[string]DatabaseConfig)
		}
		o.databases[name] = cfg
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
