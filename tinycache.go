package tinycache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/tinycache/codec"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/resource"
	"github.com/hupe1980/tinycache/wal"
)

// TinyCache is a process-scoped multi-model cache: a set of named databases
// sharing one optional write-ahead log.
//
// Open replays the log and starts the background workers; Close stops them
// and flushes the log. All methods are safe for concurrent use.
type TinyCache struct {
	mu  sync.RWMutex
	dbs map[string]*database

	codec   codec.Codec
	metrics MetricsCollector
	logger  *Logger
	now     func() time.Time
	rc      *resource.Controller

	wal         *wal.WAL
	maxSegments int
	recovering  bool
	ckptCh      chan struct{}

	sweepInterval      time.Duration
	checkpointInterval time.Duration

	bgCtx    context.Context
	bgCancel context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// Open creates an instance. With WithWAL the log is opened and replayed
// before Open returns, so the returned instance reflects every durable
// mutation.
func Open(ctx context.Context, optFns ...Option) (*TinyCache, error) {
	opts := applyOptions(optFns)

	tc := &TinyCache{
		dbs:                make(map[string]*database),
		codec:              opts.codec,
		metrics:            opts.metricsCollector,
		logger:             opts.logger,
		now:                opts.now,
		rc:                 opts.resource,
		ckptCh:             make(chan struct{}, 1),
		sweepInterval:      opts.sweepInterval,
		checkpointInterval: opts.checkpointInterval,
		stopCh:             make(chan struct{}),
	}
	tc.bgCtx, tc.bgCancel = context.WithCancel(context.Background())

	if opts.walDir != "" {
		walOptFns := append([]func(*wal.Options){
			func(o *wal.Options) {
				o.Dir = opts.walDir
				o.Codec = tc.codec.Name()
				o.Logger = tc.logger.Logger
				o.Resource = opts.resource
				o.OnRotate = tc.onRotate
			},
		}, opts.walOptions...)

		w, err := wal.Open(walOptFns...)
		if err != nil {
			tc.bgCancel()
			return nil, fmt.Errorf("tinycache: failed to open WAL: %w", err)
		}
		tc.wal = w
		tc.maxSegments = w.Options().MaxSegments

		if err := tc.recover(ctx); err != nil {
			tc.bgCancel()
			_ = w.Close()
			return nil, fmt.Errorf("tinycache: recovery failed: %w", err)
		}
	}

	names := make([]string, 0, len(opts.databases))
	for name := range opts.databases {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		err := tc.CreateDatabase(ctx, name, opts.databases[name])
		if err != nil && !errors.Is(err, ErrDatabaseExists) {
			_ = tc.Close(ctx)
			return nil, err
		}
	}

	tc.startWorkers()

	return tc, nil
}

// CreateDatabase creates a database.
func (tc *TinyCache) CreateDatabase(ctx context.Context, name string, cfg DatabaseConfig) error {
	if tc.closed.Load() {
		return ErrClosed
	}

	db, err := newDatabase(tc, name, cfg)
	if err != nil {
		return err
	}

	payload, err := tc.codec.Marshal(cfg)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if _, ok := tc.dbs[name]; ok {
		return fmt.Errorf("%w: %q", ErrDatabaseExists, name)
	}

	lsn, werr := tc.logAsync(&wal.Record{
		Kind:     wal.KindCreateDatabase,
		Database: name,
		Payload:  payload,
	})
	db.createdLSN = lsn
	tc.dbs[name] = db

	tc.logger.InfoContext(ctx, "database created",
		"database", name,
		"max_size", cfg.MaxSize,
		"shards", db.cache.ShardCount(),
		"policy", cfg.EvictionPolicy.String(),
	)

	return tc.durable(ctx, "create_database", model.CacheKey{Database: name}, lsn, werr)
}

// DropDatabase removes a database and everything stored in it. Operations in
// flight on the database complete first.
func (tc *TinyCache) DropDatabase(ctx context.Context, name string) error {
	if tc.closed.Load() {
		return ErrClosed
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	db, ok := tc.dbs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrDatabaseNotFound, name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	lsn, werr := tc.logAsync(&wal.Record{
		Kind:     wal.KindDropDatabase,
		Database: name,
	})

	delete(tc.dbs, name)
	db.dropped = true
	db.cache.Clear()
	db.docs.Clear()

	tc.logger.InfoContext(ctx, "database dropped", "database", name)

	return tc.durable(ctx, "drop_database", model.CacheKey{Database: name}, lsn, werr)
}

// Databases returns the database names in order.
func (tc *TinyCache) Databases() []string {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	names := make([]string, 0, len(tc.dbs))
	for name := range tc.dbs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Config returns the configuration of a database.
func (tc *TinyCache) Config(name string) (DatabaseConfig, error) {
	db, release, err := tc.acquire(name)
	if err != nil {
		return DatabaseConfig{}, err
	}
	defer release()

	return db.cfg, nil
}

// acquire returns the named database held shared until release is called.
func (tc *TinyCache) acquire(name string) (*database, func(), error) {
	if tc.closed.Load() {
		return nil, nil, ErrClosed
	}

	tc.mu.RLock()
	db, ok := tc.dbs[name]
	tc.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrDatabaseNotFound, name)
	}

	db.mu.RLock()
	if db.dropped {
		db.mu.RUnlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrDatabaseNotFound, name)
	}

	return db, db.mu.RUnlock, nil
}

// snapshotDatabases returns the live databases ordered by name.
func (tc *TinyCache) snapshotDatabases() []*database {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	out := make([]*database, 0, len(tc.dbs))
	for _, db := range tc.dbs {
		out = append(out, db)
	}
	slices.SortFunc(out, func(a, b *database) int {
		if a.name < b.name {
			return -1
		}
		if a.name > b.name {
			return 1
		}
		return 0
	})
	return out
}

// logAsync buffers rec in the WAL. It returns LSN 0 without a WAL and while
// recovering.
func (tc *TinyCache) logAsync(rec *wal.Record) (uint64, error) {
	if tc.wal == nil || tc.recovering {
		return 0, nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = tc.now()
	}
	return tc.wal.AppendAsync(rec)
}

// durable finishes a logged mutation after all locks are released. Under
// wal.SyncAlways it waits for the record to reach stable storage. A log
// failure is reported as ErrDurabilityDegraded; the mutation stays applied.
func (tc *TinyCache) durable(ctx context.Context, op string, key model.CacheKey, lsn uint64, err error) error {
	if err == nil && lsn > 0 && tc.wal.Options().SyncPolicy == wal.SyncAlways {
		err = tc.wal.WaitFor(lsn)
	}
	if err == nil {
		return nil
	}
	return tc.degraded(ctx, op, key, err)
}

func (tc *TinyCache) degraded(ctx context.Context, op string, key model.CacheKey, err error) error {
	tc.metrics.RecordDurabilityDegraded(key.Database)
	tc.logger.LogDurabilityDegraded(ctx, op, key, err)
	return fmt.Errorf("%w: %s: %w", ErrDurabilityDegraded, op, err)
}

// onRotate runs under the WAL lock; it only signals the checkpoint worker.
func (tc *TinyCache) onRotate(segments int) {
	if tc.maxSegments <= 0 || segments <= tc.maxSegments {
		return
	}
	select {
	case tc.ckptCh <- struct{}{}:
	default:
	}
}

// WAL returns the write-ahead log, or nil when durability is off.
func (tc *TinyCache) WAL() *wal.WAL {
	return tc.wal
}
