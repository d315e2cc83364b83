package tinycache

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/tinycache/model"
)

// DatabaseStats is a point-in-time view of one database.
type DatabaseStats struct {
	Name           string
	Policy         EvictionPolicy
	Routing        Routing
	MaxSize        int
	ShardCount     int
	ShardCapacity  int
	Len            int
	ShardLoads     []int
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	Expirations    uint64
	IndexedFields  []string
	IndexedDocs    int
	Postings       int
	Vectors        int
	VectorDim      int
	RegisteredOnly bool
}

// HitRate returns hits / (hits + misses), or 0 without lookups.
func (s DatabaseStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the counters of a database.
func (tc *TinyCache) Stats(database string) (DatabaseStats, error) {
	db, release, err := tc.acquire(database)
	if err != nil {
		return DatabaseStats{}, err
	}
	defer release()

	return db.stats(), nil
}

// AllStats returns the counters of every database ordered by name.
func (tc *TinyCache) AllStats() []DatabaseStats {
	var out []DatabaseStats
	for _, db := range tc.snapshotDatabases() {
		db.mu.RLock()
		if !db.dropped {
			out = append(out, db.stats())
		}
		db.mu.RUnlock()
	}
	return out
}

func (db *database) stats() DatabaseStats {
	cs := db.cache.Stats()

	fields := db.docs.Fields()
	if db.cfg.IndexMode == IndexRegisteredFields {
		fields = db.docs.Registered()
	}

	return DatabaseStats{
		Name:           db.name,
		Policy:         cs.Policy,
		Routing:        cs.Routing,
		MaxSize:        cs.MaxSize,
		ShardCount:     cs.ShardCount,
		ShardCapacity:  cs.ShardCapacity,
		Len:            cs.Len,
		ShardLoads:     cs.ShardLoads,
		Hits:           cs.Hits,
		Misses:         cs.Misses,
		Evictions:      cs.Evictions,
		Expirations:    cs.Expirations,
		IndexedFields:  fields,
		IndexedDocs:    db.docs.Keys(),
		Postings:       db.docs.Len(),
		Vectors:        db.vectors.Len(),
		VectorDim:      db.vectors.Dimension(),
		RegisteredOnly: db.cfg.IndexMode == IndexRegisteredFields,
	}
}

// Scan visits the live items of a database shard by shard; each shard is
// observed consistently. Items are copies. fn must not call back into the
// same database. Returning false stops the scan.
func (tc *TinyCache) Scan(ctx context.Context, database string, fn func(key string, it model.Item) bool) error {
	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	db.cache.Range(func(key model.CacheKey, it *model.Item) bool {
		if err = ctx.Err(); err != nil {
			return false
		}
		cp := *it
		cp.Value = it.Value.Clone()
		return fn(key.Key, cp)
	})

	return err
}

// SweepExpired removes the expired items of a database and returns how many
// were removed.
func (tc *TinyCache) SweepExpired(ctx context.Context, database string) (int, error) {
	db, release, err := tc.acquire(database)
	if err != nil {
		return 0, err
	}
	defer release()

	n := db.cache.SweepExpired()
	if n > 0 {
		tc.logger.DebugContext(ctx, "expired items swept", "database", database, "removed", n)
	}
	return n, nil
}

// SweepAll sweeps every database and returns the total removed.
func (tc *TinyCache) SweepAll(ctx context.Context) int {
	total := 0
	for _, name := range tc.Databases() {
		if ctx.Err() != nil {
			break
		}
		n, err := tc.SweepExpired(ctx, name)
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

func (tc *TinyCache) startWorkers() {
	if tc.sweepInterval > 0 {
		tc.wg.Add(1)
		go tc.runSweeper()
	}
	if tc.wal != nil {
		tc.wg.Add(1)
		go tc.runCheckpointer()
	}
}

func (tc *TinyCache) runSweeper() {
	defer tc.wg.Done()

	ticker := time.NewTicker(tc.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tc.stopCh:
			return
		case <-ticker.C:
			_ = tc.rc.RunBackground(tc.bgCtx, func(ctx context.Context) error {
				tc.SweepAll(ctx)
				return nil
			})
		}
	}
}

// runCheckpointer checkpoints on the configured interval and whenever the
// WAL outgrows its segment limit.
func (tc *TinyCache) runCheckpointer() {
	defer tc.wg.Done()

	var tick <-chan time.Time
	if tc.checkpointInterval > 0 {
		ticker := time.NewTicker(tc.checkpointInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tc.stopCh:
			return
		case <-tick:
		case <-tc.ckptCh:
		}

		err := tc.rc.RunBackground(tc.bgCtx, func(ctx context.Context) error {
			_, err := tc.Checkpoint(ctx)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			tc.logger.Warn("background checkpoint failed", "error", err)
		}
	}
}

// Close stops the background workers, waits for operations in flight and
// closes the WAL, flushing buffered records. Calling Close more than once is
// a no-op. If ctx ends before the workers stopped, Close returns its error
// and leaves the WAL open.
func (tc *TinyCache) Close(ctx context.Context) error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}

	tc.bgCancel()
	close(tc.stopCh)

	done := make(chan struct{})
	go func() {
		tc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// New operations fail with ErrClosed; wait for the ones already running.
	for _, db := range tc.snapshotDatabases() {
		db.mu.Lock()
		db.mu.Unlock() //nolint:staticcheck // drains readers
	}

	if tc.wal == nil {
		return nil
	}

	err := tc.wal.Close()
	tc.logger.InfoContext(ctx, "tinycache closed", "last_lsn", tc.wal.LastLSN(), "error", err)
	return err
}
