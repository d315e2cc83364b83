package tinycache

import (
	"context"
	"time"

	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// Checkpoint compacts the WAL: it writes the live state of every database to
// a checkpoint file and archives and removes the segments it covers.
// Without WithWAL it returns ErrWALDisabled.
//
// Writes continue while the checkpoint runs; recovery reconciles the
// snapshot with later segments by LSN.
func (tc *TinyCache) Checkpoint(ctx context.Context) (stats wal.CheckpointStats, err error) {
	if tc.closed.Load() {
		return wal.CheckpointStats{}, ErrClosed
	}
	if tc.wal == nil {
		return wal.CheckpointStats{}, ErrWALDisabled
	}

	start := time.Now()
	defer func() {
		tc.metrics.RecordCheckpoint(stats.Records, time.Since(start), err)
		tc.logger.LogCheckpoint(ctx, stats, err)
	}()

	stats, err = tc.wal.Checkpoint(ctx, func(sw *wal.SnapshotWriter) error {
		return tc.writeSnapshot(ctx, sw)
	})
	return stats, translateError(err)
}

// writeSnapshot dumps every database: its creation record, its registered
// fields, then one insert record per item carrying the item's own LSN.
func (tc *TinyCache) writeSnapshot(ctx context.Context, sw *wal.SnapshotWriter) error {
	for _, db := range tc.snapshotDatabases() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tc.writeDatabase(sw, db); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TinyCache) writeDatabase(sw *wal.SnapshotWriter, db *database) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.dropped {
		return nil
	}

	cfg, err := tc.codec.Marshal(db.cfg)
	if err != nil {
		return err
	}

	now := tc.now()

	err = sw.Write(&wal.Record{
		LSN:       db.createdLSN,
		Kind:      wal.KindCreateDatabase,
		Database:  db.name,
		Payload:   cfg,
		Timestamp: now,
	})
	if err != nil {
		return err
	}

	for _, field := range db.docs.Registered() {
		err := sw.Write(&wal.Record{
			LSN:       sw.LSN(),
			Kind:      wal.KindAddIndex,
			Database:  db.name,
			Key:       field,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
	}

	// Values are encoded under the shard lock and written after the scan, so
	// no shard is held across file IO.
	var recs []*wal.Record
	db.cache.Range(func(key model.CacheKey, it *model.Item) bool {
		if it.Expired(now) {
			return true
		}
		var payload []byte
		payload, err = model.EncodeValue(tc.codec, it.Value)
		if err != nil {
			return false
		}
		recs = append(recs, &wal.Record{
			LSN:       it.LSN,
			Kind:      wal.KindInsert,
			Database:  key.Database,
			Key:       key.Key,
			Type:      key.Type,
			Payload:   payload,
			ExpiresAt: it.ExpiresAt,
			Timestamp: now,
		})
		return true
	})
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if err := sw.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
