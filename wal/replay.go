package wal

import (
	"context"
	"errors"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Checkpoint      uint64
	CheckpointLSN   uint64
	SnapshotRecords int
	Segments        int
	Records         int
	TornSegments    int
}

// Replay feeds the newest checkpoint and then every later segment that
// existed at Open to fn, in LSN order within each file. snapshot is true for
// checkpoint records.
//
// A torn or corrupt segment tail ends that segment with a warning and replay
// continues with the next segment. A corrupt checkpoint aborts replay.
// Replay must run before the first append.
func (w *WAL) Replay(ctx context.Context, fn func(rec *Record, snapshot bool) error) (ReplayStats, error) {
	w.mu.Lock()
	ckpt := w.ckptSeq
	segs := w.replayable()
	active := w.segSeq
	w.mu.Unlock()

	var stats ReplayStats

	if ckpt > 0 {
		stats.Checkpoint = ckpt
		err := readFile(w.fs, w.path(checkpointName(ckpt)), w.opts.Codec, func(rec *Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if rec.Kind == KindCheckpoint {
				stats.CheckpointLSN = rec.LSN
				return nil
			}
			stats.SnapshotRecords++
			return fn(rec, true)
		})
		if err != nil {
			return stats, err
		}
	}

	for _, seq := range segs {
		if seq >= active {
			break
		}
		stats.Segments++
		err := readFile(w.fs, w.path(segmentName(seq)), w.opts.Codec, func(rec *Record) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Records++
			return fn(rec, false)
		})

		var torn *TornError
		switch {
		case errors.As(err, &torn):
			stats.TornSegments++
			w.log.Warn("torn wal tail, skipping rest of segment",
				"segment", torn.File,
				"records", torn.Records,
				"last_lsn", torn.LastLSN,
				"error", torn.Err,
			)
		case err != nil:
			return stats, err
		}
	}

	w.log.Debug("wal replayed",
		"checkpoint", stats.Checkpoint,
		"snapshot_records", stats.SnapshotRecords,
		"segments", stats.Segments,
		"records", stats.Records,
	)
	return stats, nil
}
