package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hupe1980/tinycache/internal/fs"
	"github.com/hupe1980/tinycache/resource"
	"golang.org/x/sync/errgroup"
)

// ErrArchive wraps failures to upload retired segments. The affected
// segments stay on disk and are retried by the next checkpoint.
var ErrArchive = errors.New("wal archive failed")

// SnapshotWriter receives the live state during a checkpoint.
type SnapshotWriter struct {
	seg     *segmentWriter
	lsn     uint64
	scratch []byte
}

// Write appends rec to the snapshot. rec.LSN must be the LSN of the last
// logged mutation of the item it describes; it is kept as is.
func (s *SnapshotWriter) Write(rec *Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	buf, err := rec.AppendTo(s.scratch[:0])
	if err != nil {
		return err
	}
	s.scratch = buf
	return s.seg.write(buf)
}

// LSN returns the high-water mark the snapshot covers: every record with a
// lower or equal LSN lives in a retired segment.
func (s *SnapshotWriter) LSN() uint64 {
	return s.lsn
}

// Records returns the number of records written so far, including the
// leading checkpoint marker.
func (s *SnapshotWriter) Records() int {
	return s.seg.records
}

// CheckpointStats summarizes a checkpoint.
type CheckpointStats struct {
	Seq      uint64
	LSN      uint64
	Records  int
	Retired  int
	Archived int
	Duration time.Duration
}

// Checkpoint compacts the log. It rotates to a new segment N, lets write
// dump the live state into ckpt-N.log (written to a temporary file, synced
// and renamed into place), then archives and deletes segments older than N
// together with older checkpoints.
//
// write may run concurrently with appends; replay reconciles the two by
// per-key LSN.
func (w *WAL) Checkpoint(ctx context.Context, write func(sw *SnapshotWriter) error) (CheckpointStats, error) {
	w.ckptMu.Lock()
	defer w.ckptMu.Unlock()

	start := time.Now()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return CheckpointStats{}, ErrClosed
	}
	if w.lastErr != nil {
		err := w.lastErr
		w.mu.Unlock()
		return CheckpointStats{}, err
	}
	if err := w.rotateLocked(true); err != nil {
		w.mu.Unlock()
		return CheckpointStats{}, err
	}
	seq, high := w.segSeq, w.lsn
	w.mu.Unlock()

	stats := CheckpointStats{Seq: seq, LSN: high}

	records, err := w.writeCheckpoint(ctx, seq, high, write)
	if err != nil {
		return stats, fmt.Errorf("checkpoint %d: %w", seq, err)
	}
	stats.Records = records

	w.mu.Lock()
	w.ckptSeq = seq
	w.ckptLSN = high
	var retire []uint64
	for _, s := range w.segments {
		if s < seq {
			retire = append(retire, s)
		}
	}
	w.mu.Unlock()

	archived, err := w.archive(ctx, retire)
	stats.Archived = archived
	if err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}

	stats.Retired, err = w.retire(retire, seq)
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}

	w.log.Debug("wal checkpoint",
		"checkpoint", seq,
		"lsn", high,
		"records", records,
		"retired", stats.Retired,
		"archived", stats.Archived,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (w *WAL) writeCheckpoint(ctx context.Context, seq, high uint64, write func(sw *SnapshotWriter) error) (int, error) {
	final := w.path(checkpointName(seq))
	tmp := final + tmpSuffix

	seg, err := createSegment(w.fs, tmp, fileHeader{
		Compression: w.opts.Compression,
		Codec:       w.opts.Codec,
	})
	if err != nil {
		return 0, err
	}

	// Snapshot bytes are charged to the IO budget; appends are not.
	seg.cw.w = resource.NewRateLimitedWriter(ctx, seg.cw.w, w.opts.Resource)

	abort := func(err error) (int, error) {
		_ = seg.close(false)
		_ = w.fs.Remove(tmp)
		return 0, err
	}

	sw := &SnapshotWriter{seg: seg, lsn: high}
	if err := sw.Write(&Record{Kind: KindCheckpoint, LSN: high}); err != nil {
		return abort(err)
	}
	if err := write(sw); err != nil {
		return abort(err)
	}

	records := seg.records - 1
	if err := seg.close(true); err != nil {
		_ = w.fs.Remove(tmp)
		return 0, err
	}
	if err := w.fs.Rename(tmp, final); err != nil {
		_ = w.fs.Remove(tmp)
		return 0, err
	}
	return records, nil
}

// archive uploads the given segments to the archive store, if any.
func (w *WAL) archive(ctx context.Context, seqs []uint64) (int, error) {
	if w.opts.Archive == nil || len(seqs) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.ArchiveConcurrency)
	for _, seq := range seqs {
		g.Go(func() error {
			return w.archiveSegment(gctx, seq)
		})
	}
	if err := g.Wait(); err != nil {
		w.log.Warn("wal archive failed, keeping segments", "segments", len(seqs), "error", err)
		return 0, fmt.Errorf("%w: %w", ErrArchive, err)
	}
	return len(seqs), nil
}

func (w *WAL) archiveSegment(ctx context.Context, seq uint64) error {
	name := segmentName(seq)

	f, err := w.fs.OpenFile(w.path(name), os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(resource.NewRateLimitedReader(ctx, f, w.opts.Resource))
	_ = f.Close()
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = w.opts.ArchiveMaxElapsed

	return backoff.RetryNotify(func() error {
		return w.opts.Archive.Put(ctx, w.opts.ArchivePrefix+name, data)
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		w.log.Warn("wal archive upload failed, retrying", "segment", name, "backoff", d, "error", err)
	})
}

// retire deletes the given segments and every checkpoint older than keep.
// It returns the number of segments removed.
func (w *WAL) retire(seqs []uint64, keep uint64) (int, error) {
	var errs []error
	removed := make([]uint64, 0, len(seqs))
	for _, seq := range seqs {
		if err := w.fs.Remove(w.path(segmentName(seq))); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, seq)
	}

	names, err := fs.Glob(w.fs, w.opts.Dir, checkpointPrefix, fileSuffix)
	if err != nil {
		errs = append(errs, err)
	}
	for _, name := range names {
		if seq, ok := parseSeq(name, checkpointPrefix); ok && seq < keep {
			if err := w.fs.Remove(w.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}

	w.mu.Lock()
	w.segments = slices.DeleteFunc(w.segments, func(s uint64) bool {
		_, found := slices.BinarySearch(removed, s)
		return found
	})
	w.mu.Unlock()

	return len(removed), errors.Join(errs...)
}

// Segments returns the sequence numbers of the live segments.
func (w *WAL) Segments() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.segments)
}

// ArchiveName returns the blob name a segment is archived under.
func (w *WAL) ArchiveName(seq uint64) string {
	return w.opts.ArchivePrefix + segmentName(seq)
}
