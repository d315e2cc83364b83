package wal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/tinycache/internal/fs"
)

var (
	// ErrClosed is returned by operations on a closed WAL.
	ErrClosed = os.ErrClosed

	// ErrInvalidOptions is returned by Open for unusable options.
	ErrInvalidOptions = errors.New("invalid WAL options")
)

// WAL is a segmented write-ahead log.
//
// Appends only buffer records; a background goroutine (or, under
// SyncAlways, a group-commit syncer) moves them to stable storage. The first
// sync or write failure is latched: every later append returns it.
type WAL struct {
	mu   sync.Mutex
	opts Options
	fs   fs.FileSystem
	log  *slog.Logger

	seg      *segmentWriter
	segSeq   uint64   // sequence number of the active segment
	segments []uint64 // live segments, ascending, including the active one
	ckptSeq  uint64   // newest checkpoint, 0 if none
	ckptLSN  uint64   // LSN high-water mark of the newest checkpoint

	lsn       uint64 // last assigned LSN
	flushed   uint64 // last LSN handed to the OS
	syncedLSN uint64 // last LSN known to be on stable storage
	syncing   bool
	scratch   []byte

	syncCond *sync.Cond // wakes the group-commit syncer
	doneCond *sync.Cond // signals waiters that a sync completed
	closed   bool       // no further appends
	drained  bool       // final sync done
	lastErr  error

	stopCh chan struct{}
	wg     sync.WaitGroup

	ckptMu sync.Mutex // serializes checkpoints
}

// Open opens the log in opts.Dir, recovers the LSN high-water mark from the
// files present and starts a fresh segment. Existing files are left for
// Replay.
func Open(optFns ...func(o *Options)) (*WAL, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := opts.FS.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{
		opts:   opts,
		fs:     opts.FS,
		log:    opts.Logger.With("component", "wal"),
		stopCh: make(chan struct{}),
	}
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	if err := w.load(); err != nil {
		return nil, err
	}

	if err := w.openSegmentLocked(w.segSeq + 1); err != nil {
		return nil, err
	}
	w.flushed = w.lsn
	w.syncedLSN = w.lsn

	w.wg.Add(1)
	if opts.SyncPolicy == SyncAlways {
		go w.runSyncer()
	} else {
		go w.runFlusher()
	}

	return w, nil
}

// load discovers segments and checkpoints and scans them for the highest LSN.
func (w *WAL) load() error {
	tmps, err := fs.Glob(w.fs, w.opts.Dir, "", tmpSuffix)
	if err != nil {
		return err
	}
	for _, name := range tmps {
		if err := w.fs.Remove(filepath.Join(w.opts.Dir, name)); err != nil {
			return err
		}
	}

	names, err := fs.Glob(w.fs, w.opts.Dir, checkpointPrefix, fileSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if seq, ok := parseSeq(name, checkpointPrefix); ok && seq > w.ckptSeq {
			w.ckptSeq = seq
		}
	}

	names, err = fs.Glob(w.fs, w.opts.Dir, segmentPrefix, fileSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if seq, ok := parseSeq(name, segmentPrefix); ok {
			w.segments = append(w.segments, seq)
		}
	}
	slices.Sort(w.segments)

	w.segSeq = w.ckptSeq
	if n := len(w.segments); n > 0 && w.segments[n-1] > w.segSeq {
		w.segSeq = w.segments[n-1]
	}

	track := func(rec *Record) error {
		if rec.LSN > w.lsn {
			w.lsn = rec.LSN
		}
		if rec.Kind == KindCheckpoint {
			w.ckptLSN = rec.LSN
		}
		return nil
	}

	var torn *TornError
	if w.ckptSeq > 0 {
		if err := readFile(w.fs, w.path(checkpointName(w.ckptSeq)), w.opts.Codec, track); err != nil {
			return fmt.Errorf("failed to scan checkpoint: %w", err)
		}
	}
	for _, seq := range w.replayable() {
		err := readFile(w.fs, w.path(segmentName(seq)), w.opts.Codec, track)
		if err != nil && !errors.As(err, &torn) {
			return fmt.Errorf("failed to scan segment %d: %w", seq, err)
		}
	}
	return nil
}

// replayable returns the segments covered by replay: those at or after the
// newest checkpoint.
func (w *WAL) replayable() []uint64 {
	i, _ := slices.BinarySearch(w.segments, w.ckptSeq)
	return slices.Clone(w.segments[i:])
}

func (w *WAL) path(name string) string {
	return filepath.Join(w.opts.Dir, name)
}

func (w *WAL) openSegmentLocked(seq uint64) error {
	seg, err := createSegment(w.fs, w.path(segmentName(seq)), fileHeader{
		Compression: w.opts.Compression,
		Codec:       w.opts.Codec,
	})
	if err != nil {
		return fmt.Errorf("failed to create segment %d: %w", seq, err)
	}
	w.seg = seg
	w.segSeq = seq
	w.segments = append(w.segments, seq)
	return nil
}

// fail latches err and wakes every waiter. Caller must hold w.mu.
func (w *WAL) fail(err error) error {
	if w.lastErr == nil {
		w.lastErr = err
		w.log.Warn("wal degraded", "error", err)
	}
	w.doneCond.Broadcast()
	return w.lastErr
}

// runSyncer performs group commits under SyncAlways: every waiter that
// arrives while a sync is in flight is covered by the next one.
func (w *WAL) runSyncer() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for w.lsn <= w.syncedLSN && !w.closed && w.lastErr == nil {
			w.syncCond.Wait()
		}
		if w.closed || w.lastErr != nil {
			return
		}
		_ = w.syncLocked(true)
	}
}

// runFlusher flushes (and, under SyncEverySecond, syncs) on a timer.
func (w *WAL) runFlusher() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			if !w.closed && w.lastErr == nil {
				_ = w.syncLocked(w.opts.SyncPolicy == SyncEverySecond)
			}
			w.mu.Unlock()
		}
	}
}

// syncLocked flushes buffered records and optionally fdatasyncs the active
// segment. The fdatasync runs without w.mu so appends continue meanwhile.
// Caller must hold w.mu.
func (w *WAL) syncLocked(datasync bool) error {
	for w.syncing {
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}

	target := w.lsn
	if target <= w.syncedLSN || (!datasync && target <= w.flushed) {
		return nil
	}
	if err := w.seg.flush(); err != nil {
		return w.fail(fmt.Errorf("wal flush failed: %w", err))
	}
	w.flushed = target
	if !datasync {
		return nil
	}

	w.syncing = true
	f := w.seg.file
	w.mu.Unlock()
	err := fs.Datasync(f)
	w.mu.Lock()
	w.syncing = false

	if err != nil {
		return w.fail(fmt.Errorf("wal sync failed: %w", err))
	}
	if target > w.syncedLSN {
		w.syncedLSN = target
	}
	w.doneCond.Broadcast()
	return nil
}

// Append writes a record and, under SyncAlways, waits until it is durable.
func (w *WAL) Append(rec *Record) (uint64, error) {
	lsn, err := w.AppendAsync(rec)
	if err != nil {
		return 0, err
	}
	if w.opts.SyncPolicy == SyncAlways {
		return lsn, w.WaitFor(lsn)
	}
	return lsn, nil
}

// AppendAsync assigns the next LSN to rec and buffers it. It never waits for
// the disk, so callers may hold their own locks.
func (w *WAL) AppendAsync(rec *Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.lastErr != nil {
		return 0, w.lastErr
	}

	w.lsn++
	rec.LSN = w.lsn
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	buf, err := rec.AppendTo(w.scratch[:0])
	if err != nil {
		// Nothing was written; give the LSN back.
		w.lsn--
		return 0, err
	}
	w.scratch = buf

	if err := w.seg.write(buf); err != nil {
		return 0, w.fail(fmt.Errorf("wal write failed: %w", err))
	}

	if w.seg.written >= w.opts.SegmentSize {
		if err := w.rotateLocked(false); err != nil {
			return 0, err
		}
	}

	if w.opts.SyncPolicy == SyncAlways {
		w.syncCond.Signal()
	}
	return rec.LSN, nil
}

// WaitFor blocks until the record with the given LSN is durable.
func (w *WAL) WaitFor(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.syncedLSN < lsn && !w.drained && w.lastErr == nil {
		w.syncCond.Signal()
		w.doneCond.Wait()
	}
	if lsn <= w.syncedLSN {
		return nil
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	return ErrClosed
}

// Sync flushes and fdatasyncs everything appended so far, regardless of the
// sync policy.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	return w.syncLocked(true)
}

// Rotate closes the active segment and starts a new one. It returns the
// sequence number of the new segment.
func (w *WAL) Rotate() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if w.lastErr != nil {
		return 0, w.lastErr
	}
	if err := w.rotateLocked(true); err != nil {
		return 0, err
	}
	return w.segSeq, nil
}

// rotateLocked seals the active segment and opens the next one. Unless
// force is set it rotates only while the segment is still over SegmentSize,
// since a concurrent append may have rotated while this call waited.
// Caller must hold w.mu.
func (w *WAL) rotateLocked(force bool) error {
	for w.syncing {
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.closed && w.drained {
		return ErrClosed
	}
	if !force && w.seg.written < w.opts.SegmentSize {
		return nil
	}

	if err := w.seg.close(w.opts.SyncPolicy != SyncNone); err != nil {
		return w.fail(fmt.Errorf("failed to seal segment %d: %w", w.segSeq, err))
	}
	w.flushed = w.lsn
	if w.opts.SyncPolicy != SyncNone {
		w.syncedLSN = w.lsn
		w.doneCond.Broadcast()
	}

	if err := w.openSegmentLocked(w.segSeq + 1); err != nil {
		return w.fail(err)
	}

	w.log.Debug("wal rotated", "segment", w.segSeq, "segments", len(w.segments))
	if w.opts.OnRotate != nil {
		w.opts.OnRotate(len(w.segments))
	}
	return nil
}

// Close flushes and syncs buffered records, stops the background goroutine
// and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	close(w.stopCh)
	w.syncCond.Broadcast()

	var err error
	if w.lastErr == nil {
		_ = w.syncLocked(true)
		err = w.seg.close(w.lastErr == nil)
	} else {
		err = w.seg.close(false)
	}
	w.drained = true
	w.doneCond.Broadcast()
	lastErr := w.lastErr
	w.mu.Unlock()

	w.wg.Wait()

	return errors.Join(lastErr, err)
}

// Stats is a point-in-time view of the log.
type Stats struct {
	LastLSN       uint64
	SyncedLSN     uint64
	Segment       uint64
	Segments      int
	SegmentBytes  int64
	Checkpoint    uint64
	CheckpointLSN uint64
	Err           error
}

// Stats returns current log positions.
func (w *WAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		LastLSN:       w.lsn,
		SyncedLSN:     w.syncedLSN,
		Segment:       w.segSeq,
		Segments:      len(w.segments),
		SegmentBytes:  w.seg.cw.n,
		Checkpoint:    w.ckptSeq,
		CheckpointLSN: w.ckptLSN,
		Err:           w.lastErr,
	}
}

// LastLSN returns the last assigned LSN.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsn
}

// Err returns the latched failure, if any.
func (w *WAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Options returns the effective options.
func (w *WAL) Options() Options {
	return w.opts
}
