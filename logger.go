package tinycache

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// Logger wraps slog.Logger with helpers that emit cache operations under
// consistent field names (database, key, type, op).
type Logger struct {
	*slog.Logger
}

// NewLogger returns a Logger writing to handler. A nil handler logs text at
// info level to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger returns a Logger emitting JSON lines to stderr at level and
// above.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger returns a Logger emitting key=value text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

func keyAttrs(key model.CacheKey) []any {
	return []any{"database", key.Database, "key", key.Key, "type", key.Type.String()}
}

// LogInsert logs an insert or update.
func (l *Logger) LogInsert(ctx context.Context, key model.CacheKey, err error) {
	if err != nil {
		l.DebugContext(ctx, "insert failed", append(keyAttrs(key), "error", err)...)
		return
	}
	l.DebugContext(ctx, "insert completed", keyAttrs(key)...)
}

// LogDelete logs a delete.
func (l *Logger) LogDelete(ctx context.Context, key model.CacheKey, err error) {
	if err != nil {
		l.DebugContext(ctx, "delete failed", append(keyAttrs(key), "error", err)...)
		return
	}
	l.DebugContext(ctx, "delete completed", keyAttrs(key)...)
}

// LogQuery logs a document or vector query.
func (l *Logger) LogQuery(ctx context.Context, database, kind string, results int, err error) {
	if err != nil {
		l.DebugContext(ctx, "query failed", "database", database, "kind", kind, "error", err)
		return
	}
	l.DebugContext(ctx, "query completed", "database", database, "kind", kind, "results", results)
}

// LogDurabilityDegraded logs a mutation that could not be handed to the WAL.
func (l *Logger) LogDurabilityDegraded(ctx context.Context, op string, key model.CacheKey, err error) {
	l.WarnContext(ctx, "durability degraded, mutation kept in memory only",
		append(keyAttrs(key), "op", op, "error", err)...)
}

// LogIndexInconsistency logs a violated index invariant. The error is never
// surfaced to callers.
func (l *Logger) LogIndexInconsistency(ctx context.Context, key model.CacheKey, detail string) {
	l.ErrorContext(ctx, "index inconsistency",
		append(keyAttrs(key), "detail", detail, "error", ErrIndexInconsistency)...)
}

// LogCheckpoint logs the outcome of a WAL checkpoint.
func (l *Logger) LogCheckpoint(ctx context.Context, stats wal.CheckpointStats, err error) {
	if err != nil {
		l.WarnContext(ctx, "checkpoint failed", "checkpoint", stats.Seq, "error", err)
		return
	}
	l.InfoContext(ctx, "checkpoint completed",
		"checkpoint", stats.Seq,
		"lsn", stats.LSN,
		"records", stats.Records,
		"retired", stats.Retired,
		"archived", stats.Archived,
		"duration", stats.Duration,
	)
}

// LogRecovery logs the outcome of WAL replay at Open.
func (l *Logger) LogRecovery(ctx context.Context, stats wal.ReplayStats, applied int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "wal recovery failed", "applied", applied, "error", err)
		return
	}
	l.InfoContext(ctx, "wal recovery completed",
		"checkpoint", stats.Checkpoint,
		"snapshot_records", stats.SnapshotRecords,
		"segments", stats.Segments,
		"torn_segments", stats.TornSegments,
		"applied", applied,
	)
}
