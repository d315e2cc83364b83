// Package wal provides the segmented write-ahead log behind a cache
// instance.
//
// Every mutation is framed as a Record ([CRC32C][Kind][LSN][Len][payload])
// and appended to the active segment file wal-<seq>.log. Segments start with
// a small uncompressed header naming the stream compression (none, zstd or
// lz4) and the value codec.
//
// # Durability
//
//   - SyncAlways: appenders wait for a shared group-commit fdatasync
//   - SyncEverySecond: a background goroutine flushes and syncs each interval
//   - SyncNone: records are flushed to the OS but never synced
//
// The first write or sync failure is latched; later appends return it.
//
// # Checkpoints
//
// Checkpoint rotates to segment N, writes the live state to ckpt-N.log and
// retires older segments, archiving them to a blobstore.BlobStore first when
// one is configured. Replay reads the newest checkpoint and the segments
// after it; a torn segment tail is logged and skipped.
package wal
