package wal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hupe1980/tinycache/blobstore"
	"github.com/hupe1980/tinycache/internal/fs"
	"github.com/hupe1980/tinycache/resource"
)

// SyncPolicy controls when appended records reach stable storage.
type SyncPolicy int

const (
	// SyncEverySecond flushes and fdatasyncs from a background goroutine every
	// FlushInterval. A crash loses at most one interval of writes.
	SyncEverySecond SyncPolicy = iota

	// SyncAlways makes every mutation wait for a group-commit fdatasync.
	// Concurrent writers share one sync.
	SyncAlways

	// SyncNone flushes to the operating system every FlushInterval and never
	// syncs. Writes survive a process crash but not a power loss.
	SyncNone
)

// String returns the policy name.
func (p SyncPolicy) String() string {
	switch p {
	case SyncEverySecond:
		return "everysec"
	case SyncAlways:
		return "always"
	case SyncNone:
		return "none"
	default:
		return fmt.Sprintf("SyncPolicy(%d)", int(p))
	}
}

// ParseSyncPolicy parses "always", "everysec" or "none".
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch strings.ToLower(s) {
	case "everysec", "every_second", "":
		return SyncEverySecond, nil
	case "always":
		return SyncAlways, nil
	case "none", "no":
		return SyncNone, nil
	default:
		return 0, fmt.Errorf("unknown sync policy %q", s)
	}
}

// Compression selects the stream compression of segment and checkpoint files.
type Compression uint8

const (
	// CompressionNone writes records uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses the record stream with zstd.
	CompressionZstd
	// CompressionLZ4 compresses the record stream with lz4 frames.
	CompressionLZ4
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "zstd" or "lz4".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// Options contains configuration for the WAL.
type Options struct {
	// Dir is the directory holding segment and checkpoint files.
	Dir string

	// FS is the filesystem used for all file access. Defaults to the local
	// filesystem; tests inject fs.FaultyFS.
	FS fs.FileSystem

	// SyncPolicy controls fsync behavior. Default: SyncEverySecond.
	SyncPolicy SyncPolicy

	// FlushInterval is the background flush period for SyncEverySecond and
	// SyncNone. Default: 1s.
	FlushInterval time.Duration

	// SegmentSize is the number of record bytes (before compression) after
	// which the active segment is rotated. Default: 16MiB.
	SegmentSize int64

	// MaxSegments is the live segment count above which OnRotate asks the
	// owner for a checkpoint. Default: 10.
	MaxSegments int

	// Compression of the record stream. Default: CompressionNone.
	Compression Compression

	// Codec is the name of the value codec recorded in every file header.
	// Replay refuses files written with a different codec.
	Codec string

	// OnRotate is called with the live segment count after every rotation.
	// It runs under the WAL lock and must not call back into the WAL.
	OnRotate func(segments int)

	// Logger receives warnings about torn tails and sync failures.
	Logger *slog.Logger

	// Archive receives retired segments before they are deleted. Optional.
	Archive blobstore.BlobStore

	// ArchivePrefix is prepended to archived segment names. Default: "wal/".
	ArchivePrefix string

	// ArchiveConcurrency bounds parallel uploads per checkpoint. Default: 4.
	ArchiveConcurrency int

	// ArchiveMaxElapsed bounds the retry time of one upload. Default: 30s.
	ArchiveMaxElapsed time.Duration

	// Resource throttles archive upload and checkpoint IO. Optional.
	Resource *resource.Controller
}

// DefaultOptions returns default WAL options.
var DefaultOptions = Options{
	Dir:                ".",
	SyncPolicy:         SyncEverySecond,
	FlushInterval:      time.Second,
	SegmentSize:        16 << 20,
	MaxSegments:        10,
	Compression:        CompressionNone,
	Codec:              "go-json",
	ArchivePrefix:      "wal/",
	ArchiveConcurrency: 4,
	ArchiveMaxElapsed:  30 * time.Second,
}

func (o *Options) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("%w: empty directory", ErrInvalidOptions)
	}
	if o.SyncPolicy < SyncEverySecond || o.SyncPolicy > SyncNone {
		return fmt.Errorf("%w: sync policy %d", ErrInvalidOptions, o.SyncPolicy)
	}
	if o.Compression > CompressionLZ4 {
		return fmt.Errorf("%w: compression %d", ErrInvalidOptions, o.Compression)
	}
	if o.SegmentSize <= 0 {
		return fmt.Errorf("%w: segment size %d", ErrInvalidOptions, o.SegmentSize)
	}
	if o.SyncPolicy != SyncAlways && o.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval %s", ErrInvalidOptions, o.FlushInterval)
	}
	if len(o.Codec) > 255 {
		return fmt.Errorf("%w: codec name too long", ErrInvalidOptions)
	}
	if o.ArchiveConcurrency <= 0 {
		o.ArchiveConcurrency = 1
	}
	return nil
}
