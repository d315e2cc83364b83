package wal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/tinycache/blobstore"
	"github.com/hupe1980/tinycache/internal/fs"
	"github.com/hupe1980/tinycache/resource"
)

// ErrRestoreConflict is returned when the restore target already holds WAL
// files.
var ErrRestoreConflict = errors.New("wal restore target is not empty")

// Restore downloads the segments archived under opts.ArchivePrefix into
// opts.Dir, which must not contain WAL files. A later Open on the directory
// replays them, reproducing the state as of the newest archived segment.
// It returns the number of restored segments.
func Restore(ctx context.Context, optFns ...func(o *Options)) (int, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Archive == nil {
		return 0, fmt.Errorf("%w: no archive store", ErrInvalidOptions)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := opts.FS.MkdirAll(opts.Dir, 0o750); err != nil {
		return 0, err
	}
	for _, prefix := range []string{segmentPrefix, checkpointPrefix} {
		existing, err := fs.Glob(opts.FS, opts.Dir, prefix, fileSuffix)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			return 0, fmt.Errorf("%w: %s", ErrRestoreConflict, opts.Dir)
		}
	}

	names, err := opts.Archive.List(ctx, opts.ArchivePrefix)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, name := range names {
		base := strings.TrimPrefix(name, opts.ArchivePrefix)
		if _, ok := parseSeq(base, segmentPrefix); !ok {
			continue
		}

		data, err := blobstore.ReadAll(ctx, opts.Archive, name)
		if err != nil {
			return restored, fmt.Errorf("restore %s: %w", name, err)
		}
		if err := writeFileAtomic(ctx, opts.FS, filepath.Join(opts.Dir, base), data, opts.Resource); err != nil {
			return restored, fmt.Errorf("restore %s: %w", name, err)
		}
		restored++
	}

	opts.Logger.Info("wal restored from archive", "dir", opts.Dir, "segments", restored)
	return restored, nil
}

func writeFileAtomic(ctx context.Context, fsys fs.FileSystem, path string, data []byte, rc *resource.Controller) error {
	tmp := path + tmpSuffix
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}

	_, err = resource.NewRateLimitedWriter(ctx, f, rc).Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return fsys.Rename(tmp, path)
}
