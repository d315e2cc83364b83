// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: open, remove, rename, stat, mkdir and readdir
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects write, sync, close and rename errors
//
// [Datasync] flushes file data with fdatasync on Linux and falls back to
// Sync elsewhere or for files without a descriptor.
//
// Filesystem calls take no context.Context: they are short and not
// interruptible at the syscall level. Slow remote storage goes through
// package blobstore, which does take a context.
package fs
