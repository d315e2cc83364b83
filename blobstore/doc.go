// Package blobstore provides storage for archived write-ahead log segments.
//
// A BlobStore holds write-once blobs addressed by name. The WAL uploads each
// retired segment before deleting it locally, so an operator can rebuild
// history from the archive.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local file system
//   - MemoryStore: in-memory, for tests
//   - s3.Store: Amazon S3 via the AWS SDK v2 upload manager
//   - minio.Store: MinIO and other S3-compatible servers
//
// Implementations must be safe for concurrent use.
package blobstore
