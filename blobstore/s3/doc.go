// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	archive, err := s3.New(ctx, "my-bucket", func(o *s3.Options) {
//	    o.Prefix = "tinycache/"
//	    o.Region = "us-east-1"
//	})
//
// # Features
//
//   - Uploads through the SDK upload manager (multipart above PartSize)
//   - CRC32C checksums on upload
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
