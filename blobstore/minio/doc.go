// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible servers (Ceph, SeaweedFS,
// Garage) without pulling in the AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	archive := minioblob.NewStore(client, "backups", "tinycache/")
//	c, err := tinycache.Open(ctx, tinycache.WithWAL(dir, func(o *wal.Options) {
//	    o.Archive = archive
//	}))
package minio
