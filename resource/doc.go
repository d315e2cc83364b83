// Package resource bounds the background work of a cache instance.
//
// A Controller hands out a fixed number of background slots (checkpoints,
// expiry sweeps, archive uploads) and throttles background IO with a token
// bucket, so maintenance never starves foreground operations.
package resource
