package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits for background work.
type Config struct {
	// MaxBackgroundWorkers is the maximum number of concurrent background jobs
	// (checkpoints, expiry sweeps, archive uploads).
	// If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum IO throughput for background tasks.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Stats is a point-in-time view of a Controller.
type Stats struct {
	BackgroundRunning  int64
	BackgroundLimit    int64
	IOBytes            int64
	IOLimitBytesPerSec int64
}

// Controller bounds background concurrency and background IO throughput.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	bgSem     *semaphore.Weighted
	bgRunning atomic.Int64

	ioLimiter *rate.Limiter
	ioBurst   int
	ioBytes   atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioBurst = int(cfg.IOLimitBytesPerSec)
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), c.ioBurst)
	}

	return c
}

// AcquireBackground reserves a background worker slot.
// Blocks if all slots are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.bgSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.bgRunning.Add(1)
	return nil
}

// TryAcquireBackground reserves a background worker slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	if !c.bgSem.TryAcquire(1) {
		return false
	}
	c.bgRunning.Add(1)
	return true
}

// ReleaseBackground releases a background worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgRunning.Add(-1)
	c.bgSem.Release(1)
}

// RunBackground runs fn while holding a background slot.
func (c *Controller) RunBackground(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.AcquireBackground(ctx); err != nil {
		return err
	}
	defer c.ReleaseBackground()
	return fn(ctx)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than one second of budget are split into burst-sized waits.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	c.ioBytes.Add(int64(bytes))
	if c.ioLimiter == nil {
		return nil
	}
	for bytes > 0 {
		n := min(bytes, c.ioBurst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// Stats returns current usage.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		BackgroundRunning:  c.bgRunning.Load(),
		BackgroundLimit:    c.cfg.MaxBackgroundWorkers,
		IOBytes:            c.ioBytes.Load(),
		IOLimitBytesPerSec: c.cfg.IOLimitBytesPerSec,
	}
}
