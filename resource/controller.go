// Package resource bounds the impact of background maintenance (backup,
// restore) on the serving path: a semaphore admits a fixed number of
// concurrent background jobs and a token bucket caps their IO throughput.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxBackgroundWorkers is the maximum number of concurrent background
	// jobs. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec is the maximum IO throughput for background
	// tasks. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages background concurrency and IO throughput.
// A nil *Controller is valid and enforces nothing.
type Controller struct {
	bgSem     *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireWorker blocks until a background-worker slot is available or ctx
// is canceled.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// ReleaseWorker returns a background-worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO blocks until the limiter grants n bytes of IO budget.
// Requests larger than the bucket are split.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}

	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}

	return nil
}
