package resource

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Concurrency(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	require.NoError(t, c.AcquireBackground(context.Background()))
	require.NoError(t, c.AcquireBackground(context.Background()))
	assert.Equal(t, int64(2), c.Stats().BackgroundRunning)

	assert.False(t, c.TryAcquireBackground())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireBackground(ctx), context.DeadlineExceeded)

	c.ReleaseBackground()
	assert.True(t, c.TryAcquireBackground())

	c.ReleaseBackground()
	c.ReleaseBackground()
	assert.Equal(t, int64(0), c.Stats().BackgroundRunning)
}

func TestController_DefaultWorkers(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, int64(1), c.Stats().BackgroundLimit)
}

func TestController_RunBackgroundBoundsConcurrency(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 2})

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.RunBackground(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireBackground(context.Background()))
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20))
	assert.Equal(t, Stats{}, c.Stats())
}

func TestController_IOLimit(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 100})

	// The burst covers the first second of budget.
	require.NoError(t, c.AcquireIO(context.Background(), 100))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.AcquireIO(ctx, 100))
}

func TestController_IOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})

	// 1500 bytes exceed the burst and are split into two waits.
	require.NoError(t, c.AcquireIO(context.Background(), 1500))
	assert.Equal(t, int64(1500), c.Stats().IOBytes)
}

func TestRateLimitedReaderWriter(t *testing.T) {
	c := NewController(Config{})

	r := NewRateLimitedReader(context.Background(), strings.NewReader("segment bytes"), c)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "segment bytes", string(data))

	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, c)
	_, err = w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, "segment bytes", buf.String())

	assert.Equal(t, int64(2*len(data)), c.Stats().IOBytes)
}
