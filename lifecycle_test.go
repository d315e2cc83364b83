package tinycache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/tinycache"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/resource"
	"github.com/hupe1980/tinycache/testutil"
	"github.com/hupe1980/tinycache/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestNoGoroutineLeaks verifies that the WAL syncer, the sweeper and the
// checkpointer stop on Close.
func TestNoGoroutineLeaks(t *testing.T) {
	tests := []struct {
		name   string
		optFns []tinycache.Option
	}{
		{
			name: "memory only",
		},
		{
			name: "background sweep",
			optFns: []tinycache.Option{
				tinycache.WithSweepInterval(5 * time.Millisecond),
			},
		},
		{
			name: "wal group commit with checkpoints",
			optFns: []tinycache.Option{
				tinycache.WithWAL(t.TempDir(), func(o *wal.Options) {
					o.SyncPolicy = wal.SyncAlways
				}),
				tinycache.WithCheckpointInterval(5 * time.Millisecond),
			},
		},
		{
			name: "wal background flush",
			optFns: []tinycache.Option{
				tinycache.WithWAL(t.TempDir(), func(o *wal.Options) {
					o.SyncPolicy = wal.SyncEverySecond
					o.FlushInterval = 5 * time.Millisecond
				}),
				tinycache.WithSweepInterval(5 * time.Millisecond),
				tinycache.WithResourceController(resource.NewController(resource.Config{MaxBackgroundWorkers: 1})),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			ctx := context.Background()
			opts := append(tt.optFns, tinycache.WithDatabase(testDB, tinycache.DefaultDatabaseConfig()))
			tc, err := tinycache.Open(ctx, opts...)
			require.NoError(t, err)

			for i := range 50 {
				require.NoError(t, tc.Insert(ctx, testDB, fmt.Sprintf("k%d", i), model.TypeKeyValue, model.NewString("v"), time.Millisecond))
			}
			time.Sleep(20 * time.Millisecond)

			require.NoError(t, tc.Close(ctx))
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	tc, err := tinycache.Open(ctx,
		tinycache.WithWAL(t.TempDir()),
		tinycache.WithDatabase(testDB, tinycache.DefaultDatabaseConfig()),
	)
	require.NoError(t, err)

	for i := range 10 {
		require.NoError(t, tc.Insert(ctx, testDB, fmt.Sprintf("k%d", i), model.TypeKeyValue, model.NewString("v"), 0))
	}

	assert.NoError(t, tc.Close(ctx), "first close should succeed")
	assert.NoError(t, tc.Close(ctx), "second close should be idempotent")
	assert.NoError(t, tc.Close(ctx), "third close should be idempotent")
}

func TestOperationsAfterClose(t *testing.T) {
	ctx := context.Background()
	tc, err := tinycache.Open(ctx, tinycache.WithDatabase(testDB, tinycache.DefaultDatabaseConfig()))
	require.NoError(t, err)
	require.NoError(t, tc.Close(ctx))

	err = tc.Insert(ctx, testDB, "k", model.TypeKeyValue, model.NewString("v"), 0)
	assert.ErrorIs(t, err, tinycache.ErrClosed)

	_, err = tc.Get(ctx, testDB, "k", model.TypeKeyValue)
	assert.ErrorIs(t, err, tinycache.ErrClosed)

	assert.ErrorIs(t, tc.CreateDatabase(ctx, "x", tinycache.DefaultDatabaseConfig()), tinycache.ErrClosed)
	assert.ErrorIs(t, tc.DropDatabase(ctx, testDB), tinycache.ErrClosed)

	_, err = tc.Checkpoint(ctx)
	assert.ErrorIs(t, err, tinycache.ErrClosed)
}

// TestCloseWithActiveOperations verifies graceful shutdown during active
// operations: every write either completes or fails with ErrClosed.
func TestCloseWithActiveOperations(t *testing.T) {
	ctx := context.Background()
	tc, err := tinycache.Open(ctx,
		tinycache.WithWAL(t.TempDir(), func(o *wal.Options) {
			o.SyncPolicy = wal.SyncAlways
		}),
		tinycache.WithDatabase(testDB, tinycache.DefaultDatabaseConfig()),
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 100 {
				err := tc.Insert(ctx, testDB, fmt.Sprintf("k%d-%d", w, i), model.TypeKeyValue, model.NewString("v"), 0)
				if err != nil {
					assert.True(t, errors.Is(err, tinycache.ErrClosed), "unexpected error: %v", err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(w)
	}

	time.Sleep(20 * time.Millisecond)

	assert.NoError(t, tc.Close(ctx), "close should succeed even with active operations")

	wg.Wait()
}

func TestBackgroundSweep(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Unix(1_700_000_000, 0))
	tc := openTest(t, nil,
		tinycache.WithClock(clock.Now),
		tinycache.WithSweepInterval(5*time.Millisecond),
	)

	for i := range 10 {
		require.NoError(t, tc.Insert(ctx, testDB, fmt.Sprintf("k%d", i), model.TypeKeyValue, model.NewString("v"), time.Second))
	}

	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		stats, err := tc.Stats(testDB)
		return err == nil && stats.Len == 0
	}, 5*time.Second, 5*time.Millisecond)
}
