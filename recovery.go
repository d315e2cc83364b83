package tinycache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/tinycache/internal/cache"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// replayer rebuilds the databases from the newest checkpoint and the
// segments after it.
//
// Snapshot records carry the LSN of the last mutation of their item. A
// segment record for the same key at or below that LSN is already reflected
// in the snapshot and skipped. Keyed records older than their database's
// creation belong to a dropped incarnation and are skipped as well.
type replayer struct {
	tc      *TinyCache
	ctx     context.Context
	snap    map[model.CacheKey]uint64
	applied int
	skipped int
}

// recover replays the WAL. It runs inside Open before any other goroutine
// can reach the instance.
func (tc *TinyCache) recover(ctx context.Context) error {
	tc.recovering = true
	defer func() { tc.recovering = false }()

	r := &replayer{
		tc:   tc,
		ctx:  ctx,
		snap: make(map[model.CacheKey]uint64),
	}

	stats, err := tc.wal.Replay(ctx, r.apply)
	tc.logger.LogRecovery(ctx, stats, r.applied, err)
	if err != nil {
		return err
	}

	if r.skipped > 0 {
		tc.logger.DebugContext(ctx, "wal records skipped", "records", r.skipped)
	}
	return nil
}

func (r *replayer) apply(rec *wal.Record, snapshot bool) error {
	switch rec.Kind {
	case wal.KindCreateDatabase:
		return r.createDatabase(rec)
	case wal.KindDropDatabase:
		r.dropDatabase(rec)
		return nil
	case wal.KindAddIndex:
		r.addIndex(rec, snapshot)
		return nil
	case wal.KindPublish, wal.KindSubscribe, wal.KindUnsubscribe, wal.KindCheckpoint:
		// Subscribers and in-flight messages are not durable.
		return nil
	}

	db, ok := r.tc.dbs[rec.Database]
	if !ok || (!snapshot && rec.LSN < db.createdLSN) {
		r.skipped++
		return nil
	}

	ck := rec.CacheKey()
	if snapshot {
		r.snap[ck] = rec.LSN
	} else if lsn, ok := r.snap[ck]; ok && rec.LSN <= lsn {
		r.skipped++
		return nil
	}

	if !rec.ExpiresAt.IsZero() && !r.tc.now().Before(rec.ExpiresAt) {
		db.cache.Delete(ck, nil)
		r.skipped++
		return nil
	}

	err := r.applyKeyed(db, ck, rec)

	var tm *model.TypeMismatchError
	switch {
	case err == nil:
		r.applied++
		return nil
	case errors.Is(err, cache.ErrCapacityRejected), errors.Is(err, model.ErrCapacity),
		errors.Is(err, model.ErrEmpty), errors.Is(err, cache.ErrNotFound),
		errors.As(err, &tm):
		// The state diverged, for example through a replay-time eviction.
		r.tc.logger.WarnContext(r.ctx, "wal record not applied",
			"lsn", rec.LSN,
			"kind", rec.Kind.String(),
			"key", ck.String(),
			"error", err,
		)
		r.skipped++
		return nil
	default:
		return fmt.Errorf("lsn %d (%s %s): %w", rec.LSN, rec.Kind, ck, err)
	}
}

func (r *replayer) applyKeyed(db *database, ck model.CacheKey, rec *wal.Record) error {
	tc := r.tc

	switch rec.Kind {
	case wal.KindInsert, wal.KindUpdate, wal.KindIncr:
		v, err := model.DecodeValue(tc.codec, ck.Type, rec.Payload)
		if err != nil {
			return err
		}
		_, err = db.cache.Put(ck, cache.Write{
			Value:     v,
			ExpiresAt: rec.ExpiresAt,
			Commit:    func(it *model.Item) { it.LSN = rec.LSN },
		})
		return err

	case wal.KindDelete, wal.KindEvict:
		db.cache.Delete(ck, nil)
		return nil

	case wal.KindStreamAppend:
		var e model.StreamEntry
		if err := tc.codec.Unmarshal(rec.Payload, &e); err != nil {
			return err
		}
		maxLen := db.cfg.MaxStreamSize
		return r.upsert(db, ck, rec, func() model.Value { return model.NewStream(maxLen) }, func(v model.Value) error {
			s, ok := v.(*model.Stream)
			if !ok {
				return &model.TypeMismatchError{Want: model.TypeStream, Got: v.Type()}
			}
			s.LastID = e.ID - 1
			s.Append(e.Data, e.Timestamp)
			return nil
		})

	case wal.KindQueuePush:
		maxLen := db.cfg.MaxQueueSize
		return r.upsert(db, ck, rec, func() model.Value { return model.NewQueue(maxLen) }, func(v model.Value) error {
			q, ok := v.(*model.Queue)
			if !ok {
				return &model.TypeMismatchError{Want: model.TypeQueue, Got: v.Type()}
			}
			return q.Push(rec.Payload)
		})

	case wal.KindQueuePop:
		return r.upsert(db, ck, rec, nil, func(v model.Value) error {
			q, ok := v.(*model.Queue)
			if !ok {
				return &model.TypeMismatchError{Want: model.TypeQueue, Got: v.Type()}
			}
			_, err := q.Pop()
			return err
		})
	}

	return fmt.Errorf("%w: %s", wal.ErrInvalidKind, rec.Kind)
}

// upsert applies fn to the live value under ck, or to a fresh value from
// init when ck is absent and init is non-nil.
func (r *replayer) upsert(db *database, ck model.CacheKey, rec *wal.Record, init func() model.Value, fn func(v model.Value) error) error {
	err := db.cache.Update(ck, func(it *model.Item) error {
		if err := fn(it.Value); err != nil {
			return err
		}
		it.LSN = rec.LSN
		it.ExpiresAt = rec.ExpiresAt
		return nil
	})
	if !errors.Is(err, cache.ErrNotFound) || init == nil {
		return err
	}

	v := init()
	if err := fn(v); err != nil {
		return err
	}

	_, err = db.cache.Put(ck, cache.Write{
		Value:     v,
		ExpiresAt: rec.ExpiresAt,
		Commit:    func(it *model.Item) { it.LSN = rec.LSN },
	})
	return err
}

func (r *replayer) createDatabase(rec *wal.Record) error {
	tc := r.tc

	if db, ok := tc.dbs[rec.Database]; ok && db.createdLSN >= rec.LSN {
		r.skipped++
		return nil
	}

	var cfg DatabaseConfig
	if err := tc.codec.Unmarshal(rec.Payload, &cfg); err != nil {
		return fmt.Errorf("database %q: %w", rec.Database, err)
	}

	db, err := newDatabase(tc, rec.Database, cfg)
	if err != nil {
		return fmt.Errorf("database %q: %w", rec.Database, err)
	}
	db.createdLSN = rec.LSN
	tc.dbs[rec.Database] = db
	r.applied++

	return nil
}

func (r *replayer) dropDatabase(rec *wal.Record) {
	tc := r.tc

	db, ok := tc.dbs[rec.Database]
	if !ok || db.createdLSN >= rec.LSN {
		r.skipped++
		return
	}

	delete(tc.dbs, rec.Database)
	db.dropped = true
	db.cache.Clear()
	db.docs.Clear()

	for ck := range r.snap {
		if ck.Database == rec.Database {
			delete(r.snap, ck)
		}
	}
	r.applied++
}

func (r *replayer) addIndex(rec *wal.Record, snapshot bool) {
	db, ok := r.tc.dbs[rec.Database]
	if !ok || (!snapshot && rec.LSN < db.createdLSN) {
		r.skipped++
		return
	}

	db.docs.Register(rec.Key)
	if len(rec.Payload) > 0 && rec.Payload[0] == 1 {
		db.backfill(rec.Key)
	}
	r.applied++
}
