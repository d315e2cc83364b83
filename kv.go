package tinycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/tinycache/internal/cache"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// Insert stores value under (key, typ), replacing a live value. ttl 0 applies
// the database DefaultTTL; NoExpiry disables expiry.
//
// A full shard evicts according to the eviction policy, or rejects the key
// with ErrCapacityRejected under NoEviction. A value whose type differs from
// typ yields ErrTypeMismatch.
func (tc *TinyCache) Insert(ctx context.Context, database, key string, typ model.EntryType, value model.Value, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() {
		tc.metrics.RecordInsert(database, time.Since(start), err)
	}()

	_, err = tc.store(ctx, wal.KindInsert, database, key, typ, value, ttl)
	return err
}

// Update replaces the value of a live key and returns the previous value.
// An absent or expired key yields ErrNotFound.
func (tc *TinyCache) Update(ctx context.Context, database, key string, typ model.EntryType, value model.Value, ttl time.Duration) (old model.Value, err error) {
	start := time.Now()
	defer func() {
		tc.metrics.RecordInsert(database, time.Since(start), err)
	}()

	return tc.store(ctx, wal.KindUpdate, database, key, typ, value, ttl)
}

func (tc *TinyCache) store(ctx context.Context, kind wal.Kind, database, key string, typ model.EntryType, value model.Value, ttl time.Duration) (model.Value, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil value", ErrTypeMismatch)
	}
	if value.Type() != typ {
		return nil, translateError(&model.TypeMismatchError{Want: typ, Got: value.Type()})
	}

	db, release, err := tc.acquire(database)
	if err != nil {
		return nil, err
	}
	defer release()

	ck := db.key(key, typ)
	v := value.Clone()

	var payload []byte
	if tc.wal != nil {
		if payload, err = model.EncodeValue(tc.codec, v); err != nil {
			return nil, err
		}
	}

	expires := db.expiry(tc.now(), ttl)

	var (
		lsn  uint64
		werr error
	)
	old, err := db.cache.Put(ck, cache.Write{
		Value:     v,
		ExpiresAt: expires,
		MustExist: kind == wal.KindUpdate,
		Commit: func(it *model.Item) {
			lsn, werr = tc.logAsync(&wal.Record{
				Kind:      kind,
				Database:  ck.Database,
				Key:       ck.Key,
				Type:      ck.Type,
				Payload:   payload,
				ExpiresAt: expires,
			})
			if werr == nil {
				it.LSN = lsn
			}
		},
	})
	if kind == wal.KindInsert {
		tc.logger.LogInsert(ctx, ck, err)
	}
	if err != nil {
		return nil, translateError(err)
	}

	return old, tc.durable(ctx, kind.String(), ck, lsn, werr)
}

// Get returns a copy of the value stored under (key, typ) and records an
// access. An expired item is removed and reported as ErrNotFound.
func (tc *TinyCache) Get(ctx context.Context, database, key string, typ model.EntryType) (model.Value, error) {
	start := time.Now()

	db, release, err := tc.acquire(database)
	if err != nil {
		return nil, err
	}
	defer release()

	it, ok := db.cache.Get(db.key(key, typ))
	tc.metrics.RecordGet(database, ok, time.Since(start))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, db.key(key, typ))
	}
	return it.Value, nil
}

// GetItem is like Get but also returns the bookkeeping of the item.
func (tc *TinyCache) GetItem(ctx context.Context, database, key string, typ model.EntryType) (model.Item, error) {
	db, release, err := tc.acquire(database)
	if err != nil {
		return model.Item{}, err
	}
	defer release()

	it, ok := db.cache.Get(db.key(key, typ))
	if !ok {
		return model.Item{}, fmt.Errorf("%w: %s", ErrNotFound, db.key(key, typ))
	}
	return it, nil
}

// Delete removes (key, typ) and its index entries.
func (tc *TinyCache) Delete(ctx context.Context, database, key string, typ model.EntryType) (err error) {
	start := time.Now()
	defer func() {
		tc.metrics.RecordDelete(database, time.Since(start), err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	ck := db.key(key, typ)

	var (
		lsn  uint64
		werr error
	)
	ok := db.cache.Delete(ck, func(*model.Item) {
		lsn, werr = tc.logAsync(&wal.Record{
			Kind:     wal.KindDelete,
			Database: ck.Database,
			Key:      ck.Key,
			Type:     ck.Type,
		})
	})
	if !ok {
		err = fmt.Errorf("%w: %s", ErrNotFound, ck)
		tc.logger.LogDelete(ctx, ck, err)
		return err
	}
	tc.logger.LogDelete(ctx, ck, nil)

	return tc.durable(ctx, "delete", ck, lsn, werr)
}

// Incr adds delta to the integer held by a string or JSON key-value and
// returns the new number. A non-integer value yields ErrTypeMismatch.
func (tc *TinyCache) Incr(ctx context.Context, database, key string, delta int64) (int64, error) {
	db, release, err := tc.acquire(database)
	if err != nil {
		return 0, err
	}
	defer release()

	ck := db.key(key, model.TypeKeyValue)

	var n int64
	res, err := tc.mutate(db, ck, nil, func(it *model.Item) (*wal.Record, error) {
		kv, ok := it.Value.(*model.KeyValue)
		if !ok {
			return nil, &model.TypeMismatchError{Want: model.TypeKeyValue, Got: it.Value.Type()}
		}
		cur, err := kv.Int()
		if err != nil {
			return nil, err
		}
		n = cur + delta
		kv.SetInt(n)

		rec := &wal.Record{Kind: wal.KindIncr}
		if tc.wal != nil {
			if rec.Payload, err = model.EncodeValue(tc.codec, kv); err != nil {
				return nil, err
			}
		}
		return rec, nil
	})
	if err != nil {
		return 0, translateError(err)
	}

	return n, tc.durable(ctx, "incr", ck, res.lsn, res.err)
}

// Decr subtracts delta from the integer held by a key-value.
func (tc *TinyCache) Decr(ctx context.Context, database, key string, delta int64) (int64, error) {
	return tc.Incr(ctx, database, key, -delta)
}

// logResult is the outcome of logging a mutation under a shard lock.
type logResult struct {
	lsn uint64
	err error
}

// mutate applies fn to the live item under key inside its shard lock and logs
// the record fn returns. When the key is absent and init is non-nil, fn is
// applied to a fresh value from init, which is then stored unless another
// writer created the key first, in which case the update is retried.
//
// fn must not change indexed content.
func (tc *TinyCache) mutate(db *database, key model.CacheKey, init func() model.Value, fn func(it *model.Item) (*wal.Record, error)) (logResult, error) {
	var res logResult

	logRec := func(it *model.Item, rec *wal.Record) {
		if rec == nil {
			return
		}
		rec.Database, rec.Key, rec.Type = key.Database, key.Key, key.Type
		rec.ExpiresAt = it.ExpiresAt
		res.lsn, res.err = tc.logAsync(rec)
		if res.err == nil && rec.Kind.Keyed() {
			it.LSN = res.lsn
		}
	}

	for {
		err := db.cache.Update(key, func(it *model.Item) error {
			rec, err := fn(it)
			if err != nil {
				return err
			}
			logRec(it, rec)
			return nil
		})
		if !errors.Is(err, cache.ErrNotFound) || init == nil {
			return res, err
		}

		fresh := &model.Item{
			Value:     init(),
			ExpiresAt: db.expiry(tc.now(), 0),
		}
		rec, err := fn(fresh)
		if err != nil {
			return logResult{}, err
		}

		_, err = db.cache.Put(key, cache.Write{
			Value:     fresh.Value,
			ExpiresAt: fresh.ExpiresAt,
			IfAbsent:  true,
			Commit: func(it *model.Item) {
				logRec(it, rec)
			},
		})
		if !errors.Is(err, cache.ErrExists) {
			return res, err
		}
	}
}
