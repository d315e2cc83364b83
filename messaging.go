package tinycache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/tinycache/internal/cache"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// CreateChannel creates a pub/sub channel. An existing channel yields
// ErrExists.
func (tc *TinyCache) CreateChannel(ctx context.Context, database, channel, creator string) (err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "create_channel", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	ck := db.key(channel, model.TypeChannel)
	ch := model.NewChannel(creator, db.cfg.MaxSubscribers)

	var payload []byte
	if tc.wal != nil {
		if payload, err = model.EncodeValue(tc.codec, ch); err != nil {
			return err
		}
	}

	expires := db.expiry(tc.now(), 0)

	var res logResult
	_, err = db.cache.Put(ck, cache.Write{
		Value:     ch,
		ExpiresAt: expires,
		IfAbsent:  true,
		Commit: func(it *model.Item) {
			res.lsn, res.err = tc.logAsync(&wal.Record{
				Kind:      wal.KindInsert,
				Database:  ck.Database,
				Key:       ck.Key,
				Type:      ck.Type,
				Payload:   payload,
				ExpiresAt: expires,
			})
			if res.err == nil {
				it.LSN = res.lsn
			}
		},
	})
	if err != nil {
		return translateError(err)
	}

	return tc.durable(ctx, "create_channel", ck, res.lsn, res.err)
}

// Subscribe registers sub on a channel. Registering the same id twice is a
// no-op; a full channel yields ErrCapacityRejected.
//
// Subscribers live in memory only and are gone after a restart.
func (tc *TinyCache) Subscribe(ctx context.Context, database, channel string, sub model.Subscriber) (err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "subscribe", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	ck := db.key(channel, model.TypeChannel)

	res, err := tc.mutate(db, ck, nil, func(it *model.Item) (*wal.Record, error) {
		if err := it.Value.(*model.Channel).Subscribe(sub); err != nil {
			return nil, err
		}
		return &wal.Record{Kind: wal.KindSubscribe, Payload: []byte(sub.ID())}, nil
	})
	if err != nil {
		return translateError(err)
	}

	return tc.durable(ctx, "subscribe", ck, res.lsn, res.err)
}

// SubscribeChan subscribes a buffered Go channel. A message that finds the
// buffer full is dropped for this subscriber. Close the returned handle to
// leave; the next publish prunes it.
func (tc *TinyCache) SubscribeChan(ctx context.Context, database, channel string, buffer int) (*model.ChanSubscriber, error) {
	sub := model.NewChanSubscriber(buffer)
	if err := tc.Subscribe(ctx, database, channel, sub); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a subscriber by id. An unknown id yields ErrNotFound.
func (tc *TinyCache) Unsubscribe(ctx context.Context, database, channel, id string) (err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "unsubscribe", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	ck := db.key(channel, model.TypeChannel)

	res, err := tc.mutate(db, ck, nil, func(it *model.Item) (*wal.Record, error) {
		if !it.Value.(*model.Channel).Unsubscribe(id) {
			return nil, fmt.Errorf("%w: subscriber %q", ErrNotFound, id)
		}
		return &wal.Record{Kind: wal.KindUnsubscribe, Payload: []byte(id)}, nil
	})
	if err != nil {
		return translateError(err)
	}

	return tc.durable(ctx, "unsubscribe", ck, res.lsn, res.err)
}

// Publish delivers msg to every subscriber of a channel and returns how many
// accepted it. Delivery never blocks.
func (tc *TinyCache) Publish(ctx context.Context, database, channel string, msg json.RawMessage) (n int, err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "publish", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return 0, err
	}
	defer release()

	ck := db.key(channel, model.TypeChannel)

	res, err := tc.mutate(db, ck, nil, func(it *model.Item) (*wal.Record, error) {
		n = it.Value.(*model.Channel).Publish(msg)
		return &wal.Record{Kind: wal.KindPublish, Payload: msg}, nil
	})
	if err != nil {
		return 0, translateError(err)
	}

	return n, tc.durable(ctx, "publish", ck, res.lsn, res.err)
}

// StreamAppend appends data to a stream, creating it on first use, and
// returns the new entry. A full stream drops its oldest entries.
func (tc *TinyCache) StreamAppend(ctx context.Context, database, stream string, data json.RawMessage) (e model.StreamEntry, err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "stream_append", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return model.StreamEntry{}, err
	}
	defer release()

	ck := db.key(stream, model.TypeStream)
	maxLen := db.cfg.MaxStreamSize

	res, err := tc.mutate(db, ck, func() model.Value { return model.NewStream(maxLen) }, func(it *model.Item) (*wal.Record, error) {
		e = it.Value.(*model.Stream).Append(data, tc.now())

		rec := &wal.Record{Kind: wal.KindStreamAppend}
		if tc.wal != nil {
			var err error
			if rec.Payload, err = tc.codec.Marshal(e); err != nil {
				return nil, err
			}
		}
		return rec, nil
	})
	if err != nil {
		return model.StreamEntry{}, translateError(err)
	}

	return e, tc.durable(ctx, "stream_append", ck, res.lsn, res.err)
}

// StreamRead returns the retained entries of a stream with an id greater
// than afterID. afterID 0 reads the whole stream.
func (tc *TinyCache) StreamRead(ctx context.Context, database, stream string, afterID uint64) (entries []model.StreamEntry, err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "stream_read", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return nil, err
	}
	defer release()

	ck := db.key(stream, model.TypeStream)

	it, ok := db.cache.Get(ck)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ck)
	}

	return it.Value.(*model.Stream).Read(afterID), nil
}

// QueuePush appends msg to a queue, creating it on first use. A full queue
// yields ErrCapacityRejected and stays unchanged.
func (tc *TinyCache) QueuePush(ctx context.Context, database, queue string, msg json.RawMessage) (err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "queue_push", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	ck := db.key(queue, model.TypeQueue)
	maxLen := db.cfg.MaxQueueSize

	res, err := tc.mutate(db, ck, func() model.Value { return model.NewQueue(maxLen) }, func(it *model.Item) (*wal.Record, error) {
		if err := it.Value.(*model.Queue).Push(msg); err != nil {
			return nil, err
		}
		return &wal.Record{Kind: wal.KindQueuePush, Payload: msg}, nil
	})
	if err != nil {
		return translateError(err)
	}

	return tc.durable(ctx, "queue_push", ck, res.lsn, res.err)
}

// QueuePop removes and returns the head of a queue. An empty queue yields
// ErrEmpty, an unknown one ErrNotFound.
func (tc *TinyCache) QueuePop(ctx context.Context, database, queue string) (msg json.RawMessage, err error) {
	defer func() {
		tc.metrics.RecordMessaging(database, "queue_pop", err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return nil, err
	}
	defer release()

	ck := db.key(queue, model.TypeQueue)

	res, err := tc.mutate(db, ck, nil, func(it *model.Item) (*wal.Record, error) {
		m, err := it.Value.(*model.Queue).Pop()
		if err != nil {
			return nil, err
		}
		msg = m
		return &wal.Record{Kind: wal.KindQueuePop}, nil
	})
	if err != nil {
		return nil, translateError(err)
	}

	return msg, tc.durable(ctx, "queue_pop", ck, res.lsn, res.err)
}

// QueueLen returns the number of queued messages.
func (tc *TinyCache) QueueLen(ctx context.Context, database, queue string) (int, error) {
	db, release, err := tc.acquire(database)
	if err != nil {
		return 0, err
	}
	defer release()

	it, ok := db.cache.Peek(db.key(queue, model.TypeQueue))
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, database, queue)
	}

	return it.Value.(*model.Queue).Len(), nil
}
