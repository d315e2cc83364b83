package model

import (
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber is a live handle registered on a channel.
//
// Deliver must not block. It returns ErrSubscriberClosed once the handle is
// gone for good; any other error drops only the message at hand.
type Subscriber interface {
	ID() string
	Deliver(msg json.RawMessage) error
}

// Channel is a pub/sub channel. Subscribers are process-local and never
// persisted.
type Channel struct {
	Creator        string `json:"creator"`
	MaxSubscribers int    `json:"max_subscribers"`

	subs []Subscriber
}

// NewChannel returns an empty channel.
func NewChannel(creator string, maxSubscribers int) *Channel {
	return &Channel{Creator: creator, MaxSubscribers: maxSubscribers}
}

// Type implements Value.
func (*Channel) Type() EntryType { return TypeChannel }

// Clone implements Value. Subscriber handles are shared.
func (c *Channel) Clone() Value {
	return &Channel{Creator: c.Creator, MaxSubscribers: c.MaxSubscribers, subs: slices.Clone(c.subs)}
}

func (*Channel) isValue() {}

// Subscribe registers sub. It returns ErrCapacity once MaxSubscribers is reached.
func (c *Channel) Subscribe(sub Subscriber) error {
	if c.MaxSubscribers > 0 && len(c.subs) >= c.MaxSubscribers {
		return ErrCapacity
	}

	for _, s := range c.subs {
		if s.ID() == sub.ID() {
			return nil
		}
	}

	c.subs = append(c.subs, sub)

	return nil
}

// Unsubscribe removes the subscriber with the given id.
func (c *Channel) Unsubscribe(id string) bool {
	before := len(c.subs)
	c.subs = slices.DeleteFunc(c.subs, func(s Subscriber) bool { return s.ID() == id })

	return len(c.subs) != before
}

// Publish fans msg out to every subscriber and returns the number that
// accepted it. Closed subscribers are pruned.
func (c *Channel) Publish(msg json.RawMessage) int {
	delivered := 0

	c.subs = slices.DeleteFunc(c.subs, func(s Subscriber) bool {
		err := s.Deliver(msg)
		if err == nil {
			delivered++
			return false
		}

		return errors.Is(err, ErrSubscriberClosed)
	})

	return delivered
}

// Subscribers returns the ids of the registered subscribers.
func (c *Channel) Subscribers() []string {
	ids := make([]string, len(c.subs))
	for i, s := range c.subs {
		ids[i] = s.ID()
	}

	return ids
}

// Len returns the number of subscribers.
func (c *Channel) Len() int { return len(c.subs) }

// ChanSubscriber is a Subscriber backed by a buffered Go channel.
type ChanSubscriber struct {
	id string
	ch chan json.RawMessage

	mu     sync.Mutex
	closed bool
}

// NewChanSubscriber returns a subscriber with a random id and the given buffer.
func NewChanSubscriber(buffer int) *ChanSubscriber {
	if buffer < 1 {
		buffer = 1
	}

	return &ChanSubscriber{id: uuid.NewString(), ch: make(chan json.RawMessage, buffer)}
}

// ID implements Subscriber.
func (s *ChanSubscriber) ID() string { return s.id }

// Deliver implements Subscriber.
func (s *ChanSubscriber) Deliver(msg json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	select {
	case s.ch <- slices.Clone(msg):
		return nil
	default:
		return ErrSubscriberFull
	}
}

// C returns the receive side of the subscription.
func (s *ChanSubscriber) C() <-chan json.RawMessage { return s.ch }

// Close closes the subscription. The next publish prunes it.
func (s *ChanSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// StreamEntry is one event of a stream.
type StreamEntry struct {
	ID        uint64          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"ts"`
}

// Stream is an append-only event stream. Once Entries exceeds MaxLen the
// oldest entries are trimmed.
type Stream struct {
	Entries []StreamEntry `json:"entries"`
	MaxLen  int           `json:"max_len"`
	LastID  uint64        `json:"last_id"`
}

// NewStream returns an empty stream.
func NewStream(maxLen int) *Stream { return &Stream{MaxLen: maxLen} }

// Type implements Value.
func (*Stream) Type() EntryType { return TypeStream }

// Clone implements Value.
func (s *Stream) Clone() Value {
	entries := make([]StreamEntry, len(s.Entries))
	for i, e := range s.Entries {
		entries[i] = StreamEntry{ID: e.ID, Data: slices.Clone(e.Data), Timestamp: e.Timestamp}
	}

	return &Stream{Entries: entries, MaxLen: s.MaxLen, LastID: s.LastID}
}

func (*Stream) isValue() {}

// Append adds data with the next id and trims the oldest entries above MaxLen.
func (s *Stream) Append(data json.RawMessage, now time.Time) StreamEntry {
	s.LastID++
	e := StreamEntry{ID: s.LastID, Data: slices.Clone(data), Timestamp: now}
	s.Entries = append(s.Entries, e)

	if s.MaxLen > 0 && len(s.Entries) > s.MaxLen {
		s.Entries = slices.Delete(s.Entries, 0, len(s.Entries)-s.MaxLen)
	}

	return e
}

// Read returns the entries with an id greater than afterID.
// afterID 0 returns the whole stream.
func (s *Stream) Read(afterID uint64) []StreamEntry {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].ID > afterID })
	return slices.Clone(s.Entries[i:])
}

// Len returns the number of retained entries.
func (s *Stream) Len() int { return len(s.Entries) }

// Queue is a bounded FIFO of JSON messages.
type Queue struct {
	Messages []json.RawMessage `json:"messages"`
	MaxLen   int               `json:"max_len"`
}

// NewQueue returns an empty queue.
func NewQueue(maxLen int) *Queue { return &Queue{MaxLen: maxLen} }

// Type implements Value.
func (*Queue) Type() EntryType { return TypeQueue }

// Clone implements Value.
func (q *Queue) Clone() Value {
	msgs := make([]json.RawMessage, len(q.Messages))
	for i, m := range q.Messages {
		msgs[i] = slices.Clone(m)
	}

	return &Queue{Messages: msgs, MaxLen: q.MaxLen}
}

func (*Queue) isValue() {}

// Push appends msg. It returns ErrCapacity and leaves the queue unchanged
// once MaxLen is reached.
func (q *Queue) Push(msg json.RawMessage) error {
	if q.MaxLen > 0 && len(q.Messages) >= q.MaxLen {
		return ErrCapacity
	}

	q.Messages = append(q.Messages, slices.Clone(msg))

	return nil
}

// Pop removes and returns the head.
func (q *Queue) Pop() (json.RawMessage, error) {
	if len(q.Messages) == 0 {
		return nil, ErrEmpty
	}

	msg := q.Messages[0]
	q.Messages[0] = nil
	q.Messages = q.Messages[1:]

	return msg, nil
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return len(q.Messages) }
