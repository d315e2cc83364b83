package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/tinycache/internal/hash"
	"github.com/hupe1980/tinycache/model"
)

// Kind identifies the mutation a record describes.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindUpdate
	KindDelete
	KindEvict
	KindStreamAppend
	KindQueuePush
	KindQueuePop
	KindPublish
	KindIncr
	KindAddIndex
	KindCreateDatabase
	KindDropDatabase
	KindSubscribe
	KindUnsubscribe

	// KindCheckpoint opens every checkpoint file and carries the LSN high-water
	// mark at the time of the checkpoint. It is consumed by Replay.
	KindCheckpoint
)

var kindNames = [...]string{
	KindInsert:         "insert",
	KindUpdate:         "update",
	KindDelete:         "delete",
	KindEvict:          "evict",
	KindStreamAppend:   "stream_append",
	KindQueuePush:      "queue_push",
	KindQueuePop:       "queue_pop",
	KindPublish:        "publish",
	KindIncr:           "incr",
	KindAddIndex:       "add_index",
	KindCreateDatabase: "create_database",
	KindDropDatabase:   "drop_database",
	KindSubscribe:      "subscribe",
	KindUnsubscribe:    "unsubscribe",
	KindCheckpoint:     "checkpoint",
}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindInsert && k <= KindCheckpoint
}

// Keyed reports whether records of this kind mutate a single cache key.
// Keyed records are subject to the per-key LSN filter during replay.
func (k Kind) Keyed() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindEvict,
		KindStreamAppend, KindQueuePush, KindQueuePop, KindIncr:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidCRC     = errors.New("invalid WAL record checksum")
	ErrInvalidKind    = errors.New("invalid WAL record kind")
	ErrShortRead      = errors.New("short read in WAL record")
	ErrRecordTooLarge = errors.New("WAL record too large")
)

const (
	recordHeaderSize = 4 + 1 + 8 + 4 // CRC + Kind + LSN + Length
	maxRecordSize    = 100 << 20
)

// Record represents a single logged mutation.
type Record struct {
	LSN       uint64
	Kind      Kind
	Database  string
	Key       string
	Type      model.EntryType
	Payload   []byte
	ExpiresAt time.Time
	Timestamp time.Time
}

// CacheKey returns the key the record applies to.
func (r *Record) CacheKey() model.CacheKey {
	return model.CacheKey{Database: r.Database, Key: r.Key, Type: r.Type}
}

func (r *Record) payloadSize() int {
	return 2 + len(r.Database) + 4 + len(r.Key) + 1 + 8 + 8 + 4 + len(r.Payload)
}

// AppendTo appends the framed record to buf.
//
// Format:
// [CRC32C: 4] [Kind: 1] [LSN: 8] [Length: 4] [Payload: Length]
// Payload: [DBLen: 2] [DB] [KeyLen: 4] [Key] [Type: 1] [ExpiresAt: 8] [Timestamp: 8] [ValueLen: 4] [Value]
//
// The CRC covers everything after itself. Times are Unix nanoseconds; zero
// means unset.
func (r *Record) AppendTo(buf []byte) ([]byte, error) {
	if len(r.Database) > 0xFFFF {
		return buf, fmt.Errorf("%w: database name %d bytes", ErrRecordTooLarge, len(r.Database))
	}
	size := r.payloadSize()
	if size > maxRecordSize {
		return buf, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, size)
	}

	start := len(buf)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = append(buf, byte(r.Kind))
	buf = binary.LittleEndian.AppendUint64(buf, r.LSN)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Database)))
	buf = append(buf, r.Database...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Key)))
	buf = append(buf, r.Key...)
	buf = append(buf, byte(r.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(unixNano(r.ExpiresAt)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(unixNano(r.Timestamp)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Payload)))
	buf = append(buf, r.Payload...)

	binary.LittleEndian.PutUint32(buf[start:], hash.CRC32C(buf[start+4:]))
	return buf, nil
}

// Encode writes the framed record to w.
func (r *Record) Encode(w io.Writer) error {
	buf, err := r.AppendTo(make([]byte, 0, recordHeaderSize+r.payloadSize()))
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads a record from r.
// It returns io.EOF only at a clean record boundary; a record cut short
// returns io.ErrUnexpectedEOF.
func Decode(r io.Reader) (*Record, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	checksum := binary.LittleEndian.Uint32(header[0:])
	kind := Kind(header[4])
	lsn := binary.LittleEndian.Uint64(header[5:])
	length := binary.LittleEndian.Uint32(header[13:])

	if length > maxRecordSize {
		return nil, ErrRecordTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if hash.Frame(header[4:], payload) != checksum {
		return nil, ErrInvalidCRC
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, kind)
	}

	rec := &Record{Kind: kind, LSN: lsn}
	if err := parsePayload(payload, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func parsePayload(p []byte, rec *Record) error {
	off := 0
	need := func(n int) bool { return len(p)-off >= n }

	if !need(2) {
		return ErrShortRead
	}
	dbLen := int(binary.LittleEndian.Uint16(p[off:]))
	off += 2
	if !need(dbLen + 4) {
		return ErrShortRead
	}
	rec.Database = string(p[off : off+dbLen])
	off += dbLen

	keyLen := int(binary.LittleEndian.Uint32(p[off:]))
	off += 4
	if !need(keyLen + 1 + 8 + 8 + 4) {
		return ErrShortRead
	}
	rec.Key = string(p[off : off+keyLen])
	off += keyLen

	rec.Type = model.EntryType(p[off])
	off++
	rec.ExpiresAt = fromUnixNano(int64(binary.LittleEndian.Uint64(p[off:])))
	off += 8
	rec.Timestamp = fromUnixNano(int64(binary.LittleEndian.Uint64(p[off:])))
	off += 8

	valLen := int(binary.LittleEndian.Uint32(p[off:]))
	off += 4
	if !need(valLen) {
		return ErrShortRead
	}
	if valLen > 0 {
		rec.Payload = p[off : off+valLen]
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
