package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/tinycache/internal/fs"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	fileMagic   = "TINYWAL\x00" // 8 bytes
	fileVersion = 1

	segmentPrefix    = "wal-"
	checkpointPrefix = "ckpt-"
	fileSuffix       = ".log"
	tmpSuffix        = ".tmp"
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
	ErrCodecMismatch       = errors.New("WAL written with a different value codec")
)

func segmentName(seq uint64) string {
	return fmt.Sprintf("%s%016d%s", segmentPrefix, seq, fileSuffix)
}

func checkpointName(seq uint64) string {
	return fmt.Sprintf("%s%016d%s", checkpointPrefix, seq, fileSuffix)
}

func parseSeq(name, prefix string) (uint64, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), fileSuffix), 10, 64)
	return seq, err == nil
}

// fileHeader precedes the (possibly compressed) record stream and is always
// written uncompressed.
//
// Format: [Magic: 8] [Version: 4] [Compression: 1] [CodecLen: 1] [Codec]
type fileHeader struct {
	Compression Compression
	Codec       string
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, 0, 14+len(h.Codec))
	buf = append(buf, fileMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, fileVersion)
	buf = append(buf, byte(h.Compression), byte(len(h.Codec)))
	return append(buf, h.Codec...)
}

func readFileHeader(r io.Reader) (fileHeader, error) {
	var fixed [14]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return fileHeader{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if string(fixed[:8]) != fileMagic {
		return fileHeader{}, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, fixed[:8])
	}
	if ver := binary.LittleEndian.Uint32(fixed[8:12]); ver != fileVersion {
		return fileHeader{}, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, fileVersion)
	}
	h := fileHeader{Compression: Compression(fixed[12])}
	if h.Compression > CompressionLZ4 {
		return fileHeader{}, fmt.Errorf("%w: compression %d", ErrInvalidHeader, fixed[12])
	}
	codec := make([]byte, fixed[13])
	if _, err := io.ReadFull(r, codec); err != nil {
		return fileHeader{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	h.Codec = string(codec)
	return h, nil
}

// countingWriter tracks the bytes that reached the file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// compressor is the common surface of zstd.Encoder and lz4.Writer.
type compressor interface {
	io.WriteCloser
	Flush() error
}

// segmentWriter layers buffering and optional compression over a file:
// records -> bufio -> compressor -> countingWriter -> file.
type segmentWriter struct {
	name    string
	file    fs.File
	cw      *countingWriter
	comp    compressor
	bw      *bufio.Writer
	written int64 // record bytes before compression
	records int
}

func createSegment(fsys fs.FileSystem, path string, h fileHeader) (*segmentWriter, error) {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}

	sw := &segmentWriter{name: filepath.Base(path), file: f, cw: &countingWriter{w: f}}
	if _, err := sw.cw.Write(h.encode()); err != nil {
		_ = f.Close()
		return nil, err
	}

	var sink io.Writer = sw.cw
	switch h.Compression {
	case CompressionZstd:
		enc, err := zstd.NewWriter(sw.cw,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		sw.comp = enc
		sink = enc
	case CompressionLZ4:
		zw := lz4.NewWriter(sw.cw)
		if err := zw.Apply(lz4.BlockSizeOption(lz4.Block64Kb)); err != nil {
			_ = f.Close()
			return nil, err
		}
		sw.comp = zw
		sink = zw
	}
	sw.bw = bufio.NewWriterSize(sink, 64<<10)
	return sw, nil
}

func (sw *segmentWriter) write(p []byte) error {
	if _, err := sw.bw.Write(p); err != nil {
		return err
	}
	sw.written += int64(len(p))
	sw.records++
	return nil
}

// flush pushes buffered records through the compressor to the file, leaving
// a stream that a reader can decode up to the last record.
func (sw *segmentWriter) flush() error {
	if err := sw.bw.Flush(); err != nil {
		return err
	}
	if sw.comp != nil {
		return sw.comp.Flush()
	}
	return nil
}

// close terminates the compressed stream and closes the file.
// When sync is set the file is fdatasynced before closing.
func (sw *segmentWriter) close(sync bool) error {
	err := sw.bw.Flush()
	if sw.comp != nil {
		err = errors.Join(err, sw.comp.Close())
	}
	if sync && err == nil {
		err = fs.Datasync(sw.file)
	}
	return errors.Join(err, sw.file.Close())
}

// ReadStream decodes every record of a segment or checkpoint stream and
// calls fn for each. It returns nil at a clean end of stream. A torn or
// corrupt tail is reported as a *TornError carrying the count of records
// read before it.
func ReadStream(r io.Reader, codec string, fn func(*Record) error) error {
	raw := bufio.NewReader(r)
	h, err := readFileHeader(raw)
	if err != nil {
		return err
	}
	if codec != "" && h.Codec != codec {
		return fmt.Errorf("%w: %q (expected %q)", ErrCodecMismatch, h.Codec, codec)
	}

	// A segment that never received a record has no compressed frame.
	if _, err := raw.Peek(1); errors.Is(err, io.EOF) {
		return nil
	}

	var src io.Reader = raw
	switch h.Compression {
	case CompressionZstd:
		dec, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		defer dec.Close()
		src = dec
	case CompressionLZ4:
		src = lz4.NewReader(raw)
	}

	br := bufio.NewReaderSize(src, 64<<10)
	var n int
	var last uint64
	for {
		rec, err := Decode(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &TornError{Records: n, LastLSN: last, Err: err}
		}
		if err := fn(rec); err != nil {
			return err
		}
		n++
		last = rec.LSN
	}
}

// TornError reports a stream that ends inside a record or fails its checksum.
type TornError struct {
	File    string
	Records int
	LastLSN uint64
	Err     error
}

func (e *TornError) Error() string {
	return fmt.Sprintf("wal: torn tail in %s after %d records (last lsn %d): %v", e.File, e.Records, e.LastLSN, e.Err)
}

func (e *TornError) Unwrap() error {
	return e.Err
}

// readFile streams the records of a local file.
func readFile(fsys fs.FileSystem, path, codec string, fn func(*Record) error) error {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	err = ReadStream(f, codec, fn)
	var torn *TornError
	if errors.As(err, &torn) {
		torn.File = filepath.Base(path)
	}
	return err
}
