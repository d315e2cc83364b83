package tinycache

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/tinycache/internal/docindex"
	"github.com/hupe1980/tinycache/model"
	"github.com/hupe1980/tinycache/wal"
)

// DocumentResult is one match of QueryDocuments.
type DocumentResult struct {
	Key    string
	Type   model.EntryType
	Fields map[string]any
}

// VectorResult is one neighbor returned by NearestVectors.
type VectorResult struct {
	Key  string
	Type model.EntryType
	// Score is the metric value: a squared distance for L2, a similarity for
	// Dot and Cosine.
	Score float32
	// Metadata is set for vector items, Fields for hybrid items.
	Metadata map[string]any
	Fields   map[string]any
}

// maxSearchAttempts bounds the retries of a vector query whose candidates
// were removed between the index scan and the item fetch.
const maxSearchAttempts = 3

// QueryDocuments returns the documents and hybrids whose field equals value,
// ordered by key. Expired matches are removed and skipped.
//
// Under IndexRegisteredFields a field without an index yields
// ErrFieldNotIndexed.
func (tc *TinyCache) QueryDocuments(ctx context.Context, database, field string, value any) (results []DocumentResult, err error) {
	start := time.Now()
	defer func() {
		tc.metrics.RecordQuery(database, "documents", len(results), time.Since(start), err)
		tc.logger.LogQuery(ctx, database, "documents", len(results), err)
	}()

	db, release, err := tc.acquire(database)
	if err != nil {
		return nil, err
	}
	defer release()

	keys, err := db.docs.Lookup(field, value)
	if err != nil {
		return nil, translateError(err)
	}

	want := docindex.Canonical(value)
	results = make([]DocumentResult, 0, len(keys))

	for _, key := range keys {
		it, ok := db.cache.Get(key)
		if !ok {
			continue
		}
		f, ok := it.Value.(model.Fielded)
		if !ok {
			tc.logger.LogIndexInconsistency(ctx, key, "posting on a value without fields")
			continue
		}
		// The item may have changed between the lookup and the fetch.
		fields := f.DocumentFields()
		if v, ok := fields[field]; !ok || docindex.Canonical(v) != want {
			continue
		}
		results = append(results, DocumentResult{Key: key.Key, Type: key.Type, Fields: fields})
	}

	return results, nil
}

// NearestVectors returns up to k vector and hybrid items closest to query
// under the database metric, closest first. Ties are broken by insertion
// order.
func (tc *TinyCache) NearestVectors(ctx context.Context, database string, query []float32, k int) (results []VectorResult, err error) {
	start := time.Now()
	defer func() {
		tc.metrics.RecordQuery(database, "vectors", len(results), time.Since(start), err)
		tc.logger.LogQuery(ctx, database, "vectors", len(results), err)
	}()

	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidK, k)
	}

	db, release, err := tc.acquire(database)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 1; ; attempt++ {
		hits, err := db.vectors.Search(query, k)
		if err != nil {
			return nil, translateError(err)
		}

		results = results[:0]
		for _, h := range hits {
			key, typ, ok := parseVectorID(h.Key)
			if !ok {
				tc.logger.LogIndexInconsistency(ctx, model.CacheKey{Database: database, Key: h.Key}, "malformed vector id")
				continue
			}
			it, ok := db.cache.Get(db.key(key, typ))
			if !ok {
				continue
			}

			r := VectorResult{Key: key, Type: typ, Score: h.Score}
			switch v := it.Value.(type) {
			case *model.Vector:
				r.Metadata = v.Metadata
			case *model.Hybrid:
				r.Fields = v.Fields
			}
			results = append(results, r)
		}

		// Short results with a fuller index mean candidates expired or were
		// removed after the scan.
		if len(results) == len(hits) || attempt == maxSearchAttempts {
			return results, nil
		}
	}
}

type indexOptions struct {
	backfill bool
}

// IndexOption configures AddIndex.
type IndexOption func(*indexOptions)

// WithBackfill indexes the field of the documents already stored.
// Without it only documents written afterwards are indexed.
func WithBackfill() IndexOption {
	return func(o *indexOptions) {
		o.backfill = true
	}
}

// AddIndex registers field for indexing. It only has an effect under
// IndexRegisteredFields; registering a field twice is a no-op.
func (tc *TinyCache) AddIndex(ctx context.Context, database, field string, optFns ...IndexOption) error {
	if field == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidConfig)
	}

	var opts indexOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	db, release, err := tc.acquire(database)
	if err != nil {
		return err
	}
	defer release()

	if !db.docs.Register(field) {
		return nil
	}

	var payload []byte
	if opts.backfill {
		payload = []byte{1}
	}

	lsn, werr := tc.logAsync(&wal.Record{
		Kind:     wal.KindAddIndex,
		Database: database,
		Key:      field,
		Payload:  payload,
	})

	if opts.backfill {
		n := db.backfill(field)
		tc.logger.DebugContext(ctx, "index backfilled", "database", database, "field", field, "documents", n)
	}

	return tc.durable(ctx, "add_index", model.CacheKey{Database: database, Key: field}, lsn, werr)
}
