package docindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tinycache/model"
)

func docKey(k string) model.CacheKey {
	return model.CacheKey{Database: "db", Key: k, Type: model.TypeDocument}
}

func TestLookupExact(t *testing.T) {
	ix := New(AllFields)

	ix.Put(docKey("dA"), nil, map[string]any{"status": "shipped"})
	ix.Put(docKey("dB"), nil, map[string]any{"status": "pending"})

	got, err := ix.Lookup("status", "shipped")
	require.NoError(t, err)
	assert.Equal(t, []model.CacheKey{docKey("dA")}, got)

	got, err = ix.Lookup("status", "lost")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLookupOrderedByKey(t *testing.T) {
	ix := New(AllFields)

	for _, k := range []string{"c", "a", "b"} {
		ix.Put(docKey(k), nil, map[string]any{"n": 1})
	}

	hybrid := model.CacheKey{Database: "db", Key: "a", Type: model.TypeHybrid}
	ix.Put(hybrid, nil, map[string]any{"n": 1.0})

	got, err := ix.Lookup("n", 1)
	require.NoError(t, err)
	assert.Equal(t, []model.CacheKey{docKey("a"), hybrid, docKey("b"), docKey("c")}, got)
}

func TestPutReplacesStalePostings(t *testing.T) {
	ix := New(AllFields)
	k := docKey("order-1")

	v1 := map[string]any{"status": "pending", "qty": 2}
	v2 := map[string]any{"status": "shipped"}

	ix.Put(k, nil, v1)
	ix.Put(k, v1, v2)

	got, _ := ix.Lookup("status", "pending")
	assert.Empty(t, got)

	got, _ = ix.Lookup("qty", 2)
	assert.Empty(t, got)

	got, _ = ix.Lookup("status", "shipped")
	assert.Equal(t, []model.CacheKey{k}, got)

	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, []string{"status"}, ix.Fields())

	ix.Remove(k, v2)
	assert.Equal(t, 0, ix.Len())
	assert.Equal(t, 0, ix.Keys())
}

func TestOrdinalsRecycled(t *testing.T) {
	ix := New(AllFields)

	ix.Put(docKey("a"), nil, map[string]any{"f": "x"})
	ix.Remove(docKey("a"), map[string]any{"f": "x"})
	ix.Put(docKey("b"), nil, map[string]any{"f": "y"})

	assert.Len(t, ix.keys, 1)
	assert.Equal(t, docKey("b"), ix.keys[0])
}

func TestRegisteredMode(t *testing.T) {
	ix := New(RegisteredFields)

	ix.Put(docKey("a"), nil, map[string]any{"status": "x", "color": "red"})

	_, err := ix.Lookup("status", "x")
	require.ErrorIs(t, err, ErrFieldNotIndexed)

	assert.True(t, ix.Register("status"))
	assert.False(t, ix.Register("status"))
	assert.Equal(t, []string{"status"}, ix.Registered())

	// Registration is not retroactive.
	got, err := ix.Lookup("status", "x")
	require.NoError(t, err)
	assert.Empty(t, got)

	ix.Add(docKey("a"), "status", "x")
	got, err = ix.Lookup("status", "x")
	require.NoError(t, err)
	assert.Equal(t, []model.CacheKey{docKey("a")}, got)

	ix.Put(docKey("b"), nil, map[string]any{"status": "x", "color": "red"})
	assert.Equal(t, []string{"status"}, ix.Fields())
	assert.True(t, ix.Indexed("status"))
	assert.False(t, ix.Indexed("color"))
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, Canonical(42), Canonical(42.0))
	assert.NotEqual(t, Canonical("42"), Canonical(42))
	assert.Equal(t, Canonical(map[string]any{"b": 1, "a": 2}), Canonical(map[string]any{"a": 2, "b": 1}))
}

func TestConcurrentPut(t *testing.T) {
	ix := New(AllFields)

	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)

		go func(w int) {
			defer wg.Done()

			for i := 0; i < 50; i++ {
				ix.Put(docKey(fmt.Sprintf("%d-%d", w, i)), nil, map[string]any{"w": w})
			}
		}(w)
	}

	wg.Wait()

	got, err := ix.Lookup("w", 3)
	require.NoError(t, err)
	assert.Len(t, got, 50)

	ix.Clear()
	assert.Equal(t, 0, ix.Len())
}
