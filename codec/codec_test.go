package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	c, ok := ByName("")
	require.True(t, ok)
	assert.Equal(t, Default.Name(), c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestCodecsProduceIdenticalBytes(t *testing.T) {
	in := map[string]any{
		"status": "shipped",
		"qty":    3,
		"note":   "<a&b>",
		"tags":   []string{"a", "b"},
	}

	var outputs []string
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(in)
			require.NoError(t, err)
			outputs = append(outputs, string(data))

			var out map[string]any
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, 3.0, out["qty"], "numbers decode as float64")
			assert.Equal(t, "<a&b>", out["note"])
		})
	}

	require.Len(t, outputs, 2)
	assert.Equal(t, outputs[0], outputs[1])
	assert.Contains(t, outputs[0], `<a&b>`)
}
