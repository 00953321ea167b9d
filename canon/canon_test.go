package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalStableBytes(t *testing.T) {
	a := map[string]interface{}{"z": 1, "a": []interface{}{2, map[string]interface{}{"k": 3}}}
	b := map[string]interface{}{"a": []interface{}{2, map[string]interface{}{"k": 3}}, "z": 1}

	ca, err := Marshal(a)
	require.NoError(t, err)
	cb, err := Marshal(b)
	require.NoError(t, err)

	require.Equal(t, ca, cb)
	require.Equal(t, `{"a":[2,{"k":3}],"z":1}`, string(ca))
}

func TestMarshalNestedSorting(t *testing.T) {
	v := map[string]interface{}{
		"outer": map[string]interface{}{"b": 2, "a": 1},
		"arr":   []interface{}{map[string]interface{}{"y": 0, "x": 0}},
	}
	c, err := Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"arr":[{"x":0,"y":0}],"outer":{"a":1,"b":2}}`, string(c))
}

func TestMarshalNonASCIIPassthrough(t *testing.T) {
	c, err := Marshal(map[string]interface{}{"msg": "héllo ☺"})
	require.NoError(t, err)
	require.Equal(t, `{"msg":"héllo ☺"}`, string(c))
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	c, err := Marshal(map[string]interface{}{"s": "a<b&c>d"})
	require.NoError(t, err)
	require.Equal(t, `{"s":"a<b&c>d"}`, string(c))
}

func TestMarshalLargeTimestampExact(t *testing.T) {
	// Millisecond timestamps must not pass through float64.
	c, err := Marshal(map[string]interface{}{"ts": int64(1758085200123)})
	require.NoError(t, err)
	require.Equal(t, `{"ts":1758085200123}`, string(c))
}

func TestMarshalRejectsNaN(t *testing.T) {
	_, err := Marshal(map[string]interface{}{"x": math.NaN()})
	require.Error(t, err)

	_, err = Marshal(map[string]interface{}{"x": math.Inf(1)})
	require.Error(t, err)
}

func TestB64uRoundTrip(t *testing.T) {
	samples := [][]byte{{}, []byte("A"), []byte("OK"), []byte("hi"), []byte("hello world"), {0x00, 0xff, 0x10}}
	for _, raw := range samples {
		enc := B64u(raw)
		require.NotContains(t, enc, "=")
		dec, err := B64uDecode(enc)
		require.NoError(t, err)
		require.Equal(t, raw, dec)
	}
}

func TestB64uDecodeBadLength(t *testing.T) {
	_, err := B64uDecode("abcde")
	require.Error(t, err)
}
