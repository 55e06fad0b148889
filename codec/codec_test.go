package codec_test

import (
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/codec"
)

type color struct {
	R, G, B uint8
}

func TestEqualValuesEncodeIdentically(t *testing.T) {
	a, err := codec.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	assert.NilError(t, err)
	for i := 0; i < 20; i++ {
		b, err := codec.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
		assert.NilError(t, err)
		assert.BytesEqual(t, a, b)
	}
	assert.Equal(t, `{"a":1,"b":2,"c":3}`, string(a))
}

func TestDecodeIntoStruct(t *testing.T) {
	bz, err := codec.Encode(color{R: 255})
	assert.NilError(t, err)
	got, err := codec.Decode[color](bz)
	assert.NilError(t, err)
	assert.Equal(t, color{R: 255}, got)
}

func TestDecodeFailureWrapsErrDecode(t *testing.T) {
	_, err := codec.Decode[color]([]byte("{not json"))
	assert.ErrorIs(t, err, codec.ErrDecode)

	_, err = codec.Decode[int]([]byte(`"a string"`))
	assert.ErrorIs(t, err, codec.ErrDecode)
}

func TestEncodeFailureWrapsErrEncode(t *testing.T) {
	_, err := codec.Encode(make(chan int))
	assert.ErrorIs(t, err, codec.ErrEncode)
}
