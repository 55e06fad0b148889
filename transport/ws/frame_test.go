package ws

import (
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
)

func TestFrameKeepsSender(t *testing.T) {
	in := frame{Control: controlData, From: 3, To: 0, Payload: []byte("payload")}
	out, err := unmarshalFrame(in.marshal())
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestMalformedFrame(t *testing.T) {
	_, err := unmarshalFrame([]byte{0xff})
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = unmarshalFrame(frame{Control: 9}.marshal())
	assert.ErrorIs(t, err, ErrBadFrame)
}
