// Package codec turns property values into bytes and back. The bytes produced for a value are what change detection
// compares, so a Serializer must be deterministic: equal values always encode to identical bytes.
package codec

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

var (
	ErrEncode = eris.New("failed to encode value")
	ErrDecode = eris.New("failed to decode value")
)

type Serializer interface {
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes bz into the value pointed to by ptr.
	Unmarshal(bz []byte, ptr any) error
}

// JSON encodes values with goccy/go-json. Map keys are emitted in sorted order, which keeps the encoding canonical.
type JSON struct{}

var _ Serializer = JSON{}

func (JSON) Marshal(v any) ([]byte, error) {
	bz, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(ErrEncode, err.Error())
	}
	return bz, nil
}

func (JSON) Unmarshal(bz []byte, ptr any) error {
	if err := json.Unmarshal(bz, ptr); err != nil {
		return eris.Wrap(ErrDecode, err.Error())
	}
	return nil
}

// Default is the serializer used when none is configured.
var Default Serializer = JSON{}

func Decode[T any](bz []byte) (T, error) {
	v := new(T)
	if err := Default.Unmarshal(bz, v); err != nil {
		return *v, err
	}
	return *v, nil
}

func Encode(v any) ([]byte, error) {
	return Default.Marshal(v)
}
