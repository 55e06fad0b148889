package message

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"google.golang.org/protobuf/encoding/protowire"

	"pkg.world.dev/world-engine/replicate/types"
)

var ErrMalformed = eris.New("malformed message")

const (
	envKind protowire.Number = 1
	envBody protowire.Number = 2

	fieldType     protowire.Number = 1
	fieldID       protowire.Number = 2
	fieldValues   protowire.Number = 3
	fieldOwners   protowire.Number = 4
	fieldProperty protowire.Number = 5
	fieldOwner    protowire.Number = 6

	entryName  protowire.Number = 1
	entryValue protowire.Number = 2
)

// Encode serializes a message. Map entries are written in sorted key order so that equal messages encode identically.
func Encode(m Message) ([]byte, error) {
	var body []byte
	switch msg := m.(type) {
	case Spawn:
		body = appendRef(body, msg.Ref)
		body = appendValues(body, fieldValues, msg.Values)
		body = appendOwners(body, fieldOwners, msg.Owners)
	case Despawn:
		body = appendRef(body, msg.Ref)
	case SetProperty:
		body = appendRef(body, msg.Ref)
		body = appendValues(body, fieldValues, msg.Values)
	case SetPropertyOwner:
		body = appendRef(body, msg.Ref)
		body = protowire.AppendTag(body, fieldProperty, protowire.BytesType)
		body = protowire.AppendString(body, msg.Property)
		body = protowire.AppendTag(body, fieldOwner, protowire.VarintType)
		body = protowire.AppendVarint(body, encodePeer(msg.Owner))
	case Snapshot:
	default:
		return nil, eris.Errorf("cannot encode message of type %T", m)
	}

	bz := protowire.AppendTag(nil, envKind, protowire.VarintType)
	bz = protowire.AppendVarint(bz, uint64(m.Kind()))
	bz = protowire.AppendTag(bz, envBody, protowire.BytesType)
	bz = protowire.AppendBytes(bz, body)
	return bz, nil
}

// Decode parses a message produced by Encode. Any structural problem is reported as ErrMalformed.
func Decode(bz []byte) (Message, error) {
	var (
		kind Kind
		body []byte
	)
	err := walk(bz, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == envKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			kind = Kind(v)
			return n, nil
		case num == envBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			body = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, eris.Wrapf(ErrMalformed, "unknown message kind %d", kind)
	}

	var b bodyFields
	if err := b.parse(body); err != nil {
		return nil, eris.Wrapf(err, "%s body", kind)
	}

	switch kind {
	case KindSpawn:
		ref, err := b.ref()
		if err != nil {
			return nil, err
		}
		return Spawn{Ref: ref, Values: b.values, Owners: b.owners}, nil
	case KindDespawn:
		ref, err := b.ref()
		if err != nil {
			return nil, err
		}
		return Despawn{Ref: ref}, nil
	case KindSetProperty:
		ref, err := b.ref()
		if err != nil {
			return nil, err
		}
		return SetProperty{Ref: ref, Values: b.values}, nil
	case KindSetPropertyOwner:
		ref, err := b.ref()
		if err != nil {
			return nil, err
		}
		if b.property == "" {
			return nil, eris.Wrap(ErrMalformed, "ownership message without a property")
		}
		return SetPropertyOwner{Ref: ref, Property: b.property, Owner: b.owner}, nil
	default:
		return Snapshot{}, nil
	}
}

// bodyFields holds the union of fields any message body may carry.
type bodyFields struct {
	typ      string
	id       []byte
	values   map[string][]byte
	owners   map[string]types.PeerID
	property string
	owner    types.PeerID
}

func (f *bodyFields) parse(bz []byte) error {
	return walk(bz, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.typ = v
			return n, nil
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			f.id = v
			return n, nil
		case num == fieldValues && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			name, value, err := parseEntry(v)
			if err != nil {
				return 0, err
			}
			if f.values == nil {
				f.values = map[string][]byte{}
			}
			if _, dup := f.values[name]; dup {
				return 0, eris.Wrapf(ErrMalformed, "property %q repeated", name)
			}
			f.values[name] = value
			return n, nil
		case num == fieldOwners && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			name, value, err := parseEntry(v)
			if err != nil {
				return 0, err
			}
			peer, m := protowire.ConsumeVarint(value)
			if m != len(value) {
				return 0, eris.Wrapf(ErrMalformed, "owner of %q", name)
			}
			if f.owners == nil {
				f.owners = map[string]types.PeerID{}
			}
			owner, err := decodePeer(peer)
			if err != nil {
				return 0, eris.Wrapf(err, "owner of %q", name)
			}
			f.owners[name] = owner
			return n, nil
		case num == fieldProperty && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.property = v
			return n, nil
		case num == fieldOwner && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			owner, err := decodePeer(v)
			if err != nil {
				return 0, err
			}
			f.owner = owner
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (f *bodyFields) ref() (types.EntityRef, error) {
	if f.typ == "" {
		return types.EntityRef{}, eris.Wrap(ErrMalformed, "missing entity type")
	}
	id, err := types.EntityIDFromBytes(f.id)
	if err != nil {
		return types.EntityRef{}, eris.Wrap(ErrMalformed, err.Error())
	}
	return types.EntityRef{Type: f.typ, ID: id}, nil
}

func walk(bz []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(bz) > 0 {
		num, typ, n := protowire.ConsumeTag(bz)
		if n < 0 {
			return eris.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		bz = bz[n:]
		m, err := field(num, typ, bz)
		if err != nil {
			return err
		}
		if m < 0 {
			return eris.Wrap(ErrMalformed, protowire.ParseError(m).Error())
		}
		bz = bz[m:]
	}
	return nil
}

func parseEntry(bz []byte) (string, []byte, error) {
	var (
		name    string
		value   []byte
		hasName bool
	)
	err := walk(bz, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == entryName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			name, hasName = v, true
			return n, nil
		case num == entryValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			value = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return "", nil, err
	}
	if !hasName {
		return "", nil, eris.Wrap(ErrMalformed, "map entry without a name")
	}
	if value == nil {
		value = []byte{}
	}
	return name, value, nil
}

func appendRef(b []byte, ref types.EntityRef) []byte {
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendString(b, ref.Type)
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	return protowire.AppendBytes(b, ref.ID.Bytes())
}

func appendValues(b []byte, num protowire.Number, values map[string][]byte) []byte {
	for _, name := range sortedKeys(values) {
		var entry []byte
		entry = protowire.AppendTag(entry, entryName, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, values[name])
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func appendOwners(b []byte, num protowire.Number, owners map[string]types.PeerID) []byte {
	for _, name := range sortedKeys(owners) {
		var entry []byte
		entry = protowire.AppendTag(entry, entryName, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, protowire.AppendVarint(nil, encodePeer(owners[name])))
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func encodePeer(p types.PeerID) uint64 {
	return protowire.EncodeZigZag(int64(p))
}

func decodePeer(v uint64) (types.PeerID, error) {
	p := protowire.DecodeZigZag(v)
	if p < math.MinInt32 || p > math.MaxInt32 {
		return 0, eris.Wrapf(ErrMalformed, "peer id %d out of range", p)
	}
	return types.PeerID(p), nil
}
