package property

import (
	"reflect"

	"pkg.world.dev/world-engine/replicate/codec"
)

// Declarable is implemented by every record whose state is replicated. DeclareProperties lists the replicable members
// and their accessors; it replaces runtime discovery of annotated fields.
type Declarable interface {
	Kind() string
	DeclareProperties(d *Declarer)
}

// Declarer collects the members a record declares. Members are kept in declaration order.
type Declarer struct {
	members []member
}

type member struct {
	name          string
	typ           string
	notSerialized bool
	get           func() any
	decode        func(s codec.Serializer, bz []byte) (func(), error)
	zero          func() any
}

type Option func(m *member)

// NotSerialized excludes a declared member from replication.
func NotSerialized() Option {
	return func(m *member) {
		m.notSerialized = true
	}
}

// Field declares a replicable member backed directly by a field of the record.
func Field[T any](d *Declarer, name string, field *T, opts ...Option) {
	Accessor(d, name,
		func() T { return *field },
		func(v T) { *field = v },
		opts...)
}

// Accessor declares a replicable member through a getter and a setter.
func Accessor[T any](d *Declarer, name string, get func() T, set func(T), opts ...Option) {
	m := member{
		name: name,
		typ:  reflect.TypeOf((*T)(nil)).Elem().String(),
		get:  func() any { return get() },
		decode: func(s codec.Serializer, bz []byte) (func(), error) {
			var v T
			if err := s.Unmarshal(bz, &v); err != nil {
				return nil, err
			}
			return func() { set(v) }, nil
		},
		zero: func() any {
			var v T
			return v
		},
	}
	for _, opt := range opts {
		opt(&m)
	}
	d.members = append(d.members, m)
}
