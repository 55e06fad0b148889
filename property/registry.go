package property

import (
	"slices"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/codec"
	"pkg.world.dev/world-engine/replicate/types"
)

var (
	ErrDuplicateProperty = eris.New("property declared more than once")
	ErrLayoutMismatch    = eris.New("property layout differs from the layout registered for this kind")
	ErrUnknownProperty   = eris.New("unknown property")
)

// Descriptor is the name and declared type of one replicable property.
type Descriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Registry builds property sets for records and remembers the property layout of every kind it has seen.
// It is not safe for concurrent use.
type Registry struct {
	serializer codec.Serializer
	layouts    map[string][]Descriptor
}

func NewRegistry(serializer codec.Serializer) *Registry {
	if serializer == nil {
		serializer = codec.Default
	}
	return &Registry{
		serializer: serializer,
		layouts:    map[string][]Descriptor{},
	}
}

func (r *Registry) Serializer() codec.Serializer {
	return r.serializer
}

// Discover builds the property set of a record. Every property starts owned by the authority. The first record of a
// kind fixes that kind's layout; later records of the same kind must declare the same properties.
func (r *Registry) Discover(rec Declarable) (*Set, error) {
	d := &Declarer{}
	rec.DeclareProperties(d)

	s := &Set{
		kind:       rec.Kind(),
		byName:     make(map[string]*Property, len(d.members)),
		previous:   map[string][]byte{},
		serializer: r.serializer,
	}
	layout := make([]Descriptor, 0, len(d.members))
	seen := map[string]bool{}
	for _, m := range d.members {
		if seen[m.name] {
			return nil, eris.Wrapf(ErrDuplicateProperty, "kind %q declares %q twice", rec.Kind(), m.name)
		}
		seen[m.name] = true
		if m.notSerialized {
			continue
		}
		p := &Property{member: m, owner: types.AuthorityPeerID}
		s.props = append(s.props, p)
		s.byName[m.name] = p
		layout = append(layout, Descriptor{Name: m.name, Type: m.typ})
	}

	if cached, ok := r.layouts[s.kind]; ok {
		if !slices.Equal(cached, layout) {
			return nil, eris.Wrapf(ErrLayoutMismatch, "kind %q", s.kind)
		}
	} else {
		r.layouts[s.kind] = layout
	}
	return s, nil
}

// Layout returns the registered layout of a kind.
func (r *Registry) Layout(kind string) ([]Descriptor, bool) {
	layout, ok := r.layouts[kind]
	return slices.Clone(layout), ok
}

// Forget drops the layout of a kind so the next record of that kind fixes it again.
func (r *Registry) Forget(kind string) {
	delete(r.layouts, kind)
}

func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.layouts))
	for k := range r.layouts {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Schema returns a JSON document describing every replicable property of the record's kind, with a JSON schema for
// each declared type. Two records of the same kind produce identical documents.
func (r *Registry) Schema(rec Declarable) ([]byte, error) {
	d := &Declarer{}
	rec.DeclareProperties(d)

	props := map[string]json.RawMessage{}
	for _, m := range d.members {
		if m.notSerialized {
			continue
		}
		bz, err := jsonschema.Reflect(m.zero()).MarshalJSON()
		if err != nil {
			return nil, eris.Wrapf(err, "property %q must be json serializable", m.name)
		}
		props[m.name] = bz
	}
	bz, err := json.Marshal(map[string]any{
		"kind":       rec.Kind(),
		"properties": props,
	})
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return bz, nil
}
