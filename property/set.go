package property

import (
	"bytes"
	"maps"

	"github.com/rotisserie/eris"

	"pkg.world.dev/world-engine/replicate/codec"
	"pkg.world.dev/world-engine/replicate/types"
)

type Property struct {
	member
	owner types.PeerID
}

func (p *Property) Name() string {
	return p.name
}

// Type is the declared Go type of the property.
func (p *Property) Type() string {
	return p.typ
}

func (p *Property) Owner() types.PeerID {
	return p.owner
}

// Value returns the current value through the getter.
func (p *Property) Value() any {
	return p.get()
}

// Set is the replicated property table of one entity, together with the serialized value each locally owned property
// had at its last broadcast.
type Set struct {
	kind       string
	props      []*Property
	byName     map[string]*Property
	previous   map[string][]byte
	serializer codec.Serializer
}

func (s *Set) Kind() string {
	return s.kind
}

// Names lists the properties in declaration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.props))
	for i, p := range s.props {
		names[i] = p.name
	}
	return names
}

func (s *Set) Len() int {
	return len(s.props)
}

func (s *Set) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

func (s *Set) Lookup(name string) (*Property, bool) {
	p, ok := s.byName[name]
	return p, ok
}

func (s *Set) get(name string) (*Property, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownProperty, "kind %q has no property %q", s.kind, name)
	}
	return p, nil
}

func (s *Set) Owner(name string) (types.PeerID, error) {
	p, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return p.owner, nil
}

func (s *Set) IsOwner(name string, peer types.PeerID) bool {
	p, ok := s.byName[name]
	return ok && p.owner == peer
}

// SetOwner assigns a new owner and reports whether the owner actually changed.
func (s *Set) SetOwner(name string, owner types.PeerID) (bool, error) {
	p, err := s.get(name)
	if err != nil {
		return false, err
	}
	if p.owner == owner {
		return false, nil
	}
	p.owner = owner
	return true, nil
}

// ResetOwners returns every property to the authority.
func (s *Set) ResetOwners() {
	for _, p := range s.props {
		p.owner = types.AuthorityPeerID
	}
}

// Owners returns the owner of every property not owned by the authority. Authority ownership is the default and is
// left out.
func (s *Set) Owners() map[string]types.PeerID {
	owners := map[string]types.PeerID{}
	for _, p := range s.props {
		if p.owner != types.AuthorityPeerID {
			owners[p.name] = p.owner
		}
	}
	return owners
}

// ApplyOwners resets ownership to the authority and then applies the given assignments.
func (s *Set) ApplyOwners(owners map[string]types.PeerID) error {
	for name := range owners {
		if _, err := s.get(name); err != nil {
			return err
		}
	}
	s.ResetOwners()
	for name, owner := range owners {
		s.byName[name].owner = owner
	}
	return nil
}

func (s *Set) Value(name string) ([]byte, error) {
	p, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return s.serializer.Marshal(p.get())
}

// Values serializes every property. It is the full snapshot sent on spawn.
func (s *Set) Values() (map[string][]byte, error) {
	values := make(map[string][]byte, len(s.props))
	for _, p := range s.props {
		bz, err := s.serializer.Marshal(p.get())
		if err != nil {
			return nil, eris.Wrapf(err, "property %q", p.name)
		}
		values[p.name] = bz
	}
	return values, nil
}

// ChangedValues serializes every property owned by local and returns those whose bytes differ from the previous call.
// The cache is updated for the returned properties. Cache entries of properties local no longer owns are dropped, so
// a property that comes back under local ownership is broadcast again.
func (s *Set) ChangedValues(local types.PeerID) (map[string][]byte, error) {
	changed := map[string][]byte{}
	for _, p := range s.props {
		if p.owner != local {
			delete(s.previous, p.name)
			continue
		}
		bz, err := s.serializer.Marshal(p.get())
		if err != nil {
			return nil, eris.Wrapf(err, "property %q", p.name)
		}
		if prev, ok := s.previous[p.name]; ok && bytes.Equal(prev, bz) {
			continue
		}
		s.previous[p.name] = bz
		changed[p.name] = bz
	}
	return changed, nil
}

// Previous returns a copy of the change detection cache.
func (s *Set) Previous() map[string][]byte {
	return maps.Clone(s.previous)
}

// ForgetPrevious clears the change detection cache, forcing the next ChangedValues to report every owned property.
func (s *Set) ForgetPrevious() {
	clear(s.previous)
}

// Decode deserializes every value and returns a function that assigns them all. Nothing is assigned when any name is
// unknown or any value fails to decode.
func (s *Set) Decode(values map[string][]byte) (func(), error) {
	setters := make([]func(), 0, len(values))
	for _, p := range s.props {
		bz, ok := values[p.name]
		if !ok {
			continue
		}
		set, err := p.decode(s.serializer, bz)
		if err != nil {
			return nil, eris.Wrapf(err, "property %q of kind %q", p.name, s.kind)
		}
		setters = append(setters, set)
	}
	if len(setters) != len(values) {
		for name := range values {
			if _, err := s.get(name); err != nil {
				return nil, err
			}
		}
	}
	return func() {
		for _, set := range setters {
			set()
		}
	}, nil
}

// Ordered returns the names present in values in declaration order.
func (s *Set) Ordered(values map[string][]byte) []string {
	names := make([]string, 0, len(values))
	for _, p := range s.props {
		if _, ok := values[p.name]; ok {
			names = append(names, p.name)
		}
	}
	return names
}
