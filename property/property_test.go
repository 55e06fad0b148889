package property_test

import (
	"testing"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/codec"
	"pkg.world.dev/world-engine/replicate/property"
	"pkg.world.dev/world-engine/replicate/types"
)

type Color string

type cube struct {
	Color    Color
	Position types.Vec3
	Mesh     string
	health   int
}

func (c *cube) Kind() string { return "Cube" }

func (c *cube) DeclareProperties(d *property.Declarer) {
	property.Field(d, "Color", &c.Color)
	property.Field(d, "Position", &c.Position)
	property.Field(d, "Mesh", &c.Mesh, property.NotSerialized())
	property.Accessor(d, "Health",
		func() int { return c.health },
		func(v int) { c.health = v })
}

type duplicate struct {
	A, B int
}

func (d *duplicate) Kind() string { return "Duplicate" }

func (d *duplicate) DeclareProperties(dec *property.Declarer) {
	property.Field(dec, "A", &d.A)
	property.Field(dec, "A", &d.B)
}

func newCubeSet(t *testing.T) (*cube, *property.Set) {
	c := &cube{Color: "Red"}
	set, err := property.NewRegistry(nil).Discover(c)
	assert.NilError(t, err)
	return c, set
}

func TestDiscoverKeepsReplicableMembersInOrder(t *testing.T) {
	_, set := newCubeSet(t)
	assert.DeepEqual(t, []string{"Color", "Position", "Health"}, set.Names())
	assert.False(t, set.Has("Mesh"))

	p, ok := set.Lookup("Color")
	assert.True(t, ok)
	assert.Equal(t, "property_test.Color", p.Type())
	assert.Equal(t, types.AuthorityPeerID, p.Owner())
}

func TestDiscoverRejectsDuplicateNames(t *testing.T) {
	_, err := property.NewRegistry(nil).Discover(&duplicate{})
	assert.ErrorIs(t, err, property.ErrDuplicateProperty)
}

func TestChangedValuesIsIdempotent(t *testing.T) {
	c, set := newCubeSet(t)

	first, err := set.ChangedValues(types.AuthorityPeerID)
	assert.NilError(t, err)
	assert.Len(t, first, 3)
	assert.BytesEqual(t, []byte(`"Red"`), first["Color"])

	second, err := set.ChangedValues(types.AuthorityPeerID)
	assert.NilError(t, err)
	assert.Len(t, second, 0)

	c.Color = "Blue"
	third, err := set.ChangedValues(types.AuthorityPeerID)
	assert.NilError(t, err)
	assert.Len(t, third, 1)
	assert.BytesEqual(t, []byte(`"Blue"`), third["Color"])
}

func TestChangedValuesOnlyCoversOwnedProperties(t *testing.T) {
	c, set := newCubeSet(t)
	changed, err := set.ChangedValues(2)
	assert.NilError(t, err)
	assert.Len(t, changed, 0)

	_, err = set.SetOwner("Color", 2)
	assert.NilError(t, err)
	c.Color = "Green"
	changed, err = set.ChangedValues(2)
	assert.NilError(t, err)
	assert.Len(t, changed, 1)
	assert.BytesEqual(t, []byte(`"Green"`), changed["Color"])
}

func TestOwnershipRegainedRebroadcasts(t *testing.T) {
	_, set := newCubeSet(t)
	_, err := set.ChangedValues(types.AuthorityPeerID)
	assert.NilError(t, err)

	_, err = set.SetOwner("Color", 2)
	assert.NilError(t, err)
	_, err = set.ChangedValues(types.AuthorityPeerID)
	assert.NilError(t, err)
	_, err = set.SetOwner("Color", types.AuthorityPeerID)
	assert.NilError(t, err)

	changed, err := set.ChangedValues(types.AuthorityPeerID)
	assert.NilError(t, err)
	assert.Contains(t, changed, "Color")
}

func TestSetOwnerReportsChange(t *testing.T) {
	_, set := newCubeSet(t)
	changed, err := set.SetOwner("Color", types.AuthorityPeerID)
	assert.NilError(t, err)
	assert.False(t, changed)

	changed, err = set.SetOwner("Color", 2)
	assert.NilError(t, err)
	assert.True(t, changed)
	assert.True(t, set.IsOwner("Color", 2))
	assert.DeepEqual(t, map[string]types.PeerID{"Color": 2}, set.Owners())

	_, err = set.SetOwner("Nope", 2)
	assert.ErrorIs(t, err, property.ErrUnknownProperty)

	set.ResetOwners()
	assert.Len(t, set.Owners(), 0)
}

func TestApplyOwnersReplacesAssignments(t *testing.T) {
	_, set := newCubeSet(t)
	_, err := set.SetOwner("Health", 4)
	assert.NilError(t, err)

	assert.NilError(t, set.ApplyOwners(map[string]types.PeerID{"Color": 3}))
	assert.DeepEqual(t, map[string]types.PeerID{"Color": 3}, set.Owners())

	err = set.ApplyOwners(map[string]types.PeerID{"Nope": 3})
	assert.ErrorIs(t, err, property.ErrUnknownProperty)
	assert.DeepEqual(t, map[string]types.PeerID{"Color": 3}, set.Owners())
}

func TestDecodeAppliesNothingOnFailure(t *testing.T) {
	c, set := newCubeSet(t)

	_, err := set.Decode(map[string][]byte{
		"Color":  []byte(`"Blue"`),
		"Health": []byte(`"not a number"`),
	})
	assert.ErrorIs(t, err, codec.ErrDecode)
	assert.Equal(t, Color("Red"), c.Color)

	_, err = set.Decode(map[string][]byte{
		"Color": []byte(`"Blue"`),
		"Nope":  []byte(`1`),
	})
	assert.ErrorIs(t, err, property.ErrUnknownProperty)
	assert.Equal(t, Color("Red"), c.Color)

	apply, err := set.Decode(map[string][]byte{
		"Color":  []byte(`"Blue"`),
		"Health": []byte(`7`),
	})
	assert.NilError(t, err)
	assert.Equal(t, Color("Red"), c.Color)
	apply()
	assert.Equal(t, Color("Blue"), c.Color)
	assert.Equal(t, 7, c.health)
}

func TestValuesRoundTrip(t *testing.T) {
	src := &cube{Color: "Purple", Position: types.Vec3{X: 1.5, Y: -2, Z: 1e9}, health: 42}
	reg := property.NewRegistry(nil)
	srcSet, err := reg.Discover(src)
	assert.NilError(t, err)
	values, err := srcSet.Values()
	assert.NilError(t, err)

	dst := &cube{}
	dstSet, err := reg.Discover(dst)
	assert.NilError(t, err)
	apply, err := dstSet.Decode(values)
	assert.NilError(t, err)
	apply()

	assert.Equal(t, src.Color, dst.Color)
	assert.Equal(t, src.Position, dst.Position)
	assert.Equal(t, src.health, dst.health)

	again, err := dstSet.Values()
	assert.NilError(t, err)
	for name, bz := range values {
		assert.BytesEqual(t, bz, again[name])
	}
}

type shrunkCube struct {
	Color Color
}

func (s *shrunkCube) Kind() string { return "Cube" }

func (s *shrunkCube) DeclareProperties(d *property.Declarer) {
	property.Field(d, "Color", &s.Color)
}

func TestLayoutIsFixedPerKind(t *testing.T) {
	reg := property.NewRegistry(nil)
	_, err := reg.Discover(&cube{})
	assert.NilError(t, err)

	layout, ok := reg.Layout("Cube")
	assert.True(t, ok)
	assert.Len(t, layout, 3)
	assert.DeepEqual(t, []string{"Cube"}, reg.Kinds())

	_, err = reg.Discover(&shrunkCube{})
	assert.ErrorIs(t, err, property.ErrLayoutMismatch)
}

func TestSchemaIsStablePerKind(t *testing.T) {
	reg := property.NewRegistry(nil)
	a, err := reg.Schema(&cube{Color: "Red"})
	assert.NilError(t, err)
	b, err := reg.Schema(&cube{Color: "Blue", health: 3})
	assert.NilError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Contains(t, string(a), `"Color"`)
	assert.NotContains(t, string(a), `"Mesh"`)

	c, err := reg.Schema(&shrunkCube{})
	assert.NilError(t, err)
	assert.NotContains(t, string(c), `"Health"`)
}
