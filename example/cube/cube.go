// Package cube is the sample entity kind: a colored cube that drifts around its spawn point.
package cube

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/property"
	"pkg.world.dev/world-engine/replicate/types"
)

const Kind = "Cube"

type Color string

const (
	Red   Color = "Red"
	Green Color = "Green"
	Blue  Color = "Blue"
)

var Colors = []Color{Red, Green, Blue}

type Cube struct {
	Color  Color
	Pos    types.Vec3
	Origin types.Vec3
	// Phase is local animation state and is never replicated.
	Phase float64
}

// New is the template factory of the kind.
func New() entity.Record {
	return &Cube{Color: Red}
}

func (c *Cube) Kind() string {
	return Kind
}

func (c *Cube) DeclareProperties(d *property.Declarer) {
	property.Field(d, "Color", &c.Color)
	property.Field(d, "Position", &c.Pos)
	property.Field(d, "Origin", &c.Origin)
	property.Field(d, "Phase", &c.Phase, property.NotSerialized())
}

func (c *Cube) Position() types.Vec3 {
	return c.Pos
}

func (c *Cube) PropertyReplicated(e *entity.Entity, name string) {
	if name == "Color" {
		log.Debug().Str("ref", e.Ref().String()).Str("color", string(c.Color)).Msg("cube changed color")
	}
}

// Oscillate moves every cube whose position the local peer owns along a circle around its origin.
func Oscillate(cubes []*entity.Entity, dt time.Duration) {
	for _, e := range cubes {
		if !e.IsPropertyOwner("Position") {
			continue
		}
		c, ok := e.Record().(*Cube)
		if !ok {
			continue
		}
		c.Phase = math.Mod(c.Phase+dt.Seconds(), 2*math.Pi)
		c.Pos = types.Vec3{
			X: c.Origin.X + math.Cos(c.Phase),
			Y: c.Origin.Y,
			Z: c.Origin.Z + math.Sin(c.Phase),
		}
	}
}
