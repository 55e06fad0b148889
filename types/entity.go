package types

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// EntityID is the globally unique, 128-bit random identity of an entity.
type EntityID uuid.UUID

var NilEntityID = EntityID(uuid.Nil)

func NewEntityID() EntityID {
	return EntityID(uuid.New())
}

func ParseEntityID(s string) (EntityID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilEntityID, eris.Wrapf(err, "invalid entity id %q", s)
	}
	return EntityID(id), nil
}

func EntityIDFromBytes(bz []byte) (EntityID, error) {
	id, err := uuid.FromBytes(bz)
	if err != nil {
		return NilEntityID, eris.Wrap(err, "invalid entity id bytes")
	}
	return EntityID(id), nil
}

func (id EntityID) String() string {
	return uuid.UUID(id).String()
}

func (id EntityID) Bytes() []byte {
	bz := [16]byte(id)
	return bz[:]
}

func (id EntityID) IsNil() bool {
	return id == NilEntityID
}

func (id EntityID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *EntityID) UnmarshalText(text []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(text); err != nil {
		return eris.Wrap(err, "")
	}
	*id = EntityID(u)
	return nil
}

// EntityRef names an entity across the network without holding a reference to it.
type EntityRef struct {
	Type string   `json:"type"`
	ID   EntityID `json:"id"`
}

func (r EntityRef) String() string {
	return r.Type + "/" + r.ID.String()
}
