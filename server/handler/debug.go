package handler

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/property"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/types"
)

type debugEntityElement struct {
	Ref        types.EntityRef            `json:"ref"`
	Properties map[string]json.RawMessage `json:"properties"`
	Owners     map[string]types.PeerID    `json:"owners,omitempty"`
}

type DebugEntitiesResponse struct {
	Peer     types.PeerID          `json:"peer"`
	Peers    []types.PeerID        `json:"peers"`
	Entities []*debugEntityElement `json:"entities"`
}

func describeEntity(e *entity.Entity) (*debugEntityElement, error) {
	values, err := e.PropertyValues()
	if err != nil {
		return nil, err
	}
	element := &debugEntityElement{
		Ref:        e.Ref(),
		Properties: make(map[string]json.RawMessage, len(values)),
		Owners:     e.PropertyOwners(),
	}
	for name, bz := range values {
		element.Properties[name] = bz
	}
	return element, nil
}

// GetDebugEntities lists every live entity with its replicated values. An optional "type" query parameter restricts
// the listing to one kind.
func GetDebugEntities(provider Provider) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		kind := ctx.Query("type")
		var result DebugEntitiesResponse
		err := provider.Do(ctx.UserContext(), func(r *replicator.Replicator) error {
			result.Peer = r.LocalPeer()
			result.Peers = r.Peers()
			entities := r.AllEntities()
			if kind != "" {
				entities = r.Entities(kind)
			}
			result.Entities = make([]*debugEntityElement, 0, len(entities))
			for _, e := range entities {
				element, err := describeEntity(e)
				if err != nil {
					return err
				}
				result.Entities = append(result.Entities, element)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return ctx.JSON(&result)
	}
}

func GetDebugEntity(provider Provider) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		id, err := types.ParseEntityID(ctx.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid entity id")
		}
		ref := types.EntityRef{Type: ctx.Params("type"), ID: id}

		var element *debugEntityElement
		err = provider.Do(ctx.UserContext(), func(r *replicator.Replicator) error {
			e, ok := r.GetEntity(ref)
			if !ok {
				return fiber.NewError(fiber.StatusNotFound, "no live entity "+ref.String())
			}
			element, err = describeEntity(e)
			return err
		})
		if err != nil {
			return err
		}
		return ctx.JSON(element)
	}
}

type templateDetail struct {
	Kind       string                `json:"kind"`
	Properties []property.Descriptor `json:"properties"`
	Schema     json.RawMessage       `json:"schema"`
}

// GetDebugTemplates describes every registered template.
func GetDebugTemplates(provider Provider) func(*fiber.Ctx) error {
	return func(ctx *fiber.Ctx) error {
		var result []templateDetail
		err := provider.Do(ctx.UserContext(), func(r *replicator.Replicator) error {
			templates := r.Templates()
			result = make([]templateDetail, 0, len(templates))
			for _, tmpl := range templates {
				layout, _ := r.Registry().Layout(tmpl.Kind)
				result = append(result, templateDetail{
					Kind:       tmpl.Kind,
					Properties: layout,
					Schema:     tmpl.Schema,
				})
			}
			return nil
		})
		if err != nil {
			return err
		}
		return ctx.JSON(result)
	}
}
