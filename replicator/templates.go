package replicator

import (
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/wI2L/jsondiff"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/property"
	"pkg.world.dev/world-engine/replicate/storage"
)

var (
	ErrTemplateNotRegistered = eris.New("template not registered")
	ErrSchemaMismatch        = eris.New("kind does not match the schema in storage")
)

// Factory returns a new record with its properties at their declared defaults.
type Factory func() entity.Record

type Template struct {
	Kind    string
	Factory Factory
	Schema  []byte
}

type templateManager struct {
	registered map[string]*Template
	order      []string
	registry   *property.Registry
	schemas    storage.SchemaStorage
}

func newTemplateManager(registry *property.Registry, schemas storage.SchemaStorage) *templateManager {
	return &templateManager{
		registered: map[string]*Template{},
		registry:   registry,
		schemas:    schemas,
	}
}

// register adds a template. A kind can be registered once. If storage already holds a schema for the kind, the
// template must match it; otherwise the template's schema is stored.
func (m *templateManager) register(factory Factory) (*Template, error) {
	rec := factory()
	if rec == nil {
		return nil, eris.New("template factory returned nil")
	}
	kind := rec.Kind()
	if _, ok := m.registered[kind]; ok {
		return nil, eris.Errorf("template %q is already registered", kind)
	}

	// Discovering a fresh record fixes the kind's layout and surfaces duplicate property names before anything is
	// written to schema storage.
	_, known := m.registry.Layout(kind)
	if _, err := m.registry.Discover(rec); err != nil {
		return nil, err
	}
	schema, err := m.checkSchema(kind, rec)
	if err != nil {
		if !known {
			m.registry.Forget(kind)
		}
		return nil, err
	}

	t := &Template{Kind: kind, Factory: factory, Schema: schema}
	m.registered[kind] = t
	m.order = append(m.order, kind)
	return t, nil
}

// checkSchema validates the record's schema against storage, storing it if the kind has none yet.
func (m *templateManager) checkSchema(kind string, rec entity.Record) ([]byte, error) {
	schema, err := m.registry.Schema(rec)
	if err != nil {
		return nil, err
	}
	stored, err := m.schemas.GetSchema(kind)
	if err != nil && !eris.Is(err, storage.ErrNoSchemaFound) {
		return nil, err
	}
	if stored != nil {
		if err := validateSchema(schema, stored); err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("template %q", kind))
		}
		return schema, nil
	}
	if err := m.schemas.SetSchema(kind, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

func (m *templateManager) get(kind string) (*Template, error) {
	t, ok := m.registered[kind]
	if !ok {
		return nil, eris.Wrap(ErrTemplateNotRegistered, fmt.Sprintf("template %q is not registered", kind))
	}
	return t, nil
}

func (m *templateManager) all() []*Template {
	templates := make([]*Template, 0, len(m.order))
	for _, kind := range m.order {
		templates = append(templates, m.registered[kind])
	}
	return templates
}

func validateSchema(schema, stored []byte) error {
	diff, err := jsondiff.CompareJSON(stored, schema)
	if err != nil {
		return eris.Wrap(err, "failed to compare template schema")
	}
	if diff.String() != "" {
		return eris.Wrap(ErrSchemaMismatch, diff.String())
	}
	return nil
}

// RegisterTemplate makes a kind spawnable by name, locally and on behalf of remote spawn messages.
func (r *Replicator) RegisterTemplate(factory Factory) error {
	t, err := r.templates.register(factory)
	if err != nil {
		return err
	}
	r.logger.Debug().Str("kind", t.Kind).Msg("registered template")
	return nil
}

func (r *Replicator) Template(kind string) (*Template, error) {
	return r.templates.get(kind)
}

// Templates returns the registered templates in registration order.
func (r *Replicator) Templates() []*Template {
	return r.templates.all()
}

// TemplateKinds returns the registered kinds in registration order.
func (r *Replicator) TemplateKinds() []string {
	return slices.Clone(r.templates.order)
}

// Instantiate builds a record of the named kind at its declared defaults.
func (r *Replicator) Instantiate(kind string) (entity.Record, error) {
	t, err := r.templates.get(kind)
	if err != nil {
		return nil, err
	}
	rec := t.Factory()
	if rec == nil || rec.Kind() != kind {
		return nil, eris.Errorf("template %q built a record of another kind", kind)
	}
	return rec, nil
}
