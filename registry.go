package bramble

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// CollectionDef is one entity-collection declaration on a Descriptor. It
// carries the entity's definition plus typed repository constructors baked in
// by CollectionOf, which is what lets an untyped Registry hand back fully
// typed repositories later.
type CollectionDef struct {
	def    EntityDef
	reader func(s Session) (any, error)
	writer func(s Session) (any, error)
}

// CollectionOf declares an entity collection of type E for inclusion in a
// Descriptor. The definition's type must be E.
func CollectionOf[E any](def EntityDef) CollectionDef {
	return CollectionDef{
		def: def,
		reader: func(s Session) (any, error) {
			return NewReader[E](s)
		},
		writer: func(s Session) (any, error) {
			return NewWriter[E](s)
		},
	}
}

// Descriptor declares the entity collections a storage context exposes. It is
// the explicit registration table this package uses in place of member
// introspection: the set of repository bindings derived from a Descriptor is
// exactly its Collections, nothing more.
type Descriptor struct {
	// Name identifies the context in diagnostics. Optional.
	Name string

	Collections []CollectionDef
}

// Model builds a Model holding every entity definition the descriptor
// declares, in declaration order.
func (d Descriptor) Model() *Model {
	defs := make([]EntityDef, len(d.Collections))
	for i := range d.Collections {
		defs[i] = d.Collections[i].def
	}
	return NewModel(defs...)
}

type binding struct {
	def       EntityDef
	construct func(s Session) (any, error)
}

// Registry maps entity types to repository constructors under two distinct
// capabilities, read and write. Every resolved repository gets a fresh
// session from the registry's factory, so repositories are per-scope and
// never share session state.
//
// Registration methods return the registry for chaining and are idempotent
// per entity type: re-registering overwrites the prior binding for that
// type/capability pair.
type Registry struct {
	factory SessionFactory
	readers map[reflect.Type]binding
	writers map[reflect.Type]binding
}

// NewRegistry creates a Registry whose resolved repositories draw their
// sessions from the given factory.
func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{
		factory: factory,
		readers: make(map[reflect.Type]binding),
		writers: make(map[reflect.Type]binding),
	}
}

// RegisterReaders registers a read-repository binding for every entity
// collection the descriptor declares.
func (reg *Registry) RegisterReaders(d Descriptor) *Registry {
	for _, c := range d.Collections {
		reg.readers[c.def.Type] = binding{def: c.def, construct: c.reader}
	}
	return reg
}

// RegisterWriters registers a write-repository binding for every entity
// collection the descriptor declares.
func (reg *Registry) RegisterWriters(d Descriptor) *Registry {
	for _, c := range d.Collections {
		reg.writers[c.def.Type] = binding{def: c.def, construct: c.writer}
	}
	return reg
}

// RegisterAll registers both read and write bindings for every entity
// collection the descriptor declares. Read and write bindings for the same
// type never conflict; they live under separate capabilities.
func (reg *Registry) RegisterAll(d Descriptor) *Registry {
	return reg.RegisterReaders(d).RegisterWriters(d)
}

// ReaderEntities returns the sorted entity names with a read binding.
func (reg *Registry) ReaderEntities() []string {
	return bindingNames(reg.readers)
}

// WriterEntities returns the sorted entity names with a write binding.
func (reg *Registry) WriterEntities() []string {
	return bindingNames(reg.writers)
}

func bindingNames(m map[reflect.Type]binding) []string {
	names := make([]string, 0, len(m))
	for _, b := range m {
		names = append(names, b.def.Name)
	}
	sort.Strings(names)
	return names
}

// OpenReader resolves the read binding for entity type E, opens a fresh
// session, and constructs the repository. The caller owns the returned
// repository and must Close it, which releases the session.
func OpenReader[E any](ctx context.Context, reg *Registry) (Reader[E], error) {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b, ok := reg.readers[t]
	if !ok {
		return nil, fmt.Errorf("%w: no read repository registered for %s", ErrBadArgument, t)
	}

	repo, err := open(ctx, reg, b)
	if err != nil {
		return nil, err
	}

	typed, ok := repo.(Reader[E])
	if !ok {
		return nil, NewError(fmt.Sprintf("binding for %s produced a %T, not a Reader", b.def.Name, repo), ErrBadArgument)
	}
	return typed, nil
}

// OpenWriter resolves the write binding for entity type E, opens a fresh
// session, and constructs the repository. The caller owns the returned
// repository and must Close it, which releases the session.
func OpenWriter[E any](ctx context.Context, reg *Registry) (Writer[E], error) {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b, ok := reg.writers[t]
	if !ok {
		return nil, fmt.Errorf("%w: no write repository registered for %s", ErrBadArgument, t)
	}

	repo, err := open(ctx, reg, b)
	if err != nil {
		return nil, err
	}

	typed, ok := repo.(Writer[E])
	if !ok {
		return nil, NewError(fmt.Sprintf("binding for %s produced a %T, not a Writer", b.def.Name, repo), ErrBadArgument)
	}
	return typed, nil
}

func open(ctx context.Context, reg *Registry, b binding) (any, error) {
	if reg.factory == nil {
		return nil, fmt.Errorf("%w: registry has no session factory", ErrBadArgument)
	}

	s, err := reg.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	repo, err := b.construct(s)
	if err != nil {
		// the repo never took ownership, so the session is ours to release.
		s.Close()
		return nil, err
	}
	return repo, nil
}
