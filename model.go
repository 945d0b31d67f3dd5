package bramble

import (
	"fmt"
	"reflect"
)

// KeyField is the resolved descriptor of an entity's primary-key field: the
// field's name and its Go type.
type KeyField struct {
	Name string
	Type reflect.Type
}

// Entity declares one entity type for inclusion in a Model. E is the entity
// type and K its primary-key type. Key is the only required function; it
// reads the key off a live entity. The zero value of K is treated as "key
// unset".
//
// SetKey must be provided for stores to fill in generated keys; NewKey, when
// provided, is used by sessions to generate a key for entities staged for
// insertion with an unset key. Encode and Decode are only needed by stores
// that persist entities as opaque binary records, such as the file-backed
// inmem store.
type Entity[E any, K comparable] struct {
	// Name is the entity's name. Defaults to the Go type name of E.
	Name string

	// KeyField is the name of the primary-key field. Defaults to "ID".
	KeyField string

	Key    func(e E) K
	SetKey func(e E, key K) E
	NewKey func() K

	Encode func(e E) ([]byte, error)
	Decode func(data []byte) (E, error)
}

// Def builds the runtime descriptor for the declared entity. The result is
// registered in a Model with NewModel.
func (d Entity[E, K]) Def() EntityDef {
	eType := reflect.TypeOf((*E)(nil)).Elem()
	kType := reflect.TypeOf((*K)(nil)).Elem()

	def := EntityDef{
		Name: d.Name,
		Type: eType,
		Key:  KeyField{Name: d.KeyField, Type: kType},
	}
	if def.Name == "" {
		def.Name = eType.Name()
	}
	if def.Key.Name == "" {
		def.Key.Name = "ID"
	}

	normalize := func(key any) (K, error) {
		var zero K

		if kv, ok := key.(K); ok {
			return kv, nil
		}

		rv := reflect.ValueOf(key)
		if !rv.IsValid() {
			return zero, fmt.Errorf("%w: key for %s must not be nil", ErrBadArgument, def.Name)
		}

		// only ever convert between numeric kinds; anything fancier, such as
		// int-to-string, silently produces garbage keys.
		if numericKind(rv.Kind()) && numericKind(kType.Kind()) && rv.Type().ConvertibleTo(kType) {
			return rv.Convert(kType).Interface().(K), nil
		}

		return zero, fmt.Errorf("%w: key %v (%T) cannot be used as %s for %s", ErrBadArgument, key, key, kType, def.Name)
	}
	def.normKey = func(key any) (any, error) {
		return normalize(key)
	}

	if d.Key != nil {
		keyFn := d.Key
		def.keyOf = func(e any) (any, bool) {
			var zero K
			ev, ok := e.(E)
			if !ok {
				return nil, false
			}
			k := keyFn(ev)
			return k, k != zero
		}
		def.matchesKey = func(e any, key any) bool {
			ev, ok := e.(E)
			if !ok {
				return false
			}
			kv, err := normalize(key)
			if err != nil {
				return false
			}
			return keyFn(ev) == kv
		}
	}

	if d.SetKey != nil {
		setFn := d.SetKey
		def.withKey = func(e any, key any) (any, error) {
			ev, ok := e.(E)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a %s entity", ErrBadArgument, e, def.Name)
			}
			kv, err := normalize(key)
			if err != nil {
				return nil, err
			}
			return setFn(ev, kv), nil
		}
	}

	if d.NewKey != nil {
		genFn := d.NewKey
		def.newKey = func() any {
			return genFn()
		}
	}

	if d.Encode != nil {
		encFn := d.Encode
		def.encode = func(e any) ([]byte, error) {
			ev, ok := e.(E)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a %s entity", ErrBadArgument, e, def.Name)
			}
			return encFn(ev)
		}
	}
	if d.Decode != nil {
		decFn := d.Decode
		def.decode = func(data []byte) (any, error) {
			return decFn(data)
		}
	}

	return def
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// EntityDef is the runtime descriptor for one entity type as registered in a
// Model. Create one with Entity.Def; the zero value is not usable.
type EntityDef struct {
	Name string
	Type reflect.Type
	Key  KeyField

	keyOf      func(e any) (any, bool)
	withKey    func(e any, key any) (any, error)
	newKey     func() any
	matchesKey func(e any, key any) bool
	normKey    func(key any) (any, error)
	encode     func(e any) ([]byte, error)
	decode     func(data []byte) (any, error)
}

// KeyOf reads the primary-key value off a live entity. The second return
// value is false when the entity is not of this definition's type or its key
// is unset.
func (d EntityDef) KeyOf(e any) (any, bool) {
	if d.keyOf == nil {
		return nil, false
	}
	return d.keyOf(e)
}

// WithKey returns a copy of e with its key field set to key.
func (d EntityDef) WithKey(e any, key any) (any, error) {
	if d.withKey == nil {
		return nil, NewError(fmt.Sprintf("entity %s declares no key setter", d.Name), ErrBadArgument)
	}
	return d.withKey(e, key)
}

// NewKey generates a fresh key value. The second return value is false when
// the definition declares no generator.
func (d EntityDef) NewKey() (any, bool) {
	if d.newKey == nil {
		return nil, false
	}
	return d.newKey(), true
}

// MatchesKey reports whether e's key equals the given boxed literal. The
// literal is normalized with NormalizeKey first, so an int literal matches an
// int64 key.
func (d EntityDef) MatchesKey(e any, key any) bool {
	if d.matchesKey == nil {
		return false
	}
	return d.matchesKey(e, key)
}

// NormalizeKey converts a boxed literal key to the declared key type.
// Literals already of the key type pass through; numeric literals are
// converted between numeric kinds. Anything else is an error matching
// ErrBadArgument.
func (d EntityDef) NormalizeKey(key any) (any, error) {
	if d.normKey == nil {
		return nil, MissingKeyError{Entity: d.Name}
	}
	return d.normKey(key)
}

// CanEncode returns whether this definition carries a binary codec.
func (d EntityDef) CanEncode() bool {
	return d.encode != nil && d.decode != nil
}

// Encode serializes a live entity to its binary record form.
func (d EntityDef) Encode(e any) ([]byte, error) {
	if d.encode == nil {
		return nil, NewError(fmt.Sprintf("entity %s declares no encoder", d.Name), ErrBadArgument)
	}
	return d.encode(e)
}

// Decode deserializes a binary record back into a live entity.
func (d EntityDef) Decode(data []byte) (any, error) {
	if d.decode == nil {
		return nil, NewError(fmt.Sprintf("entity %s declares no decoder", d.Name), ErrBadArgument)
	}
	return d.decode(data)
}

// Model is the descriptor table for every entity type a session manages. It
// is built once at startup and never mutated afterward, so it is safe to
// share between sessions.
type Model struct {
	byName map[string]EntityDef
	byType map[reflect.Type]EntityDef
	order  []string
}

// NewModel builds a Model from the given definitions. When the same entity
// type is declared more than once, the first declaration wins; later ones are
// ignored.
func NewModel(defs ...EntityDef) *Model {
	m := &Model{
		byName: make(map[string]EntityDef, len(defs)),
		byType: make(map[reflect.Type]EntityDef, len(defs)),
	}

	for _, def := range defs {
		if _, ok := m.byType[def.Type]; ok {
			continue
		}
		m.byType[def.Type] = def
		m.byName[def.Name] = def
		m.order = append(m.order, def.Name)
	}

	return m
}

// Entity returns the definition registered for the given entity type. An
// absent type is a MissingKeyError; it means the model was not configured for
// that entity.
func (m *Model) Entity(t reflect.Type) (EntityDef, error) {
	def, ok := m.byType[t]
	if !ok {
		return EntityDef{}, MissingKeyError{Entity: t.Name()}
	}
	return def, nil
}

// EntityByName returns the definition registered under the given entity
// name.
func (m *Model) EntityByName(name string) (EntityDef, error) {
	def, ok := m.byName[name]
	if !ok {
		return EntityDef{}, MissingKeyError{Entity: name}
	}
	return def, nil
}

// Key resolves the primary-key field descriptor for the given entity type.
// It fails with a MissingKeyError when the type is absent from the model or
// its definition declares no key accessor. Pure lookup; no side effects.
func (m *Model) Key(t reflect.Type) (KeyField, error) {
	def, err := m.Entity(t)
	if err != nil {
		return KeyField{}, err
	}
	if def.keyOf == nil {
		return KeyField{}, MissingKeyError{Entity: def.Name}
	}
	return def.Key, nil
}

// Entities returns the names of every registered entity in declaration
// order.
func (m *Model) Entities() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}
