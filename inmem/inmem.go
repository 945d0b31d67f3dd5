// Package inmem provides a map-backed bramble.Session. It is the session to
// reach for in tests and in programs that do not need durability, though a
// Store opened with Open will persist itself to a data file on every commit.
//
// A Store follows the session contract exactly: nothing mutates until Commit,
// and a failed or canceled Commit leaves both the store and the staged
// change set untouched.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kettleside/bramble"
)

type opKind int

const (
	opAdd opKind = iota
	opUpdate
	opRemove
)

func (k opKind) String() string {
	switch k {
	case opAdd:
		return "add"
	case opUpdate:
		return "update"
	case opRemove:
		return "remove"
	default:
		return fmt.Sprintf("opKind(%d)", int(k))
	}
}

type op struct {
	kind   opKind
	entity string
	key    any
	item   any
}

// Store is an in-memory bramble.Session. Like every session it is meant for
// a single owner and is not safe for concurrent use.
type Store struct {
	model  *bramble.Model
	data   map[string]map[any]any
	staged []op
	path   string
	closed bool
}

// NewStore creates an empty Store over the given model.
func NewStore(m *bramble.Model) *Store {
	s := &Store{
		model: m,
		data:  make(map[string]map[any]any),
	}
	for _, name := range m.Entities() {
		s.data[name] = make(map[any]any)
	}
	return s
}

// Open creates a Store that persists to the given data file after every
// commit. If the file already exists its contents are loaded; every entity in
// the model must then carry a binary codec.
func Open(m *bramble.Model, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: data file path must not be empty", bramble.ErrBadArgument)
	}

	s := NewStore(m)
	s.path = path

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, bramble.WrapDBError(err, "stat data file")
	}

	return s, nil
}

func (s *Store) Model() *bramble.Model {
	return s.model
}

func (s *Store) Find(ctx context.Context, entity string, keys ...any) (any, bool, error) {
	if s.closed {
		return nil, false, bramble.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	def, err := s.model.EntityByName(entity)
	if err != nil {
		return nil, false, err
	}
	if len(keys) != 1 {
		return nil, false, fmt.Errorf("%w: inmem sessions support single-segment keys, got %d segments", bramble.ErrBadArgument, len(keys))
	}

	key, err := def.NormalizeKey(keys[0])
	if err != nil {
		return nil, false, err
	}

	item, ok := s.data[entity][key]
	if !ok {
		return nil, false, nil
	}
	return item, true, nil
}

func (s *Store) Collection(entity string, tracked bool) (bramble.Collection, error) {
	if s.closed {
		return nil, bramble.ErrSessionClosed
	}

	def, err := s.model.EntityByName(entity)
	if err != nil {
		return nil, err
	}

	return &collection{store: s, def: def, tracked: tracked}, nil
}

func (s *Store) Add(entity string, items ...any) ([]any, error) {
	if s.closed {
		return nil, bramble.ErrSessionClosed
	}

	def, err := s.model.EntityByName(entity)
	if err != nil {
		return nil, err
	}

	staged := make([]any, len(items))
	for i, item := range items {
		key, ok := def.KeyOf(item)
		if !ok {
			gen, hasGen := def.NewKey()
			if !hasGen {
				return nil, bramble.MissingKeyValueError{Entity: entity, KeyField: def.Key.Name}
			}
			item, err = def.WithKey(item, gen)
			if err != nil {
				return nil, err
			}
			key = gen
		}

		staged[i] = item
		s.staged = append(s.staged, op{kind: opAdd, entity: entity, key: key, item: item})
	}

	return staged, nil
}

func (s *Store) Update(entity string, items ...any) error {
	return s.stageKeyed(opUpdate, entity, items)
}

func (s *Store) Remove(entity string, items ...any) error {
	return s.stageKeyed(opRemove, entity, items)
}

func (s *Store) stageKeyed(kind opKind, entity string, items []any) error {
	if s.closed {
		return bramble.ErrSessionClosed
	}

	def, err := s.model.EntityByName(entity)
	if err != nil {
		return err
	}

	// validate the whole batch before staging any of it
	keys := make([]any, len(items))
	for i, item := range items {
		key, ok := def.KeyOf(item)
		if !ok {
			return bramble.MissingKeyValueError{Entity: entity, KeyField: def.Key.Name}
		}
		keys[i] = key
	}

	for i, item := range items {
		s.staged = append(s.staged, op{kind: kind, entity: entity, key: keys[i], item: item})
	}
	return nil
}

// Commit applies every staged change, in staging order, or none of them. The
// staged set is only cleared on success; a failed commit can be retried after
// the caller fixes the cause.
func (s *Store) Commit(ctx context.Context) error {
	if s.closed {
		return bramble.ErrSessionClosed
	}
	if len(s.staged) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// apply against copies of the touched collections; swap in only when
	// every op succeeded.
	work := make(map[string]map[any]any)
	for _, o := range s.staged {
		if _, ok := work[o.entity]; ok {
			continue
		}
		dup := make(map[any]any, len(s.data[o.entity]))
		for k, v := range s.data[o.entity] {
			dup[k] = v
		}
		work[o.entity] = dup
	}

	for _, o := range s.staged {
		coll := work[o.entity]
		switch o.kind {
		case opAdd:
			if _, exists := coll[o.key]; exists {
				return fmt.Errorf("%w: %s with key %v already exists", bramble.ErrConstraintViolation, o.entity, o.key)
			}
			coll[o.key] = o.item
		case opUpdate:
			if _, exists := coll[o.key]; !exists {
				return fmt.Errorf("%w: cannot update %s with key %v", bramble.ErrNotFound, o.entity, o.key)
			}
			coll[o.key] = o.item
		case opRemove:
			if _, exists := coll[o.key]; !exists {
				return fmt.Errorf("%w: cannot remove %s with key %v", bramble.ErrNotFound, o.entity, o.key)
			}
			delete(coll, o.key)
		}
	}

	// persist the post-commit view before touching s.data, so a persist
	// failure leaves both the store and the staged set untouched
	if s.path != "" {
		snap := make(map[string]map[any]any, len(s.data))
		for entity, coll := range s.data {
			snap[entity] = coll
		}
		for entity, coll := range work {
			snap[entity] = coll
		}
		if err := s.persist(snap); err != nil {
			return err
		}
	}

	for entity, coll := range work {
		s.data[entity] = coll
	}
	s.staged = nil
	return nil
}

// Discard drops every staged change without applying any of them.
func (s *Store) Discard() error {
	if s.closed {
		return bramble.ErrSessionClosed
	}
	s.staged = nil
	return nil
}

// Close marks the store closed. It never persists; persistence happens on
// commit. Safe to call multiple times.
func (s *Store) Close() error {
	s.closed = true
	return nil
}

// Staged returns the number of changes currently staged and not yet
// committed.
func (s *Store) Staged() int {
	return len(s.staged)
}
