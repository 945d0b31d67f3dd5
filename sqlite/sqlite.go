// Package sqlite provides a bramble.Session backed by a SQLite database
// file. Entities are mapped to tables through explicit Table bindings
// supplied at open time; the package never inspects entity structs itself.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kettleside/bramble"
	"modernc.org/sqlite"
)

// WrapDBError wraps an error from the SQLite engine into an error useable by
// the rest of the bramble packages. It should be called on any error
// returned from SQLite before the session passes the error back to a caller.
func WrapDBError(err error) error {
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		primaryCode := sqliteErr.Code() & 0xff
		if primaryCode == 19 {
			return bramble.WrapDBError(fmt.Errorf("%w: %s", bramble.ErrConstraintViolation, err.Error()))
		}
		if primaryCode == 1 {
			// this is a generic error and thus the string is not descriptive,
			// so preserve the original error instead
			return bramble.WrapDBError(err)
		}
		return bramble.WrapDBError(errors.New(sqlite.ErrorCodeString[sqliteErr.Code()]))
	} else if errors.Is(err, sql.ErrNoRows) {
		return bramble.WrapDBError(bramble.ErrNotFound)
	}
	return bramble.WrapDBError(err)
}

// Table binds one entity to its SQLite table.
type Table struct {
	// Entity is the entity name as registered in the model.
	Entity string

	// Name is the table name.
	Name string

	// Columns lists the table's columns. The first column must be the
	// primary-key column.
	Columns []string

	// Schema is the CREATE TABLE IF NOT EXISTS statement run at open time.
	Schema string

	// Scan materializes one entity from a row. It is handed the row's Scan
	// function and must read exactly the columns in Columns, in order.
	Scan func(scan func(dest ...any) error) (any, error)

	// Args flattens an entity into column values aligned with Columns.
	Args func(e any) ([]any, error)
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

type op struct {
	kind   opKind
	entity string
	key    any
	item   any
}

// Store is a SQLite-backed bramble.Session. Like every session it has a
// single owner and is not safe for concurrent use.
type Store struct {
	db     *sql.DB
	model  *bramble.Model
	tables map[string]Table
	ident  map[string]map[any]any
	staged []op
	closed bool
}

// New opens (creating if needed) the SQLite database at the given file path
// and runs each table's schema statement.
func New(file string, m *bramble.Model, tables ...Table) (*Store, error) {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, WrapDBError(err)
	}

	s := FromDB(db, m, tables...)
	for _, t := range tables {
		if t.Schema == "" {
			continue
		}
		if _, err := db.Exec(t.Schema); err != nil {
			db.Close()
			return nil, WrapDBError(err)
		}
	}

	return s, nil
}

// FromDB wraps an already-open database handle. No schema statements are
// run. The store takes ownership of the handle.
func FromDB(db *sql.DB, m *bramble.Model, tables ...Table) *Store {
	s := &Store{
		db:     db,
		model:  m,
		tables: make(map[string]Table, len(tables)),
		ident:  make(map[string]map[any]any),
	}
	for _, t := range tables {
		s.tables[t.Entity] = t
		s.ident[t.Entity] = make(map[any]any)
	}
	return s
}

func (s *Store) Model() *bramble.Model {
	return s.model
}

func (s *Store) table(entity string) (Table, error) {
	t, ok := s.tables[entity]
	if !ok {
		return Table{}, bramble.NewError(fmt.Sprintf("no table bound for entity %s", entity), bramble.ErrBadArgument)
	}
	return t, nil
}

// Find satisfies the lookup from the identity map when the entity was
// previously materialized by this session, and only reaches the database on
// an identity-map miss.
func (s *Store) Find(ctx context.Context, entity string, keys ...any) (any, bool, error) {
	if s.closed {
		return nil, false, bramble.ErrSessionClosed
	}

	def, err := s.model.EntityByName(entity)
	if err != nil {
		return nil, false, err
	}
	if len(keys) != 1 {
		return nil, false, fmt.Errorf("%w: sqlite sessions support single-segment keys, got %d segments", bramble.ErrBadArgument, len(keys))
	}

	key, err := def.NormalizeKey(keys[0])
	if err != nil {
		return nil, false, err
	}

	if item, ok := s.ident[entity][key]; ok {
		return item, true, nil
	}

	t, err := s.table(entity)
	if err != nil {
		return nil, false, err
	}

	row := s.db.QueryRowContext(ctx, selectByKeySQL(t), key)
	item, err := t.Scan(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, WrapDBError(err)
	}

	s.remember(entity, key, item)
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
	if _, err := s.table(entity); err != nil {
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
		s.staged = append(s.staged, op{kind: opInsert, entity: entity, key: key, item: item})
	}

	return staged, nil
}

func (s *Store) Update(entity string, items ...any) error {
	return s.stageKeyed(opUpdate, entity, items)
}

func (s *Store) Remove(entity string, items ...any) error {
	return s.stageKeyed(opDelete, entity, items)
}

func (s *Store) stageKeyed(kind opKind, entity string, items []any) error {
	if s.closed {
		return bramble.ErrSessionClosed
	}

	def, err := s.model.EntityByName(entity)
	if err != nil {
		return err
	}

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

// Commit runs every staged change inside a single transaction. Cancellation
// of ctx rolls the transaction back; the staged set is only cleared once the
// transaction commits.
func (s *Store) Commit(ctx context.Context) error {
	if s.closed {
		return bramble.ErrSessionClosed
	}
	if len(s.staged) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapDBError(err)
	}

	for _, o := range s.staged {
		if err := s.apply(ctx, tx, o); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return WrapDBError(err)
	}

	for _, o := range s.staged {
		switch o.kind {
		case opInsert, opUpdate:
			s.remember(o.entity, o.key, o.item)
		case opDelete:
			delete(s.ident[o.entity], o.key)
		}
	}
	s.staged = nil
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, o op) error {
	t, err := s.table(o.entity)
	if err != nil {
		return err
	}

	args, err := t.Args(o.item)
	if err != nil {
		return err
	}
	if len(args) != len(t.Columns) {
		return bramble.NewError(fmt.Sprintf("table %s binds %d columns but Args produced %d values", t.Name, len(t.Columns), len(args)), bramble.ErrBadArgument)
	}

	switch o.kind {
	case opInsert:
		if _, err := tx.ExecContext(ctx, insertSQL(t), args...); err != nil {
			return WrapDBError(err)
		}
	case opUpdate:
		// key column moves to the WHERE clause
		setArgs := append(append([]any{}, args[1:]...), args[0])
		res, err := tx.ExecContext(ctx, updateSQL(t), setArgs...)
		if err != nil {
			return WrapDBError(err)
		}
		if err := requireAffected(res, o); err != nil {
			return err
		}
	case opDelete:
		res, err := tx.ExecContext(ctx, deleteSQL(t), args[0])
		if err != nil {
			return WrapDBError(err)
		}
		if err := requireAffected(res, o); err != nil {
			return err
		}
	}
	return nil
}

func requireAffected(res sql.Result, o op) error {
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return WrapDBError(err)
	}
	if rowsAff < 1 {
		return fmt.Errorf("%w: %s with key %v", bramble.ErrNotFound, o.entity, o.key)
	}
	return nil
}

func (s *Store) remember(entity string, key any, item any) {
	if s.ident[entity] == nil {
		s.ident[entity] = make(map[any]any)
	}
	s.ident[entity][key] = item
}

// Discard drops every staged change without applying any of them. The
// identity map is unaffected; it only ever reflects committed state.
func (s *Store) Discard() error {
	if s.closed {
		return bramble.ErrSessionClosed
	}
	s.staged = nil
	return nil
}

// Close releases the underlying database handle exactly once.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
