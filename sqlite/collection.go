package sqlite

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/kettleside/bramble"
)

func selectAllSQL(t Table) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s;", strings.Join(t.Columns, ", "), t.Name, t.Columns[0])
}

func selectByKeySQL(t Table) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?;", strings.Join(t.Columns, ", "), t.Name, t.Columns[0])
}

func insertSQL(t Table) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", t.Name, strings.Join(t.Columns, ", "), marks)
}

func updateSQL(t Table) string {
	sets := make([]string, 0, len(t.Columns)-1)
	for _, col := range t.Columns[1:] {
		sets = append(sets, col+" = ?")
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?;", t.Name, strings.Join(sets, ", "), t.Columns[0])
}

func deleteSQL(t Table) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?;", t.Name, t.Columns[0])
}

// collection is a view over one entity's table. Every enumeration issues a
// fresh SELECT; filter predicates are evaluated over the scanned entities,
// since predicates here are opaque Go functions, not expressions a SQL
// planner could use.
type collection struct {
	store   *Store
	def     bramble.EntityDef
	tracked bool
	preds   []func(e any) bool
}

func (c *collection) Entity() string {
	return c.def.Name
}

func (c *collection) ElemType() reflect.Type {
	return c.def.Type
}

func (c *collection) Tracked() bool {
	return c.tracked
}

func (c *collection) AsTracked(track bool) bramble.Collection {
	dup := c.clone()
	dup.tracked = track
	return dup
}

func (c *collection) Where(pred func(e any) bool) bramble.Collection {
	dup := c.clone()
	dup.preds = append(dup.preds, pred)
	return dup
}

func (c *collection) clone() *collection {
	dup := &collection{
		store:   c.store,
		def:     c.def,
		tracked: c.tracked,
	}
	if len(c.preds) > 0 {
		dup.preds = make([]func(e any) bool, len(c.preds))
		copy(dup.preds, c.preds)
	}
	return dup
}

func (c *collection) All(ctx context.Context) ([]any, error) {
	if c.store.closed {
		return nil, bramble.ErrSessionClosed
	}

	t, err := c.store.table(c.def.Name)
	if err != nil {
		return nil, err
	}

	rows, err := c.store.db.QueryContext(ctx, selectAllSQL(t))
	if err != nil {
		return nil, WrapDBError(err)
	}
	defer rows.Close()

	var matched []any
	for rows.Next() {
		item, err := t.Scan(rows.Scan)
		if err != nil {
			return nil, WrapDBError(err)
		}

		if !c.matches(item) {
			continue
		}
		matched = append(matched, item)

		if c.tracked {
			if key, ok := c.def.KeyOf(item); ok {
				c.store.remember(c.def.Name, key, item)
			}
		}
	}

	if err := rows.Err(); err != nil {
		return matched, WrapDBError(err)
	}

	return matched, nil
}

func (c *collection) One(ctx context.Context) (any, bool, error) {
	matched, err := c.All(ctx)
	if err != nil {
		return nil, false, err
	}

	switch len(matched) {
	case 0:
		return nil, false, nil
	case 1:
		return matched[0], true, nil
	default:
		return nil, false, fmt.Errorf("%w: %d %s entities matched", bramble.ErrMultipleMatches, len(matched), c.def.Name)
	}
}

func (c *collection) Stream(ctx context.Context) (<-chan any, <-chan error) {
	out := make(chan any)
	errs := make(chan error, 1)

	// evaluate synchronously; the store's handle is single-owner and must
	// not be shared with a goroutine that may outlive the call.
	items, err := c.All(ctx)

	go func() {
		defer close(out)
		defer close(errs)

		if err != nil {
			errs <- err
			return
		}

		for _, item := range items {
			select {
			case out <- item:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}

func (c *collection) matches(item any) bool {
	for _, pred := range c.preds {
		if !pred(item) {
			return false
		}
	}
	return true
}
