package inmem

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/kettleside/bramble"
)

// collection is a live view over one entity's map in the store. It holds no
// data of its own; every enumeration re-reads the store, so a fresh iterator
// always sees the current committed state.
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []any
	for _, item := range c.store.data[c.def.Name] {
		if c.matches(item) {
			matched = append(matched, item)
		}
	}

	// map iteration order is random; return entities in key order so
	// enumeration is stable between runs.
	sort.SliceStable(matched, func(i, j int) bool {
		ki, _ := c.def.KeyOf(matched[i])
		kj, _ := c.def.KeyOf(matched[j])
		return fmt.Sprint(ki) < fmt.Sprint(kj)
	})

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

	// snapshot synchronously so the goroutine never races a later commit on
	// the store maps.
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
