package bramble

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// Queryable is the typed face of a Collection: a lazily evaluated, composable
// query over one entity type. A ReadRepository both consumes one (from its
// session) and implements the interface itself, so a repository can be used
// anywhere a queryable source is expected, including as the view of another
// repository.
type Queryable[E any] interface {

	// Entity returns the name of the entity the view queries.
	Entity() string

	// ElemType returns the runtime element type. For any Queryable[E]
	// produced by this package it is always exactly E.
	ElemType() reflect.Type

	// Tracked returns the view's tracking mode.
	Tracked() bool

	// AsTracked returns the same view retagged with the given tracking mode.
	AsTracked(track bool) Queryable[E]

	// Where returns a new view narrowed to entities matching p.
	Where(p Predicate[E]) Queryable[E]

	// All evaluates the view and returns every matching entity. Enumeration
	// is restartable; every call re-issues the query.
	All(ctx context.Context) ([]E, error)

	// One evaluates the view expecting at most one match. Zero matches is
	// reported via the bool, not an error; two or more is an error matching
	// ErrMultipleMatches.
	One(ctx context.Context) (E, bool, error)

	// Stream evaluates the view asynchronously. The element channel is
	// closed once the view is exhausted or ctx is canceled; at most one
	// error is sent on the error channel before it closes.
	Stream(ctx context.Context) (<-chan E, <-chan error)

	// Source returns the underlying untyped provider, for interoperability
	// with code that composes queries at the Collection level.
	Source() Collection
}

// AsQueryable wraps an untyped Collection in a typed view. It fails with an
// error matching ErrBadArgument when the collection's element type is not
// exactly E.
func AsQueryable[E any](c Collection) (Queryable[E], error) {
	want := reflect.TypeOf((*E)(nil)).Elem()
	if c.ElemType() != want {
		return nil, fmt.Errorf("%w: collection holds %s elements, not %s", ErrBadArgument, c.ElemType(), want)
	}
	return view[E]{src: c}, nil
}

// view adapts a Collection to Queryable[E]. The element-type check happens
// once in AsQueryable; after that every conversion is a plain assertion.
type view[E any] struct {
	src Collection
}

func (v view[E]) Entity() string {
	return v.src.Entity()
}

func (v view[E]) ElemType() reflect.Type {
	return v.src.ElemType()
}

func (v view[E]) Tracked() bool {
	return v.src.Tracked()
}

func (v view[E]) AsTracked(track bool) Queryable[E] {
	return view[E]{src: v.src.AsTracked(track)}
}

func (v view[E]) Where(p Predicate[E]) Queryable[E] {
	return view[E]{src: v.src.Where(func(e any) bool {
		ev, ok := e.(E)
		return ok && p(ev)
	})}
}

func (v view[E]) All(ctx context.Context) ([]E, error) {
	items, err := v.src.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]E, 0, len(items))
	for i := range items {
		ev, ok := items[i].(E)
		if !ok {
			return nil, NewError(fmt.Sprintf("view over %s produced a %T element", v.src.Entity(), items[i]), ErrDB)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (v view[E]) One(ctx context.Context) (E, bool, error) {
	var zero E

	item, ok, err := v.src.One(ctx)
	if err != nil || !ok {
		return zero, false, err
	}

	ev, isE := item.(E)
	if !isE {
		return zero, false, NewError(fmt.Sprintf("view over %s produced a %T element", v.src.Entity(), item), ErrDB)
	}
	return ev, true, nil
}

func (v view[E]) Stream(ctx context.Context) (<-chan E, <-chan error) {
	out := make(chan E)
	errs := make(chan error, 1)

	srcItems, srcErrs := v.src.Stream(ctx)

	go func() {
		defer close(out)
		defer close(errs)

		for item := range srcItems {
			ev, ok := item.(E)
			if !ok {
				errs <- NewError(fmt.Sprintf("view over %s produced a %T element", v.src.Entity(), item), ErrDB)
				// unblock the source's remaining sends before bailing
				for range srcItems {
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		if err, ok := <-srcErrs; ok && err != nil {
			errs <- err
		}
	}()

	return out, errs
}

func (v view[E]) Source() Collection {
	return v.src
}

// FromSlice builds a finite, self-contained Queryable over the given
// entities. It behaves exactly like a view obtained from a real session:
// same element type, same filter composition, same sync and async
// enumeration, with entities returned in key order. It is the intended way to
// stand in for a read repository's view in tests.
func FromSlice[E any](def EntityDef, items ...E) Queryable[E] {
	boxed := make([]any, len(items))
	for i := range items {
		boxed[i] = items[i]
	}

	q, err := AsQueryable[E](&sliceCollection{def: def, items: boxed})
	if err != nil {
		// def and E disagreeing is a programming error in the caller's
		// fixture, not a runtime condition.
		panic(err)
	}
	return q
}

// sliceCollection is a Collection over a fixed in-memory slice.
type sliceCollection struct {
	def     EntityDef
	items   []any
	tracked bool
	preds   []func(e any) bool
}

func (c *sliceCollection) Entity() string {
	return c.def.Name
}

func (c *sliceCollection) ElemType() reflect.Type {
	return c.def.Type
}

func (c *sliceCollection) Tracked() bool {
	return c.tracked
}

func (c *sliceCollection) AsTracked(track bool) Collection {
	dup := c.clone()
	dup.tracked = track
	return dup
}

func (c *sliceCollection) Where(pred func(e any) bool) Collection {
	dup := c.clone()
	dup.preds = append(dup.preds, pred)
	return dup
}

func (c *sliceCollection) clone() *sliceCollection {
	dup := &sliceCollection{
		def:     c.def,
		items:   c.items,
		tracked: c.tracked,
	}
	if len(c.preds) > 0 {
		dup.preds = make([]func(e any) bool, len(c.preds))
		copy(dup.preds, c.preds)
	}
	return dup
}

func (c *sliceCollection) All(ctx context.Context) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matched []any
	for _, item := range c.items {
		if c.matches(item) {
			matched = append(matched, item)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		ki, _ := c.def.KeyOf(matched[i])
		kj, _ := c.def.KeyOf(matched[j])
		return fmt.Sprint(ki) < fmt.Sprint(kj)
	})

	return matched, nil
}

func (c *sliceCollection) One(ctx context.Context) (any, bool, error) {
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
		return nil, false, fmt.Errorf("%w: %d %s entities matched", ErrMultipleMatches, len(matched), c.def.Name)
	}
}

func (c *sliceCollection) Stream(ctx context.Context) (<-chan any, <-chan error) {
	return streamCollection(ctx, c)
}

func (c *sliceCollection) matches(item any) bool {
	for _, pred := range c.preds {
		if !pred(item) {
			return false
		}
	}
	return true
}

// streamCollection implements the async enumeration contract over any
// Collection whose All is synchronous: evaluate once, then feed the results
// through a channel while honoring cancellation.
func streamCollection(ctx context.Context, c Collection) (<-chan any, <-chan error) {
	out := make(chan any)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		items, err := c.All(ctx)
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
