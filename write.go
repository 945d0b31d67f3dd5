package bramble

import (
	"context"
)

// Writer is the read/write capability over one entity type. Every mutating
// call stages its changes and commits synchronously before returning; there
// is no unit-of-work batching across calls and no transaction-spanning API.
// A failed call discards whatever it staged, so a later call never replays
// an earlier call's changes.
type Writer[E any] interface {
	Reader[E]

	// Add stages the entity for insertion and commits. The returned entity
	// carries any key generated during staging.
	Add(ctx context.Context, e E) (E, error)

	// AddAll stages every entity and commits once for the whole batch. An
	// empty batch returns (nil, nil) without touching the session at all.
	AddAll(ctx context.Context, es []E) ([]E, error)

	// Update marks the entity modified and commits. The entity must have a
	// readable key.
	Update(ctx context.Context, e E) (E, error)

	// UpdateAll marks every entity modified and commits once. An empty
	// batch returns (nil, nil) without touching the session.
	UpdateAll(ctx context.Context, es []E) ([]E, error)

	// Delete removes the entity. It delegates to DeleteAll with a
	// single-element batch.
	Delete(ctx context.Context, e E) error

	// DeleteAll stages every entity for removal and commits once for the
	// whole batch.
	DeleteAll(ctx context.Context, es []E) error

	// DeleteKey resolves the entity via FindRequired and deletes it.
	// Deleting a missing key fails loudly with a NotFoundError rather than
	// silently doing nothing, and leaves the session untouched.
	DeleteKey(ctx context.Context, key any) (E, error)
}

// WriteRepository is the standard Writer implementation. It is a
// ReadRepository plus the mutating operations; construction forces the view
// into tracked mode, since mutation requires tracked entities.
type WriteRepository[E any] struct {
	*ReadRepository[E]
}

// NewWriter creates a WriteRepository over the given session. The entity
// type E must be declared in the session's model. The repository takes
// ownership of the session.
func NewWriter[E any](s Session) (*WriteRepository[E], error) {
	r, err := newReader[E](s, true)
	if err != nil {
		return nil, err
	}
	return &WriteRepository[E]{ReadRepository: r}, nil
}

func (w *WriteRepository[E]) Add(ctx context.Context, e E) (E, error) {
	added, err := w.AddAll(ctx, []E{e})
	if err != nil {
		var zero E
		return zero, err
	}
	return added[0], nil
}

func (w *WriteRepository[E]) AddAll(ctx context.Context, es []E) ([]E, error) {
	if w.closed {
		return nil, ErrSessionClosed
	}
	if len(es) == 0 {
		return nil, nil
	}

	staged, err := w.session.Add(w.def.Name, boxAll(es)...)
	if err != nil {
		// staging can fail partway through a batch
		w.session.Discard()
		return nil, err
	}
	if err := w.session.Commit(ctx); err != nil {
		w.session.Discard()
		return nil, err
	}

	out, err := unboxAll[E](w.def.Name, staged)
	if err != nil {
		return nil, err
	}
	w.log.Tracef("committed %d added %s entities", len(out), w.def.Name)
	return out, nil
}

func (w *WriteRepository[E]) Update(ctx context.Context, e E) (E, error) {
	updated, err := w.UpdateAll(ctx, []E{e})
	if err != nil {
		var zero E
		return zero, err
	}
	return updated[0], nil
}

func (w *WriteRepository[E]) UpdateAll(ctx context.Context, es []E) ([]E, error) {
	if w.closed {
		return nil, ErrSessionClosed
	}
	if len(es) == 0 {
		return nil, nil
	}

	if err := w.requireKeys(es); err != nil {
		return nil, err
	}

	if err := w.session.Update(w.def.Name, boxAll(es)...); err != nil {
		return nil, err
	}
	if err := w.session.Commit(ctx); err != nil {
		w.session.Discard()
		return nil, err
	}

	out := make([]E, len(es))
	copy(out, es)
	w.log.Tracef("committed %d updated %s entities", len(out), w.def.Name)
	return out, nil
}

func (w *WriteRepository[E]) Delete(ctx context.Context, e E) error {
	return w.DeleteAll(ctx, []E{e})
}

func (w *WriteRepository[E]) DeleteAll(ctx context.Context, es []E) error {
	if w.closed {
		return ErrSessionClosed
	}
	if len(es) == 0 {
		return nil
	}

	if err := w.requireKeys(es); err != nil {
		return err
	}

	if err := w.session.Remove(w.def.Name, boxAll(es)...); err != nil {
		return err
	}
	if err := w.session.Commit(ctx); err != nil {
		w.session.Discard()
		return err
	}

	w.log.Tracef("committed removal of %d %s entities", len(es), w.def.Name)
	return nil
}

func (w *WriteRepository[E]) DeleteKey(ctx context.Context, key any) (E, error) {
	e, err := w.FindRequired(ctx, key)
	if err != nil {
		return e, err
	}

	if err := w.DeleteAll(ctx, []E{e}); err != nil {
		var zero E
		return zero, err
	}
	return e, nil
}

// requireKeys ensures every entity in the batch has a readable key before
// anything is staged, so a bad batch never leaves the session half-staged.
func (w *WriteRepository[E]) requireKeys(es []E) error {
	for i := range es {
		if _, ok := w.def.KeyOf(es[i]); !ok {
			return MissingKeyValueError{Entity: w.def.Name, KeyField: w.def.Key.Name}
		}
	}
	return nil
}

func boxAll[E any](es []E) []any {
	items := make([]any, len(es))
	for i := range es {
		items[i] = es[i]
	}
	return items
}

func unboxAll[E any](entity string, items []any) ([]E, error) {
	out := make([]E, len(items))
	for i := range items {
		ev, ok := items[i].(E)
		if !ok {
			return nil, NewError("session returned a foreign entity type for "+entity, ErrDB)
		}
		out[i] = ev
	}
	return out, nil
}
