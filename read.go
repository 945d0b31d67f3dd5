package bramble

import (
	"context"
	"fmt"
	"reflect"

	"github.com/kettleside/bramble/logging"
)

// Reader is the read capability over one entity type. It is the interface a
// Registry binds read repositories under, and the contract any test double
// must satisfy. Every Reader is also a Queryable over its entity type.
type Reader[E any] interface {
	Queryable[E]

	// Find looks up an entity by key through the session's key-lookup
	// primitive, which may be satisfied from the session's identity map
	// without touching the view. A miss is not an error.
	Find(ctx context.Context, keys ...any) (E, bool, error)

	// FindRequired is Find, but a miss is a NotFoundError carrying the
	// entity name and the keys. It never resolves the key-field name.
	FindRequired(ctx context.Context, keys ...any) (E, error)

	// Get looks up an entity by resolving its key descriptor, building an
	// equality predicate over the key field, and evaluating it against the
	// current view. Unlike Find it always issues a fresh query. A miss is
	// not an error; more than one match is an error matching
	// ErrMultipleMatches.
	Get(ctx context.Context, key any) (E, bool, error)

	// GetRequired is Get, but a miss is a NotFoundError that additionally
	// carries the resolved key-field name.
	GetRequired(ctx context.Context, key any) (E, error)

	// SetView replaces the repository's queryable view and retags it with
	// the given tracking mode. The view's element type must be the
	// repository's entity type.
	SetView(q Queryable[E], track bool) error

	// SetTracking retags the current view with the given tracking mode. It
	// operates purely on the queryable projection basis; changes already
	// staged in the session are unaffected.
	SetTracking(track bool)

	// Close releases the owned session. Idempotent.
	Close() error
}

// ReadRepository is the standard Reader implementation over a Session. It
// owns the session exclusively and is not safe for concurrent use; create
// one per logical unit of work.
//
// The repository's view defaults to untracked.
type ReadRepository[E any] struct {
	session Session
	def     EntityDef
	view    Queryable[E]
	log     logging.Logger
	closed  bool
}

// NewReader creates a ReadRepository over the given session. The entity type
// E must be declared in the session's model. The repository takes ownership
// of the session.
func NewReader[E any](s Session) (*ReadRepository[E], error) {
	return newReader[E](s, false)
}

func newReader[E any](s Session, tracked bool) (*ReadRepository[E], error) {
	t := reflect.TypeOf((*E)(nil)).Elem()

	def, err := s.Model().Entity(t)
	if err != nil {
		return nil, err
	}

	coll, err := s.Collection(def.Name, tracked)
	if err != nil {
		return nil, err
	}

	q, err := AsQueryable[E](coll)
	if err != nil {
		return nil, err
	}

	return &ReadRepository[E]{
		session: s,
		def:     def,
		view:    q,
		log:     logging.NoOpLogger{},
	}, nil
}

// UseLogger directs the repository's own logging to the given logger. The
// default is a no-op logger.
func (r *ReadRepository[E]) UseLogger(log logging.Logger) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	r.log = log
}

// Session returns the session the repository owns. Mutating it from outside
// the repository breaks the one-owner model; it is exposed for store-level
// diagnostics only.
func (r *ReadRepository[E]) Session() Session {
	return r.session
}

func (r *ReadRepository[E]) Find(ctx context.Context, keys ...any) (E, bool, error) {
	var zero E

	if r.closed {
		return zero, false, ErrSessionClosed
	}
	if len(keys) == 0 {
		return zero, false, fmt.Errorf("%w: at least one key segment is required", ErrBadArgument)
	}

	got, ok, err := r.session.Find(ctx, r.def.Name, keys...)
	if err != nil {
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}

	ev, isE := got.(E)
	if !isE {
		return zero, false, NewError(fmt.Sprintf("session returned a %T for entity %s", got, r.def.Name), ErrDB)
	}
	return ev, true, nil
}

func (r *ReadRepository[E]) FindRequired(ctx context.Context, keys ...any) (E, error) {
	got, ok, err := r.Find(ctx, keys...)
	if err != nil {
		return got, err
	}
	if !ok {
		return got, NotFoundError{Entity: r.def.Name, Keys: keys}
	}
	return got, nil
}

func (r *ReadRepository[E]) Get(ctx context.Context, key any) (E, bool, error) {
	var zero E

	if r.closed {
		return zero, false, ErrSessionClosed
	}

	// resolve the key descriptor fresh each call; a model misconfiguration
	// surfaces here as MissingKeyError rather than as a silent miss.
	if _, err := r.session.Model().Key(r.def.Type); err != nil {
		return zero, false, err
	}

	norm, err := r.def.NormalizeKey(key)
	if err != nil {
		return zero, false, err
	}

	def := r.def
	q := r.view.Where(func(e E) bool {
		return def.MatchesKey(e, norm)
	})

	return q.One(ctx)
}

func (r *ReadRepository[E]) GetRequired(ctx context.Context, key any) (E, error) {
	got, ok, err := r.Get(ctx, key)
	if err != nil {
		return got, err
	}
	if !ok {
		return got, NotFoundError{Entity: r.def.Name, Keys: []any{key}, KeyField: r.def.Key.Name}
	}
	return got, nil
}

func (r *ReadRepository[E]) SetView(q Queryable[E], track bool) error {
	if q == nil {
		return fmt.Errorf("%w: view must not be nil", ErrBadArgument)
	}
	if q.ElemType() != r.def.Type {
		return fmt.Errorf("%w: view holds %s elements, not %s", ErrBadArgument, q.ElemType(), r.def.Type)
	}

	r.view = q.AsTracked(track)
	r.log.Tracef("%s repository view replaced (tracked=%v)", r.def.Name, track)
	return nil
}

func (r *ReadRepository[E]) SetTracking(track bool) {
	r.view = r.view.AsTracked(track)
}

// Entity returns the repository's entity name. Part of the Queryable
// contract; the repository is substitutable wherever a queryable source is
// expected.
func (r *ReadRepository[E]) Entity() string {
	return r.def.Name
}

func (r *ReadRepository[E]) ElemType() reflect.Type {
	return r.def.Type
}

func (r *ReadRepository[E]) Tracked() bool {
	return r.view.Tracked()
}

func (r *ReadRepository[E]) AsTracked(track bool) Queryable[E] {
	return r.view.AsTracked(track)
}

func (r *ReadRepository[E]) Where(p Predicate[E]) Queryable[E] {
	return r.view.Where(p)
}

func (r *ReadRepository[E]) All(ctx context.Context) ([]E, error) {
	if r.closed {
		return nil, ErrSessionClosed
	}
	return r.view.All(ctx)
}

func (r *ReadRepository[E]) One(ctx context.Context) (E, bool, error) {
	if r.closed {
		var zero E
		return zero, false, ErrSessionClosed
	}
	return r.view.One(ctx)
}

func (r *ReadRepository[E]) Stream(ctx context.Context) (<-chan E, <-chan error) {
	if r.closed {
		out := make(chan E)
		errs := make(chan error, 1)
		errs <- ErrSessionClosed
		close(out)
		close(errs)
		return out, errs
	}
	return r.view.Stream(ctx)
}

func (r *ReadRepository[E]) Source() Collection {
	return r.view.Source()
}

// Close releases the owned session exactly once. Calling it again is a
// no-op.
func (r *ReadRepository[E]) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.session.Close()
}
