package bramble

// Predicate is a filter over entities of type E. Predicates compose with And,
// Or, and Not, and are evaluated by the queryable view they are applied to;
// the repository layer never evaluates them itself.
type Predicate[E any] func(e E) bool

// KeyEquals builds the equality predicate "key(e) == value" for an explicit
// field accessor. The closure is allocated once; invoking the predicate
// allocates nothing. Nullable key types are handled by K's own equality; a
// nil-able K compares the way == compares it.
//
// This is the predicate the repository layer builds internally for Get, using
// the accessor registered in the entity's definition.
func KeyEquals[E any, K comparable](key func(e E) K, value K) Predicate[E] {
	return func(e E) bool {
		return key(e) == value
	}
}

// And returns a predicate matching only entities that match p and every
// predicate in more. Evaluation short-circuits on the first miss.
func (p Predicate[E]) And(more ...Predicate[E]) Predicate[E] {
	return func(e E) bool {
		if !p(e) {
			return false
		}
		for i := range more {
			if !more[i](e) {
				return false
			}
		}
		return true
	}
}

// Or returns a predicate matching entities that match p or at least one
// predicate in more. Evaluation short-circuits on the first hit.
func (p Predicate[E]) Or(more ...Predicate[E]) Predicate[E] {
	return func(e E) bool {
		if p(e) {
			return true
		}
		for i := range more {
			if more[i](e) {
				return true
			}
		}
		return false
	}
}

// Not returns a predicate matching only entities that do *not* match p.
func Not[E any](p Predicate[E]) Predicate[E] {
	return func(e E) bool {
		return !p(e)
	}
}
