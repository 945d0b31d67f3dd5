// Package bramble is a small generic repository layer that sits between
// application code and a persistence session. It gives programs typed
// read-only and read/write repositories over arbitrary entity types without
// requiring a full ORM.
//
// The pieces fit together like this: a [Model] is an explicit table of
// [EntityDef] descriptors, one per entity type, each naming the entity's
// single primary-key field and how to read and set it. A [Session] is a
// unit-of-work handle to some store (the bundled ones live in the inmem and
// sqlite sub-packages) that exposes entity collections, a key-lookup
// primitive, staging primitives, and a cancellable commit. Repositories wrap
// exactly one Session each and are created either directly with [NewReader]
// and [NewWriter] or through a [Registry] populated from a [Descriptor].
//
// Repositories are not safe for concurrent use; scope one repository (and
// therefore one Session) per logical unit of work, such as a single request.
package bramble

import (
	"context"
	"reflect"
)

// Session is a unit-of-work handle to a persistence engine. A repository owns
// exactly one Session and closes it when the repository is closed.
//
// Add, Update and Remove only stage changes; nothing is persisted until
// Commit is called. Commit applies every staged change or none of them: if it
// returns an error, including a context cancellation, the staged set is left
// intact and the store is unchanged.
type Session interface {

	// Model returns the entity model this session was opened with.
	Model() *Model

	// Find looks up a single entity by its key using whatever shortcut the
	// session has available, such as an identity map of previously
	// materialized entities. It does not go through a Collection. A miss is
	// not an error; the second return value reports whether the entity was
	// found.
	//
	// Multi-segment keys are delegated entirely to the session; sessions that
	// only support single-segment keys return an error matching
	// ErrBadArgument when given more than one segment.
	Find(ctx context.Context, entity string, keys ...any) (any, bool, error)

	// Collection returns a queryable view over the named entity's stored
	// set. The tracked flag tags the view; see Collection.Tracked.
	Collection(entity string, tracked bool) (Collection, error)

	// Add stages the given entities for insertion. Entities whose key is
	// unset have one generated if the entity's definition provides a
	// generator. The staged copies, with keys filled in, are returned in
	// input order.
	Add(entity string, items ...any) ([]any, error)

	// Update stages the given entities to be marked modified. Every entity
	// must have a readable key.
	Update(entity string, items ...any) error

	// Remove stages the given entities for removal. Every entity must have a
	// readable key.
	Remove(entity string, items ...any) error

	// Commit persists all staged changes. It honors cancellation of ctx and
	// never partially applies the staged set.
	Commit(ctx context.Context) error

	// Discard drops every staged change without applying any of them. It is
	// a no-op when nothing is staged.
	Discard() error

	// Close releases the session and any resources it holds. It is safe to
	// call multiple times.
	Close() error
}

// Collection is a lazily evaluated, composable query over one entity's
// stored set. Enumeration is restartable; each call to All, One, or Stream
// re-issues the query against the current store state.
//
// Collection is the untyped provider shape; use AsQueryable to get a typed
// view over one.
type Collection interface {

	// Entity returns the name of the entity the collection holds.
	Entity() string

	// ElemType returns the runtime type of the collection's elements.
	ElemType() reflect.Type

	// Tracked returns whether entities produced by this view are eligible
	// for in-place mutation on a later commit. Untracked views produce
	// disconnected copies.
	Tracked() bool

	// AsTracked returns a view over the same projection basis retagged with
	// the given tracking mode. Retagging never changes which rows the view
	// returns.
	AsTracked(track bool) Collection

	// Where returns a new view narrowed to elements matching pred. The
	// receiver is unchanged.
	Where(pred func(e any) bool) Collection

	// All evaluates the view and returns every matching element.
	All(ctx context.Context) ([]any, error)

	// One evaluates the view expecting at most a single match. A zero-match
	// result is reported through the second return value, not an error; more
	// than one match is an error matching ErrMultipleMatches.
	One(ctx context.Context) (any, bool, error)

	// Stream evaluates the view asynchronously. Elements arrive on the first
	// channel, which is closed once the view is exhausted or ctx is
	// canceled. At most one error is sent on the second channel before it is
	// closed.
	Stream(ctx context.Context) (<-chan any, <-chan error)
}

// SessionFactory opens a fresh Session. A Registry uses one to give every
// resolved repository its own session.
type SessionFactory func(ctx context.Context) (Session, error)
