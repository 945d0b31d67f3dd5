package bramble_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/kettleside/bramble"
	"github.com/kettleside/bramble/inmem"
	"github.com/stretchr/testify/assert"
)

// Book is the fixture entity for repository tests. It is stored in an inmem
// session, which is the intended test double for any real store.
type Book struct {
	ID    int64
	Title string
	Genre string
}

var bookKeySeq int64 = 1000

func bookDef() bramble.EntityDef {
	return bramble.Entity[Book, int64]{
		Key:    func(b Book) int64 { return b.ID },
		SetKey: func(b Book, k int64) Book { b.ID = k; return b },
		NewKey: func() int64 { return atomic.AddInt64(&bookKeySeq, 1) },
	}.Def()
}

func bookModel() *bramble.Model {
	return bramble.NewModel(bookDef())
}

var (
	testBook_sburb   = Book{ID: 1, Title: "Sburb Field Guide", Genre: "reference"}
	testBook_zoo     = Book{ID: 2, Title: "Zoologically Dubious", Genre: "nature"}
	testBook_wizards = Book{ID: 3, Title: "Complacency of the Learned", Genre: "fantasy"}
)

func storeWithBooks(t *testing.T, books ...Book) *inmem.Store {
	t.Helper()

	s := inmem.NewStore(bookModel())
	if len(books) == 0 {
		return s
	}

	boxed := make([]any, len(books))
	for i := range books {
		boxed[i] = books[i]
	}

	if _, err := s.Add("Book", boxed...); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func Test_NewReader_UndeclaredType(t *testing.T) {
	assert := assert.New(t)

	s := inmem.NewStore(bookModel())

	type magazine struct{ ID int64 }
	_, err := bramble.NewReader[magazine](s)

	assert.ErrorIs(err, bramble.ErrMissingKey)
}

func Test_ReadRepository_Find(t *testing.T) {
	testCases := []struct {
		name             string
		seed             []Book
		keys             []any
		expect           Book
		expectOk         bool
		expectErrToMatch []error
	}{
		{
			name:     "present",
			seed:     []Book{testBook_sburb, testBook_zoo},
			keys:     []any{int64(2)},
			expect:   testBook_zoo,
			expectOk: true,
		},
		{
			name:     "int literal key",
			seed:     []Book{testBook_sburb},
			keys:     []any{1},
			expect:   testBook_sburb,
			expectOk: true,
		},
		{
			name:     "absent is a miss, not an error",
			seed:     []Book{testBook_sburb},
			keys:     []any{int64(99)},
			expectOk: false,
		},
		{
			name:             "no key segments",
			seed:             []Book{testBook_sburb},
			keys:             nil,
			expectErrToMatch: []error{bramble.ErrBadArgument},
		},
		{
			name:             "too many key segments",
			seed:             []Book{testBook_sburb},
			keys:             []any{int64(1), int64(2)},
			expectErrToMatch: []error{bramble.ErrBadArgument},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			repo, err := bramble.NewReader[Book](storeWithBooks(t, tc.seed...))
			if !assert.NoError(err) {
				return
			}
			defer repo.Close()

			actual, ok, err := repo.Find(context.Background(), tc.keys...)

			if tc.expectErrToMatch == nil {
				if !assert.NoError(err) {
					return
				}
				assert.Equal(tc.expectOk, ok)
				if tc.expectOk {
					assert.Equal(tc.expect, actual)
				}
			} else {
				if !assert.Error(err) {
					return
				}
				for _, expectMatch := range tc.expectErrToMatch {
					assert.ErrorIs(err, expectMatch)
				}
			}
		})
	}
}

func Test_ReadRepository_FindRequired(t *testing.T) {
	assert := assert.New(t)

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_sburb))
	if !assert.NoError(err) {
		return
	}
	defer repo.Close()

	got, err := repo.FindRequired(context.Background(), int64(1))
	if assert.NoError(err) {
		assert.Equal(testBook_sburb, got)
	}

	_, err = repo.FindRequired(context.Background(), int64(99))
	if !assert.Error(err) {
		return
	}
	assert.ErrorIs(err, bramble.ErrNotFound)

	// FindRequired never resolves the key descriptor, so its message carries
	// the raw key only
	assert.Equal("Book with key 99 does not exist", err.Error())
}

func Test_ReadRepository_Get(t *testing.T) {
	testCases := []struct {
		name             string
		seed             []Book
		key              any
		expect           Book
		expectOk         bool
		expectErrToMatch []error
	}{
		{
			name:     "present",
			seed:     []Book{testBook_sburb, testBook_zoo},
			key:      int64(1),
			expect:   testBook_sburb,
			expectOk: true,
		},
		{
			name:     "int literal key",
			seed:     []Book{testBook_zoo},
			key:      2,
			expect:   testBook_zoo,
			expectOk: true,
		},
		{
			name:     "absent is a miss, not an error",
			seed:     []Book{testBook_sburb},
			key:      int64(99),
			expectOk: false,
		},
		{
			name:             "non-convertible key",
			seed:             []Book{testBook_sburb},
			key:              "one",
			expectErrToMatch: []error{bramble.ErrBadArgument},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			repo, err := bramble.NewReader[Book](storeWithBooks(t, tc.seed...))
			if !assert.NoError(err) {
				return
			}
			defer repo.Close()

			actual, ok, err := repo.Get(context.Background(), tc.key)

			if tc.expectErrToMatch == nil {
				if !assert.NoError(err) {
					return
				}
				assert.Equal(tc.expectOk, ok)
				if tc.expectOk {
					assert.Equal(tc.expect, actual)
				}
			} else {
				if !assert.Error(err) {
					return
				}
				for _, expectMatch := range tc.expectErrToMatch {
					assert.ErrorIs(err, expectMatch)
				}
			}
		})
	}
}

func Test_ReadRepository_GetRequired(t *testing.T) {
	assert := assert.New(t)

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_sburb))
	if !assert.NoError(err) {
		return
	}
	defer repo.Close()

	_, err = repo.GetRequired(context.Background(), int64(99))
	if !assert.Error(err) {
		return
	}
	assert.ErrorIs(err, bramble.ErrNotFound)

	// GetRequired resolves the key descriptor first, so its message names
	// the key field
	assert.Equal("Book with ID 99 does not exist", err.Error())
}

func Test_ReadRepository_GetAndFindAgree(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_sburb, testBook_zoo, testBook_wizards))
	if !assert.NoError(err) {
		return
	}
	defer repo.Close()

	for _, key := range []int64{1, 2, 3, 99} {
		viaFind, okFind, err := repo.Find(ctx, key)
		assert.NoError(err)
		viaGet, okGet, err := repo.Get(ctx, key)
		assert.NoError(err)

		assert.Equal(okFind, okGet, "Find and Get disagree on presence of key %d", key)
		assert.Equal(viaFind, viaGet, "Find and Get disagree on entity for key %d", key)
	}
}

func Test_ReadRepository_QueryableSurface(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_zoo, testBook_sburb, testBook_wizards))
	if !assert.NoError(err) {
		return
	}
	defer repo.Close()

	assert.Equal("Book", repo.Entity())
	assert.False(repo.Tracked(), "readers default to untracked")

	all, err := repo.All(ctx)
	if !assert.NoError(err) {
		return
	}
	assert.Equal([]Book{testBook_sburb, testBook_zoo, testBook_wizards}, all)

	fantasy, err := repo.Where(func(b Book) bool { return b.Genre == "fantasy" }).All(ctx)
	if !assert.NoError(err) {
		return
	}
	assert.Equal([]Book{testBook_wizards}, fantasy)

	items, errs := repo.Stream(ctx)
	var streamed []Book
	for b := range items {
		streamed = append(streamed, b)
	}
	assert.NoError(<-errs)
	assert.Equal(all, streamed)
}

func Test_ReadRepository_SetTracking(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_sburb, testBook_zoo))
	if !assert.NoError(err) {
		return
	}
	defer repo.Close()

	before, err := repo.All(ctx)
	assert.NoError(err)

	repo.SetTracking(true)
	assert.True(repo.Tracked())

	after, err := repo.All(ctx)
	assert.NoError(err)
	assert.Equal(before, after, "flipping tracking must not change query results")
}

func Test_ReadRepository_SetView(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_sburb))
	if !assert.NoError(err) {
		return
	}
	defer repo.Close()

	// swap the session-backed view for a fixed fixture
	err = repo.SetView(bramble.FromSlice(bookDef(), testBook_zoo, testBook_wizards), false)
	if !assert.NoError(err) {
		return
	}

	all, err := repo.All(ctx)
	assert.NoError(err)
	assert.Equal([]Book{testBook_zoo, testBook_wizards}, all)

	// Get now reads from the replaced view
	got, ok, err := repo.Get(ctx, int64(2))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(testBook_zoo, got)

	// but Find still goes through the session's own lookup
	_, ok, err = repo.Find(ctx, int64(2))
	assert.NoError(err)
	assert.False(ok)
}

func Test_ReadRepository_Close(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()

	repo, err := bramble.NewReader[Book](storeWithBooks(t, testBook_sburb))
	if !assert.NoError(err) {
		return
	}

	assert.NoError(repo.Close())
	assert.NoError(repo.Close(), "closing twice must be a no-op")

	_, err = repo.All(ctx)
	assert.ErrorIs(err, bramble.ErrSessionClosed)
	_, _, err = repo.Find(ctx, int64(1))
	assert.ErrorIs(err, bramble.ErrSessionClosed)
	_, _, err = repo.Get(ctx, int64(1))
	assert.ErrorIs(err, bramble.ErrSessionClosed)
}
