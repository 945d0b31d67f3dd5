package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kettleside/bramble"
	"github.com/stretchr/testify/assert"
)

type tool struct {
	ID    int64
	Label string
}

func toolDef() bramble.EntityDef {
	return bramble.Entity[tool, int64]{
		Name:   "Tool",
		Key:    func(t tool) int64 { return t.ID },
		SetKey: func(t tool, k int64) tool { t.ID = k; return t },
	}.Def()
}

func toolTable() Table {
	return Table{
		Entity:  "Tool",
		Name:    "tools",
		Columns: []string{"id", "label"},
		Schema:  `CREATE TABLE IF NOT EXISTS tools (id INTEGER NOT NULL PRIMARY KEY, label TEXT NOT NULL);`,
		Scan: func(scan func(dest ...any) error) (any, error) {
			var t tool
			if err := scan(&t.ID, &t.Label); err != nil {
				return nil, err
			}
			return t, nil
		},
		Args: func(e any) ([]any, error) {
			t := e.(tool)
			return []any{t.ID, t.Label}, nil
		},
	}
}

func mockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	driver, dbMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}

	s := FromDB(driver, bramble.NewModel(toolDef()), toolTable())
	return s, dbMock
}

func Test_SQLBuilders(t *testing.T) {
	assert := assert.New(t)

	tbl := toolTable()

	assert.Equal("SELECT id, label FROM tools ORDER BY id;", selectAllSQL(tbl))
	assert.Equal("SELECT id, label FROM tools WHERE id = ?;", selectByKeySQL(tbl))
	assert.Equal("INSERT INTO tools (id, label) VALUES (?, ?);", insertSQL(tbl))
	assert.Equal("UPDATE tools SET label = ? WHERE id = ?;", updateSQL(tbl))
	assert.Equal("DELETE FROM tools WHERE id = ?;", deleteSQL(tbl))
}

func Test_Store_Find(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.
			ExpectQuery("SELECT id, label FROM tools WHERE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(int64(5), "hammer"))

		actual, ok, err := s.Find(ctx, "Tool", int64(5))

		if !assert.NoError(err) {
			return
		}
		assert.True(ok)
		assert.Equal(tool{ID: 5, Label: "hammer"}, actual)

		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("miss is not an error", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.
			ExpectQuery("SELECT id, label FROM tools WHERE").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "label"}))

		_, ok, err := s.Find(ctx, "Tool", int64(99))

		assert.NoError(err)
		assert.False(ok)

		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("second lookup is served from the identity map", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		// only ONE query may reach the database
		dbMock.
			ExpectQuery("SELECT id, label FROM tools WHERE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(int64(5), "hammer"))

		first, ok, err := s.Find(ctx, "Tool", int64(5))
		if !assert.NoError(err) || !assert.True(ok) {
			return
		}

		second, ok, err := s.Find(ctx, "Tool", int64(5))
		if !assert.NoError(err) || !assert.True(ok) {
			return
		}
		assert.Equal(first, second)

		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("int literal key is normalized", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.
			ExpectQuery("SELECT id, label FROM tools WHERE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(int64(5), "hammer"))

		_, ok, err := s.Find(ctx, "Tool", 5)

		assert.NoError(err)
		assert.True(ok)

		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("composite key rejected", func(t *testing.T) {
		assert := assert.New(t)

		s, _ := mockStore(t)

		_, _, err := s.Find(context.Background(), "Tool", int64(1), int64(2))

		assert.ErrorIs(err, bramble.ErrBadArgument)
	})
}

func Test_Store_Collection_All(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	dbMock.
		ExpectQuery("SELECT id, label FROM tools ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).
			AddRow(int64(1), "hammer").
			AddRow(int64(2), "wrench").
			AddRow(int64(3), "hacksaw"))

	coll, err := s.Collection("Tool", false)
	if !assert.NoError(err) {
		return
	}

	all, err := coll.All(ctx)

	if !assert.NoError(err) {
		return
	}
	assert.Equal([]any{
		tool{ID: 1, Label: "hammer"},
		tool{ID: 2, Label: "wrench"},
		tool{ID: 3, Label: "hacksaw"},
	}, all)

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_Collection_Where(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	dbMock.
		ExpectQuery("SELECT id, label FROM tools ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).
			AddRow(int64(1), "hammer").
			AddRow(int64(2), "wrench"))

	coll, err := s.Collection("Tool", false)
	if !assert.NoError(err) {
		return
	}

	narrowed, err := coll.Where(func(e any) bool {
		return e.(tool).Label == "wrench"
	}).All(ctx)

	if !assert.NoError(err) {
		return
	}
	assert.Equal([]any{tool{ID: 2, Label: "wrench"}}, narrowed)

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_Collection_TrackedPopulatesIdentityMap(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	dbMock.
		ExpectQuery("SELECT id, label FROM tools ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).
			AddRow(int64(1), "hammer"))

	coll, err := s.Collection("Tool", true)
	if !assert.NoError(err) {
		return
	}
	if _, err := coll.All(ctx); !assert.NoError(err) {
		return
	}

	// the Find must be satisfied from the identity map; no further query is
	// expected on the mock
	got, ok, err := s.Find(ctx, "Tool", int64(1))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(tool{ID: 1, Label: "hammer"}, got)

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_Commit_Insert(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	dbMock.ExpectBegin()
	dbMock.
		ExpectExec("INSERT INTO tools").
		WithArgs(int64(7), "chisel").
		WillReturnResult(sqlmock.NewResult(7, 1))
	dbMock.ExpectCommit()

	staged, err := s.Add("Tool", tool{ID: 7, Label: "chisel"})
	if !assert.NoError(err) {
		return
	}
	assert.Equal([]any{tool{ID: 7, Label: "chisel"}}, staged)

	err = s.Commit(ctx)

	if !assert.NoError(err) {
		return
	}

	// committed entity lands in the identity map
	got, ok, err := s.Find(ctx, "Tool", int64(7))
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(tool{ID: 7, Label: "chisel"}, got)

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_Commit_Update(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.ExpectBegin()
		dbMock.
			ExpectExec("UPDATE tools SET").
			WithArgs("sledgehammer", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		if err := s.Update("Tool", tool{ID: 1, Label: "sledgehammer"}); !assert.NoError(err) {
			return
		}

		assert.NoError(s.Commit(ctx))
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("zero rows affected is not found", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.ExpectBegin()
		dbMock.
			ExpectExec("UPDATE tools SET").
			WithArgs("phantom", int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectRollback()

		if err := s.Update("Tool", tool{ID: 99, Label: "phantom"}); !assert.NoError(err) {
			return
		}

		err := s.Commit(ctx)

		assert.ErrorIs(err, bramble.ErrNotFound)
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Store_Commit_Delete(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.ExpectBegin()
		dbMock.
			ExpectExec("DELETE FROM tools WHERE").
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		dbMock.ExpectCommit()

		if err := s.Remove("Tool", tool{ID: 1, Label: "hammer"}); !assert.NoError(err) {
			return
		}

		assert.NoError(s.Commit(ctx))
		assert.NoError(dbMock.ExpectationsWereMet())
	})

	t.Run("zero rows affected is not found", func(t *testing.T) {
		assert := assert.New(t)

		s, dbMock := mockStore(t)
		ctx := context.Background()

		dbMock.ExpectBegin()
		dbMock.
			ExpectExec("DELETE FROM tools WHERE").
			WithArgs(int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		dbMock.ExpectRollback()

		if err := s.Remove("Tool", tool{ID: 99}); !assert.NoError(err) {
			return
		}

		err := s.Commit(ctx)

		assert.ErrorIs(err, bramble.ErrNotFound)
		assert.NoError(dbMock.ExpectationsWereMet())
	})
}

func Test_Store_Commit_RollsBackOnFailure(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	boom := fmt.Errorf("disk I/O error")

	dbMock.ExpectBegin()
	dbMock.
		ExpectExec("INSERT INTO tools").
		WithArgs(int64(7), "chisel").
		WillReturnError(boom)
	dbMock.ExpectRollback()

	if _, err := s.Add("Tool", tool{ID: 7, Label: "chisel"}); !assert.NoError(err) {
		return
	}

	err := s.Commit(ctx)

	assert.ErrorIs(err, bramble.ErrDB)
	assert.Equal(1, len(s.staged), "a failed commit must keep the staged set for retry")

	// the failed entity must not be in the identity map
	_, inIdent := s.ident["Tool"][int64(7)]
	assert.False(inIdent)

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_Discard(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	dbMock.ExpectBegin()
	dbMock.
		ExpectExec("INSERT INTO tools").
		WithArgs(int64(7), "chisel").
		WillReturnError(fmt.Errorf("disk I/O error"))
	dbMock.ExpectRollback()

	if _, err := s.Add("Tool", tool{ID: 7, Label: "chisel"}); !assert.NoError(err) {
		return
	}
	if err := s.Commit(ctx); !assert.ErrorIs(err, bramble.ErrDB) {
		return
	}

	assert.NoError(s.Discard())
	assert.Zero(len(s.staged))

	// the discarded insert must not replay inside the next commit
	dbMock.ExpectBegin()
	dbMock.
		ExpectExec("INSERT INTO tools").
		WithArgs(int64(8), "mallet").
		WillReturnResult(sqlmock.NewResult(8, 1))
	dbMock.ExpectCommit()

	if _, err := s.Add("Tool", tool{ID: 8, Label: "mallet"}); !assert.NoError(err) {
		return
	}
	assert.NoError(s.Commit(ctx))

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_Add_NoKeyNoGenerator(t *testing.T) {
	assert := assert.New(t)

	s, _ := mockStore(t)

	_, err := s.Add("Tool", tool{Label: "keyless"})

	assert.ErrorIs(err, bramble.ErrMissingKeyValue)
}

func Test_Store_StageKeyed_ValidatesWholeBatch(t *testing.T) {
	assert := assert.New(t)

	s, _ := mockStore(t)

	err := s.Update("Tool", tool{ID: 1, Label: "fine"}, tool{Label: "keyless"})

	assert.ErrorIs(err, bramble.ErrMissingKeyValue)
	assert.Zero(len(s.staged))
}

func Test_Store_Close(t *testing.T) {
	assert := assert.New(t)

	s, dbMock := mockStore(t)
	ctx := context.Background()

	dbMock.ExpectClose()

	assert.NoError(s.Close())
	assert.NoError(s.Close(), "closing twice must be a no-op")

	_, _, err := s.Find(ctx, "Tool", int64(1))
	assert.ErrorIs(err, bramble.ErrSessionClosed)
	_, err = s.Add("Tool", tool{ID: 1})
	assert.ErrorIs(err, bramble.ErrSessionClosed)
	assert.ErrorIs(s.Commit(ctx), bramble.ErrSessionClosed)

	assert.NoError(dbMock.ExpectationsWereMet())
}

func Test_Store_UnboundEntity(t *testing.T) {
	assert := assert.New(t)

	type gizmo struct{ ID int64 }
	gizmoDef := bramble.Entity[gizmo, int64]{
		Name: "Gizmo",
		Key:  func(g gizmo) int64 { return g.ID },
	}.Def()

	driver, _, err := sqlmock.New()
	if !assert.NoError(err) {
		return
	}

	// Gizmo is in the model but has no table bound
	s := FromDB(driver, bramble.NewModel(toolDef(), gizmoDef), toolTable())

	_, err = s.Collection("Gizmo", false)
	assert.ErrorIs(err, bramble.ErrBadArgument)

	_, _, err = s.Find(context.Background(), "Gizmo", int64(1))
	assert.ErrorIs(err, bramble.ErrBadArgument)
}

func Test_WrapDBError(t *testing.T) {
	testCases := []struct {
		name             string
		input            error
		expectErrToMatch []error
	}{
		{
			name:             "no rows becomes not found",
			input:            sql.ErrNoRows,
			expectErrToMatch: []error{bramble.ErrDB, bramble.ErrNotFound},
		},
		{
			name:             "anything else is a DB error",
			input:            fmt.Errorf("disk on fire"),
			expectErrToMatch: []error{bramble.ErrDB},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			err := WrapDBError(tc.input)

			for _, expectMatch := range tc.expectErrToMatch {
				assert.ErrorIs(err, expectMatch)
			}
		})
	}
}
