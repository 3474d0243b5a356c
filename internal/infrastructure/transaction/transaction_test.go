package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteTransactionManagerCommit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plans").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tm := NewSQLiteTransactionManager(db)
	err = tm.InTransaction(context.Background(), func(txCtx context.Context) error {
		tx, ok := GetTxFromContext(txCtx)
		require.True(t, ok)
		_, err := tx.ExecContext(txCtx, "INSERT INTO plans (id) VALUES (?)", "PLAN-1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteTransactionManagerRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	tm := NewSQLiteTransactionManager(db)
	err = tm.InTransaction(context.Background(), func(txCtx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteTransactionManagerNested(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	tm := NewSQLiteTransactionManager(db)
	err = tm.InTransaction(context.Background(), func(outer context.Context) error {
		return tm.InTransaction(outer, func(inner context.Context) error {
			a, _ := GetTxFromContext(outer)
			b, _ := GetTxFromContext(inner)
			assert.Same(t, a, b)
			return nil
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteTransactionManagerBeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

	called := false
	err = NewSQLiteTransactionManager(db).InTransaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestSQLiteTransactionManagerRollbackFailureIsJoined(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("disk I/O error"))

	boom := errors.New("boom")
	err = NewSQLiteTransactionManager(db).InTransaction(context.Background(), func(context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "rollback workflow transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteTransactionManagerPanicRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	tm := NewSQLiteTransactionManager(db)
	assert.PanicsWithValue(t, "planner crashed", func() {
		_ = tm.InTransaction(context.Background(), func(context.Context) error {
			panic("planner crashed")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

type counterStore struct{ n int }

func (s *counterStore) Snapshot() func() {
	saved := s.n
	return func() { s.n = saved }
}

func TestMockTransactionManager(t *testing.T) {
	store := &counterStore{}
	tm := NewMockTransactionManager(store)

	require.NoError(t, tm.InTransaction(context.Background(), func(context.Context) error {
		store.n = 1
		return nil
	}))
	assert.Equal(t, 1, store.n)

	err := tm.InTransaction(context.Background(), func(context.Context) error {
		store.n = 5
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, store.n)
	assert.Equal(t, 2, tm.Calls())
	assert.Equal(t, 1, tm.Rollbacks())
}

func TestMockTransactionManagerNested(t *testing.T) {
	store := &counterStore{}
	tm := NewMockTransactionManager(store)

	err := tm.InTransaction(context.Background(), func(outer context.Context) error {
		store.n = 2
		return tm.InTransaction(outer, func(context.Context) error {
			store.n = 3
			return errors.New("inner failed")
		})
	})

	assert.Error(t, err)
	assert.Equal(t, 0, store.n, "the outer snapshot is restored")
	assert.Equal(t, 1, tm.Calls())
}
