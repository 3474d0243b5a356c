package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type txKey struct{}

// SQLiteTransactionManager runs repository writes against one *sql.Tx.
// The engine uses it to persist a planning round's proposals all-or-none.
type SQLiteTransactionManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

func NewSQLiteTransactionManager(db *sql.DB) *SQLiteTransactionManager {
	return &SQLiteTransactionManager{db: db}
}

// InTransaction commits when fn returns nil and rolls back otherwise,
// including when fn panics. A call made with a txCtx joins that transaction.
func (m *SQLiteTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("begin workflow transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback workflow transaction: %w", rbErr))
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit workflow transaction: %w", err)
	}
	committed = true
	return nil
}

// GetTxFromContext returns the transaction opened by InTransaction, if any
func GetTxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
