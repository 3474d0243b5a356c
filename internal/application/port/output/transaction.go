package output

import (
	"context"
)

// TransactionManager groups several repository writes into one unit
type TransactionManager interface {
	// InTransaction executes fn within a transaction.
	// If fn returns an error, every write made through txCtx is rolled back.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
