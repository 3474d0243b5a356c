package transaction

import (
	"context"
	"sync"
)

// Snapshotter is an in-memory store that can roll itself back.
// Snapshot captures the current contents and returns the restore function.
type Snapshotter interface {
	Snapshot() (restore func())
}

type mockTxKey struct{}

// MockTransactionManager gives in-memory stores all-or-none semantics:
// every registered store is snapshotted before fn and restored if fn fails.
// Transactions are serialised, as with a single SQLite writer.
type MockTransactionManager struct {
	stores []Snapshotter
	txMu   sync.Mutex

	mu        sync.Mutex
	calls     int
	rollbacks int
}

// NewMockTransactionManager creates a mock transaction manager over stores
func NewMockTransactionManager(stores ...Snapshotter) *MockTransactionManager {
	return &MockTransactionManager{stores: stores}
}

// InTransaction executes fn and restores every store if it returns an error
func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	// nested calls join the outer transaction
	if ctx.Value(mockTxKey{}) == m {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	ctx = context.WithValue(ctx, mockTxKey{}, m)

	restores := make([]func(), 0, len(m.stores))
	for _, s := range m.stores {
		restores = append(restores, s.Snapshot())
	}

	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		for _, restore := range restores {
			restore()
		}
		m.mu.Lock()
		m.rollbacks++
		m.mu.Unlock()
		return err
	}
	return nil
}

// Calls returns how many transactions were started
func (m *MockTransactionManager) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Rollbacks returns how many transactions were rolled back
func (m *MockTransactionManager) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}
