package mempool

import (
	"errors"
	"sync"

	"veridibloc/core/types"
)

// ErrQueueFull is returned when a contract's pending queue is at capacity.
var ErrQueueFull = errors.New("mempool: queue full")

// DefaultCapacity bounds each contract's pending queue when no limit is
// configured.
const DefaultCapacity = 1024

// Queue holds submitted transactions per destination contract until the next
// block is committed. Delivery order is strictly submission order; the
// contract runtimes depend on it.
type Queue struct {
	mu       sync.Mutex
	capacity int
	pending  map[int64][]*types.Transaction
}

// New creates a queue. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity, pending: make(map[int64][]*types.Transaction)}
}

// Push appends a transaction to its contract's pending queue.
func (q *Queue) Push(tx *types.Transaction) error {
	if tx == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending[tx.Contract]) >= q.capacity {
		return ErrQueueFull
	}
	q.pending[tx.Contract] = append(q.pending[tx.Contract], tx)
	return nil
}

// Drain removes and returns all pending transactions for a contract in
// submission order.
func (q *Queue) Drain(contract int64) []*types.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	txs := q.pending[contract]
	delete(q.pending, contract)
	return txs
}

// Len reports how many transactions are pending for a contract.
func (q *Queue) Len(contract int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[contract])
}
