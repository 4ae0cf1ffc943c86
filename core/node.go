package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"veridibloc/core/events"
	"veridibloc/core/state"
	"veridibloc/core/types"
	"veridibloc/mempool"
	"veridibloc/observability/metrics"
	"veridibloc/storage"
)

// Contract is one deployed contract runtime: a processor that drains its
// delivered batch strictly in order against durable state.
type Contract interface {
	Address() int64
	ActivationFee() int64
	ProcessBlock(txs []*types.Transaction) error
}

var (
	// ErrUnknownContract is returned when a transaction targets an address
	// no contract is deployed at.
	ErrUnknownContract = errors.New("core: unknown contract")
	// ErrBelowActivation is returned when a transaction carries less than
	// the target contract's activation fee; the platform never delivers it.
	ErrBelowActivation = errors.New("core: amount below activation fee")
)

// Node is the minimal deterministic host platform: it owns the durable map
// store, queues submitted transactions per contract, and commits blocks by
// handing each contract its batch in delivery order. It also carries
// cross-contract messages, delivering them with the next block.
type Node struct {
	mu        sync.Mutex
	db        storage.Database
	state     *state.Manager
	pool      *mempool.Queue
	contracts map[int64]Contract
	order     []int64
	recorder  *events.Recorder
	logger    *slog.Logger
	metrics   *metrics.Ledger
}

// NewNode creates a node over the given database.
func NewNode(db storage.Database, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:        db,
		state:     state.NewManager(db),
		pool:      mempool.New(0),
		contracts: make(map[int64]Contract),
		recorder:  events.NewRecorder(0),
		logger:    logger,
	}
}

// Events returns the node's event recorder. Contract engines emit into it and
// the RPC layer reads recent entries back out.
func (n *Node) Events() *events.Recorder { return n.recorder }

// SetMetrics attaches the ledger metrics collectors.
func (n *Node) SetMetrics(m *metrics.Ledger) { n.metrics = m }

// State returns the shared state manager.
func (n *Node) State() *state.Manager { return n.state }

// Register deploys a contract runtime at its address. Registration order is
// the deterministic processing order within a block.
func (n *Node) Register(c Contract) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr := c.Address()
	if _, exists := n.contracts[addr]; exists {
		return fmt.Errorf("core: contract %d already registered", addr)
	}
	n.contracts[addr] = c
	n.order = append(n.order, addr)
	return nil
}

// SubmitTransaction queues a transaction for the next block. The sender and
// amount are taken as settled by the upstream platform; amounts below the
// target contract's activation fee are rejected here because the platform
// would never deliver them.
func (n *Node) SubmitTransaction(sender, contract, amount int64, message []int64) error {
	n.mu.Lock()
	target, ok := n.contracts[contract]
	n.mu.Unlock()
	if !ok {
		return ErrUnknownContract
	}
	if amount < target.ActivationFee() {
		return ErrBelowActivation
	}
	return n.pool.Push(&types.Transaction{
		Sender:   sender,
		Contract: contract,
		Amount:   amount,
		Message:  append([]int64(nil), message...),
	})
}

// ActivationFee implements the cross-contract invoker for contract runtimes.
func (n *Node) ActivationFee(contract int64) (int64, error) {
	n.mu.Lock()
	target, ok := n.contracts[contract]
	n.mu.Unlock()
	if !ok {
		return 0, ErrUnknownContract
	}
	return target.ActivationFee(), nil
}

// Invoke queues a message from one contract to another, delivered with the
// next block. The calling contract pays the attached amount out of its own
// balance.
func (n *Node) Invoke(from, contract, amount int64, message []int64) error {
	n.mu.Lock()
	_, ok := n.contracts[contract]
	n.mu.Unlock()
	if !ok {
		return ErrUnknownContract
	}
	return n.pool.Push(&types.Transaction{
		Sender:   from,
		Contract: contract,
		Amount:   amount,
		Message:  append([]int64(nil), message...),
	})
}

// CommitBlock drains every contract's pending queue and processes the
// batches sequentially. Transaction ids are assigned at inclusion, in
// delivery order; each transaction's amount lands on the contract account
// before the contract sees the batch (contract senders pay from their own
// balance, external senders are settled upstream).
func (n *Node) CommitBlock() (*types.Block, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	height, err := n.state.Height()
	if err != nil {
		return nil, err
	}
	height++

	block := &types.Block{Height: height, Timestamp: time.Now().Unix()}
	// Snapshot every queue before processing anything: messages contracts
	// send while processing belong to the next block.
	batches := make(map[int64][]*types.Transaction, len(n.order))
	for _, addr := range n.order {
		batches[addr] = n.pool.Drain(addr)
	}
	for _, addr := range n.order {
		txs := batches[addr]
		if len(txs) == 0 {
			continue
		}
		for _, tx := range txs {
			id, err := n.state.NextTxID()
			if err != nil {
				return nil, err
			}
			tx.ID = id
			if _, internal := n.contracts[tx.Sender]; internal {
				if _, err := n.state.Transfer(tx.Sender, addr, tx.Amount); err != nil {
					return nil, err
				}
			} else if err := n.state.Credit(addr, tx.Amount); err != nil {
				return nil, err
			}
		}
		if err := n.contracts[addr].ProcessBlock(txs); err != nil {
			return nil, fmt.Errorf("core: contract %d block %d: %w", addr, height, err)
		}
		block.Transactions = append(block.Transactions, txs...)
	}

	if err := n.state.SetHeight(height); err != nil {
		return nil, err
	}
	n.metrics.ObserveBlock()
	n.logger.Info("block committed",
		slog.Int64("height", height),
		slog.Int("transactions", len(block.Transactions)))
	return block, nil
}

// Run commits blocks on a fixed interval until the context is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := n.CommitBlock(); err != nil {
				n.logger.Error("block commit failed", slog.Any("error", err))
				return err
			}
		}
	}
}

// Height returns the last committed block height.
func (n *Node) Height() (int64, error) {
	return n.state.Height()
}

// PendingTransactions reports the queue depth for a contract.
func (n *Node) PendingTransactions(contract int64) int {
	return n.pool.Len(contract)
}
