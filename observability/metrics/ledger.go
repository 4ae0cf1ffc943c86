package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger bundles the prometheus collectors for the contract runtimes.
type Ledger struct {
	transactionsProcessed *prometheus.CounterVec
	softErrors            *prometheus.CounterVec
	blocksCommitted       prometheus.Counter
	stockQuantity         *prometheus.GaugeVec
	certificatesMinted    prometheus.Counter
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *Ledger
)

// NewLedger registers and returns the process-wide ledger metrics.
func NewLedger() *Ledger {
	ledgerOnce.Do(func() {
		ledgerRegistry = &Ledger{
			transactionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "veridibloc_transactions_processed_total",
				Help: "Count of transactions processed by contract kind.",
			}, []string{"contract"}),
			softErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "veridibloc_soft_errors_total",
				Help: "Count of soft-failed transactions by error code.",
			}, []string{"code"}),
			blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "veridibloc_blocks_committed_total",
				Help: "Count of committed blocks.",
			}),
			stockQuantity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "veridibloc_stock_quantity",
				Help: "Live aggregate stock per stock contract.",
			}, []string{"contract"}),
			certificatesMinted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "veridibloc_certificates_minted_total",
				Help: "Total certificate token quantity minted.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.transactionsProcessed,
			ledgerRegistry.softErrors,
			ledgerRegistry.blocksCommitted,
			ledgerRegistry.stockQuantity,
			ledgerRegistry.certificatesMinted,
		)
	})
	return ledgerRegistry
}

// ObserveTransaction counts one processed transaction.
func (m *Ledger) ObserveTransaction(contract string) {
	if m == nil {
		return
	}
	if contract == "" {
		contract = "unknown"
	}
	m.transactionsProcessed.WithLabelValues(contract).Inc()
}

// ObserveSoftError counts one soft-failed transaction.
func (m *Ledger) ObserveSoftError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.softErrors.WithLabelValues(code).Inc()
}

// ObserveBlock counts one committed block.
func (m *Ledger) ObserveBlock() {
	if m == nil {
		return
	}
	m.blocksCommitted.Inc()
}

// SetStockQuantity publishes the aggregate stock of a contract.
func (m *Ledger) SetStockQuantity(contract, quantity int64) {
	if m == nil {
		return
	}
	m.stockQuantity.WithLabelValues(strconv.FormatInt(contract, 10)).Set(float64(quantity))
}

// ObserveCertificatesMinted accumulates minted certificate quantity.
func (m *Ledger) ObserveCertificatesMinted(quantity int64) {
	if m == nil || quantity <= 0 {
		return
	}
	m.certificatesMinted.Add(float64(quantity))
}
