package stock

import (
	"errors"
	"log/slog"

	"veridibloc/core/events"
	"veridibloc/core/types"
	"veridibloc/observability/metrics"
)

// ActivationAmount is the minimum amount a transaction must carry for the
// platform to activate the contract.
const ActivationAmount int64 = 1_0000_0000

// Invoker abstracts the platform's cross-contract messaging: the dispatcher
// uses it to issue the single aggregated certificate call a block may
// produce. The message is delivered to the target with the next block.
type Invoker interface {
	ActivationFee(contract int64) (int64, error)
	Invoke(from, contract, amount int64, message []int64) error
}

// Processor is the per-block control loop of a stock contract. It drains the
// delivered batch strictly in order, applies the fee and pause policy, routes
// opcodes to the engine, writes the soft-fail error table, and aggregates
// acknowledged receipt quantities into at most one downstream certificate
// call per block.
type Processor struct {
	engine  *Engine
	invoker Invoker
	logger  *slog.Logger
	metrics *metrics.Ledger
}

// NewProcessor wires a dispatcher around the engine. The invoker may be nil
// when no downstream contracts exist (certificate triggers are then dropped).
func NewProcessor(engine *Engine, invoker Invoker, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{engine: engine, invoker: invoker, logger: logger}
}

// SetMetrics attaches the ledger metrics collectors.
func (p *Processor) SetMetrics(m *metrics.Ledger) { p.metrics = m }

// Address returns the contract's platform address.
func (p *Processor) Address() int64 { return p.engine.Contract() }

// ActivationFee returns the amount required to activate the contract.
func (p *Processor) ActivationFee() int64 { return ActivationAmount }

// ProcessBlock drains one delivered batch. Returned errors are storage
// failures only; contract-level failures are soft and land in the error
// table.
func (p *Processor) ProcessBlock(txs []*types.Transaction) error {
	var acknowledged int64
	var lastSender int64
	owner := p.engine.params.Owner
	for _, tx := range txs {
		lastSender = tx.Sender
		if tx.Sender != owner {
			paused, err := p.engine.state.Var(varPaused)
			if err != nil {
				return err
			}
			if paused != 0 {
				// Silently dropped: no fee, no error record.
				continue
			}
			fee, err := p.engine.state.Var(varUsageFee)
			if err != nil {
				return err
			}
			if tx.Amount < fee {
				if err := p.softFail(tx, CodeFeeTooLow); err != nil {
					return err
				}
				continue
			}
			if _, err := p.engine.bank.Transfer(p.engine.contract, owner, fee); err != nil {
				return err
			}
		}
		if err := p.apply(tx, &acknowledged); err != nil {
			return err
		}
		p.metrics.ObserveTransaction("stock")
	}
	if acknowledged > 0 {
		if err := p.triggerCertificate(acknowledged, lastSender); err != nil {
			return err
		}
	}
	return p.updateStockGauge()
}

func (p *Processor) apply(tx *types.Transaction, acknowledged *int64) error {
	var opErr error
	switch tx.Opcode() {
	case OpRegisterIncoming:
		certContract, err := p.engine.state.Var(varCertificateContract)
		if err != nil {
			return err
		}
		// With a certificate contract configured the registering transaction
		// id becomes the origin id; otherwise the caller supplies one.
		originID := tx.Word(2)
		if certContract != 0 {
			originID = tx.ID
		}
		_, opErr = p.engine.RegisterIncoming(tx, tx.Word(1), originID)
	case OpWithdrawByWeight:
		_, opErr = p.engine.WithdrawByWeight(tx, tx.Word(1))
	case OpWithdrawByLots:
		_, opErr = p.engine.WithdrawByLots(tx)
	case OpWithdrawByLotAndWeight:
		_, opErr = p.engine.WithdrawByLotAndWeight(tx, tx.Word(1), tx.Word(2))
	case OpAcknowledgeReceipt:
		var certifiable int64
		certifiable, opErr = p.engine.AcknowledgeReceipt(tx, tx.Word(1), tx.Word(2))
		*acknowledged += certifiable
	case OpAuthorizePartner:
		opErr = p.engine.SetPartnerPermission(tx, tx.Word(1), TierNormal)
	case OpUnauthorizePartner:
		opErr = p.engine.SetPartnerPermission(tx, tx.Word(1), TierNone)
	case OpAuthorizeUser:
		opErr = p.engine.SetUserPermission(tx, tx.Word(1), tx.Word(2))
	case OpUnauthorizeUser:
		opErr = p.engine.SetUserPermission(tx, tx.Word(1), TierNone)
	case OpSetUsageFee:
		opErr = p.engine.SetUsageFee(tx, tx.Word(1))
	case OpSetPaused:
		opErr = p.engine.SetPaused(tx, tx.Word(1) != 0)
	case OpSetCertificateContract:
		opErr = p.engine.SetCertificateContract(tx, tx.Word(1))
	case OpPullFunds:
		opErr = p.engine.PullFunds(tx, tx.Word(1))
	default:
		// Unknown opcodes are ignored without an error record so that newer
		// callers can speak to older contract versions.
		return nil
	}
	if opErr == nil {
		return nil
	}
	var lerr *LedgerError
	if errors.As(opErr, &lerr) {
		return p.softFail(tx, lerr.Code)
	}
	return opErr
}

func (p *Processor) softFail(tx *types.Transaction, code Code) error {
	if err := p.engine.recordError(tx.ID, code); err != nil {
		return err
	}
	p.metrics.ObserveSoftError(code.String())
	p.logger.Debug("transaction failed soft",
		slog.Int64("tx", tx.ID),
		slog.Int64("sender", tx.Sender),
		slog.Int64("opcode", tx.Opcode()),
		slog.String("code", code.String()))
	return nil
}

func (p *Processor) triggerCertificate(acknowledged, lastSender int64) error {
	certContract, err := p.engine.state.Var(varCertificateContract)
	if err != nil {
		return err
	}
	if certContract == 0 || p.invoker == nil {
		return nil
	}
	attribution := p.engine.params.Owner
	if p.engine.params.Intermediate {
		// Intermediate contracts credit the counterparty that closed out the
		// block rather than the owner.
		attribution = lastSender
	}
	fee, err := p.invoker.ActivationFee(certContract)
	if err != nil {
		return err
	}
	if err := p.invoker.Invoke(p.engine.contract, certContract, fee, []int64{acknowledged, attribution}); err != nil {
		return err
	}
	p.engine.emit(events.CertificateTriggered{
		Contract:    p.engine.contract,
		Certificate: certContract,
		Quantity:    acknowledged,
		Attribution: attribution,
	})
	return nil
}

func (p *Processor) updateStockGauge() error {
	stockQty, err := p.engine.state.Var(varStockQuantity)
	if err != nil {
		return err
	}
	p.metrics.SetStockQuantity(p.engine.contract, stockQty)
	return nil
}
