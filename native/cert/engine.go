// Package cert implements the certificate-emission contract: a thin,
// issuer-gated mint pass-through notified by upstream stock ledgers with
// aggregated acknowledged quantities.
package cert

import (
	"errors"
	"fmt"
	"log/slog"

	"veridibloc/core/events"
	"veridibloc/core/types"
	"veridibloc/observability/metrics"
)

// ActivationAmount is the minimum amount a transaction must carry for the
// platform to activate the contract.
const ActivationAmount int64 = 2500_0000

// Method opcodes accepted from the contract owner. Any other sender's first
// payload word is a mint quantity, not an opcode.
const (
	OpRegisterIssuer   int64 = 1
	OpUnregisterIssuer int64 = 2
	OpPullFunds        int64 = 3
)

// Map-store table ids.
const (
	tableIssuers   int64 = 1
	tableEmissions int64 = 2
	tableErrors    int64 = 99
)

const (
	varTokenID = "tokenId"

	tokenDecimals int64 = 3
)

// Code is the soft-fail diagnostic recorded in the error table.
type Code int64

const (
	CodeNoPermission    Code = 1
	CodeInvalidQuantity Code = 2
)

// String names the code for logs and metrics.
func (c Code) String() string {
	switch c {
	case CodeNoPermission:
		return "NO_PERMISSION"
	case CodeInvalidQuantity:
		return "INVALID_QUANTITY"
	}
	return fmt.Sprintf("UNKNOWN_%d", int64(c))
}

var errNilState = errors.New("cert engine: state not configured")

// State is the contract's slice of the durable map store.
type State interface {
	MapGet(table, key int64) (int64, error)
	MapSet(table, key, value int64) error
	Var(name string) (int64, error)
	SetVar(name string, value int64) error
}

// Assets abstracts the host platform's asset primitives used by the mint
// path.
type Assets interface {
	IssueAsset(decimals int64) (int64, error)
	MintAsset(holder, asset, quantity int64) error
	TransferAsset(from, to, asset, quantity int64) (int64, error)
	AssetBalance(account, asset int64) (int64, error)
	Balance(account int64) (int64, error)
	Transfer(from, to, amount int64) (int64, error)
}

// Engine implements the certificate contract for one deployment.
type Engine struct {
	state    State
	assets   Assets
	owner    int64
	contract int64
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *metrics.Ledger
}

// NewEngine creates a certificate engine for the contract deployed at the
// given address.
func NewEngine(contract, owner int64, state State, assets Assets, logger *slog.Logger) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{state: state, assets: assets, owner: owner, contract: contract, emitter: events.NoopEmitter{}, logger: logger}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics attaches the ledger metrics collectors.
func (e *Engine) SetMetrics(m *metrics.Ledger) { e.metrics = m }

// Address returns the contract's platform address.
func (e *Engine) Address() int64 { return e.contract }

// ActivationFee returns the amount required to activate the contract.
func (e *Engine) ActivationFee() int64 { return ActivationAmount }

// Init runs the constructor: issues the certificate asset. Must run exactly
// once, at deployment.
func (e *Engine) Init() error {
	tokenID, err := e.assets.IssueAsset(tokenDecimals)
	if err != nil {
		return err
	}
	return e.state.SetVar(varTokenID, tokenID)
}

// TokenID returns the certificate asset id issued at construction.
func (e *Engine) TokenID() (int64, error) {
	return e.state.Var(varTokenID)
}

// IssuerEmissions returns the total certificate quantity an issuer has
// triggered.
func (e *Engine) IssuerEmissions(issuer int64) (int64, error) {
	return e.state.MapGet(tableEmissions, issuer)
}

// IsIssuer reports whether an account is a registered certificate issuer.
func (e *Engine) IsIssuer(account int64) (bool, error) {
	v, err := e.state.MapGet(tableIssuers, account)
	return v != 0, err
}

// ErrorCode returns the soft-fail diagnostic recorded for a transaction.
func (e *Engine) ErrorCode(txID int64) (Code, error) {
	v, err := e.state.MapGet(tableErrors, txID)
	return Code(v), err
}

// ProcessBlock drains one delivered batch. Owner transactions carry admin
// opcodes; every other transaction is a mint request whose first payload
// word is the quantity and second an optional recipient.
func (e *Engine) ProcessBlock(txs []*types.Transaction) error {
	for _, tx := range txs {
		if tx.Sender == e.owner {
			if err := e.applyOwner(tx); err != nil {
				return err
			}
		} else if err := e.mint(tx, tx.Sender, tx.Word(0), tx.Word(1)); err != nil {
			return err
		}
		e.metrics.ObserveTransaction("cert")
	}
	return nil
}

func (e *Engine) applyOwner(tx *types.Transaction) error {
	switch tx.Opcode() {
	case OpRegisterIssuer:
		return e.state.MapSet(tableIssuers, tx.Word(1), 1)
	case OpUnregisterIssuer:
		return e.state.MapSet(tableIssuers, tx.Word(1), 0)
	case OpPullFunds:
		return e.pullFunds(tx.Word(1))
	}
	// Unknown owner opcodes are ignored for forward compatibility.
	return nil
}

func (e *Engine) pullFunds(tokenID int64) error {
	if tokenID == 0 {
		balance, err := e.assets.Balance(e.contract)
		if err != nil {
			return err
		}
		_, err = e.assets.Transfer(e.contract, e.owner, balance)
		return err
	}
	holding, err := e.assets.AssetBalance(e.contract, tokenID)
	if err != nil {
		return err
	}
	_, err = e.assets.TransferAsset(e.contract, e.owner, tokenID, holding)
	return err
}

func (e *Engine) mint(tx *types.Transaction, issuer, quantity, recipient int64) error {
	registered, err := e.IsIssuer(issuer)
	if err != nil {
		return err
	}
	if !registered {
		return e.softFail(tx, CodeNoPermission)
	}
	if quantity <= 0 {
		return e.softFail(tx, CodeInvalidQuantity)
	}
	tokenID, err := e.state.Var(varTokenID)
	if err != nil {
		return err
	}
	if recipient == 0 {
		recipient = issuer
	}
	if err := e.assets.MintAsset(e.contract, tokenID, quantity); err != nil {
		return err
	}
	if _, err := e.assets.TransferAsset(e.contract, recipient, tokenID, quantity); err != nil {
		return err
	}
	emitted, err := e.state.MapGet(tableEmissions, issuer)
	if err != nil {
		return err
	}
	if err := e.state.MapSet(tableEmissions, issuer, emitted+quantity); err != nil {
		return err
	}
	e.metrics.ObserveCertificatesMinted(quantity)
	if e.emitter != nil {
		e.emitter.Emit(events.CertificateMinted{Contract: e.contract, Issuer: issuer, Recipient: recipient, Quantity: quantity})
	}
	return nil
}

func (e *Engine) softFail(tx *types.Transaction, code Code) error {
	if err := e.state.MapSet(tableErrors, tx.ID, int64(code)); err != nil {
		return err
	}
	e.metrics.ObserveSoftError(code.String())
	e.logger.Debug("certificate request failed soft",
		slog.Int64("tx", tx.ID),
		slog.Int64("sender", tx.Sender),
		slog.String("code", code.String()))
	return nil
}
