// Package collector implements the collector-token contract: issuers report
// collected material and the contract mints exchange-rated collector tokens,
// forwarding a small balance benefit alongside.
package collector

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
const ActivationAmount int64 = 5000_0000

// Method opcodes accepted from the contract owner. Any other sender's
// message is a token request (materialId, quantity, collectorId).
const (
	OpRegisterIssuer     int64 = 1
	OpUnregisterIssuer   int64 = 2
	OpUpdateMaterialData int64 = 3
	OpUpdateBenefit      int64 = 4
)

// Map-store table ids.
const (
	tableIssuers   int64 = 1
	tableMaterials int64 = 2
	tableEmitted   int64 = 3
	tableErrors    int64 = 99
)

const (
	varTokenID = "tokenId"
	varBenefit = "signaBenefit"

	tokenDecimals int64 = 2
	// xFactor scales material quantity into token base units (10^decimals).
	xFactor int64 = 100

	// DefaultBenefit is the balance amount forwarded with each emission.
	DefaultBenefit int64 = 1000_0000
	// MaxBenefit bounds owner updates to the benefit.
	MaxBenefit int64 = 100_0000_0000
)

// Code is the soft-fail diagnostic recorded in the error table.
type Code int64

const (
	CodeNoPermission Code = 1
	// CodeDivByZero is reserved in the deployed table layout; the exchange
	// ratio is validated before the division so it is never recorded.
	CodeDivByZero       Code = 2
	CodeUnknownMaterial Code = 3
	CodeLowQuantity     Code = 4
)

// String names the code for logs and metrics.
func (c Code) String() string {
	switch c {
	case CodeNoPermission:
		return "NO_PERMISSION"
	case CodeDivByZero:
		return "DIV_BY_ZERO"
	case CodeUnknownMaterial:
		return "UNKNOWN_MATERIAL"
	case CodeLowQuantity:
		return "LOW_QUANTITY"
	}
	return fmt.Sprintf("UNKNOWN_%d", int64(c))
}

var errNilState = errors.New("collector engine: state not configured")

// State is the contract's slice of the durable map store.
type State interface {
	MapGet(table, key int64) (int64, error)
	MapSet(table, key, value int64) error
	Var(name string) (int64, error)
	SetVar(name string, value int64) error
}

// Assets abstracts the host platform's asset and balance primitives.
type Assets interface {
	IssueAsset(decimals int64) (int64, error)
	MintAsset(holder, asset, quantity int64) error
	TransferAsset(from, to, asset, quantity int64) (int64, error)
	Transfer(from, to, amount int64) (int64, error)
}

// Engine implements the collector-token contract for one deployment.
type Engine struct {
	state    State
	assets   Assets
	owner    int64
	contract int64
	emitter  events.Emitter
	logger   *slog.Logger
	metrics  *metrics.Ledger
}

// NewEngine creates a collector engine for the contract deployed at the
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

// Init runs the constructor: issues the collector asset and seeds the
// default benefit. Must run exactly once, at deployment.
func (e *Engine) Init() error {
	tokenID, err := e.assets.IssueAsset(tokenDecimals)
	if err != nil {
		return err
	}
	if err := e.state.SetVar(varTokenID, tokenID); err != nil {
		return err
	}
	return e.state.SetVar(varBenefit, DefaultBenefit)
}

// TokenID returns the collector asset id issued at construction.
func (e *Engine) TokenID() (int64, error) {
	return e.state.Var(varTokenID)
}

// Benefit returns the balance amount forwarded with each emission.
func (e *Engine) Benefit() (int64, error) {
	return e.state.Var(varBenefit)
}

// ExchangeRatio returns the configured ratio for a material (zero when
// unknown).
func (e *Engine) ExchangeRatio(materialID int64) (int64, error) {
	return e.state.MapGet(tableMaterials, materialID)
}

// EmittedTokens returns the cumulative token quantity emitted for a
// material.
func (e *Engine) EmittedTokens(materialID int64) (int64, error) {
	return e.state.MapGet(tableEmitted, materialID)
}

// ErrorCode returns the soft-fail diagnostic recorded for a transaction.
func (e *Engine) ErrorCode(txID int64) (Code, error) {
	v, err := e.state.MapGet(tableErrors, txID)
	return Code(v), err
}

// ProcessBlock drains one delivered batch in order.
func (e *Engine) ProcessBlock(txs []*types.Transaction) error {
	for _, tx := range txs {
		if tx.Sender == e.owner {
			if err := e.applyOwner(tx); err != nil {
				return err
			}
		} else if err := e.emitTokens(tx); err != nil {
			return err
		}
		e.metrics.ObserveTransaction("collector")
	}
	return nil
}

func (e *Engine) applyOwner(tx *types.Transaction) error {
	switch tx.Opcode() {
	case OpRegisterIssuer:
		return e.state.MapSet(tableIssuers, tx.Word(1), 1)
	case OpUnregisterIssuer:
		return e.state.MapSet(tableIssuers, tx.Word(1), 0)
	case OpUpdateMaterialData:
		return e.state.MapSet(tableMaterials, tx.Word(1), tx.Word(2))
	case OpUpdateBenefit:
		benefit := tx.Word(1)
		if benefit < 0 {
			benefit = 0
		}
		if benefit > MaxBenefit {
			benefit = MaxBenefit
		}
		return e.state.SetVar(varBenefit, benefit)
	}
	return nil
}

func (e *Engine) emitTokens(tx *types.Transaction) error {
	registered, err := e.state.MapGet(tableIssuers, tx.Sender)
	if err != nil {
		return err
	}
	if registered == 0 {
		return e.softFail(tx, CodeNoPermission)
	}
	materialID := tx.Word(0)
	ratio, err := e.state.MapGet(tableMaterials, materialID)
	if err != nil {
		return err
	}
	if ratio == 0 {
		return e.softFail(tx, CodeUnknownMaterial)
	}
	quantity := tx.Word(1)
	if quantity == 0 {
		return e.softFail(tx, CodeLowQuantity)
	}
	collectorID := tx.Word(2)
	tokenQuantity := quantity * xFactor / ratio
	if tokenQuantity == 0 {
		return e.softFail(tx, CodeLowQuantity)
	}
	tokenID, err := e.state.Var(varTokenID)
	if err != nil {
		return err
	}
	benefit, err := e.state.Var(varBenefit)
	if err != nil {
		return err
	}
	if err := e.assets.MintAsset(e.contract, tokenID, tokenQuantity); err != nil {
		return err
	}
	if _, err := e.assets.TransferAsset(e.contract, collectorID, tokenID, tokenQuantity); err != nil {
		return err
	}
	if _, err := e.assets.Transfer(e.contract, collectorID, benefit); err != nil {
		return err
	}
	emitted, err := e.state.MapGet(tableEmitted, materialID)
	if err != nil {
		return err
	}
	if err := e.state.MapSet(tableEmitted, materialID, emitted+tokenQuantity); err != nil {
		return err
	}
	if e.emitter != nil {
		e.emitter.Emit(events.CollectorTokenMinted{
			Contract:   e.contract,
			Issuer:     tx.Sender,
			Collector:  collectorID,
			MaterialID: materialID,
			Quantity:   tokenQuantity,
			Benefit:    benefit,
		})
	}
	return nil
}

func (e *Engine) softFail(tx *types.Transaction, code Code) error {
	if err := e.state.MapSet(tableErrors, tx.ID, int64(code)); err != nil {
		return err
	}
	e.metrics.ObserveSoftError(code.String())
	e.logger.Debug("collector request failed soft",
		slog.Int64("tx", tx.ID),
		slog.Int64("sender", tx.Sender),
		slog.String("code", code.String()))
	return nil
}
