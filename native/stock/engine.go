package stock

import (
	"errors"
	"fmt"

	"veridibloc/core/events"
	"veridibloc/core/types"
)

var errNilState = errors.New("stock engine: state not configured")

// State is the slice of the durable map store a stock contract owns:
// independent integer key→value tables plus named contract variables. A key
// that was never written reads as zero.
type State interface {
	MapGet(table, key int64) (int64, error)
	MapSet(table, key, value int64) error
	Var(name string) (int64, error)
	SetVar(name string, value int64) error
}

// Bank abstracts the host platform's balance and asset transfer primitives.
// Transfers clamp to the available balance and report what actually moved.
type Bank interface {
	Transfer(from, to, amount int64) (int64, error)
	TransferAsset(from, to, asset, quantity int64) (int64, error)
	Balance(account int64) (int64, error)
	AssetBalance(account, asset int64) (int64, error)
}

// Engine implements the stock ledger state machine for one deployed contract.
// All operations fail soft: invalid calls return a *LedgerError (recorded in
// the error table by the dispatcher) and leave no partial group behind, with
// the documented exception of the LIFO walk, which mutates the stack as it
// goes but only runs after the aggregate sufficiency check.
type Engine struct {
	state    State
	bank     Bank
	params   Params
	contract int64
	emitter  events.Emitter
}

// NewEngine creates a stock engine for the contract deployed at the given
// address. Callers may override the emitter via SetEmitter.
func NewEngine(contract int64, params Params, state State, bank Bank) (*Engine, error) {
	if state == nil {
		return nil, errNilState
	}
	if !params.Mode.Valid() {
		return nil, fmt.Errorf("stock engine: invalid mode %q", params.Mode)
	}
	return &Engine{
		state:    state,
		bank:     bank,
		params:   params,
		contract: contract,
		emitter:  events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Contract returns the contract's platform address.
func (e *Engine) Contract() int64 { return e.contract }

// Params returns the deploy-time parameters.
func (e *Engine) Params() Params { return e.params }

// Init runs the constructor: seeds the mutable contract variables and the
// owner's permissions. It must run exactly once, at deployment.
func (e *Engine) Init() error {
	fee := e.params.UsageFee
	if fee == 0 {
		fee = DefaultUsageFee
	}
	if err := e.state.SetVar(varUsageFee, fee); err != nil {
		return err
	}
	if err := e.state.SetVar(varCertificateContract, e.params.CertificateContract); err != nil {
		return err
	}
	if err := e.state.MapSet(tableUsers, e.params.Owner, TierAdmin); err != nil {
		return err
	}
	if e.params.Internal {
		if err := e.state.MapSet(tablePartners, e.params.Owner, TierNormal); err != nil {
			return err
		}
	}
	return nil
}

// --- permission helpers ---

func (e *Engine) senderTier(sender int64) (int64, error) {
	return e.state.MapGet(tableUsers, sender)
}

func (e *Engine) recordError(txID int64, code Code) error {
	return e.state.MapSet(tableErrors, txID, int64(code))
}

// --- lot ledger ---

// RegisterIncoming admits a material lot under the given origin id. The
// remainder table is overwritten, not added to: re-registering an id discards
// the prior remainder, so callers must use unique origin ids.
func (e *Engine) RegisterIncoming(tx *types.Transaction, quantity, originID int64) (int64, error) {
	tier, err := e.senderTier(tx.Sender)
	if err != nil {
		return 0, err
	}
	if tier == TierNone {
		return 0, errNoPermission
	}
	if quantity <= 0 {
		return 0, errInvalidQuantity
	}
	if err := e.state.MapSet(tableIncoming, originID, quantity); err != nil {
		return 0, err
	}
	sp, err := e.state.Var(varStackPointer)
	if err != nil {
		return 0, err
	}
	if err := e.state.MapSet(tableStack, sp, originID); err != nil {
		return 0, err
	}
	if err := e.state.SetVar(varStackPointer, sp+1); err != nil {
		return 0, err
	}
	stockQty, err := e.state.Var(varStockQuantity)
	if err != nil {
		return 0, err
	}
	if err := e.state.SetVar(varStockQuantity, stockQty+quantity); err != nil {
		return 0, err
	}
	e.emit(events.StockRegistered{Contract: e.contract, OriginID: originID, Quantity: quantity, Sender: tx.Sender})
	return quantity, nil
}

// consumeLot withdraws up to requested from one lot into the group record. A
// negative requested quantity means "take all remaining". A zero lot id is a
// silent no-op; an unknown or exhausted lot records INVALID_OR_EMPTY_LOT in
// the error table directly (the paged multi-lot loop keeps going past bad
// ids) and contributes nothing.
func (e *Engine) consumeLot(tx *types.Transaction, lotID, groupID, requested int64) (int64, error) {
	if lotID == 0 {
		return 0, nil
	}
	current, err := e.state.MapGet(tableIncoming, lotID)
	if err != nil {
		return 0, err
	}
	if current == 0 {
		if err := e.recordError(tx.ID, CodeInvalidOrEmptyLot); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if requested < 0 || requested > current {
		requested = current
	}
	if err := e.state.MapSet(tableIncoming, lotID, current-requested); err != nil {
		return 0, err
	}
	if err := e.state.MapSet(groupID, lotID, requested); err != nil {
		return 0, err
	}
	stockQty, err := e.state.Var(varStockQuantity)
	if err != nil {
		return 0, err
	}
	if err := e.state.SetVar(varStockQuantity, stockQty-requested); err != nil {
		return 0, err
	}
	return requested, nil
}

func (e *Engine) nextGroupID(tx *types.Transaction) (int64, error) {
	generated, err := e.state.Var(varGeneratedLots)
	if err != nil {
		return 0, err
	}
	groupID := generated + GroupIDOffset
	// Index the group by the requesting transaction id so counterparties can
	// resolve "the group created by transaction T".
	if err := e.state.MapSet(tableGroups, tx.ID, groupID); err != nil {
		return 0, err
	}
	return groupID, nil
}

// WithdrawByWeight pops lots LIFO from the arrival stack until the requested
// quantity is covered, recording every consumed amount against a single new
// group. Fully consumed lots have their stack cell zeroed and the pointer
// advanced past them permanently; a partially consumed lot stays on top.
func (e *Engine) WithdrawByWeight(tx *types.Transaction, quantity int64) (int64, error) {
	if e.params.Mode != ModeWeight {
		return 0, errWrongStockAction
	}
	tier, err := e.senderTier(tx.Sender)
	if err != nil {
		return 0, err
	}
	if tier == TierNone {
		return 0, errNoPermission
	}
	if quantity <= 0 {
		return 0, errInvalidQuantity
	}
	stockQty, err := e.state.Var(varStockQuantity)
	if err != nil {
		return 0, err
	}
	if stockQty < quantity {
		return 0, errNoStock
	}

	groupID, err := e.nextGroupID(tx)
	if err != nil {
		return 0, err
	}
	sp, err := e.state.Var(varStackPointer)
	if err != nil {
		return 0, err
	}
	sp--
	remaining := quantity
	for remaining > 0 {
		if sp < 0 {
			// Re-registering an origin id inflates stockQuantity past what the
			// arrival stack actually holds. Stop at the stack floor instead of
			// walking into never-written cells.
			return 0, errNoStock
		}
		origin, err := e.state.MapGet(tableStack, sp)
		if err != nil {
			return 0, err
		}
		lotQty, err := e.state.MapGet(tableIncoming, origin)
		if err != nil {
			return 0, err
		}
		if lotQty > remaining {
			// Partial consumption: the lot keeps the rest and stays on top.
			if err := e.state.MapSet(tableIncoming, origin, lotQty-remaining); err != nil {
				return 0, err
			}
			if err := e.state.MapSet(groupID, origin, remaining); err != nil {
				return 0, err
			}
			remaining = 0
		} else {
			if err := e.state.MapSet(tableIncoming, origin, 0); err != nil {
				return 0, err
			}
			// Zero the popped cell so "popped" stays distinguishable from
			// "never pushed" in the persisted layout.
			if err := e.state.MapSet(tableStack, sp, 0); err != nil {
				return 0, err
			}
			if err := e.state.MapSet(groupID, origin, lotQty); err != nil {
				return 0, err
			}
			sp--
			remaining -= lotQty
		}
	}
	if err := e.state.MapSet(groupID, 0, quantity); err != nil {
		return 0, err
	}
	if err := e.state.SetVar(varStackPointer, sp+1); err != nil {
		return 0, err
	}
	if err := e.state.SetVar(varStockQuantity, stockQty-quantity); err != nil {
		return 0, err
	}
	if err := e.bumpGeneratedLots(); err != nil {
		return 0, err
	}
	e.emit(events.StockWithdrawn{Contract: e.contract, GroupID: groupID, TxID: tx.ID, Quantity: quantity, Mode: string(ModeWeight)})
	return groupID, nil
}

// WithdrawByLots consumes the explicitly named lots in full. The transaction
// payload carries the id count in word one and the ids themselves in pages of
// four words starting at page one; zero ids are padding and contribute
// nothing. The group record is written even when every named lot turned out
// empty, so deployed state can contain groups with a zero total.
func (e *Engine) WithdrawByLots(tx *types.Transaction) (int64, error) {
	if e.params.Mode != ModeLots {
		return 0, errWrongStockAction
	}
	count := tx.Word(1)
	if count == 0 {
		return 0, nil
	}
	tier, err := e.senderTier(tx.Sender)
	if err != nil {
		return 0, err
	}
	if tier == TierNone {
		return 0, errNoPermission
	}
	groupID, err := e.nextGroupID(tx)
	if err != nil {
		return 0, err
	}
	var total int64
	pages := (count + 4) / 4
	for page := int64(1); page <= pages; page++ {
		ids := tx.Page(int(page))
		for _, lotID := range ids {
			consumed, err := e.consumeLot(tx, lotID, groupID, -1)
			if err != nil {
				return 0, err
			}
			total += consumed
		}
	}
	if err := e.state.MapSet(groupID, 0, total); err != nil {
		return 0, err
	}
	if err := e.bumpGeneratedLots(); err != nil {
		return 0, err
	}
	e.emit(events.StockWithdrawn{Contract: e.contract, GroupID: groupID, TxID: tx.ID, Quantity: total, Mode: string(ModeLots)})
	return groupID, nil
}

// WithdrawByLotAndWeight consumes a bounded quantity from exactly one named
// lot; a negative quantity means "take all remaining". Over-requesting clamps
// to the current remainder instead of failing. The txId to groupId index is
// written before the lot is validated, so a failed call leaves an index that
// resolves to an empty group. Counterparties already rely on that layout.
func (e *Engine) WithdrawByLotAndWeight(tx *types.Transaction, lotID, quantity int64) (int64, error) {
	if e.params.Mode != ModeLotAndWeight {
		return 0, errWrongStockAction
	}
	tier, err := e.senderTier(tx.Sender)
	if err != nil {
		return 0, err
	}
	if tier == TierNone {
		return 0, errNoPermission
	}
	groupID, err := e.nextGroupID(tx)
	if err != nil {
		return 0, err
	}
	actual, err := e.consumeLot(tx, lotID, groupID, quantity)
	if err != nil {
		return 0, err
	}
	if actual <= 0 {
		// consumeLot already recorded INVALID_OR_EMPTY_LOT for a bad lot; a
		// zero lot id fails quietly.
		return 0, nil
	}
	if err := e.state.MapSet(groupID, 0, actual); err != nil {
		return 0, err
	}
	if err := e.bumpGeneratedLots(); err != nil {
		return 0, err
	}
	e.emit(events.StockWithdrawn{Contract: e.contract, GroupID: groupID, TxID: tx.ID, Quantity: actual, Mode: string(ModeLotAndWeight)})
	return groupID, nil
}

func (e *Engine) bumpGeneratedLots() error {
	generated, err := e.state.Var(varGeneratedLots)
	if err != nil {
		return err
	}
	return e.state.SetVar(varGeneratedLots, generated+1)
}

// --- receipt acknowledgment ---

// AcknowledgeReceipt lets an authorized business partner confirm a shipment
// identified by the withdrawing transaction id. Internal users are refused
// even when also enrolled as partners: an operator who both ships and
// "receives" the same material could otherwise self-certify. First
// acknowledgment wins. The returned quantity is capped at the group total and
// is nonzero only when a certificate contract is configured; the dispatcher
// sums it across the block.
func (e *Engine) AcknowledgeReceipt(tx *types.Transaction, externalID, claimed int64) (int64, error) {
	partnerTier, err := e.state.MapGet(tablePartners, tx.Sender)
	if err != nil {
		return 0, err
	}
	userTier, err := e.state.MapGet(tableUsers, tx.Sender)
	if err != nil {
		return 0, err
	}
	if partnerTier == TierNone || userTier != TierNone {
		return 0, errNoPermission
	}
	groupID, err := e.state.MapGet(tableGroups, externalID)
	if err != nil {
		return 0, err
	}
	if groupID == 0 {
		return 0, errInvalidOrEmptyLot
	}
	existing, err := e.state.MapGet(tableReceipts, externalID)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		return 0, errMaterialReceivedAlready
	}
	if err := e.state.MapSet(tableReceipts, externalID, tx.ID); err != nil {
		return 0, err
	}
	receipts, err := e.state.Var(varReceiptsCount)
	if err != nil {
		return 0, err
	}
	if err := e.state.SetVar(varReceiptsCount, receipts+1); err != nil {
		return 0, err
	}
	certContract, err := e.state.Var(varCertificateContract)
	if err != nil {
		return 0, err
	}
	certifiable := int64(0)
	if certContract != 0 {
		total, err := e.state.MapGet(groupID, 0)
		if err != nil {
			return 0, err
		}
		certifiable = claimed
		if certifiable > total {
			certifiable = total
		}
	}
	e.emit(events.ReceiptAcknowledged{Contract: e.contract, ExternalID: externalID, TxID: tx.ID, Certifiable: certifiable})
	return certifiable, nil
}

// --- permission management ---

// SetPartnerPermission grants or revokes the business-partner tier. The
// target must not be the caller and must hold no internal-user tier; the
// caller must be the owner or an admin.
func (e *Engine) SetPartnerPermission(tx *types.Transaction, account, tier int64) error {
	userTier, err := e.state.MapGet(tableUsers, account)
	if err != nil {
		return err
	}
	if account == tx.Sender || userTier != TierNone {
		return errNoPermission
	}
	if err := e.requireAdmin(tx.Sender); err != nil {
		return err
	}
	if err := e.state.MapSet(tablePartners, account, tier); err != nil {
		return err
	}
	e.emit(events.PermissionChanged{Contract: e.contract, Account: account, Table: "partners", Tier: tier})
	return nil
}

// SetUserPermission grants or revokes an internal-user tier, clamped into
// [None, Admin]. The target must not be the caller and must not be an
// enrolled business partner; the caller must be the owner or an admin.
func (e *Engine) SetUserPermission(tx *types.Transaction, account, tier int64) error {
	if account == tx.Sender {
		return errNoPermission
	}
	partnerTier, err := e.state.MapGet(tablePartners, account)
	if err != nil {
		return err
	}
	if partnerTier == TierNormal {
		return errNoPermission
	}
	if err := e.requireAdmin(tx.Sender); err != nil {
		return err
	}
	if tier > TierAdmin {
		tier = TierAdmin
	}
	if tier < TierNone {
		tier = TierNone
	}
	if err := e.state.MapSet(tableUsers, account, tier); err != nil {
		return err
	}
	e.emit(events.PermissionChanged{Contract: e.contract, Account: account, Table: "users", Tier: tier})
	return nil
}

func (e *Engine) requireAdmin(sender int64) error {
	if sender == e.params.Owner {
		return nil
	}
	tier, err := e.senderTier(sender)
	if err != nil {
		return err
	}
	if tier != TierAdmin {
		return errNoPermission
	}
	return nil
}

// --- creator functions ---

// SetUsageFee updates the per-transaction usage fee. Owner only.
func (e *Engine) SetUsageFee(tx *types.Transaction, fee int64) error {
	if tx.Sender != e.params.Owner {
		return errNoPermission
	}
	return e.state.SetVar(varUsageFee, fee)
}

// SetPaused toggles the pause flag. Owner only. While paused, non-owner
// transactions are dropped without fee or error.
func (e *Engine) SetPaused(tx *types.Transaction, paused bool) error {
	if tx.Sender != e.params.Owner {
		return errNoPermission
	}
	v := int64(0)
	if paused {
		v = 1
	}
	return e.state.SetVar(varPaused, v)
}

// SetCertificateContract points the ledger at a downstream certificate
// contract. Owner only. A zero id disables certificate emission.
func (e *Engine) SetCertificateContract(tx *types.Transaction, contract int64) error {
	if tx.Sender != e.params.Owner {
		return errNoPermission
	}
	return e.state.SetVar(varCertificateContract, contract)
}

// PullFunds sends the contract's entire balance (token id 0) or its entire
// holding of the given asset to the owner. Owner only.
func (e *Engine) PullFunds(tx *types.Transaction, tokenID int64) error {
	if tx.Sender != e.params.Owner {
		return errNoPermission
	}
	if tokenID == 0 {
		balance, err := e.bank.Balance(e.contract)
		if err != nil {
			return err
		}
		_, err = e.bank.Transfer(e.contract, e.params.Owner, balance)
		return err
	}
	holding, err := e.bank.AssetBalance(e.contract, tokenID)
	if err != nil {
		return err
	}
	_, err = e.bank.TransferAsset(e.contract, e.params.Owner, tokenID, holding)
	return err
}

// --- queries (read-only, used by the RPC layer and tests) ---

// Stats returns the aggregate stock view.
func (e *Engine) Stats() (*Stats, error) {
	stockQty, err := e.state.Var(varStockQuantity)
	if err != nil {
		return nil, err
	}
	generated, err := e.state.Var(varGeneratedLots)
	if err != nil {
		return nil, err
	}
	receipts, err := e.state.Var(varReceiptsCount)
	if err != nil {
		return nil, err
	}
	sp, err := e.state.Var(varStackPointer)
	if err != nil {
		return nil, err
	}
	return &Stats{StockQuantity: stockQty, GeneratedLotsCount: generated, ReceiptsCount: receipts, StackPointer: sp}, nil
}

// LotRemaining returns the live remainder of an incoming lot (zero when
// fully consumed or never registered).
func (e *Engine) LotRemaining(originID int64) (int64, error) {
	return e.state.MapGet(tableIncoming, originID)
}

// GroupByExternalID resolves a withdrawal-transaction id to its group and
// total withdrawn quantity.
func (e *Engine) GroupByExternalID(externalID int64) (groupID, total int64, err error) {
	groupID, err = e.state.MapGet(tableGroups, externalID)
	if err != nil || groupID == 0 {
		return groupID, 0, err
	}
	total, err = e.state.MapGet(groupID, 0)
	return groupID, total, err
}

// GroupContribution returns how much one lot contributed to a group.
func (e *Engine) GroupContribution(groupID, lotID int64) (int64, error) {
	return e.state.MapGet(groupID, lotID)
}

// ErrorCode returns the soft-fail diagnostic recorded for a transaction
// (zero when the transaction succeeded or was silently ignored).
func (e *Engine) ErrorCode(txID int64) (Code, error) {
	v, err := e.state.MapGet(tableErrors, txID)
	return Code(v), err
}

// UserTier returns the internal-user tier of an account.
func (e *Engine) UserTier(account int64) (int64, error) {
	return e.state.MapGet(tableUsers, account)
}

// PartnerTier returns the business-partner tier of an account.
func (e *Engine) PartnerTier(account int64) (int64, error) {
	return e.state.MapGet(tablePartners, account)
}
