package stock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veridibloc/core/types"
)

type mockState struct {
	maps map[[2]int64]int64
	vars map[string]int64
}

func newMockState() *mockState {
	return &mockState{maps: make(map[[2]int64]int64), vars: make(map[string]int64)}
}

func (m *mockState) MapGet(table, key int64) (int64, error) {
	return m.maps[[2]int64{table, key}], nil
}

func (m *mockState) MapSet(table, key, value int64) error {
	m.maps[[2]int64{table, key}] = value
	return nil
}

func (m *mockState) Var(name string) (int64, error) { return m.vars[name], nil }

func (m *mockState) SetVar(name string, value int64) error {
	m.vars[name] = value
	return nil
}

type mockBank struct {
	balances map[int64]int64
	assets   map[[2]int64]int64
}

func newMockBank() *mockBank {
	return &mockBank{balances: make(map[int64]int64), assets: make(map[[2]int64]int64)}
}

func (b *mockBank) Balance(account int64) (int64, error) { return b.balances[account], nil }

func (b *mockBank) Transfer(from, to, amount int64) (int64, error) {
	if amount > b.balances[from] {
		amount = b.balances[from]
	}
	if amount <= 0 {
		return 0, nil
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return amount, nil
}

func (b *mockBank) AssetBalance(account, asset int64) (int64, error) {
	return b.assets[[2]int64{account, asset}], nil
}

func (b *mockBank) TransferAsset(from, to, asset, quantity int64) (int64, error) {
	held := b.assets[[2]int64{from, asset}]
	if quantity > held {
		quantity = held
	}
	if quantity <= 0 {
		return 0, nil
	}
	b.assets[[2]int64{from, asset}] -= quantity
	b.assets[[2]int64{to, asset}] += quantity
	return quantity, nil
}

const (
	contractAddr int64 = 1000
	owner        int64 = 100
	worker       int64 = 200
	partner      int64 = 300
	stranger     int64 = 400
)

func newTestEngine(t *testing.T, params Params) (*Engine, *mockState, *mockBank) {
	t.Helper()
	if params.Owner == 0 {
		params.Owner = owner
	}
	if params.Mode == "" {
		params.Mode = ModeWeight
	}
	st := newMockState()
	bank := newMockBank()
	e, err := NewEngine(contractAddr, params, st, bank)
	require.NoError(t, err)
	require.NoError(t, e.Init())
	return e, st, bank
}

func tx(id, sender int64, words ...int64) *types.Transaction {
	return &types.Transaction{ID: id, Sender: sender, Contract: contractAddr, Message: words}
}

func ledgerCode(t *testing.T, err error) Code {
	t.Helper()
	var lerr *LedgerError
	require.ErrorAs(t, err, &lerr)
	return lerr.Code
}

func TestInitSeedsOwnerAndDefaults(t *testing.T) {
	e, st, _ := newTestEngine(t, Params{})

	require.Equal(t, DefaultUsageFee, st.vars[varUsageFee])
	tier, err := e.UserTier(owner)
	require.NoError(t, err)
	require.Equal(t, TierAdmin, tier)
	pTier, err := e.PartnerTier(owner)
	require.NoError(t, err)
	require.Equal(t, TierNone, pTier)
}

func TestInitInternalEnrollsOwnerAsPartner(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Internal: true})

	pTier, err := e.PartnerTier(owner)
	require.NoError(t, err)
	require.Equal(t, TierNormal, pTier)
}

func TestInitKeepsExplicitUsageFee(t *testing.T) {
	_, st, _ := newTestEngine(t, Params{UsageFee: 42})
	require.Equal(t, int64(42), st.vars[varUsageFee])
}

func TestRegisterIncoming(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	got, err := e.RegisterIncoming(tx(1, owner), 500, 7)
	require.NoError(t, err)
	require.Equal(t, int64(500), got)

	remaining, err := e.LotRemaining(7)
	require.NoError(t, err)
	require.Equal(t, int64(500), remaining)

	stats, err := e.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(500), stats.StockQuantity)
	require.Equal(t, int64(1), stats.StackPointer)
}

func TestRegisterIncomingRequiresPermission(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	_, err := e.RegisterIncoming(tx(1, stranger), 500, 7)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))

	stats, err := e.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.StockQuantity)
}

func TestRegisterIncomingRejectsNonPositiveQuantity(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	_, err := e.RegisterIncoming(tx(1, owner), 0, 7)
	require.Equal(t, CodeInvalidQuantity, ledgerCode(t, err))
	_, err = e.RegisterIncoming(tx(2, owner), -3, 7)
	require.Equal(t, CodeInvalidQuantity, ledgerCode(t, err))
}

func TestWithdrawByWeightConsumesLIFO(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})

	_, err := e.RegisterIncoming(tx(1, owner), 10, 11) // A
	require.NoError(t, err)
	_, err = e.RegisterIncoming(tx(2, owner), 5, 12) // B
	require.NoError(t, err)
	_, err = e.RegisterIncoming(tx(3, owner), 3, 13) // C
	require.NoError(t, err)

	groupID, err := e.WithdrawByWeight(tx(4, owner), 6)
	require.NoError(t, err)
	require.Equal(t, GroupIDOffset, groupID)

	// Newest lot first: C taken in full, then 3 of B, A untouched.
	for lot, want := range map[int64]int64{11: 10, 12: 2, 13: 0} {
		remaining, err := e.LotRemaining(lot)
		require.NoError(t, err)
		require.Equal(t, want, remaining, "lot %d", lot)
	}
	cContribution, err := e.GroupContribution(groupID, 13)
	require.NoError(t, err)
	require.Equal(t, int64(3), cContribution)
	bContribution, err := e.GroupContribution(groupID, 12)
	require.NoError(t, err)
	require.Equal(t, int64(3), bContribution)
	total, err := e.GroupContribution(groupID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(6), total)

	stats, err := e.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(12), stats.StockQuantity)
	require.Equal(t, int64(1), stats.GeneratedLotsCount)
}

func TestWithdrawByWeightPartialLotStaysOnTop(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})

	_, err := e.RegisterIncoming(tx(1, owner), 10, 11)
	require.NoError(t, err)
	_, err = e.WithdrawByWeight(tx(2, owner), 4)
	require.NoError(t, err)

	// The partially consumed lot serves the next withdrawal.
	groupID, err := e.WithdrawByWeight(tx(3, owner), 6)
	require.NoError(t, err)
	contribution, err := e.GroupContribution(groupID, 11)
	require.NoError(t, err)
	require.Equal(t, int64(6), contribution)

	remaining, err := e.LotRemaining(11)
	require.NoError(t, err)
	require.Zero(t, remaining)
	stats, err := e.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.StockQuantity)
}

func TestWithdrawByWeightInsufficientStock(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})

	_, err := e.RegisterIncoming(tx(1, owner), 5, 11)
	require.NoError(t, err)

	_, err = e.WithdrawByWeight(tx(2, owner), 6)
	require.Equal(t, CodeNoStock, ledgerCode(t, err))

	// No group, no consumption.
	remaining, err := e.LotRemaining(11)
	require.NoError(t, err)
	require.Equal(t, int64(5), remaining)
	stats, err := e.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.GeneratedLotsCount)
}

func TestWithdrawByWeightStopsAtStackFloor(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})

	// Re-registering an origin id overwrites the remainder but pushes the id
	// again and double-counts the aggregate: 15 on the books, 5 in the lot.
	_, err := e.RegisterIncoming(tx(1, owner), 10, 7)
	require.NoError(t, err)
	_, err = e.RegisterIncoming(tx(2, owner), 5, 7)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.WithdrawByWeight(tx(3, owner), 12)
		done <- err
	}()
	select {
	case err := <-done:
		require.Equal(t, CodeNoStock, ledgerCode(t, err))
	case <-time.After(2 * time.Second):
		t.Fatal("withdrawal did not return")
	}
}

func TestWithdrawByWeightRejectsWrongMode(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLots})

	_, err := e.WithdrawByWeight(tx(1, owner), 5)
	require.Equal(t, CodeWrongStockAction, ledgerCode(t, err))
}

func TestWithdrawByWeightRejectsNonPositiveQuantity(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})

	_, err := e.WithdrawByWeight(tx(1, owner), 0)
	require.Equal(t, CodeInvalidQuantity, ledgerCode(t, err))
}

func TestWithdrawByLots(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLots})

	_, err := e.RegisterIncoming(tx(1, owner), 10, 11)
	require.NoError(t, err)
	_, err = e.RegisterIncoming(tx(2, owner), 5, 12)
	require.NoError(t, err)

	// Opcode, count, two filler words, then the ids in page one. The zero ids
	// are page padding.
	withdrawal := tx(3, owner, OpWithdrawByLots, 2, 0, 0, 11, 12, 0, 0)
	groupID, err := e.WithdrawByLots(withdrawal)
	require.NoError(t, err)

	total, err := e.GroupContribution(groupID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(15), total)
	for _, lot := range []int64{11, 12} {
		remaining, err := e.LotRemaining(lot)
		require.NoError(t, err)
		require.Zero(t, remaining)
	}
	stats, err := e.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.StockQuantity)
}

func TestWithdrawByLotsSkipsBadIDsAndRecordsError(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLots})

	_, err := e.RegisterIncoming(tx(1, owner), 10, 11)
	require.NoError(t, err)

	// Lot 999 was never registered. The loop keeps going and still takes 11.
	withdrawal := tx(2, owner, OpWithdrawByLots, 2, 0, 0, 999, 11, 0, 0)
	groupID, err := e.WithdrawByLots(withdrawal)
	require.NoError(t, err)

	total, err := e.GroupContribution(groupID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(10), total)
	code, err := e.ErrorCode(2)
	require.NoError(t, err)
	require.Equal(t, CodeInvalidOrEmptyLot, code)
}

func TestWithdrawByLotsCreatesEmptyGroup(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLots})

	withdrawal := tx(1, owner, OpWithdrawByLots, 1, 0, 0, 999)
	groupID, err := e.WithdrawByLots(withdrawal)
	require.NoError(t, err)
	require.Equal(t, GroupIDOffset, groupID)

	resolved, total, err := e.GroupByExternalID(1)
	require.NoError(t, err)
	require.Equal(t, groupID, resolved)
	require.Zero(t, total)
	stats, err := e.Stats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.GeneratedLotsCount)
}

func TestWithdrawByLotsZeroCountIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLots})

	groupID, err := e.WithdrawByLots(tx(1, owner, OpWithdrawByLots, 0))
	require.NoError(t, err)
	require.Zero(t, groupID)
	stats, err := e.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.GeneratedLotsCount)
}

func TestWithdrawByLotAndWeightClampsToRemainder(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLotAndWeight})

	_, err := e.RegisterIncoming(tx(1, owner), 7, 11)
	require.NoError(t, err)

	groupID, err := e.WithdrawByLotAndWeight(tx(2, owner), 11, 100)
	require.NoError(t, err)
	total, err := e.GroupContribution(groupID, 0)
	require.NoError(t, err)
	require.Equal(t, int64(7), total)
	remaining, err := e.LotRemaining(11)
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestWithdrawByLotAndWeightLeavesDanglingIndexOnBadLot(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLotAndWeight})

	groupID, err := e.WithdrawByLotAndWeight(tx(1, owner), 999, 5)
	require.NoError(t, err)
	require.Zero(t, groupID)

	// The txId index was written before validation, so it resolves to a group
	// with zero total.
	resolved, total, err := e.GroupByExternalID(1)
	require.NoError(t, err)
	require.Equal(t, GroupIDOffset, resolved)
	require.Zero(t, total)
	code, err := e.ErrorCode(1)
	require.NoError(t, err)
	require.Equal(t, CodeInvalidOrEmptyLot, code)
}

func TestAcknowledgeDanglingGroupCertifiesNothing(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeLotAndWeight, CertificateContract: 2000})
	enrollPartner(t, e, partner)

	_, err := e.WithdrawByLotAndWeight(tx(1, owner), 999, 5)
	require.NoError(t, err)

	certifiable, err := e.AcknowledgeReceipt(tx(2, partner), 1, 50)
	require.NoError(t, err)
	require.Zero(t, certifiable)
}

func enrollPartner(t *testing.T, e *Engine, account int64) {
	t.Helper()
	require.NoError(t, e.SetPartnerPermission(tx(90, owner), account, TierNormal))
}

func withdrawOne(t *testing.T, e *Engine, txID, quantity int64) int64 {
	t.Helper()
	_, err := e.RegisterIncoming(tx(txID, owner), quantity, txID)
	require.NoError(t, err)
	_, err = e.WithdrawByWeight(tx(txID+1, owner), quantity)
	require.NoError(t, err)
	return txID + 1
}

func TestAcknowledgeReceiptWithoutCertificateContract(t *testing.T) {
	e, st, _ := newTestEngine(t, Params{Mode: ModeWeight})
	enrollPartner(t, e, partner)
	externalID := withdrawOne(t, e, 1, 7)

	certifiable, err := e.AcknowledgeReceipt(tx(10, partner), externalID, 7)
	require.NoError(t, err)
	require.Zero(t, certifiable)
	// The acknowledgment itself still counts.
	require.Equal(t, int64(1), st.vars[varReceiptsCount])
}

func TestAcknowledgeReceiptCapsAtGroupTotal(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight, CertificateContract: 2000})
	enrollPartner(t, e, partner)
	externalID := withdrawOne(t, e, 1, 7)

	certifiable, err := e.AcknowledgeReceipt(tx(10, partner), externalID, 100)
	require.NoError(t, err)
	require.Equal(t, int64(7), certifiable)
}

func TestAcknowledgeReceiptIsIdempotent(t *testing.T) {
	e, st, _ := newTestEngine(t, Params{Mode: ModeWeight, CertificateContract: 2000})
	enrollPartner(t, e, partner)
	externalID := withdrawOne(t, e, 1, 7)

	_, err := e.AcknowledgeReceipt(tx(10, partner), externalID, 7)
	require.NoError(t, err)
	_, err = e.AcknowledgeReceipt(tx(11, partner), externalID, 7)
	require.Equal(t, CodeMaterialReceivedAlready, ledgerCode(t, err))
	require.Equal(t, int64(1), st.vars[varReceiptsCount])
}

func TestAcknowledgeReceiptUnknownShipment(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})
	enrollPartner(t, e, partner)

	_, err := e.AcknowledgeReceipt(tx(10, partner), 999, 7)
	require.Equal(t, CodeInvalidOrEmptyLot, ledgerCode(t, err))
}

func TestAcknowledgeReceiptRefusesNonPartners(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})
	externalID := withdrawOne(t, e, 1, 7)

	_, err := e.AcknowledgeReceipt(tx(10, stranger), externalID, 7)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))
}

func TestAcknowledgeReceiptRefusesInternalUsers(t *testing.T) {
	// An internal deployment enrolls the owner as business partner, but the
	// owner also holds an internal tier and so cannot self-certify shipments.
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight, Internal: true})
	externalID := withdrawOne(t, e, 1, 7)

	_, err := e.AcknowledgeReceipt(tx(10, owner), externalID, 7)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))
}

func TestPartnerAndUserRolesAreMutuallyExclusive(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	require.NoError(t, e.SetUserPermission(tx(1, owner), worker, TierNormal))
	err := e.SetPartnerPermission(tx(2, owner), worker, TierNormal)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))

	require.NoError(t, e.SetPartnerPermission(tx(3, owner), partner, TierNormal))
	err = e.SetUserPermission(tx(4, owner), partner, TierNormal)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))
}

func TestPermissionChangesRequireAdmin(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	require.NoError(t, e.SetUserPermission(tx(1, owner), worker, TierNormal))
	err := e.SetUserPermission(tx(2, worker), stranger, TierNormal)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))

	require.NoError(t, e.SetUserPermission(tx(3, owner), worker, TierAdmin))
	require.NoError(t, e.SetUserPermission(tx(4, worker), stranger, TierNormal))
}

func TestPermissionChangesRefuseSelf(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	err := e.SetUserPermission(tx(1, owner), owner, TierAdmin)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))
	err = e.SetPartnerPermission(tx(2, owner), owner, TierNormal)
	require.Equal(t, CodeNoPermission, ledgerCode(t, err))
}

func TestUserTierIsClamped(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{})

	require.NoError(t, e.SetUserPermission(tx(1, owner), worker, 50))
	tier, err := e.UserTier(worker)
	require.NoError(t, err)
	require.Equal(t, TierAdmin, tier)

	require.NoError(t, e.SetUserPermission(tx(2, owner), worker, -5))
	tier, err = e.UserTier(worker)
	require.NoError(t, err)
	require.Equal(t, TierNone, tier)
}

func TestCreatorFunctionsAreOwnerOnly(t *testing.T) {
	e, st, _ := newTestEngine(t, Params{})
	require.NoError(t, e.SetUserPermission(tx(1, owner), worker, TierAdmin))

	for _, err := range []error{
		e.SetUsageFee(tx(2, worker), 1),
		e.SetPaused(tx(3, worker), true),
		e.SetCertificateContract(tx(4, worker), 2000),
		e.PullFunds(tx(5, worker), 0),
	} {
		require.Equal(t, CodeNoPermission, ledgerCode(t, err))
	}

	require.NoError(t, e.SetUsageFee(tx(6, owner), 9), "owner")
	require.Equal(t, int64(9), st.vars[varUsageFee])
	require.NoError(t, e.SetPaused(tx(7, owner), true))
	require.Equal(t, int64(1), st.vars[varPaused])
	require.NoError(t, e.SetCertificateContract(tx(8, owner), 2000))
	require.Equal(t, int64(2000), st.vars[varCertificateContract])
}

func TestPullFunds(t *testing.T) {
	e, _, bank := newTestEngine(t, Params{})
	bank.balances[contractAddr] = 77
	bank.assets[[2]int64{contractAddr, 5}] = 33

	require.NoError(t, e.PullFunds(tx(1, owner), 0))
	require.Equal(t, int64(77), bank.balances[owner])

	require.NoError(t, e.PullFunds(tx(2, owner), 5))
	require.Equal(t, int64(33), bank.assets[[2]int64{owner, 5}])
}

func TestStockConservation(t *testing.T) {
	e, _, _ := newTestEngine(t, Params{Mode: ModeWeight})

	var registered int64
	for i, qty := range []int64{10, 5, 3, 8} {
		_, err := e.RegisterIncoming(tx(int64(i+1), owner), qty, int64(i+11))
		require.NoError(t, err)
		registered += qty
	}
	var withdrawn int64
	for i, qty := range []int64{6, 4} {
		groupID, err := e.WithdrawByWeight(tx(int64(i+20), owner), qty)
		require.NoError(t, err)
		total, err := e.GroupContribution(groupID, 0)
		require.NoError(t, err)
		require.Equal(t, qty, total)
		withdrawn += qty
	}

	stats, err := e.Stats()
	require.NoError(t, err)
	require.Equal(t, registered-withdrawn, stats.StockQuantity)
}
