package core

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"veridibloc/core/events"
	"veridibloc/native/cert"
	"veridibloc/native/stock"
	"veridibloc/storage"
)

const (
	stockAddr int64 = 1000
	certAddr  int64 = 2000
	owner     int64 = 100
	partner   int64 = 300
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func newTestNode(t *testing.T) (*Node, *stock.Engine, *cert.Engine) {
	t.Helper()
	node := NewNode(storage.NewMemDB(), testLogger())

	ledger, err := stock.NewEngine(stockAddr, stock.Params{
		Owner:               owner,
		Mode:                stock.ModeWeight,
		CertificateContract: certAddr,
	}, node.State().Contract(stockAddr), node.State())
	require.NoError(t, err)
	ledger.SetEmitter(node.Events())
	require.NoError(t, ledger.Init())
	require.NoError(t, node.Register(stock.NewProcessor(ledger, node, testLogger())))

	certificates, err := cert.NewEngine(certAddr, owner, node.State().Contract(certAddr), node.State(), testLogger())
	require.NoError(t, err)
	certificates.SetEmitter(node.Events())
	require.NoError(t, certificates.Init())
	require.NoError(t, node.Register(certificates))

	return node, ledger, certificates
}

func commit(t *testing.T, node *Node) []int64 {
	t.Helper()
	block, err := node.CommitBlock()
	require.NoError(t, err)
	ids := make([]int64, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.ID
	}
	return ids
}

func TestSubmitTransactionValidation(t *testing.T) {
	node, _, _ := newTestNode(t)

	err := node.SubmitTransaction(owner, 9999, stock.ActivationAmount, nil)
	require.ErrorIs(t, err, ErrUnknownContract)

	err = node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount-1, nil)
	require.ErrorIs(t, err, ErrBelowActivation)
}

func TestRegisterRejectsDuplicateAddress(t *testing.T) {
	node, _, _ := newTestNode(t)

	other, err := cert.NewEngine(certAddr, owner, node.State().Contract(certAddr), node.State(), testLogger())
	require.NoError(t, err)
	require.Error(t, node.Register(other))
}

func TestCommitBlockAssignsMonotonicIDs(t *testing.T) {
	node, _, _ := newTestNode(t)

	require.NoError(t, node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount, []int64{stock.OpRegisterIncoming, 10, 1}))
	require.NoError(t, node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount, []int64{stock.OpRegisterIncoming, 20, 2}))

	ids := commit(t, node)
	require.Equal(t, []int64{1, 2}, ids)

	height, err := node.Height()
	require.NoError(t, err)
	require.Equal(t, int64(1), height)
}

// Full supply-chain round trip: registered material is withdrawn, the
// receiving partner acknowledges it, and the aggregated certificate request
// reaches the certificate contract with the following block.
func TestCertificateFlowAcrossBlocks(t *testing.T) {
	node, ledger, certificates := newTestNode(t)

	// Block 1: the stock contract becomes a certificate issuer and the
	// receiving partner is enrolled.
	require.NoError(t, node.SubmitTransaction(owner, certAddr, cert.ActivationAmount, []int64{cert.OpRegisterIssuer, stockAddr}))
	require.NoError(t, node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount, []int64{stock.OpAuthorizePartner, partner}))
	commit(t, node)

	// Block 2: material arrives. The certificate contract is configured, so
	// the registering transaction id names the lot.
	require.NoError(t, node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount, []int64{stock.OpRegisterIncoming, 7}))
	commit(t, node)

	// Block 3: the owner ships everything out.
	require.NoError(t, node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount, []int64{stock.OpWithdrawByWeight, 7}))
	ids := commit(t, node)
	require.Len(t, ids, 1)
	withdrawalID := ids[0]

	// Block 4: the partner acknowledges receipt, over-claiming on purpose.
	require.NoError(t, node.SubmitTransaction(partner, stockAddr, stock.DefaultUsageFee, []int64{stock.OpAcknowledgeReceipt, withdrawalID, 100}))
	commit(t, node)

	// The aggregated mint request was queued for block 5.
	require.Equal(t, 1, node.PendingTransactions(certAddr))
	commit(t, node)

	tokenID, err := certificates.TokenID()
	require.NoError(t, err)
	minted, err := node.State().AssetBalance(owner, tokenID)
	require.NoError(t, err)
	require.Equal(t, int64(7), minted, "certified quantity capped at the group total")

	stats, err := ledger.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.StockQuantity)
	require.Equal(t, int64(1), stats.ReceiptsCount)

	recent := node.Events().Recent()
	require.NotEmpty(t, recent)
	require.Equal(t, events.TypeCertificateMinted, recent[len(recent)-1].Type)
}

func TestExternalSenderAmountsLandOnContract(t *testing.T) {
	node, _, _ := newTestNode(t)

	require.NoError(t, node.SubmitTransaction(owner, stockAddr, stock.ActivationAmount, []int64{stock.OpRegisterIncoming, 10, 1}))
	commit(t, node)

	balance, err := node.State().Balance(stockAddr)
	require.NoError(t, err)
	require.Equal(t, stock.ActivationAmount, balance, "owner pays no usage fee")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	node, _, _ := newTestNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx, time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}

	height, err := node.Height()
	require.NoError(t, err)
	require.Positive(t, height)
}
