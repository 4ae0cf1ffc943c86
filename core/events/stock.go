package events

import (
	"strconv"

	"veridibloc/core/types"
)

const (
	// TypeStockRegistered marks an incoming material lot entering the ledger.
	TypeStockRegistered = "stock.registered"
	// TypeStockWithdrawn marks a withdrawal group being created.
	TypeStockWithdrawn = "stock.withdrawn"
	// TypeReceiptAcknowledged marks a business partner confirming a shipment.
	TypeReceiptAcknowledged = "stock.receipt_acknowledged"
	// TypePermissionChanged marks a role table mutation.
	TypePermissionChanged = "stock.permission_changed"
	// TypeCertificateTriggered marks the aggregated per-block call to the
	// certificate contract.
	TypeCertificateTriggered = "stock.certificate_triggered"
)

// StockRegistered records an incoming lot registration.
type StockRegistered struct {
	Contract int64
	OriginID int64
	Quantity int64
	Sender   int64
}

// EventType satisfies the events.Event interface.
func (StockRegistered) EventType() string { return TypeStockRegistered }

// Event converts the structured payload into a broadcastable event.
func (e StockRegistered) Event() *types.Event {
	return &types.Event{Type: TypeStockRegistered, Attributes: map[string]string{
		"contract": formatID(e.Contract),
		"originId": formatID(e.OriginID),
		"quantity": formatID(e.Quantity),
		"sender":   formatID(e.Sender),
	}}
}

// StockWithdrawn records a withdrawal group with its total quantity.
type StockWithdrawn struct {
	Contract int64
	GroupID  int64
	TxID     int64
	Quantity int64
	Mode     string
}

// EventType satisfies the events.Event interface.
func (StockWithdrawn) EventType() string { return TypeStockWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e StockWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeStockWithdrawn, Attributes: map[string]string{
		"contract": formatID(e.Contract),
		"groupId":  formatID(e.GroupID),
		"txId":     formatID(e.TxID),
		"quantity": formatID(e.Quantity),
		"mode":     e.Mode,
	}}
}

// ReceiptAcknowledged records a first-time receipt acknowledgment.
type ReceiptAcknowledged struct {
	Contract    int64
	ExternalID  int64
	TxID        int64
	Certifiable int64
}

// EventType satisfies the events.Event interface.
func (ReceiptAcknowledged) EventType() string { return TypeReceiptAcknowledged }

// Event converts the structured payload into a broadcastable event.
func (e ReceiptAcknowledged) Event() *types.Event {
	return &types.Event{Type: TypeReceiptAcknowledged, Attributes: map[string]string{
		"contract":    formatID(e.Contract),
		"externalId":  formatID(e.ExternalID),
		"txId":        formatID(e.TxID),
		"certifiable": formatID(e.Certifiable),
	}}
}

// PermissionChanged records a user or business-partner tier mutation.
type PermissionChanged struct {
	Contract int64
	Account  int64
	Table    string
	Tier     int64
}

// EventType satisfies the events.Event interface.
func (PermissionChanged) EventType() string { return TypePermissionChanged }

// Event converts the structured payload into a broadcastable event.
func (e PermissionChanged) Event() *types.Event {
	return &types.Event{Type: TypePermissionChanged, Attributes: map[string]string{
		"contract": formatID(e.Contract),
		"account":  formatID(e.Account),
		"table":    e.Table,
		"tier":     formatID(e.Tier),
	}}
}

// CertificateTriggered records the single aggregated downstream call a block
// may produce.
type CertificateTriggered struct {
	Contract    int64
	Certificate int64
	Quantity    int64
	Attribution int64
}

// EventType satisfies the events.Event interface.
func (CertificateTriggered) EventType() string { return TypeCertificateTriggered }

// Event converts the structured payload into a broadcastable event.
func (e CertificateTriggered) Event() *types.Event {
	return &types.Event{Type: TypeCertificateTriggered, Attributes: map[string]string{
		"contract":    formatID(e.Contract),
		"certificate": formatID(e.Certificate),
		"quantity":    formatID(e.Quantity),
		"attribution": formatID(e.Attribution),
	}}
}

func formatID(v int64) string {
	return strconv.FormatInt(v, 10)
}
