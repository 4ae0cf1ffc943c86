package events

import "veridibloc/core/types"

const (
	// TypeCertificateMinted marks a certificate-token emission.
	TypeCertificateMinted = "cert.minted"
	// TypeCollectorTokenMinted marks a collector-token emission.
	TypeCollectorTokenMinted = "collector.minted"
)

// CertificateMinted records one certificate emission by the certificate
// contract.
type CertificateMinted struct {
	Contract  int64
	Issuer    int64
	Recipient int64
	Quantity  int64
}

// EventType satisfies the events.Event interface.
func (CertificateMinted) EventType() string { return TypeCertificateMinted }

// Event converts the structured payload into a broadcastable event.
func (e CertificateMinted) Event() *types.Event {
	return &types.Event{Type: TypeCertificateMinted, Attributes: map[string]string{
		"contract":  formatID(e.Contract),
		"issuer":    formatID(e.Issuer),
		"recipient": formatID(e.Recipient),
		"quantity":  formatID(e.Quantity),
	}}
}

// CollectorTokenMinted records one collector-token emission.
type CollectorTokenMinted struct {
	Contract   int64
	Issuer     int64
	Collector  int64
	MaterialID int64
	Quantity   int64
	Benefit    int64
}

// EventType satisfies the events.Event interface.
func (CollectorTokenMinted) EventType() string { return TypeCollectorTokenMinted }

// Event converts the structured payload into a broadcastable event.
func (e CollectorTokenMinted) Event() *types.Event {
	return &types.Event{Type: TypeCollectorTokenMinted, Attributes: map[string]string{
		"contract":  formatID(e.Contract),
		"issuer":    formatID(e.Issuer),
		"collector": formatID(e.Collector),
		"material":  formatID(e.MaterialID),
		"quantity":  formatID(e.Quantity),
		"benefit":   formatID(e.Benefit),
	}}
}
