package stock

// Method opcodes carried in the first payload word.
const (
	OpRegisterIncoming        int64 = 1
	OpWithdrawByWeight        int64 = 2
	OpWithdrawByLots          int64 = 21
	OpWithdrawByLotAndWeight  int64 = 22
	OpAcknowledgeReceipt      int64 = 3
	OpAuthorizePartner        int64 = 4
	OpUnauthorizePartner      int64 = 5
	OpAuthorizeUser           int64 = 6
	OpUnauthorizeUser         int64 = 7
	OpSetUsageFee             int64 = 8
	OpSetPaused               int64 = 9
	OpSetCertificateContract  int64 = 10
	OpPullFunds               int64 = 11
)

// Map-store table ids. Group records additionally use the group id itself as
// a table id; the offset keeps those from colliding with the fixed tables.
const (
	tableIncoming int64 = 1
	tableStack    int64 = 2
	tableGroups   int64 = 3
	tableReceipts int64 = 4
	tablePartners int64 = 5
	tableUsers    int64 = 6
	tableErrors   int64 = 99

	// GroupIDOffset is added to the generated-lots ordinal to form group ids.
	GroupIDOffset int64 = 100
)

// Named contract variables.
const (
	varStackPointer        = "stackPointer"
	varStockQuantity       = "stockQuantity"
	varGeneratedLots       = "generatedLotsCount"
	varReceiptsCount       = "receiptsCount"
	varUsageFee            = "usageFee"
	varPaused              = "isPaused"
	varCertificateContract = "certificateContract"
)

// DefaultUsageFee applies when the contract is deployed with a zero fee.
const DefaultUsageFee int64 = 5_0000_0000

// Permission tiers. Internal users span None..Admin; business partners only
// None and Normal.
const (
	TierNone   int64 = 0
	TierNormal int64 = 1
	TierAdmin  int64 = 2
)

// Mode selects which withdrawal strategy the contract accepts.
type Mode string

const (
	// ModeLots consumes explicitly named lots in full.
	ModeLots Mode = "L"
	// ModeWeight consumes the arrival stack LIFO by weight.
	ModeWeight Mode = "W"
	// ModeLotAndWeight consumes a bounded quantity from one named lot.
	ModeLotAndWeight Mode = "LW"
)

// Valid reports whether the mode is one of the three strategies.
func (m Mode) Valid() bool {
	switch m {
	case ModeLots, ModeWeight, ModeLotAndWeight:
		return true
	}
	return false
}

// Params are the deploy-time contract parameters. Owner, Mode, Intermediate
// and Internal are immutable; the usage fee and certificate contract are
// initial values for mutable contract variables.
type Params struct {
	Owner               int64
	Mode                Mode
	UsageFee            int64
	CertificateContract int64
	// Intermediate contracts attribute certificates to the acknowledging
	// counterparty instead of the owner and are not certificate sources
	// themselves.
	Intermediate bool
	// Internal contracts serve as the owner's own downstream stock, so the
	// owner is enrolled as business partner at construction.
	Internal bool
}

// Stats is the aggregate view kept alongside the lot tables.
type Stats struct {
	StockQuantity      int64 `json:"stockQuantity"`
	GeneratedLotsCount int64 `json:"generatedLotsCount"`
	ReceiptsCount      int64 `json:"receiptsCount"`
	StackPointer       int64 `json:"stackPointer"`
}
