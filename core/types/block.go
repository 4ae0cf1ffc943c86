package types

// Block is one committed batch of transactions. Contracts process the batch
// strictly in delivery order; the node records the block for querying.
type Block struct {
	Height       int64          `json:"height"`
	Timestamp    int64          `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
}
