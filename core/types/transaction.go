package types

// MessagePageWords is the number of payload words delivered per message page.
// The host platform hands contracts fixed-width pages, so multi-lot calls are
// paged four ids at a time.
const MessagePageWords = 4

// Transaction is the ephemeral per-transaction context handed to contract
// processors. The node assigns the id at block inclusion; the sender and the
// attached amount are taken as authenticated by the host platform.
type Transaction struct {
	ID       int64   `json:"id"`
	Sender   int64   `json:"sender"`
	Contract int64   `json:"contract"`
	Amount   int64   `json:"amount"`
	Message  []int64 `json:"message"`
}

// Opcode returns the first payload word, which selects the handler.
func (tx *Transaction) Opcode() int64 {
	return tx.Word(0)
}

// Word returns payload word i. Absent words read as zero, matching the
// fixed-width message contract of the platform.
func (tx *Transaction) Word(i int) int64 {
	if tx == nil || i < 0 || i >= len(tx.Message) {
		return 0
	}
	return tx.Message[i]
}

// Page returns the four payload words of message page n. Page zero carries
// the opcode; lot-id pages start at one. Missing words read as zero so
// callers may pad with zero ids.
func (tx *Transaction) Page(n int) [MessagePageWords]int64 {
	var page [MessagePageWords]int64
	for i := range page {
		page[i] = tx.Word(n*MessagePageWords + i)
	}
	return page
}
