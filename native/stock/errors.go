package stock

import "fmt"

// Code is a soft-fail diagnostic recorded in the per-transaction error table.
// Failures never abort the surrounding transaction or block; callers poll the
// table by transaction id.
type Code int64

const (
	CodeNoStock                 Code = 1
	CodeInvalidOrEmptyLot       Code = 2
	CodeNoPermission            Code = 3
	CodeMaterialReceivedAlready Code = 4
	CodeFeeTooLow               Code = 5
	CodeWrongStockAction        Code = 6
	CodeInvalidQuantity         Code = 7
)

// String names the code for logs and metrics.
func (c Code) String() string {
	switch c {
	case CodeNoStock:
		return "NO_STOCK"
	case CodeInvalidOrEmptyLot:
		return "INVALID_OR_EMPTY_LOT"
	case CodeNoPermission:
		return "NO_PERMISSION"
	case CodeMaterialReceivedAlready:
		return "MATERIAL_RECEIVED_ALREADY"
	case CodeFeeTooLow:
		return "FEE_TOO_LOW"
	case CodeWrongStockAction:
		return "WRONG_STOCK_ACTION"
	case CodeInvalidQuantity:
		return "INVALID_QUANTITY"
	}
	return fmt.Sprintf("UNKNOWN_%d", int64(c))
}

// LedgerError is the typed soft failure returned by ledger operations. The
// dispatcher records the code and moves on; already-completed side effects
// (a forwarded fee, a partially walked stack) stay in place.
type LedgerError struct {
	Code Code
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("stock ledger: %s", e.Code)
}

var (
	errNoStock                 = &LedgerError{Code: CodeNoStock}
	errInvalidOrEmptyLot       = &LedgerError{Code: CodeInvalidOrEmptyLot}
	errNoPermission            = &LedgerError{Code: CodeNoPermission}
	errMaterialReceivedAlready = &LedgerError{Code: CodeMaterialReceivedAlready}
	errWrongStockAction        = &LedgerError{Code: CodeWrongStockAction}
	errInvalidQuantity         = &LedgerError{Code: CodeInvalidQuantity}
)
