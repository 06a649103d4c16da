package safe

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptOK reports whether a receipt represents a successful execution.
func ReceiptOK(receipt *types.Receipt) bool {
	return receipt != nil && receipt.Status == types.ReceiptStatusSuccessful
}
