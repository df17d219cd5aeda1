// Package chain abstracts the external ledger: slow, fallible, and
// asynchronous. The settlement worker is its only in-process consumer.
package chain

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// TxReceipt is the confirmation extracted from a submitted transfer.
type TxReceipt struct {
	TxHash string
	Block  uint64
}

// Deposit is an incoming transfer observed on the external ledger.
type Deposit struct {
	TxHash    string
	ToAddress string
	Amount    decimal.Decimal
	Block     uint64
}

// Client is the outbound/inbound external-ledger surface.
type Client interface {
	// SubmitTransfer submits a value transfer and waits for its receipt.
	SubmitTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (TxReceipt, error)
	// Deposits returns incoming transfers at or after sinceBlock.
	Deposits(ctx context.Context, sinceBlock uint64) ([]Deposit, error)
}

// Transient failures, safe to retry with backoff.
var (
	ErrRateLimited = errors.New("chain: rate limited")
	ErrNetwork     = errors.New("chain: network failure")
)

// Fatal failures: retrying cannot help.
var (
	ErrInvalidAddress = errors.New("chain: invalid receiver address")
	ErrReverted       = errors.New("chain: transaction reverted")
)

// Retryable classifies an error as transient. Unknown errors are
// treated as transient so a flaky provider does not strand jobs.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrReverted) {
		return false
	}
	return true
}

// ValidAddress is the minimal structural check used before submitting.
func ValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && len(addr) == 42
}
