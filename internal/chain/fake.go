package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Fake is an in-memory ledger for tests and chainless local runs.
// Failures can be scripted per destination address.
type Fake struct {
	mu       sync.Mutex
	nextTx   int
	block    uint64
	deposits []Deposit

	// FailNext maps a destination address to a queue of errors to
	// return before succeeding.
	FailNext map[string][]error

	// Submitted records every confirmed transfer in order.
	Submitted []FakeTransfer
}

// FakeTransfer is one confirmed transfer on the fake ledger.
type FakeTransfer struct {
	From   string
	To     string
	Amount decimal.Decimal
	TxHash string
}

// NewFake creates an empty fake ledger.
func NewFake() *Fake {
	return &Fake{FailNext: make(map[string][]error)}
}

// SubmitTransfer confirms immediately unless a scripted failure is queued.
func (f *Fake) SubmitTransfer(_ context.Context, from, to string, amount decimal.Decimal) (TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if queue := f.FailNext[to]; len(queue) > 0 {
		err := queue[0]
		f.FailNext[to] = queue[1:]
		return TxReceipt{}, err
	}
	if !ValidAddress(to) {
		return TxReceipt{}, fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}

	f.nextTx++
	f.block++
	receipt := TxReceipt{
		TxHash: fmt.Sprintf("0xfake%036d", f.nextTx),
		Block:  f.block,
	}
	f.Submitted = append(f.Submitted, FakeTransfer{From: from, To: to, Amount: amount, TxHash: receipt.TxHash})
	return receipt, nil
}

// Deposits returns scripted deposits at or after sinceBlock.
func (f *Fake) Deposits(_ context.Context, sinceBlock uint64) ([]Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Deposit
	for _, d := range f.deposits {
		if d.Block >= sinceBlock {
			out = append(out, d)
		}
	}
	return out, nil
}

// AddDeposit scripts an incoming transfer for the watcher to observe.
func (f *Fake) AddDeposit(toAddress string, amount decimal.Decimal) Deposit {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextTx++
	f.block++
	d := Deposit{
		TxHash:    fmt.Sprintf("0xdep%037d", f.nextTx),
		ToAddress: toAddress,
		Amount:    amount,
		Block:     f.block,
	}
	f.deposits = append(f.deposits, d)
	return d
}
