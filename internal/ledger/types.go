package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/domain"
)

// DefaultCurrency is the settlement currency; amounts are in gwei.
const DefaultCurrency = "ETH"

// Money is represented in the smallest currency unit. No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsZero() bool     { return m.Amount == 0 }

// Account holds per-currency balances of one address.
type Account struct {
	Address   common.Address   `json:"address"`
	CreatedAt time.Time        `json:"created_at"`
	Balances  map[string]int64 `json:"balances"` // currency -> smallest units
}

// Transaction is a double-entry transfer result. Deposits carry the zero address as From.
type Transaction struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	From           common.Address `json:"from"`
	To             common.Address `json:"to"`
	Currency       string         `json:"currency"`
	Amount         int64          `json:"amount"`
	Memo           string         `json:"memo,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Sequence       uint64         `json:"sequence"` // monotonic sequence number
}

// Posting is one leg of a batch transfer out of a single payer.
type Posting struct {
	To     common.Address `json:"to"`
	Amount int64          `json:"amount"`
}

// Unit is an open storage transaction. Ledger writes made with the context
// handed out alongside a Unit join it and become durable only on Commit.
type Unit interface {
	Commit() error
	Rollback() error
}

// Receiver is consulted before value is credited to its address. Returning an
// error aborts the whole transfer. Receivers run under the ledger lock and must
// not call back into the ledger.
type Receiver interface {
	Receive(ctx context.Context, from common.Address, amt Money) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, from common.Address, amt Money) error

func (f ReceiverFunc) Receive(ctx context.Context, from common.Address, amt Money) error {
	return f(ctx, from, amt)
}

var (
	ErrNotFound          = domain.ErrNotFound
	ErrInsufficientFunds = domain.ErrInsufficientFunds
	ErrInvalidAmount     = domain.ErrInvalidAmount
	ErrInvalidCurrency   = fmt.Errorf("%w: invalid currency", domain.ErrInvalidInput)
	ErrInvalidRecipient  = fmt.Errorf("%w: recipient is the zero address", domain.ErrInvalidAddress)
	ErrTransferRejected  = errors.New("transfer rejected by receiver")
)

// RejectedError reports which receiver refused a credit.
type RejectedError struct {
	Receiver common.Address
	Reason   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransferRejected, e.Receiver.Hex(), e.Reason)
}

func (e *RejectedError) Unwrap() []error { return []error{ErrTransferRejected, e.Reason} }
