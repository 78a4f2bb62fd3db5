// Package mint executes batch purchases: it checks payment against catalog
// prices, splits the payment between artist and platform, and records
// multi-unit token ownership.
package mint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/catalog"
	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/factory"
	"soundmint.org/internal/ledger"
	"soundmint.org/internal/tokenid"
)

// DefaultMaxBatchSize bounds the number of ids in one MintBatch call.
const DefaultMaxBatchSize = 20

// Directory resolves registries and the current platform fee settings.
type Directory interface {
	Registry(addr common.Address) (*catalog.Registry, error)
	PlatformInfo() factory.PlatformInfo
}

// Observer receives the outcome of every successful mint.
type Observer interface {
	ObserveMint(tokens int, artistShare, platformFee int64)
}

// Receipt describes a completed mint.
type Receipt struct {
	Buyer        common.Address       `json:"buyer"`
	Registry     common.Address       `json:"registry"`
	TokenIDs     []tokenid.ID         `json:"token_ids"`
	Payment      int64                `json:"payment"`
	Artist       common.Address       `json:"artist"`
	ArtistShare  int64                `json:"artist_share"`
	Treasury     common.Address       `json:"treasury"`
	PlatformFee  int64                `json:"platform_fee"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// Ledger owns token balances. Mints are serialised; reads run concurrently.
type Ledger struct {
	mu       sync.RWMutex
	balances map[tokenid.ID]map[common.Address]uint64
	minted   map[tokenid.ID]map[common.Address]bool
	supply   map[tokenid.ID]uint64

	dir      Directory
	value    ledger.Service
	currency string
	maxBatch int
	events   *events.Emitter
	observer Observer
	log      *zap.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithMaxBatchSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxBatch = n
		}
	}
}

func WithCurrency(c string) Option {
	return func(l *Ledger) {
		if c != "" {
			l.currency = c
		}
	}
}

func WithEmitter(e *events.Emitter) Option {
	return func(l *Ledger) { l.events = e }
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// New returns an empty mint ledger settling through value.
func New(dir Directory, value ledger.Service, opts ...Option) *Ledger {
	l := &Ledger{
		balances: make(map[tokenid.ID]map[common.Address]uint64),
		minted:   make(map[tokenid.ID]map[common.Address]bool),
		supply:   make(map[tokenid.ID]uint64),
		dir:      dir,
		value:    value,
		currency: ledger.DefaultCurrency,
		maxBatch: DefaultMaxBatchSize,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) MaxBatchSize() int { return l.maxBatch }

// MintBatch buys one unit of each listed token for buyer. payment must equal
// the sum of the current prices exactly. Every id must belong to registry.
// On any failure no balance, flag or ledger entry changes.
func (l *Ledger) MintBatch(ctx context.Context, buyer, registry common.Address, ids []tokenid.ID, payment int64) (Receipt, error) {
	switch {
	case domain.IsZero(buyer):
		return Receipt{}, fmt.Errorf("%w: buyer is the zero address", domain.ErrInvalidAddress)
	case len(ids) == 0:
		return Receipt{}, fmt.Errorf("%w: empty batch", domain.ErrInvalidInput)
	case len(ids) > l.maxBatch:
		return Receipt{}, fmt.Errorf("%w: %d > %d", domain.ErrBatchTooLarge, len(ids), l.maxBatch)
	case payment < 0:
		return Receipt{}, fmt.Errorf("%w: negative payment", domain.ErrInvalidInput)
	}
	for _, id := range ids {
		if id.Registry() != registry {
			return Receipt{}, fmt.Errorf("%w: token %s is not in registry %s", domain.ErrNotFound, id, registry.Hex())
		}
	}

	reg, err := l.dir.Registry(registry)
	if err != nil {
		return Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tokens, err := reg.Tokens(ids)
	if err != nil {
		return Receipt{}, err
	}
	platform := l.dir.PlatformInfo()
	split, err := splitPayment(tokens, platform.FeeBps)
	if err != nil {
		return Receipt{}, err
	}
	if payment != split.total {
		return Receipt{}, fmt.Errorf("%w: sent %d, required %d", domain.ErrPaymentMismatch, payment, split.total)
	}

	artist := reg.Artist()
	txs, err := l.value.TransferBatch(ctx, buyer, l.currency, []ledger.Posting{
		{To: platform.Treasury, Amount: split.fee},
		{To: artist, Amount: split.artist},
	}, "mint:"+registry.Hex())
	if err != nil {
		return Receipt{}, classifyPaymentError(err, platform.Treasury, artist)
	}

	for _, id := range ids {
		if l.balances[id] == nil {
			l.balances[id] = make(map[common.Address]uint64)
			l.minted[id] = make(map[common.Address]bool)
		}
		l.balances[id][buyer]++
		l.minted[id][buyer] = true
		l.supply[id]++
	}

	rcpt := Receipt{
		Buyer:        buyer,
		Registry:     registry,
		TokenIDs:     append([]tokenid.ID(nil), ids...),
		Payment:      payment,
		Artist:       artist,
		ArtistShare:  split.artist,
		Treasury:     platform.Treasury,
		PlatformFee:  split.fee,
		Transactions: txs,
	}
	l.log.Info("tokens minted",
		zap.String("buyer", buyer.Hex()),
		zap.String("registry", registry.Hex()),
		zap.Int("count", len(ids)),
		zap.Int64("payment", payment),
		zap.Int64("platform_fee", split.fee))
	if l.observer != nil {
		l.observer.ObserveMint(len(ids), split.artist, split.fee)
	}
	em := l.events.WithSource(registry)
	em.Emit(ctx, events.TypeTokensMinted, events.TokensMinted{Buyer: buyer, Registry: registry, TokenIDs: rcpt.TokenIDs, Payment: payment})
	em.Emit(ctx, events.TypePaymentDistributed, events.PaymentDistributed{
		Registry:    registry,
		Artist:      artist,
		ArtistShare: split.artist,
		Treasury:    platform.Treasury,
		PlatformFee: split.fee,
	})
	return rcpt, nil
}

// BalanceOf returns how many units of id owner holds.
func (l *Ledger) BalanceOf(id tokenid.ID, owner common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[id][owner]
}

// BalanceOfBatch pairs owners[i] with ids[i].
func (l *Ledger) BalanceOfBatch(owners []common.Address, ids []tokenid.ID) ([]uint64, error) {
	if len(owners) != len(ids) {
		return nil, fmt.Errorf("%w: owners and ids length mismatch", domain.ErrInvalidInput)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]uint64, len(ids))
	for i := range ids {
		out[i] = l.balances[ids[i]][owners[i]]
	}
	return out, nil
}

// HasMinted reports whether owner ever minted id. It never blocks a re-mint.
func (l *Ledger) HasMinted(id tokenid.ID, owner common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minted[id][owner]
}

func (l *Ledger) TotalSupply(id tokenid.ID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[id]
}

// URI resolves the metadata URI through the token's registry.
func (l *Ledger) URI(id tokenid.ID) (string, error) {
	reg, err := l.dir.Registry(id.Registry())
	if err != nil {
		return "", fmt.Errorf("%w: token %s", domain.ErrNotFound, id)
	}
	return reg.URI(id)
}

type paymentSplit struct {
	total  int64
	fee    int64
	artist int64
}

// splitPayment floors the platform fee per token, so the sum of fees may be
// lower than floor(total*bps/10000).
func splitPayment(tokens []catalog.Token, feeBps uint32) (paymentSplit, error) {
	var s paymentSplit
	for _, t := range tokens {
		if s.total > math.MaxInt64-t.Price {
			return paymentSplit{}, fmt.Errorf("%w: batch price overflows", domain.ErrInvalidInput)
		}
		fee := PlatformFee(t.Price, feeBps)
		s.total += t.Price
		s.fee += fee
		s.artist += t.Price - fee
	}
	return s, nil
}

// PlatformFee returns floor(price * feeBps / 10000) without intermediate overflow.
func PlatformFee(price int64, feeBps uint32) int64 {
	const denom = domain.BasisPointsDenominator
	bps := int64(feeBps)
	return (price/denom)*bps + (price%denom)*bps/denom
}

func classifyPaymentError(err error, treasury, artist common.Address) error {
	var rej *ledger.RejectedError
	if errors.As(err, &rej) {
		switch rej.Receiver {
		case treasury:
			return fmt.Errorf("%w: %w", domain.ErrTreasuryPaymentFailed, err)
		case artist:
			return fmt.Errorf("%w: %w", domain.ErrArtistPaymentFailed, err)
		}
	}
	return err
}
