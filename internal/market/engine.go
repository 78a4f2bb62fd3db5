// Package market assembles the factory, mint ledger and treasury over one
// value ledger and persists their combined state.
package market

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/config"
	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/factory"
	"soundmint.org/internal/ledger"
	"soundmint.org/internal/mint"
	"soundmint.org/internal/treasury"
)

// Config holds the addresses and limits of one deployment.
type Config struct {
	FactoryAddress common.Address
	Owner          common.Address
	FeeBps         uint32
	Treasury       treasury.Config // Treasury.Address also receives platform fees
	MaxBatchSize   int
	Currency       string
}

// FromConfig parses the loaded configuration.
func FromConfig(c *config.Config) (Config, error) {
	var (
		cfg Config
		err error
	)
	parse := func(name, raw string) common.Address {
		if err != nil {
			return common.Address{}
		}
		var addr common.Address
		if addr, err = domain.ParseAddress(raw); err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		return addr
	}
	cfg.FactoryAddress = parse("platform.factory_address", c.Platform.FactoryAddress)
	cfg.Owner = parse("platform.owner", c.Platform.Owner)
	cfg.Treasury.Address = parse("treasury.address", c.Treasury.Address)
	cfg.Treasury.Admin = parse("treasury.admin", c.Treasury.Admin)
	cfg.Treasury.Treasurer = parse("treasury.treasurer", c.Treasury.Treasurer)
	if c.Treasury.CEO != "" {
		cfg.Treasury.CEO = parse("treasury.ceo", c.Treasury.CEO)
	}
	if err != nil {
		return Config{}, err
	}
	cfg.FeeBps = c.Platform.FeeBps
	cfg.Treasury.MaxWithdrawalAmount = c.Treasury.MaxWithdrawalAmount
	cfg.Treasury.WeeklyLimit = c.Treasury.WeeklyLimit
	cfg.Treasury.Window = c.Treasury.Window
	cfg.Treasury.Currency = c.Mint.Currency
	cfg.MaxBatchSize = c.Mint.MaxBatchSize
	cfg.Currency = c.Mint.Currency
	return cfg, nil
}

// Observer receives mint and withdrawal outcomes.
type Observer interface {
	mint.Observer
	treasury.Observer
}

type options struct {
	clock     domain.Clock
	publisher events.Publisher
	observer  Observer
	journal   Journal
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*options)

func WithClock(c domain.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithPublisher sends every component event to p.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithJournal makes Apply persist the engine state with every change.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Engine is the complete set of components behind the host surfaces.
// State changes go through Apply; reads may use the components directly.
type Engine struct {
	Factory  *factory.Factory
	Mint     *mint.Ledger
	Treasury *treasury.Treasury
	Value    ledger.Service

	mu   sync.Mutex // held by Apply
	cfg  Config
	opts options
}

func buildOptions(opts []Option) options {
	o := options{clock: domain.SystemClock{}, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) emitter(source common.Address) *events.Emitter {
	if o.publisher == nil {
		return nil
	}
	return events.NewEmitter(source, o.publisher, o.clock, o.log.Named("events"))
}

func (o options) factoryOptions(cfg Config) []factory.Option {
	return []factory.Option{
		factory.WithClock(o.clock),
		factory.WithEmitter(o.emitter(cfg.FactoryAddress)),
		factory.WithLogger(o.log.Named("factory")),
	}
}

func (o options) treasuryOptions(cfg Config) []treasury.Option {
	opts := []treasury.Option{
		treasury.WithClock(o.clock),
		treasury.WithEmitter(o.emitter(cfg.Treasury.Address)),
		treasury.WithLogger(o.log.Named("treasury")),
	}
	if o.observer != nil {
		opts = append(opts, treasury.WithObserver(o.observer))
	}
	return opts
}

func (o options) mintOptions(cfg Config) []mint.Option {
	opts := []mint.Option{
		mint.WithMaxBatchSize(cfg.MaxBatchSize),
		mint.WithCurrency(cfg.Currency),
		mint.WithEmitter(o.emitter(cfg.FactoryAddress)),
		mint.WithLogger(o.log.Named("mint")),
	}
	if o.observer != nil {
		opts = append(opts, mint.WithObserver(o.observer))
	}
	return opts
}

// New builds an empty engine. Platform fees are paid to the treasury.
func New(cfg Config, value ledger.Service, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)
	f, err := factory.New(factory.Config{
		Address:  cfg.FactoryAddress,
		Owner:    cfg.Owner,
		Treasury: cfg.Treasury.Address,
		FeeBps:   cfg.FeeBps,
	}, o.factoryOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	t, err := treasury.New(cfg.Treasury, value, o.treasuryOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("treasury: %w", err)
	}
	return &Engine{
		Factory:  f,
		Mint:     mint.New(f, value, o.mintOptions(cfg)...),
		Treasury: t,
		Value:    value,
		cfg:      cfg,
		opts:     o,
	}, nil
}

// Currency is the settlement currency of mints and withdrawals.
func (e *Engine) Currency() string {
	if e.cfg.Currency == "" {
		return ledger.DefaultCurrency
	}
	return e.cfg.Currency
}

// State is the serialisable content of an Engine. Ledger is set only when the
// value ledger lives in memory; a Postgres ledger persists itself.
type State struct {
	TakenAt  time.Time      `json:"taken_at"`
	Factory  factory.State  `json:"factory"`
	Mint     mint.State     `json:"mint"`
	Treasury treasury.State `json:"treasury"`
	Ledger   *ledger.State  `json:"ledger,omitempty"`
}

// Snapshot copies every component. Components are copied one after another,
// so writes racing with Snapshot may land on either side of the cut.
func (e *Engine) Snapshot() State {
	st := State{
		TakenAt:  e.opts.clock.Now(),
		Factory:  e.Factory.Snapshot(),
		Mint:     e.Mint.Snapshot(),
		Treasury: e.Treasury.Snapshot(),
	}
	if mem, ok := e.Value.(*ledger.InMemory); ok {
		ls := mem.Snapshot()
		st.Ledger = &ls
	}
	return st
}

// Restore rebuilds an engine from st. Runtime settings (batch size, currency)
// come from cfg; identities, roles and limits come from st.
func Restore(st State, cfg Config, value ledger.Service, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)
	if mem, ok := value.(*ledger.InMemory); ok && st.Ledger != nil {
		mem.Restore(*st.Ledger)
	}
	cfg.FactoryAddress = st.Factory.Address
	cfg.Treasury.Address = st.Treasury.Address
	f, err := factory.Restore(st.Factory, o.factoryOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	t, err := treasury.Restore(st.Treasury, value, o.treasuryOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("treasury: %w", err)
	}
	m := mint.New(f, value, o.mintOptions(cfg)...)
	m.Restore(st.Mint)
	return &Engine{Factory: f, Mint: m, Treasury: t, Value: value, cfg: cfg, opts: o}, nil
}
