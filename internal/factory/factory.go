// Package factory registers artists and gives each one an independently
// addressed catalog registry. It also owns the platform fee settings.
package factory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"soundmint.org/internal/catalog"
	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
)

// Input bounds for artist registration.
const (
	MaxArtistNameLength = 100
	MaxStyleLength      = 50
	MaxStyles           = 20
)

// PlatformInfo is where platform fees go and how large they are.
type PlatformInfo struct {
	Treasury common.Address `json:"treasury"`
	FeeBps   uint32         `json:"fee_bps"`
}

// Artist is the registration record of one artist.
type Artist struct {
	Address      common.Address `json:"address"`
	Name         string         `json:"name"`
	MusicStyles  []string       `json:"music_styles"`
	Registry     common.Address `json:"registry"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// Config holds construction parameters.
type Config struct {
	Address  common.Address // identity the factory derives registry addresses from
	Owner    common.Address
	Treasury common.Address
	FeeBps   uint32
}

// Factory maps artists to their registries. Safe for concurrent use.
type Factory struct {
	mu         sync.RWMutex
	address    common.Address
	owner      common.Address
	platform   PlatformInfo
	nonce      uint64
	order      []common.Address
	artists    map[common.Address]*Artist
	names      map[string]common.Address // folded name -> artist
	registries map[common.Address]*catalog.Registry

	clock  domain.Clock
	events *events.Emitter
	log    *zap.Logger
}

// Option configures a Factory.
type Option func(*Factory)

func WithClock(c domain.Clock) Option {
	return func(f *Factory) {
		if c != nil {
			f.clock = c
		}
	}
}

func WithEmitter(e *events.Emitter) Option {
	return func(f *Factory) { f.events = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.log = l
		}
	}
}

// New validates cfg and returns an empty factory.
func New(cfg Config, opts ...Option) (*Factory, error) {
	switch {
	case domain.IsZero(cfg.Address):
		return nil, fmt.Errorf("%w: invalid factory address", domain.ErrInvalidAddress)
	case domain.IsZero(cfg.Owner):
		return nil, fmt.Errorf("%w: invalid owner address", domain.ErrInvalidAddress)
	case domain.IsZero(cfg.Treasury):
		return nil, fmt.Errorf("%w: invalid platform address", domain.ErrInvalidAddress)
	case !domain.ValidBasisPoints(cfg.FeeBps):
		return nil, fmt.Errorf("%w: platform fee %d bps exceeds 10000", domain.ErrInvalidInput, cfg.FeeBps)
	}
	f := &Factory{
		address:    cfg.Address,
		owner:      cfg.Owner,
		platform:   PlatformInfo{Treasury: cfg.Treasury, FeeBps: cfg.FeeBps},
		artists:    make(map[common.Address]*Artist),
		names:      make(map[string]common.Address),
		registries: make(map[common.Address]*catalog.Registry),
		clock:      domain.SystemClock{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Factory) Address() common.Address { return f.address }

// RegisterArtist creates the caller's registry. The registry address is
// derived from the factory address and a creation nonce, so replaying the same
// registrations yields the same addresses.
func (f *Factory) RegisterArtist(ctx context.Context, caller common.Address, name string, musicStyles []string) (common.Address, error) {
	if domain.IsZero(caller) {
		return common.Address{}, fmt.Errorf("%w: caller is the zero address", domain.ErrInvalidAddress)
	}
	name = strings.TrimSpace(name)
	styles, err := normalizeStyles(musicStyles)
	switch {
	case name == "":
		return common.Address{}, fmt.Errorf("%w: artist name cannot be empty", domain.ErrInvalidInput)
	case len(name) > MaxArtistNameLength:
		return common.Address{}, fmt.Errorf("%w: artist name too long", domain.ErrInvalidInput)
	case err != nil:
		return common.Address{}, err
	}

	f.mu.Lock()
	if _, ok := f.artists[caller]; ok {
		f.mu.Unlock()
		return common.Address{}, domain.ErrAlreadyRegistered
	}
	folded := foldName(name)
	if _, taken := f.names[folded]; taken {
		f.mu.Unlock()
		return common.Address{}, fmt.Errorf("%w: artist name %q is taken", domain.ErrAlreadyExists, name)
	}

	addr := crypto.CreateAddress(f.address, f.nonce)
	reg, err := catalog.New(addr, caller, f.registryOptions(addr)...)
	if err != nil {
		f.mu.Unlock()
		return common.Address{}, err
	}
	now := f.clock.Now()
	f.nonce++
	f.registries[addr] = reg
	f.artists[caller] = &Artist{
		Address:      caller,
		Name:         name,
		MusicStyles:  styles,
		Registry:     addr,
		RegisteredAt: now,
	}
	f.names[folded] = caller
	f.order = append(f.order, caller)
	f.mu.Unlock()

	f.log.Info("artist registered",
		zap.String("artist", caller.Hex()),
		zap.String("name", name),
		zap.String("registry", addr.Hex()))
	f.events.Emit(ctx, events.TypeArtistRegistered, events.ArtistRegistered{Artist: caller, Name: name, Timestamp: now.Unix()})
	f.events.Emit(ctx, events.TypeArtistCollectionsDeployed, events.ArtistCollectionsDeployed{Artist: caller, CollectionsContract: addr})
	return addr, nil
}

// ArtistInfo returns the registration record of artist.
func (f *Factory) ArtistInfo(artist common.Address) (Artist, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.artists[artist]
	if !ok {
		return Artist{}, fmt.Errorf("%w: artist %s", domain.ErrNotFound, artist.Hex())
	}
	return copyArtist(a), nil
}

// ArtistCollections returns the registry address of artist.
func (f *Factory) ArtistCollections(artist common.Address) (common.Address, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.artists[artist]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: artist %s", domain.ErrNotFound, artist.Hex())
	}
	return a.Registry, nil
}

func (f *Factory) TotalArtists() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// Artists pages through artists in registration order.
func (f *Factory) Artists(offset, limit int) []Artist {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if offset >= len(f.order) {
		return nil
	}
	end := min(offset+limit, len(f.order))
	out := make([]Artist, 0, end-offset)
	for _, addr := range f.order[offset:end] {
		out = append(out, copyArtist(f.artists[addr]))
	}
	return out
}

// Registry resolves a registry by its address.
func (f *Factory) Registry(addr common.Address) (*catalog.Registry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.registries[addr]
	if !ok {
		return nil, fmt.Errorf("%w: registry %s", domain.ErrNotFound, addr.Hex())
	}
	return reg, nil
}

func (f *Factory) PlatformInfo() PlatformInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.platform
}

func (f *Factory) Owner() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.owner
}

// UpdatePlatformInfo changes the fee recipient and rate. Owner only.
func (f *Factory) UpdatePlatformInfo(ctx context.Context, caller, treasury common.Address, feeBps uint32) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return fmt.Errorf("%w: caller is not the owner", domain.ErrUnauthorized)
	}
	if domain.IsZero(treasury) {
		f.mu.Unlock()
		return fmt.Errorf("%w: invalid platform address", domain.ErrInvalidAddress)
	}
	if !domain.ValidBasisPoints(feeBps) {
		f.mu.Unlock()
		return fmt.Errorf("%w: platform fee %d bps exceeds 10000", domain.ErrInvalidInput, feeBps)
	}
	f.platform = PlatformInfo{Treasury: treasury, FeeBps: feeBps}
	f.mu.Unlock()

	f.log.Info("platform info updated", zap.String("treasury", treasury.Hex()), zap.Uint32("fee_bps", feeBps))
	f.events.Emit(ctx, events.TypePlatformInfoUpdated, events.PlatformInfoUpdated{Treasury: treasury, FeeBps: feeBps})
	return nil
}

// TransferOwnership hands the owner role to newOwner. Owner only.
func (f *Factory) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	f.mu.Lock()
	if caller != f.owner {
		f.mu.Unlock()
		return fmt.Errorf("%w: caller is not the owner", domain.ErrUnauthorized)
	}
	if domain.IsZero(newOwner) {
		f.mu.Unlock()
		return fmt.Errorf("%w: new owner is the zero address", domain.ErrInvalidAddress)
	}
	prev := f.owner
	f.owner = newOwner
	f.mu.Unlock()

	f.events.Emit(ctx, events.TypeOwnershipTransfer, events.OwnershipTransferred{PreviousOwner: prev, NewOwner: newOwner})
	return nil
}

// caller holds f.mu
func (f *Factory) registryOptions(addr common.Address) []catalog.Option {
	return []catalog.Option{
		catalog.WithClock(f.clock),
		catalog.WithEmitter(f.events.WithSource(addr)),
		catalog.WithLogger(f.log),
	}
}

func normalizeStyles(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if len(s) > MaxStyleLength {
			return nil, fmt.Errorf("%w: music style %q too long", domain.ErrInvalidInput, s)
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: must provide at least one music style", domain.ErrInvalidInput)
	}
	if len(out) > MaxStyles {
		return nil, fmt.Errorf("%w: at most %d music styles", domain.ErrInvalidInput, MaxStyles)
	}
	return out, nil
}

func foldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func copyArtist(a *Artist) Artist {
	out := *a
	out.MusicStyles = append([]string(nil), a.MusicStyles...)
	return out
}
