package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/catalog"
	"soundmint.org/internal/domain"
)

// State is the serialisable content of a Factory and all its registries.
type State struct {
	Address    common.Address  `json:"address"`
	Owner      common.Address  `json:"owner"`
	Platform   PlatformInfo    `json:"platform"`
	Nonce      uint64          `json:"nonce"`
	Artists    []Artist        `json:"artists"` // registration order
	Registries []catalog.State `json:"registries"`
}

// Snapshot copies the factory content. Each registry is copied under its own
// lock, so concurrent registry writes may land on either side of the cut.
func (f *Factory) Snapshot() State {
	f.mu.RLock()
	st := State{
		Address:  f.address,
		Owner:    f.owner,
		Platform: f.platform,
		Nonce:    f.nonce,
	}
	regs := make([]*catalog.Registry, 0, len(f.order))
	for _, addr := range f.order {
		a := f.artists[addr]
		st.Artists = append(st.Artists, copyArtist(a))
		regs = append(regs, f.registries[a.Registry])
	}
	f.mu.RUnlock()

	for _, reg := range regs {
		st.Registries = append(st.Registries, reg.Snapshot())
	}
	return st
}

// Restore rebuilds a factory from a snapshot.
func Restore(st State, opts ...Option) (*Factory, error) {
	f, err := New(Config{
		Address:  st.Address,
		Owner:    st.Owner,
		Treasury: st.Platform.Treasury,
		FeeBps:   st.Platform.FeeBps,
	}, opts...)
	if err != nil {
		return nil, err
	}
	f.nonce = st.Nonce

	byAddr := make(map[common.Address]catalog.State, len(st.Registries))
	for _, rs := range st.Registries {
		byAddr[rs.Address] = rs
	}
	for i := range st.Artists {
		a := copyArtist(&st.Artists[i])
		rs, ok := byAddr[a.Registry]
		if !ok {
			return nil, fmt.Errorf("%w: registry %s missing from snapshot", domain.ErrInvalidInput, a.Registry.Hex())
		}
		reg, err := catalog.Restore(rs, f.registryOptions(a.Registry)...)
		if err != nil {
			return nil, fmt.Errorf("restore registry %s: %w", a.Registry.Hex(), err)
		}
		f.registries[a.Registry] = reg
		f.artists[a.Address] = &a
		f.names[foldName(a.Name)] = a.Address
		f.order = append(f.order, a.Address)
	}
	return f, nil
}

// Reset replaces the factory content with st, rebuilding every registry.
// Registries handed out before Reset keep their old content.
func (f *Factory) Reset(st State) error {
	if st.Address != f.address {
		return fmt.Errorf("%w: snapshot is for factory %s", domain.ErrInvalidInput, st.Address.Hex())
	}
	g, err := Restore(st, WithClock(f.clock), WithEmitter(f.events), WithLogger(f.log))
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owner = g.owner
	f.platform = g.platform
	f.nonce = g.nonce
	f.order = g.order
	f.artists = g.artists
	f.names = g.names
	f.registries = g.registries
	return nil
}
