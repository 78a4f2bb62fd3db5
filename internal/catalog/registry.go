// Package catalog holds the per-artist registry of collections and tokens.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/domain"
	"soundmint.org/internal/events"
	"soundmint.org/internal/tokenid"
)

var errNotArtist = fmt.Errorf("%w: only the artist can call this function", domain.ErrUnauthorized)

// Registry is one artist's namespace of collections and tokens. All methods are
// safe for concurrent use; each write is applied atomically.
type Registry struct {
	mu          sync.RWMutex
	address     common.Address
	artist      common.Address
	baseURI     string
	collections []*Collection // index = id-1
	tokens      map[tokenid.ID]*Token

	clock  domain.Clock
	events *events.Emitter
	log    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(c domain.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithEmitter(e *events.Emitter) Option {
	return func(r *Registry) { r.events = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates an empty registry at address, bound to artist.
func New(address, artist common.Address, opts ...Option) (*Registry, error) {
	if domain.IsZero(address) || domain.IsZero(artist) {
		return nil, fmt.Errorf("%w: registry and artist must be non-zero", domain.ErrInvalidAddress)
	}
	r := &Registry{
		address: address,
		artist:  artist,
		tokens:  make(map[tokenid.ID]*Token),
		clock:   domain.SystemClock{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(zap.String("registry", address.Hex()))
	return r, nil
}

// Restore rebuilds a registry from a snapshot.
func Restore(st State, opts ...Option) (*Registry, error) {
	r, err := New(st.Address, st.Artist, opts...)
	if err != nil {
		return nil, err
	}
	r.baseURI = st.BaseURI
	cols := append([]Collection(nil), st.Collections...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })
	for i := range cols {
		if cols[i].ID != uint64(i+1) {
			return nil, fmt.Errorf("%w: collection ids not contiguous at %d", domain.ErrInvalidInput, cols[i].ID)
		}
		c := cols[i]
		r.collections = append(r.collections, &c)
	}
	for i := range st.Tokens {
		t := st.Tokens[i]
		if err := r.checkRestoredToken(t); err != nil {
			return nil, err
		}
		r.tokens[t.ID] = &t
	}
	return r, nil
}

// checkRestoredToken verifies that t's id encodes its stored binding and that
// its collection has issued its sequence.
func (r *Registry) checkRestoredToken(t Token) error {
	reg, colID, seq := tokenid.Decode(t.ID)
	switch {
	case reg != r.address:
		return fmt.Errorf("%w: token %s does not belong to registry", domain.ErrInvalidInput, t.ID)
	case colID != t.CollectionID || seq != t.Sequence:
		return fmt.Errorf("%w: token %s encodes collection %d sequence %d, stored %d/%d",
			domain.ErrInvalidInput, t.ID, colID, seq, t.CollectionID, t.Sequence)
	case t.CollectionID == 0 || t.CollectionID > uint64(len(r.collections)):
		return fmt.Errorf("%w: token %s references unknown collection %d", domain.ErrInvalidInput, t.ID, t.CollectionID)
	case t.Sequence == 0 || t.Sequence > r.collections[t.CollectionID-1].LastTokenSequence:
		return fmt.Errorf("%w: token %s sequence %d beyond collection counter", domain.ErrInvalidInput, t.ID, t.Sequence)
	}
	if _, dup := r.tokens[t.ID]; dup {
		return fmt.Errorf("%w: token %s listed twice", domain.ErrInvalidInput, t.ID)
	}
	return nil
}

func (r *Registry) Address() common.Address { return r.address }

// Artist returns the identity currently allowed to write.
func (r *Registry) Artist() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.artist
}

// CreateCollection assigns the next sequential id, starting at 1.
func (r *Registry) CreateCollection(ctx context.Context, caller common.Address, in NewCollection) (uint64, error) {
	in.Name = strings.TrimSpace(in.Name)

	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return 0, errNotArtist
	}
	if err := validateCollection(in); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	if uint64(len(r.collections)) >= tokenid.MaxCollectionID {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: collection limit reached", domain.ErrInvalidInput)
	}
	c := &Collection{
		ID:                uint64(len(r.collections)) + 1,
		Name:              in.Name,
		Style:             strings.TrimSpace(in.Style),
		Description:       in.Description,
		IsPublic:          in.IsPublic,
		AvatarURI:         in.AvatarURI,
		DefaultRoyaltyBps: in.RoyaltyBps,
		CreatedAt:         r.clock.Now(),
	}
	r.collections = append(r.collections, c)
	artist := r.artist
	r.mu.Unlock()

	r.log.Info("collection created", zap.Uint64("collection_id", c.ID), zap.String("name", c.Name))
	r.events.Emit(ctx, events.TypeCollectionCreated, events.CollectionCreated{
		Artist:       artist,
		CollectionID: c.ID,
		Name:         c.Name,
	})
	return c.ID, nil
}

// CreateToken appends a token to a live collection. The per-collection sequence
// is never reused.
func (r *Registry) CreateToken(ctx context.Context, caller common.Address, collectionID uint64, royaltyBps uint32, price int64, metadataURI string) (tokenid.ID, error) {
	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return tokenid.ID{}, errNotArtist
	}
	if err := validateToken(royaltyBps, price, metadataURI); err != nil {
		r.mu.Unlock()
		return tokenid.ID{}, err
	}
	c, err := r.liveCollection(collectionID)
	if err != nil {
		r.mu.Unlock()
		return tokenid.ID{}, err
	}
	id, err := tokenid.Encode(r.address, c.ID, c.LastTokenSequence+1)
	if err != nil {
		r.mu.Unlock()
		return tokenid.ID{}, err
	}
	c.LastTokenSequence++
	t := &Token{
		ID:           id,
		CollectionID: c.ID,
		Sequence:     c.LastTokenSequence,
		Price:        price,
		RoyaltyBps:   royaltyBps,
		MetadataURI:  metadataURI,
		CreatedAt:    r.clock.Now(),
	}
	r.tokens[id] = t
	artist := r.artist
	r.mu.Unlock()

	r.log.Info("token created",
		zap.Uint64("collection_id", t.CollectionID),
		zap.Uint64("sequence", t.Sequence),
		zap.Int64("price", price))
	r.events.Emit(ctx, events.TypeTokenCreated, events.TokenCreated{
		Artist:       artist,
		CollectionID: t.CollectionID,
		TokenID:      id,
	})
	return id, nil
}

// ToggleCollectionVisibility flips IsPublic and returns the new value.
func (r *Registry) ToggleCollectionVisibility(ctx context.Context, caller common.Address, collectionID uint64) (bool, error) {
	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return false, errNotArtist
	}
	c, err := r.collection(collectionID)
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	c.IsPublic = !c.IsPublic
	visible := c.IsPublic
	r.mu.Unlock()

	r.events.Emit(ctx, events.TypeCollectionVisibilityChanged, events.CollectionVisibilityChanged{
		CollectionID: collectionID,
		IsPublic:     visible,
	})
	return visible, nil
}

// UpdateTokenPrice sets a new price. There is no monotonicity constraint.
func (r *Registry) UpdateTokenPrice(ctx context.Context, caller common.Address, id tokenid.ID, newPrice int64) error {
	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return errNotArtist
	}
	if newPrice < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: negative price", domain.ErrInvalidInput)
	}
	t, ok := r.tokens[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: token %s", domain.ErrNotFound, id)
	}
	old := t.Price
	t.Price = newPrice
	r.mu.Unlock()

	r.events.Emit(ctx, events.TypeTokenPriceUpdated, events.TokenPriceUpdated{TokenID: id, OldPrice: old, NewPrice: newPrice})
	return nil
}

// DeleteCollection marks a collection deleted. Its id is never reused and its
// tokens stay readable and mintable.
func (r *Registry) DeleteCollection(ctx context.Context, caller common.Address, collectionID uint64) error {
	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return errNotArtist
	}
	c, err := r.liveCollection(collectionID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	c.IsDeleted = true
	r.mu.Unlock()

	r.log.Info("collection deleted", zap.Uint64("collection_id", collectionID))
	r.events.Emit(ctx, events.TypeCollectionDeleted, events.CollectionDeleted{CollectionID: collectionID})
	return nil
}

// SetURI sets the base URI served for tokens without their own metadata URI.
func (r *Registry) SetURI(ctx context.Context, caller common.Address, baseURI string) error {
	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return errNotArtist
	}
	if len(baseURI) > MaxURILength {
		r.mu.Unlock()
		return fmt.Errorf("%w: base uri too long", domain.ErrInvalidInput)
	}
	r.baseURI = baseURI
	r.mu.Unlock()

	r.events.Emit(ctx, events.TypeBaseURIUpdated, events.BaseURIUpdated{URI: baseURI})
	return nil
}

// TransferArtistRole hands write access to another identity.
func (r *Registry) TransferArtistRole(ctx context.Context, caller, newArtist common.Address) error {
	r.mu.Lock()
	if caller != r.artist {
		r.mu.Unlock()
		return errNotArtist
	}
	if domain.IsZero(newArtist) {
		r.mu.Unlock()
		return fmt.Errorf("%w: new artist is the zero address", domain.ErrInvalidAddress)
	}
	prev := r.artist
	r.artist = newArtist
	r.mu.Unlock()

	r.log.Info("artist role transferred", zap.String("from", prev.Hex()), zap.String("to", newArtist.Hex()))
	r.events.Emit(ctx, events.TypeArtistRoleTransfer, events.ArtistRoleTransferred{PreviousArtist: prev, NewArtist: newArtist})
	return nil
}

// Collection returns a copy of a collection, deleted ones included.
func (r *Registry) Collection(id uint64) (Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(id)
	if err != nil {
		return Collection{}, err
	}
	return *c, nil
}

// Collections lists every collection in id order.
func (r *Registry) Collections() []Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Collection, len(r.collections))
	for i, c := range r.collections {
		out[i] = *c
	}
	return out
}

// Token returns a copy of a token.
func (r *Registry) Token(id tokenid.ID) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s", domain.ErrNotFound, id)
	}
	return *t, nil
}

// Tokens resolves several ids under one read lock. Any missing id fails the call.
func (r *Registry) Tokens(ids []tokenid.ID) ([]Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(ids))
	for _, id := range ids {
		t, ok := r.tokens[id]
		if !ok {
			return nil, fmt.Errorf("%w: token %s", domain.ErrNotFound, id)
		}
		out = append(out, *t)
	}
	return out, nil
}

// TokensInCollection lists a collection's tokens in sequence order.
func (r *Registry) TokensInCollection(collectionID uint64) ([]Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, err := r.collection(collectionID)
	if err != nil {
		return nil, err
	}
	out := make([]Token, 0, c.LastTokenSequence)
	for seq := uint64(1); seq <= c.LastTokenSequence; seq++ {
		id := tokenid.MustEncode(r.address, c.ID, seq)
		if t, ok := r.tokens[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

// CollectionID decodes the collection component of a token id from this registry.
func (r *Registry) CollectionID(id tokenid.ID) (uint64, error) {
	reg, c, _ := tokenid.Decode(id)
	if reg != r.address {
		return 0, fmt.Errorf("%w: token %s belongs to another registry", domain.ErrNotFound, id)
	}
	return c, nil
}

// TokenNumber decodes the sequence component of a token id from this registry.
func (r *Registry) TokenNumber(id tokenid.ID) (uint64, error) {
	reg, _, s := tokenid.Decode(id)
	if reg != r.address {
		return 0, fmt.Errorf("%w: token %s belongs to another registry", domain.ErrNotFound, id)
	}
	return s, nil
}

// URI returns the token's metadata URI, falling back to base URI + decimal id.
func (r *Registry) URI(id tokenid.ID) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[id]
	if !ok {
		return "", fmt.Errorf("%w: token %s", domain.ErrNotFound, id)
	}
	if t.MetadataURI != "" || r.baseURI == "" {
		return t.MetadataURI, nil
	}
	return r.baseURI + id.String(), nil
}

// Snapshot copies the registry content.
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{Address: r.address, Artist: r.artist, BaseURI: r.baseURI}
	for _, c := range r.collections {
		st.Collections = append(st.Collections, *c)
	}
	for _, t := range r.tokens {
		st.Tokens = append(st.Tokens, *t)
	}
	sort.Slice(st.Tokens, func(i, j int) bool {
		a, b := st.Tokens[i], st.Tokens[j]
		if a.CollectionID != b.CollectionID {
			return a.CollectionID < b.CollectionID
		}
		return a.Sequence < b.Sequence
	})
	return st
}

// caller holds r.mu
func (r *Registry) collection(id uint64) (*Collection, error) {
	if id == 0 || id > uint64(len(r.collections)) {
		return nil, fmt.Errorf("%w: collection %d", domain.ErrNotFound, id)
	}
	return r.collections[id-1], nil
}

func (r *Registry) liveCollection(id uint64) (*Collection, error) {
	c, err := r.collection(id)
	if err != nil {
		return nil, err
	}
	if c.IsDeleted {
		return nil, fmt.Errorf("%w: collection %d is deleted", domain.ErrNotFound, id)
	}
	return c, nil
}

func validateCollection(in NewCollection) error {
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: collection name cannot be empty", domain.ErrInvalidInput)
	case len(in.Name) > MaxNameLength:
		return fmt.Errorf("%w: collection name too long", domain.ErrInvalidInput)
	case len(in.Style) > MaxStyleLength:
		return fmt.Errorf("%w: style too long", domain.ErrInvalidInput)
	case len(in.Description) > MaxDescriptionLength:
		return fmt.Errorf("%w: description too long", domain.ErrInvalidInput)
	case len(in.AvatarURI) > MaxURILength:
		return fmt.Errorf("%w: avatar uri too long", domain.ErrInvalidInput)
	case !domain.ValidBasisPoints(in.RoyaltyBps):
		return fmt.Errorf("%w: royalty %d bps exceeds 10000", domain.ErrInvalidInput, in.RoyaltyBps)
	}
	return nil
}

func validateToken(royaltyBps uint32, price int64, metadataURI string) error {
	switch {
	case !domain.ValidBasisPoints(royaltyBps):
		return fmt.Errorf("%w: royalty %d bps exceeds 10000", domain.ErrInvalidInput, royaltyBps)
	case price < 0:
		return fmt.Errorf("%w: negative price", domain.ErrInvalidInput)
	case len(metadataURI) > MaxURILength:
		return fmt.Errorf("%w: metadata uri too long", domain.ErrInvalidInput)
	}
	return nil
}
