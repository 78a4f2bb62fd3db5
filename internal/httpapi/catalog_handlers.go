package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/audit"
	"soundmint.org/internal/catalog"
	"soundmint.org/internal/tokenid"
)

type createTokenRequest struct {
	CollectionID uint64 `json:"collection_id"`
	RoyaltyBps   uint32 `json:"royalty_bps"`
	Price        int64  `json:"price"`
	MetadataURI  string `json:"metadata_uri"`
}

type collectionResponse struct {
	catalog.Collection
	Registry string          `json:"registry"`
	Tokens   []catalog.Token `json:"tokens,omitempty"`
}

type tokenResponse struct {
	catalog.Token
	Registry    string `json:"registry"`
	TotalSupply uint64 `json:"total_supply"`
	URI         string `json:"uri"`
}

type priceRequest struct {
	Price int64 `json:"price"`
}

type baseURIRequest struct {
	BaseURI string `json:"base_uri"`
}

type artistRoleRequest struct {
	Artist string `json:"artist"`
}

// registry resolves the {registry} path value; it writes the error response on failure.
func (a *API) registry(w http.ResponseWriter, r *http.Request) (*catalog.Registry, bool) {
	addr, ok := pathAddress(w, r, "registry")
	if !ok {
		return nil, false
	}
	reg, err := a.engine.Factory.Registry(addr)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	return reg, true
}

func (a *API) tokenRegistry(w http.ResponseWriter, r *http.Request) (*catalog.Registry, tokenid.ID, bool) {
	id, ok := pathToken(w, r)
	if !ok {
		return nil, tokenid.ID{}, false
	}
	reg, err := a.engine.Factory.Registry(id.Registry())
	if err != nil {
		writeDomainError(w, r, err)
		return nil, tokenid.ID{}, false
	}
	return reg, id, true
}

// withRegistry runs fn under Engine.Apply against the registry currently
// stored at addr. A failed commit can replace the registry object, so it is
// looked up again inside the operation.
func (a *API) withRegistry(ctx context.Context, addr common.Address, fn func(ctx context.Context, reg *catalog.Registry) error) (*catalog.Registry, error) {
	var current *catalog.Registry
	err := a.engine.Apply(ctx, func(ctx context.Context) error {
		reg, err := a.engine.Factory.Registry(addr)
		if err != nil {
			return err
		}
		current = reg
		return fn(ctx, reg)
	})
	return current, err
}

func (a *API) createCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	var req catalog.NewCollection
	if !readJSON(w, r, &req) {
		return
	}

	var id uint64
	reg, err := a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		var err error
		id, err = reg.CreateCollection(ctx, caller, req)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	col, err := reg.Collection(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.collection.created",
		zap.String("registry", reg.Address().Hex()),
		zap.Uint64("collection_id", id))

	w.Header().Set("Location", fmt.Sprintf("/v1/registries/%s/collections/%d", reg.Address().Hex(), id))
	writeJSON(w, http.StatusCreated, collectionResponse{Collection: col, Registry: reg.Address().Hex()})
}

func (a *API) listCollections(w http.ResponseWriter, r *http.Request) {
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	cols := reg.Collections()
	out := make([]collectionResponse, 0, len(cols))
	for _, c := range cols {
		out = append(out, collectionResponse{Collection: c, Registry: reg.Address().Hex()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry": reg.Address().Hex(),
		"artist":   reg.Artist().Hex(),
		"items":    out,
	})
}

func (a *API) getCollection(w http.ResponseWriter, r *http.Request) {
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	col, err := reg.Collection(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	tokens, err := reg.TokensInCollection(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionResponse{
		Collection: col,
		Registry:   reg.Address().Hex(),
		Tokens:     tokens,
	})
}

func (a *API) deleteCollection(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}

	reg, err := a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		return reg.DeleteCollection(ctx, caller, id)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.collection.deleted",
		zap.String("registry", reg.Address().Hex()),
		zap.Uint64("collection_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleVisibility(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}

	var public bool
	reg, err := a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		var err error
		public, err = reg.ToggleCollectionVisibility(ctx, caller, id)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.collection.visibility",
		zap.String("registry", reg.Address().Hex()),
		zap.Uint64("collection_id", id),
		zap.Bool("is_public", public))
	writeJSON(w, http.StatusOK, map[string]any{
		"collection_id": id,
		"is_public":     public,
	})
}

func (a *API) createToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	var req createTokenRequest
	if !readJSON(w, r, &req) {
		return
	}

	var id tokenid.ID
	reg, err := a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		var err error
		id, err = reg.CreateToken(ctx, caller, req.CollectionID, req.RoyaltyBps, req.Price, req.MetadataURI)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.token.created",
		zap.String("registry", reg.Address().Hex()),
		zap.Uint64("collection_id", req.CollectionID),
		zap.String("token_id", id.String()),
		zap.Int64("price", req.Price))

	resp, err := a.tokenView(reg, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/tokens/"+id.String())
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) getToken(w http.ResponseWriter, r *http.Request) {
	reg, id, ok := a.tokenRegistry(w, r)
	if !ok {
		return
	}
	resp, err := a.tokenView(reg, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) tokenURI(w http.ResponseWriter, r *http.Request) {
	id, ok := pathToken(w, r)
	if !ok {
		return
	}
	uri, err := a.engine.Mint.URI(id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token_id": id.String(),
		"uri":      uri,
	})
}

func (a *API) updateTokenPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, id, ok := a.tokenRegistry(w, r)
	if !ok {
		return
	}
	var req priceRequest
	if !readJSON(w, r, &req) {
		return
	}

	reg, err := a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		return reg.UpdateTokenPrice(ctx, caller, id, req.Price)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.token.price_updated",
		zap.String("token_id", id.String()),
		zap.Int64("price", req.Price))

	resp, err := a.tokenView(reg, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) setURI(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	var req baseURIRequest
	if !readJSON(w, r, &req) {
		return
	}

	reg, err := a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		return reg.SetURI(ctx, caller, req.BaseURI)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.uri_updated",
		zap.String("registry", reg.Address().Hex()),
		zap.String("base_uri", req.BaseURI))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) transferArtistRole(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	reg, ok := a.registry(w, r)
	if !ok {
		return
	}
	var req artistRoleRequest
	if !readJSON(w, r, &req) {
		return
	}
	artist, err := parseAddressField("artist", req.Artist)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	reg, err = a.withRegistry(r.Context(), reg.Address(), func(ctx context.Context, reg *catalog.Registry) error {
		return reg.TransferArtistRole(ctx, caller, artist)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "catalog.artist_role_transferred",
		zap.String("registry", reg.Address().Hex()),
		zap.String("artist", artist.Hex()))
	writeJSON(w, http.StatusOK, map[string]string{
		"registry": reg.Address().Hex(),
		"artist":   reg.Artist().Hex(),
	})
}

func (a *API) tokenView(reg *catalog.Registry, id tokenid.ID) (tokenResponse, error) {
	tok, err := reg.Token(id)
	if err != nil {
		return tokenResponse{}, err
	}
	uri, err := reg.URI(id)
	if err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		Token:       tok,
		Registry:    reg.Address().Hex(),
		TotalSupply: a.engine.Mint.TotalSupply(id),
		URI:         uri,
	}, nil
}
