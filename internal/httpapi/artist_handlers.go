package httpapi

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"soundmint.org/internal/audit"
	"soundmint.org/internal/factory"
)

type registerArtistRequest struct {
	Name        string   `json:"name"`
	MusicStyles []string `json:"music_styles"`
}

type registerArtistResponse struct {
	Artist   string `json:"artist"`
	Registry string `json:"registry"`
}

type listArtistsResponse struct {
	Items  []factory.Artist `json:"items"`
	Total  int              `json:"total"`
	Offset int              `json:"offset"`
}

type platformRequest struct {
	Treasury string `json:"treasury"`
	FeeBps   uint32 `json:"fee_bps"`
}

type platformResponse struct {
	Owner    string `json:"owner"`
	Treasury string `json:"treasury"`
	FeeBps   uint32 `json:"fee_bps"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func (a *API) registerArtist(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req registerArtistRequest
	if !readJSON(w, r, &req) {
		return
	}

	var registry common.Address
	err := a.engine.Apply(r.Context(), func(ctx context.Context) error {
		var err error
		registry, err = a.engine.Factory.RegisterArtist(ctx, caller, req.Name, req.MusicStyles)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "artist.registered",
		zap.String("registry", registry.Hex()),
		zap.String("name", req.Name))

	w.Header().Set("Location", "/v1/artists/"+caller.Hex())
	writeJSON(w, http.StatusCreated, registerArtistResponse{
		Artist:   caller.Hex(),
		Registry: registry.Hex(),
	})
}

func (a *API) listArtists(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := parseIntParam(q.Get("offset"), "offset", 0, 0, 1<<30)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	limit, err := parseIntParam(q.Get("limit"), "limit", 100, 1, 1000)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	items := a.engine.Factory.Artists(offset, limit)
	if items == nil {
		items = []factory.Artist{}
	}
	writeJSON(w, http.StatusOK, listArtistsResponse{
		Items:  items,
		Total:  a.engine.Factory.TotalArtists(),
		Offset: offset,
	})
}

func (a *API) getArtist(w http.ResponseWriter, r *http.Request) {
	artist, ok := pathAddress(w, r, "artist")
	if !ok {
		return
	}
	info, err := a.engine.Factory.ArtistInfo(artist)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *API) getPlatform(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.platform())
}

func (a *API) updatePlatform(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req platformRequest
	if !readJSON(w, r, &req) {
		return
	}
	treasury, err := parseAddressField("treasury", req.Treasury)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = a.engine.Apply(r.Context(), func(ctx context.Context) error {
		return a.engine.Factory.UpdatePlatformInfo(ctx, caller, treasury, req.FeeBps)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "platform.updated",
		zap.String("treasury", treasury.Hex()),
		zap.Uint32("fee_bps", req.FeeBps))
	writeJSON(w, http.StatusOK, a.platform())
}

func (a *API) transferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req ownerRequest
	if !readJSON(w, r, &req) {
		return
	}
	owner, err := parseAddressField("owner", req.Owner)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	err = a.engine.Apply(r.Context(), func(ctx context.Context) error {
		return a.engine.Factory.TransferOwnership(ctx, caller, owner)
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "platform.ownership_transferred",
		zap.String("owner", owner.Hex()))
	writeJSON(w, http.StatusOK, a.platform())
}

func (a *API) platform() platformResponse {
	info := a.engine.Factory.PlatformInfo()
	return platformResponse{
		Owner:    a.engine.Factory.Owner().Hex(),
		Treasury: info.Treasury.Hex(),
		FeeBps:   info.FeeBps,
	}
}
