package catalog

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/tokenid"
)

// Input bounds for registry strings.
const (
	MaxNameLength        = 100
	MaxStyleLength       = 50
	MaxDescriptionLength = 2000
	MaxURILength         = 2048
)

// Collection groups tokens of one release inside a registry.
type Collection struct {
	ID                uint64    `json:"id"`
	Name              string    `json:"name"`
	Style             string    `json:"style"`
	Description       string    `json:"description"`
	IsPublic          bool      `json:"is_public"`
	AvatarURI         string    `json:"avatar_uri"`
	DefaultRoyaltyBps uint32    `json:"default_royalty_bps"`
	LastTokenSequence uint64    `json:"last_token_sequence"`
	IsDeleted         bool      `json:"is_deleted"`
	CreatedAt         time.Time `json:"created_at"`
}

// Token is a priced, royalty-bearing item. Its identity and collection binding never change.
type Token struct {
	ID           tokenid.ID `json:"id"`
	CollectionID uint64     `json:"collection_id"`
	Sequence     uint64     `json:"sequence"`
	Price        int64      `json:"price"`
	RoyaltyBps   uint32     `json:"royalty_bps"`
	MetadataURI  string     `json:"metadata_uri"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewCollection carries the artist-supplied fields of a collection.
type NewCollection struct {
	Name        string `json:"name"`
	Style       string `json:"style"`
	Description string `json:"description"`
	IsPublic    bool   `json:"is_public"`
	AvatarURI   string `json:"avatar_uri"`
	RoyaltyBps  uint32 `json:"royalty_bps"`
}

// State is the serialisable content of a Registry.
type State struct {
	Address     common.Address `json:"address"`
	Artist      common.Address `json:"artist"`
	BaseURI     string         `json:"base_uri"`
	Collections []Collection   `json:"collections"`
	Tokens      []Token        `json:"tokens"`
}
