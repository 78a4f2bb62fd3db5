// Package events defines the outbound notifications consumed by indexers and
// the publishers that deliver them. Payload field order is part of the contract.
package events

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/tokenid"
)

type Type string

const (
	TypeCollectionCreated           Type = "CollectionCreated"
	TypeTokenCreated                Type = "TokenCreated"
	TypeCollectionVisibilityChanged Type = "CollectionVisibilityChanged"
	TypeArtistRegistered            Type = "ArtistRegistered"
	TypeArtistCollectionsDeployed   Type = "ArtistCollectionsDeployed"

	TypeCollectionDeleted   Type = "CollectionDeleted"
	TypeTokenPriceUpdated   Type = "TokenPriceUpdated"
	TypeBaseURIUpdated      Type = "BaseURIUpdated"
	TypeArtistRoleTransfer  Type = "ArtistRoleTransferred"
	TypeTokensMinted        Type = "TokensMinted"
	TypePaymentDistributed  Type = "PaymentDistributed"
	TypePlatformInfoUpdated Type = "PlatformInfoUpdated"
	TypeOwnershipTransfer   Type = "OwnershipTransferred"
	TypeWithdrawalProposed  Type = "WithdrawalProposed"
	TypeWithdrawalApproved  Type = "WithdrawalApproved"
	TypeWithdrawalExecuted  Type = "WithdrawalExecuted"
	TypeWithdrawalCancelled Type = "WithdrawalCancelled"
	TypeRoleGranted         Type = "RoleGranted"
	TypeRoleRevoked         Type = "RoleRevoked"
	TypeLimitsUpdated       Type = "WithdrawalLimitsUpdated"
)

// Event is one outbound notification. Source is the address of the emitting
// component (registry, factory or treasury).
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Source     common.Address `json:"source"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    any            `json:"payload"`
}

type CollectionCreated struct {
	Artist       common.Address `json:"artist"`
	CollectionID uint64         `json:"collectionId"`
	Name         string         `json:"name"`
}

type TokenCreated struct {
	Artist       common.Address `json:"artist"`
	CollectionID uint64         `json:"collectionId"`
	TokenID      tokenid.ID     `json:"tokenId"`
}

type CollectionVisibilityChanged struct {
	CollectionID uint64 `json:"collectionId"`
	IsPublic     bool   `json:"isPublic"`
}

type ArtistRegistered struct {
	Artist    common.Address `json:"artist"`
	Name      string         `json:"name"`
	Timestamp int64          `json:"timestamp"`
}

type ArtistCollectionsDeployed struct {
	Artist              common.Address `json:"artist"`
	CollectionsContract common.Address `json:"collectionsContract"`
}

type CollectionDeleted struct {
	CollectionID uint64 `json:"collectionId"`
}

type TokenPriceUpdated struct {
	TokenID  tokenid.ID `json:"tokenId"`
	OldPrice int64      `json:"oldPrice"`
	NewPrice int64      `json:"newPrice"`
}

type BaseURIUpdated struct {
	URI string `json:"uri"`
}

type ArtistRoleTransferred struct {
	PreviousArtist common.Address `json:"previousArtist"`
	NewArtist      common.Address `json:"newArtist"`
}

type TokensMinted struct {
	Buyer    common.Address `json:"buyer"`
	Registry common.Address `json:"registry"`
	TokenIDs []tokenid.ID   `json:"tokenIds"`
	Payment  int64          `json:"payment"`
}

type PaymentDistributed struct {
	Registry    common.Address `json:"registry"`
	Artist      common.Address `json:"artist"`
	ArtistShare int64          `json:"artistShare"`
	Treasury    common.Address `json:"treasury"`
	PlatformFee int64          `json:"platformFee"`
}

type PlatformInfoUpdated struct {
	Treasury common.Address `json:"treasury"`
	FeeBps   uint32         `json:"feeBps"`
}

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previousOwner"`
	NewOwner      common.Address `json:"newOwner"`
}

type WithdrawalProposed struct {
	ProposalID string         `json:"proposalId"`
	Proposer   common.Address `json:"proposer"`
	To         common.Address `json:"to"`
	Amount     int64          `json:"amount"`
	Reason     string         `json:"reason"`
}

type WithdrawalApproved struct {
	ProposalID string         `json:"proposalId"`
	Approver   common.Address `json:"approver"`
	Role       string         `json:"role"`
}

type WithdrawalExecuted struct {
	ProposalID    string         `json:"proposalId"`
	To            common.Address `json:"to"`
	Amount        int64          `json:"amount"`
	TransactionID string         `json:"transactionId"`
}

type WithdrawalCancelled struct {
	ProposalID  string         `json:"proposalId"`
	CancelledBy common.Address `json:"cancelledBy"`
}

type RoleChanged struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
	Sender  common.Address `json:"sender"`
}

type LimitsUpdated struct {
	MaxWithdrawalAmount int64 `json:"maxWithdrawalAmount"`
	WeeklyLimit         int64 `json:"weeklyLimit"`
}
