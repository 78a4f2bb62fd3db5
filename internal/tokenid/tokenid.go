// Package tokenid packs a registry address, a collection id and a per-registry
// sequence number into one 256-bit token identifier.
//
// Layout, most significant first:
//
//	bits 96..255  registry address (160 bits)
//	bits 48..95   collection id    (48 bits)
//	bits  0..47   sequence number  (48 bits)
package tokenid

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"soundmint.org/internal/domain"
)

const (
	SequenceBits   = 48
	CollectionBits = 48
	registryShift  = SequenceBits + CollectionBits

	MaxSequence     = uint64(1)<<SequenceBits - 1
	MaxCollectionID = uint64(1)<<CollectionBits - 1
)

// ID is a composite token identifier. The zero value is not a valid token.
// IDs are comparable and may be used as map keys.
type ID struct {
	v uint256.Int
}

// Encode packs the three components. Fails when registry is zero or either
// counter is zero or out of range.
func Encode(registry common.Address, collectionID, sequence uint64) (ID, error) {
	if domain.IsZero(registry) {
		return ID{}, fmt.Errorf("%w: registry address is zero", domain.ErrInvalidInput)
	}
	if collectionID == 0 || collectionID > MaxCollectionID {
		return ID{}, fmt.Errorf("%w: collection id %d out of range", domain.ErrInvalidInput, collectionID)
	}
	if sequence == 0 || sequence > MaxSequence {
		return ID{}, fmt.Errorf("%w: sequence %d out of range", domain.ErrInvalidInput, sequence)
	}

	var id ID
	id.v.SetBytes(registry.Bytes())
	id.v.Lsh(&id.v, registryShift)

	var part uint256.Int
	part.SetUint64(collectionID)
	part.Lsh(&part, SequenceBits)
	id.v.Or(&id.v, &part)

	part.SetUint64(sequence)
	id.v.Or(&id.v, &part)
	return id, nil
}

// MustEncode is Encode for inputs already known to be valid.
func MustEncode(registry common.Address, collectionID, sequence uint64) ID {
	id, err := Encode(registry, collectionID, sequence)
	if err != nil {
		panic(err)
	}
	return id
}

// Decode splits an id into its components. Results for ids that were not
// produced by Encode are meaningless; callers check token existence.
func Decode(id ID) (registry common.Address, collectionID, sequence uint64) {
	var tmp uint256.Int
	tmp.Rsh(&id.v, registryShift)
	registry = common.Address(tmp.Bytes20())

	tmp.Rsh(&id.v, SequenceBits)
	collectionID = tmp.Uint64() & MaxCollectionID

	sequence = id.v.Uint64() & MaxSequence
	return registry, collectionID, sequence
}

// Registry returns the registry component.
func (id ID) Registry() common.Address {
	r, _, _ := Decode(id)
	return r
}

// CollectionID returns the collection component.
func (id ID) CollectionID() uint64 {
	_, c, _ := Decode(id)
	return c
}

// Sequence returns the sequence component.
func (id ID) Sequence() uint64 {
	_, _, s := Decode(id)
	return s
}

func (id ID) IsZero() bool { return id.v.IsZero() }

// String renders the id in decimal, the form used by metadata URIs and indexers.
func (id ID) String() string { return id.v.Dec() }

// Hex renders the id as 0x-prefixed hex.
func (id ID) Hex() string { return id.v.Hex() }

// Big returns a copy of the id as a big.Int.
func (id ID) Big() *big.Int { return id.v.ToBig() }

// Parse accepts a decimal string or a 0x-prefixed hex string.
func Parse(raw string) (ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ID{}, fmt.Errorf("%w: empty token id", domain.ErrInvalidInput)
	}
	b := new(big.Int)
	var ok bool
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		_, ok = b.SetString(raw[2:], 16)
	} else {
		_, ok = b.SetString(raw, 10)
	}
	if !ok || b.Sign() < 0 {
		return ID{}, fmt.Errorf("%w: malformed token id %q", domain.ErrInvalidInput, raw)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return ID{}, fmt.Errorf("%w: token id overflows 256 bits", domain.ErrInvalidInput)
	}
	return ID{v: *v}, nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
