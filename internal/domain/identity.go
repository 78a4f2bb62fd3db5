package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BasisPointsDenominator is the 100% value for fee and royalty rates.
const BasisPointsDenominator = 10_000

// ZeroAddress is never a valid identity.
var ZeroAddress = common.Address{}

// IsZero reports whether addr is the zero identity.
func IsZero(addr common.Address) bool {
	return addr == ZeroAddress
}

// ParseAddress parses a 0x-prefixed 20-byte hex address. The zero address is rejected.
func ParseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	addr := common.HexToAddress(raw)
	if IsZero(addr) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}

// ValidBasisPoints reports whether bps lies in [0, 10000].
func ValidBasisPoints(bps uint32) bool {
	return bps <= BasisPointsDenominator
}

// Clock supplies wall time. Components never read the system clock directly.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
