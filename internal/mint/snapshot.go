package mint

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"soundmint.org/internal/tokenid"
)

// Holding is one (token, owner) row.
type Holding struct {
	TokenID tokenid.ID     `json:"token_id"`
	Owner   common.Address `json:"owner"`
	Amount  uint64         `json:"amount"`
	Minted  bool           `json:"minted"`
}

// State is the serialisable content of a Ledger.
type State struct {
	Holdings []Holding `json:"holdings"`
}

// Snapshot copies all holdings in a stable order.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var st State
	for id, owners := range l.balances {
		for owner, amt := range owners {
			st.Holdings = append(st.Holdings, Holding{
				TokenID: id,
				Owner:   owner,
				Amount:  amt,
				Minted:  l.minted[id][owner],
			})
		}
	}
	sort.Slice(st.Holdings, func(i, j int) bool {
		a, b := st.Holdings[i], st.Holdings[j]
		if a.TokenID != b.TokenID {
			return a.TokenID.Big().Cmp(b.TokenID.Big()) < 0
		}
		return bytes.Compare(a.Owner[:], b.Owner[:]) < 0
	})
	return st
}

// Restore replaces all holdings. Supply is recomputed from the rows.
func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[tokenid.ID]map[common.Address]uint64)
	l.minted = make(map[tokenid.ID]map[common.Address]bool)
	l.supply = make(map[tokenid.ID]uint64)
	for _, h := range st.Holdings {
		if l.balances[h.TokenID] == nil {
			l.balances[h.TokenID] = make(map[common.Address]uint64)
			l.minted[h.TokenID] = make(map[common.Address]bool)
		}
		l.balances[h.TokenID][h.Owner] = h.Amount
		if h.Minted {
			l.minted[h.TokenID][h.Owner] = true
		}
		l.supply[h.TokenID] += h.Amount
	}
}
