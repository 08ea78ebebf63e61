// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/geth/common"
)

// ChainState is one chain's persisted configuration.
type ChainState struct {
	ChainID uint32 `json:"chainId"`
	ChainConfig
}

// TokenLimitState is one token's persisted limits.
type TokenLimitState struct {
	Token common.Address `json:"token"`
	TokenLimits
}

// UserRate is one user's persisted rate limit state.
type UserRate struct {
	User common.Address `json:"user"`
	RateLimitState
}

// FeeBalance is the fee collected for one token.
type FeeBalance struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// State is the persisted form of a Handler. Collaborators are not included.
type State struct {
	Owner         common.Address    `json:"owner"`
	Guardian      common.Address    `json:"guardian"`
	BitcoinBridge common.Address    `json:"bitcoinBridge"`
	BTCToken      common.Address    `json:"btcToken"`
	USDT          common.Address    `json:"usdt"`
	BridgeFee     uint64            `json:"bridgeFee"`
	Paused        bool              `json:"paused"`
	Tokens        []common.Address  `json:"tokens"`
	Stablecoins   []common.Address  `json:"stablecoins"`
	Blacklist     []common.Address  `json:"blacklist"`
	Limits        []TokenLimitState `json:"limits"`
	Chains        []ChainState      `json:"chains"`
	Transactions  []Transaction     `json:"transactions"`
	NextID        uint64            `json:"nextId"`
	Processed     []common.Hash     `json:"processed"`
	BitcoinSeen   []common.Hash     `json:"bitcoinSeen"`
	Rates         []UserRate        `json:"rates"`
	Fees          []FeeBalance      `json:"fees"`
	TotalVolume   *big.Int          `json:"totalVolume"`
	TotalTxs      uint64            `json:"totalTxs"`
}

// Snapshot exports the handler state.
func (h *Handler) Snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := State{
		Owner:         h.owner,
		Guardian:      h.guardian,
		BitcoinBridge: h.bitcoinBridge,
		BTCToken:      h.btcToken,
		USDT:          h.usdt,
		BridgeFee:     h.bridgeFee,
		Paused:        h.paused,
		NextID:        h.nextID,
		TotalVolume:   new(big.Int).Set(h.totalVolume),
		TotalTxs:      h.totalTxs,
	}
	s.Tokens = trueKeys(h.tokens)
	s.Stablecoins = trueKeys(h.stablecoins)
	s.Blacklist = trueKeys(h.blacklist)
	for token, l := range h.limits {
		s.Limits = append(s.Limits, TokenLimitState{Token: token, TokenLimits: TokenLimits{Min: new(big.Int).Set(l.Min), Max: new(big.Int).Set(l.Max)}})
	}
	sort.Slice(s.Limits, func(i, j int) bool { return lessAddr(s.Limits[i].Token, s.Limits[j].Token) })
	for id, c := range h.chains {
		s.Chains = append(s.Chains, ChainState{ChainID: id, ChainConfig: *c})
	}
	sort.Slice(s.Chains, func(i, j int) bool { return s.Chains[i].ChainID < s.Chains[j].ChainID })
	for id := uint64(1); id < h.nextID; id++ {
		if tx, ok := h.txs[id]; ok {
			s.Transactions = append(s.Transactions, *tx.clone())
		}
	}
	s.Processed = hashKeys(h.processed)
	s.BitcoinSeen = hashKeys(h.btcSeen)
	for user, rs := range h.rate {
		c := *rs
		c.DailyVolume = new(big.Int).Set(rs.DailyVolume)
		s.Rates = append(s.Rates, UserRate{User: user, RateLimitState: c})
	}
	sort.Slice(s.Rates, func(i, j int) bool { return lessAddr(s.Rates[i].User, s.Rates[j].User) })
	for token, amt := range h.collectedFees {
		s.Fees = append(s.Fees, FeeBalance{Token: token, Amount: new(big.Int).Set(amt)})
	}
	sort.Slice(s.Fees, func(i, j int) bool { return lessAddr(s.Fees[i].Token, s.Fees[j].Token) })
	return s
}

// Restore replaces the handler state with s.
func (h *Handler) Restore(s State) error {
	if s.Owner == (common.Address{}) || s.Guardian == (common.Address{}) {
		return ErrInvalidAddress
	}
	if s.BridgeFee > MaxBridgeFee {
		return ErrFeeTooHigh
	}
	if s.NextID == 0 {
		s.NextID = 1
	}

	txs := make(map[uint64]*Transaction, len(s.Transactions))
	userTxs := make(map[common.Address][]uint64)
	for _, tx := range s.Transactions {
		if tx.ID == 0 || tx.ID >= s.NextID {
			return fmt.Errorf("%w: transaction id %d outside [1, %d)", ErrInvalidState, tx.ID, s.NextID)
		}
		c := tx
		for _, f := range []**big.Int{&c.Amount, &c.Fee, &c.NetAmount} {
			if *f == nil {
				*f = new(big.Int)
			} else {
				*f = new(big.Int).Set(*f)
			}
		}
		txs[c.ID] = &c
		userTxs[c.User] = append(userTxs[c.User], c.ID)
	}
	for _, ids := range userTxs {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	limits := make(map[common.Address]TokenLimits, len(s.Limits))
	for _, l := range s.Limits {
		if l.Min == nil || l.Max == nil || l.Min.Cmp(l.Max) >= 0 {
			return ErrInvalidLimits
		}
		limits[l.Token] = TokenLimits{Min: new(big.Int).Set(l.Min), Max: new(big.Int).Set(l.Max)}
	}
	chains := make(map[uint32]*ChainConfig, len(s.Chains))
	for _, c := range s.Chains {
		cfg := c.ChainConfig
		chains[c.ChainID] = &cfg
	}
	rate := make(map[common.Address]*RateLimitState, len(s.Rates))
	for _, r := range s.Rates {
		rs := r.RateLimitState
		rs.DailyVolume = new(big.Int)
		if r.DailyVolume != nil {
			rs.DailyVolume.Set(r.DailyVolume)
		}
		rate[r.User] = &rs
	}
	fees := make(map[common.Address]*big.Int, len(s.Fees))
	for _, f := range s.Fees {
		if f.Amount != nil {
			fees[f.Token] = new(big.Int).Set(f.Amount)
		}
	}
	total := new(big.Int)
	if s.TotalVolume != nil {
		total.Set(s.TotalVolume)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.owner = s.Owner
	h.guardian = s.Guardian
	h.bitcoinBridge = s.BitcoinBridge
	h.btcToken = s.BTCToken
	h.usdt = s.USDT
	h.bridgeFee = s.BridgeFee
	h.paused = s.Paused
	h.tokens = setOf(s.Tokens)
	h.stablecoins = setOf(s.Stablecoins)
	h.blacklist = setOf(s.Blacklist)
	h.limits = limits
	h.chains = chains
	h.txs = txs
	h.inflight = make(map[uint64]bool)
	h.userTxs = userTxs
	h.nextID = s.NextID
	h.processed = hashSet(s.Processed)
	h.btcSeen = hashSet(s.BitcoinSeen)
	h.rate = rate
	h.collectedFees = fees
	h.totalVolume = total
	h.totalTxs = s.TotalTxs
	return nil
}

func lessAddr(a, b common.Address) bool {
	return bytes.Compare(a.Bytes(), b.Bytes()) < 0
}

func trueKeys(m map[common.Address]bool) []common.Address {
	out := make([]common.Address, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessAddr(out[i], out[j]) })
	return out
}

func setOf(addrs []common.Address) map[common.Address]bool {
	m := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	return m
}

func hashKeys(m map[common.Hash]bool) []common.Hash {
	out := make([]common.Hash, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func hashSet(hashes []common.Hash) map[common.Hash]bool {
	m := make(map[common.Hash]bool, len(hashes))
	for _, h := range hashes {
		m[h] = true
	}
	return m
}
