// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/luxfi/geth/common"
)

// Share is one provider's LP balance.
type Share struct {
	Holder common.Address `json:"holder"`
	Amount *big.Int       `json:"amount"`
}

// Volume is one user's open daily window.
type Volume struct {
	User   common.Address `json:"user"`
	Start  uint64         `json:"start"`
	Amount *big.Int       `json:"amount"`
}

// State is the persisted form of a Pool.
type State struct {
	Owner         common.Address `json:"owner"`
	Guardian      common.Address `json:"guardian"`
	Relayer       common.Address `json:"relayer"`
	USDT          common.Address `json:"usdt"`
	A             uint64         `json:"a"`
	Fees          FeeConfig      `json:"fees"`
	Tokens        []PoolToken    `json:"tokens"`
	TotalSupply   *big.Int       `json:"totalSupply"`
	Shares        []Share        `json:"shares"`
	Caps          []Share        `json:"caps"`
	Volumes       []Volume       `json:"volumes"`
	Paused        bool           `json:"paused"`
	EmergencyStop bool           `json:"emergencyStop"`
}

// Snapshot exports the pool state.
func (p *Pool) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := State{
		Owner:         p.owner,
		Guardian:      p.guardian,
		Relayer:       p.relayer,
		USDT:          p.usdt,
		A:             p.amp,
		Fees:          p.fees,
		TotalSupply:   new(big.Int).Set(p.totalSupply),
		Paused:        p.paused,
		EmergencyStop: p.emergencyStop,
	}
	for _, t := range p.tokens {
		c := *t
		c.Balance = new(big.Int).Set(t.Balance)
		s.Tokens = append(s.Tokens, c)
	}
	s.Shares = sortedShares(p.lpBalances)
	s.Caps = sortedShares(p.dailyCaps)
	for user, w := range p.volumes {
		s.Volumes = append(s.Volumes, Volume{User: user, Start: w.start, Amount: new(big.Int).Set(w.volume)})
	}
	sort.Slice(s.Volumes, func(i, j int) bool {
		return bytes.Compare(s.Volumes[i].User.Bytes(), s.Volumes[j].User.Bytes()) < 0
	})
	return s
}

// Restore replaces the pool state with s. Collaborators are kept.
func (p *Pool) Restore(s State) error {
	if s.Owner == (common.Address{}) || s.Guardian == (common.Address{}) {
		return ErrInvalidAddress
	}
	if s.A < MinAmplification || s.A > MaxAmplification {
		return ErrInvalidAmplification
	}
	if s.Fees.SwapFee > MaxSwapFee {
		return ErrFeeTooHigh
	}
	if s.Fees.MaxSlippageBps > MaxSlippageBps {
		return ErrSlippageTooHigh
	}

	tokens := make([]*PoolToken, 0, len(s.Tokens))
	index := make(map[common.Address]int, len(s.Tokens))
	for _, t := range s.Tokens {
		if _, dup := index[t.Token]; dup {
			return ErrAlreadySupported
		}
		c := t
		c.Balance = new(big.Int)
		if t.Balance != nil {
			c.Balance.Set(t.Balance)
		}
		index[t.Token] = len(tokens)
		tokens = append(tokens, &c)
	}
	supply := new(big.Int)
	if s.TotalSupply != nil {
		supply.Set(s.TotalSupply)
	}
	volumes := make(map[common.Address]*volumeWindow, len(s.Volumes))
	for _, v := range s.Volumes {
		w := &volumeWindow{start: v.Start, volume: new(big.Int)}
		if v.Amount != nil {
			w.volume.Set(v.Amount)
		}
		volumes[v.User] = w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = s.Owner
	p.guardian = s.Guardian
	p.relayer = s.Relayer
	p.usdt = s.USDT
	p.amp = s.A
	p.fees = s.Fees
	p.tokens = tokens
	p.index = index
	p.totalSupply = supply
	p.lpBalances = shareMap(s.Shares)
	p.dailyCaps = shareMap(s.Caps)
	p.volumes = volumes
	p.paused = s.Paused
	p.emergencyStop = s.EmergencyStop
	return nil
}

func sortedShares(m map[common.Address]*big.Int) []Share {
	out := make([]Share, 0, len(m))
	for holder, amt := range m {
		out = append(out, Share{Holder: holder, Amount: new(big.Int).Set(amt)})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Holder.Bytes(), out[j].Holder.Bytes()) < 0
	})
	return out
}

func shareMap(shares []Share) map[common.Address]*big.Int {
	m := make(map[common.Address]*big.Int, len(shares))
	for _, s := range shares {
		if s.Amount == nil || s.Amount.Sign() == 0 {
			continue
		}
		m[s.Holder] = new(big.Int).Set(s.Amount)
	}
	return m
}
