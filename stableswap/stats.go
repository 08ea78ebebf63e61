// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// GetTokenPrice returns the USD price the pool uses for token.
func (p *Pool) GetTokenPrice(token common.Address) (*big.Int, error) {
	prices := p.fetchPrices(token)

	p.mu.RLock()
	defer p.mu.RUnlock()

	idx, ok := p.index[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, token.Hex())
	}
	if p.tokens[idx].IsStablecoin {
		return new(big.Int).Set(unit), nil
	}
	price, ok := prices[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceFeedStale, token.Hex())
	}
	return price, nil
}

// GetPoolStats returns the pool's USD value, token count and amplification.
func (p *Pool) GetPoolStats() (PoolStats, error) {
	prices := p.fetchPrices()

	p.mu.RLock()
	defer p.mu.RUnlock()

	rates := p.poolRates(prices)
	total := new(big.Int)
	for k, t := range p.tokens {
		if t.Balance.Sign() == 0 {
			continue
		}
		if rates[k] == nil {
			return PoolStats{}, fmt.Errorf("%w: %s", ErrPriceFeedStale, t.Token.Hex())
		}
		total.Add(total, toXP(t.Balance, rates[k]))
	}
	return PoolStats{TotalValue: total, TokenCount: len(p.tokens), CurrentA: p.amp}, nil
}

// GetVirtualPrice returns D per LP share, 18 decimals. Zero for an empty pool.
func (p *Pool) GetVirtualPrice() (*big.Int, error) {
	prices := p.fetchPrices()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.totalSupply.Sign() == 0 {
		return new(big.Int), nil
	}
	d, err := p.invariantOf(p.balances(), p.poolRates(prices))
	if err != nil {
		return nil, err
	}
	d.Mul(d, unit)
	return d.Div(d, p.totalSupply), nil
}

// LPBalanceOf returns user's liquidity shares.
func (p *Pool) LPBalanceOf(user common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.lpBalanceOf(user))
}

// TotalSupply returns the outstanding liquidity shares.
func (p *Pool) TotalSupply() *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.totalSupply)
}

// Amplification returns A.
func (p *Pool) Amplification() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.amp
}
