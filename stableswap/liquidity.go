// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/event"
)

// poolRates returns every token's USD rate. A volatile token without a
// price gets a nil rate; invariantOf rejects it only if it is funded.
func (p *Pool) poolRates(prices map[common.Address]*big.Int) []*big.Int {
	rates := make([]*big.Int, len(p.tokens))
	for k := range p.tokens {
		if r, err := p.rateAt(k, prices); err == nil {
			rates[k] = r
		}
	}
	return rates
}

// invariantOf returns D over the funded entries of balances, valued at rates.
func (p *Pool) invariantOf(balances, rates []*big.Int) (*big.Int, error) {
	xp := make([]*big.Int, 0, len(balances))
	for k, b := range balances {
		if b.Sign() <= 0 {
			continue
		}
		if rates[k] == nil {
			return nil, fmt.Errorf("%w: %s", ErrPriceFeedStale, p.tokens[k].Token.Hex())
		}
		if x := toXP(b, rates[k]); x.Sign() > 0 {
			xp = append(xp, x)
		}
	}
	if len(xp) == 0 {
		return new(big.Int), nil
	}
	return getD(xp, p.amp)
}

// imbalanceFeeBps is Curve's per-token fee for unbalanced deposits.
func (p *Pool) imbalanceFeeBps() uint64 {
	n := uint64(len(p.tokens))
	if n <= 1 {
		return 0
	}
	return p.fees.SwapFee * n / (4 * (n - 1))
}

// pullAll moves each non-zero amount from holder into custody, undoing the
// earlier moves if one fails.
func (p *Pool) pullAll(holder common.Address, amounts []*big.Int) error {
	for k, amt := range amounts {
		if amt.Sign() == 0 {
			continue
		}
		token := p.tokens[k].Token
		if err := p.ledger.Transfer(token, holder, p.custody, amt); err != nil {
			p.undo(p.custody, holder, amounts[:k])
			return fmt.Errorf("pull %s: %w", token.Hex(), err)
		}
	}
	return nil
}

// payAll is pullAll in the other direction.
func (p *Pool) payAll(holder common.Address, amounts []*big.Int) error {
	for k, amt := range amounts {
		if amt.Sign() == 0 {
			continue
		}
		token := p.tokens[k].Token
		if err := p.ledger.Transfer(token, p.custody, holder, amt); err != nil {
			p.undo(holder, p.custody, amounts[:k])
			return fmt.Errorf("pay %s: %w", token.Hex(), err)
		}
	}
	return nil
}

func (p *Pool) undo(from, to common.Address, amounts []*big.Int) {
	for k, amt := range amounts {
		if amt.Sign() == 0 {
			continue
		}
		if err := p.ledger.Transfer(p.tokens[k].Token, from, to, amt); err != nil {
			p.log.Error("pool rollback failed", "token", p.tokens[k].Token.Hex(), "err", err)
		}
	}
}

// AddLiquidity deposits amounts (one per pool token, in index order) and
// mints LP shares for the increase in D.
func (p *Pool) AddLiquidity(caller common.Address, amounts []*big.Int, minToMint *big.Int, deadline uint64) (*big.Int, error) {
	prices := p.fetchPrices()

	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.tokens)
	if len(amounts) != n || n == 0 {
		return nil, fmt.Errorf("%w: want %d amounts, got %d", ErrInvalidAmounts, n, len(amounts))
	}
	nonZero := false
	for _, amt := range amounts {
		if amt == nil || amt.Sign() < 0 {
			return nil, ErrInvalidAmounts
		}
		if amt.Sign() > 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return nil, fmt.Errorf("%w: all zero", ErrInvalidAmounts)
	}
	if p.clock.Now() > deadline {
		return nil, ErrTransactionExpired
	}
	if p.paused {
		return nil, ErrPaused
	}
	if p.emergencyStop {
		return nil, ErrEmergencyStop
	}

	rates := p.poolRates(prices)
	old := p.balances()
	d0, err := p.invariantOf(old, rates)
	if err != nil {
		return nil, err
	}
	next := make([]*big.Int, n)
	for k := range next {
		next[k] = new(big.Int).Add(old[k], amounts[k])
	}
	d1, err := p.invariantOf(next, rates)
	if err != nil {
		return nil, err
	}
	if d1.Cmp(d0) <= 0 {
		return nil, fmt.Errorf("%w: invariant did not grow", ErrInvalidAmounts)
	}

	var minted *big.Int
	if p.totalSupply.Sign() == 0 || d0.Sign() == 0 {
		minted = d1
	} else {
		feeBps := p.imbalanceFeeBps()
		adjusted := make([]*big.Int, n)
		for k := range next {
			ideal := new(big.Int).Mul(d1, old[k])
			ideal.Div(ideal, d0)
			diff := new(big.Int).Sub(ideal, next[k])
			diff.Abs(diff)
			adjusted[k] = new(big.Int).Sub(next[k], mulBps(diff, feeBps))
		}
		d2, err := p.invariantOf(adjusted, rates)
		if err != nil {
			return nil, err
		}
		minted = new(big.Int).Sub(d2, d0)
		minted.Mul(minted, p.totalSupply)
		minted.Div(minted, d0)
	}
	if minted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: nothing to mint", ErrInsufficientLiquidity)
	}
	if minToMint != nil && minted.Cmp(minToMint) < 0 {
		return nil, fmt.Errorf("%w: minted %s, want at least %s", ErrSlippageExceeded, minted, minToMint)
	}

	if err := p.pullAll(caller, amounts); err != nil {
		return nil, err
	}
	for k := range p.tokens {
		p.tokens[k].Balance = next[k]
	}
	p.mint(caller, minted)

	p.log.Debug("pool liquidity added", "provider", caller.Hex(), "minted", minted.String())
	pending.Add(LiquidityAdded{
		Provider: caller,
		Amounts:  copyAmounts(amounts),
		Minted:   new(big.Int).Set(minted),
		Supply:   new(big.Int).Set(p.totalSupply),
	})
	return new(big.Int).Set(minted), nil
}

// RemoveLiquidity burns lpAmount shares for a proportional basket. It stays
// open while the pool is paused so providers can always exit.
func (p *Pool) RemoveLiquidity(caller common.Address, lpAmount *big.Int, minAmounts []*big.Int, deadline uint64) ([]*big.Int, error) {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	n := len(p.tokens)
	if minAmounts != nil && len(minAmounts) != n {
		return nil, fmt.Errorf("%w: want %d minimums, got %d", ErrInvalidAmounts, n, len(minAmounts))
	}
	if p.clock.Now() > deadline {
		return nil, ErrTransactionExpired
	}
	held := p.lpBalanceOf(caller)
	if lpAmount.Cmp(held) > 0 {
		return nil, fmt.Errorf("%w: have %s, burn %s", ErrInsufficientShares, held, lpAmount)
	}

	out := make([]*big.Int, n)
	for k, t := range p.tokens {
		amt := new(big.Int).Mul(t.Balance, lpAmount)
		out[k] = amt.Div(amt, p.totalSupply)
		if minAmounts != nil && minAmounts[k] != nil && out[k].Cmp(minAmounts[k]) < 0 {
			return nil, fmt.Errorf("%w: %s below minimum %s", ErrSlippageExceeded, out[k], minAmounts[k])
		}
	}

	if err := p.payAll(caller, out); err != nil {
		return nil, err
	}
	for k, t := range p.tokens {
		t.Balance.Sub(t.Balance, out[k])
	}
	p.burn(caller, lpAmount)

	p.log.Debug("pool liquidity removed", "provider", caller.Hex(), "burned", lpAmount.String())
	pending.Add(LiquidityRemoved{
		Provider: caller,
		Amounts:  copyAmounts(out),
		Burned:   new(big.Int).Set(lpAmount),
		Supply:   new(big.Int).Set(p.totalSupply),
	})
	return out, nil
}

// SeedLiquidity lets the owner fund a single token. Shares are minted to the
// owner by the increase in D with no imbalance fee.
func (p *Pool) SeedLiquidity(caller, token common.Address, amount *big.Int) error {
	prices := p.fetchPrices()

	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	idx, ok := p.index[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenNotSupported, token.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.emergencyStop {
		return ErrEmergencyStop
	}

	rates := p.poolRates(prices)
	old := p.balances()
	d0, err := p.invariantOf(old, rates)
	if err != nil {
		return err
	}
	next := p.balances()
	next[idx].Add(next[idx], amount)
	d1, err := p.invariantOf(next, rates)
	if err != nil {
		return err
	}

	var minted *big.Int
	if p.totalSupply.Sign() == 0 || d0.Sign() == 0 {
		minted = d1
	} else {
		minted = new(big.Int).Sub(d1, d0)
		minted.Mul(minted, p.totalSupply)
		minted.Div(minted, d0)
	}

	if err := p.ledger.Transfer(token, caller, p.custody, amount); err != nil {
		return fmt.Errorf("pull %s: %w", token.Hex(), err)
	}
	p.tokens[idx].Balance = next[idx]
	if minted.Sign() > 0 {
		p.mint(caller, minted)
	}

	p.log.Info("pool seeded", "token", token.Hex(), "amount", amount.String(), "minted", minted.String())
	pending.Add(LiquiditySeeded{Token: token, Amount: new(big.Int).Set(amount), Minted: new(big.Int).Set(minted)})
	return nil
}

func (p *Pool) lpBalanceOf(user common.Address) *big.Int {
	if b, ok := p.lpBalances[user]; ok {
		return b
	}
	return new(big.Int)
}

func (p *Pool) mint(to common.Address, amount *big.Int) {
	b := new(big.Int).Add(p.lpBalanceOf(to), amount)
	p.lpBalances[to] = b
	p.totalSupply.Add(p.totalSupply, amount)
}

func (p *Pool) burn(from common.Address, amount *big.Int) {
	b := new(big.Int).Sub(p.lpBalanceOf(from), amount)
	if b.Sign() == 0 {
		delete(p.lpBalances, from)
	} else {
		p.lpBalances[from] = b
	}
	p.totalSupply.Sub(p.totalSupply, amount)
}

func copyAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}
