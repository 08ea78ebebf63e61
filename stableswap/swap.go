// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/event"
)

// quote is the priced result of a prospective swap.
type quote struct {
	amountOut *big.Int // tokenOut units, after fee
	fee       *big.Int // tokenOut units
	valueIn   *big.Int // 18-decimal USD
	fairOut   *big.Int // tokenOut units at oracle rates, before fee and curve
}

// fetchPrices reads valid oracle prices for the volatile tokens among want
// (every pool token when want is empty). It must be called without p.mu held.
func (p *Pool) fetchPrices(want ...common.Address) map[common.Address]*big.Int {
	p.mu.RLock()
	reader := p.oracle
	var volatile []common.Address
	if len(want) == 0 {
		for _, t := range p.tokens {
			if !t.IsStablecoin {
				volatile = append(volatile, t.Token)
			}
		}
	} else {
		for _, token := range want {
			if idx, ok := p.index[token]; ok && !p.tokens[idx].IsStablecoin {
				volatile = append(volatile, token)
			}
		}
	}
	p.mu.RUnlock()

	prices := make(map[common.Address]*big.Int, len(volatile))
	if reader == nil {
		return prices
	}
	for _, token := range volatile {
		data, err := reader.GetPriceData(token)
		if err != nil || !data.IsValid || data.Price == nil || data.Price.Sign() <= 0 {
			p.log.Debug("pool price unavailable", "token", token.Hex(), "err", err)
			continue
		}
		prices[token] = new(big.Int).Set(data.Price)
	}
	return prices
}

// rateAt returns the USD rate of token idx, or ErrPriceFeedStale when a
// volatile token has no valid price in the snapshot.
func (p *Pool) rateAt(idx int, prices map[common.Address]*big.Int) (*big.Int, error) {
	t := p.tokens[idx]
	if t.IsStablecoin {
		return rateOf(t, nil), nil
	}
	price, ok := prices[t.Token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceFeedStale, t.Token.Hex())
	}
	return rateOf(t, price), nil
}

// quoteSwap prices dx of token i into token j. Callers hold p.mu.
//
// Stable to stable swaps run the invariant over every funded stablecoin with
// each valued at exactly 1.0. A swap with a volatile leg runs the invariant
// over the pair alone, both legs converted to USD at oracle rates.
func (p *Pool) quoteSwap(i, j int, dx *big.Int, prices map[common.Address]*big.Int) (*quote, error) {
	if i == j {
		return nil, ErrInvalidSwapPair
	}
	if i < 0 || j < 0 || i >= len(p.tokens) || j >= len(p.tokens) {
		return nil, ErrInvalidIndex
	}
	if dx == nil || dx.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	for _, k := range []int{i, j} {
		if _, err := p.rateAt(k, prices); err != nil {
			return nil, err
		}
	}
	in, out := p.tokens[i], p.tokens[j]
	if in.Balance.Sign() == 0 || out.Balance.Sign() == 0 {
		return nil, fmt.Errorf("%w: unfunded leg", ErrInsufficientLiquidity)
	}

	var members []int
	if in.IsStablecoin && out.IsStablecoin {
		for k, t := range p.tokens {
			if t.IsStablecoin && t.Balance.Sign() > 0 {
				members = append(members, k)
			}
		}
	} else {
		members = []int{i, j}
	}

	xp := make([]*big.Int, len(members))
	rates := make([]*big.Int, len(members))
	pi, pj := -1, -1
	for pos, k := range members {
		r, err := p.rateAt(k, prices)
		if err != nil {
			return nil, err
		}
		rates[pos] = r
		xp[pos] = toXP(p.tokens[k].Balance, r)
		switch k {
		case i:
			pi = pos
		case j:
			pj = pos
		}
	}

	valueIn := toXP(dx, rates[pi])
	if valueIn.Sign() == 0 {
		return nil, fmt.Errorf("%w: dust input", ErrInvalidAmount)
	}
	x := new(big.Int).Add(xp[pi], valueIn)
	y, err := getY(pi, pj, x, xp, p.amp)
	if err != nil {
		return nil, err
	}

	dy := new(big.Int).Sub(xp[pj], y)
	dy.Sub(dy, one)
	if dy.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero output", ErrInsufficientLiquidity)
	}
	feeXP := mulBps(dy, p.fees.SwapFee)
	netXP := new(big.Int).Sub(dy, feeXP)

	return &quote{
		amountOut: fromXP(netXP, rates[pj]),
		fee:       fromXP(feeXP, rates[pj]),
		valueIn:   valueIn,
		fairOut:   fromXP(valueIn, rates[pj]),
	}, nil
}

// CalculateSwap returns the output for amountIn of token fromIndex, after fee.
func (p *Pool) CalculateSwap(fromIndex, toIndex int, amountIn *big.Int) (*big.Int, error) {
	p.mu.RLock()
	var want []common.Address
	for _, k := range []int{fromIndex, toIndex} {
		if k >= 0 && k < len(p.tokens) {
			want = append(want, p.tokens[k].Token)
		}
	}
	p.mu.RUnlock()
	if len(want) == 0 {
		return nil, ErrInvalidIndex
	}

	prices := p.fetchPrices(want...)

	p.mu.RLock()
	defer p.mu.RUnlock()
	q, err := p.quoteSwap(fromIndex, toIndex, amountIn, prices)
	if err != nil {
		return nil, err
	}
	return q.amountOut, nil
}

// CalculateSwapFee returns the fee, in tokenOut units, a swap of amount would pay.
func (p *Pool) CalculateSwapFee(tokenIn, tokenOut common.Address, amount *big.Int) (*big.Int, error) {
	prices := p.fetchPrices(tokenIn, tokenOut)

	p.mu.RLock()
	defer p.mu.RUnlock()

	i, ok := p.index[tokenIn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, tokenIn.Hex())
	}
	j, ok := p.index[tokenOut]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, tokenOut.Hex())
	}
	q, err := p.quoteSwap(i, j, amount, prices)
	if err != nil {
		return nil, err
	}
	return q.fee, nil
}

// Swap exchanges amountIn of tokenIn for at least minAmountOut of tokenOut.
func (p *Pool) Swap(
	caller common.Address,
	tokenIn, tokenOut common.Address,
	amountIn, minAmountOut *big.Int,
	deadline uint64,
	useGasless bool,
) (*big.Int, error) {
	if tokenIn == tokenOut {
		return nil, ErrInvalidSwapPair
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if minAmountOut == nil {
		minAmountOut = new(big.Int)
	}

	prices := p.fetchPrices(tokenIn, tokenOut)

	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if now > deadline {
		return nil, ErrTransactionExpired
	}
	i, ok := p.index[tokenIn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, tokenIn.Hex())
	}
	j, ok := p.index[tokenOut]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, tokenOut.Hex())
	}
	if p.paused {
		return nil, ErrPaused
	}
	if p.emergencyStop {
		return nil, ErrEmergencyStop
	}
	if useGasless && (p.relayer == (common.Address{}) || tokenIn != p.usdt) {
		return nil, ErrGaslessUnavailable
	}

	q, err := p.quoteSwap(i, j, amountIn, prices)
	if err != nil {
		return nil, err
	}
	if q.amountOut.Sign() <= 0 || q.amountOut.Cmp(p.tokens[j].Balance) >= 0 {
		return nil, fmt.Errorf("%w: output %s", ErrInsufficientLiquidity, q.amountOut)
	}
	if q.amountOut.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, want at least %s", ErrSlippageExceeded, q.amountOut, minAmountOut)
	}
	floor := mulBps(q.fairOut, BasisPoints-p.fees.MaxSlippageBps)
	if q.amountOut.Cmp(floor) < 0 {
		return nil, fmt.Errorf("%w: %s below fair floor %s", ErrSlippageExceeded, q.amountOut, floor)
	}
	window := p.volumeWindow(caller, now)
	if limit, ok := p.dailyCaps[caller]; ok {
		next := new(big.Int).Add(window.volume, q.valueIn)
		if next.Cmp(limit) > 0 {
			return nil, fmt.Errorf("%w: %s > %s", ErrDailyVolumeExceeded, next, limit)
		}
	}

	if err := p.ledger.Transfer(tokenIn, caller, p.custody, amountIn); err != nil {
		return nil, fmt.Errorf("pull %s: %w", tokenIn.Hex(), err)
	}
	if err := p.ledger.Transfer(tokenOut, p.custody, caller, q.amountOut); err != nil {
		if rbErr := p.ledger.Transfer(tokenIn, p.custody, caller, amountIn); rbErr != nil {
			p.log.Error("pool swap rollback failed", "token", tokenIn.Hex(), "err", rbErr)
		}
		return nil, fmt.Errorf("pay %s: %w", tokenOut.Hex(), err)
	}

	p.tokens[i].Balance.Add(p.tokens[i].Balance, amountIn)
	p.tokens[j].Balance.Sub(p.tokens[j].Balance, q.amountOut)
	window.volume.Add(window.volume, q.valueIn)
	p.volumes[caller] = window

	p.log.Debug("pool swap",
		"user", caller.Hex(),
		"in", tokenIn.Hex(),
		"out", tokenOut.Hex(),
		"amountIn", amountIn.String(),
		"amountOut", q.amountOut.String(),
		"fee", q.fee.String(),
	)
	pending.Add(TokenSwapped{
		User:      caller,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: new(big.Int).Set(q.amountOut),
		Fee:       q.fee,
		Gasless:   useGasless,
	})
	return new(big.Int).Set(q.amountOut), nil
}

// volumeWindow returns the user's current 24h window, opening a fresh one
// when none exists or the previous one has elapsed. The result is a copy.
func (p *Pool) volumeWindow(user common.Address, now uint64) *volumeWindow {
	w, ok := p.volumes[user]
	if !ok || now >= w.start+DaySeconds {
		return &volumeWindow{start: now, volume: new(big.Int)}
	}
	return &volumeWindow{start: w.start, volume: new(big.Int).Set(w.volume)}
}

// DailyVolume returns the USD value user has swapped in the current window.
func (p *Pool) DailyVolume(user common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volumeWindow(user, p.clock.Now()).volume
}

// DailyVolumeCap returns the user's cap, zero when uncapped.
func (p *Pool) DailyVolumeCap(user common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit, ok := p.dailyCaps[user]; ok {
		return new(big.Int).Set(limit)
	}
	return new(big.Int)
}
