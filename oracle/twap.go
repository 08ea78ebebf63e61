// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// GetTWAP returns the time-weighted average consensus price over the last
// windowSeconds. Each observation is weighted by how long it stayed the
// latest price inside the window. Returns zero when no price was recorded.
func (o *PriceOracle) GetTWAP(token common.Address, windowSeconds uint64) (*big.Int, error) {
	if windowSeconds == 0 {
		return nil, ErrInvalidWindow
	}
	if windowSeconds > MaxTWAPWindow {
		return nil, fmt.Errorf("%w: %d > %d", ErrWindowTooLarge, windowSeconds, MaxTWAPWindow)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil || !ts.config.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	if len(ts.history) == 0 {
		return new(big.Int), nil
	}

	now := o.clock.Now()
	key := twapKey{token: token, window: windowSeconds, now: now, appended: ts.appended}
	if v, ok := o.twapCache.Get(key); ok {
		return new(big.Int).Set(v), nil
	}

	v := timeWeighted(ts.history, now, windowSeconds)
	o.twapCache.Add(key, v)
	return new(big.Int).Set(v), nil
}

func timeWeighted(history []Observation, now, window uint64) *big.Int {
	var start uint64
	if now > window {
		start = now - window
	}

	sum := new(big.Int)
	var total uint64
	for i, obs := range history {
		segStart := obs.Timestamp
		segEnd := now
		if i+1 < len(history) {
			segEnd = history[i+1].Timestamp
		}
		if segEnd > now {
			segEnd = now
		}
		if segEnd <= start || segEnd <= segStart {
			continue
		}
		if segStart < start {
			segStart = start
		}
		dur := segEnd - segStart
		sum.Add(sum, new(big.Int).Mul(obs.Price, new(big.Int).SetUint64(dur)))
		total += dur
	}
	if total == 0 {
		return new(big.Int).Set(history[len(history)-1].Price)
	}
	return sum.Div(sum, new(big.Int).SetUint64(total))
}
