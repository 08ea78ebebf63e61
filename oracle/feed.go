// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/clock"
)

// ErrFeedDown is returned by a FixedFeed that has been taken offline.
var ErrFeedDown = errors.New("feed unavailable")

// FixedFeed reports a configured price. When stamped with a clock it
// reports the clock's current time, otherwise the time set with SetPrice.
type FixedFeed struct {
	addr  common.Address
	clock clock.Clock

	price     *big.Int
	timestamp uint64
	down      bool

	mu sync.RWMutex
}

var _ PriceFeed = (*FixedFeed)(nil)

// NewFixedFeed creates a feed at addr reporting price, stamped by c.
func NewFixedFeed(addr common.Address, price *big.Int, c clock.Clock) *FixedFeed {
	return &FixedFeed{addr: addr, clock: c, price: new(big.Int).Set(price)}
}

// Address returns the feed identifier.
func (f *FixedFeed) Address() common.Address { return f.addr }

// SetPrice changes the reported price and, for unclocked feeds, its timestamp.
func (f *FixedFeed) SetPrice(price *big.Int, timestamp uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.timestamp = timestamp
}

// SetDown makes the feed fail every read.
func (f *FixedFeed) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// LatestPrice implements PriceFeed.
func (f *FixedFeed) LatestPrice(ctx context.Context) (*big.Int, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.down {
		return nil, 0, ErrFeedDown
	}
	ts := f.timestamp
	if f.clock != nil {
		ts = f.clock.Now()
	}
	return new(big.Int).Set(f.price), ts, nil
}
