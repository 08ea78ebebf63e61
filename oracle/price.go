// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/geth/common"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/swapbridge/event"
)

type reading struct {
	source    common.Address
	price     *big.Int
	timestamp uint64
	err       error
}

// UpdatePrice queries every feed of token and stores a new consensus snapshot.
// Feeds are read without holding the oracle lock; a feed that errors or does
// not answer within the source timeout is skipped for this round.
func (o *PriceOracle) UpdatePrice(ctx context.Context, caller, token common.Address) (PriceSnapshot, error) {
	o.mu.RLock()
	if !o.updaters[caller] {
		o.mu.RUnlock()
		return PriceSnapshot{}, ErrNotAuthorized
	}
	if o.paused {
		o.mu.RUnlock()
		return PriceSnapshot{}, ErrPaused
	}
	ts, err := o.activeToken(token)
	if err != nil {
		o.mu.RUnlock()
		return PriceSnapshot{}, err
	}
	cfg := ts.config
	sources := ts.sources
	o.mu.RUnlock()

	readings := o.readSources(ctx, sources)
	now := o.clock.Now()

	usable := make([]*big.Int, 0, len(readings))
	for _, r := range readings {
		switch {
		case r.err != nil:
			o.log.Warn("oracle source unavailable", "token", token.Hex(), "source", r.source.Hex(), "err", r.err)
		case r.price == nil || r.price.Sign() <= 0 || r.timestamp == 0 || r.timestamp > now:
			o.log.Warn("oracle source returned invalid data", "token", token.Hex(), "source", r.source.Hex())
		case now-r.timestamp > cfg.HeartbeatSeconds:
			o.log.Debug("oracle source stale", "token", token.Hex(), "source", r.source.Hex(), "age", now-r.timestamp)
		default:
			usable = append(usable, r.price)
		}
	}

	price, confidence, used, err := aggregate(usable, cfg.MinSources, cfg.MaxDeviationBps)
	if err != nil {
		return PriceSnapshot{}, fmt.Errorf("%w: token %s", err, token.Hex())
	}

	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.paused {
		return PriceSnapshot{}, ErrPaused
	}
	ts, err = o.activeToken(token)
	if err != nil {
		return PriceSnapshot{}, err
	}

	snap := PriceSnapshot{
		Price:       price,
		Timestamp:   now,
		Confidence:  confidence,
		SourceCount: used,
		IsValid:     true,
	}
	ts.latest = snap
	ts.hasLatest = true
	ts.appendObservation(Observation{Price: new(big.Int).Set(price), Timestamp: now})

	o.log.Debug("oracle price updated",
		"token", token.Hex(),
		"price", price.String(),
		"confidence", confidence,
		"sources", used,
	)
	pending.Add(PriceUpdated{Token: token, Price: new(big.Int).Set(price), Confidence: confidence, Sources: used})
	return copySnapshot(snap), nil
}

// readSources reads every feed concurrently. Each read is bounded by the
// source timeout even if the feed ignores its context.
func (o *PriceOracle) readSources(ctx context.Context, sources []PriceFeed) []reading {
	readings := make([]reading, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, feed := range sources {
		g.Go(func() error {
			readings[i] = o.readSource(gctx, feed)
			return nil
		})
	}
	_ = g.Wait()
	return readings
}

func (o *PriceOracle) readSource(ctx context.Context, feed PriceFeed) reading {
	ctx, cancel := context.WithTimeout(ctx, o.sourceTimeout)
	defer cancel()

	out := make(chan reading, 1)
	go func() {
		price, ts, err := feed.LatestPrice(ctx)
		out <- reading{source: feed.Address(), price: price, timestamp: ts, err: err}
	}()

	select {
	case r := <-out:
		return r
	case <-ctx.Done():
		return reading{source: feed.Address(), err: ctx.Err()}
	}
}

// aggregate computes the consensus price: the median of the readings that lie
// within maxDeviationBps of the median of all readings. Confidence is
// 10000 minus the spread of the survivors in basis points, floored at 1.
func aggregate(prices []*big.Int, minSources, maxDeviationBps uint64) (*big.Int, uint64, uint64, error) {
	if uint64(len(prices)) < minSources || len(prices) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: %d usable, %d required", ErrInsufficientSources, len(prices), minSources)
	}

	sorted := sortedCopy(prices)
	mid := median(sorted)

	kept := make([]*big.Int, 0, len(sorted))
	for _, p := range sorted {
		if deviationBps(p, mid) <= maxDeviationBps {
			kept = append(kept, p)
		}
	}
	if uint64(len(kept)) < minSources || len(kept) == 0 {
		return nil, 0, 0, fmt.Errorf("%w: %d within deviation, %d required", ErrInsufficientSources, len(kept), minSources)
	}

	price := median(kept)
	spread := new(big.Int).Sub(kept[len(kept)-1], kept[0])
	spread.Mul(spread, big.NewInt(BasisPoints))
	spread.Div(spread, price)

	confidence := uint64(1)
	if spread.Cmp(big.NewInt(BasisPoints)) < 0 {
		confidence = BasisPoints - spread.Uint64()
		if confidence == 0 {
			confidence = 1
		}
	}
	return price, confidence, uint64(len(kept)), nil
}

func sortedCopy(prices []*big.Int) []*big.Int {
	out := make([]*big.Int, len(prices))
	for i, p := range prices {
		out[i] = new(big.Int).Set(p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// median of a sorted slice; the mean of the middle pair (floored) for even lengths.
func median(sorted []*big.Int) *big.Int {
	n := len(sorted)
	if n%2 == 1 {
		return new(big.Int).Set(sorted[n/2])
	}
	m := new(big.Int).Add(sorted[n/2-1], sorted[n/2])
	return m.Rsh(m, 1)
}

func deviationBps(p, ref *big.Int) uint64 {
	d := new(big.Int).Sub(p, ref)
	d.Abs(d)
	d.Mul(d, big.NewInt(BasisPoints))
	d.Div(d, ref)
	if !d.IsUint64() {
		return ^uint64(0)
	}
	return d.Uint64()
}

func (ts *tokenState) appendObservation(obs Observation) {
	if len(ts.history) >= MaxObservations {
		copy(ts.history, ts.history[1:])
		ts.history = ts.history[:len(ts.history)-1]
	}
	ts.history = append(ts.history, obs)
	ts.appended++
}

func copySnapshot(s PriceSnapshot) PriceSnapshot {
	if s.Price != nil {
		s.Price = new(big.Int).Set(s.Price)
	} else {
		s.Price = new(big.Int)
	}
	return s
}

// =========================================================================
// Queries
// =========================================================================

// GetPrice returns the emergency price while the circuit breaker is active,
// otherwise the latest consensus price (zero before the first update). A
// stale price is still returned; use GetPriceData or IsStale to check it.
func (o *PriceOracle) GetPrice(token common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	if ts.breaker.Active {
		return new(big.Int).Set(ts.breaker.Price), nil
	}
	if !ts.config.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	if !ts.hasLatest {
		return new(big.Int), nil
	}
	return new(big.Int).Set(ts.latest.Price), nil
}

// IsStale reports whether the latest price is older than the heartbeat.
// Unknown tokens and tokens never updated are stale.
func (o *PriceOracle) IsStale(token common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.isStale(o.tokens[token])
}

func (o *PriceOracle) isStale(ts *tokenState) bool {
	if ts == nil || !ts.hasLatest {
		return true
	}
	now := o.clock.Now()
	if now < ts.latest.Timestamp {
		return false
	}
	return now-ts.latest.Timestamp > ts.config.HeartbeatSeconds
}

// GetPriceData returns the price with its confidence and validity.
func (o *PriceOracle) GetPriceData(token common.Address) (PriceData, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil {
		return PriceData{}, fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	if ts.breaker.Active {
		return PriceData{
			Price:      new(big.Int).Set(ts.breaker.Price),
			Confidence: FullConfidence,
			Timestamp:  o.clock.Now(),
			IsValid:    true,
		}, nil
	}
	if !ts.hasLatest {
		return PriceData{Price: new(big.Int)}, nil
	}
	valid := ts.config.IsActive &&
		!o.isStale(ts) &&
		ts.latest.SourceCount >= ts.config.MinSources
	return PriceData{
		Price:      new(big.Int).Set(ts.latest.Price),
		Confidence: ts.latest.Confidence,
		Timestamp:  ts.latest.Timestamp,
		IsValid:    valid,
	}, nil
}

// GetLastUpdateTime returns the timestamp of the latest snapshot, or zero.
func (o *PriceOracle) GetLastUpdateTime(token common.Address) uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil || !ts.hasLatest {
		return 0
	}
	return ts.latest.Timestamp
}

// LatestSnapshot returns the latest stored snapshot.
func (o *PriceOracle) LatestSnapshot(token common.Address) (PriceSnapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil || !ts.hasLatest {
		return PriceSnapshot{}, false
	}
	snap := copySnapshot(ts.latest)
	snap.IsValid = ts.config.IsActive && !o.isStale(ts)
	return snap, true
}
