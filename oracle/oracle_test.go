// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/event"
	"github.com/luxfi/swapbridge/fault"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	guardian = common.HexToAddress("0x0000000000000000000000000000000000000A02")
	updater  = common.HexToAddress("0x0000000000000000000000000000000000000A03")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000A04")

	usdt = common.HexToAddress("0x0000000000000000000000000000000000001001")
	wbtc = common.HexToAddress("0x0000000000000000000000000000000000001002")

	feedA = common.HexToAddress("0x0000000000000000000000000000000000002001")
	feedB = common.HexToAddress("0x0000000000000000000000000000000000002002")
	feedC = common.HexToAddress("0x0000000000000000000000000000000000002003")
)

const start = uint64(1_700_000_000)

// usd returns whole dollars in 18-decimal fixed point.
func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), PriceUnit)
}

// cents returns n/100 dollars in 18-decimal fixed point.
func cents(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e16))
}

type fixture struct {
	oracle *PriceOracle
	clock  *clock.Manual
	bus    *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewManual(start)
	bus := event.NewBus(c)
	o, err := New(Config{
		Owner:         owner,
		Guardian:      guardian,
		Clock:         c,
		Events:        bus,
		SourceTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{oracle: o, clock: c, bus: bus}
}

// stable registers usdt with two clocked feeds reporting price.
func (f *fixture) stable(t *testing.T, price *big.Int) (*FixedFeed, *FixedFeed) {
	t.Helper()
	require.NoError(t, f.oracle.AddToken(owner, usdt, 2, 100, 300, true))
	a := NewFixedFeed(feedA, price, f.clock)
	b := NewFixedFeed(feedB, price, f.clock)
	require.NoError(t, f.oracle.AddPriceSource(owner, usdt, a))
	require.NoError(t, f.oracle.AddPriceSource(owner, usdt, b))
	return a, b
}

func TestNewRequiresRoles(t *testing.T) {
	_, err := New(Config{Owner: owner})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddTokenValidation(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.oracle.AddToken(owner, common.Address{}, 2, 100, 300, true), ErrInvalidToken)
	require.ErrorIs(t, f.oracle.AddToken(owner, usdt, 1, 100, 300, true), ErrTooFewSources)
	require.ErrorIs(t, f.oracle.AddToken(owner, usdt, 2, 0, 300, true), ErrInvalidConfig)
	require.ErrorIs(t, f.oracle.AddToken(owner, usdt, 2, 100, 0, true), ErrInvalidConfig)
	require.ErrorIs(t, f.oracle.AddToken(stranger, usdt, 2, 100, 300, true), ErrNotOwner)

	require.NoError(t, f.oracle.AddToken(owner, wbtc, 3, 500, 600, false))
	cfg, ok := f.oracle.TokenConfig(wbtc)
	require.True(t, ok)
	require.Equal(t, uint64(3), cfg.MinSources)
	require.True(t, cfg.IsActive)
	require.False(t, cfg.IsStablecoin)
}

func TestAddTokenTwiceReconfigures(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))

	require.NoError(t, f.oracle.AddToken(owner, usdt, 2, 250, 600, true))
	cfg, _ := f.oracle.TokenConfig(usdt)
	require.Equal(t, uint64(250), cfg.MaxDeviationBps)
	require.Equal(t, uint64(600), cfg.HeartbeatSeconds)
	require.Len(t, f.oracle.GetPriceSources(usdt), 2)
}

func TestPriceSources(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))

	dup := NewFixedFeed(feedA, usd(1), f.clock)
	err := f.oracle.AddPriceSource(owner, usdt, dup)
	require.ErrorIs(t, err, ErrSourceAlreadyExists)
	require.ErrorIs(t, err, fault.ErrConfiguration)

	require.ErrorIs(t, f.oracle.AddPriceSource(owner, wbtc, dup), ErrTokenNotActive)
	require.ErrorIs(t, f.oracle.AddPriceSource(stranger, usdt, NewFixedFeed(feedC, usd(1), f.clock)), ErrNotOwner)

	require.Equal(t, []common.Address{feedA, feedB}, f.oracle.GetPriceSources(usdt))
	require.NoError(t, f.oracle.RemovePriceSource(owner, usdt, feedA))
	require.ErrorIs(t, f.oracle.RemovePriceSource(owner, usdt, feedA), ErrSourceNotFound)
	require.Equal(t, []common.Address{feedB}, f.oracle.GetPriceSources(usdt))

	// Below minSources updates are refused until a feed is added back.
	_, err = f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.ErrorIs(t, err, ErrInsufficientSources)
	require.NoError(t, f.oracle.AddPriceSource(owner, usdt, NewFixedFeed(feedC, usd(1), f.clock)))
	_, err = f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
}

// Two sources reporting 1.0 give a consensus of exactly 1e18.
func TestUpdatePriceStablePair(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))

	snap, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
	require.Equal(t, uint64(FullConfidence), snap.Confidence)
	require.Equal(t, uint64(2), snap.SourceCount)

	price, err := f.oracle.GetPrice(usdt)
	require.NoError(t, err)
	require.Equal(t, usd(1), price)
	require.Equal(t, start, f.oracle.GetLastUpdateTime(usdt))
	require.Equal(t, 1, f.bus.Count("PriceUpdated"))
}

func TestUpdatePriceAuthorization(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))
	ctx := context.Background()

	_, err := f.oracle.UpdatePrice(ctx, updater, usdt)
	require.ErrorIs(t, err, ErrNotAuthorized)
	require.ErrorIs(t, err, fault.ErrAuthorization)

	require.ErrorIs(t, f.oracle.AddAuthorizedUpdater(stranger, updater), ErrNotOwner)
	require.NoError(t, f.oracle.AddAuthorizedUpdater(owner, updater))
	require.True(t, f.oracle.IsAuthorizedUpdater(updater))
	_, err = f.oracle.UpdatePrice(ctx, updater, usdt)
	require.NoError(t, err)

	require.NoError(t, f.oracle.RemoveAuthorizedUpdater(owner, updater))
	_, err = f.oracle.UpdatePrice(ctx, updater, usdt)
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestUpdatePriceRejectsOutlier(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.oracle.AddToken(owner, wbtc, 2, 500, 600, false))
	require.NoError(t, f.oracle.AddPriceSource(owner, wbtc, NewFixedFeed(feedA, usd(100), f.clock)))
	require.NoError(t, f.oracle.AddPriceSource(owner, wbtc, NewFixedFeed(feedB, usd(101), f.clock)))
	require.NoError(t, f.oracle.AddPriceSource(owner, wbtc, NewFixedFeed(feedC, usd(150), f.clock)))

	snap, err := f.oracle.UpdatePrice(context.Background(), owner, wbtc)
	require.NoError(t, err)
	require.Equal(t, cents(10050), snap.Price)
	require.Equal(t, uint64(2), snap.SourceCount)
	require.Equal(t, uint64(BasisPoints-99), snap.Confidence)
}

func TestUpdatePriceInsufficientSources(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.oracle.AddToken(owner, wbtc, 3, 500, 600, false))
	a := NewFixedFeed(feedA, usd(50_000), f.clock)
	require.NoError(t, f.oracle.AddPriceSource(owner, wbtc, a))
	require.NoError(t, f.oracle.AddPriceSource(owner, wbtc, NewFixedFeed(feedB, usd(50_000), f.clock)))
	require.NoError(t, f.oracle.AddPriceSource(owner, wbtc, NewFixedFeed(feedC, usd(50_100), f.clock)))

	a.SetDown(true)
	_, err := f.oracle.UpdatePrice(context.Background(), owner, wbtc)
	require.ErrorIs(t, err, ErrInsufficientSources)
	require.ErrorIs(t, err, fault.ErrState)
	require.Equal(t, uint64(0), f.oracle.GetLastUpdateTime(wbtc))

	data, err := f.oracle.GetPriceData(wbtc)
	require.NoError(t, err)
	require.False(t, data.IsValid)

	a.SetDown(false)
	_, err = f.oracle.UpdatePrice(context.Background(), owner, wbtc)
	require.NoError(t, err)
}

func TestUpdatePriceSkipsStaleSourceReadings(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.oracle.AddToken(owner, usdt, 2, 100, 300, true))
	old := NewFixedFeed(feedA, usd(1), nil)
	old.SetPrice(usd(1), start-301)
	require.NoError(t, f.oracle.AddPriceSource(owner, usdt, old))
	require.NoError(t, f.oracle.AddPriceSource(owner, usdt, NewFixedFeed(feedB, usd(1), f.clock)))

	_, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.ErrorIs(t, err, ErrInsufficientSources)

	old.SetPrice(usd(1), start-10)
	_, err = f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
}

type hangingFeed struct{ addr common.Address }

func (h hangingFeed) Address() common.Address { return h.addr }

func (h hangingFeed) LatestPrice(context.Context) (*big.Int, uint64, error) {
	time.Sleep(2 * time.Second)
	return big.NewInt(1), 0, nil
}

func TestUpdatePriceSourceTimeout(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))
	require.NoError(t, f.oracle.AddPriceSource(owner, usdt, hangingFeed{addr: feedC}))

	begin := time.Now()
	snap, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
	require.Less(t, time.Since(begin), time.Second)
	require.Equal(t, uint64(2), snap.SourceCount)
	require.Equal(t, usd(1), snap.Price)
}

func TestStalenessBoundary(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))
	require.True(t, f.oracle.IsStale(usdt))

	_, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)

	f.clock.Advance(299 * time.Second)
	require.False(t, f.oracle.IsStale(usdt))
	data, err := f.oracle.GetPriceData(usdt)
	require.NoError(t, err)
	require.True(t, data.IsValid)

	f.clock.Advance(2 * time.Second)
	require.True(t, f.oracle.IsStale(usdt))
	data, err = f.oracle.GetPriceData(usdt)
	require.NoError(t, err)
	require.False(t, data.IsValid)

	// A stale price is still reported.
	price, err := f.oracle.GetPrice(usdt)
	require.NoError(t, err)
	require.Equal(t, usd(1), price)
}

func TestCircuitBreaker(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))
	_, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)

	require.ErrorIs(t, f.oracle.SetEmergencyPrice(owner, usdt, cents(50)), ErrNotGuardian)
	require.ErrorIs(t, f.oracle.SetEmergencyPrice(guardian, usdt, big.NewInt(0)), ErrInvalidPrice)
	require.NoError(t, f.oracle.SetEmergencyPrice(guardian, usdt, cents(50)))

	price, err := f.oracle.GetPrice(usdt)
	require.NoError(t, err)
	require.Equal(t, cents(50), price)
	require.True(t, f.oracle.CircuitBreaker(usdt).Active)

	// The override holds even once the real price goes stale.
	f.clock.Advance(time.Hour)
	data, err := f.oracle.GetPriceData(usdt)
	require.NoError(t, err)
	require.True(t, data.IsValid)
	require.Equal(t, cents(50), data.Price)

	require.ErrorIs(t, f.oracle.DeactivateCircuitBreaker(owner, usdt), ErrNotGuardian)
	require.NoError(t, f.oracle.DeactivateCircuitBreaker(guardian, usdt))
	cb := f.oracle.CircuitBreaker(usdt)
	require.False(t, cb.Active)
	require.Equal(t, 0, cb.Price.Sign())

	_, err = f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
	price, err = f.oracle.GetPrice(usdt)
	require.NoError(t, err)
	require.Equal(t, usd(1), price)
}

func TestPauseAsymmetry(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))
	ctx := context.Background()

	require.ErrorIs(t, f.oracle.EmergencyPause(owner), ErrNotGuardian)
	require.NoError(t, f.oracle.EmergencyPause(guardian))
	require.True(t, f.oracle.Paused())

	_, err := f.oracle.UpdatePrice(ctx, owner, usdt)
	require.ErrorIs(t, err, ErrPaused)

	require.ErrorIs(t, f.oracle.EmergencyUnpause(guardian), ErrNotOwner)
	require.NoError(t, f.oracle.EmergencyUnpause(owner))
	require.ErrorIs(t, f.oracle.EmergencyUnpause(owner), ErrNotPaused)

	_, err = f.oracle.UpdatePrice(ctx, owner, usdt)
	require.NoError(t, err)
}

func TestDeactivateToken(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))

	require.NoError(t, f.oracle.DeactivateToken(owner, usdt))
	_, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.ErrorIs(t, err, ErrTokenNotActive)
	_, err = f.oracle.GetPrice(usdt)
	require.ErrorIs(t, err, ErrTokenNotActive)

	require.NoError(t, f.oracle.AddToken(owner, usdt, 2, 100, 300, true))
	_, err = f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
}

func TestTWAP(t *testing.T) {
	f := newFixture(t)
	a, b := f.stable(t, usd(1))
	ctx := context.Background()

	_, err := f.oracle.GetTWAP(usdt, 4000)
	require.ErrorIs(t, err, ErrWindowTooLarge)
	_, err = f.oracle.GetTWAP(usdt, 0)
	require.ErrorIs(t, err, ErrInvalidWindow)

	twap, err := f.oracle.GetTWAP(usdt, 120)
	require.NoError(t, err)
	require.Equal(t, 0, twap.Sign())

	_, err = f.oracle.UpdatePrice(ctx, owner, usdt)
	require.NoError(t, err)

	// No time elapsed: the latest price.
	twap, err = f.oracle.GetTWAP(usdt, 120)
	require.NoError(t, err)
	require.Equal(t, usd(1), twap)

	f.clock.Advance(60 * time.Second)
	a.SetPrice(usd(2), 0)
	b.SetPrice(usd(2), 0)
	_, err = f.oracle.UpdatePrice(ctx, owner, usdt)
	require.NoError(t, err)
	f.clock.Advance(60 * time.Second)

	twap, err = f.oracle.GetTWAP(usdt, 120)
	require.NoError(t, err)
	require.Equal(t, cents(150), twap)

	twap, err = f.oracle.GetTWAP(usdt, 60)
	require.NoError(t, err)
	require.Equal(t, usd(2), twap)

	// Cached result is a copy.
	twap.SetInt64(0)
	again, err := f.oracle.GetTWAP(usdt, 60)
	require.NoError(t, err)
	require.Equal(t, usd(2), again)
}

func TestTWAPRingBounded(t *testing.T) {
	f := newFixture(t)
	f.stable(t, usd(1))
	for i := 0; i < MaxObservations+10; i++ {
		_, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	snap := f.oracle.Snapshot()
	require.Len(t, snap.Tokens[0].History, MaxObservations)
	require.Equal(t, uint64(MaxObservations+10), snap.Tokens[0].Appended)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		prices     []*big.Int
		minSources uint64
		maxDev     uint64
		want       *big.Int
		wantErr    error
	}{
		{"odd median", []*big.Int{usd(3), usd(1), usd(2)}, 2, 10_000, usd(2), nil},
		{"even median", []*big.Int{usd(1), usd(2)}, 2, 10_000, cents(150), nil},
		{"too few", []*big.Int{usd(1)}, 2, 100, nil, ErrInsufficientSources},
		{"empty", nil, 2, 100, nil, ErrInsufficientSources},
		{"all disagree", []*big.Int{usd(1), usd(2), usd(4)}, 2, 100, nil, ErrInsufficientSources},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, _, _, err := aggregate(tt.prices, tt.minSources, tt.maxDev)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, price)
		})
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	a, b := f.stable(t, usd(1))
	require.NoError(t, f.oracle.AddAuthorizedUpdater(owner, updater))
	_, err := f.oracle.UpdatePrice(context.Background(), owner, usdt)
	require.NoError(t, err)
	require.NoError(t, f.oracle.SetEmergencyPrice(guardian, usdt, cents(99)))

	state := f.oracle.Snapshot()

	restored, err := New(Config{Owner: stranger, Guardian: stranger, Clock: f.clock})
	require.NoError(t, err)
	feeds := map[common.Address]PriceFeed{feedA: a, feedB: b}
	err = restored.Restore(state, func(_, src common.Address) (PriceFeed, bool) {
		feed, ok := feeds[src]
		return feed, ok
	})
	require.NoError(t, err)

	require.Equal(t, owner, restored.Owner())
	require.Equal(t, guardian, restored.Guardian())
	require.True(t, restored.IsAuthorizedUpdater(updater))
	require.Equal(t, []common.Address{feedA, feedB}, restored.GetPriceSources(usdt))
	price, err := restored.GetPrice(usdt)
	require.NoError(t, err)
	require.Equal(t, cents(99), price)

	require.NoError(t, restored.DeactivateCircuitBreaker(guardian, usdt))
	price, err = restored.GetPrice(usdt)
	require.NoError(t, err)
	require.Equal(t, usd(1), price)
}
