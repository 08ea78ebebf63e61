// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/event"
	"github.com/luxfi/swapbridge/fault"
	"github.com/luxfi/swapbridge/ledger"
	"github.com/luxfi/swapbridge/oracle"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	guardian = common.HexToAddress("0x0000000000000000000000000000000000000A02")
	custody  = common.HexToAddress("0x0000000000000000000000000000000000000A05")
	provider = common.HexToAddress("0x0000000000000000000000000000000000000B01")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000B02")
	relayer  = common.HexToAddress("0x0000000000000000000000000000000000000B03")
	rescuer  = common.HexToAddress("0x0000000000000000000000000000000000000B04")

	usdt = common.HexToAddress("0x0000000000000000000000000000000000001001")
	usdc = common.HexToAddress("0x0000000000000000000000000000000000001003")
	wbtc = common.HexToAddress("0x0000000000000000000000000000000000001002")
)

const start = uint64(1_700_000_000)

func units(n int64, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return scale.Mul(scale, big.NewInt(n))
}

// prices is a PriceReader backed by a map.
type prices struct {
	mu   sync.Mutex
	data map[common.Address]oracle.PriceData
}

func (p *prices) set(token common.Address, price *big.Int, valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[token] = oracle.PriceData{Price: price, Confidence: oracle.FullConfidence, IsValid: valid}
}

func (p *prices) GetPriceData(token common.Address) (oracle.PriceData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.data[token]
	if !ok {
		return oracle.PriceData{}, oracle.ErrTokenNotActive
	}
	return d, nil
}

type fixture struct {
	pool   *Pool
	ledger *ledger.Ledger
	prices *prices
	clock  *clock.Manual
	bus    *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewManual(start)
	bus := event.NewBus(c)
	l := ledger.New()
	require.NoError(t, l.RegisterToken(usdt, "USDT", 6))
	require.NoError(t, l.RegisterToken(usdc, "USDC", 6))
	require.NoError(t, l.RegisterToken(wbtc, "WBTC", 8))

	for _, who := range []common.Address{provider, alice, owner} {
		require.NoError(t, l.Mint(usdt, who, units(1_000_000, 6)))
		require.NoError(t, l.Mint(usdc, who, units(1_000_000, 6)))
		require.NoError(t, l.Mint(wbtc, who, units(100, 8)))
	}

	px := &prices{data: make(map[common.Address]oracle.PriceData)}
	p, err := New(Config{
		Owner:    owner,
		Guardian: guardian,
		Custody:  custody,
		Ledger:   l,
		Oracle:   px,
		Clock:    c,
		Events:   bus,
	})
	require.NoError(t, err)
	require.NoError(t, p.AddSupportedToken(owner, usdt, true))
	require.NoError(t, p.AddSupportedToken(owner, usdc, true))
	return &fixture{pool: p, ledger: l, prices: px, clock: c, bus: bus}
}

func (f *fixture) deadline() uint64 { return f.clock.Now() + 600 }

// fundStable deposits n of each stablecoin from provider.
func (f *fixture) fundStable(t *testing.T, n int64) *big.Int {
	t.Helper()
	minted, err := f.pool.AddLiquidity(provider, []*big.Int{units(n, 6), units(n, 6)}, nil, f.deadline())
	require.NoError(t, err)
	return minted
}

func TestNewDefaults(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, uint64(DefaultA), f.pool.Amplification())
	require.Equal(t, FeeConfig{SwapFee: DefaultSwapFee, MaxSlippageBps: DefaultMaxSlippage}, f.pool.Fees())

	_, err := New(Config{Owner: owner, Guardian: guardian, Ledger: f.ledger})
	require.ErrorIs(t, err, ErrInvalidAddress)
	tooHigh := uint64(MaxSwapFee + 1)
	_, err = New(Config{Owner: owner, Guardian: guardian, Custody: custody, Ledger: f.ledger, SwapFee: &tooHigh})
	require.ErrorIs(t, err, ErrFeeTooHigh)

	var zero uint64
	free, err := New(Config{Owner: owner, Guardian: guardian, Custody: custody, Ledger: f.ledger, SwapFee: &zero})
	require.NoError(t, err)
	require.Zero(t, free.Fees().SwapFee)
	_, err = New(Config{Owner: owner, Guardian: guardian, Custody: custody, Ledger: f.ledger, A: MaxAmplification + 1})
	require.ErrorIs(t, err, ErrInvalidAmplification)
}

func TestFeeBounds(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pool.SetSwapFee(owner, 1000))
	err := f.pool.SetSwapFee(owner, 1001)
	require.ErrorIs(t, err, ErrFeeTooHigh)
	require.ErrorIs(t, err, fault.ErrConfiguration)
	require.Equal(t, uint64(1000), f.pool.Fees().SwapFee)

	require.NoError(t, f.pool.SetMaxSlippage(owner, 5000))
	require.ErrorIs(t, f.pool.SetMaxSlippage(owner, 5001), ErrSlippageTooHigh)

	require.ErrorIs(t, f.pool.SetSwapFee(alice, 10), ErrNotOwner)
	require.ErrorIs(t, f.pool.SetAmplification(owner, 0), ErrInvalidAmplification)
	require.NoError(t, f.pool.SetAmplification(owner, 200))
}

func TestTokenRegistry(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.pool.AddSupportedToken(owner, usdt, true), ErrAlreadySupported)
	require.ErrorIs(t, f.pool.AddSupportedToken(owner, common.Address{}, true), ErrInvalidToken)
	require.ErrorIs(t, f.pool.AddSupportedToken(alice, wbtc, false), ErrNotOwner)
	require.ErrorIs(t, f.pool.RemoveSupportedToken(owner, usdc), ErrTooFewTokens)

	require.NoError(t, f.pool.AddSupportedToken(owner, wbtc, false))
	require.Len(t, f.pool.Tokens(), 3)

	f.fundStable(t, 1_000)
	require.ErrorIs(t, f.pool.RemoveSupportedToken(owner, usdc), ErrTokenHasBalance)
	require.NoError(t, f.pool.RemoveSupportedToken(owner, wbtc))
	require.False(t, f.pool.IsSupported(wbtc))
	require.ErrorIs(t, f.pool.RemoveSupportedToken(owner, wbtc), ErrTokenNotSupported)
	require.Equal(t, 2, f.bus.Count("TokenSupported")-2)
}

// Scenario B: a balanced 10k/10k stable pool quotes a 100 USDT swap within 1%.
func TestStableSwapBalanced(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 10_000)

	amountIn := units(100, 6)
	quoted, err := f.pool.CalculateSwap(0, 1, amountIn)
	require.NoError(t, err)
	require.True(t, quoted.Cmp(units(99, 6)) >= 0, "quoted %s", quoted)
	require.True(t, quoted.Cmp(amountIn) < 0, "fee must reduce output")

	before := f.ledger.BalanceOf(usdc, alice)
	out, err := f.pool.Swap(alice, usdt, usdc, amountIn, units(99, 6), f.deadline(), false)
	require.NoError(t, err)
	require.Equal(t, quoted, out)
	require.Equal(t, new(big.Int).Add(before, out), f.ledger.BalanceOf(usdc, alice))

	balances := f.pool.Balances()
	require.Equal(t, units(10_100, 6), balances[0])
	require.Equal(t, new(big.Int).Sub(units(10_000, 6), out), balances[1])
	require.Equal(t, balances[1], f.ledger.BalanceOf(usdc, custody))

	rec, ok := f.bus.Last("TokenSwapped")
	require.True(t, ok)
	ev := rec.Event.(TokenSwapped)
	require.Equal(t, alice, ev.User)
	require.Equal(t, out, ev.AmountOut)
	require.Positive(t, ev.Fee.Sign())
}

func TestSwapPreconditions(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 10_000)
	one := units(1, 6)

	_, err := f.pool.Swap(alice, usdt, usdt, one, nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrInvalidSwapPair)
	_, err = f.pool.Swap(alice, usdt, usdc, big.NewInt(0), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.pool.Swap(alice, usdt, usdc, one, nil, start-1, false)
	require.ErrorIs(t, err, ErrTransactionExpired)
	_, err = f.pool.Swap(alice, usdt, wbtc, one, nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrTokenNotSupported)
	_, err = f.pool.Swap(alice, usdt, usdc, one, nil, f.deadline(), true)
	require.ErrorIs(t, err, ErrGaslessUnavailable)
}

func TestSwapAtomicity(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 10_000)

	balances := f.pool.Balances()
	aliceUSDT := f.ledger.BalanceOf(usdt, alice)

	_, err := f.pool.Swap(alice, usdt, usdc, units(100, 6), units(100, 6), f.deadline(), false)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	require.ErrorIs(t, err, fault.ErrEconomicSafety)
	require.Equal(t, balances, f.pool.Balances())
	require.Equal(t, aliceUSDT, f.ledger.BalanceOf(usdt, alice))

	// Output larger than the pool can pay.
	_, err = f.pool.Swap(alice, usdt, usdc, units(900_000, 6), nil, f.deadline(), false)
	require.Error(t, err)
	require.Equal(t, balances, f.pool.Balances())

	// Caller cannot cover amountIn.
	broke := common.HexToAddress("0x0000000000000000000000000000000000000B09")
	_, err = f.pool.Swap(broke, usdt, usdc, units(10, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	require.Equal(t, balances, f.pool.Balances())
	require.Zero(t, f.bus.Count("TokenSwapped"))
}

// Guardian pauses, only the owner unpauses.
func TestPauseAsymmetry(t *testing.T) {
	f := newFixture(t)
	minted := f.fundStable(t, 10_000)

	require.ErrorIs(t, f.pool.Pause(owner), ErrNotGuardian)
	require.NoError(t, f.pool.Pause(guardian))
	require.ErrorIs(t, f.pool.Pause(guardian), ErrPaused)

	_, err := f.pool.Swap(alice, usdt, usdc, units(10, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrPaused)
	require.ErrorIs(t, err, fault.ErrState)
	_, err = f.pool.AddLiquidity(alice, []*big.Int{units(1, 6), units(1, 6)}, nil, f.deadline())
	require.ErrorIs(t, err, ErrPaused)

	require.ErrorIs(t, f.pool.Unpause(guardian), ErrNotOwner)
	require.ErrorIs(t, f.pool.Unpause(alice), ErrNotOwner)

	// Providers can exit while paused.
	half := new(big.Int).Rsh(minted, 1)
	_, err = f.pool.RemoveLiquidity(provider, half, nil, f.deadline())
	require.NoError(t, err)

	require.NoError(t, f.pool.Unpause(owner))
	require.ErrorIs(t, f.pool.Unpause(owner), ErrNotPaused)
	_, err = f.pool.Swap(alice, usdt, usdc, units(10, 6), nil, f.deadline(), false)
	require.NoError(t, err)
	require.Equal(t, 1, f.bus.Count("Paused"))
	require.Equal(t, 1, f.bus.Count("Unpaused"))
}

// Scenario E: a pause blocks swaps and leaves balances untouched across unpause.
func TestPauseUnpauseKeepsBalances(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 10_000)

	balances := f.pool.Balances()
	supply := f.pool.TotalSupply()
	aliceUSDT := f.ledger.BalanceOf(usdt, alice)
	aliceUSDC := f.ledger.BalanceOf(usdc, alice)

	require.NoError(t, f.pool.Pause(guardian))
	_, err := f.pool.Swap(alice, usdt, usdc, units(100, 6), units(95, 6), f.deadline(), false)
	require.ErrorIs(t, err, ErrPaused)
	require.True(t, f.pool.Paused())
	require.Equal(t, balances, f.pool.Balances())

	require.NoError(t, f.pool.Unpause(owner))
	require.False(t, f.pool.Paused())
	require.Equal(t, balances, f.pool.Balances())
	require.Equal(t, 0, supply.Cmp(f.pool.TotalSupply()))
	require.Equal(t, 0, aliceUSDT.Cmp(f.ledger.BalanceOf(usdt, alice)))
	require.Equal(t, 0, aliceUSDC.Cmp(f.ledger.BalanceOf(usdc, alice)))
	require.Zero(t, f.bus.Count("TokenSwapped"))

	out, err := f.pool.Swap(alice, usdt, usdc, units(100, 6), units(95, 6), f.deadline(), false)
	require.NoError(t, err)
	require.True(t, out.Cmp(units(99, 6)) >= 0, "out %s", out)
	require.Equal(t, 1, f.bus.Count("TokenSwapped"))
}

func TestVolatileSwapUsesOracle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.AddSupportedToken(owner, wbtc, false))
	f.prices.set(wbtc, units(60_000, 18), true)

	_, err := f.pool.AddLiquidity(provider, []*big.Int{units(600_000, 6), big.NewInt(0), units(10, 8)}, nil, f.deadline())
	require.NoError(t, err)

	price, err := f.pool.GetTokenPrice(wbtc)
	require.NoError(t, err)
	require.Equal(t, units(60_000, 18), price)

	out, err := f.pool.Swap(alice, usdt, wbtc, units(1_000, 6), nil, f.deadline(), false)
	require.NoError(t, err)
	// 1000 USD at 60k is 1_666_666 sats before the 0.3% fee.
	require.True(t, out.Cmp(big.NewInt(1_650_000)) > 0, "out %s", out)
	require.True(t, out.Cmp(big.NewInt(1_666_667)) < 0, "out %s", out)

	stats, err := f.pool.GetPoolStats()
	require.NoError(t, err)
	require.Equal(t, 3, stats.TokenCount)
	require.Equal(t, uint64(DefaultA), stats.CurrentA)
	require.True(t, stats.TotalValue.Cmp(units(1_200_000, 18)) > 0)
}

func TestStalePriceBlocksVolatileLegOnly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pool.AddSupportedToken(owner, wbtc, false))
	f.prices.set(wbtc, units(60_000, 18), true)
	_, err := f.pool.AddLiquidity(provider, []*big.Int{units(600_000, 6), units(600_000, 6), units(10, 8)}, nil, f.deadline())
	require.NoError(t, err)

	f.prices.set(wbtc, units(60_000, 18), false)

	_, err = f.pool.Swap(alice, usdt, wbtc, units(100, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrPriceFeedStale)
	_, err = f.pool.Swap(alice, wbtc, usdc, units(1, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrPriceFeedStale)
	_, err = f.pool.GetTokenPrice(wbtc)
	require.ErrorIs(t, err, ErrPriceFeedStale)

	_, err = f.pool.Swap(alice, usdt, usdc, units(100, 6), nil, f.deadline(), false)
	require.NoError(t, err)
}

func TestMaxSlippageAgainstFairPrice(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 1_000)
	require.NoError(t, f.pool.SetMaxSlippage(owner, 100))

	// 900 into a 1000/1000 pool loses about 2% to the curve.
	_, err := f.pool.Swap(alice, usdt, usdc, units(900, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	require.NoError(t, f.pool.SetMaxSlippage(owner, 500))
	_, err = f.pool.Swap(alice, usdt, usdc, units(900, 6), nil, f.deadline(), false)
	require.NoError(t, err)
}

func TestDailyVolumeCap(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 100_000)
	require.NoError(t, f.pool.SetDailyVolumeCap(owner, alice, units(150, 18)))

	_, err := f.pool.Swap(alice, usdt, usdc, units(100, 6), nil, f.deadline(), false)
	require.NoError(t, err)
	require.Equal(t, units(100, 18), f.pool.DailyVolume(alice))

	_, err = f.pool.Swap(alice, usdc, usdt, units(100, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrDailyVolumeExceeded)

	// Uncapped users are unaffected.
	_, err = f.pool.Swap(provider, usdt, usdc, units(1_000, 6), nil, f.deadline(), false)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	require.Zero(t, f.pool.DailyVolume(alice).Sign())
	_, err = f.pool.Swap(alice, usdc, usdt, units(100, 6), nil, f.deadline(), false)
	require.NoError(t, err)

	require.NoError(t, f.pool.SetDailyVolumeCap(owner, alice, big.NewInt(0)))
	require.Zero(t, f.pool.DailyVolumeCap(alice).Sign())
}

func TestGaslessSwap(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 10_000)
	require.NoError(t, f.pool.SetRelayer(owner, relayer))
	require.NoError(t, f.pool.SetUSDTAddress(owner, usdt))

	_, err := f.pool.Swap(alice, usdc, usdt, units(10, 6), nil, f.deadline(), true)
	require.ErrorIs(t, err, ErrGaslessUnavailable)

	_, err = f.pool.Swap(alice, usdt, usdc, units(10, 6), nil, f.deadline(), true)
	require.NoError(t, err)
	rec, ok := f.bus.Last("TokenSwapped")
	require.True(t, ok)
	require.True(t, rec.Event.(TokenSwapped).Gasless)
}

func TestLiquidityRoundTrip(t *testing.T) {
	f := newFixture(t)
	minted := f.fundStable(t, 1_000)
	require.Equal(t, units(2_000, 18), minted)
	require.Equal(t, minted, f.pool.LPBalanceOf(provider))

	vp, err := f.pool.GetVirtualPrice()
	require.NoError(t, err)
	require.Equal(t, units(1, 18), vp)

	// A balanced second deposit pays no imbalance fee.
	second, err := f.pool.AddLiquidity(alice, []*big.Int{units(500, 6), units(500, 6)}, nil, f.deadline())
	require.NoError(t, err)
	require.Equal(t, units(1_000, 18), second)

	// A one-sided deposit mints less than its value.
	skewed, err := f.pool.AddLiquidity(alice, []*big.Int{units(500, 6), big.NewInt(0)}, nil, f.deadline())
	require.NoError(t, err)
	require.True(t, skewed.Cmp(units(500, 18)) < 0, "skewed %s", skewed)

	_, err = f.pool.AddLiquidity(alice, []*big.Int{units(1, 6), units(1, 6)}, units(1_000, 18), f.deadline())
	require.ErrorIs(t, err, ErrSlippageExceeded)
	_, err = f.pool.AddLiquidity(alice, []*big.Int{units(1, 6)}, nil, f.deadline())
	require.ErrorIs(t, err, ErrInvalidAmounts)
	_, err = f.pool.AddLiquidity(alice, []*big.Int{big.NewInt(0), big.NewInt(0)}, nil, f.deadline())
	require.ErrorIs(t, err, ErrInvalidAmounts)

	usdtBefore := f.ledger.BalanceOf(usdt, provider)
	supply := f.pool.TotalSupply()
	balances := f.pool.Balances()
	out, err := f.pool.RemoveLiquidity(provider, minted, nil, f.deadline())
	require.NoError(t, err)
	want := new(big.Int).Mul(balances[0], minted)
	want.Div(want, supply)
	require.Equal(t, want, out[0])
	require.Equal(t, new(big.Int).Add(usdtBefore, out[0]), f.ledger.BalanceOf(usdt, provider))
	require.Zero(t, f.pool.LPBalanceOf(provider).Sign())

	_, err = f.pool.RemoveLiquidity(provider, big.NewInt(1), nil, f.deadline())
	require.ErrorIs(t, err, ErrInsufficientShares)

	aliceShares := f.pool.LPBalanceOf(alice)
	huge := []*big.Int{units(1_000_000, 6), big.NewInt(0)}
	_, err = f.pool.RemoveLiquidity(alice, aliceShares, huge, f.deadline())
	require.ErrorIs(t, err, ErrSlippageExceeded)
	require.Equal(t, aliceShares, f.pool.LPBalanceOf(alice))
}

func TestSeedLiquidity(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.pool.SeedLiquidity(alice, usdt, units(10, 6)), ErrNotOwner)
	require.NoError(t, f.pool.SeedLiquidity(owner, usdt, units(1_000, 6)))
	require.NoError(t, f.pool.SeedLiquidity(owner, usdc, units(1_000, 6)))

	require.Equal(t, units(1_000, 6), f.pool.Balances()[0])
	require.Positive(t, f.pool.LPBalanceOf(owner).Sign())
	require.Equal(t, f.pool.TotalSupply(), f.pool.LPBalanceOf(owner))
	require.Equal(t, 2, f.bus.Count("LiquiditySeeded"))
}

func TestEmergencyRescue(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 1_000)

	err := f.pool.EmergencyRescue(guardian, usdt, units(100, 6), rescuer)
	require.ErrorIs(t, err, ErrNoEmergency)
	require.ErrorIs(t, f.pool.SetEmergencyStop(alice, true), ErrNotGuardian)

	require.NoError(t, f.pool.SetEmergencyStop(guardian, true))
	_, err = f.pool.Swap(alice, usdt, usdc, units(1, 6), nil, f.deadline(), false)
	require.ErrorIs(t, err, ErrEmergencyStop)

	require.ErrorIs(t, f.pool.EmergencyRescue(owner, usdt, units(100, 6), rescuer), ErrNotGuardian)
	require.NoError(t, f.pool.EmergencyRescue(guardian, usdt, units(100, 6), rescuer))
	require.Equal(t, units(100, 6), f.ledger.BalanceOf(usdt, rescuer))
	require.Equal(t, units(900, 6), f.pool.Balances()[0])
	require.Equal(t, f.ledger.BalanceOf(usdt, custody), f.pool.Balances()[0])
	require.Equal(t, 1, f.bus.Count("EmergencyRescue"))
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.fundStable(t, 1_000)
	require.NoError(t, f.pool.SetDailyVolumeCap(owner, alice, units(500, 18)))
	_, err := f.pool.Swap(alice, usdt, usdc, units(100, 6), nil, f.deadline(), false)
	require.NoError(t, err)

	snap := f.pool.Snapshot()

	g := newFixture(t)
	require.NoError(t, g.pool.Restore(snap))
	require.Equal(t, f.pool.Balances(), g.pool.Balances())
	require.Equal(t, f.pool.TotalSupply(), g.pool.TotalSupply())
	require.Equal(t, f.pool.LPBalanceOf(provider), g.pool.LPBalanceOf(provider))
	require.Equal(t, units(500, 18), g.pool.DailyVolumeCap(alice))
	require.Equal(t, units(100, 18), g.pool.DailyVolume(alice))
	require.Equal(t, snap, g.pool.Snapshot())

	snap.A = 0
	require.ErrorIs(t, g.pool.Restore(snap), ErrInvalidAmplification)
}
