// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/swapbridge/bridge"
	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/fault"
	"github.com/luxfi/swapbridge/ledger"
	"github.com/luxfi/swapbridge/oracle"
	"github.com/luxfi/swapbridge/stableswap"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	guardian = common.HexToAddress("0x0000000000000000000000000000000000000A02")
	custody  = common.HexToAddress("0x0000000000000000000000000000000000000A06")
	relayer  = common.HexToAddress("0x0000000000000000000000000000000000000A07")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000B02")
	usdt     = common.HexToAddress("0x0000000000000000000000000000000000001001")
	weth     = common.HexToAddress("0x0000000000000000000000000000000000001003")
)

func testLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.RegisterToken(usdt, "USDT", 6))
	require.NoError(t, l.Mint(usdt, alice, big.NewInt(5_000_000_000)))
	require.NoError(t, l.Mint(ledger.Native, alice, new(big.Int).Mul(big.NewInt(3), oracle.PriceUnit)))
	return l
}

func TestKeyIsStable(t *testing.T) {
	require.Len(t, Key(ComponentLedger), 32)
	require.Equal(t, Key(ComponentPool), Key(ComponentPool))
	require.NotEqual(t, Key(ComponentPool), Key(ComponentBridge))
}

func TestLedgerRoundTrip(t *testing.T) {
	s := NewMemory(nil)
	defer s.Close()

	want := testLedger(t).Snapshot()
	require.NoError(t, s.SaveLedger(want, 1_700_000_000))

	ok, err := s.Has(ComponentLedger)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.LoadLedger()
	require.NoError(t, err)
	require.Equal(t, want, got)

	saved, err := s.SavedAt(ComponentLedger)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), saved)

	restored := ledger.New()
	require.NoError(t, restored.Restore(got))
	require.Equal(t, big.NewInt(5_000_000_000), restored.BalanceOf(usdt, alice))
	require.Equal(t, big.NewInt(5_000_000_000), restored.TotalSupply(usdt))
}

func TestOracleRoundTrip(t *testing.T) {
	c := clock.NewManual(1_700_000_000)
	o, err := oracle.New(oracle.Config{Owner: owner, Guardian: guardian, Clock: c})
	require.NoError(t, err)
	feeds := map[common.Address]*oracle.FixedFeed{}
	require.NoError(t, o.AddToken(owner, weth, 3, 500, 3600, false))
	for i := 1; i <= 3; i++ {
		addr := common.BigToAddress(big.NewInt(int64(0xF00 + i)))
		feeds[addr] = oracle.NewFixedFeed(addr, new(big.Int).Mul(big.NewInt(2_000), oracle.PriceUnit), c)
		require.NoError(t, o.AddPriceSource(owner, weth, feeds[addr]))
	}
	_, err = o.UpdatePrice(context.Background(), owner, weth)
	require.NoError(t, err)

	s := NewMemory(nil)
	require.NoError(t, s.SaveOracle(o.Snapshot(), c.Now()))
	st, err := s.LoadOracle()
	require.NoError(t, err)

	restored, err := oracle.New(oracle.Config{Owner: owner, Guardian: guardian, Clock: c})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(st, func(_, source common.Address) (oracle.PriceFeed, bool) {
		f, ok := feeds[source]
		return f, ok
	}))

	price, err := restored.GetPrice(weth)
	require.NoError(t, err)
	require.Equal(t, 0, price.Cmp(new(big.Int).Mul(big.NewInt(2_000), oracle.PriceUnit)))
	require.Len(t, restored.GetPriceSources(weth), 3)
}

func TestBridgeRoundTrip(t *testing.T) {
	c := clock.NewManual(1_700_000_000)
	l := testLedger(t)
	transport := bridge.NewLoopbackTransport(relayer)
	cfg := bridge.Config{Owner: owner, Guardian: guardian, Custody: custody, Ledger: l, Transport: transport, Clock: c}
	h, err := bridge.New(cfg)
	require.NoError(t, err)
	require.NoError(t, h.SetSupportedToken(owner, usdt, true))
	require.NoError(t, h.SetStablecoin(owner, usdt, true))
	tx, err := h.BridgeOut(context.Background(), alice, usdt, big.NewInt(500_000_000), alice, bridge.ChainEthereum)
	require.NoError(t, err)

	s := NewMemory(nil)
	require.NoError(t, s.SaveBridge(h.Snapshot(), c.Now()))
	st, err := s.LoadBridge()
	require.NoError(t, err)

	restored, err := bridge.New(cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(st))

	got, err := restored.GetBridgeTransaction(tx.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Amount.Cmp(tx.Amount))
	require.Equal(t, 0, got.Fee.Cmp(tx.Fee))
	require.Equal(t, tx.ExternalRef, got.ExternalRef)
	require.Equal(t, []uint64{tx.ID}, restored.GetUserBridges(alice))
	require.Equal(t, 0, restored.CollectedFees(usdt).Cmp(h.CollectedFees(usdt)))
}

func TestMissingAndMismatched(t *testing.T) {
	kv := memdb.New()
	s := New(DatabaseKV{kv}, nil)

	_, err := s.LoadPool()
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, fault.KindState, fault.KindOf(err))
	ok, err := s.Has(ComponentPool)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Put(Key(ComponentLedger), []byte(`{"version":2,"component":"ledger","data":{}}`)))
	_, err = s.LoadLedger()
	require.ErrorIs(t, err, ErrSchemaVersion)

	require.NoError(t, kv.Put(Key(ComponentBridge), []byte(`{"version":1,"component":"pool","data":{}}`)))
	_, err = s.LoadBridge()
	require.ErrorIs(t, err, ErrSchemaVersion)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.SaveLedger(ledger.State{}, 0), ErrClosed)
	require.NoError(t, s.Close())
}

func TestPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewPebble(dir, nil)
	require.NoError(t, err)
	want := testLedger(t).Snapshot()
	require.NoError(t, s.SaveLedger(want, 42))
	require.NoError(t, s.Close())

	s, err = NewPebble(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadLedger()
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = s.LoadOracle()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ComponentLedger))
	ok, err := s.Has(ComponentLedger)
	require.NoError(t, err)
	require.False(t, ok)
}

var errWrite = errors.New("disk full")

// failingKV rejects every single-key write and, once failBatch is set,
// every batch.
type failingKV struct {
	KV
	failBatch bool
	batches   [][]Entry
}

func (f *failingKV) Put([]byte, []byte) error { return errWrite }

func (f *failingKV) PutBatch(entries []Entry) error {
	if f.failBatch {
		return errWrite
	}
	f.batches = append(f.batches, entries)
	return f.KV.PutBatch(entries)
}

func testBundle(t *testing.T) Bundle {
	t.Helper()
	o, err := oracle.New(oracle.Config{Owner: owner, Guardian: guardian, Clock: clock.NewManual(1_700_000_000)})
	require.NoError(t, err)
	return Bundle{
		Ledger: testLedger(t).Snapshot(),
		Oracle: o.Snapshot(),
		Pool:   stableswap.State{},
		Bridge: bridge.State{},
	}
}

func TestSaveAllWritesOneBatch(t *testing.T) {
	kv := &failingKV{KV: DatabaseKV{memdb.New()}}
	s := New(kv, nil)
	b := testBundle(t)

	require.NoError(t, s.SaveAll(b, 10))
	require.Len(t, kv.batches, 1)
	require.Len(t, kv.batches[0], 4)

	for _, component := range []string{ComponentLedger, ComponentOracle, ComponentPool, ComponentBridge} {
		at, err := s.SavedAt(component)
		require.NoError(t, err, component)
		require.Equal(t, uint64(10), at, component)
	}
	got, err := s.LoadLedger()
	require.NoError(t, err)
	require.Equal(t, b.Ledger, got)
}

func TestSaveAllFailureKeepsPrevious(t *testing.T) {
	kv := &failingKV{KV: DatabaseKV{memdb.New()}}
	s := New(kv, nil)
	b := testBundle(t)
	require.NoError(t, s.SaveAll(b, 10))

	kv.failBatch = true
	b.Ledger = ledger.State{}
	err := s.SaveAll(b, 20)
	require.ErrorIs(t, err, errWrite)

	for _, component := range []string{ComponentLedger, ComponentOracle, ComponentPool, ComponentBridge} {
		at, err := s.SavedAt(component)
		require.NoError(t, err, component)
		require.Equal(t, uint64(10), at, component)
	}
	got, err := s.LoadLedger()
	require.NoError(t, err)
	require.Equal(t, testLedger(t).Snapshot(), got)

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.SaveAll(b, 30), ErrClosed)
}

func TestPebbleSaveAll(t *testing.T) {
	dir := t.TempDir()
	b := testBundle(t)

	s, err := NewPebble(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveAll(b, 7))
	require.NoError(t, s.Close())

	s, err = NewPebble(dir, nil)
	require.NoError(t, err)
	defer s.Close()
	for _, component := range []string{ComponentLedger, ComponentOracle, ComponentPool, ComponentBridge} {
		at, err := s.SavedAt(component)
		require.NoError(t, err, component)
		require.Equal(t, uint64(7), at, component)
	}
}
