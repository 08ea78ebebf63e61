// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine assembles the ledger, oracle, pool and bridge from a
// configuration and keeps their state in a store.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/swapbridge/bridge"
	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/config"
	"github.com/luxfi/swapbridge/event"
	"github.com/luxfi/swapbridge/fault"
	"github.com/luxfi/swapbridge/ledger"
	"github.com/luxfi/swapbridge/oracle"
	"github.com/luxfi/swapbridge/stableswap"
	"github.com/luxfi/swapbridge/store"
)

// Engine errors
var (
	ErrUnknownToken   = fault.Precondition("unknown token")
	ErrUnknownAddress = fault.Precondition("unknown address")
)

type feedKey struct {
	token  common.Address
	source common.Address
}

// Option customises Open.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.Clock = c }
}

// WithLogger replaces the level-derived logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithStore replaces the configured storage backend.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.Store = s }
}

// Engine owns one deployment of every component.
type Engine struct {
	Config    *config.Config
	Clock     clock.Clock
	Events    *event.Bus
	Ledger    *ledger.Ledger
	Oracle    *oracle.PriceOracle
	Pool      *stableswap.Pool
	Bridge    *bridge.Handler
	Transport *bridge.LoopbackTransport
	Paymaster *bridge.AllowListPaymaster
	Store     *store.Store

	Owner    common.Address
	Guardian common.Address

	roles   map[string]common.Address
	symbols map[string]common.Address
	feeds   map[feedKey]*oracle.FixedFeed
	log     log.Logger
}

// Open builds every component from cfg and restores any stored state. On a
// fresh store the configured mints are applied.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		Config:  cfg,
		roles:   make(map[string]common.Address),
		symbols: make(map[string]common.Address),
		feeds:   make(map[feedKey]*oracle.FixedFeed),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Clock == nil {
		e.Clock = clock.System{}
	}
	if e.log == nil {
		e.log = log.NewTestLogger(levelOf(cfg.Log.Level))
	}
	e.Events = event.NewBus(e.Clock)

	if err := e.resolveRoles(); err != nil {
		return nil, err
	}
	if err := e.buildLedger(); err != nil {
		return nil, err
	}
	if err := e.buildOracle(); err != nil {
		return nil, err
	}
	if err := e.buildPool(); err != nil {
		return nil, err
	}
	if err := e.buildBridge(); err != nil {
		return nil, err
	}
	if err := e.openStore(); err != nil {
		return nil, err
	}

	restored, err := e.restore()
	if err != nil {
		e.Store.Close()
		return nil, err
	}
	if !restored {
		if err := e.applyMints(); err != nil {
			e.Store.Close()
			return nil, err
		}
	}
	e.log.Info("engine opened",
		"backend", cfg.Storage.Backend,
		"tokens", len(cfg.Tokens),
		"restored", restored,
	)
	return e, nil
}

func levelOf(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func (e *Engine) resolveRoles() error {
	r := e.Config.Roles
	for name, ref := range map[string]string{
		"owner":          r.Owner,
		"guardian":       r.Guardian,
		"pool-custody":   r.PoolCustody,
		"bridge-custody": r.BridgeCustody,
		"transport":      r.Transport,
		"bitcoin-bridge": r.BitcoinBridge,
		"relayer":        r.Relayer,
	} {
		if ref == "" {
			continue
		}
		addr, err := config.ParseAddress(ref)
		if err != nil {
			return fmt.Errorf("%w: role %s: %v", config.ErrInvalidConfig, name, err)
		}
		e.roles[name] = addr
	}
	e.Owner = e.roles["owner"]
	e.Guardian = e.roles["guardian"]
	if e.roles["pool-custody"] == e.roles["bridge-custody"] {
		return fmt.Errorf("%w: pool and bridge custody must differ", config.ErrInvalidConfig)
	}
	return nil
}

func (e *Engine) buildLedger() error {
	e.Ledger = ledger.New()
	for _, t := range e.Config.Tokens {
		addr := common.HexToAddress(t.Address)
		if err := e.Ledger.RegisterToken(addr, t.Symbol, t.Decimals); err != nil {
			return err
		}
		e.symbols[strings.ToUpper(t.Symbol)] = addr
	}
	return nil
}

func (e *Engine) buildOracle() error {
	timeout := time.Duration(e.Config.Oracle.SourceTimeoutMs) * time.Millisecond
	o, err := oracle.New(oracle.Config{
		Owner:         e.Owner,
		Guardian:      e.Guardian,
		Clock:         e.Clock,
		Log:           e.log,
		Events:        e.Events,
		SourceTimeout: timeout,
	})
	if err != nil {
		return err
	}
	e.Oracle = o

	for _, ref := range e.Config.Roles.Updaters {
		addr, err := e.Address(ref)
		if err != nil {
			return err
		}
		if err := o.AddAuthorizedUpdater(e.Owner, addr); err != nil {
			return err
		}
	}

	byToken := make(map[common.Address][]config.FeedConfig)
	for _, f := range e.Config.Feeds {
		info, err := e.Token(f.Token)
		if err != nil {
			return err
		}
		byToken[info.Address] = append(byToken[info.Address], f)
	}
	for _, t := range e.Config.Tokens {
		addr := common.HexToAddress(t.Address)
		feeds := byToken[addr]
		if len(feeds) == 0 {
			continue
		}
		if err := o.AddToken(
			e.Owner,
			addr,
			t.OracleMinSources(),
			t.OracleMaxDeviationBps(),
			t.OracleHeartbeat(),
			t.Stablecoin,
		); err != nil {
			return fmt.Errorf("oracle token %s: %w", t.Symbol, err)
		}
		for _, f := range feeds {
			source := common.HexToAddress(f.Source)
			price, err := config.ParseAmount(f.Price, 18)
			if err != nil {
				return fmt.Errorf("%w: feed %s price: %v", config.ErrInvalidConfig, f.Source, err)
			}
			feed := oracle.NewFixedFeed(source, price, e.Clock)
			if err := o.AddPriceSource(e.Owner, addr, feed); err != nil {
				return fmt.Errorf("oracle source %s for %s: %w", f.Source, t.Symbol, err)
			}
			e.feeds[feedKey{token: addr, source: source}] = feed
		}
	}
	return nil
}

func (e *Engine) buildPool() error {
	pc := e.Config.Pool
	p, err := stableswap.New(stableswap.Config{
		Owner:          e.Owner,
		Guardian:       e.Guardian,
		Custody:        e.roles["pool-custody"],
		Ledger:         e.Ledger,
		Oracle:         e.Oracle,
		Clock:          e.Clock,
		Log:            e.log,
		Events:         e.Events,
		A:              pc.A,
		SwapFee:        &pc.SwapFee,
		MaxSlippageBps: pc.MaxSlippageBps,
	})
	if err != nil {
		return err
	}
	e.Pool = p

	for _, t := range e.Config.Tokens {
		if !t.Pool {
			continue
		}
		if err := p.AddSupportedToken(e.Owner, common.HexToAddress(t.Address), t.Stablecoin); err != nil {
			return fmt.Errorf("pool token %s: %w", t.Symbol, err)
		}
	}
	if relayer, ok := e.roles["relayer"]; ok {
		if err := p.SetRelayer(e.Owner, relayer); err != nil {
			return err
		}
	}
	if pc.USDT != "" {
		info, err := e.Token(pc.USDT)
		if err != nil {
			return err
		}
		if err := p.SetUSDTAddress(e.Owner, info.Address); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) buildBridge() error {
	bc := e.Config.Bridge
	e.Transport = bridge.NewLoopbackTransport(e.roles["transport"])

	var usdt common.Address
	if bc.USDT != "" {
		info, err := e.Token(bc.USDT)
		if err != nil {
			return err
		}
		usdt = info.Address
	}
	e.Paymaster = bridge.NewAllowListPaymaster(usdt)

	h, err := bridge.New(bridge.Config{
		Owner:     e.Owner,
		Guardian:  e.Guardian,
		Custody:   e.roles["bridge-custody"],
		Ledger:    e.Ledger,
		Oracle:    e.Oracle,
		Transport: e.Transport,
		Paymaster: e.Paymaster,
		Clock:     e.Clock,
		Log:       e.log,
		Events:    e.Events,
		BridgeFee: &bc.FeeBps,
		Chains:    bc.Chains,
	})
	if err != nil {
		return err
	}
	e.Bridge = h

	for _, t := range e.Config.Tokens {
		if !t.Bridge {
			continue
		}
		addr := common.HexToAddress(t.Address)
		if err := h.SetSupportedToken(e.Owner, addr, true); err != nil {
			return fmt.Errorf("bridge token %s: %w", t.Symbol, err)
		}
		if t.Stablecoin {
			if err := h.SetStablecoin(e.Owner, addr, true); err != nil {
				return err
			}
		}
		if t.BridgeMin != "" {
			lo, err := config.ParseAmount(t.BridgeMin, t.Decimals)
			if err != nil {
				return fmt.Errorf("%w: %s bridge_min: %v", config.ErrInvalidConfig, t.Symbol, err)
			}
			hi, err := config.ParseAmount(t.BridgeMax, t.Decimals)
			if err != nil {
				return fmt.Errorf("%w: %s bridge_max: %v", config.ErrInvalidConfig, t.Symbol, err)
			}
			if err := h.SetTokenLimits(e.Owner, addr, lo, hi); err != nil {
				return fmt.Errorf("bridge limits %s: %w", t.Symbol, err)
			}
		}
	}
	for _, cf := range bc.ChainFees {
		if err := h.SetChainBridgeFee(e.Owner, cf.Chain, cf.Bps); err != nil {
			return fmt.Errorf("chain %d fee: %w", cf.Chain, err)
		}
	}
	if usdt != (common.Address{}) {
		if err := h.SetUSDTAddress(e.Owner, usdt); err != nil {
			return err
		}
	}
	if bc.BTCToken != "" {
		info, err := e.Token(bc.BTCToken)
		if err != nil {
			return err
		}
		if err := h.SetBitcoinToken(e.Owner, info.Address); err != nil {
			return err
		}
	}
	if addr, ok := e.roles["bitcoin-bridge"]; ok {
		if err := h.SetBitcoinBridge(e.Owner, addr); err != nil {
			return err
		}
	}
	for _, ref := range bc.Gasless {
		addr, err := e.Address(ref)
		if err != nil {
			return err
		}
		e.Paymaster.Allow(addr, true)
	}
	return nil
}

func (e *Engine) openStore() error {
	if e.Store != nil {
		return nil
	}
	switch e.Config.Storage.Backend {
	case config.BackendPebble:
		s, err := store.NewPebble(e.Config.Storage.Path, e.log)
		if err != nil {
			return err
		}
		e.Store = s
	default:
		e.Store = store.NewMemory(e.log)
	}
	return nil
}

// restore loads every stored component. It reports false when the store
// holds no ledger yet.
func (e *Engine) restore() (bool, error) {
	ls, err := e.Store.LoadLedger()
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := e.Ledger.Restore(ls); err != nil {
		return false, fmt.Errorf("restore ledger: %w", err)
	}

	if ost, err := e.Store.LoadOracle(); err == nil {
		if err := e.Oracle.Restore(ost, e.resolveFeed); err != nil {
			return false, fmt.Errorf("restore oracle: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if ps, err := e.Store.LoadPool(); err == nil {
		if err := e.Pool.Restore(ps); err != nil {
			return false, fmt.Errorf("restore pool: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	if bs, err := e.Store.LoadBridge(); err == nil {
		if err := e.Bridge.Restore(bs); err != nil {
			return false, fmt.Errorf("restore bridge: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	return true, nil
}

func (e *Engine) resolveFeed(token, source common.Address) (oracle.PriceFeed, bool) {
	f, ok := e.feeds[feedKey{token: token, source: source}]
	if !ok {
		return nil, false
	}
	return f, true
}

func (e *Engine) applyMints() error {
	for _, m := range e.Config.Mints {
		info, err := e.Token(m.Token)
		if err != nil {
			return err
		}
		holder, err := e.Address(m.Holder)
		if err != nil {
			return err
		}
		amount, err := config.ParseAmount(m.Amount, info.Decimals)
		if err != nil {
			return fmt.Errorf("%w: mint %s: %v", config.ErrInvalidConfig, m.Token, err)
		}
		if err := e.Ledger.Mint(info.Address, holder, amount); err != nil {
			return err
		}
	}
	return nil
}

// Save persists every component in one batch.
func (e *Engine) Save() error {
	return e.Store.SaveAll(store.Bundle{
		Ledger: e.Ledger.Snapshot(),
		Oracle: e.Oracle.Snapshot(),
		Pool:   e.Pool.Snapshot(),
		Bridge: e.Bridge.Snapshot(),
	}, e.Clock.Now())
}

// Close saves state and closes the store.
func (e *Engine) Close() error {
	err := e.Save()
	if cerr := e.Store.Close(); err == nil {
		err = cerr
	}
	return err
}
