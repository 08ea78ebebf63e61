// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/event"
)

// Config wires a PriceOracle to its principals and collaborators.
type Config struct {
	Owner         common.Address
	Guardian      common.Address
	Clock         clock.Clock
	Log           log.Logger
	Events        event.Emitter
	SourceTimeout time.Duration
}

type tokenState struct {
	config  TokenConfig
	sources []PriceFeed

	latest    PriceSnapshot
	hasLatest bool

	history  []Observation
	appended uint64 // observations ever appended, keys the TWAP cache

	breaker EmergencyOverride
}

type twapKey struct {
	token    common.Address
	window   uint64
	now      uint64
	appended uint64
}

// PriceOracle computes consensus prices from registered feeds.
type PriceOracle struct {
	owner    common.Address
	guardian common.Address
	updaters map[common.Address]bool
	paused   bool

	tokens map[common.Address]*tokenState

	clock         clock.Clock
	log           log.Logger
	events        event.Emitter
	sourceTimeout time.Duration
	twapCache     *lru.Cache[twapKey, *big.Int]

	mu sync.RWMutex
}

// New creates an oracle. The owner is an authorized updater from the start.
func New(cfg Config) (*PriceOracle, error) {
	if cfg.Owner == (common.Address{}) || cfg.Guardian == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Log == nil {
		cfg.Log = log.NewTestLogger(log.InfoLevel)
	}
	if cfg.Events == nil {
		cfg.Events = event.Discard{}
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	cache, err := lru.New[twapKey, *big.Int](twapCacheSize)
	if err != nil {
		return nil, err
	}
	return &PriceOracle{
		owner:         cfg.Owner,
		guardian:      cfg.Guardian,
		updaters:      map[common.Address]bool{cfg.Owner: true},
		tokens:        make(map[common.Address]*tokenState),
		clock:         cfg.Clock,
		log:           cfg.Log,
		events:        cfg.Events,
		sourceTimeout: cfg.SourceTimeout,
		twapCache:     cache,
	}, nil
}

// Owner returns the configuration principal.
func (o *PriceOracle) Owner() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.owner
}

// Guardian returns the emergency principal.
func (o *PriceOracle) Guardian() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.guardian
}

// Paused reports whether price updates are blocked.
func (o *PriceOracle) Paused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

func (o *PriceOracle) onlyOwner(caller common.Address) error {
	if caller != o.owner {
		return ErrNotOwner
	}
	return nil
}

func (o *PriceOracle) onlyGuardian(caller common.Address) error {
	if caller != o.guardian {
		return ErrNotGuardian
	}
	return nil
}

// =========================================================================
// Token and source configuration
// =========================================================================

// AddToken configures aggregation for token. Re-adding a token replaces its
// policy and reactivates it while keeping sources and history.
func (o *PriceOracle) AddToken(
	caller common.Address,
	token common.Address,
	minSources uint64,
	maxDeviationBps uint64,
	heartbeatSeconds uint64,
	isStablecoin bool,
) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return ErrInvalidToken
	}
	if minSources < MinSourcesFloor {
		return fmt.Errorf("%w: %d < %d", ErrTooFewSources, minSources, MinSourcesFloor)
	}
	if maxDeviationBps == 0 || maxDeviationBps > BasisPoints {
		return fmt.Errorf("%w: max deviation %d bps", ErrInvalidConfig, maxDeviationBps)
	}
	if heartbeatSeconds == 0 {
		return fmt.Errorf("%w: zero heartbeat", ErrInvalidConfig)
	}

	cfg := TokenConfig{
		Token:            token,
		IsStablecoin:     isStablecoin,
		MinSources:       minSources,
		MaxDeviationBps:  maxDeviationBps,
		HeartbeatSeconds: heartbeatSeconds,
		IsActive:         true,
	}
	ts := o.tokens[token]
	if ts == nil {
		ts = &tokenState{breaker: EmergencyOverride{Price: new(big.Int)}}
		o.tokens[token] = ts
	}
	ts.config = cfg

	o.log.Info("oracle token configured",
		"token", token.Hex(),
		"minSources", minSources,
		"maxDeviationBps", maxDeviationBps,
		"heartbeat", heartbeatSeconds,
		"stablecoin", isStablecoin,
	)
	pending.Add(TokenAdded{Token: token, Config: cfg})
	return nil
}

// DeactivateToken stops quotes for token until it is added again.
func (o *PriceOracle) DeactivateToken(caller, token common.Address) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	ts, err := o.activeToken(token)
	if err != nil {
		return err
	}
	ts.config.IsActive = false
	pending.Add(TokenDeactivated{Token: token})
	return nil
}

// AddPriceSource registers feed for token.
func (o *PriceOracle) AddPriceSource(caller, token common.Address, feed PriceFeed) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	ts, err := o.activeToken(token)
	if err != nil {
		return err
	}
	if feed == nil || feed.Address() == (common.Address{}) {
		return ErrInvalidSource
	}
	for _, s := range ts.sources {
		if s.Address() == feed.Address() {
			return fmt.Errorf("%w: %s", ErrSourceAlreadyExists, feed.Address().Hex())
		}
	}
	ts.sources = append(ts.sources, feed)
	pending.Add(SourceAdded{Token: token, Source: feed.Address()})
	return nil
}

// RemovePriceSource unregisters a feed. Dropping below MinSources is allowed;
// updates then fail until enough sources are registered again.
func (o *PriceOracle) RemovePriceSource(caller, token, source common.Address) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	ts := o.tokens[token]
	if ts == nil {
		return fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	for i, s := range ts.sources {
		if s.Address() == source {
			ts.sources = append(ts.sources[:i:i], ts.sources[i+1:]...)
			if uint64(len(ts.sources)) < ts.config.MinSources {
				o.log.Warn("oracle token below minimum sources",
					"token", token.Hex(),
					"sources", len(ts.sources),
					"minSources", ts.config.MinSources,
				)
			}
			pending.Add(SourceRemoved{Token: token, Source: source})
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSourceNotFound, source.Hex())
}

// GetPriceSources returns the feed addresses registered for token, in order.
func (o *PriceOracle) GetPriceSources(token common.Address) []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil {
		return nil
	}
	out := make([]common.Address, len(ts.sources))
	for i, s := range ts.sources {
		out[i] = s.Address()
	}
	return out
}

// TokenConfig returns the policy for token.
func (o *PriceOracle) TokenConfig(token common.Address) (TokenConfig, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil {
		return TokenConfig{}, false
	}
	return ts.config, true
}

func (o *PriceOracle) activeToken(token common.Address) (*tokenState, error) {
	ts := o.tokens[token]
	if ts == nil || !ts.config.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	return ts, nil
}

// =========================================================================
// Roles
// =========================================================================

// AddAuthorizedUpdater allows updater to call UpdatePrice.
func (o *PriceOracle) AddAuthorizedUpdater(caller, updater common.Address) error {
	return o.setUpdater(caller, updater, true)
}

// RemoveAuthorizedUpdater revokes UpdatePrice rights.
func (o *PriceOracle) RemoveAuthorizedUpdater(caller, updater common.Address) error {
	return o.setUpdater(caller, updater, false)
}

func (o *PriceOracle) setUpdater(caller, updater common.Address, authorized bool) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	if updater == (common.Address{}) {
		return ErrInvalidAddress
	}
	if authorized {
		o.updaters[updater] = true
	} else {
		delete(o.updaters, updater)
	}
	pending.Add(UpdaterChanged{Updater: updater, Authorized: authorized})
	return nil
}

// IsAuthorizedUpdater reports whether updater may call UpdatePrice.
func (o *PriceOracle) IsAuthorizedUpdater(updater common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updaters[updater]
}

// SetGuardian replaces the emergency principal.
func (o *PriceOracle) SetGuardian(caller, guardian common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	if guardian == (common.Address{}) {
		return ErrInvalidAddress
	}
	o.guardian = guardian
	return nil
}

// =========================================================================
// Emergency controls
// =========================================================================

// SetEmergencyPrice activates the circuit breaker for token at price.
func (o *PriceOracle) SetEmergencyPrice(caller, token common.Address, price *big.Int) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyGuardian(caller); err != nil {
		return err
	}
	ts := o.tokens[token]
	if ts == nil {
		return fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	ts.breaker = EmergencyOverride{Active: true, Price: new(big.Int).Set(price)}

	o.log.Warn("oracle circuit breaker activated", "token", token.Hex(), "price", price.String())
	pending.Add(EmergencyPriceSet{Token: token, Price: new(big.Int).Set(price)})
	return nil
}

// DeactivateCircuitBreaker clears the override for token.
func (o *PriceOracle) DeactivateCircuitBreaker(caller, token common.Address) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyGuardian(caller); err != nil {
		return err
	}
	ts := o.tokens[token]
	if ts == nil {
		return fmt.Errorf("%w: %s", ErrTokenNotActive, token.Hex())
	}
	ts.breaker = EmergencyOverride{Price: new(big.Int)}

	o.log.Info("oracle circuit breaker deactivated", "token", token.Hex())
	pending.Add(CircuitBreakerDeactivated{Token: token})
	return nil
}

// CircuitBreaker returns the override state for token.
func (o *PriceOracle) CircuitBreaker(token common.Address) EmergencyOverride {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ts := o.tokens[token]
	if ts == nil {
		return EmergencyOverride{Price: new(big.Int)}
	}
	return EmergencyOverride{Active: ts.breaker.Active, Price: new(big.Int).Set(ts.breaker.Price)}
}

// EmergencyPause blocks price updates. Guardian only.
func (o *PriceOracle) EmergencyPause(caller common.Address) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyGuardian(caller); err != nil {
		return err
	}
	if o.paused {
		return ErrPaused
	}
	o.paused = true
	o.log.Warn("oracle paused", "by", caller.Hex())
	pending.Add(OraclePaused{By: caller})
	return nil
}

// EmergencyUnpause resumes price updates. Owner only.
func (o *PriceOracle) EmergencyUnpause(caller common.Address) error {
	pending := event.NewPending(o.events)
	defer pending.Flush()

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return err
	}
	if !o.paused {
		return ErrNotPaused
	}
	o.paused = false
	o.log.Info("oracle unpaused", "by", caller.Hex())
	pending.Add(OracleUnpaused{By: caller})
	return nil
}
