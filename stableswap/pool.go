// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stableswap

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/event"
)

// Config wires a Pool to its principals and collaborators.
type Config struct {
	Owner    common.Address
	Guardian common.Address
	Custody  common.Address // ledger account holding pool funds
	Ledger   TokenLedger
	Oracle   PriceReader
	Clock    clock.Clock
	Log      log.Logger
	Events   event.Emitter

	A              uint64
	SwapFee        *uint64 // DefaultSwapFee when nil
	MaxSlippageBps uint64
}

type volumeWindow struct {
	start  uint64
	volume *big.Int
}

// Pool is a multi-asset stable-swap pool.
type Pool struct {
	owner    common.Address
	guardian common.Address
	relayer  common.Address
	custody  common.Address
	usdt     common.Address

	tokens []*PoolToken
	index  map[common.Address]int

	amp  uint64
	fees FeeConfig

	totalSupply *big.Int
	lpBalances  map[common.Address]*big.Int

	dailyCaps map[common.Address]*big.Int
	volumes   map[common.Address]*volumeWindow

	paused        bool
	emergencyStop bool

	ledger TokenLedger
	oracle PriceReader
	clock  clock.Clock
	log    log.Logger
	events event.Emitter

	mu sync.RWMutex
}

// New creates an empty pool.
func New(cfg Config) (*Pool, error) {
	if cfg.Owner == (common.Address{}) || cfg.Guardian == (common.Address{}) || cfg.Custody == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: nil ledger", ErrInvalidAddress)
	}
	if cfg.A == 0 {
		cfg.A = DefaultA
	}
	if cfg.A < MinAmplification || cfg.A > MaxAmplification {
		return nil, ErrInvalidAmplification
	}
	swapFee := uint64(DefaultSwapFee)
	if cfg.SwapFee != nil {
		swapFee = *cfg.SwapFee
	}
	if swapFee > MaxSwapFee {
		return nil, ErrFeeTooHigh
	}
	if cfg.MaxSlippageBps == 0 {
		cfg.MaxSlippageBps = DefaultMaxSlippage
	}
	if cfg.MaxSlippageBps > MaxSlippageBps {
		return nil, ErrSlippageTooHigh
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
	return &Pool{
		owner:       cfg.Owner,
		guardian:    cfg.Guardian,
		custody:     cfg.Custody,
		tokens:      make([]*PoolToken, 0),
		index:       make(map[common.Address]int),
		amp:         cfg.A,
		fees:        FeeConfig{SwapFee: swapFee, MaxSlippageBps: cfg.MaxSlippageBps},
		totalSupply: new(big.Int),
		lpBalances:  make(map[common.Address]*big.Int),
		dailyCaps:   make(map[common.Address]*big.Int),
		volumes:     make(map[common.Address]*volumeWindow),
		ledger:      cfg.Ledger,
		oracle:      cfg.Oracle,
		clock:       cfg.Clock,
		log:         cfg.Log,
		events:      cfg.Events,
	}, nil
}

func (p *Pool) onlyOwner(caller common.Address) error {
	if caller != p.owner {
		return ErrNotOwner
	}
	return nil
}

func (p *Pool) onlyGuardian(caller common.Address) error {
	if caller != p.guardian {
		return ErrNotGuardian
	}
	return nil
}

// =========================================================================
// Token registry
// =========================================================================

// AddSupportedToken appends token to the pool.
func (p *Pool) AddSupportedToken(caller, token common.Address, isStablecoin bool) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return ErrInvalidToken
	}
	if _, ok := p.index[token]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySupported, token.Hex())
	}
	decimals, err := p.ledger.Decimals(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	p.index[token] = len(p.tokens)
	p.tokens = append(p.tokens, &PoolToken{
		Token:        token,
		Decimals:     decimals,
		IsStablecoin: isStablecoin,
		Balance:      new(big.Int),
	})
	p.log.Info("pool token added", "token", token.Hex(), "decimals", decimals, "stablecoin", isStablecoin)
	pending.Add(TokenSupported{Token: token, Supported: true})
	return nil
}

// RemoveSupportedToken drops an empty token. The pool keeps at least two tokens.
func (p *Pool) RemoveSupportedToken(caller, token common.Address) error {
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
	if len(p.tokens) <= MinPoolTokens {
		return ErrTooFewTokens
	}
	if p.tokens[idx].Balance.Sign() != 0 {
		return fmt.Errorf("%w: %s", ErrTokenHasBalance, token.Hex())
	}

	p.tokens = append(p.tokens[:idx:idx], p.tokens[idx+1:]...)
	p.index = make(map[common.Address]int, len(p.tokens))
	for i, t := range p.tokens {
		p.index[t.Token] = i
	}
	p.log.Info("pool token removed", "token", token.Hex())
	pending.Add(TokenSupported{Token: token, Supported: false})
	return nil
}

// IsSupported reports whether token is in the pool.
func (p *Pool) IsSupported(token common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.index[token]
	return ok
}

// Tokens returns copies of the pool tokens in index order.
func (p *Pool) Tokens() []PoolToken {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PoolToken, len(p.tokens))
	for i, t := range p.tokens {
		out[i] = *t
		out[i].Balance = new(big.Int).Set(t.Balance)
	}
	return out
}

// Balances returns the tracked pool balances in index order.
func (p *Pool) Balances() []*big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances()
}

func (p *Pool) balances() []*big.Int {
	out := make([]*big.Int, len(p.tokens))
	for i, t := range p.tokens {
		out[i] = new(big.Int).Set(t.Balance)
	}
	return out
}

// =========================================================================
// Owner configuration
// =========================================================================

// SetSwapFee sets the swap fee in basis points, at most 1000.
func (p *Pool) SetSwapFee(caller common.Address, bps uint64) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if bps > MaxSwapFee {
		return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, bps, MaxSwapFee)
	}
	p.fees.SwapFee = bps
	p.log.Info("pool swap fee updated", "bps", bps)
	pending.Add(SwapFeeUpdated{Fee: bps})
	return nil
}

// SetMaxSlippage sets the largest accepted deviation from the fair price.
func (p *Pool) SetMaxSlippage(caller common.Address, bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if bps > MaxSlippageBps {
		return fmt.Errorf("%w: %d > %d", ErrSlippageTooHigh, bps, MaxSlippageBps)
	}
	p.fees.MaxSlippageBps = bps
	return nil
}

// SetAmplification changes A.
func (p *Pool) SetAmplification(caller common.Address, amp uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if amp < MinAmplification || amp > MaxAmplification {
		return fmt.Errorf("%w: %d", ErrInvalidAmplification, amp)
	}
	p.amp = amp
	return nil
}

// SetDailyVolumeCap limits the USD value user may swap per day. Zero removes the cap.
func (p *Pool) SetDailyVolumeCap(caller, user common.Address, limit *big.Int) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if user == (common.Address{}) {
		return ErrInvalidAddress
	}
	if limit == nil || limit.Sign() < 0 {
		return ErrInvalidAmount
	}
	if limit.Sign() == 0 {
		delete(p.dailyCaps, user)
	} else {
		p.dailyCaps[user] = new(big.Int).Set(limit)
	}
	pending.Add(DailyVolumeCapSet{User: user, Cap: new(big.Int).Set(limit)})
	return nil
}

// SetGuardian replaces the emergency principal.
func (p *Pool) SetGuardian(caller, guardian common.Address) error {
	return p.setAddress(caller, guardian, &p.guardian)
}

// SetRelayer sets the principal that submits gasless swaps.
func (p *Pool) SetRelayer(caller, relayer common.Address) error {
	return p.setAddress(caller, relayer, &p.relayer)
}

// SetUSDTAddress sets the token eligible for gasless swaps.
func (p *Pool) SetUSDTAddress(caller, usdt common.Address) error {
	return p.setAddress(caller, usdt, &p.usdt)
}

func (p *Pool) setAddress(caller, addr common.Address, field *common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrInvalidAddress
	}
	*field = addr
	return nil
}

// SetOracle replaces the price source for volatile assets.
func (p *Pool) SetOracle(caller common.Address, o PriceReader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if o == nil {
		return ErrInvalidAddress
	}
	p.oracle = o
	return nil
}

// Fees returns the fee configuration.
func (p *Pool) Fees() FeeConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fees
}

// Guardian returns the emergency principal.
func (p *Pool) Guardian() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.guardian
}

// USDTAddress returns the gasless-eligible token.
func (p *Pool) USDTAddress() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.usdt
}

// =========================================================================
// Emergency controls
// =========================================================================

// Pause halts swaps and deposits. Guardian only.
func (p *Pool) Pause(caller common.Address) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyGuardian(caller); err != nil {
		return err
	}
	if p.paused {
		return ErrPaused
	}
	p.paused = true
	p.log.Warn("pool paused", "by", caller.Hex())
	pending.Add(PoolPaused{By: caller})
	return nil
}

// Unpause resumes operation. Owner only.
func (p *Pool) Unpause(caller common.Address) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyOwner(caller); err != nil {
		return err
	}
	if !p.paused {
		return ErrNotPaused
	}
	p.paused = false
	p.log.Info("pool unpaused", "by", caller.Hex())
	pending.Add(PoolUnpaused{By: caller})
	return nil
}

// Paused reports whether the pool is paused.
func (p *Pool) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// SetEmergencyStop declares or clears an emergency. Guardian only.
func (p *Pool) SetEmergencyStop(caller common.Address, active bool) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyGuardian(caller); err != nil {
		return err
	}
	p.emergencyStop = active
	p.log.Warn("pool emergency stop changed", "active", active)
	pending.Add(EmergencyStopSet{Active: active})
	return nil
}

// EmergencyStop reports whether an emergency is declared.
func (p *Pool) EmergencyStop() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.emergencyStop
}

// EmergencyRescue moves funds out of pool custody during a declared
// emergency. Tracked balances are clamped to what custody still holds.
func (p *Pool) EmergencyRescue(caller, token common.Address, amount *big.Int, to common.Address) error {
	pending := event.NewPending(p.events)
	defer pending.Flush()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.onlyGuardian(caller); err != nil {
		return err
	}
	if !p.emergencyStop {
		return ErrNoEmergency
	}
	if to == (common.Address{}) {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.ledger.Transfer(token, p.custody, to, amount); err != nil {
		return err
	}
	if idx, ok := p.index[token]; ok {
		held := p.ledger.BalanceOf(token, p.custody)
		if p.tokens[idx].Balance.Cmp(held) > 0 {
			p.tokens[idx].Balance = held
		}
	}
	p.log.Warn("pool emergency rescue", "token", token.Hex(), "amount", amount.String(), "to", to.Hex())
	pending.Add(EmergencyRescued{Token: token, Amount: new(big.Int).Set(amount), To: to})
	return nil
}
