// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/luxfi/swapbridge/clock"
	"github.com/luxfi/swapbridge/event"
)

// Config wires a Handler to its principals and collaborators.
type Config struct {
	Owner     common.Address
	Guardian  common.Address
	Custody   common.Address // ledger account holding bridged funds and fees
	Ledger    TokenLedger
	Oracle    PriceReader
	Transport Transport
	Paymaster Paymaster
	Clock     clock.Clock
	Log       log.Logger
	Events    event.Emitter

	BridgeFee *uint64  // DefaultBridgeFee when nil
	Chains    []uint32 // DefaultChains when empty
}

// Handler is the bridge entry point for one chain.
type Handler struct {
	owner         common.Address
	guardian      common.Address
	custody       common.Address
	bitcoinBridge common.Address
	btcToken      common.Address
	usdt          common.Address

	bridgeFee uint64

	tokens      map[common.Address]bool
	stablecoins map[common.Address]bool
	limits      map[common.Address]TokenLimits
	chains      map[uint32]*ChainConfig
	blacklist   map[common.Address]bool

	txs       map[uint64]*Transaction
	inflight  map[uint64]bool // outbound ids with a transport submit under way
	nextID    uint64
	userTxs   map[common.Address][]uint64
	processed map[common.Hash]bool // inbound bridge ids
	btcSeen   map[common.Hash]bool

	rate          map[common.Address]*RateLimitState
	collectedFees map[common.Address]*big.Int
	totalVolume   *big.Int
	totalTxs      uint64

	paused bool

	ledger    TokenLedger
	oracle    PriceReader
	transport Transport
	paymaster Paymaster
	clock     clock.Clock
	log       log.Logger
	events    event.Emitter

	mu sync.RWMutex
}

// New creates a handler. The native asset is supported from the start.
func New(cfg Config) (*Handler, error) {
	if cfg.Owner == (common.Address{}) || cfg.Guardian == (common.Address{}) || cfg.Custody == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: nil ledger", ErrInvalidAddress)
	}
	bridgeFee := uint64(DefaultBridgeFee)
	if cfg.BridgeFee != nil {
		bridgeFee = *cfg.BridgeFee
	}
	if bridgeFee > MaxBridgeFee {
		return nil, ErrFeeTooHigh
	}
	if len(cfg.Chains) == 0 {
		cfg.Chains = DefaultChains
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

	h := &Handler{
		owner:         cfg.Owner,
		guardian:      cfg.Guardian,
		custody:       cfg.Custody,
		bridgeFee:     bridgeFee,
		tokens:        map[common.Address]bool{{}: true},
		stablecoins:   make(map[common.Address]bool),
		limits:        make(map[common.Address]TokenLimits),
		chains:        make(map[uint32]*ChainConfig),
		blacklist:     make(map[common.Address]bool),
		txs:           make(map[uint64]*Transaction),
		inflight:      make(map[uint64]bool),
		nextID:        1,
		userTxs:       make(map[common.Address][]uint64),
		processed:     make(map[common.Hash]bool),
		btcSeen:       make(map[common.Hash]bool),
		rate:          make(map[common.Address]*RateLimitState),
		collectedFees: make(map[common.Address]*big.Int),
		totalVolume:   new(big.Int),
		ledger:        cfg.Ledger,
		oracle:        cfg.Oracle,
		transport:     cfg.Transport,
		paymaster:     cfg.Paymaster,
		clock:         cfg.Clock,
		log:           cfg.Log,
		events:        cfg.Events,
	}
	for _, id := range cfg.Chains {
		if id == ChainBitcoin {
			return nil, fmt.Errorf("%w: chain %d is reserved", ErrChainNotSupported, id)
		}
		h.chains[id] = &ChainConfig{Supported: true}
	}
	return h, nil
}

func (h *Handler) onlyOwner(caller common.Address) error {
	if caller != h.owner {
		return ErrNotOwner
	}
	return nil
}

func (h *Handler) onlyGuardian(caller common.Address) error {
	if caller != h.guardian {
		return ErrNotGuardian
	}
	return nil
}

func (h *Handler) onlyTransport(caller common.Address) error {
	if h.transport == nil || caller != h.transport.Address() {
		return ErrUnauthorizedCaller
	}
	return nil
}

func (h *Handler) chain(id uint32) *ChainConfig {
	c, ok := h.chains[id]
	if !ok {
		c = &ChainConfig{}
		h.chains[id] = c
	}
	return c
}

// =========================================================================
// Owner configuration
// =========================================================================

// SetSupportedToken enables or disables bridging of token.
func (h *Handler) SetSupportedToken(caller, token common.Address, supported bool) error {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if supported {
		if _, err := h.ledger.Decimals(token); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	h.tokens[token] = supported
	h.log.Info("bridge token support changed", "token", token.Hex(), "supported", supported)
	pending.Add(TokenSupported{Token: token, Supported: supported})
	return nil
}

// SetSupportedChain enables or disables a counterpart chain.
func (h *Handler) SetSupportedChain(caller common.Address, chainID uint32, supported bool) error {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if chainID == ChainBitcoin {
		return fmt.Errorf("%w: chain %d is reserved", ErrChainNotSupported, chainID)
	}
	h.chain(chainID).Supported = supported
	h.log.Info("bridge chain support changed", "chain", chainID, "supported", supported)
	pending.Add(ChainSupported{ChainID: chainID, Supported: supported})
	return nil
}

// SetTokenLimits replaces the global bounds for token with raw-unit limits.
func (h *Handler) SetTokenLimits(caller, token common.Address, minAmount, maxAmount *big.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if minAmount == nil || maxAmount == nil || minAmount.Sign() < 0 || minAmount.Cmp(maxAmount) >= 0 {
		return ErrInvalidLimits
	}
	h.limits[token] = TokenLimits{Min: new(big.Int).Set(minAmount), Max: new(big.Int).Set(maxAmount)}
	return nil
}

// SetBridgeFee sets the global fee in basis points.
func (h *Handler) SetBridgeFee(caller common.Address, bps uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if bps > MaxBridgeFee {
		return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, bps, MaxBridgeFee)
	}
	h.bridgeFee = bps
	h.log.Info("bridge fee updated", "bps", bps)
	return nil
}

// SetChainBridgeFee overrides the fee for transfers to chainID.
func (h *Handler) SetChainBridgeFee(caller common.Address, chainID uint32, bps uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if bps > MaxBridgeFee {
		return fmt.Errorf("%w: %d > %d", ErrFeeTooHigh, bps, MaxBridgeFee)
	}
	c := h.chain(chainID)
	c.FeeOverrideBps = bps
	c.HasFeeOverride = true
	return nil
}

// ClearChainBridgeFee drops a chain fee override.
func (h *Handler) ClearChainBridgeFee(caller common.Address, chainID uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if c, ok := h.chains[chainID]; ok {
		c.FeeOverrideBps = 0
		c.HasFeeOverride = false
	}
	return nil
}

// SetBitcoinBridge sets the principal allowed to call BridgeBitcoin.
func (h *Handler) SetBitcoinBridge(caller, addr common.Address) error {
	return h.setAddress(caller, addr, &h.bitcoinBridge)
}

// SetBitcoinToken sets the wrapped bitcoin token.
func (h *Handler) SetBitcoinToken(caller, token common.Address) error {
	return h.setAddress(caller, token, &h.btcToken)
}

// SetUSDTAddress sets the token used by gasless transfers.
func (h *Handler) SetUSDTAddress(caller, token common.Address) error {
	return h.setAddress(caller, token, &h.usdt)
}

// SetGuardian replaces the emergency principal.
func (h *Handler) SetGuardian(caller, guardian common.Address) error {
	return h.setAddress(caller, guardian, &h.guardian)
}

func (h *Handler) setAddress(caller, addr common.Address, field *common.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrInvalidAddress
	}
	*field = addr
	return nil
}

// SetStablecoin marks token as valued 1:1 with USD for volume limits.
func (h *Handler) SetStablecoin(caller, token common.Address, stable bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if stable {
		h.stablecoins[token] = true
	} else {
		delete(h.stablecoins, token)
	}
	return nil
}

// SetTransport replaces the transport.
func (h *Handler) SetTransport(caller common.Address, t Transport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if t == nil || t.Address() == (common.Address{}) {
		return ErrInvalidAddress
	}
	h.transport = t
	return nil
}

// SetPaymaster replaces the gas sponsor.
func (h *Handler) SetPaymaster(caller common.Address, p Paymaster) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if p == nil {
		return ErrInvalidAddress
	}
	h.paymaster = p
	return nil
}

// SetOracle replaces the price source used to value volatile tokens.
func (h *Handler) SetOracle(caller common.Address, o PriceReader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	h.oracle = o
	return nil
}

// =========================================================================
// Guardian controls
// =========================================================================

// SetChainPaused halts or resumes transfers to one chain.
func (h *Handler) SetChainPaused(caller common.Address, chainID uint32, paused bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyGuardian(caller); err != nil {
		return err
	}
	h.chain(chainID).Paused = paused
	h.log.Warn("bridge chain pause changed", "chain", chainID, "paused", paused)
	return nil
}

// SetUserBlacklisted blocks or unblocks outbound transfers by user.
func (h *Handler) SetUserBlacklisted(caller, user common.Address, blacklisted bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyGuardian(caller); err != nil {
		return err
	}
	if blacklisted {
		h.blacklist[user] = true
	} else {
		delete(h.blacklist, user)
	}
	h.log.Warn("bridge blacklist changed", "user", user.Hex(), "blacklisted", blacklisted)
	return nil
}

// EmergencyWithdraw moves funds out of custody. The zero token is native.
func (h *Handler) EmergencyWithdraw(caller, token common.Address, amount *big.Int, to common.Address) error {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyGuardian(caller); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := h.ledger.Transfer(token, h.custody, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientLiquidity, err)
	}
	if fees, ok := h.collectedFees[token]; ok {
		if held := h.ledger.BalanceOf(token, h.custody); fees.Cmp(held) > 0 {
			h.collectedFees[token] = held
		}
	}
	h.log.Warn("bridge emergency withdrawal", "token", token.Hex(), "amount", amount.String(), "to", to.Hex())
	pending.Add(EmergencyWithdrawal{Token: token, Amount: new(big.Int).Set(amount), To: to})
	return nil
}

// Pause halts all transfers. Owner only.
func (h *Handler) Pause(caller common.Address) error {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if h.paused {
		return ErrPaused
	}
	h.paused = true
	h.log.Warn("bridge paused", "by", caller.Hex())
	pending.Add(BridgePaused{By: caller})
	return nil
}

// Unpause resumes transfers. Owner only.
func (h *Handler) Unpause(caller common.Address) error {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyOwner(caller); err != nil {
		return err
	}
	if !h.paused {
		return ErrNotPaused
	}
	h.paused = false
	h.log.Info("bridge unpaused", "by", caller.Hex())
	pending.Add(BridgeUnpaused{By: caller})
	return nil
}
