// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// EstimateBridgeFee splits amount at the global fee: fee + net == amount.
func (h *Handler) EstimateBridgeFee(token common.Address, amount *big.Int) (fee, net *big.Int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if amount == nil {
		amount = new(big.Int)
	}
	return h.feeFor(amount, h.bridgeFee)
}

// EstimateBridgeFeeForChain splits amount at the fee effective for chainID.
func (h *Handler) EstimateBridgeFeeForChain(token common.Address, amount *big.Int, chainID uint32) (fee, net *big.Int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if amount == nil {
		amount = new(big.Int)
	}
	return h.feeFor(amount, h.effectiveFee(chainID))
}

// GetEffectiveBridgeFee returns the chain override if set, else the global fee.
func (h *Handler) GetEffectiveBridgeFee(token common.Address, chainID uint32) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.effectiveFee(chainID)
}

// BridgeFee returns the global fee in basis points.
func (h *Handler) BridgeFee() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bridgeFee
}

// GetUserDailyVolume returns the user's outbound USD value in the current window.
func (h *Handler) GetUserDailyVolume(user common.Address) *big.Int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dailyVolume(user, h.clock.Now())
}

// RateLimitOf returns a copy of the user's rate limit state.
func (h *Handler) RateLimitOf(user common.Address) RateLimitState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs, ok := h.rate[user]
	if !ok {
		return RateLimitState{DailyVolume: new(big.Int)}
	}
	c := *rs
	c.DailyVolume = new(big.Int).Set(rs.DailyVolume)
	return c
}

// GetBridgeStats returns lifetime totals.
func (h *Handler) GetBridgeStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		TotalVolume:       new(big.Int).Set(h.totalVolume),
		TotalTransactions: h.totalTxs,
		ActiveUsers:       uint64(len(h.rate)),
	}
}

// GetBridgeTransaction returns a copy of transaction id.
func (h *Handler) GetBridgeTransaction(id uint64) (*Transaction, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tx, ok := h.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	return tx.clone(), nil
}

// GetUserBridges returns the ids of user's transactions in creation order.
func (h *Handler) GetUserBridges(user common.Address) []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]uint64(nil), h.userTxs[user]...)
}

// IsWithinLimits reports whether amount passes the token's bounds.
func (h *Handler) IsWithinLimits(token common.Address, amount *big.Int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	return h.checkBounds(token, amount) == nil
}

// TokenLimitsOf returns the token's raw limits, if any.
func (h *Handler) TokenLimitsOf(token common.Address) (TokenLimits, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.limits[token]
	if !ok {
		return TokenLimits{}, false
	}
	return TokenLimits{Min: new(big.Int).Set(l.Min), Max: new(big.Int).Set(l.Max)}, true
}

// IsTokenSupported reports whether token can be bridged.
func (h *Handler) IsTokenSupported(token common.Address) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tokens[token]
}

// Chain returns the configuration of chainID.
func (h *Handler) Chain(chainID uint32) ChainConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.chains[chainID]; ok {
		return *c
	}
	return ChainConfig{}
}

// IsBlacklisted reports whether user is blocked.
func (h *Handler) IsBlacklisted(user common.Address) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.blacklist[user]
}

// CollectedFees returns the fees held in custody for token.
func (h *Handler) CollectedFees(token common.Address) *big.Int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if f, ok := h.collectedFees[token]; ok {
		return new(big.Int).Set(f)
	}
	return new(big.Int)
}

// Paused reports whether the handler is paused.
func (h *Handler) Paused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.paused
}

// Transport returns the configured transport.
func (h *Handler) Transport() Transport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.transport
}
