// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stableswap implements a multi-asset liquidity pool priced by the
// Curve stable invariant. Stablecoins trade on the invariant directly;
// any leg involving a volatile asset is converted to USD value through the
// price oracle before the invariant is applied.
package stableswap

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/fault"
	"github.com/luxfi/swapbridge/oracle"
)

// Pool constants
const (
	BasisPoints        = 10_000
	MaxSwapFee         = 1_000 // 10%
	MaxSlippageBps     = 5_000 // 50%
	MinAmplification   = 1
	MaxAmplification   = 10_000
	DefaultA           = 100
	DefaultSwapFee     = 30
	DefaultMaxSlippage = 500
	MinPoolTokens      = 2
	DaySeconds         = 86_400
	maxIterations      = 255
	precision          = 18
)

var (
	unit = big.NewInt(1e18)
	one  = big.NewInt(1)
)

// TokenLedger moves token balances between holders.
type TokenLedger interface {
	Decimals(token common.Address) (uint8, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	BalanceOf(token, holder common.Address) *big.Int
}

// PriceReader supplies USD prices for volatile assets.
type PriceReader interface {
	GetPriceData(token common.Address) (oracle.PriceData, error)
}

// PoolToken is one asset held by the pool.
type PoolToken struct {
	Token        common.Address `json:"token"`
	Decimals     uint8          `json:"decimals"`
	IsStablecoin bool           `json:"isStablecoin"`
	Balance      *big.Int       `json:"balance"`
}

// FeeConfig holds swap pricing parameters in basis points.
type FeeConfig struct {
	SwapFee        uint64 `json:"swapFee"`
	MaxSlippageBps uint64 `json:"maxSlippageBps"`
}

// PoolStats summarises the pool.
type PoolStats struct {
	TotalValue *big.Int // 18-decimal USD
	TokenCount int
	CurrentA   uint64
}

// Pool errors
var (
	ErrInvalidToken          = fault.Configuration("invalid token address")
	ErrInvalidAddress        = fault.Configuration("invalid address")
	ErrAlreadySupported      = fault.Configuration("token already supported")
	ErrTooFewTokens          = fault.Configuration("pool needs at least two tokens")
	ErrTokenHasBalance       = fault.Configuration("token still has pool balance")
	ErrFeeTooHigh            = fault.Configuration("fee too high")
	ErrSlippageTooHigh       = fault.Configuration("slippage too high")
	ErrInvalidAmplification  = fault.Configuration("invalid amplification")
	ErrTokenNotSupported     = fault.Precondition("token not supported")
	ErrInvalidSwapPair       = fault.Precondition("invalid swap pair")
	ErrInvalidAmount         = fault.Precondition("invalid amount")
	ErrInvalidAmounts        = fault.Precondition("invalid amounts")
	ErrInvalidIndex          = fault.Precondition("invalid token index")
	ErrTransactionExpired    = fault.Precondition("transaction expired")
	ErrInsufficientShares    = fault.Precondition("insufficient liquidity shares")
	ErrGaslessUnavailable    = fault.Precondition("gasless swap unavailable")
	ErrNotOwner              = fault.Authorization("caller is not the owner")
	ErrNotGuardian           = fault.Authorization("not guardian")
	ErrSlippageExceeded      = fault.EconomicSafety("slippage exceeded")
	ErrDailyVolumeExceeded   = fault.EconomicSafety("daily volume exceeded")
	ErrInsufficientLiquidity = fault.EconomicSafety("insufficient liquidity")
	ErrPaused                = fault.State("paused")
	ErrNotPaused             = fault.State("not paused")
	ErrEmergencyStop         = fault.State("emergency stop active")
	ErrNoEmergency           = fault.State("emergency stop not active")
	ErrPriceFeedStale        = fault.State("price feed stale")
	ErrNotConverged          = fault.State("invariant did not converge")
)

// =========================================================================
// Events
// =========================================================================

type (
	TokenSwapped struct {
		User      common.Address
		TokenIn   common.Address
		TokenOut  common.Address
		AmountIn  *big.Int
		AmountOut *big.Int
		Fee       *big.Int // in tokenOut units
		Gasless   bool
	}
	LiquidityAdded struct {
		Provider common.Address
		Amounts  []*big.Int
		Minted   *big.Int
		Supply   *big.Int
	}
	LiquidityRemoved struct {
		Provider common.Address
		Amounts  []*big.Int
		Burned   *big.Int
		Supply   *big.Int
	}
	LiquiditySeeded struct {
		Token  common.Address
		Amount *big.Int
		Minted *big.Int
	}
	TokenSupported struct {
		Token     common.Address
		Supported bool
	}
	PoolPaused struct {
		By common.Address
	}
	PoolUnpaused struct {
		By common.Address
	}
	EmergencyStopSet struct {
		Active bool
	}
	EmergencyRescued struct {
		Token  common.Address
		Amount *big.Int
		To     common.Address
	}
	SwapFeeUpdated struct {
		Fee uint64
	}
	DailyVolumeCapSet struct {
		User common.Address
		Cap  *big.Int
	}
)

func (TokenSwapped) EventName() string      { return "TokenSwapped" }
func (LiquidityAdded) EventName() string    { return "LiquidityAdded" }
func (LiquidityRemoved) EventName() string  { return "LiquidityRemoved" }
func (LiquiditySeeded) EventName() string   { return "LiquiditySeeded" }
func (TokenSupported) EventName() string    { return "TokenSupported" }
func (PoolPaused) EventName() string        { return "Paused" }
func (PoolUnpaused) EventName() string      { return "Unpaused" }
func (EmergencyStopSet) EventName() string  { return "EmergencyStopSet" }
func (EmergencyRescued) EventName() string  { return "EmergencyRescue" }
func (SwapFeeUpdated) EventName() string    { return "SwapFeeUpdated" }
func (DailyVolumeCapSet) EventName() string { return "DailyVolumeCapSet" }
