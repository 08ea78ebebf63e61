// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bridge records cross-chain transfers. Outbound transfers are
// committed locally and handed to an external transport; inbound transfers
// arrive from that transport and are credited from handler custody.
package bridge

import (
	"context"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/fault"
	"github.com/luxfi/swapbridge/oracle"
)

// Bridge constants
const (
	FeeDenominator   = 10_000
	MaxBridgeFee     = 100 // 1%
	DefaultBridgeFee = 5
	RateLimitWindow  = 3_600
	DaySeconds       = 86_400
	precision        = 18
)

var (
	unit = big.NewInt(1e18)

	// Global bounds on a single transfer, 18-decimal normalised.
	MinBridgeAmount = new(big.Int).Set(unit)
	MaxBridgeAmount = new(big.Int).Mul(big.NewInt(1_000_000), unit)

	// MaxDailyVolume caps each user's outbound value per day, 18-decimal USD.
	MaxDailyVolume = new(big.Int).Mul(big.NewInt(1_000_000), unit)
)

// Supported chain IDs
const (
	ChainBitcoin  uint32 = 0 // reserved: bitcoin has no EVM chain id
	ChainEthereum uint32 = 1
	ChainOptimism uint32 = 10
	ChainBSC      uint32 = 56
	ChainPolygon  uint32 = 137
	ChainArbitrum uint32 = 42161
	ChainLux      uint32 = 96369
)

// DefaultChains are supported at construction.
var DefaultChains = []uint32{ChainEthereum, ChainBSC, ChainPolygon, ChainArbitrum, ChainOptimism}

// Direction of a transfer relative to this chain.
type Direction uint8

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// Kind identifies the entry point that created a transaction.
type Kind uint8

const (
	KindToken Kind = iota
	KindNative
	KindBitcoin
	KindGasless
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindBitcoin:
		return "bitcoin"
	case KindGasless:
		return "gasless"
	default:
		return "token"
	}
}

// Status of a transaction. The only transition is Initiated to Completed.
type Status uint8

const (
	StatusInitiated Status = iota
	StatusCompleted
)

func (s Status) String() string {
	if s == StatusCompleted {
		return "completed"
	}
	return "initiated"
}

// Transaction is the local record of one transfer.
type Transaction struct {
	ID             uint64         `json:"id"`
	User           common.Address `json:"user"`
	Token          common.Address `json:"token"` // zero for native
	Amount         *big.Int       `json:"amount"`
	Fee            *big.Int       `json:"fee"`
	NetAmount      *big.Int       `json:"netAmount"`
	Recipient      common.Address `json:"recipient"`
	ChainID        uint32         `json:"chainId"` // destination for Out, source for In
	Direction      Direction      `json:"direction"`
	Kind           Kind           `json:"kind"`
	Status         Status         `json:"status"`
	ExternalRef    common.Hash    `json:"externalRef"`
	Submitted      bool           `json:"submitted,omitempty"` // accepted by the transport
	SponsorReceipt string         `json:"sponsorReceipt,omitempty"`
	CreatedAt      uint64         `json:"createdAt"`
	CompletedAt    uint64         `json:"completedAt,omitempty"`
}

func (t *Transaction) clone() *Transaction {
	c := *t
	c.Amount = new(big.Int).Set(t.Amount)
	c.Fee = new(big.Int).Set(t.Fee)
	c.NetAmount = new(big.Int).Set(t.NetAmount)
	return &c
}

// RateLimitState tracks one user's outbound activity.
type RateLimitState struct {
	LastAction       uint64   `json:"lastAction"`
	HasActed         bool     `json:"hasActed"`
	DailyVolume      *big.Int `json:"dailyVolume"`
	DailyWindowStart uint64   `json:"dailyWindowStart"`
}

// ChainConfig is the per-chain configuration.
type ChainConfig struct {
	Supported      bool   `json:"supported"`
	Paused         bool   `json:"paused"`
	FeeOverrideBps uint64 `json:"feeOverrideBps"`
	HasFeeOverride bool   `json:"hasFeeOverride"`
}

// TokenLimits bound a single transfer in raw token units.
type TokenLimits struct {
	Min *big.Int `json:"min"`
	Max *big.Int `json:"max"`
}

// Stats aggregates handler activity.
type Stats struct {
	TotalVolume       *big.Int // 18-decimal USD, outbound
	TotalTransactions uint64
	ActiveUsers       uint64
}

// TokenLedger moves token balances between holders.
type TokenLedger interface {
	Decimals(token common.Address) (uint8, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	BalanceOf(token, holder common.Address) *big.Int
}

// PriceReader values non-stable tokens for the daily volume limit.
type PriceReader interface {
	GetPriceData(token common.Address) (oracle.PriceData, error)
}

// Submission is an outbound transfer handed to the transport.
type Submission struct {
	TxID      uint64
	Token     common.Address
	Amount    *big.Int // net of fee
	Recipient common.Address
	ChainID   uint32
}

// Transport carries transfers between chains. Its Address is the only
// principal allowed to call BridgeIn and CompleteBridgeOut.
type Transport interface {
	Address() common.Address
	Submit(ctx context.Context, s Submission) (common.Hash, error)
}

// Paymaster sponsors gas for gasless transfers.
type Paymaster interface {
	IsEligible(user, token common.Address) bool
	Sponsor(ctx context.Context, tx Transaction) (string, error)
}

// Bridge errors
var (
	ErrInvalidAddress              = fault.Configuration("invalid address")
	ErrInvalidToken                = fault.Configuration("invalid token")
	ErrInvalidLimits               = fault.Configuration("invalid limits")
	ErrFeeTooHigh                  = fault.Configuration("fee too high")
	ErrTransportNotSet             = fault.Configuration("bridge transport not configured")
	ErrPaymasterNotSet             = fault.Configuration("paymaster not configured")
	ErrTokenNotSupported           = fault.Precondition("token not supported")
	ErrChainNotSupported           = fault.Precondition("chain not supported")
	ErrAmountTooSmall              = fault.Precondition("amount too small")
	ErrAmountTooLarge              = fault.Precondition("amount too large")
	ErrInvalidRecipient            = fault.Precondition("invalid recipient")
	ErrInvalidAmount               = fault.Precondition("invalid amount")
	ErrInvalidTxHash               = fault.Precondition("invalid transaction hash")
	ErrTransactionNotFound         = fault.Precondition("bridge transaction not found")
	ErrNotOwner                    = fault.Authorization("caller is not the owner")
	ErrNotGuardian                 = fault.Authorization("not guardian")
	ErrUnauthorizedCaller          = fault.Authorization("unauthorized caller")
	ErrNotEligible                 = fault.Authorization("not eligible for sponsorship")
	ErrBlacklisted                 = fault.Authorization("user blacklisted")
	ErrRateLimitExceeded           = fault.EconomicSafety("rate limit exceeded")
	ErrDailyVolumeExceeded         = fault.EconomicSafety("daily volume exceeded")
	ErrInsufficientLiquidity       = fault.EconomicSafety("insufficient bridge liquidity")
	ErrPaused                      = fault.State("paused")
	ErrNotPaused                   = fault.State("not paused")
	ErrChainPaused                 = fault.State("chain paused")
	ErrTransactionAlreadyProcessed = fault.State("transaction already processed")
	ErrTransportSubmit             = fault.State("transport submit failed")
	ErrSponsorshipFailed           = fault.State("sponsorship failed")
	ErrPriceFeedStale              = fault.State("price feed stale")
	ErrSubmitInFlight              = fault.State("transport submit in flight")
	ErrNotOutbound                 = fault.State("not an outbound transaction")
	ErrInvalidState                = fault.State("invalid bridge state")
)

// =========================================================================
// Events
// =========================================================================

type (
	BridgeOutInitiated struct {
		ID        uint64
		User      common.Address
		Token     common.Address
		Amount    *big.Int
		Fee       *big.Int
		Recipient common.Address
		ChainID   uint32
		Kind      Kind
	}
	BridgeOutCompleted struct {
		ID          uint64
		ExternalRef common.Hash
	}
	BridgeInCompleted struct {
		ID        uint64
		Token     common.Address
		Amount    *big.Int
		Recipient common.Address
		ChainID   uint32
		BridgeID  common.Hash
	}
	BitcoinBridged struct {
		ID           uint64
		Recipient    common.Address
		Amount       *big.Int
		BtcTxHash    common.Hash
		IsWithdrawal bool
	}
	TokenSupported struct {
		Token     common.Address
		Supported bool
	}
	ChainSupported struct {
		ChainID   uint32
		Supported bool
	}
	EmergencyWithdrawal struct {
		Token  common.Address
		Amount *big.Int
		To     common.Address
	}
	BridgePaused struct {
		By common.Address
	}
	BridgeUnpaused struct {
		By common.Address
	}
)

func (BridgeOutInitiated) EventName() string  { return "BridgeOutInitiated" }
func (BridgeOutCompleted) EventName() string  { return "BridgeOutCompleted" }
func (BridgeInCompleted) EventName() string   { return "BridgeInCompleted" }
func (BitcoinBridged) EventName() string      { return "BitcoinBridged" }
func (TokenSupported) EventName() string      { return "TokenSupported" }
func (ChainSupported) EventName() string      { return "ChainSupported" }
func (EmergencyWithdrawal) EventName() string { return "EmergencyWithdrawal" }
func (BridgePaused) EventName() string        { return "Paused" }
func (BridgeUnpaused) EventName() string      { return "Unpaused" }
