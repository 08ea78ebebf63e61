// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle aggregates prices for each token from several independent
// feeds into one consensus price, with staleness tracking, an emergency
// circuit breaker and time-weighted averages.
package oracle

import (
	"context"
	"math/big"
	"time"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/fault"
)

// Oracle constants
const (
	BasisPoints          = 10_000
	MinSourcesFloor      = 2
	MaxTWAPWindow        = 3_600 // seconds
	MaxObservations      = 64    // TWAP ring size per token
	FullConfidence       = BasisPoints
	DefaultSourceTimeout = 2 * time.Second
	maxConcurrentReads   = 8
	twapCacheSize        = 256
)

// PriceUnit is 1.0 in 18-decimal fixed point.
var PriceUnit = big.NewInt(1e18)

// PriceFeed is one independent price source for a token.
type PriceFeed interface {
	// Address identifies the feed.
	Address() common.Address
	// LatestPrice returns an 18-decimal price and the time it was observed.
	LatestPrice(ctx context.Context) (*big.Int, uint64, error)
}

// TokenConfig holds the aggregation policy for a token.
type TokenConfig struct {
	Token            common.Address `json:"token"`
	IsStablecoin     bool           `json:"isStablecoin"`
	MinSources       uint64         `json:"minSources"`
	MaxDeviationBps  uint64         `json:"maxDeviationBps"`
	HeartbeatSeconds uint64         `json:"heartbeatSeconds"`
	IsActive         bool           `json:"isActive"`
}

// PriceSnapshot is the result of one successful UpdatePrice.
type PriceSnapshot struct {
	Price       *big.Int `json:"price"`
	Timestamp   uint64   `json:"timestamp"`
	Confidence  uint64   `json:"confidence"` // basis points, 10000 = all sources agree
	SourceCount uint64   `json:"sourceCount"`
	IsValid     bool     `json:"isValid"`
}

// PriceData is the value view handed to other components.
type PriceData struct {
	Price      *big.Int
	Confidence uint64
	Timestamp  uint64
	IsValid    bool
}

// Observation is one TWAP ring entry.
type Observation struct {
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
}

// EmergencyOverride is the per-token circuit breaker.
type EmergencyOverride struct {
	Active bool     `json:"active"`
	Price  *big.Int `json:"price"`
}

// Oracle errors
var (
	ErrInvalidToken        = fault.Configuration("invalid token")
	ErrTooFewSources       = fault.Configuration("too few sources")
	ErrInvalidConfig       = fault.Configuration("invalid token config")
	ErrSourceAlreadyExists = fault.Configuration("source already exists")
	ErrSourceNotFound      = fault.Configuration("source not found")
	ErrInvalidSource       = fault.Configuration("invalid source")
	ErrInvalidAddress      = fault.Configuration("invalid address")
	ErrTokenNotActive      = fault.Precondition("token not active")
	ErrInvalidWindow       = fault.Precondition("invalid window")
	ErrWindowTooLarge      = fault.Precondition("window too large")
	ErrInvalidPrice        = fault.Precondition("invalid price")
	ErrNotOwner            = fault.Authorization("caller is not the owner")
	ErrNotGuardian         = fault.Authorization("not guardian")
	ErrNotAuthorized       = fault.Authorization("not authorized")
	ErrPaused              = fault.State("paused")
	ErrNotPaused           = fault.State("not paused")
	ErrInsufficientSources = fault.State("insufficient usable sources")
)

// =========================================================================
// Events
// =========================================================================

type (
	TokenAdded struct {
		Token  common.Address
		Config TokenConfig
	}
	TokenDeactivated struct{ Token common.Address }
	SourceAdded      struct{ Token, Source common.Address }
	SourceRemoved    struct{ Token, Source common.Address }
	PriceUpdated     struct {
		Token      common.Address
		Price      *big.Int
		Confidence uint64
		Sources    uint64
	}
	EmergencyPriceSet struct {
		Token common.Address
		Price *big.Int
	}
	CircuitBreakerDeactivated struct{ Token common.Address }
	UpdaterChanged            struct {
		Updater    common.Address
		Authorized bool
	}
	OraclePaused   struct{ By common.Address }
	OracleUnpaused struct{ By common.Address }
)

func (TokenAdded) EventName() string                { return "TokenAdded" }
func (TokenDeactivated) EventName() string          { return "TokenDeactivated" }
func (SourceAdded) EventName() string               { return "SourceAdded" }
func (SourceRemoved) EventName() string             { return "SourceRemoved" }
func (PriceUpdated) EventName() string              { return "PriceUpdated" }
func (EmergencyPriceSet) EventName() string         { return "EmergencyPriceSet" }
func (CircuitBreakerDeactivated) EventName() string { return "CircuitBreakerDeactivated" }
func (UpdaterChanged) EventName() string            { return "UpdaterChanged" }
func (OraclePaused) EventName() string              { return "OraclePaused" }
func (OracleUnpaused) EventName() string            { return "OracleUnpaused" }
