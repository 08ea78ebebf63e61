// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package clock provides the time source used by every component.
// Timestamps are unix seconds, matching on-chain block time.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in unix seconds.
type Clock interface {
	Now() uint64
}

// System reads the wall clock.
type System struct{}

// Now returns time.Now() in unix seconds.
func (System) Now() uint64 {
	return uint64(time.Now().Unix())
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

// NewManual creates a manual clock starting at start.
func NewManual(start uint64) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d (truncated to seconds).
func (m *Manual) Advance(d time.Duration) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += uint64(d / time.Second)
	return m.now
}

// Set moves the clock to ts. Moving backwards is ignored so the clock stays monotonic.
func (m *Manual) Set(ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts > m.now {
		m.now = ts
	}
}
