// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/luxfi/geth/common"
)

// TokenState is the persisted form of one token.
type TokenState struct {
	Config   TokenConfig       `json:"config"`
	Sources  []common.Address  `json:"sources"`
	Latest   *PriceSnapshot    `json:"latest,omitempty"`
	History  []Observation     `json:"history"`
	Appended uint64            `json:"appended"`
	Breaker  EmergencyOverride `json:"breaker"`
}

// State is the persisted form of a PriceOracle.
type State struct {
	Owner    common.Address   `json:"owner"`
	Guardian common.Address   `json:"guardian"`
	Updaters []common.Address `json:"updaters"`
	Paused   bool             `json:"paused"`
	Tokens   []TokenState     `json:"tokens"`
}

// FeedResolver returns the live feed registered at source for token.
type FeedResolver func(token, source common.Address) (PriceFeed, bool)

// Snapshot exports the oracle state.
func (o *PriceOracle) Snapshot() State {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := State{Owner: o.owner, Guardian: o.guardian, Paused: o.paused}
	for u := range o.updaters {
		s.Updaters = append(s.Updaters, u)
	}
	sort.Slice(s.Updaters, func(i, j int) bool {
		return bytes.Compare(s.Updaters[i].Bytes(), s.Updaters[j].Bytes()) < 0
	})

	for _, ts := range o.tokens {
		st := TokenState{
			Config:   ts.config,
			Appended: ts.appended,
			Breaker:  EmergencyOverride{Active: ts.breaker.Active, Price: new(big.Int).Set(ts.breaker.Price)},
		}
		for _, src := range ts.sources {
			st.Sources = append(st.Sources, src.Address())
		}
		if ts.hasLatest {
			latest := copySnapshot(ts.latest)
			st.Latest = &latest
		}
		for _, obs := range ts.history {
			st.History = append(st.History, Observation{Price: new(big.Int).Set(obs.Price), Timestamp: obs.Timestamp})
		}
		s.Tokens = append(s.Tokens, st)
	}
	sort.Slice(s.Tokens, func(i, j int) bool {
		return bytes.Compare(s.Tokens[i].Config.Token.Bytes(), s.Tokens[j].Config.Token.Bytes()) < 0
	})
	return s
}

// Restore replaces the oracle state with s. Sources are re-attached through
// resolve; a source with no live feed is dropped.
func (o *PriceOracle) Restore(s State, resolve FeedResolver) error {
	if s.Owner == (common.Address{}) || s.Guardian == (common.Address{}) {
		return ErrInvalidAddress
	}
	tokens := make(map[common.Address]*tokenState, len(s.Tokens))
	for _, st := range s.Tokens {
		ts := &tokenState{
			config:   st.Config,
			appended: st.Appended,
			breaker:  EmergencyOverride{Active: st.Breaker.Active, Price: new(big.Int)},
		}
		if st.Breaker.Price != nil {
			ts.breaker.Price.Set(st.Breaker.Price)
		}
		for _, addr := range st.Sources {
			feed, ok := resolve(st.Config.Token, addr)
			if !ok {
				o.log.Warn("oracle source not resolvable on restore",
					"token", st.Config.Token.Hex(),
					"source", addr.Hex(),
				)
				continue
			}
			ts.sources = append(ts.sources, feed)
		}
		if st.Latest != nil {
			ts.latest = copySnapshot(*st.Latest)
			ts.hasLatest = true
		}
		for _, obs := range st.History {
			if obs.Price == nil {
				continue
			}
			ts.history = append(ts.history, Observation{Price: new(big.Int).Set(obs.Price), Timestamp: obs.Timestamp})
		}
		if len(ts.history) > MaxObservations {
			ts.history = ts.history[len(ts.history)-MaxObservations:]
		}
		tokens[st.Config.Token] = ts
	}

	updaters := make(map[common.Address]bool, len(s.Updaters))
	for _, u := range s.Updaters {
		updaters[u] = true
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.owner = s.Owner
	o.guardian = s.Guardian
	o.updaters = updaters
	o.paused = s.Paused
	o.tokens = tokens
	o.twapCache.Purge()
	return nil
}
