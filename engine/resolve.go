// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/luxfi/geth/common"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/swapbridge/config"
	"github.com/luxfi/swapbridge/ledger"
	"github.com/luxfi/swapbridge/oracle"
)

// Token resolves a symbol or hex address to a registered token.
func (e *Engine) Token(ref string) (ledger.TokenInfo, error) {
	if addr, ok := e.symbols[strings.ToUpper(ref)]; ok {
		return e.Ledger.Token(addr)
	}
	if strings.EqualFold(ref, "native") {
		return e.Ledger.Token(ledger.Native)
	}
	if common.IsHexAddress(ref) {
		info, err := e.Ledger.Token(common.HexToAddress(ref))
		if err != nil {
			return ledger.TokenInfo{}, fmt.Errorf("%w: %s", ErrUnknownToken, ref)
		}
		return info, nil
	}
	return ledger.TokenInfo{}, fmt.Errorf("%w: %s", ErrUnknownToken, ref)
}

// Address resolves a role name (owner, guardian, transport, ...) or a hex
// address.
func (e *Engine) Address(ref string) (common.Address, error) {
	if addr, ok := e.roles[strings.ToLower(ref)]; ok {
		return addr, nil
	}
	addr, err := config.ParseAddress(ref)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnknownAddress, err)
	}
	return addr, nil
}

// Amount converts a human amount of token into base units.
func (e *Engine) Amount(token ledger.TokenInfo, human string) (*big.Int, error) {
	amount, err := config.ParseAmount(human, token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount, err)
	}
	return amount, nil
}

// Format renders base units of token for display.
func (e *Engine) Format(token ledger.TokenInfo, amount *big.Int) string {
	return config.FormatAmount(amount, token.Decimals)
}

// Feed returns the static feed registered at source for token.
func (e *Engine) Feed(token, source common.Address) (*oracle.FixedFeed, bool) {
	f, ok := e.feeds[feedKey{token: token, source: source}]
	return f, ok
}

// RefreshPrices runs UpdatePrice for every token with feeds, concurrently,
// as caller. It returns the first failure after all updates finish.
func (e *Engine) RefreshPrices(ctx context.Context, caller common.Address) (map[common.Address]oracle.PriceSnapshot, error) {
	tokens := make(map[common.Address]bool)
	for k := range e.feeds {
		tokens[k.token] = true
	}

	results := make(map[common.Address]oracle.PriceSnapshot, len(tokens))
	snaps := make([]oracle.PriceSnapshot, 0, len(tokens))
	order := make([]common.Address, 0, len(tokens))
	for token := range tokens {
		order = append(order, token)
		snaps = append(snaps, oracle.PriceSnapshot{})
	}

	var g errgroup.Group
	for i, token := range order {
		g.Go(func() error {
			snap, err := e.Oracle.UpdatePrice(ctx, caller, token)
			if err != nil {
				e.log.Warn("price refresh failed", "token", token.Hex(), "err", err)
				return fmt.Errorf("update %s: %w", token.Hex(), err)
			}
			snaps[i] = snap
			return nil
		})
	}
	err := g.Wait()
	for i, token := range order {
		if snaps[i].IsValid {
			results[token] = snaps[i]
		}
	}
	return results, err
}
