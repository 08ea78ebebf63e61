// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger holds token metadata and balances for every holder.
// The zero address is the native asset.
package ledger

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/swapbridge/fault"
)

// Native is the native asset.
var Native = common.Address{}

// NativeDecimals is the precision of the native asset.
const NativeDecimals = 18

// MaxDecimals is the largest supported token precision.
const MaxDecimals = 18

// Ledger errors
var (
	ErrTokenNotRegistered  = fault.Configuration("token not registered")
	ErrTokenRegistered     = fault.Configuration("token already registered")
	ErrInvalidDecimals     = fault.Configuration("token decimals exceed 18")
	ErrInvalidAmount       = fault.Precondition("invalid amount")
	ErrInsufficientBalance = fault.Precondition("insufficient balance")
	ErrBalanceOverflow     = fault.Precondition("balance overflows 256 bits")
)

// Storage key prefixes
var (
	balancePrefix = []byte("bal")
	supplyPrefix  = []byte("sup")
)

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type account struct {
	token  common.Address
	holder common.Address
	amount *uint256.Int
}

// Ledger tracks balances of every registered token.
type Ledger struct {
	tokens   map[common.Address]*TokenInfo
	accounts map[common.Hash]*account // blake3(token || holder)
	supply   map[common.Hash]*uint256.Int

	mu sync.RWMutex
}

// New creates a ledger with the native asset registered.
func New() *Ledger {
	l := &Ledger{
		tokens:   make(map[common.Address]*TokenInfo),
		accounts: make(map[common.Hash]*account),
		supply:   make(map[common.Hash]*uint256.Int),
	}
	l.tokens[Native] = &TokenInfo{Address: Native, Symbol: "NATIVE", Decimals: NativeDecimals}
	return l
}

// makeStorageKey derives a storage key from a prefix and identifiers.
func makeStorageKey(prefix []byte, ids ...[]byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	for _, id := range ids {
		h.Write(id)
	}
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

func accountKey(token, holder common.Address) common.Hash {
	return makeStorageKey(balancePrefix, token.Bytes(), holder.Bytes())
}

func supplyKey(token common.Address) common.Hash {
	return makeStorageKey(supplyPrefix, token.Bytes())
}

// RegisterToken adds a token with its symbol and decimals.
func (l *Ledger) RegisterToken(token common.Address, symbol string, decimals uint8) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.tokens[token]; ok {
		return fmt.Errorf("%w: %s", ErrTokenRegistered, token.Hex())
	}
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	l.tokens[token] = &TokenInfo{Address: token, Symbol: symbol, Decimals: decimals}
	return nil
}

// Token returns the metadata of a registered token.
func (l *Ledger) Token(token common.Address) (TokenInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.tokens[token]
	if !ok {
		return TokenInfo{}, fmt.Errorf("%w: %s", ErrTokenNotRegistered, token.Hex())
	}
	return *info, nil
}

// Decimals returns the precision of a registered token.
func (l *Ledger) Decimals(token common.Address) (uint8, error) {
	info, err := l.Token(token)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

// Tokens returns all registered tokens ordered by address.
func (l *Ledger) Tokens() []TokenInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]TokenInfo, 0, len(l.tokens))
	for _, info := range l.tokens {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address.Bytes(), out[j].Address.Bytes()) < 0
	})
	return out
}

// BalanceOf returns the balance of holder in token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct := l.accounts[accountKey(token, holder)]
	if acct == nil {
		return new(big.Int)
	}
	return acct.amount.ToBig()
}

// TotalSupply returns the minted supply of token.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.supply[supplyKey(token)]
	if s == nil {
		return new(big.Int)
	}
	return s.ToBig()
}

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	amt, err := l.checkAmount(token, amount)
	if err != nil {
		return err
	}
	supply := l.supplyOf(token)
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	acct := l.account(token, to)
	newBal, overflow := new(uint256.Int).AddOverflow(acct.amount, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	acct.amount = newBal
	l.supply[supplyKey(token)] = newSupply
	return nil
}

// Burn debits amount of token from holder.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	amt, err := l.checkAmount(token, amount)
	if err != nil {
		return err
	}
	acct := l.account(token, from)
	if acct.amount.Lt(amt) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), acct.amount.Dec(), amt.Dec())
	}
	acct.amount = new(uint256.Int).Sub(acct.amount, amt)
	l.supply[supplyKey(token)] = new(uint256.Int).Sub(l.supplyOf(token), amt)
	return nil
}

// Transfer moves amount of token from one holder to another.
// A failed transfer leaves both balances untouched.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	amt, err := l.checkAmount(token, amount)
	if err != nil {
		return err
	}
	src := l.account(token, from)
	if src.amount.Lt(amt) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.amount.Dec(), amt.Dec())
	}
	if from == to {
		return nil
	}
	dst := l.account(token, to)
	newDst, overflow := new(uint256.Int).AddOverflow(dst.amount, amt)
	if overflow {
		return ErrBalanceOverflow
	}
	src.amount = new(uint256.Int).Sub(src.amount, amt)
	dst.amount = newDst
	return nil
}

func (l *Ledger) checkAmount(token common.Address, amount *big.Int) (*uint256.Int, error) {
	if _, ok := l.tokens[token]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotRegistered, token.Hex())
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	amt, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrBalanceOverflow
	}
	return amt, nil
}

func (l *Ledger) account(token, holder common.Address) *account {
	key := accountKey(token, holder)
	acct := l.accounts[key]
	if acct == nil {
		acct = &account{token: token, holder: holder, amount: new(uint256.Int)}
		l.accounts[key] = acct
	}
	return acct
}

func (l *Ledger) supplyOf(token common.Address) *uint256.Int {
	s := l.supply[supplyKey(token)]
	if s == nil {
		return new(uint256.Int)
	}
	return s
}

// =========================================================================
// Snapshots
// =========================================================================

// Balance is one persisted holder balance.
type Balance struct {
	Token  common.Address `json:"token"`
	Holder common.Address `json:"holder"`
	Amount *big.Int       `json:"amount"`
}

// State is the persisted form of a ledger.
type State struct {
	Tokens   []TokenInfo `json:"tokens"`
	Balances []Balance   `json:"balances"`
}

// Snapshot exports every token and non-zero balance in a deterministic order.
func (l *Ledger) Snapshot() State {
	tokens := l.Tokens()

	l.mu.RLock()
	defer l.mu.RUnlock()

	balances := make([]Balance, 0, len(l.accounts))
	for _, acct := range l.accounts {
		if acct.amount.IsZero() {
			continue
		}
		balances = append(balances, Balance{Token: acct.token, Holder: acct.holder, Amount: acct.amount.ToBig()})
	}
	sort.Slice(balances, func(i, j int) bool {
		if c := bytes.Compare(balances[i].Token.Bytes(), balances[j].Token.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(balances[i].Holder.Bytes(), balances[j].Holder.Bytes()) < 0
	})
	return State{Tokens: tokens, Balances: balances}
}

// Restore replaces the ledger contents with s.
func (l *Ledger) Restore(s State) error {
	tokens := make(map[common.Address]*TokenInfo, len(s.Tokens)+1)
	tokens[Native] = &TokenInfo{Address: Native, Symbol: "NATIVE", Decimals: NativeDecimals}
	for _, t := range s.Tokens {
		if t.Decimals > MaxDecimals {
			return fmt.Errorf("%w: %s", ErrInvalidDecimals, t.Address.Hex())
		}
		info := t
		tokens[t.Address] = &info
	}

	accounts := make(map[common.Hash]*account, len(s.Balances))
	supply := make(map[common.Hash]*uint256.Int)
	for _, b := range s.Balances {
		if _, ok := tokens[b.Token]; !ok {
			return fmt.Errorf("%w: %s", ErrTokenNotRegistered, b.Token.Hex())
		}
		amt, overflow := uint256.FromBig(b.Amount)
		if overflow || b.Amount.Sign() < 0 {
			return ErrBalanceOverflow
		}
		accounts[accountKey(b.Token, b.Holder)] = &account{token: b.Token, holder: b.Holder, amount: amt}
		sk := supplyKey(b.Token)
		cur := supply[sk]
		if cur == nil {
			cur = new(uint256.Int)
		}
		supply[sk] = new(uint256.Int).Add(cur, amt)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = tokens
	l.accounts = accounts
	l.supply = supply
	return nil
}
