// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

var errTransportDown = errors.New("transport unavailable")

// LoopbackTransport accepts every submission locally and derives its
// external reference from the submission contents. It backs the CLI and
// tests where no real relayer is running.
type LoopbackTransport struct {
	addr common.Address

	submitted []Submission
	fail      error

	mu sync.Mutex
}

// NewLoopbackTransport returns a transport acting as principal addr.
func NewLoopbackTransport(addr common.Address) *LoopbackTransport {
	return &LoopbackTransport{addr: addr}
}

// Address returns the transport principal.
func (t *LoopbackTransport) Address() common.Address { return t.addr }

// Submit records s and returns its reference.
func (t *LoopbackTransport) Submit(ctx context.Context, s Submission) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return common.Hash{}, t.fail
	}
	t.submitted = append(t.submitted, s)
	return submissionRef(s), nil
}

// SetDown makes subsequent submissions fail.
func (t *LoopbackTransport) SetDown(down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if down {
		t.fail = errTransportDown
	} else {
		t.fail = nil
	}
}

// Submitted returns the accepted submissions in order.
func (t *LoopbackTransport) Submitted() []Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Submission(nil), t.submitted...)
}

// submissionRef hashes the submission fields with blake3.
func submissionRef(s Submission) common.Hash {
	var buf [8]byte
	h := blake3.New()
	binary.BigEndian.PutUint64(buf[:], s.TxID)
	h.Write(buf[:])
	h.Write(s.Token.Bytes())
	amount := s.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	h.Write(amount.Bytes())
	h.Write(s.Recipient.Bytes())
	binary.BigEndian.PutUint32(buf[:4], s.ChainID)
	h.Write(buf[:4])

	var ref common.Hash
	copy(ref[:], h.Sum(nil))
	return ref
}

// AllowListPaymaster sponsors gas for an explicit set of users and tokens.
type AllowListPaymaster struct {
	users  map[common.Address]bool
	tokens map[common.Address]bool
	fail   error

	mu sync.RWMutex
}

// NewAllowListPaymaster sponsors transfers of the given tokens.
func NewAllowListPaymaster(tokens ...common.Address) *AllowListPaymaster {
	p := &AllowListPaymaster{
		users:  make(map[common.Address]bool),
		tokens: make(map[common.Address]bool),
	}
	for _, t := range tokens {
		p.tokens[t] = true
	}
	return p
}

// Allow adds or removes user from the allow list.
func (p *AllowListPaymaster) Allow(user common.Address, allowed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if allowed {
		p.users[user] = true
	} else {
		delete(p.users, user)
	}
}

// SetDown makes subsequent sponsorships fail.
func (p *AllowListPaymaster) SetDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if down {
		p.fail = errors.New("paymaster unavailable")
	} else {
		p.fail = nil
	}
}

// IsEligible reports whether user may have token transfers sponsored.
func (p *AllowListPaymaster) IsEligible(user, token common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.users[user] && p.tokens[token]
}

// Sponsor returns a receipt id for tx.
func (p *AllowListPaymaster) Sponsor(ctx context.Context, tx Transaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.fail != nil {
		return "", p.fail
	}
	if !p.users[tx.User] || !p.tokens[tx.Token] {
		return "", ErrNotEligible
	}
	return uuid.NewString(), nil
}
