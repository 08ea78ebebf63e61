// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/event"
	"github.com/luxfi/swapbridge/ledger"
)

type outbound struct {
	user      common.Address
	token     common.Address
	amount    *big.Int
	recipient common.Address
	chainID   uint32
	kind      Kind
	receipt   string
}

// BridgeOut pulls amount of token from caller and hands the transfer, net of
// fee, to the transport. A transport failure returns the committed record
// together with ErrTransportSubmit.
func (h *Handler) BridgeOut(
	ctx context.Context,
	caller, token common.Address,
	amount *big.Int,
	recipient common.Address,
	destChain uint32,
) (*Transaction, error) {
	return h.bridgeOut(ctx, outbound{
		user:      caller,
		token:     token,
		amount:    amount,
		recipient: recipient,
		chainID:   destChain,
		kind:      KindToken,
	})
}

// BridgeNativeOut is BridgeOut for the native asset.
func (h *Handler) BridgeNativeOut(
	ctx context.Context,
	caller common.Address,
	value *big.Int,
	recipient common.Address,
	destChain uint32,
) (*Transaction, error) {
	return h.bridgeOut(ctx, outbound{
		user:      caller,
		token:     ledger.Native,
		amount:    value,
		recipient: recipient,
		chainID:   destChain,
		kind:      KindNative,
	})
}

// GaslessUSDTTransfer bridges USDT with gas paid by the paymaster.
func (h *Handler) GaslessUSDTTransfer(
	ctx context.Context,
	caller common.Address,
	amount *big.Int,
	recipient common.Address,
	destChain uint32,
) (*Transaction, error) {
	h.mu.RLock()
	usdt, pm := h.usdt, h.paymaster
	h.mu.RUnlock()

	if usdt == (common.Address{}) {
		return nil, fmt.Errorf("%w: usdt not configured", ErrInvalidToken)
	}
	if pm == nil {
		return nil, ErrPaymasterNotSet
	}
	if !pm.IsEligible(caller, usdt) {
		return nil, ErrNotEligible
	}

	req := outbound{
		user:      caller,
		token:     usdt,
		amount:    amount,
		recipient: recipient,
		chainID:   destChain,
		kind:      KindGasless,
	}
	price := h.priceOf(usdt)
	preview, err := h.previewOut(req, price)
	if err != nil {
		return nil, err
	}
	// Sponsorship is settled before any funds move.
	receipt, err := pm.Sponsor(ctx, *preview)
	if err != nil {
		h.log.Warn("bridge sponsorship failed", "user", caller.Hex(), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrSponsorshipFailed, err)
	}
	req.receipt = receipt

	tx, transport, err := h.commitOut(req, price)
	if err != nil {
		return nil, err
	}
	return h.submit(ctx, tx, transport)
}

// previewOut validates req without changing state and returns the record it
// would produce. The ID is provisional.
func (h *Handler) previewOut(req outbound, price *big.Int) (*Transaction, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.transport == nil {
		return nil, ErrTransportNotSet
	}
	now := h.clock.Now()
	if _, err := h.validateOut(req, price, now); err != nil {
		return nil, err
	}
	fee, net := h.feeFor(req.amount, h.effectiveFee(req.chainID))
	return &Transaction{
		ID:        h.nextID,
		User:      req.user,
		Token:     req.token,
		Amount:    new(big.Int).Set(req.amount),
		Fee:       fee,
		NetAmount: net,
		Recipient: req.recipient,
		ChainID:   req.chainID,
		Direction: DirectionOut,
		Kind:      req.kind,
		Status:    StatusInitiated,
		CreatedAt: now,
	}, nil
}

func (h *Handler) bridgeOut(ctx context.Context, req outbound) (*Transaction, error) {
	tx, transport, err := h.commitOut(req, h.priceOf(req.token))
	if err != nil {
		return nil, err
	}
	return h.submit(ctx, tx, transport)
}

// commitOut validates req, pulls the funds and records the transaction.
// Events are emitted after the lock is released.
func (h *Handler) commitOut(req outbound, price *big.Int) (*Transaction, Transport, error) {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.transport == nil {
		return nil, nil, ErrTransportNotSet
	}
	now := h.clock.Now()
	value, err := h.validateOut(req, price, now)
	if err != nil {
		return nil, nil, err
	}

	fee, net := h.feeFor(req.amount, h.effectiveFee(req.chainID))
	if err := h.ledger.Transfer(req.token, req.user, h.custody, req.amount); err != nil {
		return nil, nil, fmt.Errorf("pull %s: %w", req.token.Hex(), err)
	}

	tx := &Transaction{
		ID:        h.nextID,
		User:      req.user,
		Token:     req.token,
		Amount:    new(big.Int).Set(req.amount),
		Fee:       fee,
		NetAmount: net,
		Recipient: req.recipient,
		ChainID:   req.chainID,
		Direction: DirectionOut,
		Kind:      req.kind,
		Status:         StatusInitiated,
		SponsorReceipt: req.receipt,
		CreatedAt:      now,
	}
	h.record(tx)
	h.inflight[tx.ID] = true
	h.addFee(req.token, fee)
	h.recordActivity(req.user, value, now)

	h.log.Debug("bridge out committed",
		"id", tx.ID,
		"user", req.user.Hex(),
		"token", req.token.Hex(),
		"amount", req.amount.String(),
		"fee", fee.String(),
		"chain", req.chainID,
		"kind", req.kind.String(),
	)
	pending.Add(BridgeOutInitiated{
		ID:        tx.ID,
		User:      tx.User,
		Token:     tx.Token,
		Amount:    new(big.Int).Set(tx.Amount),
		Fee:       new(big.Int).Set(fee),
		Recipient: tx.Recipient,
		ChainID:   tx.ChainID,
		Kind:      tx.Kind,
	})
	return tx.clone(), h.transport, nil
}

// validateOut applies the outbound checks in order and returns the USD
// value of the transfer. Callers hold h.mu.
func (h *Handler) validateOut(req outbound, price *big.Int, now uint64) (*big.Int, error) {
	if !h.tokens[req.token] {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, req.token.Hex())
	}
	c, ok := h.chains[req.chainID]
	if !ok || !c.Supported {
		return nil, fmt.Errorf("%w: %d", ErrChainNotSupported, req.chainID)
	}
	if req.amount == nil || req.amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := h.checkBounds(req.token, req.amount); err != nil {
		return nil, err
	}
	if req.recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	rs := h.rate[req.user]
	if rs != nil && rs.HasActed && now < rs.LastAction+RateLimitWindow {
		return nil, fmt.Errorf("%w: next transfer at %d", ErrRateLimitExceeded, rs.LastAction+RateLimitWindow)
	}
	value, err := h.valueOf(req.token, req.amount, price)
	if err != nil {
		return nil, err
	}
	used := h.dailyVolume(req.user, now)
	if next := new(big.Int).Add(used, value); next.Cmp(MaxDailyVolume) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrDailyVolumeExceeded, next, MaxDailyVolume)
	}
	if h.paused {
		return nil, ErrPaused
	}
	if c.Paused {
		return nil, fmt.Errorf("%w: %d", ErrChainPaused, req.chainID)
	}
	if h.blacklist[req.user] {
		return nil, ErrBlacklisted
	}
	return value, nil
}

// checkBounds applies the token's raw limits when set, else the global
// normalised bounds.
func (h *Handler) checkBounds(token common.Address, amount *big.Int) error {
	lo, hi := MinBridgeAmount, MaxBridgeAmount
	subject := amount
	if l, ok := h.limits[token]; ok {
		lo, hi = l.Min, l.Max
	} else {
		norm, err := h.normalize(token, amount)
		if err != nil {
			return err
		}
		subject = norm
	}
	if subject.Cmp(lo) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrAmountTooSmall, subject, lo)
	}
	if subject.Cmp(hi) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrAmountTooLarge, subject, hi)
	}
	return nil
}

// normalize scales amount to 18 decimals.
func (h *Handler) normalize(token common.Address, amount *big.Int) (*big.Int, error) {
	dec, err := h.ledger.Decimals(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision-int(dec))), nil)
	return scale.Mul(scale, amount), nil
}

// valueOf returns the 18-decimal USD value of amount. Stablecoins count 1:1
// after normalisation. Any other token needs a valid oracle price.
func (h *Handler) valueOf(token common.Address, amount, price *big.Int) (*big.Int, error) {
	norm, err := h.normalize(token, amount)
	if err != nil {
		return nil, err
	}
	if h.stablecoins[token] {
		return norm, nil
	}
	if price == nil {
		return nil, fmt.Errorf("%w: %s", ErrPriceFeedStale, token.Hex())
	}
	norm.Mul(norm, price)
	return norm.Div(norm, unit), nil
}

// priceOf reads a valid oracle price for token, or nil. It must be called
// without h.mu held.
func (h *Handler) priceOf(token common.Address) *big.Int {
	h.mu.RLock()
	reader, stable := h.oracle, h.stablecoins[token]
	h.mu.RUnlock()

	if reader == nil || stable {
		return nil
	}
	data, err := reader.GetPriceData(token)
	if err != nil || !data.IsValid || data.Price == nil || data.Price.Sign() <= 0 {
		return nil
	}
	return new(big.Int).Set(data.Price)
}

func (h *Handler) effectiveFee(chainID uint32) uint64 {
	if c, ok := h.chains[chainID]; ok && c.HasFeeOverride {
		return c.FeeOverrideBps
	}
	return h.bridgeFee
}

func (h *Handler) feeFor(amount *big.Int, bps uint64) (fee, net *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	fee.Div(fee, big.NewInt(FeeDenominator))
	return fee, new(big.Int).Sub(amount, fee)
}

// dailyVolume returns the user's volume in the window containing now.
func (h *Handler) dailyVolume(user common.Address, now uint64) *big.Int {
	rs := h.rate[user]
	if rs == nil || rs.DailyVolume == nil || now >= rs.DailyWindowStart+DaySeconds {
		return new(big.Int)
	}
	return new(big.Int).Set(rs.DailyVolume)
}

func (h *Handler) recordActivity(user common.Address, value *big.Int, now uint64) {
	rs := h.rate[user]
	if rs == nil {
		rs = &RateLimitState{DailyVolume: new(big.Int)}
		h.rate[user] = rs
	}
	if now >= rs.DailyWindowStart+DaySeconds || rs.DailyVolume == nil {
		rs.DailyWindowStart = now
		rs.DailyVolume = new(big.Int)
	}
	rs.DailyVolume.Add(rs.DailyVolume, value)
	rs.LastAction = now
	rs.HasActed = true
	h.totalVolume.Add(h.totalVolume, value)
}

func (h *Handler) record(tx *Transaction) {
	h.txs[tx.ID] = tx
	h.nextID++
	h.totalTxs++
	h.userTxs[tx.User] = append(h.userTxs[tx.User], tx.ID)
}

func (h *Handler) addFee(token common.Address, fee *big.Int) {
	if fee.Sign() == 0 {
		return
	}
	acc, ok := h.collectedFees[token]
	if !ok {
		acc = new(big.Int)
		h.collectedFees[token] = acc
	}
	acc.Add(acc, fee)
}

// submit hands a committed transfer to the transport and attaches the
// returned reference.
func (h *Handler) submit(ctx context.Context, tx *Transaction, transport Transport) (*Transaction, error) {
	ref, err := transport.Submit(ctx, Submission{
		TxID:      tx.ID,
		Token:     tx.Token,
		Amount:    new(big.Int).Set(tx.NetAmount),
		Recipient: tx.Recipient,
		ChainID:   tx.ChainID,
	})

	h.mu.Lock()
	delete(h.inflight, tx.ID)
	if rec, ok := h.txs[tx.ID]; ok && err == nil {
		rec.ExternalRef = ref
		rec.Submitted = true
	}
	h.mu.Unlock()

	if err != nil {
		h.log.Warn("bridge transport submit failed", "id", tx.ID, "chain", tx.ChainID, "err", err)
		return tx, fmt.Errorf("%w: %v", ErrTransportSubmit, err)
	}
	tx.ExternalRef = ref
	tx.Submitted = true
	return tx, nil
}

// Resubmit hands an outbound transfer the transport never accepted back to
// the transport. Owner or transport only.
func (h *Handler) Resubmit(ctx context.Context, caller common.Address, id uint64) (*Transaction, error) {
	tx, transport, err := h.claimResubmit(caller, id)
	if err != nil {
		return nil, err
	}
	h.log.Info("bridge resubmit", "id", id, "by", caller.Hex())
	return h.submit(ctx, tx, transport)
}

func (h *Handler) claimResubmit(caller common.Address, id uint64) (*Transaction, Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if caller != h.owner && h.onlyTransport(caller) != nil {
		return nil, nil, ErrUnauthorizedCaller
	}
	if h.transport == nil {
		return nil, nil, ErrTransportNotSet
	}
	tx, ok := h.txs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	if tx.Direction != DirectionOut {
		return nil, nil, fmt.Errorf("%w: %d", ErrNotOutbound, id)
	}
	if tx.Status == StatusCompleted || tx.Submitted {
		return nil, nil, fmt.Errorf("%w: %d", ErrTransactionAlreadyProcessed, id)
	}
	if h.inflight[id] {
		return nil, nil, fmt.Errorf("%w: %d", ErrSubmitInFlight, id)
	}
	h.inflight[id] = true
	return tx.clone(), h.transport, nil
}

// Unsubmitted returns the IDs of outbound transfers awaiting a transport
// submission, in ascending order.
func (h *Handler) Unsubmitted() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []uint64
	for id, tx := range h.txs {
		if tx.Direction == DirectionOut && tx.Status == StatusInitiated && !tx.Submitted && !h.inflight[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CompleteBridgeOut marks an outbound transfer delivered. Transport only.
func (h *Handler) CompleteBridgeOut(caller common.Address, id uint64) error {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyTransport(caller); err != nil {
		return err
	}
	tx, ok := h.txs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	if tx.Direction != DirectionOut {
		return fmt.Errorf("%w: %d", ErrNotOutbound, id)
	}
	if tx.Status == StatusCompleted {
		return fmt.Errorf("%w: %d", ErrTransactionAlreadyProcessed, id)
	}
	tx.Status = StatusCompleted
	tx.CompletedAt = h.clock.Now()
	pending.Add(BridgeOutCompleted{ID: id, ExternalRef: tx.ExternalRef})
	return nil
}
