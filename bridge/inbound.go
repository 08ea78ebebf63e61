// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/swapbridge/event"
)

// BridgeIn credits recipient with a transfer the transport has already
// verified on sourceChain. bridgeID makes the call idempotent.
func (h *Handler) BridgeIn(
	caller, token common.Address,
	amount *big.Int,
	recipient common.Address,
	sourceChain uint32,
	bridgeID common.Hash,
) (*Transaction, error) {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.onlyTransport(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	if !h.tokens[token] {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotSupported, token.Hex())
	}
	if c, ok := h.chains[sourceChain]; !ok || !c.Supported {
		return nil, fmt.Errorf("%w: %d", ErrChainNotSupported, sourceChain)
	}
	if bridgeID == (common.Hash{}) {
		return nil, ErrInvalidTxHash
	}
	if h.processed[bridgeID] {
		return nil, fmt.Errorf("%w: %s", ErrTransactionAlreadyProcessed, bridgeID.Hex())
	}
	if h.paused {
		return nil, ErrPaused
	}
	if held := h.ledger.BalanceOf(token, h.custody); held.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: custody holds %s", ErrInsufficientLiquidity, held)
	}
	if err := h.ledger.Transfer(token, h.custody, recipient, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientLiquidity, err)
	}

	now := h.clock.Now()
	tx := &Transaction{
		ID:          h.nextID,
		User:        recipient,
		Token:       token,
		Amount:      new(big.Int).Set(amount),
		Fee:         new(big.Int),
		NetAmount:   new(big.Int).Set(amount),
		Recipient:   recipient,
		ChainID:     sourceChain,
		Direction:   DirectionIn,
		Kind:        KindToken,
		Status:      StatusInitiated,
		ExternalRef: bridgeID,
		CreatedAt:   now,
	}
	h.record(tx)
	h.processed[bridgeID] = true
	tx.Status = StatusCompleted
	tx.CompletedAt = now

	h.log.Debug("bridge in completed", "id", tx.ID, "token", token.Hex(), "amount", amount.String(), "chain", sourceChain)
	pending.Add(BridgeInCompleted{
		ID:        tx.ID,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		Recipient: recipient,
		ChainID:   sourceChain,
		BridgeID:  bridgeID,
	})
	return tx.clone(), nil
}

// BridgeBitcoin settles a bitcoin-side transfer keyed by its bitcoin
// transaction hash. A deposit credits wrapped bitcoin to recipient from
// custody. A withdrawal pulls wrapped bitcoin from recipient and submits it
// to the transport for release on the bitcoin network.
func (h *Handler) BridgeBitcoin(
	ctx context.Context,
	caller, recipient common.Address,
	amount *big.Int,
	btcTxHash common.Hash,
	isWithdrawal bool,
) (*Transaction, error) {
	tx, transport, err := h.commitBitcoin(caller, recipient, amount, btcTxHash, isWithdrawal)
	if err != nil {
		return nil, err
	}
	if !isWithdrawal {
		return tx, nil
	}
	return h.submit(ctx, tx, transport)
}

func (h *Handler) commitBitcoin(
	caller, recipient common.Address,
	amount *big.Int,
	btcTxHash common.Hash,
	isWithdrawal bool,
) (*Transaction, Transport, error) {
	pending := event.NewPending(h.events)
	defer pending.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.bitcoinBridge == (common.Address{}) || caller != h.bitcoinBridge {
		return nil, nil, ErrUnauthorizedCaller
	}
	if h.btcToken == (common.Address{}) {
		return nil, nil, fmt.Errorf("%w: bitcoin token not configured", ErrInvalidToken)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if recipient == (common.Address{}) {
		return nil, nil, ErrInvalidRecipient
	}
	if btcTxHash == (common.Hash{}) {
		return nil, nil, ErrInvalidTxHash
	}
	if h.btcSeen[btcTxHash] {
		return nil, nil, fmt.Errorf("%w: %s", ErrTransactionAlreadyProcessed, btcTxHash.Hex())
	}
	if h.paused {
		return nil, nil, ErrPaused
	}
	if isWithdrawal && h.transport == nil {
		return nil, nil, ErrTransportNotSet
	}

	now := h.clock.Now()
	tx := &Transaction{
		ID:          h.nextID,
		User:        recipient,
		Token:       h.btcToken,
		Amount:      new(big.Int).Set(amount),
		Fee:         new(big.Int),
		NetAmount:   new(big.Int).Set(amount),
		Recipient:   recipient,
		ChainID:     ChainBitcoin,
		Kind:        KindBitcoin,
		ExternalRef: btcTxHash,
		CreatedAt:   now,
	}
	if isWithdrawal {
		if err := h.ledger.Transfer(h.btcToken, recipient, h.custody, amount); err != nil {
			return nil, nil, fmt.Errorf("pull %s: %w", h.btcToken.Hex(), err)
		}
		tx.Direction = DirectionOut
		tx.Status = StatusInitiated
		h.inflight[tx.ID] = true
	} else {
		if held := h.ledger.BalanceOf(h.btcToken, h.custody); held.Cmp(amount) < 0 {
			return nil, nil, fmt.Errorf("%w: custody holds %s", ErrInsufficientLiquidity, held)
		}
		if err := h.ledger.Transfer(h.btcToken, h.custody, recipient, amount); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientLiquidity, err)
		}
		tx.Direction = DirectionIn
		tx.Status = StatusCompleted
		tx.CompletedAt = now
	}
	h.record(tx)
	h.btcSeen[btcTxHash] = true

	h.log.Info("bitcoin bridged", "id", tx.ID, "recipient", recipient.Hex(), "amount", amount.String(), "withdrawal", isWithdrawal)
	pending.Add(BitcoinBridged{
		ID:           tx.ID,
		Recipient:    recipient,
		Amount:       new(big.Int).Set(amount),
		BtcTxHash:    btcTxHash,
		IsWithdrawal: isWithdrawal,
	})
	return tx.clone(), h.transport, nil
}
