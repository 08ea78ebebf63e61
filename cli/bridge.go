// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"
	"strconv"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"

	"github.com/luxfi/swapbridge/bridge"
	"github.com/luxfi/swapbridge/config"
	"github.com/luxfi/swapbridge/ledger"
)

func (a *app) bridgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Cross-chain transfers",
	}

	var (
		gasless    bool
		withdrawal bool
		chainID    uint32
	)

	out := &cobra.Command{
		Use:   "out <token> <amount> <recipient> <chain>",
		Short: "Bridge tokens from the acting principal",
		Args:  cobra.ExactArgs(4),
		RunE: a.run(func(ctx context.Context, s *session, args []string) error {
			token, err := s.Token(args[0])
			if err != nil {
				return err
			}
			amount, err := s.Amount(token, args[1])
			if err != nil {
				return err
			}
			to, err := s.Address(args[2])
			if err != nil {
				return err
			}
			chain, err := parseChain(args[3])
			if err != nil {
				return err
			}

			var tx *bridge.Transaction
			switch {
			case gasless:
				tx, err = s.Bridge.GaslessUSDTTransfer(ctx, s.caller, amount, to, chain)
			case token.Address == ledger.Native:
				tx, err = s.Bridge.BridgeNativeOut(ctx, s.caller, amount, to, chain)
			default:
				tx, err = s.Bridge.BridgeOut(ctx, s.caller, token.Address, amount, to, chain)
			}
			if tx != nil {
				s.printTx(tx)
			}
			return err
		}),
	}
	out.Flags().BoolVar(&gasless, "gasless", false, "paymaster-sponsored USDT transfer")

	in := &cobra.Command{
		Use:   "in <token> <amount> <recipient> <source-chain> <bridge-id>",
		Short: "Credit an inbound transfer (transport)",
		Args:  cobra.ExactArgs(5),
		RunE: a.run(func(_ context.Context, s *session, args []string) error {
			token, err := s.Token(args[0])
			if err != nil {
				return err
			}
			amount, err := s.Amount(token, args[1])
			if err != nil {
				return err
			}
			to, err := s.Address(args[2])
			if err != nil {
				return err
			}
			chain, err := parseChain(args[3])
			if err != nil {
				return err
			}
			tx, err := s.Bridge.BridgeIn(s.caller, token.Address, amount, to, chain, common.HexToHash(args[4]))
			if err != nil {
				return err
			}
			s.printTx(tx)
			return nil
		}),
	}

	btc := &cobra.Command{
		Use:   "bitcoin <recipient> <amount> <btc-tx-hash>",
		Short: "Settle a bitcoin deposit or withdrawal (bitcoin bridge)",
		Args:  cobra.ExactArgs(3),
		RunE: a.run(func(ctx context.Context, s *session, args []string) error {
			to, err := s.Address(args[0])
			if err != nil {
				return err
			}
			btcToken, err := s.Token(s.Config.Bridge.BTCToken)
			if err != nil {
				return err
			}
			amount, err := s.Amount(btcToken, args[1])
			if err != nil {
				return err
			}
			tx, err := s.Bridge.BridgeBitcoin(ctx, s.caller, to, amount, common.HexToHash(args[2]), withdrawal)
			if tx != nil {
				s.printTx(tx)
			}
			return err
		}),
	}
	btc.Flags().BoolVar(&withdrawal, "withdrawal", false, "release to the bitcoin network")

	fee := &cobra.Command{
		Use:   "fee <token> <amount>",
		Short: "Estimate the bridge fee",
		Args:  cobra.ExactArgs(2),
		RunE: a.run(func(_ context.Context, s *session, args []string) error {
			token, err := s.Token(args[0])
			if err != nil {
				return err
			}
			amount, err := s.Amount(token, args[1])
			if err != nil {
				return err
			}
			f, net := s.Bridge.EstimateBridgeFee(token.Address, amount)
			if chainID != 0 {
				f, net = s.Bridge.EstimateBridgeFeeForChain(token.Address, amount, chainID)
			}
			s.printf("fee=%s net=%s %s\n", s.Format(token, f), s.Format(token, net), token.Symbol)
			return nil
		}),
	}
	fee.Flags().Uint32Var(&chainID, "chain", 0, "destination chain for per-chain fees")

	cmd.AddCommand(
		out,
		in,
		btc,
		fee,
		&cobra.Command{
			Use:   "tx <id>",
			Short: "Show a bridge transaction",
			Args:  cobra.ExactArgs(1),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				id, err := parseUint(args[0])
				if err != nil {
					return err
				}
				tx, err := s.Bridge.GetBridgeTransaction(id)
				if err != nil {
					return err
				}
				s.printTx(tx)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "resubmit <id>",
			Short: "Hand an unsubmitted outbound transfer to the transport again (owner or transport)",
			Args:  cobra.ExactArgs(1),
			RunE: a.run(func(ctx context.Context, s *session, args []string) error {
				id, err := parseUint(args[0])
				if err != nil {
					return err
				}
				tx, err := s.Bridge.Resubmit(ctx, s.caller, id)
				if tx != nil {
					s.printTx(tx)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "unsubmitted",
			Short: "List outbound transfers awaiting the transport",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				for _, id := range s.Bridge.Unsubmitted() {
					s.printf("%d\n", id)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show lifetime totals",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				st := s.Bridge.GetBridgeStats()
				s.printf("volume=%s transactions=%d users=%d\n",
					config.FormatAmount(st.TotalVolume, 18), st.TotalTransactions, st.ActiveUsers)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "pause",
			Short: "Pause all transfers (owner)",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				return s.Bridge.Pause(s.caller)
			}),
		},
		&cobra.Command{
			Use:   "unpause",
			Short: "Resume transfers (owner)",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				return s.Bridge.Unpause(s.caller)
			}),
		},
	)
	return cmd
}

func (s *session) printTx(tx *bridge.Transaction) {
	info, err := s.Ledger.Token(tx.Token)
	if err != nil {
		info = ledger.TokenInfo{Address: tx.Token, Decimals: 18}
	}
	s.printf("tx %d %s %s %s amount=%s fee=%s chain=%d status=%s ref=%s\n",
		tx.ID, tx.Direction, tx.Kind, info.Symbol,
		s.Format(info, tx.Amount), s.Format(info, tx.Fee),
		tx.ChainID, tx.Status, tx.ExternalRef.Hex())
}

func parseChain(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errInvalidArgument(s, err)
	}
	return uint32(v), nil
}
