// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/luxfi/swapbridge/config"
)

func (a *app) poolCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Stable swap pool",
	}

	var (
		minOut   string
		ttl      uint64
		gasless  bool
		minMint  string
		stopFlag bool
	)

	swap := &cobra.Command{
		Use:   "swap <token-in> <token-out> <amount>",
		Short: "Swap from the acting principal",
		Args:  cobra.ExactArgs(3),
		RunE: a.run(func(_ context.Context, s *session, args []string) error {
			in, err := s.Token(args[0])
			if err != nil {
				return err
			}
			out, err := s.Token(args[1])
			if err != nil {
				return err
			}
			amount, err := s.Amount(in, args[2])
			if err != nil {
				return err
			}
			floor, err := s.Amount(out, minOut)
			if err != nil {
				return err
			}
			got, err := s.Pool.Swap(s.caller, in.Address, out.Address, amount, floor, s.Clock.Now()+ttl, gasless)
			if err != nil {
				return err
			}
			s.printf("swapped %s %s for %s %s\n", args[2], in.Symbol, s.Format(out, got), out.Symbol)
			return nil
		}),
	}
	swap.Flags().StringVar(&minOut, "min-out", "0", "minimum output in human units")
	swap.Flags().Uint64Var(&ttl, "ttl", 300, "deadline in seconds from now")
	swap.Flags().BoolVar(&gasless, "gasless", false, "relayer-sponsored swap")

	quote := &cobra.Command{
		Use:   "quote <token-in> <token-out> <amount>",
		Short: "Quote a swap without executing it",
		Args:  cobra.ExactArgs(3),
		RunE: a.run(func(_ context.Context, s *session, args []string) error {
			in, err := s.Token(args[0])
			if err != nil {
				return err
			}
			out, err := s.Token(args[1])
			if err != nil {
				return err
			}
			amount, err := s.Amount(in, args[2])
			if err != nil {
				return err
			}
			i, j := -1, -1
			for k, t := range s.Pool.Tokens() {
				switch t.Token {
				case in.Address:
					i = k
				case out.Address:
					j = k
				}
			}
			got, err := s.Pool.CalculateSwap(i, j, amount)
			if err != nil {
				return err
			}
			fee, err := s.Pool.CalculateSwapFee(in.Address, out.Address, amount)
			if err != nil {
				return err
			}
			s.printf("out=%s fee=%s %s\n", s.Format(out, got), s.Format(out, fee), out.Symbol)
			return nil
		}),
	}

	add := &cobra.Command{
		Use:   "add <amount>...",
		Short: "Deposit one amount per pool token, in pool order",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.run(func(_ context.Context, s *session, args []string) error {
			tokens := s.Pool.Tokens()
			if len(args) != len(tokens) {
				return errInvalidArgument(fmt.Sprint(args), fmt.Errorf("want %d amounts", len(tokens)))
			}
			amounts := make([]*big.Int, len(tokens))
			for k, t := range tokens {
				info, err := s.Ledger.Token(t.Token)
				if err != nil {
					return err
				}
				if amounts[k], err = s.Amount(info, args[k]); err != nil {
					return err
				}
			}
			floor, err := config.ParseAmount(minMint, 18)
			if err != nil {
				return errInvalidArgument(minMint, err)
			}
			minted, err := s.Pool.AddLiquidity(s.caller, amounts, floor, s.Clock.Now()+ttl)
			if err != nil {
				return err
			}
			s.printf("minted %s LP\n", config.FormatAmount(minted, 18))
			return nil
		}),
	}
	add.Flags().StringVar(&minMint, "min-mint", "0", "minimum LP to mint")
	add.Flags().Uint64Var(&ttl, "ttl", 300, "deadline in seconds from now")

	remove := &cobra.Command{
		Use:   "remove <lp-amount>",
		Short: "Burn LP shares for a proportional share of every token",
		Args:  cobra.ExactArgs(1),
		RunE: a.run(func(_ context.Context, s *session, args []string) error {
			lp, err := config.ParseAmount(args[0], 18)
			if err != nil {
				return errInvalidArgument(args[0], err)
			}
			amounts, err := s.Pool.RemoveLiquidity(s.caller, lp, nil, s.Clock.Now()+ttl)
			if err != nil {
				return err
			}
			for k, t := range s.Pool.Tokens() {
				info, err := s.Ledger.Token(t.Token)
				if err != nil {
					return err
				}
				s.printf("%s %s\n", s.Format(info, amounts[k]), info.Symbol)
			}
			return nil
		}),
	}
	remove.Flags().Uint64Var(&ttl, "ttl", 300, "deadline in seconds from now")

	seed := &cobra.Command{
		Use:   "seed <token> <amount>",
		Short: "Owner deposit without minting LP shares",
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
			return s.Pool.SeedLiquidity(s.caller, token.Address, amount)
		}),
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show pool value, balances and virtual price",
		Args:  cobra.NoArgs,
		RunE: a.run(func(_ context.Context, s *session, _ []string) error {
			st, err := s.Pool.GetPoolStats()
			if err != nil {
				return err
			}
			s.printf("value=%s tokens=%d A=%d lp=%s\n",
				config.FormatAmount(st.TotalValue, 18), st.TokenCount, st.CurrentA, config.FormatAmount(s.Pool.TotalSupply(), 18))
			for _, t := range s.Pool.Tokens() {
				info, err := s.Ledger.Token(t.Token)
				if err != nil {
					return err
				}
				s.printf("  %-8s %s stable=%t\n", info.Symbol, s.Format(info, t.Balance), t.IsStablecoin)
			}
			if vp, err := s.Pool.GetVirtualPrice(); err == nil {
				s.printf("virtual price=%s\n", config.FormatAmount(vp, 18))
			}
			return nil
		}),
	}

	emergency := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Set or clear the emergency stop",
		Args:  cobra.NoArgs,
		RunE: a.run(func(_ context.Context, s *session, _ []string) error {
			return s.Pool.SetEmergencyStop(s.caller, stopFlag)
		}),
	}
	emergency.Flags().BoolVar(&stopFlag, "active", true, "stop state")

	cmd.AddCommand(
		swap,
		quote,
		add,
		remove,
		seed,
		stats,
		emergency,
		&cobra.Command{
			Use:   "pause",
			Short: "Pause swaps and deposits (guardian)",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				return s.Pool.Pause(s.caller)
			}),
		},
		&cobra.Command{
			Use:   "unpause",
			Short: "Resume the pool (owner)",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				return s.Pool.Unpause(s.caller)
			}),
		},
	)
	return cmd
}
