// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func (a *app) ledgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Token registry and balances",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "tokens",
			Short: "List registered tokens",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				for _, t := range s.Ledger.Tokens() {
					s.printf("%-8s %s decimals=%d supply=%s\n",
						t.Symbol, t.Address.Hex(), t.Decimals, s.Format(t, s.Ledger.TotalSupply(t.Address)))
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "balance <token> <holder>",
			Short: "Show a holder's balance",
			Args:  cobra.ExactArgs(2),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				holder, err := s.Address(args[1])
				if err != nil {
					return err
				}
				s.printf("%s %s\n", s.Format(token, s.Ledger.BalanceOf(token.Address, holder)), token.Symbol)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "transfer <token> <to> <amount>",
			Short: "Transfer from the acting principal",
			Args:  cobra.ExactArgs(3),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				to, err := s.Address(args[1])
				if err != nil {
					return err
				}
				amount, err := s.Amount(token, args[2])
				if err != nil {
					return err
				}
				if err := s.Ledger.Transfer(token.Address, s.caller, to, amount); err != nil {
					return err
				}
				s.printf("transferred %s %s to %s\n", args[2], token.Symbol, to.Hex())
				return nil
			}),
		},
	)
	return cmd
}
