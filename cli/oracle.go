// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/luxfi/swapbridge/config"
	"github.com/luxfi/swapbridge/oracle"
)

func (a *app) oracleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Consensus prices",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "update [token]",
			Short: "Aggregate fresh prices for one token or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: a.run(func(ctx context.Context, s *session, args []string) error {
				if len(args) == 0 {
					snaps, err := s.RefreshPrices(ctx, s.caller)
					for token, snap := range snaps {
						s.printf("%s %s\n", token.Hex(), formatSnapshot(snap))
					}
					return err
				}
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				snap, err := s.Oracle.UpdatePrice(ctx, s.caller, token.Address)
				if err != nil {
					return err
				}
				s.printf("%s %s\n", token.Symbol, formatSnapshot(snap))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "price <token>",
			Short: "Show the current price",
			Args:  cobra.ExactArgs(1),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				data, err := s.Oracle.GetPriceData(token.Address)
				if err != nil {
					return err
				}
				s.printf("%s price=%s confidence=%d timestamp=%d valid=%t\n",
					token.Symbol, config.FormatAmount(data.Price, 18), data.Confidence, data.Timestamp, data.IsValid)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "twap <token> <window-seconds>",
			Short: "Show the time-weighted average price",
			Args:  cobra.ExactArgs(2),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				window, err := parseUint(args[1])
				if err != nil {
					return err
				}
				twap, err := s.Oracle.GetTWAP(token.Address, window)
				if err != nil {
					return err
				}
				s.printf("%s twap(%ds)=%s\n", token.Symbol, window, config.FormatAmount(twap, 18))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "emergency-price <token> <price>",
			Short: "Trip the circuit breaker with a fixed price",
			Args:  cobra.ExactArgs(2),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				price, err := config.ParseAmount(args[1], 18)
				if err != nil {
					return err
				}
				return s.Oracle.SetEmergencyPrice(s.caller, token.Address, price)
			}),
		},
		&cobra.Command{
			Use:   "clear-breaker <token>",
			Short: "Deactivate the circuit breaker",
			Args:  cobra.ExactArgs(1),
			RunE: a.run(func(_ context.Context, s *session, args []string) error {
				token, err := s.Token(args[0])
				if err != nil {
					return err
				}
				return s.Oracle.DeactivateCircuitBreaker(s.caller, token.Address)
			}),
		},
		&cobra.Command{
			Use:   "pause",
			Short: "Pause price updates",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				return s.Oracle.EmergencyPause(s.caller)
			}),
		},
		&cobra.Command{
			Use:   "unpause",
			Short: "Resume price updates",
			Args:  cobra.NoArgs,
			RunE: a.run(func(_ context.Context, s *session, _ []string) error {
				return s.Oracle.EmergencyUnpause(s.caller)
			}),
		},
	)
	return cmd
}

func formatSnapshot(s oracle.PriceSnapshot) string {
	return "price=" + config.FormatAmount(s.Price, 18) +
		" confidence=" + strconv.FormatUint(s.Confidence, 10) +
		" sources=" + strconv.FormatUint(s.SourceCount, 10)
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errInvalidArgument(s, err)
	}
	return v, nil
}
