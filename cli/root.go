// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cli is the swapbridge command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/luxfi/geth/common"
	"github.com/spf13/cobra"

	"github.com/luxfi/swapbridge/bridge"
	"github.com/luxfi/swapbridge/config"
	"github.com/luxfi/swapbridge/engine"
	"github.com/luxfi/swapbridge/fault"
)

// Version is the release version.
var Version = "0.1.0"

// ErrInvalidArgument is returned for malformed command arguments.
var ErrInvalidArgument = fault.Precondition("invalid argument")

func errInvalidArgument(arg string, err error) error {
	return fmt.Errorf("%w: %q: %v", ErrInvalidArgument, arg, err)
}

type app struct {
	configFile string
	debug      bool
	as         string

	opts []engine.Option
}

// NewRootCommand builds the command tree.
func NewRootCommand(opts ...engine.Option) *cobra.Command {
	a := &app{opts: opts}
	root := &cobra.Command{
		Use:           "swapbridge",
		Short:         "Price oracle, stable swap pool and bridge handler",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configFile, "conf", "", "configuration file path")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.as, "as", "owner", "acting principal: role name or hex address")

	root.AddCommand(
		a.versionCommand(),
		a.ledgerCommand(),
		a.oracleCommand(),
		a.poolCommand(),
		a.bridgeCommand(),
	)
	return root
}

// Execute runs the CLI against os.Args and returns the process exit code.
func Execute() int {
	return Run(os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args and maps any error to its exit code.
func Run(args []string, stdout, stderr io.Writer, opts ...engine.Option) int {
	root := NewRootCommand(opts...)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return fault.ExitCode(err)
	}
	return 0
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "swapbridge version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
		},
	}
}

// session is one opened engine and the acting principal.
type session struct {
	*engine.Engine
	caller common.Address
	out    io.Writer
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// run opens the engine, runs fn and saves state on success. A bridge
// transfer the transport rejected is already committed, so it is saved too
// and can be resubmitted later.
func (a *app) run(fn func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(a.configFile)
		if err != nil {
			return err
		}
		if a.debug {
			cfg.Log.Level = "debug"
		}
		e, err := engine.Open(cfg, a.opts...)
		if err != nil {
			return err
		}
		caller, err := e.Address(a.as)
		if err != nil {
			e.Store.Close()
			return err
		}

		if err := fn(cmd.Context(), &session{Engine: e, caller: caller, out: cmd.OutOrStdout()}, args); err != nil {
			if errors.Is(err, bridge.ErrTransportSubmit) {
				return errors.Join(err, e.Close())
			}
			e.Store.Close()
			return err
		}
		return e.Close()
	}
}
