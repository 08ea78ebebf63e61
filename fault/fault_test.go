// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		code int
	}{
		{"configuration", Configuration("fee too high"), KindConfiguration, ExitConfiguration},
		{"precondition", Precondition("invalid amount"), KindPrecondition, ExitPrecondition},
		{"authorization", Authorization("not guardian"), KindAuthorization, ExitAuthorization},
		{"economic", EconomicSafety("slippage exceeded"), KindEconomicSafety, ExitEconomicSafety},
		{"state", State("paused"), KindState, ExitState},
		{"plain", errors.New("boom"), KindUnknown, ExitFailure},
		{"nil", nil, KindUnknown, ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.kind, KindOf(tt.err))
			require.Equal(t, tt.code, ExitCode(tt.err))
		})
	}
}

func TestWrappedSentinelKeepsKind(t *testing.T) {
	errPaused := State("paused")
	err := fmt.Errorf("%w: pool", errPaused)

	require.ErrorIs(t, err, errPaused)
	require.ErrorIs(t, err, ErrState)
	require.NotErrorIs(t, err, ErrPrecondition)
	require.Equal(t, "paused: pool", err.Error())
	require.Equal(t, "StateError", KindOf(err).String())
}
