// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fault classifies errors returned by the oracle, pool and bridge.
//
// Every sentinel error in those packages is created with one of the
// constructors below, so callers can branch on the kind of failure with
// errors.Is without knowing the individual sentinels.
package fault

import "errors"

// Error kinds
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrPrecondition   = errors.New("precondition failed")
	ErrAuthorization  = errors.New("authorization error")
	ErrEconomicSafety = errors.New("economic safety error")
	ErrState          = errors.New("state error")
)

// Kind enumerates the error kinds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindPrecondition
	KindAuthorization
	KindEconomicSafety
	KindState
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindConfiguration, ErrConfiguration},
	{KindPrecondition, ErrPrecondition},
	{KindAuthorization, ErrAuthorization},
	{KindEconomicSafety, ErrEconomicSafety},
	{KindState, ErrState},
}

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindPrecondition:
		return "PreconditionFailed"
	case KindAuthorization:
		return "AuthorizationError"
	case KindEconomicSafety:
		return "EconomicSafetyError"
	case KindState:
		return "StateError"
	default:
		return "Unknown"
	}
}

// kindError is a sentinel tagged with its kind.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKind(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// Configuration returns a sentinel of kind ConfigurationError.
func Configuration(msg string) error { return newKind(ErrConfiguration, msg) }

// Precondition returns a sentinel of kind PreconditionFailed.
func Precondition(msg string) error { return newKind(ErrPrecondition, msg) }

// Authorization returns a sentinel of kind AuthorizationError.
func Authorization(msg string) error { return newKind(ErrAuthorization, msg) }

// EconomicSafety returns a sentinel of kind EconomicSafetyError.
func EconomicSafety(msg string) error { return newKind(ErrEconomicSafety, msg) }

// State returns a sentinel of kind StateError.
func State(msg string) error { return newKind(ErrState, msg) }

// KindOf reports the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}

// Exit codes used by the command line.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitConfiguration  = 2
	ExitPrecondition   = 3
	ExitAuthorization  = 4
	ExitEconomicSafety = 5
	ExitState          = 6
)

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindConfiguration:
		return ExitConfiguration
	case KindPrecondition:
		return ExitPrecondition
	case KindAuthorization:
		return ExitAuthorization
	case KindEconomicSafety:
		return ExitEconomicSafety
	case KindState:
		return ExitState
	default:
		return ExitFailure
	}
}
