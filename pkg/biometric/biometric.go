// Package biometric abstracts the platform biometric prompt.
//
// The session layer treats biometrics as a capability that may be absent:
// a Gateway reports whether hardware exists and whether the user enrolled,
// and Authenticate blocks on the platform prompt. No key material passes
// through this package; a successful prompt only authorizes the session
// layer to release the sealed key it holds.
package biometric

import "context"

// Result is the outcome of one authentication prompt.
type Result int

const (
	// ResultSuccess means the user passed the biometric check.
	ResultSuccess Result = iota
	// ResultFailure means the biometric did not match.
	ResultFailure
	// ResultCancelled means the user dismissed the prompt.
	ResultCancelled
	// ResultUnavailable means no usable biometric exists right now.
	ResultUnavailable
)

// String returns a human-readable result name.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultCancelled:
		return "cancelled"
	case ResultUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Gateway is the platform biometric bridge.
type Gateway interface {
	// HasHardware reports whether the device has a biometric sensor.
	HasHardware() bool

	// IsEnrolled reports whether the user has enrolled a biometric.
	IsEnrolled() bool

	// Authenticate shows the platform prompt and blocks until the user
	// responds or ctx is done. Context cancellation maps to
	// ResultCancelled.
	Authenticate(ctx context.Context, reason string) Result
}

// Unavailable returns a Gateway for platforms without a biometric bridge.
// Every prompt reports ResultUnavailable.
func Unavailable() Gateway {
	return unavailableGateway{}
}

type unavailableGateway struct{}

func (unavailableGateway) HasHardware() bool { return false }
func (unavailableGateway) IsEnrolled() bool  { return false }

func (unavailableGateway) Authenticate(ctx context.Context, reason string) Result {
	return ResultUnavailable
}
