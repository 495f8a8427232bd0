package biometric

import (
	"context"
	"sync"
)

// Scripted is a Gateway that replays a fixed sequence of results. It backs
// tests and demos on machines without biometric hardware.
type Scripted struct {
	Hardware bool
	Enrolled bool

	mu      sync.Mutex
	results []Result
	prompts []string
}

// NewScripted returns a Scripted gateway reporting available, enrolled
// hardware that answers prompts with the given results in order. Once the
// script runs out, further prompts fail.
func NewScripted(results ...Result) *Scripted {
	return &Scripted{
		Hardware: true,
		Enrolled: true,
		results:  results,
	}
}

// HasHardware implements Gateway.
func (s *Scripted) HasHardware() bool { return s.Hardware }

// IsEnrolled implements Gateway.
func (s *Scripted) IsEnrolled() bool { return s.Enrolled }

// Authenticate implements Gateway. It consumes the next scripted result,
// unless ctx is already cancelled.
func (s *Scripted) Authenticate(ctx context.Context, reason string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, reason)

	if ctx.Err() != nil {
		return ResultCancelled
	}
	if !s.Hardware || !s.Enrolled {
		return ResultUnavailable
	}
	if len(s.results) == 0 {
		return ResultFailure
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next
}

// Prompts returns the reasons passed to Authenticate so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
