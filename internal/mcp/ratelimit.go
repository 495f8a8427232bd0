package mcp

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle keeps one token bucket per tool name so a chatty agent hammering
// item_list cannot starve vault_status.
type throttle struct {
	perSec rate.Limit
	burst  int

	mu    sync.Mutex
	tools map[string]*rate.Limiter
}

func newThrottle(perSec float64, burst int) *throttle {
	return &throttle{
		perSec: rate.Limit(perSec),
		burst:  burst,
		tools:  make(map[string]*rate.Limiter),
	}
}

// allow consumes one token for tool, or reports how long until the next
// call would be admitted.
func (t *throttle) allow(tool string) error {
	t.mu.Lock()
	lim, ok := t.tools[tool]
	if !ok {
		lim = rate.NewLimiter(t.perSec, t.burst)
		t.tools[tool] = lim
	}
	t.mu.Unlock()

	if lim.Allow() {
		return nil
	}
	reservation := lim.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return fmt.Errorf("rate limit exceeded for %s, retry in %s", tool, delay.Round(time.Millisecond))
}
