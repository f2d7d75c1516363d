package resilience

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a guarded dependency is short-circuited.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Guard wraps one upstream dependency with a circuit breaker. Closed
// passes calls through counting consecutive failures; crossing the
// threshold opens the circuit for the cool-down, after which a single
// probe is allowed before closing again.
type Guard struct {
	cb *gobreaker.CircuitBreaker
}

// NewGuard builds a breaker for the named dependency. threshold is the
// consecutive-failure count that opens the circuit, cooldown the open
// duration before the half-open probe.
func NewGuard(name string, threshold uint32, cooldown time.Duration, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"service", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Guard{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. While the circuit is open the
// call short-circuits with ErrCircuitOpen and fn is never invoked.
func (g *Guard) Execute(fn func() (any, error)) (any, error) {
	out, err := g.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return out, err
}

// State exposes the current breaker state name for health reporting.
func (g *Guard) State() string {
	return g.cb.State().String()
}

// Open reports whether calls are currently short-circuited.
func (g *Guard) Open() bool {
	return g.cb.State() == gobreaker.StateOpen
}
