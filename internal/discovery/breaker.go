package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/sony/gobreaker/v2"
)

// guardedLister stops listing for a while after repeated failures, so a
// browser that went away is not queried on every sweep.
type guardedLister struct {
	inner Lister
	cb    *gobreaker.CircuitBreaker[[]cdpcontrol.TabInfo]
}

// Guard wraps inner with a circuit breaker that opens after maxFailures
// consecutive listing errors and probes again after cooldown.
func Guard(inner Lister, maxFailures uint32, cooldown time.Duration) Lister {
	if maxFailures == 0 {
		maxFailures = 3
	}
	cb := gobreaker.NewCircuitBreaker[[]cdpcontrol.TabInfo](gobreaker.Settings{
		Name:        "tab-listing",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &guardedLister{inner: inner, cb: cb}
}

func (g *guardedLister) Tabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	list, err := g.cb.Execute(func() ([]cdpcontrol.TabInfo, error) {
		return g.inner.Tabs(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("tab listing paused: %w", err)
	}
	return list, err
}
