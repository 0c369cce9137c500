package solver

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
)

// Pointer synthesizes a left click at a point.
type Pointer interface {
	Click(ctx context.Context, exec cdp.Executor, pt Point) error
}

const (
	PointerDiscrete     = "discrete"
	PointerInterpolated = "interpolated"
)

// PointerConfig selects and tunes a Pointer.
type PointerConfig struct {
	Kind        string        `yaml:"kind"`
	Steps       int           `yaml:"steps"`
	StepDelay   time.Duration `yaml:"step_delay"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	StartOffset Point         `yaml:"start_offset"`
	Jitter      float64       `yaml:"jitter"`
}

// Build returns the configured Pointer.
func (c PointerConfig) Build() (Pointer, error) {
	switch c.Kind {
	case "", PointerDiscrete:
		return DiscretePointer{StepDelay: c.StepDelay}, nil
	case PointerInterpolated:
		steps := c.Steps
		if steps <= 0 {
			steps = 10
		}
		return InterpolatedPointer{
			Steps:       steps,
			StepDelay:   c.StepDelay,
			SettleDelay: c.SettleDelay,
			StartOffset: c.StartOffset,
			Jitter:      c.Jitter,
		}, nil
	default:
		return nil, fmt.Errorf("unknown pointer kind %q", c.Kind)
	}
}

// DiscretePointer sends move, press and release with StepDelay before each.
type DiscretePointer struct {
	StepDelay time.Duration
}

func (p DiscretePointer) Click(ctx context.Context, exec cdp.Executor, pt Point) error {
	if err := sleep(ctx, p.StepDelay); err != nil {
		return err
	}
	if err := mouseMove(ctx, exec, pt); err != nil {
		return err
	}
	if err := sleep(ctx, p.StepDelay); err != nil {
		return err
	}
	if err := mouseButton(ctx, exec, input.MousePressed, pt); err != nil {
		return err
	}
	if err := sleep(ctx, p.StepDelay); err != nil {
		return err
	}
	return mouseButton(ctx, exec, input.MouseReleased, pt)
}

// InterpolatedPointer jumps to pt+StartOffset, walks to pt in Steps linear
// mouseMoved events, settles, then presses and releases.
type InterpolatedPointer struct {
	Steps       int
	StepDelay   time.Duration
	SettleDelay time.Duration
	StartOffset Point
	Jitter      float64
}

func (p InterpolatedPointer) Click(ctx context.Context, exec cdp.Executor, pt Point) error {
	start := Point{X: pt.X + p.StartOffset.X, Y: pt.Y + p.StartOffset.Y}
	if err := mouseMove(ctx, exec, start); err != nil {
		return err
	}
	for i := 1; i <= p.Steps; i++ {
		t := float64(i) / float64(p.Steps)
		step := Point{
			X: start.X + (pt.X-start.X)*t,
			Y: start.Y + (pt.Y-start.Y)*t,
		}
		// the last step lands exactly on the target
		if i < p.Steps && p.Jitter > 0 {
			step.X += (rand.Float64() - 0.5) * 2 * p.Jitter
			step.Y += (rand.Float64() - 0.5) * 2 * p.Jitter
		}
		if err := sleep(ctx, p.StepDelay); err != nil {
			return err
		}
		if err := mouseMove(ctx, exec, step); err != nil {
			return err
		}
	}
	if err := sleep(ctx, p.SettleDelay); err != nil {
		return err
	}
	if err := mouseButton(ctx, exec, input.MousePressed, pt); err != nil {
		return err
	}
	if err := sleep(ctx, p.SettleDelay); err != nil {
		return err
	}
	return mouseButton(ctx, exec, input.MouseReleased, pt)
}

func mouseMove(ctx context.Context, exec cdp.Executor, pt Point) error {
	return input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(cdp.WithExecutor(ctx, exec))
}

func mouseButton(ctx context.Context, exec cdp.Executor, typ input.MouseType, pt Point) error {
	return input.DispatchMouseEvent(typ, pt.X, pt.Y).
		WithButton(input.Left).
		WithClickCount(1).
		Do(cdp.WithExecutor(ctx, exec))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
