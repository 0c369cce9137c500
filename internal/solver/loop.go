package solver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

// Reason says why a loop ended.
type Reason string

const (
	ReasonStopped   Reason = "stopped"
	ReasonExhausted Reason = "exhausted"
	ReasonTabClosed Reason = "tab_closed"
	ReasonSolved    Reason = "solved"
	ReasonReattach  Reason = "reattach"
	ReasonCanceled  Reason = "canceled"

	// ReasonInvalidPolicy means the loop could not be configured from its
	// Policy and never polled.
	ReasonInvalidPolicy Reason = "invalid_policy"
)

// Outcome is the terminal state of a loop. Tab is the tab to reattach when
// Reason is ReasonReattach.
type Outcome struct {
	Reason Reason
	Tab    tabs.TabID
	Err    error
}

// Loop scans one tab for challenge widgets and clicks them until its Session
// leaves the Registry or a terminal condition is reached.
type Loop struct {
	Exec     cdp.Executor
	Registry *tabs.Registry
	Session  *tabs.Session
	Policy   Policy
	Logger   *slog.Logger

	// OnClick, when set, is called after each dispatched click.
	OnClick func(node Node, pt Point)

	pointer Pointer
	misses  int
}

// step results
type step int

const (
	stepContinue step = iota
	stepDone
)

// Run drives the loop to completion.
func (l *Loop) Run(ctx context.Context) Outcome {
	if l.Logger == nil {
		l.Logger = slog.Default()
	}
	log := l.Logger.With("tab_id", l.Session.Tab, "session_id", l.Session.ID, "policy", l.Policy.Name)

	p, err := l.Policy.Pointer.Build()
	if err != nil {
		return l.finish(log, Outcome{Reason: ReasonInvalidPolicy, Err: err})
	}
	l.pointer = p
	l.misses = 0

	for {
		if !l.Registry.IsCurrent(l.Session) {
			return l.finish(log, Outcome{Reason: ReasonStopped})
		}
		if err := sleep(ctx, l.Policy.SettleDelay); err != nil {
			return l.finish(log, Outcome{Reason: ReasonCanceled, Err: err})
		}
		if !l.Registry.IsCurrent(l.Session) {
			return l.finish(log, Outcome{Reason: ReasonStopped})
		}

		out, st := l.iterate(ctx, log)
		if st == stepDone {
			return l.finish(log, out)
		}
	}
}

func (l *Loop) finish(log *slog.Logger, out Outcome) Outcome {
	if out.Reason == ReasonReattach {
		l.Session.SetState(tabs.StateReattaching)
	} else {
		l.Session.SetState(tabs.StateTerminated)
	}
	log.Info("solver loop ended", "reason", out.Reason, "clicks", l.Session.Info().Clicks, "error", out.Err)
	return out
}

func (l *Loop) iterate(ctx context.Context, log *slog.Logger) (Outcome, step) {
	nodes, err := Snapshot(ctx, l.Exec)
	if err != nil {
		return l.fail(ctx, log, err)
	}

	candidates := l.Policy.Matcher.Match(nodes)
	if len(candidates) == 0 {
		return l.miss(ctx, log)
	}

	l.Session.SetState(tabs.StateRunning)

	// A pass that only finds the widget it already clicked counts as a miss,
	// so a widget that never resolves still ends the run.
	clicked, repeats := false, 0
	execCtx := cdp.WithExecutor(ctx, l.Exec)
	for _, c := range candidates {
		if l.Policy.SkipRepeatClick && int64(c.BackendNodeID) == l.Session.LastClicked() {
			repeats++
			continue
		}

		model, err := dom.GetBoxModel().WithNodeID(c.NodeID).Do(execCtx)
		if err != nil {
			if cdpcontrol.KindOf(err) == cdpcontrol.KindOther && ctx.Err() == nil {
				log.Debug("candidate has no geometry", "node_id", c.NodeID, "error", err)
				continue
			}
			return l.fail(ctx, log, err)
		}
		pt, err := ClickPoint(model.Content, l.Policy.Bias)
		if err != nil {
			log.Debug("candidate quad unusable", "node_id", c.NodeID, "error", err)
			continue
		}

		if err := l.pointer.Click(ctx, l.Exec, pt); err != nil {
			return l.fail(ctx, log, err)
		}
		clicked = true
		l.misses = 0
		l.Session.SetRetryCount(0)
		l.Session.RecordClick(int64(c.BackendNodeID))
		log.Info("challenge clicked", "node_id", c.NodeID, "backend_node_id", c.BackendNodeID, "x", pt.X, "y", pt.Y)
		if l.OnClick != nil {
			l.OnClick(c, pt)
		}

		if err := sleep(ctx, l.Policy.PostClickDelay); err != nil {
			return Outcome{Reason: ReasonCanceled, Err: err}, stepDone
		}

		if l.Policy.RefreshSelector != "" {
			refreshed, err := l.clickRefresh(ctx, nodes, c)
			if err != nil {
				return l.fail(ctx, log, err)
			}
			if refreshed {
				log.Info("challenge refresh clicked", "node_id", c.NodeID)
				return Outcome{}, stepContinue
			}
		}

		if l.Policy.DetachIsSuccess {
			_, err := dom.GetBoxModel().WithNodeID(c.NodeID).Do(execCtx)
			if err != nil {
				if cdpcontrol.KindOf(err) == cdpcontrol.KindOther && ctx.Err() == nil {
					return Outcome{Reason: ReasonSolved}, stepDone
				}
				return l.fail(ctx, log, err)
			}
		}
	}
	if !clicked && repeats > 0 {
		return l.miss(ctx, log)
	}
	if !clicked {
		l.misses = 0
		l.Session.SetRetryCount(0)
	}
	return Outcome{}, stepContinue
}

// clickRefresh looks for the error/refresh control inside the candidate and
// clicks it. It reports whether a control was clicked.
func (l *Loop) clickRefresh(ctx context.Context, nodes []Node, c Node) (bool, error) {
	execCtx := cdp.WithExecutor(ctx, l.Exec)
	root, ok := contentDocument(nodes, c.NodeID)
	if !ok {
		root = c.NodeID
	}
	id, err := dom.QuerySelector(root, l.Policy.RefreshSelector).Do(execCtx)
	if err != nil {
		if cdpcontrol.KindOf(err) == cdpcontrol.KindOther && ctx.Err() == nil {
			return false, nil
		}
		return false, err
	}
	if id == 0 {
		return false, nil
	}
	model, err := dom.GetBoxModel().WithNodeID(id).Do(execCtx)
	if err != nil {
		if cdpcontrol.KindOf(err) == cdpcontrol.KindOther && ctx.Err() == nil {
			return false, nil
		}
		return false, err
	}
	pt, err := ClickPoint(model.Content, Centroid)
	if err != nil {
		return false, nil
	}
	if err := l.pointer.Click(ctx, l.Exec, pt); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Loop) miss(ctx context.Context, log *slog.Logger) (Outcome, step) {
	l.misses++
	l.Session.SetRetryCount(l.misses)
	l.Session.SetState(tabs.StateRetrying)
	if l.Policy.MaxRetries > 0 && l.misses >= l.Policy.MaxRetries {
		log.Info("no challenge found", "attempts", l.misses)
		return Outcome{Reason: ReasonExhausted}, stepDone
	}
	if err := sleep(ctx, l.Policy.RetryDelay); err != nil {
		return Outcome{Reason: ReasonCanceled, Err: err}, stepDone
	}
	return Outcome{}, stepContinue
}

// fail routes a channel error by kind.
func (l *Loop) fail(ctx context.Context, log *slog.Logger, err error) (Outcome, step) {
	if ctx.Err() != nil {
		return Outcome{Reason: ReasonCanceled, Err: ctx.Err()}, stepDone
	}
	var chErr *cdpcontrol.ChannelError
	errors.As(err, &chErr)

	switch cdpcontrol.KindOf(err) {
	case cdpcontrol.KindTabNotFound:
		l.Registry.Release(l.Session)
		return Outcome{Reason: ReasonTabClosed, Err: err}, stepDone
	case cdpcontrol.KindNotAttached:
		tab := l.Session.Tab
		if chErr != nil && chErr.TabID != 0 {
			tab = chErr.TabID
		}
		return Outcome{Reason: ReasonReattach, Tab: tab, Err: err}, stepDone
	}

	log.Warn("solver iteration failed", "error", err)
	l.misses++
	l.Session.SetRetryCount(l.misses)
	l.Session.SetState(tabs.StateRetrying)
	if l.Policy.MaxRetries > 0 && l.misses >= l.Policy.MaxRetries {
		return Outcome{Reason: ReasonExhausted, Err: err}, stepDone
	}
	return Outcome{}, stepContinue
}
