package solver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

const widgetTitle = "Widget containing a Cloudflare security challenge"

func testPolicy() Policy {
	return Policy{
		Name:       "test",
		Matcher:    Matcher{TagName: "IFRAME", Exact: []string{widgetTitle}},
		Pointer:    PointerConfig{Kind: PointerDiscrete},
		MaxRetries: 3,
		Bias:       Centroid,
	}
}

func newTestLoop(t *testing.T, tab tabs.TabID, p Policy, exec *fakeExec) (*Loop, *tabs.Registry) {
	t.Helper()
	reg := tabs.NewRegistry()
	s, _ := reg.Activate(tab)
	return &Loop{Exec: exec, Registry: reg, Session: s, Policy: p}, reg
}

func notAttached(tab tabs.TabID) error {
	return &cdpcontrol.ChannelError{Kind: cdpcontrol.KindNotAttached, TabID: tab, Message: "Debugger is not attached to the tab with id: 42"}
}

func otherErr(msg string) error {
	return &cdpcontrol.ChannelError{Kind: cdpcontrol.KindOther, Message: msg}
}

func TestLoopExhaustsAfterMaxRetries(t *testing.T) {
	exec := &fakeExec{handle: func(method string, _ json.RawMessage) (any, error) {
		return document(element(10, 110, "IFRAME", "src", "https://ads.example")), nil
	}}
	loop, _ := newTestLoop(t, 1, testPolicy(), exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonExhausted {
		t.Fatalf("Reason = %s; want exhausted", out.Reason)
	}
	if got := exec.count(dom.CommandGetDocument); got != 3 {
		t.Fatalf("getDocument calls = %d; want 3", got)
	}
	if got := loop.Session.Info(); got.State != tabs.StateTerminated || got.RetryCount != 3 {
		t.Fatalf("session = %+v; want terminated with 3 retries", got)
	}
}

func TestLoopClicksCentroidAndDetectsSolve(t *testing.T) {
	boxCalls := 0
	exec := &fakeExec{handle: func(method string, params json.RawMessage) (any, error) {
		switch method {
		case dom.CommandGetDocument:
			return document(element(10, 110, "IFRAME", "title", widgetTitle)), nil
		case dom.CommandGetBoxModel:
			boxCalls++
			if boxCalls > 1 {
				return nil, otherErr("Could not find node with given id")
			}
			return boxModel(10, 10, 110, 60), nil
		}
		return nil, nil
	}}
	p := testPolicy()
	p.DetachIsSuccess = true
	loop, _ := newTestLoop(t, 1, p, exec)

	var clicked []Point
	loop.OnClick = func(_ Node, pt Point) { clicked = append(clicked, pt) }

	out := loop.Run(context.Background())
	if out.Reason != ReasonSolved {
		t.Fatalf("Reason = %s (%v); want solved", out.Reason, out.Err)
	}

	events := exec.mouseEvents()
	wantTypes := []string{string(input.MouseMoved), string(input.MousePressed), string(input.MouseReleased)}
	if len(events) != len(wantTypes) {
		t.Fatalf("mouse events = %+v; want move/press/release", events)
	}
	for i, evt := range events {
		if evt.Type != wantTypes[i] || evt.X != 60 || evt.Y != 35 {
			t.Fatalf("event %d = %+v; want %s at (60,35)", i, evt, wantTypes[i])
		}
	}
	if len(clicked) != 1 || clicked[0] != (Point{60, 35}) {
		t.Fatalf("OnClick points = %+v; want [(60,35)]", clicked)
	}
	if got := loop.Session.LastClicked(); got != 110 {
		t.Fatalf("LastClicked() = %d; want backend node 110", got)
	}
}

func TestLoopReattachesTabNamedInError(t *testing.T) {
	exec := &fakeExec{handle: func(method string, _ json.RawMessage) (any, error) {
		return nil, notAttached(42)
	}}
	loop, reg := newTestLoop(t, 7, testPolicy(), exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonReattach || out.Tab != 42 {
		t.Fatalf("outcome = %+v; want reattach tab 42", out)
	}
	if got := exec.count(dom.CommandGetDocument); got != 1 {
		t.Fatalf("getDocument calls = %d; want the loop to stop polling after 1", got)
	}
	if !reg.Contains(7) {
		t.Fatal("reattach must leave the session for the manager to hand off")
	}
}

func TestLoopTabClosedDeregisters(t *testing.T) {
	exec := &fakeExec{handle: func(method string, _ json.RawMessage) (any, error) {
		return nil, &cdpcontrol.ChannelError{Kind: cdpcontrol.KindTabNotFound, Message: "No tab with given id 7"}
	}}
	loop, reg := newTestLoop(t, 7, testPolicy(), exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonTabClosed {
		t.Fatalf("Reason = %s; want tab_closed", out.Reason)
	}
	if reg.Contains(7) {
		t.Fatal("closed tab still in registry")
	}
}

func TestLoopStopsWhenDeregistered(t *testing.T) {
	var reg *tabs.Registry
	polls := 0
	exec := &fakeExec{handle: func(method string, _ json.RawMessage) (any, error) {
		if method == dom.CommandGetDocument {
			polls++
			if polls == 2 {
				reg.Deactivate(3)
			}
		}
		return document(), nil
	}}
	p := testPolicy()
	p.MaxRetries = 0
	loop, r := newTestLoop(t, 3, p, exec)
	reg = r

	out := loop.Run(context.Background())
	if out.Reason != ReasonStopped {
		t.Fatalf("Reason = %s; want stopped", out.Reason)
	}
	if polls != 2 {
		t.Fatalf("polls = %d; want exactly 2", polls)
	}
}

func TestLoopStoppedBeforeStart(t *testing.T) {
	exec := &fakeExec{handle: func(string, json.RawMessage) (any, error) { return document(), nil }}
	loop, reg := newTestLoop(t, 3, testPolicy(), exec)
	reg.Deactivate(3)

	if out := loop.Run(context.Background()); out.Reason != ReasonStopped {
		t.Fatalf("Reason = %s; want stopped", out.Reason)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("calls = %d; want none", len(exec.calls))
	}
}

func TestLoopSupersededSessionStops(t *testing.T) {
	exec := &fakeExec{handle: func(string, json.RawMessage) (any, error) { return document(), nil }}
	loop, reg := newTestLoop(t, 3, testPolicy(), exec)
	reg.Deactivate(3)
	reg.Activate(3)

	if out := loop.Run(context.Background()); out.Reason != ReasonStopped {
		t.Fatalf("Reason = %s; want stopped", out.Reason)
	}
	if !reg.Contains(3) {
		t.Fatal("newer session was removed")
	}
}

func TestLoopOtherErrorsCountAgainstBudget(t *testing.T) {
	exec := &fakeExec{handle: func(string, json.RawMessage) (any, error) {
		return nil, otherErr("Internal error")
	}}
	p := testPolicy()
	p.MaxRetries = 2
	loop, _ := newTestLoop(t, 1, p, exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonExhausted || out.Err == nil {
		t.Fatalf("outcome = %+v; want exhausted with error", out)
	}
	if got := exec.count(dom.CommandGetDocument); got != 2 {
		t.Fatalf("getDocument calls = %d; want 2", got)
	}
}

func TestLoopSkipsLastClickedCandidate(t *testing.T) {
	exec := &fakeExec{handle: func(method string, _ json.RawMessage) (any, error) {
		switch method {
		case dom.CommandGetDocument:
			return document(element(10, 110, "IFRAME", "title", widgetTitle)), nil
		case dom.CommandGetBoxModel:
			return boxModel(10, 10, 110, 60), nil
		}
		return nil, nil
	}}
	p := testPolicy()
	p.SkipRepeatClick = true
	loop, reg := newTestLoop(t, 1, p, exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonExhausted {
		t.Fatalf("Reason = %s; want exhausted once only the clicked frame remains", out.Reason)
	}
	presses := 0
	for _, evt := range exec.mouseEvents() {
		if evt.Type == string(input.MousePressed) {
			presses++
		}
	}
	if presses != 1 {
		t.Fatalf("presses = %d; want the frame clicked once", presses)
	}
	if got := exec.count(dom.CommandGetDocument); got != 4 {
		t.Fatalf("getDocument calls = %d; want click pass plus 3 repeat passes", got)
	}
	if got := loop.Session.Info(); got.Clicks != 1 || got.RetryCount != 3 {
		t.Fatalf("session = %+v; want 1 click and 3 retries", got)
	}
	if !reg.IsCurrent(loop.Session) {
		t.Fatal("loop released its own session")
	}
}

func TestLoopNewCandidateResetsRepeatCount(t *testing.T) {
	polls := 0
	exec := &fakeExec{handle: func(method string, params json.RawMessage) (any, error) {
		switch method {
		case dom.CommandGetDocument:
			polls++
			// The widget is replaced by a fresh frame on the third pass.
			if polls >= 3 {
				return document(element(11, 111, "IFRAME", "title", widgetTitle)), nil
			}
			return document(element(10, 110, "IFRAME", "title", widgetTitle)), nil
		case dom.CommandGetBoxModel:
			return boxModel(10, 10, 110, 60), nil
		}
		return nil, nil
	}}
	p := testPolicy()
	p.SkipRepeatClick = true
	p.MaxRetries = 2
	loop, _ := newTestLoop(t, 1, p, exec)

	if out := loop.Run(context.Background()); out.Reason != ReasonExhausted {
		t.Fatalf("Reason = %s; want exhausted", out.Reason)
	}
	if got := loop.Session.Info().Clicks; got != 2 {
		t.Fatalf("clicks = %d; want both frames clicked", got)
	}
	// click, repeat, click new frame, repeat, repeat
	if got := exec.count(dom.CommandGetDocument); got != 5 {
		t.Fatalf("getDocument calls = %d; want 5", got)
	}
}

func TestLoopInvalidPointerEndsRun(t *testing.T) {
	exec := &fakeExec{handle: func(string, json.RawMessage) (any, error) { return document(), nil }}
	p := testPolicy()
	p.Pointer.Kind = "teleport"
	loop, _ := newTestLoop(t, 1, p, exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonInvalidPolicy || out.Err == nil {
		t.Fatalf("outcome = %+v; want invalid policy with error", out)
	}
	if got := exec.count(dom.CommandGetDocument); got != 0 {
		t.Fatalf("getDocument calls = %d; want none", got)
	}
	if got := loop.Session.Info().State; got != tabs.StateTerminated {
		t.Fatalf("state = %s; want terminated", got)
	}
}

func TestLoopClicksRefreshControl(t *testing.T) {
	polls := 0
	exec := &fakeExec{handle: func(method string, params json.RawMessage) (any, error) {
		switch method {
		case dom.CommandGetDocument:
			polls++
			if polls > 1 {
				return document(), nil
			}
			frame := element(10, 110, "IFRAME", "title", widgetTitle)
			frame["contentDocument"] = map[string]any{"nodeId": 20, "backendNodeId": 120, "nodeName": "#document"}
			return document(frame), nil
		case dom.CommandQuerySelector:
			if boxParamsNodeID(params) != 20 {
				return map[string]any{"nodeId": 0}, nil
			}
			return map[string]any{"nodeId": 99}, nil
		case dom.CommandGetBoxModel:
			if boxParamsNodeID(params) == 99 {
				return boxModel(200, 100, 220, 120), nil
			}
			return boxModel(10, 10, 110, 60), nil
		}
		return nil, nil
	}}
	p := testPolicy()
	p.MaxRetries = 1
	p.RefreshSelector = "#refresh"
	p.DetachIsSuccess = true
	loop, _ := newTestLoop(t, 1, p, exec)

	out := loop.Run(context.Background())
	if out.Reason != ReasonExhausted {
		t.Fatalf("Reason = %s; want exhausted after the refresh pass", out.Reason)
	}

	var presses []mouseEvent
	for _, evt := range exec.mouseEvents() {
		if evt.Type == string(input.MousePressed) {
			presses = append(presses, evt)
		}
	}
	if len(presses) != 2 {
		t.Fatalf("presses = %+v; want frame then refresh", presses)
	}
	if presses[1].X != 210 || presses[1].Y != 110 {
		t.Fatalf("refresh press = %+v; want (210,110)", presses[1])
	}
}

func TestLoopSkipsCandidateWithoutGeometry(t *testing.T) {
	exec := &fakeExec{handle: func(method string, _ json.RawMessage) (any, error) {
		switch method {
		case dom.CommandGetDocument:
			return document(element(10, 110, "IFRAME", "title", widgetTitle)), nil
		case dom.CommandGetBoxModel:
			return nil, otherErr("Could not compute box model.")
		}
		return nil, nil
	}}
	p := testPolicy()
	p.MaxRetries = 2
	var reg *tabs.Registry
	loop, r := newTestLoop(t, 1, p, exec)
	reg = r
	polls := 0
	inner := exec.handle
	exec.handle = func(method string, params json.RawMessage) (any, error) {
		if method == dom.CommandGetDocument {
			polls++
			if polls == 4 {
				reg.Deactivate(1)
			}
		}
		return inner(method, params)
	}

	if out := loop.Run(context.Background()); out.Reason != ReasonStopped {
		t.Fatalf("Reason = %s; want stopped, geometry misses are not retries", out.Reason)
	}
	if len(exec.mouseEvents()) != 0 {
		t.Fatal("clicked a candidate without geometry")
	}
}

func TestLoopCanceledContext(t *testing.T) {
	exec := &fakeExec{handle: func(string, json.RawMessage) (any, error) { return document(), nil }}
	p := testPolicy()
	p.SettleDelay = time.Hour
	loop, _ := newTestLoop(t, 1, p, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := loop.Run(ctx)
	if out.Reason != ReasonCanceled || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("outcome = %+v; want canceled", out)
	}
}

func TestInterpolatedPointerWalksToTarget(t *testing.T) {
	exec := &fakeExec{handle: func(string, json.RawMessage) (any, error) { return nil, nil }}
	p := InterpolatedPointer{Steps: 10, StartOffset: Point{X: -50, Y: -20}}

	if err := p.Click(context.Background(), exec, Point{X: 100, Y: 80}); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	events := exec.mouseEvents()
	if len(events) != 13 {
		t.Fatalf("events = %d; want 11 moves + press + release", len(events))
	}
	if first := events[0]; first.X != 50 || first.Y != 60 {
		t.Fatalf("first move = %+v; want start offset (50,60)", first)
	}
	if last := events[10]; last.Type != string(input.MouseMoved) || last.X != 100 || last.Y != 80 {
		t.Fatalf("last move = %+v; want (100,80)", last)
	}
	if events[11].Type != string(input.MousePressed) || events[12].Type != string(input.MouseReleased) {
		t.Fatalf("tail = %+v; want press, release", events[11:])
	}
}

func TestPointerConfigBuild(t *testing.T) {
	ptr, err := PointerConfig{Kind: PointerInterpolated}.Build()
	if err != nil {
		t.Fatal(err)
	}
	ip, ok := ptr.(InterpolatedPointer)
	if !ok || ip.Steps != 10 {
		t.Fatalf("Build() = %#v; want InterpolatedPointer with 10 steps", ptr)
	}
	if _, ok := mustBuild(t, PointerConfig{}).(DiscretePointer); !ok {
		t.Fatal("empty kind should build a DiscretePointer")
	}
}

func mustBuild(t *testing.T, c PointerConfig) Pointer {
	t.Helper()
	p, err := c.Build()
	if err != nil {
		t.Fatal(err)
	}
	return p
}
