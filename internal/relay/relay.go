package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
	"github.com/google/uuid"
)

const timeoutDetach = 2 * time.Second

// Host is the browser side the relay needs.
type Host interface {
	Attach(ctx context.Context, tab tabs.TabID) (cdpcontrol.Channel, error)
	Subscribe(method string, fn func(tab tabs.TabID, params json.RawMessage)) (func(), error)
}

// Dispatcher receives relayed runtime messages.
type Dispatcher interface {
	HandleMessage(ctx context.Context, tab tabs.TabID, action string) (bool, error)
}

// Relay injects the postMessage listener into watched tabs and forwards the
// messages that pass its Filter to a Dispatcher.
type Relay struct {
	ctx      context.Context
	host     Host
	filter   atomic.Pointer[Filter]
	dispatch Dispatcher
	broker   *Broker
	binding  string
	script   string

	mu            sync.Mutex
	watched       map[tabs.TabID]cdpcontrol.Channel
	unregisterFns []func()
	wg            sync.WaitGroup
}

// NewRelay creates a relay. ctx bounds dispatched messages. broker may be nil.
func NewRelay(ctx context.Context, host Host, filter *Filter, dispatch Dispatcher, broker *Broker, spoofScreen bool) *Relay {
	binding := "__ts" + strings.ReplaceAll(uuid.NewString(), "-", "")
	r := &Relay{
		ctx:      ctx,
		host:     host,
		dispatch: dispatch,
		broker:   broker,
		binding:  binding,
		script:   listenerScript(binding, spoofScreen),
		watched:  make(map[tabs.TabID]cdpcontrol.Channel),
	}
	r.filter.Store(filter)
	return r
}

// SetFilter replaces the filter applied to subsequent messages.
func (r *Relay) SetFilter(f *Filter) {
	r.filter.Store(f)
}

// Start subscribes to binding calls.
func (r *Relay) Start() error {
	unreg, err := r.host.Subscribe(cdproto.EventRuntimeBindingCalled, r.onBindingCalled)
	if err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}
	r.mu.Lock()
	r.unregisterFns = append(r.unregisterFns, unreg)
	r.mu.Unlock()
	slog.Info("relay started", "binding", r.binding)
	return nil
}

// Stop unsubscribes, detaches every watched tab and waits for in-flight
// dispatches.
func (r *Relay) Stop() {
	r.mu.Lock()
	for _, fn := range r.unregisterFns {
		fn()
	}
	r.unregisterFns = nil
	watched := r.watched
	r.watched = make(map[tabs.TabID]cdpcontrol.Channel)
	r.mu.Unlock()

	for tab, ch := range watched {
		detach(tab, ch)
	}
	r.wg.Wait()
	slog.Info("relay stopped")
}

// Watch attaches a dedicated session to tab and installs the listener on the
// current and every future document.
func (r *Relay) Watch(ctx context.Context, tab tabs.TabID) error {
	if r.Watched(tab) {
		return nil
	}
	ch, err := r.host.Attach(ctx, tab)
	if err != nil {
		return err
	}
	c := cdp.WithExecutor(ctx, ch)
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Runtime.enable", func() error { return runtime.Enable().Do(c) }},
		{"Runtime.addBinding", func() error { return runtime.AddBinding(r.binding).Do(c) }},
		{"Page.enable", func() error { return page.Enable().Do(c) }},
		{"Page.addScriptToEvaluateOnNewDocument", func() error {
			_, err := page.AddScriptToEvaluateOnNewDocument(r.script).Do(c)
			return err
		}},
		{"Runtime.evaluate", func() error {
			_, exc, err := runtime.Evaluate(r.script).Do(c)
			if err == nil && exc != nil {
				err = fmt.Errorf("listener script threw: %s", exc.Text)
			}
			return err
		}},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			detach(tab, ch)
			return fmt.Errorf("relay: %s: %w", s.name, err)
		}
	}

	r.mu.Lock()
	if _, ok := r.watched[tab]; ok {
		r.mu.Unlock()
		detach(tab, ch)
		return nil
	}
	r.watched[tab] = ch
	r.mu.Unlock()
	slog.Info("relay watching tab", "tab_id", tab)
	return nil
}

// Unwatch detaches the relay session from tab.
func (r *Relay) Unwatch(tab tabs.TabID) {
	r.mu.Lock()
	ch, ok := r.watched[tab]
	delete(r.watched, tab)
	r.mu.Unlock()
	if ok {
		detach(tab, ch)
	}
}

func (r *Relay) Watched(tab tabs.TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watched[tab]
	return ok
}

func (r *Relay) onBindingCalled(tab tabs.TabID, params json.RawMessage) {
	var evt runtime.EventBindingCalled
	if err := json.Unmarshal(params, &evt); err != nil || evt.Name != r.binding {
		return
	}
	var msg Message
	if err := json.Unmarshal([]byte(evt.Payload), &msg); err != nil {
		slog.Debug("relay: bad payload", "tab_id", tab, "error", err)
		return
	}
	action, token, ok := r.filter.Load().Evaluate(msg)
	if !ok {
		return
	}
	slog.Info("relay message accepted", "tab_id", tab, "origin", msg.Origin, "token", token, "action", action)
	if r.broker != nil {
		r.broker.Publish(Event{Type: EventRelayMessage, TabID: tab, Action: action})
	}

	// Never dispatch on the read loop: the dispatcher issues CDP commands.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.dispatch.HandleMessage(r.ctx, tab, action); err != nil {
			slog.Warn("relay dispatch failed", "tab_id", tab, "action", action, "error", err)
		}
	}()
}

func detach(tab tabs.TabID, ch cdpcontrol.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutDetach)
	defer cancel()
	if err := ch.Detach(ctx); err != nil {
		slog.Debug("relay detach failed", "tab_id", tab, "error", err)
	}
}

// listenerScript forwards postMessage events from the top window to the
// binding. Filtering happens on the Go side.
func listenerScript(binding string, spoofScreen bool) string {
	cfg, _ := json.Marshal(struct {
		Binding string `json:"binding"`
		Spoof   bool   `json:"spoof"`
	}{binding, spoofScreen})

	return `(() => {
  const cfg = ` + string(cfg) + `;
  if (window.top !== window.self) return;
  const marker = Symbol.for(cfg.binding);
  if (window[marker]) return;
  Object.defineProperty(window, marker, { value: true });
  const send = window[cfg.binding];
  if (typeof send !== "function") return;
  if (cfg.spoof) {
    const sx = Math.floor(Math.random() * 401) + 800;
    const sy = Math.floor(Math.random() * 201) + 400;
    try {
      Object.defineProperty(MouseEvent.prototype, "screenX", { get() { return sx; } });
      Object.defineProperty(MouseEvent.prototype, "screenY", { get() { return sy; } });
    } catch (e) {}
  }
  window.addEventListener("message", (event) => {
    const d = event.data;
    if (!d || typeof d !== "object") return;
    const data = {};
    if (typeof d.action === "string") data.action = d.action;
    if (typeof d.event === "string") data.event = d.event;
    if (!data.action && !data.event) return;
    try {
      send(JSON.stringify({ origin: event.origin, self: event.source === window, data }));
    } catch (e) {}
  });
})();`
}
