package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/relay"
	"github.com/dgnsrekt/turnstile_agent/internal/solver"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
	"golang.org/x/time/rate"
)

const timeoutDetach = 2 * time.Second

// Runtime message actions.
var (
	beginActions = map[string]bool{"start": true, "interactiveBegin": true}
	endActions   = map[string]bool{"stop": true, "interactiveEnd": true}
)

// ErrUnknownAction is returned for runtime messages that are neither a begin
// nor an end token.
var ErrUnknownAction = errors.New("unknown action")

// Host opens per-tab command channels.
type Host interface {
	Attach(ctx context.Context, tab tabs.TabID) (cdpcontrol.Channel, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(evt relay.Event)
}

type Config struct {
	Policy           solver.Policy
	AttachAttempts   int
	AttachRetryDelay time.Duration
	// AttachRate paces attach calls across tabs, per second. 0 disables pacing.
	AttachRate  float64
	MaxReattach int
}

// Manager turns start/stop signals into solver runs: attach, enable domains,
// loop, detach.
type Manager struct {
	ctx      context.Context
	host     Host
	registry *tabs.Registry
	cfg      Config
	events   Publisher
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

// NewManager creates a manager whose runs live until ctx is done. events may
// be nil.
func NewManager(ctx context.Context, host Host, registry *tabs.Registry, cfg Config, events Publisher) *Manager {
	limit := rate.Inf
	if cfg.AttachRate > 0 {
		limit = rate.Limit(cfg.AttachRate)
	}
	if cfg.AttachAttempts < 1 {
		cfg.AttachAttempts = 1
	}
	return &Manager{
		ctx:      ctx,
		host:     host,
		registry: registry,
		cfg:      cfg,
		events:   events,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (m *Manager) Policy() solver.Policy { return m.cfg.Policy }

// Start begins solving tab. It is a no-op returning false when the tab
// already has a live session.
func (m *Manager) Start(tab tabs.TabID) bool {
	s, created := m.registry.Activate(tab)
	if !created {
		slog.Debug("solver already running", "tab_id", tab, "session_id", s.ID)
		return false
	}
	slog.Info("solver start", "tab_id", tab, "session_id", s.ID)
	m.publish(relay.Event{Type: relay.EventSessionStarted, TabID: tab, SessionID: s.ID})

	m.wg.Add(1)
	go m.run(s)
	return true
}

// Stop ends solving for tab. The loop notices on its next iteration.
func (m *Manager) Stop(tab tabs.TabID) bool {
	if !m.registry.Deactivate(tab) {
		return false
	}
	slog.Info("solver stop", "tab_id", tab)
	return true
}

// HandleMessage applies a runtime message for tab. It reports whether the
// registry changed.
func (m *Manager) HandleMessage(_ context.Context, tab tabs.TabID, action string) (bool, error) {
	switch {
	case beginActions[action]:
		return m.Start(tab), nil
	case endActions[action]:
		return m.Stop(tab), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Wait blocks until every run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(s *tabs.Session) {
	defer m.wg.Done()
	log := slog.With("tab_id", s.Tab, "session_id", s.ID)

	var out solver.Outcome
	var err error
	defer func() {
		m.registry.Release(s)
		evt := relay.Event{Type: relay.EventSessionEnded, TabID: s.Tab, SessionID: s.ID, Reason: string(out.Reason)}
		if err != nil {
			evt.Reason = "error"
			evt.Error = err.Error()
		}
		m.publish(evt)
	}()

	for hop := 0; ; hop++ {
		out, err = m.attachAndSolve(s, log)
		if err != nil {
			log.Error("solver attach failed", "error", err)
			return
		}
		if out.Reason != solver.ReasonReattach {
			return
		}

		m.publish(relay.Event{Type: relay.EventReattach, TabID: out.Tab, SessionID: s.ID})
		if out.Tab != s.Tab {
			// The host named another tab; that tab gets its own run.
			log.Info("solver handing off to another tab", "target_tab_id", out.Tab)
			m.Start(out.Tab)
			return
		}
		if hop >= m.cfg.MaxReattach {
			log.Warn("solver reattach limit reached", "reattach", hop)
			return
		}
		if !m.registry.IsCurrent(s) {
			out.Reason = solver.ReasonStopped
			return
		}
		log.Info("solver reattaching", "reattach", hop+1)
	}
}

// attachAndSolve runs one attach → enable → loop → detach cycle.
func (m *Manager) attachAndSolve(s *tabs.Session, log *slog.Logger) (solver.Outcome, error) {
	ch, err := m.attach(s)
	if err != nil {
		return solver.Outcome{}, err
	}
	if ch == nil {
		return solver.Outcome{Reason: solver.ReasonStopped}, nil
	}
	s.SetState(tabs.StateRunning)
	m.publish(relay.Event{Type: relay.EventAttached, TabID: s.Tab, SessionID: s.ID})
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), timeoutDetach)
		defer cancel()
		if err := ch.Detach(ctx); err != nil {
			log.Warn("solver detach failed", "error", err)
			return
		}
		log.Debug("solver detached")
	}()

	if err := EnableDomains(m.ctx, ch, m.cfg.Policy.Domains); err != nil {
		return solver.Outcome{}, err
	}

	loop := &solver.Loop{
		Exec:     ch,
		Registry: m.registry,
		Session:  s,
		Policy:   m.cfg.Policy,
		Logger:   log,
		OnClick: func(_ solver.Node, pt solver.Point) {
			m.publish(relay.Event{Type: relay.EventClicked, TabID: s.Tab, SessionID: s.ID, X: pt.X, Y: pt.Y})
		},
	}
	return loop.Run(m.ctx), nil
}

// attach opens a channel with the bounded retry wrapper. It returns a nil
// channel and no error when the session stopped being current first.
func (m *Manager) attach(s *tabs.Session) (cdpcontrol.Channel, error) {
	var ch cdpcontrol.Channel
	err := cdpcontrol.Retry(m.ctx, m.cfg.AttachAttempts, m.cfg.AttachRetryDelay, "solver attach", func(attempt int) error {
		if !m.registry.IsCurrent(s) {
			return nil
		}
		if err := m.limiter.Wait(m.ctx); err != nil {
			return err
		}
		c, err := m.host.Attach(m.ctx, s.Tab)
		if err != nil {
			return err
		}
		ch = c
		return nil
	})
	if err != nil {
		m.publish(relay.Event{Type: relay.EventAttachFailed, TabID: s.Tab, SessionID: s.ID, Error: err.Error()})
		return nil, err
	}
	return ch, nil
}

func (m *Manager) publish(evt relay.Event) {
	if m.events != nil {
		m.events.Publish(evt)
	}
}
