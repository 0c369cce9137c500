package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgnsrekt/turnstile_agent/internal/attach"
	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/solver"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

// Browser is the part of the DevTools connection the API reads.
type Browser interface {
	Connected() bool
	Tabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
}

// Solver starts and stops solving runs.
type Solver interface {
	Policy() solver.Policy
	Start(tab tabs.TabID) bool
	Stop(tab tabs.TabID) bool
	HandleMessage(ctx context.Context, tab tabs.TabID, action string) (bool, error)
}

// Health summarizes the daemon state.
type Health struct {
	Status           string `json:"status"`
	BrowserConnected bool   `json:"browser_connected"`
	ActiveSessions   int    `json:"active_sessions"`
	ClaimedTabs      int    `json:"claimed_tabs"`
	Mode             string `json:"mode"`
	Policy           string `json:"policy"`
}

// TabStatus is a page tab plus what the daemon is doing with it.
type TabStatus struct {
	TabID    int    `json:"tab_id"`
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Claimed  bool   `json:"claimed" doc:"Picked up by tab discovery"`
	Active   bool   `json:"active" doc:"Has a live solver session"`
}

// ToggleResult reports the outcome of a start, stop or message call.
type ToggleResult struct {
	TabID   int    `json:"tab_id"`
	Changed bool   `json:"changed"`
	Active  bool   `json:"active"`
	Action  string `json:"action,omitempty"`
}

// Service backs the control API.
type Service struct {
	browser  Browser
	solver   Solver
	registry *tabs.Registry
	claims   *tabs.Claims
	mode     string
}

func NewService(browser Browser, solver Solver, registry *tabs.Registry, claims *tabs.Claims, mode string) *Service {
	return &Service{browser: browser, solver: solver, registry: registry, claims: claims, mode: mode}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return newError(CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

func (s *Service) requireTabID(tab int) error {
	if tab < 1 {
		return newError(CodeValidation, fmt.Sprintf("tab_id must be positive, got %d", tab), nil)
	}
	return nil
}

// lookupTab checks that tab is an open page.
func (s *Service) lookupTab(ctx context.Context, tab int) error {
	list, err := s.listTabs(ctx)
	if err != nil {
		return err
	}
	for _, t := range list {
		if int(t.ID) == tab {
			return nil
		}
	}
	return newError(CodeTabNotFound, fmt.Sprintf("no tab with id: %d", tab), nil)
}

func (s *Service) listTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	if !s.browser.Connected() {
		return nil, newError(CodeCDPUnavailable, "browser is not connected", nil)
	}
	list, err := s.browser.Tabs(ctx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "list tabs failed", err)
	}
	return list, nil
}

func (s *Service) Health(context.Context) Health {
	h := Health{
		Status:           "ok",
		BrowserConnected: s.browser.Connected(),
		ActiveSessions:   s.registry.Len(),
		ClaimedTabs:      len(s.claims.List()),
		Mode:             s.mode,
		Policy:           s.solver.Policy().Name,
	}
	if !h.BrowserConnected {
		h.Status = "degraded"
	}
	return h
}

func (s *Service) Tabs(ctx context.Context) ([]TabStatus, error) {
	list, err := s.listTabs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TabStatus, 0, len(list))
	for _, t := range list {
		out = append(out, TabStatus{
			TabID:    int(t.ID),
			TargetID: t.TargetID,
			URL:      t.URL,
			Title:    t.Title,
			Claimed:  s.claims.Has(t.ID),
			Active:   s.registry.Contains(t.ID),
		})
	}
	return out, nil
}

func (s *Service) Sessions(context.Context) []tabs.SessionInfo {
	return s.registry.List()
}

// Start begins solving an open tab. Starting an active tab changes nothing.
func (s *Service) Start(ctx context.Context, tab int) (ToggleResult, error) {
	if err := s.requireTabID(tab); err != nil {
		return ToggleResult{}, err
	}
	if err := s.lookupTab(ctx, tab); err != nil {
		return ToggleResult{}, err
	}
	changed := s.solver.Start(tabs.TabID(tab))
	return s.result(tab, changed, ""), nil
}

// Stop ends solving. It does not require the tab to still be open.
func (s *Service) Stop(_ context.Context, tab int) (ToggleResult, error) {
	if err := s.requireTabID(tab); err != nil {
		return ToggleResult{}, err
	}
	changed := s.solver.Stop(tabs.TabID(tab))
	return s.result(tab, changed, ""), nil
}

// Message feeds a runtime message for tab, exactly as the page relay would.
func (s *Service) Message(ctx context.Context, tab int, action string) (ToggleResult, error) {
	if err := s.requireTabID(tab); err != nil {
		return ToggleResult{}, err
	}
	if err := s.requireNonEmpty(action, "action"); err != nil {
		return ToggleResult{}, err
	}
	action = strings.TrimSpace(action)
	if err := s.lookupTab(ctx, tab); err != nil {
		return ToggleResult{}, err
	}
	changed, err := s.solver.HandleMessage(ctx, tabs.TabID(tab), action)
	if err != nil {
		if errors.Is(err, attach.ErrUnknownAction) {
			return ToggleResult{}, newError(CodeValidation, fmt.Sprintf("unknown action %q", action), err)
		}
		return ToggleResult{}, err
	}
	return s.result(tab, changed, action), nil
}

func (s *Service) result(tab int, changed bool, action string) ToggleResult {
	return ToggleResult{
		TabID:   tab,
		Changed: changed,
		Active:  s.registry.Contains(tabs.TabID(tab)),
		Action:  action,
	}
}
