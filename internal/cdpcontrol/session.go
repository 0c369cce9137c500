package cdpcontrol

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

// Channel is a per-tab command channel. It satisfies cdp.Executor so any
// cdproto command can run over it with cdp.WithExecutor.
type Channel interface {
	cdp.Executor
	Tab() tabs.TabID
	Detach(ctx context.Context) error
}

// Session is a flat CDP session attached to one tab.
type Session struct {
	tab       tabs.TabID
	targetID  target.ID
	sessionID target.SessionID
	raw       *rawCDP
	detached  atomic.Bool
	onDetach  func(*Session)
}

var _ Channel = (*Session)(nil)

func (s *Session) Tab() tabs.TabID { return s.tab }

func (s *Session) SessionID() target.SessionID { return s.sessionID }

// Execute sends method with params on the session and decodes the result
// into res when res is non-nil. Failures are *ChannelError.
func (s *Session) Execute(ctx context.Context, method string, params, res any) error {
	if s.detached.Load() {
		return &ChannelError{Kind: KindNotAttached, TabID: s.tab, Method: method, Message: "session is detached from the tab"}
	}
	raw, err := s.raw.call(ctx, string(s.sessionID), method, params)
	if err != nil {
		return classifyErr(method, err, s.tab)
	}
	if res == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return &ChannelError{Kind: KindOther, TabID: s.tab, Method: method, Message: "decode result: " + err.Error(), Cause: err}
	}
	return nil
}

// Detach ends the session. Detaching twice reports NotAttached.
func (s *Session) Detach(ctx context.Context) error {
	if s.detached.Swap(true) {
		return &ChannelError{Kind: KindNotAttached, TabID: s.tab, Method: target.CommandDetachFromTarget, Message: "session already detached"}
	}
	if s.onDetach != nil {
		defer s.onDetach(s)
	}
	if err := s.raw.detachFromTarget(ctx, s.sessionID); err != nil {
		return classifyErr(target.CommandDetachFromTarget, err, s.tab)
	}
	return nil
}

// markDetached is called when the browser reports the session gone.
func (s *Session) markDetached() {
	s.detached.Store(true)
}
