package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

const timeoutDetach = time.Second

// Browser owns the DevTools connection, the tab directory and every flat
// session attached through it.
type Browser struct {
	cdpURL          string
	protocolVersion string
	dir             *Directory

	mu         sync.Mutex
	raw        *rawCDP
	lister     *chromedp.Browser
	listCancel context.CancelFunc
	sessions   map[target.SessionID]*Session
	unregister []func()
}

func NewBrowser(cdpURL, protocolVersion string, dir *Directory) *Browser {
	if dir == nil {
		dir = NewDirectory()
	}
	return &Browser{
		cdpURL:          cdpURL,
		protocolVersion: protocolVersion,
		dir:             dir,
		sessions:        make(map[target.SessionID]*Session),
	}
}

func (b *Browser) Directory() *Directory { return b.dir }

func (b *Browser) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	slog.Info("cdpcontrol connect start", "cdp_url", b.cdpURL)
	b.raw = newRawCDP(b.cdpURL)
	info, err := b.raw.connect(ctx)
	if err != nil {
		b.raw = nil
		return fmt.Errorf("connect to CDP failed: %w", err)
	}
	if b.protocolVersion != "" && info.ProtocolVersion != "" && info.ProtocolVersion != b.protocolVersion {
		slog.Warn("cdpcontrol protocol version mismatch", "want", b.protocolVersion, "got", info.ProtocolVersion)
	}

	b.unregister = append(b.unregister,
		b.raw.registerEventHandler(cdproto.EventTargetDetachedFromTarget, b.onDetachedFromTarget),
	)

	// Target enumeration uses a separate chromedp connection. It is dropped
	// by cancelling its context, which never closes the browser itself.
	listCtx, listCancel := context.WithCancel(context.Background())
	lister, err := chromedp.NewBrowser(listCtx, info.WebSocketDebuggerURL,
		chromedp.WithBrowserLogf(chromedpLogf(slog.LevelDebug)),
		chromedp.WithBrowserErrorf(chromedpLogf(slog.LevelWarn)),
	)
	if err != nil {
		listCancel()
		slog.Warn("chromedp listing connection failed, using /json/list", "error", err)
	} else {
		b.lister, b.listCancel = lister, listCancel
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", b.cdpURL, "browser", info.Browser, "protocol_version", info.ProtocolVersion)
	return nil
}

func (b *Browser) Connected() bool {
	b.mu.Lock()
	raw := b.raw
	b.mu.Unlock()
	return raw != nil && raw.connected()
}

// Close detaches every session without closing tabs and drops the connection.
func (b *Browser) Close() error {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		ctx, cancel := context.WithTimeout(context.Background(), timeoutDetach)
		if err := s.Detach(ctx); err != nil {
			slog.Debug("cdpcontrol close detach failed", "tab_id", s.tab, "error", err)
		}
		cancel()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fn := range b.unregister {
		fn()
	}
	b.unregister = nil
	if b.listCancel != nil {
		b.listCancel()
		b.lister, b.listCancel = nil, nil
	}
	if b.raw != nil {
		b.raw.close()
		b.raw = nil
	}
	slog.Info("cdpcontrol closed")
	return nil
}

// Tabs lists page targets and registers them in the directory. ctx bounds
// both the protocol call and the /json/list fallback.
func (b *Browser) Tabs(ctx context.Context) ([]TabInfo, error) {
	b.mu.Lock()
	raw, lister := b.raw, b.lister
	b.mu.Unlock()
	if raw == nil {
		return nil, fmt.Errorf("cdpcontrol: not connected")
	}

	var infos []*target.Info
	var err error
	if lister != nil {
		infos, err = target.GetTargets().Do(cdp.WithExecutor(ctx, lister))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("failed to list targets: %w", ctx.Err())
			}
			slog.Debug("chromedp target listing failed, falling back to /json/list", "error", err)
		}
	}
	if lister == nil || err != nil {
		infos, err = raw.listTargets(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list targets: %w", err)
		}
	}

	out := make([]TabInfo, 0, len(infos))
	for _, t := range infos {
		if t == nil || t.Type != "page" {
			continue
		}
		out = append(out, b.dir.Register(t.TargetID, t.URL, t.Title))
	}
	return out, nil
}

// Attach opens a flat session on tab.
func (b *Browser) Attach(ctx context.Context, tab tabs.TabID) (Channel, error) {
	b.mu.Lock()
	raw := b.raw
	b.mu.Unlock()
	if raw == nil {
		return nil, &ChannelError{Kind: KindOther, TabID: tab, Method: target.CommandAttachToTarget, Message: "not connected to browser"}
	}

	targetID, ok := b.dir.Target(tab)
	if !ok {
		return nil, &ChannelError{Kind: KindTabNotFound, TabID: tab, Method: target.CommandAttachToTarget, Message: fmt.Sprintf("no tab with id: %d", tab)}
	}

	sessionID, err := raw.attachToTarget(ctx, targetID)
	if err != nil {
		return nil, classifyErr(target.CommandAttachToTarget, err, tab)
	}

	s := &Session{tab: tab, targetID: targetID, sessionID: sessionID, raw: raw, onDetach: b.forgetSession}
	b.mu.Lock()
	b.sessions[sessionID] = s
	b.mu.Unlock()
	slog.Debug("cdpcontrol attached", "tab_id", tab, "target_id", targetID, "session_id", sessionID)
	return s, nil
}

// Subscribe registers fn for a CDP event emitted on any attached session.
// Events from unknown sessions are dropped.
func (b *Browser) Subscribe(method string, fn func(tab tabs.TabID, params json.RawMessage)) (func(), error) {
	b.mu.Lock()
	raw := b.raw
	b.mu.Unlock()
	if raw == nil {
		return nil, fmt.Errorf("cdpcontrol: not connected")
	}
	return raw.registerEventHandler(method, func(sessionID string, params json.RawMessage) {
		b.mu.Lock()
		s, ok := b.sessions[target.SessionID(sessionID)]
		b.mu.Unlock()
		if !ok {
			return
		}
		fn(s.tab, params)
	}), nil
}

func (b *Browser) forgetSession(s *Session) {
	b.mu.Lock()
	if cur, ok := b.sessions[s.sessionID]; ok && cur == s {
		delete(b.sessions, s.sessionID)
	}
	b.mu.Unlock()
}

func (b *Browser) onDetachedFromTarget(_ string, params json.RawMessage) {
	var evt target.EventDetachedFromTarget
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	b.mu.Lock()
	s, ok := b.sessions[evt.SessionID]
	if ok {
		delete(b.sessions, evt.SessionID)
	}
	b.mu.Unlock()
	if ok {
		s.markDetached()
		slog.Info("cdpcontrol session detached by browser", "tab_id", s.tab, "session_id", evt.SessionID)
	}
}

// IsHTTPURL reports whether a tab URL is a web page worth watching.
func IsHTTPURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func chromedpLogf(level slog.Level) func(string, ...any) {
	return func(format string, args ...any) {
		slog.Log(context.Background(), level, "chromedp: "+fmt.Sprintf(format, args...))
	}
}
