package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/turnstile_agent/internal/controller"
	"github.com/dgnsrekt/turnstile_agent/internal/relay"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

type stubService struct {
	started []int
	action  string
	err     error
}

func (s *stubService) Health(context.Context) controller.Health {
	return controller.Health{Status: "ok", BrowserConnected: true, Mode: "relay", Policy: "standard"}
}

func (s *stubService) Tabs(context.Context) ([]controller.TabStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []controller.TabStatus{{TabID: 1, URL: "https://a.example", Active: true}}, nil
}

func (s *stubService) Sessions(context.Context) []tabs.SessionInfo {
	return []tabs.SessionInfo{{ID: "s1", TabID: 1, State: tabs.StateRunning}}
}

func (s *stubService) Start(_ context.Context, tab int) (controller.ToggleResult, error) {
	if s.err != nil {
		return controller.ToggleResult{}, s.err
	}
	s.started = append(s.started, tab)
	return controller.ToggleResult{TabID: tab, Changed: true, Active: true}, nil
}

func (s *stubService) Stop(_ context.Context, tab int) (controller.ToggleResult, error) {
	return controller.ToggleResult{TabID: tab}, nil
}

func (s *stubService) Message(_ context.Context, tab int, action string) (controller.ToggleResult, error) {
	if s.err != nil {
		return controller.ToggleResult{}, s.err
	}
	s.action = action
	return controller.ToggleResult{TabID: tab, Changed: true, Active: true, Action: action}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := do(t, NewServer(&stubService{}, nil), http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}

	w = do(t, NewServer(&stubService{}, nil), http.MethodGet, "/docs/events", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "session_ended") {
		t.Fatalf("events docs status = %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	w := do(t, NewServer(&stubService{}, nil), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	var got controller.Health
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Policy != "standard" {
		t.Fatalf("health = %+v", got)
	}
}

func TestListTabsAndSessions(t *testing.T) {
	h := NewServer(&stubService{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/tabs", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"tab_id":1`) {
		t.Fatalf("tabs status = %d; body = %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodGet, "/api/v1/sessions", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"state":"running"`) {
		t.Fatalf("sessions status = %d; body = %s", w.Code, w.Body.String())
	}
}

func TestStartTab(t *testing.T) {
	svc := &stubService{}
	w := do(t, NewServer(svc, nil), http.MethodPost, "/api/v1/tabs/4/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	if len(svc.started) != 1 || svc.started[0] != 4 {
		t.Fatalf("started = %v; want [4]", svc.started)
	}
}

func TestSendMessage(t *testing.T) {
	svc := &stubService{}
	w := do(t, NewServer(svc, nil), http.MethodPost, "/api/v1/tabs/2/messages", `{"action":"interactiveBegin"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	if svc.action != "interactiveBegin" {
		t.Fatalf("action = %q", svc.action)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &controller.CodedError{Code: controller.CodeValidation, Message: "bad"}, http.StatusBadRequest},
		{"tab not found", &controller.CodedError{Code: controller.CodeTabNotFound, Message: "gone"}, http.StatusNotFound},
		{"cdp unavailable", &controller.CodedError{Code: controller.CodeCDPUnavailable, Message: "down"}, http.StatusBadGateway},
		{"unknown", context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, NewServer(&stubService{err: tt.err}, nil), http.MethodPost, "/api/v1/tabs/1/start", "")
			if w.Code != tt.want {
				t.Fatalf("status = %d; want %d", w.Code, tt.want)
			}
		})
	}
}

func TestEventsRouteMountedWithBroker(t *testing.T) {
	w := do(t, NewServer(&stubService{}, relay.NewBroker()), http.MethodGet, "/api/v1/events?tabs=x", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400 from the stream filter", w.Code)
	}
	w = do(t, NewServer(&stubService{}, nil), http.MethodGet, "/api/v1/events", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404 without a broker", w.Code)
	}
}
