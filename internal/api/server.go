package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/turnstile_agent/internal/controller"
	"github.com/dgnsrekt/turnstile_agent/internal/relay"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Health(ctx context.Context) controller.Health
	Tabs(ctx context.Context) ([]controller.TabStatus, error)
	Sessions(ctx context.Context) []tabs.SessionInfo
	Start(ctx context.Context, tab int) (controller.ToggleResult, error)
	Stop(ctx context.Context, tab int) (controller.ToggleResult, error)
	Message(ctx context.Context, tab int, action string) (controller.ToggleResult, error)
}

type tabIDInput struct {
	TabID int `path:"tab_id" minimum:"1" doc:"Tab id assigned by the agent"`
}

type messageInput struct {
	TabID int `path:"tab_id" minimum:"1" doc:"Tab id assigned by the agent"`
	Body  struct {
		Action string `json:"action" doc:"start, interactiveBegin, stop or interactiveEnd"`
	}
}

type healthOutput struct {
	Body controller.Health
}

type tabsOutput struct {
	Body struct {
		Tabs []controller.TabStatus `json:"tabs"`
	}
}

type sessionsOutput struct {
	Body struct {
		Sessions []tabs.SessionInfo `json:"sessions"`
	}
}

type toggleOutput struct {
	Body controller.ToggleResult
}

// NewServer builds the control API. broker may be nil, in which case the
// event stream is not mounted.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Turnstile Agent API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(eventsDocsHTML)); err != nil {
			slog.Debug("events docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}

	registerHealthHandlers(api, svc)
	registerTabHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Agent health", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			return &healthOutput{Body: svc.Health(ctx)}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-sessions", Method: http.MethodGet, Path: "/api/v1/sessions", Summary: "List active solver sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*sessionsOutput, error) {
			out := &sessionsOutput{}
			out.Body.Sessions = svc.Sessions(ctx)
			return out, nil
		})
}

func registerTabHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List page tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			list, err := svc.Tabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = list
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "start-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/start", Summary: "Start solving a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*toggleOutput, error) {
			res, err := svc.Start(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &toggleOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "stop-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/stop", Summary: "Stop solving a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*toggleOutput, error) {
			res, err := svc.Stop(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &toggleOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "send-message", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/messages", Summary: "Send a runtime message for a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *messageInput) (*toggleOutput, error) {
			res, err := svc.Message(ctx, input.TabID, input.Body.Action)
			if err != nil {
				return nil, mapErr(err)
			}
			return &toggleOutput{Body: res}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
