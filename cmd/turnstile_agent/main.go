package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/api"
	"github.com/dgnsrekt/turnstile_agent/internal/attach"
	"github.com/dgnsrekt/turnstile_agent/internal/browser"
	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/config"
	"github.com/dgnsrekt/turnstile_agent/internal/controller"
	"github.com/dgnsrekt/turnstile_agent/internal/discovery"
	"github.com/dgnsrekt/turnstile_agent/internal/netutil"
	"github.com/dgnsrekt/turnstile_agent/internal/relay"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("turnstile_agent config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"mode", cfg.Mode,
		"policy", cfg.Policy.Name,
		"policy_file", cfg.PolicyFile,
		"attach_attempts", cfg.AttachAttempts,
		"max_reattach", cfg.MaxReattach,
		"discovery_interval", cfg.DiscoveryInterval,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("turnstile_agent failed", "error", err)
		os.Exit(1)
	}
	slog.Info("turnstile_agent stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.BrowserStartURL,
			ProfileDir: cfg.BrowserProfileDir,
			BinaryPath: cfg.BrowserPath,
			Headless:   cfg.BrowserHeadless,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	filterCfg := relay.DefaultFilterConfig()
	if cfg.RelayConfig != "" {
		var err error
		if filterCfg, err = relay.LoadFilterConfig(cfg.RelayConfig); err != nil {
			return err
		}
	}

	cdpBrowser := cdpcontrol.NewBrowser(cfg.CDPURL(), cfg.ProtocolVersion, nil)
	err := cdpcontrol.Retry(ctx, cfg.AttachAttempts, cfg.AttachRetryDelay, "cdp connect", func(int) error {
		return cdpBrowser.Connect(ctx)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := cdpBrowser.Close(); err != nil {
			slog.Debug("CDP browser close failed", "error", err)
		}
	}()

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	registry := tabs.NewRegistry()
	claims := tabs.NewClaims()
	broker := relay.NewBroker()

	manager := attach.NewManager(gctx, cdpBrowser, registry, attach.Config{
		Policy:           cfg.Policy,
		AttachAttempts:   cfg.AttachAttempts,
		AttachRetryDelay: cfg.AttachRetryDelay,
		AttachRate:       cfg.AttachRate,
		MaxReattach:      cfg.MaxReattach,
	}, broker)

	pageRelay := relay.NewRelay(gctx, cdpBrowser, relay.NewFilter(filterCfg), manager, broker, cfg.SpoofScreen)
	if cfg.Mode == config.ModeRelay {
		if err := pageRelay.Start(); err != nil {
			_ = ln.Close()
			return err
		}
		if cfg.RelayConfig != "" {
			g.Go(func() error {
				err := relay.WatchFilterConfig(gctx, cfg.RelayConfig, func(fc relay.FilterConfig) {
					pageRelay.SetFilter(relay.NewFilter(fc))
				})
				if err != nil {
					slog.Warn("relay config hot reload disabled", "error", err)
				}
				return nil
			})
		}
	}

	disc := discovery.New(discovery.Guard(cdpBrowser, 3, 30*time.Second), claims, discovery.Config{
		Interval: cfg.DiscoveryInterval,
		// Start is idempotent, so poll mode restarts runs that ended.
		Revisit: cfg.Mode == config.ModePoll,
		OnNew: func(ctx context.Context, tab cdpcontrol.TabInfo) error {
			if cfg.Mode == config.ModePoll {
				manager.Start(tab.ID)
				return nil
			}
			return cdpcontrol.Retry(ctx, cfg.AttachAttempts, cfg.AttachRetryDelay, "relay watch", func(int) error {
				return pageRelay.Watch(ctx, tab.ID)
			})
		},
		OnGone: func(tab tabs.TabID) {
			manager.Stop(tab)
			pageRelay.Unwatch(tab)
			cdpBrowser.Directory().Forget(tab)
		},
	})
	if err := disc.Start(gctx); err != nil {
		_ = ln.Close()
		return err
	}

	svc := controller.NewService(cdpBrowser, manager, registry, claims, cfg.Mode)
	srv := &http.Server{Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		slog.Info("turnstile_agent listening", "addr", ln.Addr().String(), "docs", "http://"+ln.Addr().String()+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("turnstile_agent shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("turnstile_agent shutdown failed", "error", err)
		}
		disc.Stop()
		pageRelay.Stop()
		manager.Wait()
		return nil
	})

	return g.Wait()
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
