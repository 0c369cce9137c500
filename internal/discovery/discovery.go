package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
	"github.com/robfig/cron/v3"
)

// Lister enumerates open page tabs.
type Lister interface {
	Tabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
}

type Config struct {
	Interval time.Duration
	// OnNew is called once for each newly claimed http(s) tab.
	OnNew func(ctx context.Context, tab cdpcontrol.TabInfo) error
	// OnGone is called for each claimed tab that is no longer open.
	OnGone func(tab tabs.TabID)
	// Revisit calls OnNew on every sweep for every open http(s) tab, not
	// only on the sweep that claimed it.
	Revisit bool
}

// Discovery periodically sweeps open tabs, claiming new web pages and
// pruning closed ones.
type Discovery struct {
	lister Lister
	claims *tabs.Claims
	cfg    Config

	mu      sync.Mutex
	cron    *cron.Cron
	initial sync.WaitGroup
}

func New(lister Lister, claims *tabs.Claims, cfg Config) *Discovery {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Discovery{lister: lister, claims: claims, cfg: cfg}
}

// Start runs one sweep right away and then every Interval until Stop. A sweep
// still running when the next one is due is skipped.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return fmt.Errorf("discovery: already started")
	}

	logger := cronLogger{slog.Default().With("component", "discovery")}
	d.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	// the first sweep and scheduled ones share one skip guard
	job := cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		if err := d.Sweep(ctx); err != nil {
			slog.Warn("discovery sweep failed", "error", err)
		}
	}))
	d.cron.Schedule(cron.Every(d.cfg.Interval), job)
	d.cron.Start()

	d.initial.Add(1)
	go func() {
		defer d.initial.Done()
		job.Run()
	}()
	slog.Info("discovery started", "interval", d.cfg.Interval)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (d *Discovery) Stop() {
	d.mu.Lock()
	c := d.cron
	d.cron = nil
	d.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	d.initial.Wait()
	slog.Info("discovery stopped")
}

// Sweep lists tabs once, claims new http(s) pages and prunes closed ones.
func (d *Discovery) Sweep(ctx context.Context) error {
	list, err := d.lister.Tabs(ctx)
	if err != nil {
		return fmt.Errorf("list tabs: %w", err)
	}

	open := make(map[tabs.TabID]bool, len(list))
	for _, tab := range list {
		open[tab.ID] = true
		if !cdpcontrol.IsHTTPURL(tab.URL) {
			continue
		}
		if d.claims.Claim(tab.ID) {
			slog.Info("discovery claimed tab", "tab_id", tab.ID, "url", tab.URL)
		} else if !d.cfg.Revisit {
			continue
		}
		if d.cfg.OnNew == nil {
			continue
		}
		if err := d.cfg.OnNew(ctx, tab); err != nil {
			slog.Warn("discovery handler failed", "tab_id", tab.ID, "error", err)
		}
	}

	for _, id := range d.claims.List() {
		if open[id] {
			continue
		}
		d.claims.Unclaim(id)
		slog.Info("discovery pruned tab", "tab_id", id)
		if d.cfg.OnGone != nil {
			d.cfg.OnGone(id)
		}
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
