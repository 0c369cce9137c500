package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/turnstile_agent/internal/solver"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9222" {
		t.Fatalf("CDPURL() = %q", cfg.CDPURL())
	}
	if cfg.Mode != ModeRelay || cfg.PolicyName != "standard" || cfg.Policy.Name != "standard" {
		t.Fatalf("mode/policy = %s/%s; want relay/standard", cfg.Mode, cfg.Policy.Name)
	}
	if cfg.AttachAttempts != 3 || cfg.AttachRetryDelay != 2*time.Second || cfg.MaxReattach != 3 {
		t.Fatalf("attach settings = %+v", cfg)
	}
	if cfg.DiscoveryInterval != 5*time.Second || !cfg.SpoofScreen || cfg.LaunchBrowser {
		t.Fatalf("discovery settings = %+v", cfg)
	}
}

func TestLoadPollModeDefaultsToUnbounded(t *testing.T) {
	t.Setenv("SOLVER_MODE", "POLL")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Policy.Name != "unbounded" || cfg.Policy.MaxRetries != 0 {
		t.Fatalf("policy = %s (max %d); want unbounded", cfg.Policy.Name, cfg.Policy.MaxRetries)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHROMIUM_CDP_PORT", "9333")
	t.Setenv("SOLVER_POLICY", "advanced")
	t.Setenv("SOLVER_ATTACH_RETRY_MS", "250")
	t.Setenv("SOLVER_ATTACH_RATE", "not-a-number")
	t.Setenv("SOLVER_PORT_CANDIDATES", " 127.0.0.1:9001 ,,127.0.0.1:9002")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPPort != 9333 || cfg.Policy.Name != "advanced" {
		t.Fatalf("port/policy = %d/%s", cfg.CDPPort, cfg.Policy.Name)
	}
	if cfg.AttachRetryDelay != 250*time.Millisecond {
		t.Fatalf("AttachRetryDelay = %v", cfg.AttachRetryDelay)
	}
	if cfg.AttachRate != 4 {
		t.Fatalf("AttachRate = %v; invalid values keep the default", cfg.AttachRate)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[1] != "127.0.0.1:9002" {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
}

func TestLoadRejectsUnknownModeAndPolicy(t *testing.T) {
	t.Setenv("SOLVER_MODE", "push")
	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an unknown mode")
	}
	t.Setenv("SOLVER_MODE", "relay")
	t.Setenv("SOLVER_POLICY", "fastest")
	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an unknown policy")
	}
}

func TestLoadPolicyFileOverlaysPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := `max_retries: 7
settle_delay: 750ms
pointer:
  kind: interpolated
  steps: 4
  step_delay: 10ms
matcher:
  contains: ["turnstile"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy("standard", path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if p.MaxRetries != 7 || p.SettleDelay != 750*time.Millisecond {
		t.Fatalf("overlay not applied: max=%d settle=%v", p.MaxRetries, p.SettleDelay)
	}
	if p.Pointer.Kind != solver.PointerInterpolated || p.Pointer.Steps != 4 {
		t.Fatalf("Pointer = %+v", p.Pointer)
	}
	if len(p.Matcher.Exact) != 2 || len(p.Matcher.Contains) != 1 {
		t.Fatalf("Matcher = %+v; preset exact titles must survive", p.Matcher)
	}
	if !p.SkipRepeatClick || p.PostClickDelay != 2*time.Second {
		t.Fatalf("untouched preset fields changed: %+v", p)
	}
}

func TestLoadPolicyFileValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("domains: [DOM, Storage]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy("legacy", path); err == nil {
		t.Fatal("LoadPolicy() accepted an unknown domain")
	}
	if _, err := LoadPolicy("legacy", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadPolicy() accepted a missing file")
	}
}
