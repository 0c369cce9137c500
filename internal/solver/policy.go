package solver

import (
	"fmt"
	"sort"
	"time"
)

// Protocol domains a policy can ask to have enabled before the loop starts.
const (
	DomainDOM            = "DOM"
	DomainPage           = "Page"
	DomainFocusEmulation = "Emulation.focus"
	DomainNetwork        = "Network"
	DomainRuntime        = "Runtime"
)

// Policy is one flavor of the solver loop.
type Policy struct {
	Name    string        `yaml:"name"`
	Matcher Matcher       `yaml:"matcher"`
	Pointer PointerConfig `yaml:"pointer"`

	// MaxRetries bounds consecutive misses; 0 never gives up.
	MaxRetries     int           `yaml:"max_retries"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	PostClickDelay time.Duration `yaml:"post_click_delay"`

	Bias            Bias     `yaml:"bias"`
	SkipRepeatClick bool     `yaml:"skip_repeat_click"`
	RefreshSelector string   `yaml:"refresh_selector"`
	DetachIsSuccess bool     `yaml:"detach_is_success"`
	Domains         []string `yaml:"domains"`
}

var (
	challengeTitles = []string{
		"Cloudflare challenge",
		"Widget containing a Cloudflare security challenge",
	}

	presets = map[string]Policy{
		// Single coarse click, left-biased X.
		"legacy": {
			Name:        "legacy",
			Matcher:     Matcher{TagName: "IFRAME", Exact: []string{"Cloudflare challenge"}},
			Pointer:     PointerConfig{Kind: PointerDiscrete, StepDelay: 500 * time.Millisecond},
			MaxRetries:  3,
			SettleDelay: time.Second,
			Bias:        Bias{X: 0.25, Y: 0.5},
			Domains:     []string{DomainDOM, DomainPage},
		},
		"standard": {
			Name:            "standard",
			Matcher:         Matcher{TagName: "IFRAME", Exact: challengeTitles},
			Pointer:         PointerConfig{Kind: PointerDiscrete, StepDelay: 500 * time.Millisecond},
			MaxRetries:      3,
			SettleDelay:     time.Second,
			RetryDelay:      time.Second,
			PostClickDelay:  2 * time.Second,
			Bias:            Centroid,
			SkipRepeatClick: true,
			DetachIsSuccess: true,
			Domains:         []string{DomainDOM, DomainPage, DomainFocusEmulation},
		},
		"advanced": {
			Name: "advanced",
			Matcher: Matcher{
				TagName:  "IFRAME",
				Exact:    challengeTitles,
				Contains: []string{"challenges.cloudflare.com", "turnstile", "cf-", "challenge"},
			},
			Pointer: PointerConfig{
				Kind:        PointerInterpolated,
				Steps:       10,
				StepDelay:   20 * time.Millisecond,
				SettleDelay: 100 * time.Millisecond,
				StartOffset: Point{X: -60, Y: -40},
				Jitter:      1.5,
			},
			MaxRetries:      5,
			SettleDelay:     500 * time.Millisecond,
			RetryDelay:      time.Second,
			PostClickDelay:  2 * time.Second,
			Bias:            Centroid,
			SkipRepeatClick: true,
			RefreshSelector: `#refresh, a[href*="refresh"], [aria-label*="refresh" i], [aria-label*="retry" i]`,
			DetachIsSuccess: true,
			Domains:         []string{DomainDOM, DomainPage, DomainFocusEmulation, DomainNetwork, DomainRuntime},
		},
		// Runs until stopped from outside.
		"unbounded": {
			Name:        "unbounded",
			Matcher:     Matcher{TagName: "IFRAME", Exact: []string{"Cloudflare challenge"}},
			Pointer:     PointerConfig{Kind: PointerDiscrete, StepDelay: time.Second},
			SettleDelay: 2 * time.Second,
			Bias:        Centroid,
			Domains:     []string{DomainDOM, DomainPage},
		},
	}
)

// Preset returns a copy of the named policy.
func Preset(name string) (Policy, error) {
	p, ok := presets[name]
	if !ok {
		return Policy{}, fmt.Errorf("unknown policy %q (want one of %v)", name, PresetNames())
	}
	p.Matcher.Exact = append([]string(nil), p.Matcher.Exact...)
	p.Matcher.Contains = append([]string(nil), p.Matcher.Contains...)
	p.Domains = append([]string(nil), p.Domains...)
	return p, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the fields a loop depends on.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("policy %s: max_retries must be >= 0", p.Name)
	}
	if len(p.Matcher.Exact) == 0 && len(p.Matcher.Contains) == 0 {
		return fmt.Errorf("policy %s: matcher needs exact or contains entries", p.Name)
	}
	if _, err := p.Pointer.Build(); err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}
	for _, d := range p.Domains {
		switch d {
		case DomainDOM, DomainPage, DomainFocusEmulation, DomainNetwork, DomainRuntime:
		default:
			return fmt.Errorf("policy %s: unknown domain %q", p.Name, d)
		}
	}
	return nil
}
