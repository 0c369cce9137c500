package attach

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/dgnsrekt/turnstile_agent/internal/solver"
)

// EnableDomains enables each domain in order and stops at the first failure.
func EnableDomains(ctx context.Context, exec cdp.Executor, domains []string) error {
	c := cdp.WithExecutor(ctx, exec)
	for _, d := range domains {
		var err error
		switch d {
		case solver.DomainDOM:
			err = dom.Enable().Do(c)
		case solver.DomainPage:
			err = page.Enable().Do(c)
		case solver.DomainFocusEmulation:
			err = emulation.SetFocusEmulationEnabled(true).Do(c)
		case solver.DomainNetwork:
			err = network.Enable().Do(c)
		case solver.DomainRuntime:
			err = runtime.Enable().Do(c)
		default:
			err = fmt.Errorf("unknown domain")
		}
		if err != nil {
			return fmt.Errorf("enable %s: %w", d, err)
		}
	}
	return nil
}
