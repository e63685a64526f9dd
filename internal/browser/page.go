// File: internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/config"
)

// Page is one browser tab. It exposes the few primitives the login flow
// and the interceptor need; everything else stays behind chromedp.
type Page struct {
	ctx    context.Context
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func newPage(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Page {
	return &Page{ctx: ctx, cfg: cfg, logger: logger.Named("page")}
}

// Context returns the tab's chromedp context for packages that attach
// their own CDP listeners or actions.
func (p *Page) Context() context.Context {
	return p.ctx
}

// Navigate loads url and waits for the load event, bounded by the
// configured navigation timeout.
func (p *Page) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Location returns the tab's current URL.
func (p *Page) Location() (string, error) {
	var loc string
	if err := chromedp.Run(p.ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Title returns the current document title.
func (p *Page) Title() (string, error) {
	var title string
	if err := chromedp.Run(p.ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Exists reports whether any element matches the selector, visible or not.
func (p *Page) Exists(selector string) (bool, error) {
	var found bool
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("probe %q: %w", selector, err)
	}
	return found, nil
}

// Visible reports whether the first match for the selector takes part in
// layout.
func (p *Page) Visible(selector string) (bool, error) {
	var visible bool
	js := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return !!(el && (el.offsetParent !== null || el.getClientRects().length > 0)); })()`,
		selector)
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(js, &visible)); err != nil {
		return false, fmt.Errorf("probe visibility %q: %w", selector, err)
	}
	return visible, nil
}

// Click clicks the first visible match for the selector, giving up after
// timeout if no such element appears.
func (p *Page) Click(selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// ClickByText clicks the first element of the given tag whose trimmed text
// equals text. Returns false without error when nothing matched.
func (p *Page) ClickByText(tag, text string) (bool, error) {
	var clicked bool
	js := fmt.Sprintf(`(() => {
		const want = %q;
		for (const el of document.querySelectorAll(%q)) {
			if (el.textContent.trim() === want) { el.click(); return true; }
		}
		return false;
	})()`, text, tag)
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, fmt.Errorf("click by text %q: %w", text, err)
	}
	return clicked, nil
}

// Fill focuses the first match and types value into it.
func (p *Page) Fill(selector, value string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs js in the page and decodes its result into out. Pass a nil
// out to discard the result.
func (p *Page) Evaluate(js string, out interface{}) error {
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// WaitVisible blocks until the selector is visible or timeout elapses.
func (p *Page) WaitVisible(selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if err := chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Texts collects the trimmed text content of every element matching the
// selector, used for diagnostics when the flow dead-ends.
func (p *Page) Texts(selector string) ([]string, error) {
	var texts []string
	js := fmt.Sprintf(
		`Array.from(document.querySelectorAll(%q)).map(el => el.textContent.trim())`,
		selector)
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(js, &texts)); err != nil {
		return nil, fmt.Errorf("collect texts %q: %w", selector, err)
	}
	return texts, nil
}
