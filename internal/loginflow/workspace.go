// File: internal/loginflow/workspace.go
package loginflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// workspaceTitleSelector collects the visible workspace names, used both
// by the text-match strategy and by failure diagnostics.
const workspaceTitleSelector = `[data-qa="workspace_card"] [data-qa="workspace_name"], .p-workspace_info__title, [data-qa="current_workspaces"] a`

// openButtonSelector matches the per-workspace launch control.
const openButtonSelector = `[data-qa="open_workspace"], [data-qa="workspace_card"] a, .p-workspaces_list a`

// clickStrategy attempts one way of activating the target workspace.
// It reports whether it actually fired a click; verification happens
// separately.
type clickStrategy struct {
	name  string
	click func(workspace string) (bool, error)
}

// selectWorkspace tries the strategies in order, verifying each click by
// watching for an observable page change. An unverified click falls
// through to the next strategy; a verified one sets the guard so no
// further click can fire.
func (c *Controller) selectWorkspace(ctx context.Context, workspace string) error {
	strategies := []clickStrategy{
		{name: "direct_link", click: c.clickDirectLink},
		{name: "title_match", click: c.clickByTitle},
		{name: "container_scan", click: c.clickByContainerScan},
		{name: "single_open_button", click: c.clickSoleOpenButton},
	}

	for _, strategy := range strategies {
		if c.workspaceClicked {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		startURL, err := c.page.Location()
		if err != nil {
			return err
		}

		fired, err := strategy.click(workspace)
		if err != nil {
			c.logger.Debug("Workspace click strategy errored.",
				zap.String("strategy", strategy.name), zap.Error(err))
			continue
		}
		if !fired {
			c.logger.Debug("Workspace click strategy found no target.",
				zap.String("strategy", strategy.name))
			continue
		}

		verified, err := c.verifyWorkspaceOpened(ctx, startURL)
		if err != nil {
			return err
		}
		if verified {
			c.workspaceClicked = true
			c.logger.Info("Workspace selection verified.",
				zap.String("strategy", strategy.name),
				zap.String("workspace", workspace))
			return nil
		}
		c.logger.Warn("Click fired but no page change observed; trying next strategy.",
			zap.String("strategy", strategy.name))
	}

	if c.workspaceClicked {
		return nil
	}

	titles, _ := c.page.Texts(workspaceTitleSelector)
	return c.failWithDiagnostics(fmt.Sprintf(
		"could not open workspace %q; visible workspaces: [%s]",
		workspace, strings.Join(titles, ", ")))
}

// verifyWorkspaceOpened polls for either a URL change or a post-login
// marker. Success requires one of the two; a click with no observable
// consequence is treated as a miss.
func (c *Controller) verifyWorkspaceOpened(ctx context.Context, startURL string) (bool, error) {
	attempts := uint(c.opts.VerifyTimeout / (250 * time.Millisecond))
	if attempts == 0 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			loc, err := c.page.Location()
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if loc != startURL {
				return nil
			}
			signedIn, err := c.page.Exists(signedInSelector)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if signedIn {
				return nil
			}
			return fmt.Errorf("no observable change yet")
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if retry.IsRecoverable(err) {
		// Budget exhausted without a change: not verified, not fatal.
		return false, nil
	}
	return false, err
}

// clickDirectLink targets the workspace's own subdomain link.
func (c *Controller) clickDirectLink(workspace string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector('a[href*=%q]');
		if (!el) return false;
		el.click();
		return true;
	})()`, workspace+".slack.com")

	var clicked bool
	if err := c.page.Evaluate(js, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// clickByTitle matches the rendered workspace name exactly.
func (c *Controller) clickByTitle(workspace string) (bool, error) {
	return c.page.ClickByText(workspaceTitleSelector, workspace)
}

// clickByContainerScan finds any element containing the workspace name and
// climbs to the nearest clickable ancestor.
func (c *Controller) clickByContainerScan(workspace string) (bool, error) {
	js := fmt.Sprintf(`((want) => {
		const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
		while (walker.nextNode()) {
			const node = walker.currentNode;
			if (!node.textContent.includes(want)) continue;
			let el = node.parentElement;
			for (let depth = 0; el && depth < 5; depth++) {
				if (el.tagName === 'A' || el.tagName === 'BUTTON' || el.onclick) {
					el.click();
					return true;
				}
				el = el.parentElement;
			}
		}
		return false;
	})(%q)`, workspace)

	var clicked bool
	if err := c.page.Evaluate(js, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// clickSoleOpenButton fires only when exactly one launch control exists,
// so an ambiguous multi-workspace list never gets a blind click.
func (c *Controller) clickSoleOpenButton(_ string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const buttons = document.querySelectorAll(%q);
		if (buttons.length !== 1) return false;
		buttons[0].click();
		return true;
	})()`, openButtonSelector)

	var clicked bool
	if err := c.page.Evaluate(js, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}
