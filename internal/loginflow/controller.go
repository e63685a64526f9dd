// File: internal/loginflow/controller.go
package loginflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Page-classification selectors. The workspace list and the code entry
// form are mutually exclusive screens of the same sign-in host.
const (
	workspaceListSelector = `[data-qa="current_workspaces"], .p-workspaces_list, [data-qa="workspace_card"]`
	codeEntrySelector     = `[data-qa="confirmation_code_input"], .confirmation_code_input, input[aria-label*="digit"]`
	cookieBannerSelector  = `#onetrust-accept-btn-handler`
	signedInSelector      = `.p-client, #client-ui, [data-qa="client_container"]`
)

// Options bounds the flow's waits.
type Options struct {
	// ProbeTimeout caps a single classification round.
	ProbeTimeout time.Duration
	// GraceWait is the pause before the second classification attempt
	// when the first was inconclusive.
	GraceWait time.Duration
	// CodeWait caps how long the flow waits for the emailed code.
	CodeWait time.Duration
	// VerifyTimeout caps post-click verification of a workspace choice.
	VerifyTimeout time.Duration
}

// DefaultOptions are tuned for real page load behavior.
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:  15 * time.Second,
		GraceWait:     5 * time.Second,
		CodeWait:      5 * time.Minute,
		VerifyTimeout: 20 * time.Second,
	}
}

// FlowError is a terminal flow failure with page diagnostics attached.
type FlowError struct {
	State     State
	Reason    string
	URL       string
	PageTitle string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("login flow failed in state %s: %s (url=%q title=%q)", e.State, e.Reason, e.URL, e.PageTitle)
}

// Controller runs one sign-in attempt. Not safe for concurrent use; a
// controller is built per attempt and drives a single tab.
type Controller struct {
	page   Page
	codes  CodeSource
	gate   ChallengeGate
	opts   Options
	logger *zap.Logger

	// workspaceClicked is set once a click strategy verified success, so
	// no later strategy can fire a second click.
	workspaceClicked bool
}

// NewController wires the flow's collaborators.
func NewController(page Page, codes CodeSource, gate ChallengeGate, opts Options, logger *zap.Logger) *Controller {
	return &Controller{
		page:   page,
		codes:  codes,
		gate:   gate,
		opts:   opts,
		logger: logger.Named("loginflow"),
	}
}

// Run drives the sign-in page until the named workspace is opening, or
// returns a terminal error. The caller has already navigated to the
// sign-in page.
//
// notBefore is pinned before anything on the page is touched: the action
// that triggers the confirmation mail happens after this point, so any
// mail at or before it belongs to an earlier attempt.
func (c *Controller) Run(ctx context.Context, workspace string) error {
	notBefore := time.Now()

	c.dismissCookieBanner()

	state, err := c.classify(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("Sign-in page classified.", zap.Stringer("state", state))

	if state == StateUnknown {
		// One grace re-probe: slow render is common right after
		// navigation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.GraceWait):
		}
		if state, err = c.classify(ctx); err != nil {
			return err
		}
		c.logger.Info("Sign-in page reclassified after grace wait.", zap.Stringer("state", state))
	}

	switch state {
	case StateVerificationSucceeded:
		// The client is already loading; nothing left to drive.
		c.logger.Info("Session already signed in; skipping flow.")
		return nil

	case StateWorkspaceSelection:
		return c.selectWorkspace(ctx, workspace)

	case StateEmailVerification:
		if err := c.passEmailVerification(ctx, notBefore); err != nil {
			return err
		}
		return c.selectWorkspace(ctx, workspace)

	default:
		return c.failWithDiagnostics("page matched neither workspace selection nor email verification")
	}
}

// classify probes the candidate page classes concurrently and returns the
// first one that matches. Signed-in wins over everything: a still-valid
// session skips the flow entirely.
func (c *Controller) classify(ctx context.Context) (State, error) {
	probeCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()

	var signedIn, workspaces, codeEntry bool
	g, _ := errgroup.WithContext(probeCtx)
	g.Go(func() error {
		var err error
		signedIn, err = c.page.Exists(signedInSelector)
		return err
	})
	g.Go(func() error {
		var err error
		workspaces, err = c.page.Visible(workspaceListSelector)
		return err
	})
	g.Go(func() error {
		var err error
		codeEntry, err = c.page.Visible(codeEntrySelector)
		return err
	})
	if err := g.Wait(); err != nil {
		return StateUnknown, fmt.Errorf("probe sign-in page: %w", err)
	}

	switch {
	case signedIn:
		return StateVerificationSucceeded, nil
	case workspaces:
		return StateWorkspaceSelection, nil
	case codeEntry:
		return StateEmailVerification, nil
	default:
		return StateUnknown, nil
	}
}

// dismissCookieBanner is best-effort; a missing or already-dismissed
// banner is not an error.
func (c *Controller) dismissCookieBanner() {
	visible, err := c.page.Visible(cookieBannerSelector)
	if err != nil || !visible {
		return
	}
	if err := c.page.Click(cookieBannerSelector, 3*time.Second); err != nil {
		c.logger.Debug("Cookie banner click failed; continuing.", zap.Error(err))
		return
	}
	c.logger.Debug("Cookie banner dismissed.")
}

// passEmailVerification clears the challenge widget if one blocks the
// form, waits for the emailed code, and types it into the cells.
func (c *Controller) passEmailVerification(ctx context.Context, notBefore time.Time) error {
	if err := c.gate.Defeat(ctx); err != nil {
		return fmt.Errorf("challenge gate: %w", err)
	}

	code, err := c.codes.AwaitCode(ctx, notBefore, c.opts.CodeWait)
	if err != nil {
		return fmt.Errorf("await confirmation code: %w", err)
	}

	if err := c.enterCode(code); err != nil {
		return err
	}

	// The page advances on its own once the last cell is filled.
	if err := c.page.WaitVisible(workspaceListSelector, c.opts.VerifyTimeout); err != nil {
		return c.failWithDiagnostics("code accepted but workspace list never appeared")
	}
	c.logger.Info("Email verification passed.")
	return nil
}

// enterCode types the code into the per-character cells. The display
// hyphen is presentation only and is stripped before entry.
func (c *Controller) enterCode(code string) error {
	chars := strings.ReplaceAll(code, "-", "")
	c.logger.Info("Entering confirmation code.", zap.Int("cells", len(chars)))

	js := fmt.Sprintf(`((chars) => {
		const cells = document.querySelectorAll('%s input, input[aria-label*="digit"]');
		const inputs = cells.length ? cells : document.querySelectorAll('input[aria-label*="digit"]');
		if (inputs.length === 0) return false;
		for (let i = 0; i < inputs.length && i < chars.length; i++) {
			const el = inputs[i];
			el.focus();
			el.value = chars[i];
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
		}
		return true;
	})(%q)`, "[data-qa=\"confirmation_code_input\"], .confirmation_code_input", chars)

	var filled bool
	if err := c.page.Evaluate(js, &filled); err != nil {
		return fmt.Errorf("enter confirmation code: %w", err)
	}
	if !filled {
		return c.failWithDiagnostics("no code entry cells found on verification page")
	}
	return nil
}

// failWithDiagnostics builds a terminal FlowError carrying whatever page
// identity can still be read.
func (c *Controller) failWithDiagnostics(reason string) error {
	url, _ := c.page.Location()
	title, _ := c.page.Title()
	return &FlowError{
		State:     StateFailed,
		Reason:    reason,
		URL:       url,
		PageTitle: title,
	}
}
