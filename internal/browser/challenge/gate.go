// File: internal/browser/challenge/gate.go
package challenge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/captcha"
)

// ErrNoCallbackTarget means the solution was obtained but the heuristic
// found nothing to hand it to. The login attempt cannot proceed past the
// widget, so callers treat this as fatal.
var ErrNoCallbackTarget = errors.New("challenge solved but no completion callback target found")

// siteKeyJS digs the widget's public site key out of the page: the
// declarative attribute first, then the challenge frame's query string.
const siteKeyJS = `(() => {
	const holder = document.querySelector('[data-sitekey]');
	if (holder) return holder.getAttribute('data-sitekey');
	for (const frame of document.querySelectorAll('iframe[src*="recaptcha"]')) {
		const m = (frame.src || "").match(/[?&]k=([^&]+)/);
		if (m) return m[1];
	}
	return "";
})()`

// tokenSolver is the solver surface the gate depends on.
type tokenSolver interface {
	Solve(ctx context.Context, cfg captcha.TaskConfig, opts captcha.SolveOptions) (*captcha.Solution, error)
}

// gatePage extends the bridge's page needs with location access.
type gatePage interface {
	scriptRunner
	Location() (string, error)
}

// Gate detects the challenge widget and, when present, defeats it with an
// externally solved token.
type Gate struct {
	bridge   *Bridge
	solver   tokenSolver
	page     gatePage
	taskType string
	opts     captcha.SolveOptions
	logger   *zap.Logger
}

// NewGate wires a solver to a page.
func NewGate(page gatePage, solver tokenSolver, taskType string, opts captcha.SolveOptions, logger *zap.Logger) *Gate {
	return &Gate{
		bridge:   NewBridge(page, logger),
		solver:   solver,
		page:     page,
		taskType: taskType,
		opts:     opts,
		logger:   logger.Named("gate"),
	}
}

// Present reports whether a challenge currently blocks the page.
func (g *Gate) Present() (bool, error) {
	return g.bridge.Present()
}

// Defeat solves and injects. A page without a widget is a no-op success.
// A solved token that cannot be delivered (no callback target) fails the
// attempt rather than limping on with an unpassed challenge.
func (g *Gate) Defeat(ctx context.Context) error {
	present, err := g.bridge.Present()
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	var siteKey string
	if err := g.page.Evaluate(siteKeyJS, &siteKey); err != nil {
		return fmt.Errorf("discover site key: %w", err)
	}
	if siteKey == "" {
		return errors.New("challenge widget present but site key not discoverable")
	}

	pageURL, err := g.page.Location()
	if err != nil {
		return err
	}

	clientID, err := g.bridge.SelectActiveClientID()
	if err != nil {
		return err
	}
	g.logger.Info("Challenge widget detected.",
		zap.String("site_key", siteKey),
		zap.String("client_id", clientID),
		zap.String("page_url", pageURL))

	solution, err := g.solver.Solve(ctx, captcha.TaskConfig{
		Type:    g.taskType,
		PageURL: pageURL,
		SiteKey: siteKey,
	}, g.opts)
	if err != nil {
		return fmt.Errorf("solve challenge: %w", err)
	}

	fired, err := g.bridge.InjectSolution(solution.Token)
	if err != nil {
		return err
	}
	if !fired {
		return ErrNoCallbackTarget
	}
	return nil
}
