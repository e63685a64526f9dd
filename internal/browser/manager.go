// Package browser owns the Chrome process lifecycle and exposes a small
// page handle the higher-level flows drive. One allocator, one tab per
// acquisition attempt, release guaranteed through the returned cancel.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/config"
)

// Manager wraps a chromedp exec allocator configured from BrowserConfig.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewManager starts the allocator. Chrome itself launches lazily with the
// first tab.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}
}

// NewPage opens a fresh tab and applies the persona overrides. The
// returned release func closes the tab; it is safe to call more than once.
func (m *Manager) NewPage() (*Page, context.CancelFunc, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			m.logger.Sugar().Debugf(format, args...)
		}),
	)

	// Force the tab to exist now so persona overrides apply before any
	// navigation.
	if err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if m.cfg.UserAgent == "" {
			return nil
		}
		return emulation.SetUserAgentOverride(m.cfg.UserAgent).Do(ctx)
	})); err != nil {
		tabCancel()
		return nil, nil, fmt.Errorf("open browser tab: %w", err)
	}

	m.logger.Debug("Browser tab ready.",
		zap.Bool("headless", m.cfg.Headless),
		zap.String("user_agent", m.cfg.UserAgent))

	return newPage(tabCtx, m.cfg, m.logger), tabCancel, nil
}

// Close tears down the allocator and any remaining Chrome processes.
func (m *Manager) Close() {
	m.allocCancel()
	m.logger.Debug("Browser allocator released.")
}
