// File: cmd/acquire.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/fileblob"

	"github.com/xkilldash9x/sessionsmith/internal/browser"
	"github.com/xkilldash9x/sessionsmith/internal/browser/challenge"
	"github.com/xkilldash9x/sessionsmith/internal/captcha"
	"github.com/xkilldash9x/sessionsmith/internal/config"
	"github.com/xkilldash9x/sessionsmith/internal/cookiestore"
	"github.com/xkilldash9x/sessionsmith/internal/inbox"
	"github.com/xkilldash9x/sessionsmith/internal/intercept"
	"github.com/xkilldash9x/sessionsmith/internal/loginflow"
	"github.com/xkilldash9x/sessionsmith/internal/observability"
	"github.com/xkilldash9x/sessionsmith/internal/slack"
)

var acquireOutput string

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Capture a workspace session token by driving a real browser.",
	Long: `Acquire replays the stored cookie jar into a fresh browser, navigates to
the workspace, and intercepts the session token from the client's own boot
request. When the replayed session is stale it walks the interactive
sign-in (challenge widget, emailed confirmation code, workspace selection)
and captures the token afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		session, err := acquireSession(ctx, cfg, observability.GetLogger())
		if err != nil {
			return err
		}
		return writeSession(session, acquireOutput)
	},
}

func init() {
	acquireCmd.Flags().StringVarP(&acquireOutput, "output", "o", "", "write the captured session JSON to this file instead of stdout")
	rootCmd.AddCommand(acquireCmd)
}

// acquireSession runs the whole capture: cookie replay, passive intercept,
// and the interactive fallback. The browser is torn down on every path.
func acquireSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*slack.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Slack.FlowTimeout)
	defer cancel()

	store, err := cookiestore.Open(ctx, cfg.Store.BucketURL, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	jar, err := store.Load(ctx, cfg.Store.CookieKey)
	if err != nil {
		logger.Warn("No usable cookie snapshot; starting with an empty jar.",
			zap.String("key", cfg.Store.CookieKey), zap.Error(err))
		jar = nil
	}

	manager := browser.NewManager(ctx, cfg.Browser, logger)
	defer manager.Close()

	page, release, err := manager.NewPage()
	if err != nil {
		return nil, err
	}
	defer release()

	interceptor := intercept.NewInterceptor(logger)

	if len(jar) > 0 {
		if err := intercept.Replay(page.Context(), jar); err != nil {
			return nil, fmt.Errorf("replay cookie jar: %w", err)
		}
	}

	// The observer stays armed for the rest of the attempt: whether the
	// boot request comes from the replayed session or from the
	// interactive flow, the same capture resolves it.
	capture := interceptor.Start(page.Context())

	if err := page.Navigate(cfg.Slack.WorkspaceURL); err != nil {
		return nil, err
	}

	token, err := capture.Wait(ctx, cfg.Slack.CaptureWait)
	if err != nil {
		var timeout *intercept.CaptureTimeoutError
		if !errors.As(err, &timeout) {
			return nil, err
		}
		logger.Info("Replayed session did not boot; falling back to interactive sign-in.")

		if token, err = runInteractiveFlow(ctx, cfg, page, capture, logger); err != nil {
			return nil, err
		}
	}

	cookies, err := intercept.ReadCookies(page.Context())
	if err != nil {
		return nil, fmt.Errorf("read cookies after capture: %w", err)
	}

	if err := store.Save(ctx, cfg.Store.CookieKey, cookies); err != nil {
		logger.Warn("Could not persist refreshed cookie snapshot.", zap.Error(err))
	}

	logger.Info("Session captured.", zap.Int("cookies", len(cookies)))
	return &slack.Session{Token: token, Cookies: cookies}, nil
}

// runInteractiveFlow drives the sign-in page and waits for the capture the
// flow's final navigation triggers.
func runInteractiveFlow(ctx context.Context, cfg *config.Config, page *browser.Page, capture *intercept.Capture, logger *zap.Logger) (string, error) {
	solver := captcha.NewSolver(newCaptchaProvider(cfg.Captcha, logger), logger)
	gate := challenge.NewGate(page, solver, "ReCaptchaV2TaskProxyLess", captcha.SolveOptions{
		MaxAttempts:  cfg.Captcha.MaxAttempts,
		PollInterval: cfg.Captcha.PollInterval,
	}, logger)

	ts, err := inbox.TokenSource(ctx, cfg.Inbox, logger)
	if err != nil {
		return "", err
	}
	mail, err := inbox.NewGmailService(ctx, ts, logger)
	if err != nil {
		return "", err
	}
	codes := inbox.NewPoller(mail, cfg.Inbox.SenderDomain, cfg.Inbox.SubjectContains, cfg.Inbox.PollInterval, logger)

	if err := page.Navigate(cfg.Slack.SigninURL); err != nil {
		return "", err
	}

	controller := loginflow.NewController(page, codes, gate, loginflow.DefaultOptions(), logger)
	if err := controller.Run(ctx, cfg.Slack.Workspace); err != nil {
		return "", err
	}

	return capture.Wait(ctx, cfg.Slack.CaptureWait)
}

func newCaptchaProvider(cfg config.CaptchaConfig, logger *zap.Logger) captcha.Provider {
	if cfg.Provider == "anticaptcha" {
		return captcha.NewAntiCaptchaProvider(cfg.ClientKey, "", logger)
	}
	return captcha.NewCapSolverProvider(cfg.ClientKey, "", logger)
}

// writeSession emits the captured session as indented JSON.
func writeSession(session *slack.Session, path string) error {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if path == "" {
		fmt.Println(string(raw))
		return nil
	}
	// The token is a live credential; keep the file private.
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
