// Package inbox retrieves one-time confirmation codes from a Gmail
// mailbox. Authorization uses the standard installed-app OAuth flow with a
// loopback redirect; the refresh token is cached on disk so the
// interactive consent happens once per machine.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/xkilldash9x/sessionsmith/internal/config"
)

var json = jsonConfig()

// TokenSource builds an oauth2 token source for the Gmail read scope,
// running the interactive consent flow when no cached token exists.
func TokenSource(ctx context.Context, cfg config.InboxConfig, logger *zap.Logger) (oauth2.TokenSource, error) {
	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth credentials %q: %w", cfg.CredentialsFile, err)
	}

	oauthCfg, err := google.ConfigFromJSON(raw, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth credentials: %w", err)
	}
	oauthCfg.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", cfg.RedirectPort)

	token, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		logger.Info("No cached mail token; starting interactive consent.",
			zap.String("token_file", cfg.TokenFile))
		token, err = authorizeInteractively(ctx, oauthCfg, cfg.RedirectPort, logger)
		if err != nil {
			return nil, err
		}
		if err := saveToken(cfg.TokenFile, token); err != nil {
			logger.Warn("Could not cache mail token.", zap.Error(err))
		}
	}

	// ReuseTokenSource refreshes transparently using the refresh token.
	return oauthCfg.TokenSource(ctx, token), nil
}

// authorizeInteractively prints the consent URL and waits for the
// provider's redirect on the loopback listener.
func authorizeInteractively(ctx context.Context, oauthCfg *oauth2.Config, port int, logger *zap.Logger) (*oauth2.Token, error) {
	state := fmt.Sprintf("st-%d", time.Now().UnixNano())
	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errCh <- errors.New("oauth callback state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- errors.New("oauth callback missing code")
			return
		}
		fmt.Fprintln(w, "Authorization complete. You can close this tab.")
		codeCh <- code
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("localhost:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("oauth callback listener: %w", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Open this URL in a browser to authorize mailbox access.",
		zap.String("url", authURL))
	fmt.Printf("\nAuthorize mailbox access:\n%s\n\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("decode cached token %q: %w", path, err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
