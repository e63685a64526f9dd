// File: cmd/serve.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/observability"
	"github.com/xkilldash9x/sessionsmith/internal/server"
	"github.com/xkilldash9x/sessionsmith/internal/slack"
)

var serveSessionFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the workspace through a local JSON API.",
	Long: `Serve acquires a session (or loads a previously captured one) and starts
the HTTP facade over the workspace's private API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger := observability.GetLogger()

		var session *slack.Session
		var err error
		if serveSessionFile != "" {
			session, err = loadSession(serveSessionFile)
		} else {
			session, err = acquireSession(ctx, cfg, logger)
		}
		if err != nil {
			return err
		}

		client := slack.NewClient(cfg.Slack.WorkspaceURL, *session, logger)
		if _, err := client.ClientBoot(ctx); err != nil {
			return fmt.Errorf("session rejected by workspace: %w", err)
		}
		logger.Info("Session verified against workspace.",
			zap.String("workspace", cfg.Slack.Workspace))

		return server.New(client, cfg.Server, logger).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveSessionFile, "session", "", "reuse a session JSON file written by acquire instead of capturing a new one")
	rootCmd.AddCommand(serveCmd)
}

func loadSession(path string) (*slack.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var session slack.Session
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session file %q: %w", path, err)
	}
	if session.Token == "" {
		return nil, fmt.Errorf("session file %q has no token", path)
	}
	return &session, nil
}
