// Package server exposes the captured session as a local JSON API, so
// other tooling can read the workspace without speaking the private API's
// form-encoded dialect.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/config"
	"github.com/xkilldash9x/sessionsmith/internal/slack"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SlackAPI is the facade surface the handlers call. *slack.Client
// satisfies it; tests substitute fakes.
type SlackAPI interface {
	ClientBoot(ctx context.Context) (*slack.BootResponse, error)
	ConversationsList(ctx context.Context, types string) ([]slack.Channel, error)
	ConversationsHistory(ctx context.Context, channel string, limit int) ([]slack.Message, error)
	ConversationsReplies(ctx context.Context, channel, ts string) ([]slack.Message, error)
	PostMessage(ctx context.Context, channel, text string) (*slack.Message, error)
	DeleteMessage(ctx context.Context, channel, ts string) error
}

// Server is the HTTP facade.
type Server struct {
	api    SlackAPI
	cfg    config.ServerConfig
	router *mux.Router
	logger *zap.Logger
}

// New builds the server and its routes.
func New(api SlackAPI, cfg config.ServerConfig, logger *zap.Logger) *Server {
	s := &Server{
		api:    api,
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: logger.Named("server"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/boot", s.handleBoot).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/replies", s.handleReplies).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handlePostMessage).Methods(http.MethodPost)
	api.HandleFunc("/messages/{ts}", s.handleDeleteMessage).Methods(http.MethodDelete)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP facade listening.", zap.String("addr", s.cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP facade stopped.")
	return nil
}

// requestIDMiddleware tags each request with an id for log correlation.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request handled.",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
