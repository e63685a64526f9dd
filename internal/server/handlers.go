// File: internal/server/handlers.go
package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/slack"
)

// envelope is the uniform response shape: ok mirrors the upstream API's
// convention so facade consumers can use one decoder for both.
type envelope struct {
	Ok    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.logger.Error("Failed to encode response.", zap.Error(err))
	}
}

func (s *Server) writeData(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, envelope{Ok: true, Data: data})
}

// writeError maps upstream failures onto HTTP statuses: an explicit
// ok:false from the workspace API is the client's problem (bad channel,
// dead session), anything else is a gateway failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *slack.APIError
	if errors.As(err, &apiErr) {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, envelope{Ok: false, Error: err.Error()})
}

func (s *Server) handleBoot(w http.ResponseWriter, r *http.Request) {
	boot, err := s.api.ClientBoot(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, boot)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	channels, err := s.api.ConversationsList(r.Context(), r.URL.Query().Get("types"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, channels)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		s.writeJSON(w, http.StatusBadRequest, envelope{Ok: false, Error: "channel query parameter is required"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeJSON(w, http.StatusBadRequest, envelope{Ok: false, Error: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	msgs, err := s.api.ConversationsHistory(r.Context(), channel, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, msgs)
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	ts := r.URL.Query().Get("ts")
	if channel == "" || ts == "" {
		s.writeJSON(w, http.StatusBadRequest, envelope{Ok: false, Error: "channel and ts query parameters are required"})
		return
	}

	msgs, err := s.api.ConversationsReplies(r.Context(), channel, ts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, msgs)
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, envelope{Ok: false, Error: "invalid JSON body"})
		return
	}
	if req.Channel == "" || req.Text == "" {
		s.writeJSON(w, http.StatusBadRequest, envelope{Ok: false, Error: "channel and text are required"})
		return
	}

	msg, err := s.api.PostMessage(r.Context(), req.Channel, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ts := mux.Vars(r)["ts"]
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		s.writeJSON(w, http.StatusBadRequest, envelope{Ok: false, Error: "channel query parameter is required"})
		return
	}

	if err := s.api.DeleteMessage(r.Context(), channel, ts); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeData(w, map[string]string{"channel": channel, "ts": ts})
}
