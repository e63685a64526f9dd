// File: internal/server/server_test.go
package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/config"
	"github.com/xkilldash9x/sessionsmith/internal/slack"
)

type fakeAPI struct {
	boot      *slack.BootResponse
	channels  []slack.Channel
	messages  []slack.Message
	posted    []string
	deleted   []string
	err       error
	lastLimit int
}

func (f *fakeAPI) ClientBoot(context.Context) (*slack.BootResponse, error) {
	return f.boot, f.err
}

func (f *fakeAPI) ConversationsList(_ context.Context, _ string) ([]slack.Channel, error) {
	return f.channels, f.err
}

func (f *fakeAPI) ConversationsHistory(_ context.Context, _ string, limit int) ([]slack.Message, error) {
	f.lastLimit = limit
	return f.messages, f.err
}

func (f *fakeAPI) ConversationsReplies(_ context.Context, _, _ string) ([]slack.Message, error) {
	return f.messages, f.err
}

func (f *fakeAPI) PostMessage(_ context.Context, channel, text string) (*slack.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.posted = append(f.posted, channel+":"+text)
	return &slack.Message{Ts: "1.0", Text: text}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, channel, ts string) error {
	f.deleted = append(f.deleted, channel+":"+ts)
	return f.err
}

func newTestServer(api *fakeAPI) *Server {
	return New(api, config.ServerConfig{ListenAddr: ":0"}, zap.NewNop())
}

func doRequest(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return rec, env
}

func TestBootEndpoint(t *testing.T) {
	api := &fakeAPI{boot: &slack.BootResponse{
		Self: slack.BootSelf{ID: "U1", Name: "me"},
		Team: slack.BootTeam{ID: "T1", Domain: "acme"},
	}}

	rec, env := doRequest(t, newTestServer(api), http.MethodGet, "/api/boot", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Ok)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHistoryRequiresChannel(t *testing.T) {
	rec, env := doRequest(t, newTestServer(&fakeAPI{}), http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Ok)
	assert.Contains(t, env.Error, "channel")
}

func TestHistoryPassesLimit(t *testing.T) {
	api := &fakeAPI{messages: []slack.Message{{Ts: "1.0", Text: "hi"}}}
	rec, env := doRequest(t, newTestServer(api), http.MethodGet, "/api/history?channel=C1&limit=50", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Ok)
	assert.Equal(t, 50, api.lastLimit)
}

func TestUpstreamAPIErrorMapsToBadRequest(t *testing.T) {
	api := &fakeAPI{err: &slack.APIError{Method: "conversations.history", Reason: "channel_not_found"}}
	rec, env := doRequest(t, newTestServer(api), http.MethodGet, "/api/history?channel=CX", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "channel_not_found")
}

func TestTransportErrorMapsToBadGateway(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	rec, _ := doRequest(t, newTestServer(api), http.MethodGet, "/api/boot", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPostMessage(t *testing.T) {
	api := &fakeAPI{}
	rec, env := doRequest(t, newTestServer(api), http.MethodPost, "/api/messages",
		`{"channel":"C1","text":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Ok)
	assert.Equal(t, []string{"C1:hello"}, api.posted)
}

func TestPostMessageValidatesBody(t *testing.T) {
	rec, env := doRequest(t, newTestServer(&fakeAPI{}), http.MethodPost, "/api/messages", `{"channel":"C1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "required")
}

func TestDeleteMessage(t *testing.T) {
	api := &fakeAPI{}
	rec, env := doRequest(t, newTestServer(api), http.MethodDelete, "/api/messages/111.222?channel=C1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Ok)
	assert.Equal(t, []string{"C1:111.222"}, api.deleted)
}

func TestRepliesRequiresBothParams(t *testing.T) {
	rec, env := doRequest(t, newTestServer(&fakeAPI{}), http.MethodGet, "/api/replies?channel=C1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "ts")
}
