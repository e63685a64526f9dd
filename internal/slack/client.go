// File: internal/slack/client.go
package slack

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// impersonationHeaders are fixed on every call. The private API expects
// requests that look like they came from the web client; a bare Go client
// gets flagged.
var impersonationHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
}

// Client calls the workspace's private web API with a captured session.
type Client struct {
	baseURL string
	session Session
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a client against the workspace, e.g.
// "https://acme.slack.com".
func NewClient(workspaceURL string, session Session, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(workspaceURL, "/"),
		session: session,
		http:    &http.Client{Timeout: 30 * time.Second},
		// The web client paces itself; mirror that instead of bursting.
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 3),
		logger:  logger.Named("slack"),
	}
}

// cookieHeader reconstructs the browser's Cookie header from the captured
// jar.
func (c *Client) cookieHeader() string {
	pairs := make([]string, 0, len(c.session.Cookies))
	for _, ck := range c.session.Cookies {
		pairs = append(pairs, ck.Name+"="+ck.Value)
	}
	return strings.Join(pairs, "; ")
}

// call POSTs a form-encoded API method and decodes the response into out.
// Every response is gated on its ok field first; an ok:false body is an
// *APIError carrying the wire's error and warning verbatim.
func (c *Client) call(ctx context.Context, method string, form url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if form == nil {
		form = url.Values{}
	}
	form.Set("token", c.session.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", c.cookieHeader())
	req.Header.Set("Origin", c.baseURL)
	for k, v := range impersonationHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode)
	}

	var envelope struct {
		Ok      bool   `json:"ok"`
		Error   string `json:"error"`
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s envelope: %w", method, err)
	}
	if !envelope.Ok {
		return &APIError{Method: method, Reason: envelope.Error, Warning: envelope.Warning}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// ClientBoot verifies the session and returns user and team identity.
func (c *Client) ClientBoot(ctx context.Context) (*BootResponse, error) {
	var boot BootResponse
	if err := c.call(ctx, "client.boot", nil, &boot); err != nil {
		return nil, err
	}
	return &boot, nil
}

// ConversationsList pages through all conversations of the given types
// (e.g. "public_channel,private_channel,im").
func (c *Client) ConversationsList(ctx context.Context, types string) ([]Channel, error) {
	var all []Channel
	cursor := ""
	for {
		form := url.Values{}
		form.Set("limit", "200")
		form.Set("exclude_archived", "true")
		if types != "" {
			form.Set("types", types)
		}
		if cursor != "" {
			form.Set("cursor", cursor)
		}

		var page struct {
			Channels         []Channel        `json:"channels"`
			ResponseMetadata responseMetadata `json:"response_metadata"`
		}
		if err := c.call(ctx, "conversations.list", form, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Channels...)

		cursor = page.ResponseMetadata.NextCursor
		if cursor == "" {
			return all, nil
		}
	}
}

// ConversationsHistory pages through a channel's messages, newest first,
// up to limit messages. A zero limit fetches everything.
func (c *Client) ConversationsHistory(ctx context.Context, channel string, limit int) ([]Message, error) {
	var all []Message
	cursor := ""
	for {
		form := url.Values{}
		form.Set("channel", channel)
		form.Set("limit", "200")
		if cursor != "" {
			form.Set("cursor", cursor)
		}

		var page struct {
			Messages         []Message        `json:"messages"`
			HasMore          bool             `json:"has_more"`
			ResponseMetadata responseMetadata `json:"response_metadata"`
		}
		if err := c.call(ctx, "conversations.history", form, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Messages...)

		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		cursor = page.ResponseMetadata.NextCursor
		if !page.HasMore || cursor == "" {
			return all, nil
		}
	}
}

// ConversationsReplies fetches a thread by its parent timestamp.
func (c *Client) ConversationsReplies(ctx context.Context, channel, ts string) ([]Message, error) {
	form := url.Values{}
	form.Set("channel", channel)
	form.Set("ts", ts)
	form.Set("limit", strconv.Itoa(200))

	var page struct {
		Messages []Message `json:"messages"`
	}
	if err := c.call(ctx, "conversations.replies", form, &page); err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// PostMessage sends text to a channel and returns the created message.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (*Message, error) {
	form := url.Values{}
	form.Set("channel", channel)
	form.Set("text", text)

	var resp struct {
		Message Message `json:"message"`
		Ts      string  `json:"ts"`
	}
	if err := c.call(ctx, "chat.postMessage", form, &resp); err != nil {
		return nil, err
	}
	if resp.Message.Ts == "" {
		resp.Message.Ts = resp.Ts
	}
	return &resp.Message, nil
}

// DeleteMessage removes a message by channel and timestamp.
func (c *Client) DeleteMessage(ctx context.Context, channel, ts string) error {
	form := url.Values{}
	form.Set("channel", channel)
	form.Set("ts", ts)
	return c.call(ctx, "chat.delete", form, nil)
}
