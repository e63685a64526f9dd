// Package slack is a thin client for the workspace's private web API,
// authenticated the way the browser client is: a session-bound token in
// the form body plus the full browser cookie set.
package slack

import (
	"fmt"

	"github.com/xkilldash9x/sessionsmith/internal/cookiestore"
)

// Session is the captured credential pair. The token alone is not enough;
// the API rejects it without the originating browser cookies.
type Session struct {
	Token   string               `json:"token"`
	Cookies []cookiestore.Record `json:"cookies"`
}

// APIError is an ok:false response. Reason and Warning are surfaced
// verbatim from the wire.
type APIError struct {
	Method  string
	Reason  string
	Warning string
}

func (e *APIError) Error() string {
	if e.Warning != "" {
		return fmt.Sprintf("%s: %s (warning: %s)", e.Method, e.Reason, e.Warning)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Reason)
}

type responseMetadata struct {
	NextCursor string `json:"next_cursor"`
}

// BootSelf identifies the authenticated user.
type BootSelf struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BootTeam identifies the workspace.
type BootTeam struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// BootResponse is the interesting subset of client.boot.
type BootResponse struct {
	Self BootSelf `json:"self"`
	Team BootTeam `json:"team"`
}

// Channel is one conversation from conversations.list.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsChannel  bool   `json:"is_channel"`
	IsGroup    bool   `json:"is_group"`
	IsIM       bool   `json:"is_im"`
	IsArchived bool   `json:"is_archived"`
	IsMember   bool   `json:"is_member"`
	NumMembers int    `json:"num_members"`
}

// Message is one message from history, replies, or postMessage.
type Message struct {
	Ts         string `json:"ts"`
	User       string `json:"user"`
	Text       string `json:"text"`
	ThreadTs   string `json:"thread_ts,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
	Subtype    string `json:"subtype,omitempty"`
}
