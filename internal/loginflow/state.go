// Package loginflow walks an interactive sign-in to the point where the
// workspace client loads. It only depends on narrow interfaces for the
// page, the code source, and the challenge gate, so the whole state
// machine is testable with fakes.
package loginflow

import (
	"context"
	"time"
)

// State classifies what the sign-in page currently shows.
type State int

const (
	// StateUnknown is the initial and the inconclusive-probe state.
	StateUnknown State = iota
	// StateWorkspaceSelection shows the list of workspaces to open.
	StateWorkspaceSelection
	// StateEmailVerification asks for the emailed confirmation code.
	StateEmailVerification
	// StateVerificationSucceeded is the post-code transition while the
	// workspace list loads.
	StateVerificationSucceeded
	// StateFailed is terminal: the page could not be classified.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWorkspaceSelection:
		return "workspace_selection"
	case StateEmailVerification:
		return "email_verification"
	case StateVerificationSucceeded:
		return "verification_succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Page is the browser surface the flow drives. *browser.Page satisfies it.
type Page interface {
	Navigate(url string) error
	Location() (string, error)
	Title() (string, error)
	Exists(selector string) (bool, error)
	Visible(selector string) (bool, error)
	Click(selector string, timeout time.Duration) error
	ClickByText(tag, text string) (bool, error)
	Fill(selector, value string, timeout time.Duration) error
	Evaluate(js string, out interface{}) error
	WaitVisible(selector string, timeout time.Duration) error
	Texts(selector string) ([]string, error)
}

// CodeSource delivers the emailed confirmation code. *inbox.Poller
// satisfies it.
type CodeSource interface {
	AwaitCode(ctx context.Context, notBefore time.Time, maxWait time.Duration) (string, error)
}

// ChallengeGate detects and defeats the verification widget.
// *challenge.Gate satisfies it.
type ChallengeGate interface {
	Present() (bool, error)
	Defeat(ctx context.Context) error
}
