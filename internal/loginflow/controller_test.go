// File: internal/loginflow/controller_test.go
package loginflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage scripts page behavior per test. Probe methods run concurrently
// from classify, so all state is mutex-guarded.
type fakePage struct {
	mu             sync.Mutex
	loc            string
	title          string
	visibleFn      func(sel string) bool
	existsFn       func(sel string) bool
	evalFn         func(f *fakePage, js string) (bool, bool)
	clickByTextFn  func(f *fakePage, tag, text string) bool
	waitVisibleErr error
	texts          []string
	evalLog        []string
	clickTextLog   []string
}

func (f *fakePage) Navigate(url string) error {
	f.setLocation(url)
	return nil
}

func (f *fakePage) setLocation(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loc = url
}

func (f *fakePage) Location() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc, nil
}

func (f *fakePage) Title() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title, nil
}

func (f *fakePage) Exists(sel string) (bool, error) {
	f.mu.Lock()
	fn := f.existsFn
	f.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return fn(sel), nil
}

func (f *fakePage) Visible(sel string) (bool, error) {
	f.mu.Lock()
	fn := f.visibleFn
	f.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return fn(sel), nil
}

func (f *fakePage) Click(string, time.Duration) error { return nil }

func (f *fakePage) ClickByText(tag, text string) (bool, error) {
	f.mu.Lock()
	f.clickTextLog = append(f.clickTextLog, text)
	fn := f.clickByTextFn
	f.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return fn(f, tag, text), nil
}

func (f *fakePage) Fill(string, string, time.Duration) error { return nil }

func (f *fakePage) Evaluate(js string, out interface{}) error {
	f.mu.Lock()
	f.evalLog = append(f.evalLog, js)
	fn := f.evalFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	if val, handled := fn(f, js); handled {
		if b, ok := out.(*bool); ok {
			*b = val
		}
	}
	return nil
}

func (f *fakePage) WaitVisible(string, time.Duration) error { return f.waitVisibleErr }

func (f *fakePage) Texts(string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts, nil
}

func (f *fakePage) evaluated(needle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, js := range f.evalLog {
		if strings.Contains(js, needle) {
			return true
		}
	}
	return false
}

type fakeCodes struct {
	mu         sync.Mutex
	code       string
	err        error
	calls      int
	notBefores []time.Time
}

func (f *fakeCodes) AwaitCode(_ context.Context, notBefore time.Time, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.notBefores = append(f.notBefores, notBefore)
	return f.code, f.err
}

type fakeGate struct {
	defeatErr error
	calls     int
}

func (f *fakeGate) Present() (bool, error) { return f.defeatErr == nil, nil }

func (f *fakeGate) Defeat(context.Context) error {
	f.calls++
	return f.defeatErr
}

func fastOptions() Options {
	return Options{
		ProbeTimeout:  time.Second,
		GraceWait:     5 * time.Millisecond,
		CodeWait:      time.Second,
		VerifyTimeout: 300 * time.Millisecond,
	}
}

func TestWorkspaceVisibleOnFirstProbeSkipsInbox(t *testing.T) {
	page := &fakePage{loc: "https://slack.com/signin"}
	page.visibleFn = func(sel string) bool {
		return strings.Contains(sel, "current_workspaces")
	}
	page.evalFn = func(f *fakePage, js string) (bool, bool) {
		if strings.Contains(js, "a[href*=") {
			f.setLocation("https://acme.slack.com/")
			return true, true
		}
		return false, true
	}
	codes := &fakeCodes{code: "ABC-DEF"}
	gate := &fakeGate{}

	ctrl := NewController(page, codes, gate, fastOptions(), zap.NewNop())
	require.NoError(t, ctrl.Run(context.Background(), "acme"))

	assert.Zero(t, codes.calls, "inbox must never be consulted when the workspace list shows immediately")
	assert.Zero(t, gate.calls, "challenge gate must not fire on the workspace list")
	assert.True(t, ctrl.workspaceClicked, "verified click must set the guard")
}

func TestUnverifiedClickFallsThroughToNextStrategy(t *testing.T) {
	page := &fakePage{loc: "https://slack.com/signin"}
	page.visibleFn = func(sel string) bool {
		return strings.Contains(sel, "current_workspaces")
	}
	// Strategy 1 clicks but nothing changes; strategy 2 clicks and the
	// page navigates.
	page.evalFn = func(f *fakePage, js string) (bool, bool) {
		if strings.Contains(js, "a[href*=") {
			return true, true
		}
		return false, true
	}
	page.clickByTextFn = func(f *fakePage, _, _ string) bool {
		f.setLocation("https://acme.slack.com/")
		return true
	}
	codes := &fakeCodes{}

	ctrl := NewController(page, codes, &fakeGate{}, fastOptions(), zap.NewNop())
	require.NoError(t, ctrl.Run(context.Background(), "acme"))

	assert.True(t, page.evaluated("a[href*="), "first strategy should have fired")
	assert.Equal(t, []string{"acme"}, page.clickTextLog, "second strategy should have fired exactly once")
	assert.False(t, page.evaluated("createTreeWalker"), "later strategies must not run after a verified click")
}

func TestEmailVerificationBranch(t *testing.T) {
	page := &fakePage{loc: "https://slack.com/signin"}
	codeEntryPhase := true
	page.visibleFn = func(sel string) bool {
		if codeEntryPhase {
			return strings.Contains(sel, "confirmation_code")
		}
		return strings.Contains(sel, "current_workspaces")
	}
	page.evalFn = func(f *fakePage, js string) (bool, bool) {
		switch {
		case strings.Contains(js, "dispatchEvent"):
			codeEntryPhase = false
			return true, true
		case strings.Contains(js, "a[href*="):
			f.setLocation("https://acme.slack.com/")
			return true, true
		}
		return false, true
	}
	codes := &fakeCodes{code: "X4F-9QZ"}
	gate := &fakeGate{}

	started := time.Now()
	ctrl := NewController(page, codes, gate, fastOptions(), zap.NewNop())
	require.NoError(t, ctrl.Run(context.Background(), "acme"))

	assert.Equal(t, 1, gate.calls, "challenge gate runs before waiting for the code")
	require.Equal(t, 1, codes.calls)
	assert.False(t, codes.notBefores[0].Before(started), "notBefore must be pinned at flow start")
	assert.True(t, page.evaluated(`"X4F9QZ"`), "code must be entered with the hyphen stripped")
}

func TestChallengeGateFailureIsFatal(t *testing.T) {
	page := &fakePage{loc: "https://slack.com/signin"}
	page.visibleFn = func(sel string) bool {
		return strings.Contains(sel, "confirmation_code")
	}
	gateErr := errors.New("no callback target")
	codes := &fakeCodes{code: "ABC-DE"}

	ctrl := NewController(page, codes, &fakeGate{defeatErr: gateErr}, fastOptions(), zap.NewNop())
	err := ctrl.Run(context.Background(), "acme")
	require.ErrorIs(t, err, gateErr)
	assert.Zero(t, codes.calls, "a failed gate must abort before touching the inbox")
}

func TestAmbiguousPageFailsWithDiagnostics(t *testing.T) {
	page := &fakePage{
		loc:   "https://slack.com/signin/unexpected",
		title: "Something went wrong",
	}

	ctrl := NewController(page, &fakeCodes{}, &fakeGate{}, fastOptions(), zap.NewNop())
	err := ctrl.Run(context.Background(), "acme")
	require.Error(t, err)

	var flowErr *FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StateFailed, flowErr.State)
	assert.Equal(t, "https://slack.com/signin/unexpected", flowErr.URL)
	assert.Equal(t, "Something went wrong", flowErr.PageTitle)
}

func TestAllStrategiesMissListsVisibleWorkspaces(t *testing.T) {
	page := &fakePage{
		loc:   "https://slack.com/workspaces",
		texts: []string{"Other Team", "Another Team"},
	}
	page.visibleFn = func(sel string) bool {
		return strings.Contains(sel, "current_workspaces")
	}
	page.evalFn = func(_ *fakePage, _ string) (bool, bool) { return false, true }

	ctrl := NewController(page, &fakeCodes{}, &fakeGate{}, fastOptions(), zap.NewNop())
	err := ctrl.Run(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Other Team")
	assert.Contains(t, err.Error(), "Another Team")
}
