// File: internal/browser/challenge/gate_test.go
package challenge

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionsmith/internal/captcha"
)

// fakePage scripts Evaluate results keyed by a substring of the JS.
type fakePage struct {
	results  map[string]interface{}
	location string
	evals    []string
}

func (f *fakePage) Evaluate(js string, out interface{}) error {
	f.evals = append(f.evals, js)
	for needle, val := range f.results {
		if strings.Contains(js, needle) {
			switch o := out.(type) {
			case *bool:
				*o = val.(bool)
			case *string:
				*o = val.(string)
			case *[]string:
				*o = val.([]string)
			}
			return nil
		}
	}
	return nil
}

func (f *fakePage) Location() (string, error) { return f.location, nil }

type fakeSolver struct {
	solution *captcha.Solution
	err      error
	calls    int
	lastCfg  captcha.TaskConfig
}

func (f *fakeSolver) Solve(_ context.Context, cfg captcha.TaskConfig, _ captcha.SolveOptions) (*captcha.Solution, error) {
	f.calls++
	f.lastCfg = cfg
	return f.solution, f.err
}

func newTestGate(page gatePage, solver tokenSolver) *Gate {
	return NewGate(page, solver, "ReCaptchaV2TaskProxyLess", captcha.SolveOptions{MaxAttempts: 1}, zap.NewNop())
}

func TestDefeatNoopWhenNoWidget(t *testing.T) {
	page := &fakePage{results: map[string]interface{}{
		"___grecaptcha_cfg && Object.keys": false,
	}}
	solver := &fakeSolver{}

	err := newTestGate(page, solver).Defeat(context.Background())
	require.NoError(t, err)
	assert.Zero(t, solver.calls, "solver must not run when no widget is mounted")
}

func TestDefeatSolvesAndInjects(t *testing.T) {
	page := &fakePage{
		location: "https://team.example.com/signin",
		results: map[string]interface{}{
			"___grecaptcha_cfg && Object.keys": true,
			"data-sitekey":                     "site-key-1",
			"ids[ids.length - 1]":              "100001",
			"cb(token)":                        true,
		},
	}
	solver := &fakeSolver{solution: &captcha.Solution{Token: "solved-token"}}

	err := newTestGate(page, solver).Defeat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, solver.calls)
	assert.Equal(t, "site-key-1", solver.lastCfg.SiteKey)
	assert.Equal(t, "https://team.example.com/signin", solver.lastCfg.PageURL)

	injected := false
	for _, js := range page.evals {
		if strings.Contains(js, `"solved-token"`) {
			injected = true
		}
	}
	assert.True(t, injected, "solution token should be passed into the page script")
}

func TestDefeatFatalWhenNoCallbackTarget(t *testing.T) {
	page := &fakePage{
		location: "https://team.example.com/signin",
		results: map[string]interface{}{
			"___grecaptcha_cfg && Object.keys": true,
			"data-sitekey":                     "site-key-1",
			"ids[ids.length - 1]":              "100001",
			"cb(token)":                        false,
		},
	}
	solver := &fakeSolver{solution: &captcha.Solution{Token: "solved-token"}}

	err := newTestGate(page, solver).Defeat(context.Background())
	require.ErrorIs(t, err, ErrNoCallbackTarget)
}

func TestDefeatErrorsWithoutSiteKey(t *testing.T) {
	page := &fakePage{
		results: map[string]interface{}{
			"___grecaptcha_cfg && Object.keys": true,
			"data-sitekey":                     "",
		},
	}
	solver := &fakeSolver{solution: &captcha.Solution{Token: "t"}}

	err := newTestGate(page, solver).Defeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site key")
	assert.Zero(t, solver.calls)
}

func TestBridgeEnumerateAndSelect(t *testing.T) {
	page := &fakePage{results: map[string]interface{}{
		"Object.keys((window.___grecaptcha_cfg": []string{"0", "100000"},
		"ids[ids.length - 1]":                   "100000",
	}}
	bridge := NewBridge(page, zap.NewNop())

	ids, err := bridge.EnumerateClientIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "100000"}, ids)

	active, err := bridge.SelectActiveClientID()
	require.NoError(t, err)
	assert.Equal(t, "100000", active)
}
