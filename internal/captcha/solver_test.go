// File: internal/captcha/solver_test.go
package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProvider counts calls and replays a scripted sequence of results.
type fakeProvider struct {
	mu          sync.Mutex
	createErr   error
	taskID      string
	results     []TaskResult
	createCalls int
	pollCalls   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateTask(_ context.Context, _ TaskConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.taskID, nil
}

func (f *fakeProvider) GetTaskResult(_ context.Context, _ string) (TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.pollCalls
	f.pollCalls++
	if idx >= len(f.results) {
		return TaskResult{Status: StatusPending}, nil
	}
	return f.results[idx], nil
}

func TestSolverReturnsSolutionOnThirdPoll(t *testing.T) {
	solution := &Solution{Token: "tok-abc"}
	provider := &fakeProvider{
		taskID: "task-1",
		results: []TaskResult{
			{Status: StatusPending},
			{Status: StatusPending},
			{Status: StatusReady, Solution: solution},
		},
	}
	solver := NewSolver(provider, zap.NewNop())

	got, err := solver.Solve(context.Background(), TaskConfig{}, SolveOptions{
		MaxAttempts:  10,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", got.Token)
	assert.Equal(t, 1, provider.createCalls)
	assert.Equal(t, 3, provider.pollCalls, "should stop polling once ready")
}

func TestSolverCreateFailureIsTerminal(t *testing.T) {
	provider := &fakeProvider{
		createErr: &ServiceError{Provider: "fake", Code: "ERROR_KEY_DOES_NOT_EXIST", Description: "bad key"},
	}
	solver := NewSolver(provider, zap.NewNop())

	_, err := solver.Solve(context.Background(), TaskConfig{}, SolveOptions{
		MaxAttempts:  5,
		PollInterval: time.Millisecond,
	})
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "ERROR_KEY_DOES_NOT_EXIST", svcErr.Code)
	assert.Equal(t, 1, provider.createCalls, "creation must not be retried")
	assert.Equal(t, 0, provider.pollCalls, "must never poll after a create failure")
}

func TestSolverReadyErrorIsTerminal(t *testing.T) {
	provider := &fakeProvider{
		taskID: "task-2",
		results: []TaskResult{
			{Status: StatusPending},
			{Status: StatusFailed, ErrorCode: "ERROR_CAPTCHA_UNSOLVABLE", ErrorDescription: "unsolvable"},
		},
	}
	solver := NewSolver(provider, zap.NewNop())

	_, err := solver.Solve(context.Background(), TaskConfig{}, SolveOptions{
		MaxAttempts:  10,
		PollInterval: time.Millisecond,
	})
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "ERROR_CAPTCHA_UNSOLVABLE", svcErr.Code)
	assert.Equal(t, 2, provider.pollCalls)
}

func TestSolverTimeoutNamesTaskAndAttempts(t *testing.T) {
	provider := &fakeProvider{taskID: "task-slow"}
	solver := NewSolver(provider, zap.NewNop())

	_, err := solver.Solve(context.Background(), TaskConfig{}, SolveOptions{
		MaxAttempts:  4,
		PollInterval: time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "task-slow", te.TaskID)
	assert.Equal(t, 4, te.Attempts)
	assert.Equal(t, 4, provider.pollCalls)
	assert.Contains(t, err.Error(), "task-slow")
}

func TestSolverHonorsContextCancellation(t *testing.T) {
	provider := &fakeProvider{taskID: "task-3"}
	solver := NewSolver(provider, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := solver.Solve(ctx, TaskConfig{}, SolveOptions{
		MaxAttempts:  5,
		PollInterval: time.Hour,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCapSolverProviderWireFormat(t *testing.T) {
	var gotCreateBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			require.NoError(t, capJSON.NewDecoder(r.Body).Decode(&gotCreateBody))
			w.Write([]byte(`{"errorId":0,"taskId":"cs-123"}`))
		case "/getTaskResult":
			w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"gRecaptchaResponse":"resp-token","userAgent":"UA/1.0"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	provider := NewCapSolverProvider("key-1", srv.URL, zap.NewNop())
	defer provider.client.CloseIdleConnections()

	taskID, err := provider.CreateTask(context.Background(), TaskConfig{
		Type:    "ReCaptchaV2TaskProxyLess",
		PageURL: "https://example.com/signin",
		SiteKey: "site-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs-123", taskID)
	assert.Equal(t, "key-1", gotCreateBody["clientKey"])
	task, ok := gotCreateBody["task"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/signin", task["websiteURL"])

	result, err := provider.GetTaskResult(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, result.Status)
	assert.Equal(t, "resp-token", result.Solution.Token)
	assert.Equal(t, "UA/1.0", result.Solution.UserAgent)
}

func TestAntiCaptchaProviderRejectsBadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errorId":1,"errorCode":"ERROR_KEY_DOES_NOT_EXIST","errorDescription":"Account authorization key not found"}`))
	}))
	defer srv.Close()

	provider := NewAntiCaptchaProvider("bogus", srv.URL, zap.NewNop())
	defer provider.client.CloseIdleConnections()

	_, err := provider.CreateTask(context.Background(), TaskConfig{Type: "RecaptchaV2TaskProxyless"})
	require.Error(t, err)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "ERROR_KEY_DOES_NOT_EXIST", svcErr.Code)
	assert.Contains(t, svcErr.Description, "authorization key")
}

func TestAntiCaptchaProviderPendingThenReady(t *testing.T) {
	poll := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			w.Write([]byte(`{"errorId":0,"taskId":771234}`))
		case "/getTaskResult":
			poll++
			if poll < 2 {
				w.Write([]byte(`{"errorId":0,"status":"processing"}`))
				return
			}
			w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"gRecaptchaResponse":"ac-token"}}`))
		}
	}))
	defer srv.Close()

	provider := NewAntiCaptchaProvider("key", srv.URL, zap.NewNop())
	defer provider.client.CloseIdleConnections()
	solver := NewSolver(provider, zap.NewNop())

	solution, err := solver.Solve(context.Background(), TaskConfig{}, SolveOptions{
		MaxAttempts:  5,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "ac-token", solution.Token)
	assert.Equal(t, 2, poll)
}
