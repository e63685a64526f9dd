// Package captcha talks to external visual-challenge solving services.
//
// Two provider backends with different wire shapes (CapSolver and
// Anti-Captcha) sit behind the single Provider interface; the Solver's
// polling loop is identical for both. Task-creation failures are terminal
// and never retried -- a non-zero error id means bad input, not transient
// unavailability.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// TaskConfig describes one solve request. Immutable once built.
type TaskConfig struct {
	// PageURL is the full URL of the page embedding the challenge widget.
	PageURL string
	// SiteKey is the widget's public site key.
	SiteKey string
	// Type is the provider task type, e.g. "ReCaptchaV2TaskProxyLess".
	Type string
	// Extra carries provider-specific task parameters verbatim.
	Extra map[string]any
}

// Solution is produced once per successful solve and consumed exactly once
// to unblock page-side challenge completion.
type Solution struct {
	Token     string
	UserAgent string
	Extra     map[string]any
}

// TaskStatus is the lifecycle state of a submitted solve task.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusReady   TaskStatus = "ready"
	StatusFailed  TaskStatus = "failed"
)

// TaskResult is the polled state of a task: pending, ready with a solution,
// or failed with the provider's error code and description.
type TaskResult struct {
	Status           TaskStatus
	Solution         *Solution
	ErrorCode        string
	ErrorDescription string
}

// Provider abstracts a challenge-solving service backend. Callers depend
// only on this contract, never on a specific backend's request shape.
type Provider interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// CreateTask submits a solve task and returns its id. A service-side
	// rejection (non-zero error id) is returned as a *ServiceError.
	CreateTask(ctx context.Context, cfg TaskConfig) (string, error)
	// GetTaskResult polls a previously created task.
	GetTaskResult(ctx context.Context, taskID string) (TaskResult, error)
}

// ServiceError is an explicit rejection from the solving service, preserved
// verbatim for diagnostics.
type ServiceError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Code, e.Description)
}

// TimeoutError is raised when a polling loop exhausts its budget without
// reaching a terminal state.
type TimeoutError struct {
	TaskID   string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("challenge task %s not solved after %d polls (%s elapsed)", e.TaskID, e.Attempts, e.Elapsed.Round(time.Millisecond))
}

// SolveOptions bounds the polling loop.
type SolveOptions struct {
	MaxAttempts  int
	PollInterval time.Duration
}

// Solver drives a Provider through the submit/poll cycle.
type Solver struct {
	provider Provider
	logger   *zap.Logger
}

// NewSolver creates a solver over the given backend.
func NewSolver(provider Provider, logger *zap.Logger) *Solver {
	return &Solver{
		provider: provider,
		logger:   logger.Named("captcha"),
	}
}

// Solve submits the task and polls until a terminal state or exhaustion.
//
// Creation failures are not retried. A ready-error result is terminal and
// raised immediately. Exhausting MaxAttempts yields a *TimeoutError naming
// the task id and attempt count.
func (s *Solver) Solve(ctx context.Context, cfg TaskConfig, opts SolveOptions) (*Solution, error) {
	taskID, err := s.provider.CreateTask(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create challenge task: %w", err)
	}
	s.logger.Info("Challenge task created.",
		zap.String("provider", s.provider.Name()),
		zap.String("task_id", taskID))

	start := time.Now()
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.PollInterval):
		}

		result, err := s.provider.GetTaskResult(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("poll challenge task %s: %w", taskID, err)
		}

		switch result.Status {
		case StatusReady:
			s.logger.Info("Challenge solved.",
				zap.String("task_id", taskID),
				zap.Int("polls", attempt),
				zap.Duration("elapsed", time.Since(start)))
			return result.Solution, nil
		case StatusFailed:
			return nil, &ServiceError{
				Provider:    s.provider.Name(),
				Code:        result.ErrorCode,
				Description: result.ErrorDescription,
			}
		case StatusPending:
			s.logger.Debug("Challenge still processing.",
				zap.String("task_id", taskID),
				zap.Int("attempt", attempt))
		}
	}

	return nil, &TimeoutError{TaskID: taskID, Attempts: opts.MaxAttempts, Elapsed: time.Since(start)}
}

// IsTimeout reports whether err is a polling-budget exhaustion.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// newHTTPClient builds the HTTP client shared by the provider backends.
// Transport-level retries only; application-level rejections (error ids)
// are never retried.
func newHTTPClient(logger *zap.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil
	if logger != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.Debug("Retrying solver request.", zap.String("url", req.URL.Path), zap.Int("attempt", attempt))
			}
		}
	}
	return rc.StandardClient()
}
