// File: internal/captcha/capsolver.go
package captcha

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const defaultCapSolverBaseURL = "https://api.capsolver.com"

var capJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// CapSolverProvider speaks the CapSolver HTTP API: JSON bodies with a
// top-level clientKey, errorId as an integer, status strings
// "processing"/"ready"/"failed".
type CapSolverProvider struct {
	baseURL   string
	clientKey string
	client    *http.Client
	logger    *zap.Logger
}

// NewCapSolverProvider builds a provider against the public CapSolver
// endpoint. baseURL is overridable for tests.
func NewCapSolverProvider(clientKey, baseURL string, logger *zap.Logger) *CapSolverProvider {
	if baseURL == "" {
		baseURL = defaultCapSolverBaseURL
	}
	return &CapSolverProvider{
		baseURL:   baseURL,
		clientKey: clientKey,
		client:    newHTTPClient(logger),
		logger:    logger.Named("capsolver"),
	}
}

// Name implements Provider.
func (p *CapSolverProvider) Name() string { return "capsolver" }

type capSolverTaskEnvelope struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           string `json:"taskId"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		UserAgent          string `json:"userAgent"`
	} `json:"solution"`
}

// CreateTask implements Provider.
func (p *CapSolverProvider) CreateTask(ctx context.Context, cfg TaskConfig) (string, error) {
	task := map[string]any{
		"type":       cfg.Type,
		"websiteURL": cfg.PageURL,
		"websiteKey": cfg.SiteKey,
	}
	for k, v := range cfg.Extra {
		task[k] = v
	}
	payload := map[string]any{
		"clientKey": p.clientKey,
		"task":      task,
	}

	var env capSolverTaskEnvelope
	if err := p.post(ctx, "/createTask", payload, &env); err != nil {
		return "", err
	}
	if env.ErrorID != 0 {
		return "", &ServiceError{Provider: p.Name(), Code: env.ErrorCode, Description: env.ErrorDescription}
	}
	if env.TaskID == "" {
		return "", fmt.Errorf("capsolver: createTask returned no task id")
	}
	return env.TaskID, nil
}

// GetTaskResult implements Provider.
func (p *CapSolverProvider) GetTaskResult(ctx context.Context, taskID string) (TaskResult, error) {
	payload := map[string]any{
		"clientKey": p.clientKey,
		"taskId":    taskID,
	}

	var env capSolverTaskEnvelope
	if err := p.post(ctx, "/getTaskResult", payload, &env); err != nil {
		return TaskResult{}, err
	}
	if env.ErrorID != 0 {
		return TaskResult{
			Status:           StatusFailed,
			ErrorCode:        env.ErrorCode,
			ErrorDescription: env.ErrorDescription,
		}, nil
	}

	switch env.Status {
	case "ready":
		return TaskResult{
			Status: StatusReady,
			Solution: &Solution{
				Token:     env.Solution.GRecaptchaResponse,
				UserAgent: env.Solution.UserAgent,
			},
		}, nil
	case "processing", "idle", "":
		return TaskResult{Status: StatusPending}, nil
	default:
		return TaskResult{
			Status:           StatusFailed,
			ErrorCode:        "UNEXPECTED_STATUS",
			ErrorDescription: "status " + strconv.Quote(env.Status),
		}, nil
	}
}

func (p *CapSolverProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := capJSON.Marshal(payload)
	if err != nil {
		return fmt.Errorf("capsolver: encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("capsolver: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("capsolver: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("capsolver: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capsolver: %s returned HTTP %d", path, resp.StatusCode)
	}
	if err := capJSON.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("capsolver: decode %s response: %w", path, err)
	}
	return nil
}
