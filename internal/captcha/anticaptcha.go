// File: internal/captcha/anticaptcha.go
package captcha

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const defaultAntiCaptchaBaseURL = "https://api.anti-captcha.com"

var acJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// AntiCaptchaProvider speaks the Anti-Captcha HTTP API. The wire shape
// differs from CapSolver's in small but incompatible ways: task ids are
// numeric, the poll endpoint wants softId-style params, and error details
// live in errorCode/errorDescription next to an integer errorId.
type AntiCaptchaProvider struct {
	baseURL   string
	clientKey string
	client    *http.Client
	logger    *zap.Logger
}

// NewAntiCaptchaProvider builds a provider against the public Anti-Captcha
// endpoint. baseURL is overridable for tests.
func NewAntiCaptchaProvider(clientKey, baseURL string, logger *zap.Logger) *AntiCaptchaProvider {
	if baseURL == "" {
		baseURL = defaultAntiCaptchaBaseURL
	}
	return &AntiCaptchaProvider{
		baseURL:   baseURL,
		clientKey: clientKey,
		client:    newHTTPClient(logger),
		logger:    logger.Named("anticaptcha"),
	}
}

// Name implements Provider.
func (p *AntiCaptchaProvider) Name() string { return "anticaptcha" }

type antiCaptchaCreateResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type antiCaptchaResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// CreateTask implements Provider.
func (p *AntiCaptchaProvider) CreateTask(ctx context.Context, cfg TaskConfig) (string, error) {
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

	var resp antiCaptchaCreateResponse
	if err := p.post(ctx, "/createTask", payload, &resp); err != nil {
		return "", err
	}
	if resp.ErrorID != 0 {
		return "", &ServiceError{Provider: p.Name(), Code: resp.ErrorCode, Description: resp.ErrorDescription}
	}
	if resp.TaskID == 0 {
		return "", fmt.Errorf("anticaptcha: createTask returned no task id")
	}
	return fmt.Sprintf("%d", resp.TaskID), nil
}

// GetTaskResult implements Provider.
func (p *AntiCaptchaProvider) GetTaskResult(ctx context.Context, taskID string) (TaskResult, error) {
	payload := map[string]any{
		"clientKey": p.clientKey,
		"taskId":    taskID,
	}

	var resp antiCaptchaResultResponse
	if err := p.post(ctx, "/getTaskResult", payload, &resp); err != nil {
		return TaskResult{}, err
	}
	if resp.ErrorID != 0 {
		return TaskResult{
			Status:           StatusFailed,
			ErrorCode:        resp.ErrorCode,
			ErrorDescription: resp.ErrorDescription,
		}, nil
	}

	if resp.Status == "ready" {
		return TaskResult{
			Status: StatusReady,
			Solution: &Solution{
				Token: resp.Solution.GRecaptchaResponse,
			},
		}, nil
	}
	return TaskResult{Status: StatusPending}, nil
}

func (p *AntiCaptchaProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := acJSON.Marshal(payload)
	if err != nil {
		return fmt.Errorf("anticaptcha: encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anticaptcha: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("anticaptcha: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("anticaptcha: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("anticaptcha: %s returned HTTP %d", path, resp.StatusCode)
	}
	if err := acJSON.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("anticaptcha: decode %s response: %w", path, err)
	}
	return nil
}
