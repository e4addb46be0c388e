package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forolabs/peticionador/internal/util"
)

// Provider solves a challenge automatically. Implementations wrap a paid
// third-party solving service.
type Provider interface {
	Solve(ctx context.Context, challenge Challenge) (string, error)
}

// HTTPProvider talks the create-task/poll-result protocol used by the
// mainstream solving services (anti-captcha compatible API).
type HTTPProvider struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
}

// HTTPProviderOption configures an HTTPProvider.
type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithPollInterval overrides the result polling interval.
func WithPollInterval(d time.Duration) HTTPProviderOption {
	return func(p *HTTPProvider) { p.pollInterval = d }
}

// NewHTTPProvider creates a provider client for the given service endpoint.
func NewHTTPProvider(baseURL, apiKey string, opts ...HTTPProviderOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type createTaskRequest struct {
	ClientKey string         `json:"clientKey"`
	Task      map[string]any `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		Text               string `json:"text"`
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// Solve submits the challenge and polls until the service resolves it or
// ctx expires. The caller bounds the overall duration via ctx.
func (p *HTTPProvider) Solve(ctx context.Context, challenge Challenge) (string, error) {
	task, err := taskPayload(challenge)
	if err != nil {
		return "", err
	}

	taskID, err := p.createTask(ctx, task)
	if err != nil {
		return "", err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("captcha service: %w", ctx.Err())
		case <-ticker.C:
		}

		result, err := p.taskResult(ctx, taskID)
		if err != nil {
			return "", err
		}
		if result.Status != "ready" {
			continue
		}
		if result.Solution.Text != "" {
			return result.Solution.Text, nil
		}
		return result.Solution.GRecaptchaResponse, nil
	}
}

func taskPayload(challenge Challenge) (map[string]any, error) {
	switch challenge.Kind {
	case ChallengeImage:
		return map[string]any{
			"type": "ImageToTextTask",
			"body": util.B64Encode(challenge.ImagePNG),
		}, nil
	case ChallengeSiteKey:
		return map[string]any{
			"type":       "RecaptchaV2TaskProxyless",
			"websiteKey": challenge.SiteKey,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported challenge kind %q", challenge.Kind)
	}
}

func (p *HTTPProvider) createTask(ctx context.Context, task map[string]any) (int64, error) {
	var resp createTaskResponse
	err := p.post(ctx, "/createTask", createTaskRequest{ClientKey: p.apiKey, Task: task}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.ErrorID != 0 {
		return 0, fmt.Errorf("captcha service rejected task: %s", resp.ErrorDescription)
	}
	return resp.TaskID, nil
}

func (p *HTTPProvider) taskResult(ctx context.Context, taskID int64) (*taskResultResponse, error) {
	var resp taskResultResponse
	err := p.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: p.apiKey, TaskID: taskID}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ErrorID != 0 {
		return nil, fmt.Errorf("captcha service error: %s", resp.ErrorDescription)
	}
	return &resp, nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling captcha service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha service returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding captcha service response: %w", err)
	}
	return nil
}
