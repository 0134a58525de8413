package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

const (
	defaultProviderBaseURL = "https://api.retellai.com"
	createWebCallPath      = "/v2/create-web-call"
	providerHTTPTimeout    = 15 * time.Second
)

// WebCallClient creates web calls through the voice provider's REST API.
type WebCallClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// WebCallClientConfig configures the provider client.
type WebCallClientConfig struct {
	// APIKey is the provider API key (Bearer token).
	APIKey string
	// BaseURL overrides the provider API base URL (for testing).
	BaseURL string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewWebCallClient creates a client for provisioning AI voice calls.
func NewWebCallClient(cfg WebCallClientConfig) (*WebCallClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("voice provider client: API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultProviderBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: providerHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WebCallClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

var _ CallCreator = (*WebCallClient)(nil)

// CreateCall registers a new web call for the agent and returns its access token.
func (c *WebCallClient) CreateCall(ctx context.Context, req CreateCallRequest) (*CreateCallResponse, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, fmt.Errorf("voice provider: agent ID required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("voice provider: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createWebCallPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("voice provider: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("voice provider: creating web call",
		"agent_id", req.AgentID,
		"agent_version", req.AgentVersion,
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("voice provider: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("voice provider: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("voice provider: API error",
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, fmt.Errorf("voice provider: API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out CreateCallResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("voice provider: decode response: %w", err)
	}

	c.logger.Info("voice provider: web call created",
		"call_id", out.CallID,
		"call_status", out.CallStatus,
		"agent_id", req.AgentID,
	)
	return &out, nil
}
