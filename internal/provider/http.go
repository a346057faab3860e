package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPConfig contains settings of the JSON communication gateway
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 = unlimited
	Burst             int
}

// HTTPClient sends email, SMS and calls through a JSON gateway:
// POST {base}/v1/emails, /v1/sms and /v1/calls with a Bearer API key.
// Retried sends repeat the Idempotency-Key header of the first attempt.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient creates a gateway client
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

type gatewayResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) SendEmail(ctx context.Context, msg *EmailMessage) (*SendResult, error) {
	return c.post(ctx, "/v1/emails", msg.IdempotencyKey, msg)
}

func (c *HTTPClient) SendSMS(ctx context.Context, msg *SMSMessage) (*SendResult, error) {
	return c.post(ctx, "/v1/sms", msg.IdempotencyKey, msg)
}

func (c *HTTPClient) Dial(ctx context.Context, req *CallRequest) (*SendResult, error) {
	return c.post(ctx, "/v1/calls", req.CallID, req)
}

func (c *HTTPClient) post(ctx context.Context, path, key string, body any) (*SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &DeliveryError{Temporary: true, Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &DeliveryError{Temporary: true, Message: fmt.Sprintf("gateway request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var gr gatewayResponse
	_ = json.Unmarshal(raw, &gr)

	if resp.StatusCode >= 300 {
		msg := gr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &DeliveryError{
			Temporary: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Message:   fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, msg),
		}
	}

	return &SendResult{MessageID: gr.ID, Provider: "http"}, nil
}
