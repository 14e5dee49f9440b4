package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"plangate/internal/gate"
	"plangate/pkg/models"
)

// ErrUnexpectedStatus is returned when the gate answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status from gate")

// HTTPGateClient is an HTTP implementation of the Validator interface.
type HTTPGateClient struct {
	url    string
	client *http.Client
}

// NewHTTPGateClient creates a new HTTPGateClient for the gate at url. A nil
// client uses http.DefaultClient.
func NewHTTPGateClient(url string, client *http.Client) *HTTPGateClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGateClient{url: strings.TrimRight(url, "/"), client: client}
}

// ClientCredentials returns an HTTP client that authenticates with the OAuth2
// client credentials grant.
func ClientCredentials(ctx context.Context, tokenURL, clientID, clientSecret string, scopes []string) *http.Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return cfg.Client(ctx)
}

// Validate posts plan to the gate and returns its verdict.
func (c *HTTPGateClient) Validate(ctx context.Context, plan *models.ExecutionPlan) (*models.ValidationResult, error) {
	if plan == nil {
		plan = &models.ExecutionPlan{}
	}
	requestBody, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var result models.ValidationResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/validate", requestBody, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Statistics fetches the gate's statistics report.
func (c *HTTPGateClient) Statistics(ctx context.Context) (*gate.StatisticsReport, error) {
	var report gate.StatisticsReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/statistics", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Health fetches the gate's health summary.
func (c *HTTPGateClient) Health(ctx context.Context) (*gate.Health, error) {
	var health gate.Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

func (c *HTTPGateClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&problem)
		msg := problem.Detail
		if msg == "" {
			msg = problem.Title
		}
		if msg == "" {
			return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
