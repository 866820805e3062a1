// Package controller is the external home-automation controller RPC
// boundary: a REST client that implements internal/proposal.Deployer
// against a Home-Assistant-shaped HTTP API (state queries, service
// calls, and automation CRUD). The core never depends on this package
// directly — only on the narrow Deployer interface it satisfies.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aethercore/aether/internal/proposal"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = int64(1 << 20)
)

// Config configures a Client.
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// Client is a REST client for the external controller's HTTP API.
type Client struct {
	baseURL  string
	token    string
	client   *http.Client
	maxBytes int64
}

// NewClient validates cfg and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("controller: base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("controller: invalid base_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("controller: base_url scheme must be http or https")
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("controller: token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	return &Client{baseURL: baseURL, token: token, client: httpClient, maxBytes: maxBytes}, nil
}

// GetState fetches a single entity's current state.
func (c *Client) GetState(ctx context.Context, entityID string) (json.RawMessage, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, fmt.Errorf("controller: entity_id is required")
	}
	return c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/states/"+url.PathEscape(entityID), nil)
}

// DiscoverEntities fetches the controller's full entity-state snapshot
// and, when query is non-empty, narrows it to entities whose entity_id
// contains query (case-insensitive). An empty query returns every known
// entity.
func (c *Client) DiscoverEntities(ctx context.Context, query string) (json.RawMessage, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/api/states", nil)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return raw, nil
	}

	var all []map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("controller: decode states response: %w", err)
	}
	lowerQuery := strings.ToLower(query)
	matched := make([]map[string]any, 0, len(all))
	for _, entity := range all {
		id, _ := entity["entity_id"].(string)
		if strings.Contains(strings.ToLower(id), lowerQuery) {
			matched = append(matched, entity)
		}
	}
	out, err := json.Marshal(matched)
	if err != nil {
		return nil, fmt.Errorf("controller: encode filtered states: %w", err)
	}
	return out, nil
}

// CallService satisfies proposal.Deployer for EntityCommand proposals.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	domain = strings.TrimSpace(domain)
	service = strings.TrimSpace(service)
	if domain == "" || service == "" {
		return fmt.Errorf("controller: domain and service are required")
	}
	body, err := encodeBody(data)
	if err != nil {
		return err
	}
	_, err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/services/"+url.PathEscape(domain)+"/"+url.PathEscape(service), body)
	return err
}

type automationPayload struct {
	Alias      string           `json:"alias"`
	Trigger    []map[string]any `json:"trigger,omitempty"`
	Condition  []map[string]any `json:"condition,omitempty"`
	Action     []map[string]any `json:"action,omitempty"`
}

type automationCreatedResponse struct {
	ID string `json:"id"`
}

// DeployAutomation satisfies proposal.Deployer for Automation/Script/
// Scene proposals, rendering the declarative body as a controller
// automation config.
func (c *Client) DeployAutomation(ctx context.Context, p *proposal.Proposal) (string, error) {
	payload := automationPayload{
		Alias:     p.ID,
		Action:    p.Body.Actions,
		Condition: p.Body.Conditions,
	}
	if p.Body.Trigger != nil {
		payload.Trigger = []map[string]any{p.Body.Trigger}
	}
	body, err := encodeBody(payload)
	if err != nil {
		return "", err
	}

	raw, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/config/automation/config/"+url.PathEscape(p.ID), body)
	if err != nil {
		return "", err
	}
	var resp automationCreatedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("controller: decode automation response: %w", err)
	}
	if resp.ID == "" {
		resp.ID = p.ID
	}
	return resp.ID, nil
}

// Disable satisfies proposal.Deployer's best-effort rollback: it calls
// the automation.turn_off service against the deployed identifier and
// reports whether that call succeeded.
func (c *Client) Disable(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, fmt.Errorf("controller: external id is required to disable")
	}
	err := c.CallService(ctx, "automation", "turn_off", map[string]any{
		"entity_id": "automation." + externalID,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ proposal.Deployer = (*Client)(nil)

func encodeBody(v any) (io.Reader, error) {
	if v == nil {
		return bytes.NewReader([]byte(`{}`)), nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("controller: encode request body: %w", err)
	}
	return bytes.NewReader(encoded), nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("controller: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("controller: request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := c.maxBytes
	if limit <= 0 {
		limit = defaultMaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("controller: read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("controller: response too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("controller: %s", msg)
	}
	return json.RawMessage(data), nil
}
