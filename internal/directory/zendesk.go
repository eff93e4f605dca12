// Package directory reads the agent roster and live availability state
// from the Zendesk API.
package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zulandar/switchboard/internal/config"
)

// ErrTransient marks provider failures that are expected to clear on a
// later poll (timeouts, rate limits, 5xx). Callers skip the cycle rather
// than treating the roster as changed.
var ErrTransient = errors.New("directory: transient provider error")

// AgentState classifies an agent's live availability.
type AgentState string

const (
	StateAvailable     AgentState = "available"
	StateTransfersOnly AgentState = "transfers_only"
	StateOther         AgentState = "other"
)

// Agent is one roster entry.
type Agent struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

const defaultTimeout = 10 * time.Second

// Client talks to the Zendesk REST API using email/token basic auth.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
}

// New creates a Zendesk directory client from config.
func New(cfg config.HelpdeskConfig) *Client {
	raw := fmt.Sprintf("%s/token:%s", cfg.Email, cfg.APIToken)
	return &Client{
		baseURL: fmt.Sprintf("https://%s.zendesk.com", cfg.Subdomain),
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// NewWithBaseURL creates a client against an explicit base URL, used in tests.
func NewWithBaseURL(baseURL, email, token string) *Client {
	raw := fmt.Sprintf("%s/token:%s", email, token)
	return &Client{
		baseURL: baseURL,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// ListAgents returns all users with the agent role.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out struct {
		Users []Agent `json:"users"`
	}
	if err := c.get(ctx, "/api/v2/users?role=agent", &out); err != nil {
		return nil, fmt.Errorf("directory: list agents: %w", err)
	}
	return out.Users, nil
}

// Availability returns the classified live state for one agent. Unknown
// raw states are reported as StateOther.
func (c *Client) Availability(ctx context.Context, agentID int64) (AgentState, error) {
	var out struct {
		Availability struct {
			AgentState string `json:"agent_state"`
		} `json:"availability"`
	}
	path := fmt.Sprintf("/api/v2/channels/voice/availabilities/%d", agentID)
	if err := c.get(ctx, path, &out); err != nil {
		return "", fmt.Errorf("directory: availability %d: %w", agentID, err)
	}
	return classify(out.Availability.AgentState), nil
}

// classify maps a raw Zendesk agent_state onto the three states the
// monitor distinguishes.
func classify(raw string) AgentState {
	switch raw {
	case "available", "online":
		return StateAvailable
	case "transfers_only":
		return StateTransfersOnly
	default:
		return StateOther
	}
}

// get performs an authenticated GET and decodes the JSON response into v.
func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
