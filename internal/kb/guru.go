// Package kb searches the Guru knowledge base for cards matching a
// help question.
package kb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zulandar/switchboard/internal/config"
)

const (
	defaultBaseURL = "https://api.getguru.com"
	cardURLBase    = "https://app.getguru.com/card/"
	defaultLimit   = 5
	defaultTimeout = 10 * time.Second
)

// Card is one knowledge base search hit.
type Card struct {
	Title string `json:"preferredPhrase"`
	Slug  string `json:"slug"`
}

// URL returns the shareable card link, or "#" when the slug is missing.
func (c Card) URL() string {
	if c.Slug == "" {
		return "#"
	}
	return cardURLBase + c.Slug
}

// Client searches Guru using email/token basic auth.
type Client struct {
	baseURL string
	auth    string
	limit   int
	http    *http.Client
}

// New creates a Guru knowledge base client from config.
func New(cfg config.KnowledgeConfig) *Client {
	return newClient(defaultBaseURL, cfg.Email, cfg.APIToken)
}

// NewWithBaseURL creates a client against an explicit base URL, used in tests.
func NewWithBaseURL(baseURL, email, token string) *Client {
	return newClient(baseURL, email, token)
}

func newClient(baseURL, email, token string) *Client {
	raw := fmt.Sprintf("%s:%s", email, token)
	return &Client{
		baseURL: baseURL,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)),
		limit:   defaultLimit,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Search returns up to five cards matching the query. An empty result is
// not an error; callers decide how to answer when nothing matches.
func (c *Client) Search(ctx context.Context, query string) ([]Card, error) {
	if query == "" {
		return nil, fmt.Errorf("kb: query is required")
	}

	params := url.Values{
		"searchTerms": {query},
		"typeFilter":  {"CARD"},
		"limit":       {fmt.Sprintf("%d", c.limit)},
	}
	endpoint := c.baseURL + "/api/v1/search/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kb: build request: %w", err)
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kb: search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kb: search: status %d: %s", resp.StatusCode, body)
	}

	var cards []Card
	if err := json.NewDecoder(resp.Body).Decode(&cards); err != nil {
		return nil, fmt.Errorf("kb: decode response: %w", err)
	}
	if len(cards) > c.limit {
		cards = cards[:c.limit]
	}
	return cards, nil
}
