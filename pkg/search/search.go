// Package search is a small client for the Tavily web search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/k3a/html2text"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/environment"
)

const DefaultBaseURL = "https://api.tavily.com"

// Depth values understood by the search API.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// ErrNoAPIKey is returned by New when no API key is available.
var ErrNoAPIKey = errors.New("search API key not set")

// Query is one search request.
type Query struct {
	Text           string
	Depth          string
	MaxResults     int
	IncludeDomains []string
}

// Hit is one search result.
type Hit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response holds the hits and the optional synthesized answer.
type Response struct {
	Answer  string `json:"answer"`
	Results []Hit  `json:"results"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Response, error)
}

// SearcherFunc adapts a function into a Searcher.
type SearcherFunc func(ctx context.Context, q Query) (*Response, error)

func (f SearcherFunc) Search(ctx context.Context, q Query) (*Response, error) {
	return f(ctx, q)
}

// StatusError reports a non-2xx reply from the search API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search API returned %d: %s", e.Code, e.Body)
}

// Client talks to the Tavily HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	depth      string
	maxResults int
	httpClient *http.Client
}

// New builds a client from cfg, reading the key named by cfg.APIKeyEnv.
func New(ctx context.Context, cfg config.SearchConfig, env environment.Provider) (*Client, error) {
	keyName := cfg.APIKeyEnv
	if keyName == "" {
		keyName = environment.TavilyAPIKey
	}
	key, ok := env.Get(ctx, keyName)
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAPIKey, keyName)
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClient(cfg.BaseURL, key, cfg.Depth, cfg.MaxResults, &http.Client{Timeout: timeout}), nil
}

func NewClient(baseURL, apiKey, depth string, maxResults int, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if depth == "" {
		depth = DepthAdvanced
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		depth:      depth,
		maxResults: maxResults,
		httpClient: httpClient,
	}
}

type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	SearchDepth    string   `json:"search_depth"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

func (c *Client) Search(ctx context.Context, q Query) (*Response, error) {
	body := searchRequest{
		APIKey:         c.apiKey,
		Query:          q.Text,
		MaxResults:     q.MaxResults,
		IncludeAnswer:  true,
		SearchDepth:    q.Depth,
		IncludeDomains: q.IncludeDomains,
	}
	if body.MaxResults <= 0 {
		body.MaxResults = c.maxResults
	}
	if body.SearchDepth == "" {
		body.SearchDepth = c.depth
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Searching", "query", q.Text, "depth", body.SearchDepth, "domains", q.IncludeDomains)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	for i := range out.Results {
		out.Results[i].Content = CleanText(out.Results[i].Content)
	}
	return &out, nil
}

// CleanText strips markup from a snippet and collapses whitespace.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = html2text.HTML2Text(s)
	}
	return strings.Join(strings.Fields(s), " ")
}
