package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTavilyURL = "https://api.tavily.com"

// TavilyClient talks to the Tavily extract and search APIs.
type TavilyClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewTavilyClient(apiKey string) *TavilyClient {
	return NewTavilyClientWithBaseURL(apiKey, defaultTavilyURL)
}

// NewTavilyClientWithBaseURL is used by tests to point at a local server.
func NewTavilyClientWithBaseURL(apiKey, baseURL string) *TavilyClient {
	return &TavilyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type extractRequest struct {
	URLs          []string `json:"urls"`
	IncludeImages bool     `json:"include_images"`
	ExtractDepth  string   `json:"extract_depth"`
	Format        string   `json:"format"`
}

type extractResponse struct {
	Results []struct {
		URL        string `json:"url"`
		RawContent string `json:"raw_content"`
	} `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

// Extract returns the page content of url as markdown.
func (c *TavilyClient) Extract(ctx context.Context, url string) (string, error) {
	var resp extractResponse
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/extract", c.headers(), extractRequest{
		URLs:         []string{url},
		ExtractDepth: "basic",
		Format:       "markdown",
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("tavily extract: %w", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].RawContent == "" {
		if len(resp.FailedResults) > 0 {
			return "", fmt.Errorf("tavily extract: %s", resp.FailedResults[0].Error)
		}
		return "", errors.New("tavily extract: no content returned")
	}
	return resp.Results[0].RawContent, nil
}

type searchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

// SearchResult is one hit from a Tavily search.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Answer  string         `json:"answer"`
	Results []SearchResult `json:"results"`
}

// Search runs a web search and returns up to maxResults hits.
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	var resp searchResponse
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/search", c.headers(), searchRequest{
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  maxResults,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tavily search %q: %w", query, err)
	}
	return resp.Results, nil
}

func (c *TavilyClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
