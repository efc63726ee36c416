package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/zaidmukaddam/openlord.ai/pkg/domain"
	"github.com/zaidmukaddam/openlord.ai/pkg/model"
)

// MinSearchResults is the floor applied to the requested result count.
const MinSearchResults = 5

// SearchResult is one web_search hit.
type SearchResult struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	RawContent string `json:"raw_content"`
}

// SearchResponse is the web_search result.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Images  []any          `json:"images,omitempty"`
	Answer  string         `json:"answer,omitempty"`
}

// WebSearch queries the Tavily search API.
type WebSearch struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Limiter throttles outbound requests when set.
	Limiter *rate.Limiter
}

var _ Tool = (*WebSearch)(nil)

func (s *WebSearch) Name() domain.ToolName { return domain.ToolWebSearch }

func (s *WebSearch) Description() string {
	return "Search the web for information with the given query, max results and search depth."
}

func (s *WebSearch) Schema() *model.Schema { return webSearchSchema }

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeImages bool   `json:"include_images"`
	IncludeAnswer bool   `json:"include_answer"`
}

func (s *WebSearch) Execute(ctx context.Context, args Args) (any, error) {
	a, ok := args.(WebSearchArgs)
	if !ok {
		return nil, fmt.Errorf("web search: unexpected arguments %T", args)
	}
	if s.APIKey == "" {
		return nil, errors.New("web search is not configured: missing API key")
	}
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("web search rate limit: %w", err)
		}
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:        s.APIKey,
		Query:         a.Query,
		MaxResults:    max(MinSearchResults, a.MaxResults),
		SearchDepth:   string(a.SearchDepth),
		IncludeImages: true,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	endpoint := strings.TrimRight(s.BaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	slog.Info("Searching the web", "query", a.Query, "maxResults", a.MaxResults, "depth", a.SearchDepth)

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("search request: unexpected status %s", resp.Status)
	}

	var out SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if out.Results == nil {
		out.Results = []SearchResult{}
	}
	return &out, nil
}
