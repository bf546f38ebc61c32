package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/famcare-ai/famcare/internal/config"
	"github.com/famcare-ai/famcare/internal/inference"
)

const maxQueryLen = 1000

// WebSearch queries a Tavily-compatible search API for current information
// the model does not have.
type WebSearch struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewWebSearch creates the web search tool from config.
func NewWebSearch(cfg config.SearchConfig) *WebSearch {
	return &WebSearch{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

func (w *WebSearch) Definition() inference.ToolDefinition {
	return inference.ToolDefinition{
		Name: "web_search",
		Description: "Search the web for current, factual information. Use this when " +
			"the question needs up-to-date real-world knowledge such as weather, " +
			"news, events, places, or anything outside the conversation and records.",
		Parameters: inference.ParameterSchema{
			Type: "object",
			Properties: map[string]inference.ParameterProperty{
				"query": {
					Type:        "string",
					Description: "The search query, e.g. 'current weather in Boston'",
				},
			},
			Required: []string{"query"},
		},
	}
}

type webSearchArgs struct {
	Query string `json:"query"`
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Call runs the search and renders the answer plus top results as text.
func (w *WebSearch) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed webSearchArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("parsing web_search arguments: %w", err)
	}
	if parsed.Query == "" {
		return "", errors.New("web_search requires a query")
	}
	if len(parsed.Query) > maxQueryLen {
		return "", fmt.Errorf("query too long (%d chars, max %d)", len(parsed.Query), maxQueryLen)
	}
	if w.apiKey == "" {
		return "", errors.New("search api key not configured")
	}

	body, err := json.Marshal(searchRequest{
		APIKey:        w.apiKey,
		Query:         parsed.Query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    5,
	})
	if err != nil {
		return "", fmt.Errorf("encoding search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling search api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var sr searchResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("decoding search response: %w", err)
	}

	var b strings.Builder
	if sr.Answer != "" {
		b.WriteString("Answer: " + sr.Answer + "\n")
	}
	for i, r := range sr.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	if b.Len() == 0 {
		return "No results found.", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
