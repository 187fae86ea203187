package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/syntrixbase/pegasus/internal/toolexec"
)

var websearchSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query."}
  },
  "required": ["query"]
}`)

// SearchClient performs a web search and returns a raw result payload
// (provider-specific JSON or text). Swappable for tests and for a real
// search API client.
type SearchClient interface {
	Search(ctx context.Context, query string) (string, error)
}

// httpSearchClient hits a search endpoint that accepts a GET request with a
// "q" query parameter, returning the response body verbatim.
type httpSearchClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSearchClient builds a SearchClient against a GET-based search
// endpoint (e.g. a self-hosted SearxNG instance or a provider's query URL).
func NewHTTPSearchClient(endpoint string, timeout time.Duration) SearchClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpSearchClient{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (c *httpSearchClient) Search(ctx context.Context, query string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("search endpoint returned %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

// WebSearchDefinition returns the web-search tool definition backed by
// client.
func WebSearchDefinition(client SearchClient) toolexec.Definition {
	return toolexec.Definition{
		Name:        "websearch",
		Description: "Search the web and return raw results for the model to summarize.",
		Parameters:  websearchSchema,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var input struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return nil, fmt.Errorf("invalid parameters: %w", err)
			}
			if input.Query == "" {
				return nil, fmt.Errorf("query is required")
			}
			result, err := client.Search(ctx, input.Query)
			if err != nil {
				return nil, err
			}
			return map[string]any{"query": input.Query, "results": result}, nil
		},
	}
}
