package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultBaseURL = "https://api.tavily.com"

// Service performs best-effort web lookups against a Tavily-compatible
// search API. Callers treat failures and empty answers identically, so the
// service never needs retries.
type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewService creates a search service. An empty base URL selects the
// public endpoint.
func NewService(baseURL, apiKey string) *Service {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/") + "/search",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type searchResponse struct {
	Answer string `json:"answer"`
}

// Search returns a direct answer for the query, or an empty string when the
// API has none.
func (s *Service) Search(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:        s.apiKey,
		Query:         query,
		SearchDepth:   "advanced",
		IncludeAnswer: true,
		MaxResults:    5,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search API returned %d: %s", resp.StatusCode, msg)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "failed to decode search response")
	}
	return result.Answer, nil
}
