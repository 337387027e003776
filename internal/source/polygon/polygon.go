// Package polygon implements source.Source against the Polygon aggregates API.
package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hist-data/internal/source"
)

const (
	defaultBaseURL = "https://api.polygon.io"

	// Max results per aggregates request.
	maxLimit = 50000

	// Polygon free tier: 5 req/min => 12s between requests.
	defaultRetryAfter = 12 * time.Second
)

// Source fetches 1-minute aggregates over plain HTTP. Pagination uses the
// response's next_url as the continuation cursor.
type Source struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a Polygon source with a request-scoped timeout.
func New(apiKey string) *Source {
	return &Source{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSHandshakeTimeout: 10 * time.Second,
				DisableKeepAlives:   true,
			},
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Source) Name() string { return "polygon" }

// aggregatesResponse is the wire shape of /v2/aggs responses.
type aggregatesResponse struct {
	Ticker       string            `json:"ticker"`
	ResultsCount int               `json:"resultsCount"`
	Results      []json.RawMessage `json:"results"`
	Status       string            `json:"status"`
	NextURL      string            `json:"next_url,omitempty"`
}

func (s *Source) Request(ctx context.Context, q source.Query) (*source.Page, error) {
	reqURL, err := s.requestURL(q)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Connection", "close")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polygon request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &source.RateLimitError{RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("polygon status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result aggregatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if result.Status != "OK" && result.Status != "DELAYED" {
		return nil, fmt.Errorf("polygon status not OK: %s", result.Status)
	}

	page := &source.Page{NextCursor: result.NextURL}
	for _, raw := range result.Results {
		var rec source.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse result record: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// requestURL builds the first-page URL from the query window, or reuses the
// next_url cursor with the API key appended.
func (s *Source) requestURL(q source.Query) (string, error) {
	if q.Cursor != "" {
		return withAPIKey(q.Cursor, s.apiKey), nil
	}
	// End is exclusive; the aggregates path takes inclusive millis.
	from := q.Start.UnixMilli()
	to := q.End.Add(-time.Millisecond).UnixMilli()
	raw := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/minute/%d/%d", s.baseURL, url.PathEscape(q.Symbol), from, to)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse URL: %w", err)
	}
	v := u.Query()
	v.Set("adjusted", "false")
	v.Set("sort", "asc")
	v.Set("limit", strconv.Itoa(maxLimit))
	v.Set("apiKey", s.apiKey)
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func withAPIKey(rawURL, key string) string {
	if strings.Contains(rawURL, "apiKey=") {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "apiKey=" + url.QueryEscape(key)
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultRetryAfter
}
