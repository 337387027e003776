// Package databento implements source.Source against the Databento historical
// timeseries API using its CSV encoding.
package databento

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hist-data/internal/source"
)

const (
	defaultBaseURL = "https://hist.databento.com"

	defaultRetryAfter = 5 * time.Second
)

// availableUpToRe extracts the availability boundary from the provider's
// data_end_after_available_end error message.
var availableUpToRe = regexp.MustCompile(`available up to '([^']+)'`)

// Source fetches OHLCV rows from timeseries.get_range. Responses are a single
// CSV body, so there is never a continuation cursor.
type Source struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a Databento source with a request-scoped timeout.
func New(apiKey string) *Source {
	return &Source{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Source) Name() string { return "databento" }

func (s *Source) Request(ctx context.Context, q source.Query) (*source.Page, error) {
	u, err := url.Parse(s.baseURL + "/v0/timeseries.get_range")
	if err != nil {
		return nil, err
	}
	v := u.Query()
	v.Set("dataset", q.Dataset)
	v.Set("schema", q.Schema)
	v.Set("symbols", q.Symbol)
	v.Set("stype_in", "continuous")
	v.Set("encoding", "csv")
	v.Set("start", q.Start.UTC().Format(time.RFC3339))
	v.Set("end", q.End.UTC().Format(time.RFC3339))
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(s.apiKey, "")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("databento request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return nil, &source.RateLimitError{RetryAfter: retryAfter(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		if err := boundaryFromBody(body); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("databento status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	records, err := decodeCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse CSV body: %w", err)
	}
	return &source.Page{Records: records}, nil
}

// boundaryFromBody maps a data_end_after_available_end error response to a
// BoundaryError. Returns nil when the body is some other failure.
func boundaryFromBody(body []byte) error {
	msg := string(body)
	var detail struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil && detail.Detail != "" {
		msg = detail.Detail
	}
	if !strings.Contains(msg, "data_end_after_available_end") {
		return nil
	}
	m := availableUpToRe.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	end, err := parseBoundaryInstant(m[1])
	if err != nil {
		return nil
	}
	return &source.BoundaryError{AvailableEnd: end}
}

func parseBoundaryInstant(raw string) (time.Time, error) {
	raw = strings.Replace(raw, " ", "T", 1)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized instant %q", raw)
}

func decodeCSV(r io.Reader) ([]source.Record, error) {
	cr := csv.NewReader(r)
	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []source.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(source.Record, len(head))
		for i, name := range head {
			if i < len(row) {
				rec[strings.TrimSpace(name)] = row[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultRetryAfter
}
