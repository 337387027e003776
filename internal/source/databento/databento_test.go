package databento

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hist-data/internal/source"
)

func testSource(srv *httptest.Server) *Source {
	return &Source{apiKey: "db-test-key", baseURL: srv.URL, client: srv.Client()}
}

func testQuery() source.Query {
	return source.Query{
		Symbol:  "ES.v.0",
		Dataset: "glbx.mdp3",
		Schema:  "ohlcv-1m",
		Start:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
	}
}

func TestRequestDecodesCSV(t *testing.T) {
	t.Parallel()

	var gotUser, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, _ = r.BasicAuth()
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, "ts_event,open,high,low,close,volume\n"+
			"1704292200000000000,4700.25,4701.5,4699.75,4701,1250\n"+
			"1704292260000000000,4701,4702,4700.5,4701.75,900\n")
	}))
	defer srv.Close()

	page, err := testSource(srv).Request(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor, "CSV responses are a single page")
	require.Len(t, page.Records, 2)
	assert.Equal(t, "1704292200000000000", page.Records[0]["ts_event"])
	assert.Equal(t, "4700.25", page.Records[0]["open"])

	assert.Equal(t, "db-test-key", gotUser, "API key travels as basic-auth user")
	assert.Contains(t, gotQuery, "dataset=glbx.mdp3")
	assert.Contains(t, gotQuery, "schema=ohlcv-1m")
	assert.Contains(t, gotQuery, "stype_in=continuous")
}

func TestRequestAvailabilityBoundary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"detail":"data_end_after_available_end: data is available up to '2024-01-04 18:00:00+00:00'"}`)
	}))
	defer srv.Close()

	_, err := testSource(srv).Request(context.Background(), testQuery())
	require.Error(t, err)
	var be *source.BoundaryError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, time.Date(2024, 1, 4, 18, 0, 0, 0, time.UTC), be.AvailableEnd)
}

func TestRequestRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testSource(srv).Request(context.Background(), testQuery())
	var rl *source.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
}

func TestRequestOtherErrorIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"auth_authentication_failed"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testSource(srv).Request(context.Background(), testQuery())
	require.Error(t, err)
	var be *source.BoundaryError
	assert.False(t, errors.As(err, &be))
	assert.Contains(t, err.Error(), "status 401")
}

func TestParseBoundaryInstantFormats(t *testing.T) {
	t.Parallel()

	cases := []string{
		"2024-01-04 18:00:00+00:00",
		"2024-01-04T18:00:00Z",
		"2024-01-04T18:00:00",
	}
	for _, raw := range cases {
		got, err := parseBoundaryInstant(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, time.Date(2024, 1, 4, 18, 0, 0, 0, time.UTC), got, raw)
	}
}
