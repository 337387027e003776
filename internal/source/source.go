// Package source defines the remote-source capability consumed by the fetcher.
// A Source issues one request per call and reports pagination through an opaque
// cursor. Failures fall into exactly three classes: rate limiting (retryable
// after a hint), an availability boundary (the provider's data ends earlier
// than requested), and transport (everything else).
package source

import (
	"context"
	"fmt"
	"time"
)

// Record is one raw provider row. Field names are provider-specific; the
// normalizer resolves them through per-provider schemas.
type Record map[string]any

// Query is one page request. Start is inclusive and End exclusive, both UTC
// instants. Cursor is empty for the first page and carries the provider's
// continuation token afterwards.
type Query struct {
	Symbol  string
	Dataset string
	Schema  string
	Start   time.Time
	End     time.Time
	Cursor  string
}

// Page is one page of raw records. NextCursor is empty on the final page.
type Page struct {
	Records    []Record
	NextCursor string
}

// Source is a paginated remote bar provider.
type Source interface {
	Name() string
	Request(ctx context.Context, q Query) (*Page, error)
}

// RateLimitError reports an upstream rate limit with the provider's retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// BoundaryError reports that the provider's data ends at AvailableEnd, earlier
// than the requested end.
type BoundaryError struct {
	AvailableEnd time.Time
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("data only available up to %s", e.AvailableEnd.Format(time.RFC3339))
}
