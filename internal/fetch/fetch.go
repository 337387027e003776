// Package fetch drives a remote source across pages for one planned range,
// handling rate limits, retry budgets and provider availability boundaries.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hist-data/internal/plan"
	"hist-data/internal/source"
)

const (
	// DefaultMaxRetries bounds attempts for a single page request under rate
	// limiting.
	DefaultMaxRetries = 5

	// DefaultMaxPages caps pagination as a guard against a runaway cursor.
	DefaultMaxPages = 500
)

// ErrRetryBudget reports that the rate-limit retry budget was exhausted.
// Pages already emitted before the failure are kept by the caller.
var ErrRetryBudget = errors.New("rate limit retry budget exhausted")

// Fetcher pulls a planned range from a source page by page.
type Fetcher struct {
	Source     source.Source
	Limiter    *Limiter
	MaxRetries int
	MaxPages   int
	Log        *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher with the default retry and pagination bounds.
func New(src source.Source, limiter *Limiter, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		Source:     src,
		Limiter:    limiter,
		MaxRetries: DefaultMaxRetries,
		MaxPages:   DefaultMaxPages,
		Log:        log,
	}
}

// Result summarizes one fetch.
type Result struct {
	Pages        int
	Records      int
	Attempts     int       // request attempts including rate-limit retries
	EffectiveEnd time.Time // exclusive end actually requested, after narrowing
	Truncated    bool      // pagination stopped at MaxPages
}

// Fetch walks the range's pages, calling emit for each as it arrives. The
// request window is [start 00:00 UTC, (end+1day) 00:00 UTC): providers report
// bars in UTC, and the exclusive upper bound keeps the boundary day out.
//
// Narrowing: when the source reports its data ends before the requested end,
// the window shrinks to the reported boundary and the request is retried once.
// A boundary before the range start means the history genuinely does not reach
// that far back; the fetch returns zero pages and no error.
func (f *Fetcher) Fetch(ctx context.Context, rng *plan.Range, emit func(*source.Page) error) (Result, error) {
	var res Result

	q := source.Query{
		Symbol:  rng.Symbol,
		Dataset: rng.Dataset,
		Schema:  rng.Schema,
		Start:   midnightUTC(rng.Start),
		End:     midnightUTC(rng.End).AddDate(0, 0, 1),
	}
	res.EffectiveEnd = q.End

	narrowed := false
	for {
		if res.Pages >= f.maxPages() {
			f.Log.Warn("page cap reached, stopping pagination",
				"symbol", rng.Symbol, "pages", res.Pages)
			res.Truncated = true
			return res, nil
		}

		page, err := f.requestWithRetry(ctx, &q, &res)
		if err != nil {
			var boundary *source.BoundaryError
			if errors.As(err, &boundary) {
				if boundary.AvailableEnd.Before(q.Start) {
					f.Log.Info("available data ends before requested start, nothing to fetch",
						"symbol", rng.Symbol,
						"available_end", boundary.AvailableEnd,
						"start", q.Start)
					return res, nil
				}
				if narrowed && !boundary.AvailableEnd.Before(q.End) {
					// Second boundary report that does not shrink the window.
					return res, fmt.Errorf("availability boundary did not narrow: %w", err)
				}
				f.Log.Info("narrowing request end to provider availability",
					"symbol", rng.Symbol, "available_end", boundary.AvailableEnd)
				q.End = boundary.AvailableEnd
				res.EffectiveEnd = q.End
				narrowed = true
				continue
			}
			return res, err
		}

		if len(page.Records) == 0 {
			// An empty page ends pagination even when a cursor is attached;
			// following it would request the same empty tail forever.
			return res, nil
		}
		res.Pages++
		res.Records += len(page.Records)
		if err := emit(page); err != nil {
			return res, err
		}
		if page.NextCursor == "" {
			return res, nil
		}
		q.Cursor = page.NextCursor
	}
}

// requestWithRetry performs one page request, retrying on rate-limit signals
// up to the configured budget. Every departure first clears the shared limiter.
func (f *Fetcher) requestWithRetry(ctx context.Context, q *source.Query, res *Result) (*source.Page, error) {
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
		res.Attempts++
		page, err := f.Source.Request(ctx, *q)
		if err == nil {
			return page, nil
		}

		var rl *source.RateLimitError
		if !errors.As(err, &rl) {
			// Boundary and transport errors are the caller's concern.
			return nil, err
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("%w after %d attempts", ErrRetryBudget, maxRetries)
		}
		wait := rl.RetryAfter
		if min := f.Limiter.Interval(); wait < min {
			wait = min
		}
		if wait < time.Second {
			wait = time.Second
		}
		f.Log.Info("rate limited, waiting before retry",
			"symbol", q.Symbol, "wait", wait, "attempt", attempt, "max", maxRetries)
		if err := f.doSleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, ErrRetryBudget
}

func (f *Fetcher) maxPages() int {
	if f.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return f.MaxPages
}

func (f *Fetcher) doSleep(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
