// Package plan computes the date range a symbol's store is still missing.
package plan

import (
	"fmt"
	"time"

	"hist-data/internal/model"
	"hist-data/internal/store"
)

// Range is a half-open civil-date interval [Start, End] to fetch for one
// symbol, where End is the last day to include. The fetcher may shrink the
// effective end in response to provider availability; the range itself never
// widens and Start never moves.
type Range struct {
	Symbol  string
	Dataset string
	Schema  string
	Start   time.Time // civil date, midnight UTC wall clock
	End     time.Time // civil date, midnight UTC wall clock, inclusive
}

// Config parameterizes planning for one symbol.
type Config struct {
	// DefaultStart is the earliest date fetched for a new or empty store.
	DefaultStart time.Time
	// MinStart clamps the computed start; useful when the provider's plan
	// only reaches back a fixed window (e.g. two years). Zero disables.
	MinStart time.Time
}

// Plan returns the range still needed by st, or nil when the store is already
// current. "Today" is taken in the exchange's local calendar via now.
//
// A store whose last date is yesterday or later is treated as current: the
// session for today may still be open and will be captured on the next run.
func Plan(st store.Store, cfg Config, now time.Time) (*Range, error) {
	today := model.DayOf(now)
	yesterday := today.AddDate(0, 0, -1)

	last, ok, err := st.LastDay()
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", st.Path(), err)
	}

	var start time.Time
	if !ok {
		start = model.DayOf(cfg.DefaultStart)
	} else {
		if !last.Before(yesterday) {
			return nil, nil
		}
		start = last.AddDate(0, 0, 1)
	}
	if !cfg.MinStart.IsZero() {
		if min := model.DayOf(cfg.MinStart); start.Before(min) {
			start = min
		}
	}
	if start.After(today) {
		return nil, nil
	}
	return &Range{Start: start, End: today}, nil
}
