// Package ingest sequences one symbol's run: plan the missing range, fetch it
// page by page, normalize, and merge into the persisted store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hist-data/internal/fetch"
	"hist-data/internal/model"
	"hist-data/internal/normalize"
	"hist-data/internal/plan"
	"hist-data/internal/source"
	"hist-data/internal/store"
)

// Target describes one symbol to ingest.
type Target struct {
	Symbol   string
	Provider string
	Dataset  string
	Schema   string
	Store    store.Store
	Plan     plan.Config
}

// Outcome is the terminal result of one symbol's run.
type Outcome struct {
	Symbol    string
	Stage     Stage // StageDone, StageSkipped or StageFailed
	Bars      int   // bars merged into the store
	Attempts  int   // request attempts including rate-limit retries
	Truncated bool
	Err       error
}

// Runner executes ingestion runs. One Runner (and its Limiter) is shared by
// all symbols so the inter-request interval holds across the whole process.
type Runner struct {
	Sources  map[string]source.Source
	Schemas  map[string]normalize.Schema
	Limiter  *fetch.Limiter
	Progress Progress
	Log      *slog.Logger
	Now      func() time.Time
}

// NewRunner wires a runner; progress may be nil.
func NewRunner(sources map[string]source.Source, schemas map[string]normalize.Schema, limiter *fetch.Limiter, progress Progress, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if progress == nil {
		progress = LogProgress(log)
	}
	return &Runner{
		Sources:  sources,
		Schemas:  schemas,
		Limiter:  limiter,
		Progress: progress,
		Log:      log,
		Now:      time.Now,
	}
}

// RunBatch processes targets sequentially. A symbol's failure never aborts the
// batch; every outcome is reported independently.
func (r *Runner) RunBatch(ctx context.Context, targets []Target) []Outcome {
	outcomes := make([]Outcome, 0, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, r.RunSymbol(ctx, t))
	}
	return outcomes
}

// RunSymbol drives one symbol through planning, fetching, normalizing and
// merging. No partial state is written before the final merge, so abandoning
// a run at any earlier point is safe.
func (r *Runner) RunSymbol(ctx context.Context, t Target) Outcome {
	out := Outcome{Symbol: t.Symbol}

	r.emit(t.Symbol, StagePlanning, "computing missing range")
	src, ok := r.Sources[t.Provider]
	if !ok {
		return r.fail(&out, fmt.Errorf("unknown provider %q", t.Provider))
	}
	schema, ok := r.Schemas[t.Provider]
	if !ok {
		return r.fail(&out, fmt.Errorf("no schema for provider %q", t.Provider))
	}
	norm, err := normalize.New(t.Provider, schema)
	if err != nil {
		return r.fail(&out, err)
	}

	now := r.now().In(norm.Location())
	rng, err := plan.Plan(t.Store, t.Plan, now)
	if err != nil {
		return r.fail(&out, err)
	}
	if rng == nil {
		out.Stage = StageSkipped
		r.emit(t.Symbol, StageSkipped, "store already current")
		return out
	}
	rng.Symbol = t.Symbol
	rng.Dataset = t.Dataset
	rng.Schema = t.Schema

	r.emit(t.Symbol, StageFetching, fmt.Sprintf("fetching %s to %s",
		rng.Start.Format(model.DayFormat), rng.End.Format(model.DayFormat)))

	f := fetch.New(src, r.Limiter, r.Log)
	var bars []model.Bar
	res, fetchErr := f.Fetch(ctx, rng, func(p *source.Page) error {
		r.emit(t.Symbol, StageNormalizing, fmt.Sprintf("normalizing %d records", len(p.Records)))
		pageBars, err := norm.Normalize(p.Records)
		if err != nil {
			return err
		}
		bars = append(bars, pageBars...)
		return nil
	})
	out.Attempts = res.Attempts
	out.Truncated = res.Truncated

	if fetchErr != nil {
		// Retry-budget exhaustion keeps what was already retrieved; anything
		// else (schema, transport, failed narrowing) merges nothing.
		if !errors.Is(fetchErr, fetch.ErrRetryBudget) || len(bars) == 0 {
			return r.fail(&out, fetchErr)
		}
		r.Log.Warn("retry budget exhausted, keeping fetched pages",
			"symbol", t.Symbol, "pages", res.Pages, "error", fetchErr)
	}
	if len(bars) == 0 {
		out.Stage = StageDone
		r.emit(t.Symbol, StageDone, "no new bars")
		return out
	}

	// Keep only bars inside the planned civil-date range; the exclusive UTC
	// request bound can still admit bars of the next local day.
	bars = filterToRange(bars, rng)
	if len(bars) == 0 {
		out.Stage = StageDone
		r.emit(t.Symbol, StageDone, "no new bars within range")
		return out
	}

	r.emit(t.Symbol, StageMerging, fmt.Sprintf("merging %d bars", len(bars)))
	merged, err := r.merge(t.Store, bars)
	if err != nil {
		return r.fail(&out, err)
	}
	out.Bars = len(bars)
	out.Stage = StageDone
	r.emit(t.Symbol, StageDone, fmt.Sprintf("store updated, %d records total", merged))
	return out
}

// merge loads the existing store, combines and rewrites it atomically.
// An unreadable existing store is logged and treated as empty: the run then
// rewrites it with only the new bars, trading data-loss risk for availability.
func (r *Runner) merge(st store.Store, fresh []model.Bar) (int, error) {
	existing, err := st.Load()
	if err != nil {
		r.Log.Warn("failed reading existing store, overwriting with new data",
			"path", st.Path(), "error", err)
		existing = nil
	}
	merged := store.Merge(existing, fresh)
	if err := st.Replace(merged); err != nil {
		return 0, fmt.Errorf("replace %s: %w", st.Path(), err)
	}
	return len(merged), nil
}

func (r *Runner) fail(out *Outcome, err error) Outcome {
	out.Stage = StageFailed
	out.Err = err
	r.emit(out.Symbol, StageFailed, err.Error())
	r.Log.Error("ingest failed", "symbol", out.Symbol, "error", err)
	return *out
}

func (r *Runner) emit(symbol string, stage Stage, msg string) {
	if r.Progress != nil {
		r.Progress(Update{Symbol: symbol, Stage: stage, Message: msg})
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func filterToRange(bars []model.Bar, rng *plan.Range) []model.Bar {
	out := bars[:0]
	for _, b := range bars {
		d := model.DayOf(b.Caldt)
		if d.Before(rng.Start) || d.After(rng.End) {
			continue
		}
		out = append(out, b)
	}
	return out
}
