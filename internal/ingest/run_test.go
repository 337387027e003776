package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hist-data/internal/fetch"
	"hist-data/internal/model"
	"hist-data/internal/normalize"
	"hist-data/internal/plan"
	"hist-data/internal/source"
	"hist-data/internal/store"
)

// fakeSource replays scripted responses under the "polygon" schema.
type fakeSource struct {
	responses []fakeResponse
	queries   []source.Query
}

type fakeResponse struct {
	page *source.Page
	err  error
}

func (s *fakeSource) Name() string { return "polygon" }

func (s *fakeSource) Request(_ context.Context, q source.Query) (*source.Page, error) {
	s.queries = append(s.queries, q)
	if len(s.responses) == 0 {
		return &source.Page{}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r.page, r.err
}

// barRec builds a polygon-shaped raw record for a New York wall-clock minute.
func barRec(t *testing.T, local string, close float64) source.Record {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	ts, err := time.ParseInLocation("2006-01-02 15:04", local, loc)
	require.NoError(t, err)
	return source.Record{
		"t": float64(ts.UnixMilli()),
		"o": close, "h": close, "l": close, "c": close, "v": 100.0,
	}
}

func newTestRunner(t *testing.T, src source.Source, progress Progress) *Runner {
	t.Helper()
	schemas, err := normalize.LoadSchemas()
	require.NoError(t, err)
	r := NewRunner(
		map[string]source.Source{"polygon": src},
		schemas,
		fetch.NewLimiter(0),
		progress,
		nil,
	)
	// A fixed clock: noon New York time on 2024-01-05.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	r.Now = func() time.Time { return time.Date(2024, 1, 5, 12, 0, 0, 0, loc) }
	return r
}

func seededStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewCSV(filepath.Join(t.TempDir(), "es_1m.csv"))
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.Replace([]model.Bar{{
		Caldt: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 10,
		Day: "2024-01-02",
	}}))
	return s
}

func target(st store.Store) Target {
	return Target{
		Symbol:   "ES",
		Provider: "polygon",
		Store:    st,
		Plan:     plan.Config{DefaultStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
}

func TestRunSymbolFetchNormalizeMerge(t *testing.T) {
	t.Parallel()

	src := &fakeSource{responses: []fakeResponse{
		{page: &source.Page{
			Records: []source.Record{
				barRec(t, "2024-01-03 09:30", 10),
				barRec(t, "2024-01-03 09:31", 11),
			},
			NextCursor: "p2",
		}},
		{page: &source.Page{
			Records: []source.Record{barRec(t, "2024-01-03 09:32", 12)},
		}},
	}}

	var stages []Stage
	r := newTestRunner(t, src, func(u Update) { stages = append(stages, u.Stage) })

	st := seededStore(t)
	out := r.RunSymbol(context.Background(), target(st))

	require.NoError(t, out.Err)
	assert.Equal(t, StageDone, out.Stage)
	assert.Equal(t, 3, out.Bars)

	// The planner resumed the day after the last stored date.
	require.NotEmpty(t, src.queries)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), src.queries[0].Start)

	bars, err := st.Load()
	require.NoError(t, err)
	require.Len(t, bars, 4)
	want := []string{
		"2024-01-02 09:30:00",
		"2024-01-03 09:30:00",
		"2024-01-03 09:31:00",
		"2024-01-03 09:32:00",
	}
	for i, w := range want {
		assert.Equal(t, w, bars[i].Caldt.Format(model.CaldtFormat))
	}

	assert.Equal(t, []Stage{StagePlanning, StageFetching, StageNormalizing, StageNormalizing, StageMerging, StageDone}, stages)
}

func TestRunSymbolSkipsFreshStore(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	r := newTestRunner(t, src, nil)

	st := store.NewCSV(filepath.Join(t.TempDir(), "es_1m.csv"))
	ts := time.Date(2024, 1, 4, 9, 30, 0, 0, time.UTC) // yesterday relative to the fixed clock
	require.NoError(t, st.Replace([]model.Bar{{
		Caldt: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 10, Day: "2024-01-04",
	}}))

	out := r.RunSymbol(context.Background(), target(st))
	assert.Equal(t, StageSkipped, out.Stage)
	assert.Empty(t, src.queries, "no request leaves the process for a current store")
}

func TestRunSymbolMalformedStoreFailsThatSymbolOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad_1m.csv")
	content := "caldt,open,high,low,close,volume,vwap,transactions,day\n" +
		"2024-01-03 09:30:00,1,1,1,1,10,,,garbage\n"
	require.NoError(t, os.WriteFile(badPath, []byte(content), 0644))

	src := &fakeSource{responses: []fakeResponse{
		{page: &source.Page{Records: []source.Record{barRec(t, "2024-01-03 09:30", 10)}}},
	}}
	r := newTestRunner(t, src, nil)

	bad := target(store.NewCSV(badPath))
	bad.Symbol = "BAD"
	good := target(seededStore(t))

	outcomes := r.RunBatch(context.Background(), []Target{bad, good})
	require.Len(t, outcomes, 2)
	assert.Equal(t, StageFailed, outcomes[0].Stage)
	assert.ErrorIs(t, outcomes[0].Err, store.ErrMalformedStore)
	assert.Equal(t, StageDone, outcomes[1].Stage, "one symbol's failure never aborts the batch")
}

func TestRunSymbolTransportErrorMergesNothing(t *testing.T) {
	t.Parallel()

	src := &fakeSource{responses: []fakeResponse{
		{page: &source.Page{Records: []source.Record{barRec(t, "2024-01-03 09:30", 10)}, NextCursor: "p2"}},
		{err: assert.AnError},
	}}
	r := newTestRunner(t, src, nil)

	st := seededStore(t)
	before, err := st.Load()
	require.NoError(t, err)

	out := r.RunSymbol(context.Background(), target(st))
	assert.Equal(t, StageFailed, out.Stage)

	after, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, before, after, "the store is untouched on transport failure")
}

func TestRunSymbolRetryBudgetKeepsFetchedPages(t *testing.T) {
	t.Parallel()

	responses := []fakeResponse{
		{page: &source.Page{Records: []source.Record{barRec(t, "2024-01-03 09:30", 10)}, NextCursor: "p2"}},
	}
	for i := 0; i < fetch.DefaultMaxRetries; i++ {
		responses = append(responses, fakeResponse{err: &source.RateLimitError{RetryAfter: time.Millisecond}})
	}
	src := &fakeSource{responses: responses}
	r := newTestRunner(t, src, nil)

	st := seededStore(t)
	out := r.RunSymbol(context.Background(), target(st))

	assert.Equal(t, StageDone, out.Stage, "exhausted retry budget still merges what was retrieved")
	assert.Equal(t, 1, out.Bars)

	bars, err := st.Load()
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestRunSymbolUnknownProvider(t *testing.T) {
	t.Parallel()

	r := newTestRunner(t, &fakeSource{}, nil)
	tg := target(seededStore(t))
	tg.Provider = "bloomberg"

	out := r.RunSymbol(context.Background(), tg)
	assert.Equal(t, StageFailed, out.Stage)
	require.Error(t, out.Err)
}

func TestRunBatchStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	r := newTestRunner(t, src, nil)

	st := seededStore(t)
	before, err := st.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := r.RunBatch(ctx, []Target{target(st), target(seededStore(t))})
	assert.Empty(t, outcomes, "a cancelled run processes no further symbols")
	assert.Empty(t, src.queries)

	after, err := st.Load()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunSymbolUnreadableStoreOverwrittenWithNewBars(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "es_1m.csv")
	// Header is fine (LastDay works on the valid final row) but an interior
	// row is corrupt, so the merge-time full read fails.
	content := "caldt,open,high,low,close,volume,vwap,transactions,day\n" +
		"not-a-timestamp,1,1,1,1,10,,,2024-01-01\n" +
		"2024-01-02 09:30:00,1,1,1,1,10,,,2024-01-02\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	src := &fakeSource{responses: []fakeResponse{
		{page: &source.Page{Records: []source.Record{barRec(t, "2024-01-03 09:30", 10)}}},
	}}
	r := newTestRunner(t, src, nil)

	st := store.NewCSV(path)
	out := r.RunSymbol(context.Background(), target(st))
	require.NoError(t, out.Err)
	assert.Equal(t, StageDone, out.Stage)

	bars, err := st.Load()
	require.NoError(t, err)
	require.Len(t, bars, 1, "unreadable history is replaced by the new bars")
	assert.Equal(t, "2024-01-03 09:30:00", bars[0].Caldt.Format(model.CaldtFormat))
}
