package ingest

import "log/slog"

// Stage is one step of a symbol's ingestion run.
type Stage string

const (
	StagePlanning    Stage = "planning"
	StageFetching    Stage = "fetching"
	StageNormalizing Stage = "normalizing"
	StageMerging     Stage = "merging"
	StageDone        Stage = "done"
	StageSkipped     Stage = "skipped"
	StageFailed      Stage = "failed"
)

// Update is one progress notification for the caller's status layer.
type Update struct {
	Symbol  string
	Stage   Stage
	Message string
}

// Progress receives every stage transition. Implementations must not block
// for long; the runner calls it inline.
type Progress func(u Update)

// LogProgress reports transitions through a slog logger.
func LogProgress(log *slog.Logger) Progress {
	return func(u Update) {
		log.Info("progress", "symbol", u.Symbol, "stage", string(u.Stage), "msg", u.Message)
	}
}

// ChanProgress forwards updates to a channel, dropping when it is full so a
// slow consumer never stalls ingestion.
func ChanProgress(ch chan<- Update) Progress {
	return func(u Update) {
		select {
		case ch <- u:
		default:
		}
	}
}
