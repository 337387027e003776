package app

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hist-data/internal/ingest"
)

// RunFlow orchestrates the ingest loop: run → report → wait until the daily
// rerun time → run again. SIGINT/SIGTERM stop the loop; an in-flight run is
// cancelled through its context and leaves every store either updated or
// untouched.
func RunFlow(cfg *Config, runner *ingest.Runner) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Fan-in: stage updates from the runner drain through one consumer.
	updates := make(chan ingest.Update, 256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range updates {
			slog.Info("progress", "symbol", u.Symbol, "stage", string(u.Stage), "msg", u.Message)
		}
	}()
	runner.Progress = ingest.ChanProgress(updates)

	for {
		runOnce(ctx, cfg, runner)
		if ctx.Err() != nil {
			break
		}

		nextRun := nextRunTime(cfg, time.Now().UTC())
		waitDur := time.Until(nextRun)
		slog.Info("run done, waiting", "hours", waitDur.Hours(), "until", nextRun.Format("2006-01-02 15:04"))
		timer := time.NewTimer(waitDur)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			timer.Stop()
		}
		break
	}

	slog.Info("received signal, stopping")
	close(updates)
	wg.Wait()
}

func runOnce(ctx context.Context, cfg *Config, runner *ingest.Runner) {
	now := time.Now().UTC()
	targets, err := LoadTargets(cfg, now)
	if err != nil {
		slog.Error("failed to load targets", "error", err)
		return
	}
	if len(targets) == 0 {
		slog.Info("no targets configured, nothing to do")
		return
	}
	slog.Info("starting run", "targets", len(targets))

	outcomes := runner.RunBatch(ctx, targets)

	var done, skipped, failed int
	for _, o := range outcomes {
		switch o.Stage {
		case ingest.StageDone:
			done++
		case ingest.StageSkipped:
			skipped++
		case ingest.StageFailed:
			failed++
		}
	}
	slog.Info("run complete", "done", done, "skipped", skipped, "failed", failed)

	if err := ingest.WriteRunReport(cfg.DataDir, outcomes); err != nil {
		slog.Warn("could not write run report", "error", err)
	}
}

func nextRunTime(cfg *Config, now time.Time) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), cfg.RunHour, cfg.RunMinute, 0, 0, time.UTC)
	if now.Before(target) {
		return target
	}
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), cfg.RunHour, cfg.RunMinute, 0, 0, time.UTC)
}
