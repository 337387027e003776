package ingest

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

type failedEntry struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

type successEntry struct {
	Symbol string `json:"symbol"`
	Bars   int    `json:"bars"`
}

// WriteRunReport persists the batch outcome next to the data files:
// .lastrun.success.json and .lastrun.failed.json. Skipped symbols appear in
// neither file.
func WriteRunReport(dataDir string, outcomes []Outcome) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	var ok []successEntry
	var failed []failedEntry
	for _, o := range outcomes {
		switch o.Stage {
		case StageDone:
			ok = append(ok, successEntry{Symbol: o.Symbol, Bars: o.Bars})
		case StageFailed:
			reason := ""
			if o.Err != nil {
				reason = o.Err.Error()
			}
			failed = append(failed, failedEntry{Symbol: o.Symbol, Stage: string(o.Stage), Reason: reason})
		}
	}
	if len(ok) > 0 {
		p := filepath.Join(dataDir, ".lastrun.success.json")
		if err := writeJSON(p, ok); err != nil {
			return err
		}
		slog.Info("report wrote success", "path", p, "symbols", len(ok))
	}
	if len(failed) > 0 {
		p := filepath.Join(dataDir, ".lastrun.failed.json")
		if err := writeJSON(p, failed); err != nil {
			return err
		}
		slog.Info("report wrote failed", "path", p, "count", len(failed))
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
