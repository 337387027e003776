package app

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"hist-data/internal/ingest"
	"hist-data/internal/plan"
	"hist-data/internal/store"
)

// TargetSpec is one entry of the targets file.
type TargetSpec struct {
	Symbol    string `yaml:"symbol"`
	Provider  string `yaml:"provider"`
	Dataset   string `yaml:"dataset,omitempty"`
	Schema    string `yaml:"schema,omitempty"`
	File      string `yaml:"file,omitempty"`       // store filename inside DataDir; defaults per symbol
	StartDate string `yaml:"start_date,omitempty"` // earliest date for this symbol, YYYY-MM-DD
}

type targetsFile struct {
	Targets []TargetSpec `yaml:"targets"`
}

// oneMinuteFile matches upper-case equity store files like SPY_1m.csv.
var oneMinuteFile = regexp.MustCompile(`^([A-Z]+)_1m\.(csv|parquet)$`)

// LoadTargets reads the declarative targets file when configured and also
// discovers Polygon stores already present in the data directory
// ({SYMBOL}_1m.csv), so dropping a pre-seeded file in is enough to keep it
// updated.
func LoadTargets(cfg *Config, now time.Time) ([]ingest.Target, error) {
	var specs []TargetSpec
	if cfg.TargetsFile != "" {
		data, err := os.ReadFile(cfg.TargetsFile)
		if err != nil {
			return nil, fmt.Errorf("read targets: %w", err)
		}
		var f targetsFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse targets: %w", err)
		}
		specs = f.Targets
	}
	specs = append(specs, discoverPolygonSpecs(cfg.DataDir, specs)...)

	targets := make([]ingest.Target, 0, len(specs))
	for _, s := range specs {
		t, err := buildTarget(cfg, s, now)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// discoverPolygonSpecs scans the data dir for {SYMBOL}_1m files not already
// declared in the targets file.
func discoverPolygonSpecs(dataDir string, declared []TargetSpec) []TargetSpec {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil
	}
	declaredFiles := make(map[string]bool, len(declared))
	for _, s := range declared {
		declaredFiles[s.File] = true
	}
	var specs []TargetSpec
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := oneMinuteFile.FindStringSubmatch(e.Name())
		if m == nil || declaredFiles[e.Name()] {
			continue
		}
		specs = append(specs, TargetSpec{
			Symbol:   m[1],
			Provider: "polygon",
			File:     e.Name(),
		})
	}
	return specs
}

func buildTarget(cfg *Config, s TargetSpec, now time.Time) (ingest.Target, error) {
	if s.Symbol == "" || s.Provider == "" {
		return ingest.Target{}, fmt.Errorf("target needs symbol and provider: %+v", s)
	}
	file := s.File
	if file == "" {
		file = strings.ToLower(strings.Split(s.Symbol, ".")[0]) + "_1m." + formatExt(cfg.SaveFormat)
	}
	format := cfg.SaveFormat
	if strings.HasSuffix(file, ".parquet") {
		format = "parquet"
	} else if strings.HasSuffix(file, ".csv") {
		format = "csv"
	}
	st := store.New(format, filepath.Join(cfg.DataDir, file))
	if st == nil {
		return ingest.Target{}, fmt.Errorf("unsupported store format %q", format)
	}

	pc := plan.Config{DefaultStart: cfg.DefaultStart}
	if s.StartDate != "" {
		d, err := time.ParseInLocation("2006-01-02", s.StartDate, time.UTC)
		if err != nil {
			return ingest.Target{}, fmt.Errorf("target %s: bad start_date %q", s.Symbol, s.StartDate)
		}
		pc.DefaultStart = d
	}
	if s.Provider == "polygon" {
		// Free-tier aggregates only reach back two years.
		twoYearsAgo := now.AddDate(0, 0, -730)
		pc.MinStart = twoYearsAgo
		if pc.DefaultStart.Before(twoYearsAgo) {
			pc.DefaultStart = twoYearsAgo
		}
	}

	return ingest.Target{
		Symbol:   s.Symbol,
		Provider: s.Provider,
		Dataset:  s.Dataset,
		Schema:   s.Schema,
		Store:    st,
		Plan:     pc,
	}, nil
}

func formatExt(format string) string {
	if strings.EqualFold(format, "parquet") {
		return "parquet"
	}
	return "csv"
}
