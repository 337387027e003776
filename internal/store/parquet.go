package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"hist-data/internal/model"
)

// ParquetStore persists bars as a parquet file with the same column set as the
// CSV table. Replace follows the same temp-then-rename discipline.
type ParquetStore struct {
	path string
}

// NewParquet creates a parquet-backed store at path.
func NewParquet(path string) *ParquetStore { return &ParquetStore{path: path} }

func (s *ParquetStore) Path() string { return s.path }

func (s *ParquetStore) Load() ([]model.Bar, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}
	return parquet.ReadFile[model.Bar](s.path)
}

func (s *ParquetStore) Replace(bars []model.Bar) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, bars); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *ParquetStore) LastDay() (time.Time, bool, error) {
	bars, err := s.Load()
	if err != nil {
		return time.Time{}, false, err
	}
	if len(bars) == 0 {
		return time.Time{}, false, nil
	}
	last := bars[len(bars)-1]
	if last.Day != "" {
		d, err := time.ParseInLocation(model.DayFormat, last.Day, time.UTC)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %s: unexpected day format %q", ErrMalformedStore, s.path, last.Day)
		}
		return d, true, nil
	}
	return model.DayOf(last.Caldt), true, nil
}
