package store

import (
	"errors"
	"strings"
	"time"

	"hist-data/internal/model"
)

// ErrMalformedStore reports a persisted record whose date cannot be parsed.
// Fatal for the affected symbol only; other symbols in a batch keep running.
var ErrMalformedStore = errors.New("malformed store")

// Store is one symbol's persisted bar history. Implementations keep records
// unique by caldt and in ascending caldt order, and Replace is atomic: either
// the store reaches the new state or it is left unchanged.
type Store interface {
	// Load reads all records. A missing file yields (nil, nil).
	Load() ([]model.Bar, error)
	// Replace atomically rewrites the store with bars.
	Replace(bars []model.Bar) error
	// LastDay returns the calendar date of the final record. ok is false when
	// the store is missing or empty. An unparsable date wraps ErrMalformedStore.
	LastDay() (day time.Time, ok bool, err error)
	// Path identifies the store for logs and reports.
	Path() string
}

// New creates a Store implementation by format (csv, parquet).
// Returns nil if format is not supported.
func New(format, path string) Store {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return &CSVStore{path: path}
	case "parquet":
		return &ParquetStore{path: path}
	default:
		return nil
	}
}
