package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"hist-data/internal/model"
)

// header is the fixed column order of the on-disk table.
var header = []string{"caldt", "open", "high", "low", "close", "volume", "vwap", "transactions", "day"}

// CSVStore persists bars as a UTF-8 CSV table with a required header row.
// vwap and transactions are empty strings when absent.
type CSVStore struct {
	path string
}

// NewCSV creates a CSV-backed store at path.
func NewCSV(path string) *CSVStore { return &CSVStore{path: path} }

func (s *CSVStore) Path() string { return s.path }

func (s *CSVStore) Load() ([]model.Bar, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	head, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := columnIndex(head)
	if _, ok := cols["caldt"]; !ok {
		return nil, fmt.Errorf("%s: missing caldt column", s.path)
	}

	var bars []model.Bar
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		b, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func (s *CSVStore) Replace(bars []model.Bar) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	for _, b := range bars {
		if err := w.Write(formatRow(b)); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// Atomic replace: rename within the same directory.
	return os.Rename(tmpPath, s.path)
}

// LastDay scans to the final record without keeping the whole file in memory.
func (s *CSVStore) LastDay() (time.Time, bool, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	head, err := r.Read()
	if err == io.EOF {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read header: %w", err)
	}
	cols := columnIndex(head)

	var last []string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("read row: %w", err)
		}
		last = row
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return lastRowDay(s.path, last, cols)
}

// lastRowDay reads the day column of the final row, falling back to the date
// part of caldt when day is empty or missing.
func lastRowDay(path string, row []string, cols map[string]int) (time.Time, bool, error) {
	if v := field(row, cols, "day"); v != "" {
		d, err := time.ParseInLocation(model.DayFormat, v, time.UTC)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %s: unexpected day format %q", ErrMalformedStore, path, v)
		}
		return d, true, nil
	}
	v := field(row, cols, "caldt")
	if v == "" {
		return time.Time{}, false, fmt.Errorf("%w: %s: no day or caldt value in final row", ErrMalformedStore, path)
	}
	datePart, _, _ := strings.Cut(v, " ")
	d, err := time.ParseInLocation(model.DayFormat, datePart, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s: unexpected caldt format %q", ErrMalformedStore, path, v)
	}
	return d, true, nil
}

func columnIndex(head []string) map[string]int {
	cols := make(map[string]int, len(head))
	for i, name := range head {
		cols[strings.TrimSpace(name)] = i
	}
	return cols
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseRow(row []string, cols map[string]int) (model.Bar, error) {
	var b model.Bar
	caldt := field(row, cols, "caldt")
	t, err := time.ParseInLocation(model.CaldtFormat, caldt, time.UTC)
	if err != nil {
		return b, fmt.Errorf("parse caldt %q: %w", caldt, err)
	}
	b.Caldt = t

	if b.Open, err = parseFloat(field(row, cols, "open")); err != nil {
		return b, err
	}
	if b.High, err = parseFloat(field(row, cols, "high")); err != nil {
		return b, err
	}
	if b.Low, err = parseFloat(field(row, cols, "low")); err != nil {
		return b, err
	}
	if b.Close, err = parseFloat(field(row, cols, "close")); err != nil {
		return b, err
	}
	if b.Volume, err = parseFloat(field(row, cols, "volume")); err != nil {
		return b, err
	}
	if v := field(row, cols, "vwap"); v != "" {
		vw, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return b, fmt.Errorf("parse vwap %q: %w", v, err)
		}
		b.VWAP = &vw
	}
	if v := field(row, cols, "transactions"); v != "" {
		// Some upstreams emit counts as floats.
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return b, fmt.Errorf("parse transactions %q: %w", v, err)
		}
		tx := int64(n)
		b.Transactions = &tx
	}
	b.Day = field(row, cols, "day")
	if b.Day == "" {
		b.Day = b.Caldt.Format(model.DayFormat)
	}
	return b, nil
}

func formatRow(b model.Bar) []string {
	vwap := ""
	if b.VWAP != nil {
		vwap = floatStr(*b.VWAP)
	}
	txns := ""
	if b.Transactions != nil {
		txns = strconv.FormatInt(*b.Transactions, 10)
	}
	day := b.Day
	if day == "" {
		day = b.Caldt.Format(model.DayFormat)
	}
	return []string{
		b.Caldt.Format(model.CaldtFormat),
		floatStr(b.Open),
		floatStr(b.High),
		floatStr(b.Low),
		floatStr(b.Close),
		floatStr(b.Volume),
		vwap,
		txns,
		day,
	}
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	return f, nil
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
