// Package normalize converts raw provider records into canonical bars.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hist-data/internal/model"
	"hist-data/internal/source"
)

// SchemaError reports a provider response that does not match its declared
// schema (missing timestamp field, unparsable timestamp). The whole batch
// fails rather than silently dropping rows.
type SchemaError struct {
	Provider string
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s response schema mismatch: %s", e.Provider, e.Reason)
}

// Normalizer applies one provider's schema. Pure transformation, no I/O.
type Normalizer struct {
	provider string
	schema   Schema
	loc      *time.Location
}

// New resolves the schema's timezone and returns a normalizer for provider.
func New(provider string, schema Schema) (*Normalizer, error) {
	loc, err := time.LoadLocation(schema.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", schema.Timezone, err)
	}
	return &Normalizer{provider: provider, schema: schema, loc: loc}, nil
}

// Location returns the resolved exchange timezone.
func (n *Normalizer) Location() *time.Location { return n.loc }

// Normalize maps records to canonical bars: resolve the timestamp field,
// convert the UTC instant to exchange-local civil time, rename value fields,
// and derive the day column. Fields absent from a record stay absent.
func (n *Normalizer) Normalize(records []source.Record) ([]model.Bar, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tsField, err := n.timestampField(records[0])
	if err != nil {
		return nil, err
	}

	bars := make([]model.Bar, 0, len(records))
	for _, rec := range records {
		raw, ok := rec[tsField]
		if !ok {
			return nil, &SchemaError{Provider: n.provider, Reason: fmt.Sprintf("record missing timestamp field %q", tsField)}
		}
		instant, err := n.parseTimestamp(raw)
		if err != nil {
			return nil, &SchemaError{Provider: n.provider, Reason: err.Error()}
		}
		local := instant.In(n.loc)
		if n.schema.Session != nil && !inWindow(local, n.schema.Session) {
			continue
		}
		caldt := model.Civil(local)

		b := model.Bar{
			Caldt: caldt,
			Day:   caldt.Format(model.DayFormat),
		}
		for from, to := range n.schema.Rename {
			v, ok := rec[from]
			if !ok {
				continue
			}
			// CSV-shaped sources represent absent optionals as empty strings.
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			switch to {
			case "open":
				b.Open, err = toFloat(v)
			case "high":
				b.High, err = toFloat(v)
			case "low":
				b.Low, err = toFloat(v)
			case "close":
				b.Close, err = toFloat(v)
			case "volume":
				b.Volume, err = toFloat(v)
			case "vwap":
				var vw float64
				if vw, err = toFloat(v); err == nil {
					b.VWAP = &vw
				}
			case "transactions":
				var f float64
				if f, err = toFloat(v); err == nil {
					tx := int64(f)
					b.Transactions = &tx
				}
			}
			if err != nil {
				return nil, &SchemaError{Provider: n.provider, Reason: fmt.Sprintf("field %s: %v", from, err)}
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// timestampField returns the first schema candidate present in rec.
func (n *Normalizer) timestampField(rec source.Record) (string, error) {
	for _, f := range n.schema.TimestampFields {
		if _, ok := rec[f]; ok {
			return f, nil
		}
	}
	return "", &SchemaError{
		Provider: n.provider,
		Reason:   fmt.Sprintf("no timestamp field among %v", n.schema.TimestampFields),
	}
}

func (n *Normalizer) parseTimestamp(v any) (time.Time, error) {
	if n.schema.TimestampUnit == "rfc3339" {
		s, ok := v.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("timestamp %v is not a string", v)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
		}
		return t.UTC(), nil
	}

	epoch, err := toEpoch(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %v", v)
	}
	switch n.schema.TimestampUnit {
	case "s":
		return time.Unix(epoch, 0).UTC(), nil
	case "ms":
		return time.UnixMilli(epoch).UTC(), nil
	case "ns":
		return time.Unix(0, epoch).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unknown timestamp unit %q", n.schema.TimestampUnit)
	}
}

// inWindow reports whether t's wall clock falls inside the inclusive session
// window (minute resolution).
func inWindow(t time.Time, w *Window) bool {
	hm := t.Hour()*60 + t.Minute()
	open, okO := parseHM(w.Open)
	close_, okC := parseHM(w.Close)
	if !okO || !okC {
		return true
	}
	return hm >= open && hm <= close_
}

func parseHM(s string) (int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return hh*60 + mm, true
}

// toEpoch reads an epoch value without the precision loss a float64 round
// trip would introduce on nanosecond timestamps.
func toEpoch(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, nil
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// toFloat coerces the value shapes seen across providers: JSON numbers,
// json.Number, CSV strings and native ints.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		if x == "" {
			return 0, fmt.Errorf("empty value")
		}
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unsupported value %T", v)
	}
}
