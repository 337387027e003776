package model

import "time"

// DayFormat is the layout of the redundant Day column.
const DayFormat = "2006-01-02"

// CaldtFormat is the layout of the civil timestamp as stored on disk.
const CaldtFormat = "2006-01-02 15:04:05"

// Bar represents one OHLCV bar at minute resolution.
// Shared by source normalization, store serialization (csv, parquet, json) and merge.
//
// Caldt is the exchange-local civil time: the UTC instant from the provider is
// converted to the exchange timezone, then the wall-clock fields are re-tagged as
// UTC. The location carries no meaning; it only makes comparison, sorting and
// formatting offset-free.
type Bar struct {
	Caldt        time.Time `json:"caldt" parquet:"caldt,timestamp"`
	Open         float64   `json:"open" parquet:"open"`
	High         float64   `json:"high" parquet:"high"`
	Low          float64   `json:"low" parquet:"low"`
	Close        float64   `json:"close" parquet:"close"`
	Volume       float64   `json:"volume" parquet:"volume"`
	VWAP         *float64  `json:"vwap,omitempty" parquet:"vwap,optional"`      // volume weighted average price; nil when the provider has none
	Transactions *int64    `json:"transactions,omitempty" parquet:"n,optional"` // trade count; nil when the provider has none
	Day          string    `json:"day" parquet:"day"`                           // calendar date of Caldt, YYYY-MM-DD
}

// DayOf returns the civil date of t at midnight, as a UTC wall clock.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Civil strips the offset from t, keeping its wall-clock fields with a UTC tag.
func Civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
