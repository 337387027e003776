package app

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration from env
type Config struct {
	DataDir         string
	SaveFormat      string // csv | parquet
	LogLevel        string // debug | info | warn | error
	TargetsFile     string
	SchemasFile     string // optional override of the embedded provider schemas
	PolygonAPIKey   string
	DatabentoAPIKey string
	RequestInterval time.Duration // minimum spacing between remote requests
	DefaultStart    time.Time     // earliest date for new stores without their own start
	RunHour         int           // daily rerun time, UTC
	RunMinute       int
}

// Polygon free tier allows 5 requests/minute.
const defaultRequestInterval = 12 * time.Second

// LoadConfig reads config from environment
func LoadConfig() *Config {
	cfg := &Config{
		DataDir:         getEnv("DATA_DIR", "data"),
		SaveFormat:      getSaveFormat(),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		TargetsFile:     os.Getenv("TARGETS_FILE"),
		SchemasFile:     os.Getenv("SCHEMAS_FILE"),
		PolygonAPIKey:   os.Getenv("POLYGON_API_KEY"),
		DatabentoAPIKey: os.Getenv("DATABENTO_API_KEY"),
		RequestInterval: defaultRequestInterval,
		DefaultStart:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RunHour:         0,
		RunMinute:       30,
	}
	if v := os.Getenv("REQUEST_INTERVAL_SEC"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			cfg.RequestInterval = time.Duration(secs * float64(time.Second))
		}
	}
	if v := os.Getenv("DEFAULT_START_DATE"); v != "" {
		if d, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
			cfg.DefaultStart = d
		}
	}
	if h := os.Getenv("RUN_HOUR"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v >= 0 && v <= 23 {
			cfg.RunHour = v
		}
	}
	if m := os.Getenv("RUN_MINUTE"); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v >= 0 && v <= 59 {
			cfg.RunMinute = v
		}
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getSaveFormat() string {
	if v := os.Getenv("SAVE_FORMAT"); v != "" {
		return v
	}
	switch os.Getenv("PROFILE") {
	case "prod", "production":
		return "parquet"
	default:
		return "csv"
	}
}
