package normalize

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed providers.yaml
var defaultSchemas []byte

// Window is an inclusive local wall-clock session window, "HH:MM".."HH:MM".
type Window struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Schema declares how one provider's raw records map onto canonical bars.
type Schema struct {
	// TimestampFields is the priority-ordered list of candidate timestamp
	// field names; the first one present in a record is used.
	TimestampFields []string `yaml:"timestamp_fields"`
	// TimestampUnit is one of ms, ns, s, rfc3339.
	TimestampUnit string `yaml:"timestamp_unit"`
	// Timezone is the target exchange's IANA zone.
	Timezone string `yaml:"timezone"`
	// Rename maps provider field names to canonical column names.
	Rename map[string]string `yaml:"rename"`
	// Session optionally filters bars to an exchange session window.
	Session *Window `yaml:"session"`
}

type schemaFile struct {
	Providers map[string]Schema `yaml:"providers"`
}

// LoadSchemas parses the embedded provider schema table.
func LoadSchemas() (map[string]Schema, error) {
	return parseSchemas(defaultSchemas)
}

// LoadSchemasFile parses a provider schema table from disk, for overriding the
// embedded defaults.
func LoadSchemasFile(path string) (map[string]Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	return parseSchemas(data)
}

func parseSchemas(data []byte) (map[string]Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schemas: %w", err)
	}
	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("no providers declared in schema table")
	}
	for name, s := range f.Providers {
		if len(s.TimestampFields) == 0 {
			return nil, fmt.Errorf("provider %s: no timestamp_fields", name)
		}
		if s.Timezone == "" {
			return nil, fmt.Errorf("provider %s: no timezone", name)
		}
	}
	return f.Providers, nil
}
