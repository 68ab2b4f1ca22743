package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/InterviewPipe/internal/models"
)

// Options for store construction.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// normalizeLimit applies the default history page size to non-positive limits.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return models.DefaultHistoryLimit
	}
	return limit
}

// marshalFields encodes slot values for a text/JSON column.
func marshalFields(fields map[string]models.SlotValue) (string, error) {
	if fields == nil {
		fields = map[string]models.SlotValue{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(b), nil
}

// unmarshalFields decodes slot values read from a text/JSON column.
func unmarshalFields(data []byte) (map[string]models.SlotValue, error) {
	fields := make(map[string]models.SlotValue)
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	return fields, nil
}
