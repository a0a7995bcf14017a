// Package domain defines the core interfaces and types for fraudgraph.
package domain

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// GraphStore executes parameterised statements against the property graph
// holding accounts and transfers.
type GraphStore interface {
	// Run executes a statement and returns its first row. Statements that
	// yield no rows, including writes, return nil.
	Run(ctx context.Context, query string, params ...any) (Row, error)

	// RunStream executes a query and calls fn for every row. Returning an
	// error from fn stops the stream and is passed back to the caller.
	RunStream(ctx context.Context, query string, params []any, fn func(Row) error) error

	// BatchWrite executes query once per parameter row in chunks of
	// batchSize. Each chunk commits atomically; the first failing chunk
	// aborts the batch.
	BatchWrite(ctx context.Context, query string, rows [][]any, batchSize int) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Float reads a numeric column. Missing and NULL values read as 0.
func (r Row) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// NullFloat reads a numeric column and reports whether it was present.
func (r Row) NullFloat(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	return r.Float(key), true
}

// Int reads an integer column.
func (r Row) Int(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// String reads a text column.
func (r Row) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// Bool reads a boolean column stored as bool or 0/1.
func (r Row) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case nil:
		return false
	default:
		return r.Float(key) != 0
	}
}

// StoreConfig holds configuration for graph store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`

	// QueryTimeout bounds each statement. Zero means no per-query limit.
	QueryTimeout time.Duration `yaml:"queryTimeout" json:"queryTimeout"`
}
