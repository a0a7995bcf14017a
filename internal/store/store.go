// Package store implements the graph store adapter on top of database/sql.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/graph"
)

// SQLStore implements domain.GraphStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db      *sql.DB
	driver  string
	cfg     domain.StoreConfig
	catalog *graph.Catalog
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver: %s", domain.ErrInvalidConfig, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:      db,
		driver:  cfg.Driver,
		cfg:     cfg,
		catalog: graph.NewCatalog(),
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Driver returns the configured driver name.
func (s *SQLStore) Driver() string { return s.driver }

// Config returns the store configuration.
func (s *SQLStore) Config() domain.StoreConfig { return s.cfg }

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.QueryTimeout)
	}
	return ctx, func() {}
}

// Run executes a statement and returns its first row, or nil when the
// statement yields none.
func (s *SQLStore) Run(ctx context.Context, query string, params ...any) (domain.Row, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, s.wrap(err)
	}
	if !rows.Next() {
		return nil, s.wrap(rows.Err())
	}
	row, err := scanRow(rows, cols)
	if err != nil {
		return nil, s.wrap(err)
	}
	return row, nil
}

// RunStream executes a query and calls fn for every row.
func (s *SQLStore) RunStream(ctx context.Context, query string, params []any, fn func(domain.Row) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return s.wrap(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return s.wrap(err)
	}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return s.wrap(err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return s.wrap(rows.Err())
}

// BatchWrite executes query for every parameter row. Rows are grouped into
// chunks of batchSize; each chunk runs in one transaction and a failing chunk
// is rolled back and aborts the remaining work.
func (s *SQLStore) BatchWrite(ctx context.Context, query string, rows [][]any, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(rows)
	}

	q := s.rebind(query)
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(rows))
		if err := s.writeChunk(ctx, q, rows[start:end]); err != nil {
			return fmt.Errorf("%w: batch rows %d-%d: %w", domain.ErrQuery, start, end-1, err)
		}
	}
	return nil
}

func (s *SQLStore) writeChunk(ctx context.Context, query string, rows [][]any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, params := range rows {
		if _, err := stmt.ExecContext(ctx, params...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// exec runs a write and reports affected rows.
func (s *SQLStore) exec(ctx context.Context, query string, params ...any) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.rebind(query), params...)
	if err != nil {
		return 0, s.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Close drops projections and closes the database connection.
func (s *SQLStore) Close() error {
	s.catalog.DropAll()
	return s.db.Close()
}

// wrap classifies driver errors. Context errors pass through untouched so
// callers can detect cancellation.
func (s *SQLStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrQuery, err)
}

func scanRow(rows *sql.Rows, cols []string) (domain.Row, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(domain.Row, len(cols))
	for i, c := range cols {
		if b, ok := values[i].([]byte); ok {
			row[c] = string(b)
			continue
		}
		row[c] = values[i]
	}
	return row, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// placeholders returns "?, ?, ?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var _ domain.GraphStore = (*SQLStore)(nil)
