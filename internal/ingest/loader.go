package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Store is the subset of the graph store the loader writes to.
type Store interface {
	InsertAccounts(ctx context.Context, ids []string, batchSize int) error
	InsertTransfers(ctx context.Context, records []domain.TransferRecord, batchSize int) error
}

// Copier bulk-loads a parsed batch, bypassing row-by-row inserts.
type Copier interface {
	Copy(ctx context.Context, batch *Batch) (int64, error)
	Close()
}

// Loader writes parsed CSV batches into the store.
type Loader struct {
	store     Store
	copier    Copier
	batchSize int
	logger    *slog.Logger
}

// NewLoader creates a loader. A nil copier uses batched inserts.
func NewLoader(store Store, copier Copier, batchSize int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Loader{store: store, copier: copier, batchSize: batchSize, logger: logger}
}

// LoadFile parses and loads a CSV file.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	start := time.Now()
	batch, err := ReadCSV(file, l.logger)
	if err != nil {
		return Stats{}, err
	}
	l.logger.Info("transfer file parsed",
		"path", path,
		"rows", batch.Stats.Rows,
		"accounts", batch.Stats.Accounts,
		"fraud", batch.Stats.Fraud,
		"missing_labels", batch.Stats.MissingLabels,
		"coerced_labels", batch.Stats.CoercedLabels,
	)

	if err := l.Load(ctx, batch); err != nil {
		return batch.Stats, err
	}
	l.logger.Info("transfer file loaded", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return batch.Stats, nil
}

// Load writes a parsed batch.
func (l *Loader) Load(ctx context.Context, batch *Batch) error {
	if l.copier != nil {
		n, err := l.copier.Copy(ctx, batch)
		if err != nil {
			return fmt.Errorf("bulk copy: %w", err)
		}
		l.logger.Debug("bulk copy completed", "rows", n)
		return nil
	}

	if err := l.store.InsertAccounts(ctx, batch.Accounts, l.batchSize); err != nil {
		return fmt.Errorf("insert accounts: %w", err)
	}
	if err := l.store.InsertTransfers(ctx, batch.Transfers, l.batchSize); err != nil {
		return fmt.Errorf("insert transfers: %w", err)
	}
	return nil
}
