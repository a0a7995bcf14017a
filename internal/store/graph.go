package store

import (
	"context"
	"fmt"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/graph"
)

// InsertAccounts creates account nodes, skipping ids that already exist.
func (s *SQLStore) InsertAccounts(ctx context.Context, ids []string, batchSize int) error {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty account id", domain.ErrInvalidInput)
		}
		rows[i] = []any{id}
	}
	return s.BatchWrite(ctx, `INSERT INTO accounts (id) VALUES (?) ON CONFLICT (id) DO NOTHING`, rows, batchSize)
}

// InsertTransfers creates transfer edges. Re-loading the same ids is a no-op.
func (s *SQLStore) InsertTransfers(ctx context.Context, records []domain.TransferRecord, batchSize int) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.ID, r.SenderID, r.ReceiverID, r.Amount, r.Step, r.Type, r.Fraud}
	}
	return s.BatchWrite(ctx, `
		INSERT INTO transfers (id, sender_id, receiver_id, amount, step, type, ground_truth_fraud)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, rows, batchSize)
}

// StreamAccounts calls fn for every account id in id order.
func (s *SQLStore) StreamAccounts(ctx context.Context, fn func(id string) error) error {
	return s.RunStream(ctx, `SELECT id FROM accounts ORDER BY id`, nil, func(r domain.Row) error {
		return fn(r.String("id"))
	})
}

// StreamTransfers calls fn for every transfer in id order. Ground truth is
// not selected.
func (s *SQLStore) StreamTransfers(ctx context.Context, fn func(domain.Transfer) error) error {
	return s.RunStream(ctx, `
		SELECT id, sender_id, receiver_id, amount, step, type
		FROM transfers
		ORDER BY id
	`, nil, func(r domain.Row) error {
		return fn(transferFromRow(r))
	})
}

func transferFromRow(r domain.Row) domain.Transfer {
	return domain.Transfer{
		ID:         r.Int("id"),
		SenderID:   r.String("sender_id"),
		ReceiverID: r.String("receiver_id"),
		Amount:     r.Float("amount"),
		Step:       int(r.Int("step")),
		Type:       r.String("type"),
	}
}

// Project builds a named in-memory projection of the whole transfer graph
// and registers it in the catalog. Every account becomes a node, including
// accounts without transfers.
func (s *SQLStore) Project(ctx context.Context, name string, orientation graph.Orientation) (*graph.Graph, error) {
	b := graph.NewBuilder(orientation)
	if err := s.StreamAccounts(ctx, func(id string) error {
		b.AddNode(id)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("project %s: %w", name, err)
	}
	if err := s.StreamTransfers(ctx, func(t domain.Transfer) error {
		b.AddEdge(t.ID, t.SenderID, t.ReceiverID, t.Amount, t.Step)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("project %s: %w", name, err)
	}

	g := b.Build(name)
	s.catalog.Put(g)
	return g, nil
}

// Projection returns a registered projection.
func (s *SQLStore) Projection(name string) (*graph.Graph, bool) {
	return s.catalog.Get(name)
}

// DropProjection removes a projection from the catalog.
func (s *SQLStore) DropProjection(name string) bool {
	return s.catalog.Drop(name)
}

// Projections lists registered projection names.
func (s *SQLStore) Projections() []string {
	return s.catalog.Names()
}
