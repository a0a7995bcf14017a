package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// AccountValue is one derived property on an account.
type AccountValue struct {
	AccountID string
	Name      string
	Value     float64
}

// TransferValue is one derived property on a transfer. Text properties keep
// num_value NULL.
type TransferValue struct {
	TransferID int64
	Name       string
	Num        float64
	Text       string
	IsText     bool
}

// NumValue builds a numeric transfer property.
func NumValue(id int64, name string, v float64) TransferValue {
	return TransferValue{TransferID: id, Name: name, Num: v}
}

// TextValue builds a text transfer property.
func TextValue(id int64, name, v string) TransferValue {
	return TransferValue{TransferID: id, Name: name, Text: v, IsText: true}
}

// BoolValue builds a 0/1 transfer property.
func BoolValue(id int64, name string, v bool) TransferValue {
	if v {
		return NumValue(id, name, 1)
	}
	return NumValue(id, name, 0)
}

// WriteAccountProperties upserts account properties in batches.
func (s *SQLStore) WriteAccountProperties(ctx context.Context, values []AccountValue, batchSize int) error {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.AccountID, v.Name, v.Value}
	}
	return s.BatchWrite(ctx, `
		INSERT INTO account_properties (account_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id, name) DO UPDATE SET value = excluded.value
	`, rows, batchSize)
}

// WriteTransferProperties upserts transfer properties in batches.
func (s *SQLStore) WriteTransferProperties(ctx context.Context, values []TransferValue, batchSize int) error {
	rows := make([][]any, len(values))
	for i, v := range values {
		if v.IsText {
			rows[i] = []any{v.TransferID, v.Name, nil, v.Text}
		} else {
			rows[i] = []any{v.TransferID, v.Name, v.Num, nil}
		}
	}
	return s.BatchWrite(ctx, `
		INSERT INTO transfer_properties (transfer_id, name, num_value, text_value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (transfer_id, name) DO UPDATE
		SET num_value = excluded.num_value, text_value = excluded.text_value
	`, rows, batchSize)
}

// DeleteAccountProperties removes the named properties from every account.
func (s *SQLStore) DeleteAccountProperties(ctx context.Context, names ...string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	return s.exec(ctx,
		`DELETE FROM account_properties WHERE name IN (`+placeholders(len(names))+`)`,
		stringArgs(names)...)
}

// DeleteTransferProperties removes the named properties from every transfer.
func (s *SQLStore) DeleteTransferProperties(ctx context.Context, names ...string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	return s.exec(ctx,
		`DELETE FROM transfer_properties WHERE name IN (`+placeholders(len(names))+`)`,
		stringArgs(names)...)
}

// PropagateToTransfers copies an account property onto every outgoing
// transfer of that account under the same name.
func (s *SQLStore) PropagateToTransfers(ctx context.Context, name string) (int64, error) {
	// WHERE 1 = 1 keeps SQLite from reading ON CONFLICT as a join constraint.
	return s.exec(ctx, `
		INSERT INTO transfer_properties (transfer_id, name, num_value, text_value)
		SELECT t.id, CAST(? AS TEXT), ap.value, NULL
		FROM transfers t
		JOIN account_properties ap ON ap.account_id = t.sender_id AND ap.name = ?
		WHERE 1 = 1
		ON CONFLICT (transfer_id, name) DO UPDATE
		SET num_value = excluded.num_value, text_value = excluded.text_value
	`, name, name)
}

// AccountProperties loads the named properties for every account that has
// at least one of them. Absent properties are absent from the inner map.
func (s *SQLStore) AccountProperties(ctx context.Context, names ...string) (map[string]map[string]float64, error) {
	result := make(map[string]map[string]float64)
	if len(names) == 0 {
		return result, nil
	}
	err := s.RunStream(ctx,
		`SELECT account_id, name, value FROM account_properties WHERE name IN (`+placeholders(len(names))+`)`,
		stringArgs(names),
		func(r domain.Row) error {
			id := r.String("account_id")
			props, ok := result[id]
			if !ok {
				props = make(map[string]float64, len(names))
				result[id] = props
			}
			props[r.String("name")] = r.Float("value")
			return nil
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransferScores streams every transfer in id order together with the
// requested numeric and text properties. NULL properties are omitted.
func (s *SQLStore) TransferScores(ctx context.Context, numNames, textNames []string, fn func(domain.TransferScore) error) error {
	var cols strings.Builder
	params := make([]any, 0, len(numNames)+len(textNames))
	for i, name := range numNames {
		fmt.Fprintf(&cols, ",\n\t\t\tMAX(CASE WHEN p.name = ? THEN p.num_value END) AS n%d", i)
		params = append(params, name)
	}
	for i, name := range textNames {
		fmt.Fprintf(&cols, ",\n\t\t\tMAX(CASE WHEN p.name = ? THEN p.text_value END) AS s%d", i)
		params = append(params, name)
	}

	query := `
		SELECT t.id, t.sender_id, t.receiver_id, t.amount, t.step, t.type` + cols.String() + `
		FROM transfers t
		LEFT JOIN transfer_properties p ON p.transfer_id = t.id
		GROUP BY t.id, t.sender_id, t.receiver_id, t.amount, t.step, t.type
		ORDER BY t.id
	`

	return s.RunStream(ctx, query, params, func(r domain.Row) error {
		ts := domain.TransferScore{
			Transfer: transferFromRow(r),
			Props:    make(map[string]float64, len(numNames)),
		}
		for i, name := range numNames {
			if v, ok := r.NullFloat("n" + strconv.Itoa(i)); ok {
				ts.Props[name] = v
			}
		}
		for i, name := range textNames {
			if v := r.String("s" + strconv.Itoa(i)); v != "" {
				if ts.Text == nil {
					ts.Text = make(map[string]string, len(textNames))
				}
				ts.Text[name] = v
			}
		}
		return fn(ts)
	})
}

// HasTransferProperty reports whether any transfer carries the property.
func (s *SQLStore) HasTransferProperty(ctx context.Context, name string) (bool, error) {
	row, err := s.Run(ctx, `SELECT 1 AS present FROM transfer_properties WHERE name = ? LIMIT 1`, name)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// Labels reads the evaluation-only ground truth for every transfer.
func (s *SQLStore) Labels(ctx context.Context) (map[int64]bool, error) {
	labels := make(map[int64]bool)
	err := s.RunStream(ctx, `SELECT id, ground_truth_fraud FROM transfers`, nil, func(r domain.Row) error {
		labels[r.Int("id")] = r.Bool("ground_truth_fraud")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// Counts summarises accounts, transfers and currently flagged transfers.
func (s *SQLStore) Counts(ctx context.Context) (domain.Counts, error) {
	row, err := s.Run(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts) AS accounts,
			(SELECT COUNT(*) FROM transfers) AS transfers,
			(SELECT COUNT(*) FROM transfer_properties WHERE name = ? AND num_value = 1) AS flagged
	`, domain.PropFlagged)
	if err != nil {
		return domain.Counts{}, err
	}
	if row == nil {
		return domain.Counts{}, nil
	}
	return domain.Counts{
		Accounts:  row.Int("accounts"),
		Transfers: row.Int("transfers"),
		Flagged:   row.Int("flagged"),
	}, nil
}

// TopTransfers lists transfers by final score (hybrid when present, baseline
// otherwise), highest first.
func (s *SQLStore) TopTransfers(ctx context.Context, limit int, flaggedOnly bool) ([]domain.RankedTransfer, error) {
	filter := ""
	if flaggedOnly {
		filter = "WHERE x.flagged = 1"
	}
	query := `
		SELECT * FROM (
			SELECT t.id, t.sender_id, t.receiver_id, t.amount, t.step,
				MAX(CASE WHEN p.name = ? THEN p.num_value END) AS hybrid,
				MAX(CASE WHEN p.name = ? THEN p.num_value END) AS anomaly,
				MAX(CASE WHEN p.name = ? THEN p.num_value END) AS flagged,
				MAX(CASE WHEN p.name = ? THEN p.num_value END) AS confidence,
				MAX(CASE WHEN p.name = ? THEN p.text_value END) AS tier,
				MAX(CASE WHEN p.name = ? THEN p.text_value END) AS reason
			FROM transfers t
			LEFT JOIN transfer_properties p ON p.transfer_id = t.id
			GROUP BY t.id, t.sender_id, t.receiver_id, t.amount, t.step
		) x
		` + filter + `
		ORDER BY COALESCE(x.hybrid, x.anomaly, 0) DESC, x.id
		LIMIT ?
	`
	var result []domain.RankedTransfer
	err := s.RunStream(ctx, query, []any{
		domain.PropHybridScore,
		domain.PropAnomalyScore,
		domain.PropFlagged,
		domain.PropConfidence,
		domain.PropConfidenceTier,
		domain.PropFlagReason,
		limit,
	}, func(r domain.Row) error {
		score, ok := r.NullFloat("hybrid")
		if !ok {
			score = r.Float("anomaly")
		}
		result = append(result, domain.RankedTransfer{
			ID:         r.Int("id"),
			SenderID:   r.String("sender_id"),
			ReceiverID: r.String("receiver_id"),
			Amount:     r.Float("amount"),
			Step:       int(r.Int("step")),
			Score:      score,
			Flagged:    r.Float("flagged") == 1,
			Confidence: r.Float("confidence"),
			Tier:       r.String("tier"),
			Reason:     r.String("reason"),
		})
		return nil
	})
	return result, err
}

// TopAccounts lists accounts by baseline anomaly score, highest first.
func (s *SQLStore) TopAccounts(ctx context.Context, limit int, suspiciousOnly bool) ([]domain.RankedAccount, error) {
	filter := ""
	if suspiciousOnly {
		filter = "WHERE x.suspicious = 1"
	}
	query := `
		SELECT * FROM (
			SELECT a.id,
				MAX(CASE WHEN p.name = ? THEN p.value END) AS anomaly,
				MAX(CASE WHEN p.name = ? THEN p.value END) AS pattern,
				MAX(CASE WHEN p.name = ? THEN p.value END) AS suspicious
			FROM accounts a
			LEFT JOIN account_properties p ON p.account_id = a.id
			GROUP BY a.id
		) x
		` + filter + `
		ORDER BY COALESCE(x.anomaly, 0) DESC, x.id
		LIMIT ?
	`
	var result []domain.RankedAccount
	err := s.RunStream(ctx, query, []any{
		domain.PropAnomalyScore,
		domain.PropAdvancedPatternScore,
		domain.PropSuspicious,
		limit,
	}, func(r domain.Row) error {
		result = append(result, domain.RankedAccount{
			ID:           r.String("id"),
			AnomalyScore: r.Float("anomaly"),
			PatternScore: r.Float("pattern"),
			Suspicious:   r.Float("suspicious") == 1,
		})
		return nil
	})
	return result, err
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	AccountProperties  int64 `json:"accountProperties"`
	TransferProperties int64 `json:"transferProperties"`
	Projections        int   `json:"projections"`
}

// Cleanup removes every derived property and drops all projections, leaving
// only the input load.
func (s *SQLStore) Cleanup(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult
	var err error

	if result.AccountProperties, err = s.exec(ctx, `DELETE FROM account_properties`); err != nil {
		return result, fmt.Errorf("cleanup account properties: %w", err)
	}
	if result.TransferProperties, err = s.exec(ctx, `DELETE FROM transfer_properties`); err != nil {
		return result, fmt.Errorf("cleanup transfer properties: %w", err)
	}
	result.Projections = s.catalog.DropAll()
	return result, nil
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
