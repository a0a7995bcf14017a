package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Store is the read access exports need.
type Store interface {
	TransferScores(ctx context.Context, numNames, textNames []string, fn func(domain.TransferScore) error) error
	TopAccounts(ctx context.Context, limit int, suspiciousOnly bool) ([]domain.RankedAccount, error)
}

// WriteReport serialises the report as indented JSON.
func WriteReport(ctx context.Context, sink Sink, r *domain.Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return sink.Put(ctx, data, "application/json")
}

var scoreHeader = []string{
	"transfer_id", "sender_id", "receiver_id", "amount", "step",
	"anomaly_score", "hybrid_score", "flagged", "confidence", "confidence_tier", "detection_rule",
}

// ExportScores writes one CSV row per transfer with its scores and flag.
func ExportScores(ctx context.Context, st Store, sink Sink) (int64, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(scoreHeader); err != nil {
		return 0, err
	}

	var rows int64
	err := st.TransferScores(ctx,
		[]string{domain.PropAnomalyScore, domain.PropHybridScore, domain.PropFlagged, domain.PropConfidence},
		[]string{domain.PropConfidenceTier, domain.PropDetectionRule},
		func(ts domain.TransferScore) error {
			rows++
			return w.Write([]string{
				strconv.FormatInt(ts.ID, 10),
				ts.SenderID,
				ts.ReceiverID,
				formatFloat(ts.Amount),
				strconv.Itoa(ts.Step),
				optional(ts.Props, domain.PropAnomalyScore),
				optional(ts.Props, domain.PropHybridScore),
				strconv.FormatBool(ts.Props[domain.PropFlagged] == 1),
				optional(ts.Props, domain.PropConfidence),
				ts.Text[domain.PropConfidenceTier],
				ts.Text[domain.PropDetectionRule],
			})
		})
	if err != nil {
		return 0, fmt.Errorf("export scores: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return rows, sink.Put(ctx, buf.Bytes(), "text/csv")
}

// ExportAccounts writes the suspicious accounts, highest score first. A
// limit of 0 exports all of them.
func ExportAccounts(ctx context.Context, st Store, limit int, sink Sink) (int, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	accounts, err := st.TopAccounts(ctx, limit, true)
	if err != nil {
		return 0, fmt.Errorf("export accounts: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"account_id", "anomaly_score", "pattern_score"})
	for _, a := range accounts {
		w.Write([]string{a.ID, formatFloat(a.AnomalyScore), formatFloat(a.PatternScore)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return len(accounts), sink.Put(ctx, buf.Bytes(), "text/csv")
}

func optional(props map[string]float64, name string) string {
	v, ok := props[name]
	if !ok {
		return ""
	}
	return formatFloat(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
