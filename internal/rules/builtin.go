package rules

import "github.com/opensource-finance/fraudgraph/internal/domain"

var recallRules = []domain.FilterRule{
	{
		ID:         "tiny-amount-low-score",
		Expression: "amount < median_amount * 0.01 && hybrid_score < median_score",
		Reason:     "very small amount with low score",
	},
	{
		ID:         "regular-sender",
		Expression: "out_count >= 5 && std_time_between_tx < 0.1 && pattern_score < 0.1 && confidence < 0.9",
		Reason:     "historically normal sender with regular timing",
	},
}

var precisionRules = []domain.FilterRule{
	{
		ID:         "weak-evidence",
		Expression: "confidence < 0.8 && amount < median_amount && deg_score < 0.2 && pattern_score < 0.3",
		Reason:     "weak combined evidence",
	},
	{
		ID:         "low-confidence-small-amount",
		Expression: "confidence < 0.7 && amount < median_amount * 0.5",
		Reason:     "low confidence on a small amount",
	},
}

var balancedRules = []domain.FilterRule{
	{
		ID:         "low-confidence-below-median",
		Expression: "confidence < 0.6 && amount < median_amount",
		Reason:     "low confidence below median amount",
	},
}

// BuiltinRules returns the default filter rules for a mode. Precision mode
// includes the recall rules since anything recall drops is also weak.
func BuiltinRules(mode domain.FilterMode) []domain.FilterRule {
	var out []domain.FilterRule
	switch mode {
	case domain.ModeRecall:
		out = append(out, recallRules...)
	case domain.ModePrecision:
		out = append(out, recallRules...)
		out = append(out, precisionRules...)
	default:
		out = append(out, recallRules...)
		out = append(out, balancedRules...)
	}
	return out
}
