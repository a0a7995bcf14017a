package scoring

// FlagResult is the outcome of a percentile cutoff.
type FlagResult struct {
	Percentile float64
	// Threshold is the cutoff score. It is only meaningful when HasThreshold
	// is true; P >= 1 and P <= 0 short-circuit without one.
	Threshold    float64
	HasThreshold bool
	Flagged      []bool
	Count        int
}

// Flag marks every score at or above the p-th percentile. p >= 1 flags
// nothing and p <= 0 flags everything, so the result is total either way.
func Flag(scores []float64, p float64) FlagResult {
	res := FlagResult{Percentile: p, Flagged: make([]bool, len(scores))}
	if len(scores) == 0 || p >= 1 {
		return res
	}
	if p <= 0 {
		for i := range res.Flagged {
			res.Flagged[i] = true
		}
		res.Count = len(scores)
		return res
	}

	threshold, _ := Percentile(scores, p)
	res.Threshold = threshold
	res.HasThreshold = true
	for i, s := range scores {
		if s >= threshold {
			res.Flagged[i] = true
			res.Count++
		}
	}
	return res
}

// Above reports whether a score clears a flag result's cutoff.
func (r FlagResult) Above(score float64) bool {
	switch {
	case r.Percentile >= 1:
		return false
	case r.Percentile <= 0:
		return true
	default:
		return r.HasThreshold && score >= r.Threshold
	}
}
