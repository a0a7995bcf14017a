package patterns

import (
	"sort"

	"github.com/opensource-finance/fraudgraph/internal/domain"
	"github.com/opensource-finance/fraudgraph/internal/scoring"
)

// Burst scores senders with tightly spaced outgoing activity. A short gap is
// 1 or 2 steps; same-step transfers are fan-out, not a burst.
func Burst(transfers []domain.Transfer) Scores {
	return burst(newFlowIndex(transfers))
}

func burst(idx *flowIndex) Scores {
	scores := make(Scores)
	for _, id := range idx.senders {
		out := idx.out[id]
		if len(out) < 3 {
			continue
		}
		short := 0
		for i := 1; i < len(out); i++ {
			if gap := out[i].Step - out[i-1].Step; gap > 0 && gap <= 2 {
				short++
			}
		}
		switch {
		case short >= 5:
			scores[id] = 0.9
		case short >= 3:
			scores[id] = 0.7
		case short >= 2:
			scores[id] = 0.5
		}
	}
	return scores
}

const newAccountWindow = 5

// NewAccount scores accounts that appear in the first steps and move most of
// their volume there in amounts well above the global median.
func NewAccount(transfers []domain.Transfer) Scores {
	return newAccount(newFlowIndex(transfers))
}

func newAccount(idx *flowIndex) Scores {
	scores := make(Scores)
	median, ok := scoring.Percentile(idx.amounts, 0.5)
	if !ok || median <= 0 {
		return scores
	}

	for _, id := range idx.senders {
		out := idx.out[id]
		first := out[0].Step
		if in := idx.in[id]; len(in) > 0 && in[0].Step < first {
			first = in[0].Step
		}
		if first > newAccountWindow {
			continue
		}

		var total, early, maxEarly float64
		for _, t := range out {
			total += t.Amount
			if t.Step <= newAccountWindow {
				early += t.Amount
				maxEarly = max(maxEarly, t.Amount)
			}
		}
		if total <= 0 {
			continue
		}
		share := early / total
		ratio := maxEarly / median
		if share < 0.5 || ratio < 2 {
			continue
		}

		switch {
		case ratio >= 10 && share >= 0.9:
			scores[id] = 0.95
		case ratio >= 5:
			scores[id] = 0.8
		case ratio >= 3:
			scores[id] = 0.65
		default:
			scores[id] = 0.5
		}
	}
	return scores
}

// PassThrough scores accounts that forward what they receive within two
// steps, with the forwarded amount within 10% of the received one. Each
// outgoing transfer pairs with at most one incoming transfer.
func PassThrough(transfers []domain.Transfer) Scores {
	return passThrough(newFlowIndex(transfers))
}

func passThrough(idx *flowIndex) Scores {
	scores := make(Scores)
	for _, id := range idx.senders {
		in := idx.in[id]
		if len(in) == 0 {
			continue
		}
		out := idx.out[id]
		used := make([]bool, len(out))
		pairs := 0
		for _, r := range in {
			for k, s := range out {
				if used[k] || s.Step < r.Step || s.Step > r.Step+2 {
					continue
				}
				if relativeDiff(r.Amount, s.Amount) < 0.10 {
					used[k] = true
					pairs++
					break
				}
			}
		}
		switch {
		case pairs >= 5:
			scores[id] = 0.95
		case pairs >= 3:
			scores[id] = 0.85
		case pairs == 2:
			scores[id] = 0.7
		case pairs == 1:
			scores[id] = 0.5
		}
	}
	return scores
}

const (
	splitMinRecipients = 3
	mergeWindow        = 5
)

// SplitMerge finds fan-outs to three or more recipients in one step whose
// recipients later funnel into a common receiver within five steps. The
// splitting sender gets splitScore and the collecting receiver mergeScore.
func SplitMerge(transfers []domain.Transfer) (split, merge Scores) {
	return splitMerge(newFlowIndex(transfers))
}

func splitMerge(idx *flowIndex) (Scores, Scores) {
	split, merge := make(Scores), make(Scores)
	for _, sender := range idx.senders {
		out := idx.out[sender]
		for start := 0; start < len(out); {
			step := out[start].Step
			end := start
			recipients := make(map[string]struct{})
			for end < len(out) && out[end].Step == step {
				if r := out[end].ReceiverID; r != sender {
					recipients[r] = struct{}{}
				}
				end++
			}
			start = end
			if len(recipients) < splitMinRecipients {
				continue
			}

			// receiver -> set of recipients that forwarded to it
			converging := make(map[string]map[string]struct{})
			for r := range recipients {
				for _, t := range idx.out[r] {
					if t.Step < step || t.Step > step+mergeWindow {
						continue
					}
					if t.ReceiverID == sender || t.ReceiverID == r {
						continue
					}
					if converging[t.ReceiverID] == nil {
						converging[t.ReceiverID] = make(map[string]struct{})
					}
					converging[t.ReceiverID][r] = struct{}{}
				}
			}

			collector, count := bestCollector(converging)
			if count < 2 {
				continue
			}
			ratio := float64(count) / float64(len(recipients))
			var score float64
			switch {
			case count >= 3 && ratio >= 0.8:
				score = 0.95
			case ratio >= 0.5:
				score = 0.85
			default:
				score = 0.6
			}
			split.raise(sender, score)
			merge.raise(collector, score)
		}
	}
	return split, merge
}

// bestCollector picks the receiver with most converging recipients, breaking
// ties by id.
func bestCollector(converging map[string]map[string]struct{}) (string, int) {
	ids := make([]string, 0, len(converging))
	for id := range converging {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best, count := "", 0
	for _, id := range ids {
		if n := len(converging[id]); n > count {
			best, count = id, n
		}
	}
	return best, count
}

// cycleTier is one institutional cycling threshold.
type cycleTier struct {
	maxSteps     int
	maxVariation float64
	inclusive    bool
	score        float64
}

var cycleTiers = []cycleTier{
	{maxSteps: 5, maxVariation: 0.05, score: 0.95},
	{maxSteps: 10, maxVariation: 0.10, score: 0.9},
	{maxSteps: 15, maxVariation: 0.15, score: 0.8},
	{maxSteps: 15, maxVariation: 0.20, inclusive: true, score: 0.7},
}

// cycleMaxSteps is the loosest cycle time any tier accepts.
const cycleMaxSteps = 15

// InstitutionalCycling scores accounts on time-ordered 4-cycles that return a
// stable amount to the origin. Every member of the cycle gets the score.
// maxCycles stops enumeration early; zero means unbounded.
func InstitutionalCycling(transfers []domain.Transfer, maxCycles int) Scores {
	return institutionalCycling(newFlowIndex(transfers), maxCycles)
}

func institutionalCycling(idx *flowIndex, maxCycles int) Scores {
	scores := make(Scores)
	found := 0
	for _, a := range idx.senders {
		for _, e1 := range idx.out[a] {
			b := e1.ReceiverID
			if b == a {
				continue
			}
			for _, e2 := range idx.out[b] {
				c := e2.ReceiverID
				if e2.Step < e1.Step || e2.Step-e1.Step > cycleMaxSteps || c == a || c == b {
					continue
				}
				for _, e3 := range idx.out[c] {
					d := e3.ReceiverID
					if e3.Step < e2.Step || e3.Step-e1.Step > cycleMaxSteps || d == a || d == b || d == c {
						continue
					}
					for _, e4 := range idx.out[d] {
						if e4.ReceiverID != a || e4.Step < e3.Step {
							continue
						}
						score := cycleScore(e4.Step-e1.Step, e1.Amount, e2.Amount, e3.Amount, e4.Amount)
						if score == 0 {
							continue
						}
						for _, id := range []string{a, b, c, d} {
							scores.raise(id, score)
						}
						found++
						if maxCycles > 0 && found >= maxCycles {
							return scores
						}
					}
				}
			}
		}
	}
	return scores
}

func cycleScore(steps int, amounts ...float64) float64 {
	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	if hi <= 0 {
		return 0
	}
	variation := (hi - lo) / hi
	for _, tier := range cycleTiers {
		if steps > tier.maxSteps {
			continue
		}
		if variation < tier.maxVariation || (tier.inclusive && variation <= tier.maxVariation) {
			return tier.score
		}
	}
	return 0
}

const (
	muleWindow  = 3
	muleMaxDiff = 0.20
)

// MuleChain scores intermediaries that relay a received amount onward to a
// third party within three steps.
func MuleChain(transfers []domain.Transfer) Scores {
	return muleChain(newFlowIndex(transfers))
}

func muleChain(idx *flowIndex) Scores {
	scores := make(Scores)
	for _, m := range idx.senders {
		for _, r := range idx.in[m] {
			if r.SenderID == m {
				continue
			}
			for _, s := range idx.out[m] {
				if s.Step < r.Step || s.Step > r.Step+muleWindow {
					continue
				}
				if s.ReceiverID == r.SenderID || s.ReceiverID == m {
					continue
				}
				diff := relativeDiff(r.Amount, s.Amount)
				var score float64
				switch {
				case diff <= 0.02:
					score = 0.9
				case diff <= 0.05:
					score = 0.8
				case diff <= 0.10:
					score = 0.65
				case diff <= muleMaxDiff:
					score = 0.5
				}
				scores.raise(m, score)
			}
		}
	}
	return scores
}
