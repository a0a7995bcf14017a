// Package patterns runs the rule-based money-movement detectors and fuses
// their scores with the baseline anomaly score.
package patterns

import (
	"sort"

	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Scores maps account id to a detector score in [0,1]. Absent accounts score 0.
type Scores map[string]float64

// raise keeps the highest score seen for an account.
func (s Scores) raise(id string, v float64) {
	if v > s[id] {
		s[id] = v
	}
}

// flowIndex groups transfers per account, ordered by step then id.
type flowIndex struct {
	out map[string][]domain.Transfer
	in  map[string][]domain.Transfer
	// senders lists accounts with outgoing transfers in sorted order so
	// detectors iterate deterministically.
	senders []string
	amounts []float64
}

func newFlowIndex(transfers []domain.Transfer) *flowIndex {
	idx := &flowIndex{
		out:     make(map[string][]domain.Transfer),
		in:      make(map[string][]domain.Transfer),
		amounts: make([]float64, 0, len(transfers)),
	}
	for _, t := range transfers {
		idx.out[t.SenderID] = append(idx.out[t.SenderID], t)
		idx.in[t.ReceiverID] = append(idx.in[t.ReceiverID], t)
		idx.amounts = append(idx.amounts, t.Amount)
	}
	for id, list := range idx.out {
		sortByStep(list)
		idx.senders = append(idx.senders, id)
	}
	for _, list := range idx.in {
		sortByStep(list)
	}
	sort.Strings(idx.senders)
	return idx
}

func sortByStep(list []domain.Transfer) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Step != list[j].Step {
			return list[i].Step < list[j].Step
		}
		return list[i].ID < list[j].ID
	})
}

func relativeDiff(a, b float64) float64 {
	if a == 0 {
		if b == 0 {
			return 0
		}
		return 1
	}
	d := (b - a) / a
	if d < 0 {
		return -d
	}
	return d
}
