// Package features derives per-account topological and temporal features
// from transfer graph projections.
package features

import (
	"github.com/opensource-finance/fraudgraph/internal/domain"
)

// Table holds feature columns indexed by account position.
type Table struct {
	Accounts []string
	index    map[string]int

	values map[domain.Feature][]float64
	raw    map[domain.Feature][]float64

	CommunityID   []int
	CommunitySize []int
	OutCount      []int
}

// NewTable creates an empty table for the given accounts.
func NewTable(accounts []string) *Table {
	index := make(map[string]int, len(accounts))
	for i, id := range accounts {
		index[id] = i
	}
	n := len(accounts)
	t := &Table{
		Accounts:      accounts,
		index:         index,
		values:        make(map[domain.Feature][]float64, len(domain.AllFeatures)),
		raw:           make(map[domain.Feature][]float64),
		CommunityID:   make([]int, n),
		CommunitySize: make([]int, n),
		OutCount:      make([]int, n),
	}
	for _, f := range domain.AllFeatures {
		t.values[f] = make([]float64, n)
	}
	return t
}

// Len returns the number of accounts.
func (t *Table) Len() int { return len(t.Accounts) }

// Index returns an account's position.
func (t *Table) Index(id string) (int, bool) {
	i, ok := t.index[id]
	return i, ok
}

// Column returns the current values of a feature. Unknown features yield a
// zero column.
func (t *Table) Column(f domain.Feature) []float64 {
	col, ok := t.values[f]
	if !ok {
		col = make([]float64, len(t.Accounts))
		t.values[f] = col
	}
	return col
}

// SetColumn replaces a feature column.
func (t *Table) SetColumn(f domain.Feature, values []float64) {
	t.values[f] = values
}

// Raw returns the pre-normalisation column, or nil if the feature was never
// normalised.
func (t *Table) Raw(f domain.Feature) []float64 {
	return t.raw[f]
}

// KeepRaw snapshots a column before it is rescaled.
func (t *Table) KeepRaw(f domain.Feature) {
	col := t.Column(f)
	snapshot := make([]float64, len(col))
	copy(snapshot, col)
	t.raw[f] = snapshot
}

// Get returns one account's feature value.
func (t *Table) Get(id string, f domain.Feature) float64 {
	i, ok := t.index[id]
	if !ok {
		return 0
	}
	return t.Column(f)[i]
}

// Row returns every feature of one account keyed by property name.
func (t *Table) Row(i int) map[string]float64 {
	row := make(map[string]float64, 2*len(domain.AllFeatures)+3)
	for _, f := range domain.AllFeatures {
		row[string(f)] = t.Column(f)[i]
		if raw := t.raw[f]; raw != nil {
			row[f.RawProperty()] = raw[i]
		}
	}
	row[domain.PropCommunityID] = float64(t.CommunityID[i])
	row[domain.PropCommunitySize] = float64(t.CommunitySize[i])
	row[domain.PropOutCount] = float64(t.OutCount[i])
	return row
}

// FromProperties rebuilds a table from stored account properties, for runs
// that reuse an earlier extraction.
func FromProperties(accounts []string, props map[string]map[string]float64) *Table {
	t := NewTable(accounts)
	for i, id := range accounts {
		p := props[id]
		if p == nil {
			continue
		}
		for _, f := range domain.AllFeatures {
			t.values[f][i] = p[string(f)]
		}
		t.CommunityID[i] = int(p[domain.PropCommunityID])
		t.CommunitySize[i] = int(p[domain.PropCommunitySize])
		t.OutCount[i] = int(p[domain.PropOutCount])
	}
	return t
}
