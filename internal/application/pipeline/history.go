package pipeline

import (
	"sort"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// Aggregator builds bounded per-customer action histories.
type Aggregator struct {
	// MaxLength is clamped to [1, domain.MaxHistoryLength].
	MaxLength int
}

func NewAggregator(maxLength int) Aggregator {
	return Aggregator{MaxLength: clampHistoryLength(maxLength)}
}

func clampHistoryLength(n int) int {
	if n <= 0 || n > domain.MaxHistoryLength {
		return domain.MaxHistoryLength
	}
	return n
}

// GetCustomerActionHistory groups actions by customer using the default bound.
func GetCustomerActionHistory(actions []domain.Action, impressions []domain.Impression) ([]domain.CustomerHistory, error) {
	return NewAggregator(domain.MaxHistoryLength).Aggregate(actions, impressions)
}

// Aggregate returns, per customer, the most recent actions newest first.
// Actions sharing a timestamp keep their ingestion order. Anything beyond
// MaxLength is dropped.
//
// When impressions is non-nil every impressed customer gets an entry, with an
// empty sequence if they have no actions. Output is sorted by customer id.
func (a Aggregator) Aggregate(actions []domain.Action, impressions []domain.Impression) ([]domain.CustomerHistory, error) {
	out, _, err := a.aggregate(actions, impressions)
	return out, err
}

// aggregate also reports how many customers lost actions to the bound.
func (a Aggregator) aggregate(actions []domain.Action, impressions []domain.Impression) ([]domain.CustomerHistory, int, error) {
	limit := clampHistoryLength(a.MaxLength)

	byCustomer := make(map[int64][]domain.Action)
	for i, act := range actions {
		if !act.Type.Valid() {
			return nil, 0, domain.ErrSchema("actions", i, "action_type", "unknown action_type "+act.Type.String())
		}
		byCustomer[act.CustomerID] = append(byCustomer[act.CustomerID], act)
	}
	for _, imp := range impressions {
		if _, ok := byCustomer[imp.CustomerID]; !ok {
			byCustomer[imp.CustomerID] = nil
		}
	}

	ids := make([]int64, 0, len(byCustomer))
	for id := range byCustomer {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	truncated := 0
	out := make([]domain.CustomerHistory, 0, len(ids))
	for _, id := range ids {
		acts := byCustomer[id]
		sort.SliceStable(acts, func(i, j int) bool {
			return acts[i].Timestamp.After(acts[j].Timestamp)
		})
		if len(acts) > limit {
			acts = acts[:limit]
			truncated++
		}
		seq := make([]domain.Action, len(acts))
		copy(seq, acts)
		out = append(out, domain.CustomerHistory{CustomerID: id, Actions: seq})
	}
	return out, truncated, nil
}
