package pipeline

import (
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// ExplodeImpressions flattens impression batches into one row per shown item.
// A batch with no items contributes no rows.
func ExplodeImpressions(impressions []domain.Impression) ([]domain.ExplodedImpression, error) {
	if err := domain.ValidateTable(domain.TableImpressions, impressions); err != nil {
		return nil, err
	}

	n := 0
	for _, imp := range impressions {
		n += len(imp.Items)
	}

	out := make([]domain.ExplodedImpression, 0, n)
	for _, imp := range impressions {
		ts := imp.Timestamp.UTC()
		for pos, item := range imp.Items {
			out = append(out, domain.ExplodedImpression{
				ImpressionID: imp.ImpressionID,
				CustomerID:   imp.CustomerID,
				ItemID:       item.ItemID,
				Position:     pos,
				Timestamp:    ts,
				IsOrder:      item.IsOrder,
			})
		}
	}
	return out, nil
}
