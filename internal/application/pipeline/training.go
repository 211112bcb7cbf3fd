package pipeline

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// Inputs are the raw tables one build consumes.
type Inputs struct {
	Impressions []domain.Impression
	Clicks      []domain.Click
	CartAdds    []domain.CartAdd
	Orders      []domain.Order
}

// Dataset is the output of one build together with its intermediate tables.
type Dataset struct {
	Actions    []domain.Action
	Exploded   []domain.ExplodedImpression
	Histories  []domain.CustomerHistory
	Rows       []domain.TrainingRow
	Partitions []domain.Partition

	// TruncatedHistories counts customers whose history hit the bound and
	// lost older actions.
	TruncatedHistories int
}

// Counts summarises the dataset for run bookkeeping.
func (d *Dataset) Counts(in Inputs) domain.RunCounts {
	return domain.RunCounts{
		Impressions:         len(in.Impressions),
		Clicks:              len(in.Clicks),
		CartAdds:            len(in.CartAdds),
		Orders:              len(in.Orders),
		Actions:             len(d.Actions),
		ExplodedImpressions: len(d.Exploded),
		Customers:           len(d.Histories),
		TrainingRows:        len(d.Rows),
		Partitions:          len(d.Partitions),
	}
}

// DTs lists the partition keys in ascending order.
func (d *Dataset) DTs() []string {
	out := make([]string, 0, len(d.Partitions))
	for _, p := range d.Partitions {
		out = append(out, p.DT)
	}
	return out
}

// AssembleTrainingRows left-joins exploded impressions with customer histories.
// Impressions of customers without a history keep an empty actions sequence.
func AssembleTrainingRows(exploded []domain.ExplodedImpression, histories []domain.CustomerHistory) []domain.TrainingRow {
	byCustomer := make(map[int64][]domain.Action, len(histories))
	for _, h := range histories {
		byCustomer[h.CustomerID] = h.Actions
	}

	out := make([]domain.TrainingRow, 0, len(exploded))
	for _, e := range exploded {
		acts, ok := byCustomer[e.CustomerID]
		if !ok || acts == nil {
			acts = []domain.Action{}
		}
		out = append(out, domain.TrainingRow{
			ImpressionID: e.ImpressionID,
			CustomerID:   e.CustomerID,
			ItemID:       e.ItemID,
			Position:     e.Position,
			Timestamp:    e.Timestamp,
			IsOrder:      e.IsOrder,
			Actions:      acts,
			DT:           domain.PartitionDate(e.Timestamp),
		})
	}
	return out
}

// PartitionByDate groups rows by dt, ascending. Row order inside a partition
// follows the input.
func PartitionByDate(rows []domain.TrainingRow) []domain.Partition {
	idx := make(map[string]int)
	out := make([]domain.Partition, 0)
	for _, r := range rows {
		i, ok := idx[r.DT]
		if !ok {
			i = len(out)
			idx[r.DT] = i
			out = append(out, domain.Partition{DT: r.DT})
		}
		out[i].Rows = append(out[i].Rows, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DT < out[j].DT })
	return out
}

// Builder runs the four stages over one set of inputs.
type Builder struct {
	Aggregator Aggregator
}

func NewBuilder(maxHistory int) *Builder {
	return &Builder{Aggregator: NewAggregator(maxHistory)}
}

// Build runs the action unifier and impression expander concurrently, then
// aggregates histories and assembles the partitioned training table. Any stage
// error aborts the build.
func (b *Builder) Build(ctx context.Context, in Inputs) (*Dataset, error) {
	var (
		actions  []domain.Action
		exploded []domain.ExplodedImpression
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.Go(func() error {
		var err error
		actions, err = BuildActions(in.Clicks, in.CartAdds, in.Orders)
		return err
	})
	g.Go(func() error {
		var err error
		exploded, err = ExplodeImpressions(in.Impressions)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	histories, truncated, err := b.Aggregator.aggregate(actions, in.Impressions)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := AssembleTrainingRows(exploded, histories)
	return &Dataset{
		Actions:    actions,
		Exploded:   exploded,
		Histories:  histories,
		Rows:       rows,
		Partitions: PartitionByDate(rows),

		TruncatedHistories: truncated,
	}, nil
}

// BuildTrainingDataset builds the training table from the four raw tables
// with the default history bound.
func BuildTrainingDataset(impressions []domain.Impression, clicks []domain.Click, carts []domain.CartAdd, orders []domain.Order) ([]domain.TrainingRow, error) {
	ds, err := NewBuilder(domain.MaxHistoryLength).Build(context.Background(), Inputs{
		Impressions: impressions,
		Clicks:      clicks,
		CartAdds:    carts,
		Orders:      orders,
	})
	if err != nil {
		return nil, err
	}
	return ds.Rows, nil
}
