package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

var base = time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func TestBuildActions(t *testing.T) {
	clicks := []domain.Click{
		{CustomerID: 1, ItemID: 10, Timestamp: at(0)},
		{CustomerID: 2, ItemID: 11, Timestamp: at(1)},
	}
	carts := []domain.CartAdd{{CustomerID: 1, ItemID: 10, Timestamp: at(2), Quantity: 1}}
	orders := []domain.Order{
		{CustomerID: 1, ItemID: 10, Timestamp: at(3), OrderID: "o1", Quantity: 1},
		{CustomerID: 3, ItemID: 12, Timestamp: at(4), OrderID: "o2", Quantity: 2},
	}

	t.Run("one_row_per_input_row", func(t *testing.T) {
		actions, err := BuildActions(clicks, carts, orders)
		require.NoError(t, err)
		assert.Len(t, actions, len(clicks)+len(carts)+len(orders))

		for _, a := range actions {
			assert.True(t, a.Type.Valid())
		}
		assert.Len(t, FilterActions(actions, domain.ActionClick), 2)
		assert.Len(t, FilterActions(actions, domain.ActionCartAdd), 1)
		assert.Len(t, FilterActions(actions, domain.ActionOrder), 2)
	})

	t.Run("keeps_ingestion_order", func(t *testing.T) {
		actions, err := BuildActions(clicks, carts, orders)
		require.NoError(t, err)
		assert.Equal(t, domain.Action{CustomerID: 1, ItemID: 10, Timestamp: at(0), Type: domain.ActionClick}, actions[0])
		assert.Equal(t, domain.ActionCartAdd, actions[2].Type)
		assert.Equal(t, int64(3), actions[4].CustomerID)
	})

	t.Run("empty_inputs_give_empty_output", func(t *testing.T) {
		actions, err := BuildActions(nil, nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, actions)
		assert.Empty(t, actions)
	})

	t.Run("missing_item_id_is_schema_error", func(t *testing.T) {
		bad := []domain.CartAdd{{CustomerID: 1, Timestamp: at(0)}}
		_, err := BuildActions(clicks, bad, orders)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeSchema))
		assert.Equal(t, "cart_adds", err.(*domain.AppError).Meta["table"])
		assert.Equal(t, "item_id", err.(*domain.AppError).Meta["field"])
	})

	t.Run("missing_timestamp_is_schema_error", func(t *testing.T) {
		bad := []domain.Order{{CustomerID: 1, ItemID: 2}}
		_, err := BuildActions(nil, nil, bad)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeSchema))
	})
}

func TestExplodeImpressions(t *testing.T) {
	t.Run("three_items_one_ordered", func(t *testing.T) {
		imps := []domain.Impression{{
			ImpressionID: "imp-1",
			CustomerID:   1,
			Timestamp:    at(0),
			Items: []domain.ImpressionItem{
				{ItemID: 10},
				{ItemID: 11, IsOrder: true},
				{ItemID: 12},
			},
		}}

		rows, err := ExplodeImpressions(imps)
		require.NoError(t, err)
		require.Len(t, rows, 3)

		ordered := 0
		for i, r := range rows {
			assert.Equal(t, "imp-1", r.ImpressionID)
			assert.Equal(t, i, r.Position)
			if r.IsOrder {
				ordered++
				assert.Equal(t, int64(11), r.ItemID)
			}
		}
		assert.Equal(t, 1, ordered)
	})

	t.Run("row_count_is_sum_of_batch_sizes", func(t *testing.T) {
		imps := []domain.Impression{
			{ImpressionID: "a", CustomerID: 1, Timestamp: at(0), Items: []domain.ImpressionItem{{ItemID: 1}, {ItemID: 2}}},
			{ImpressionID: "b", CustomerID: 2, Timestamp: at(1)},
			{ImpressionID: "c", CustomerID: 2, Timestamp: at(2), Items: []domain.ImpressionItem{{ItemID: 3}, {ItemID: 4}, {ItemID: 5}, {ItemID: 6}}},
		}

		rows, err := ExplodeImpressions(imps)
		require.NoError(t, err)
		assert.Len(t, rows, 6)

		perBatch := map[string]int{}
		for _, r := range rows {
			perBatch[r.ImpressionID]++
		}
		assert.Equal(t, map[string]int{"a": 2, "c": 4}, perBatch)
	})

	t.Run("empty_input", func(t *testing.T) {
		rows, err := ExplodeImpressions(nil)
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	t.Run("missing_impression_id", func(t *testing.T) {
		_, err := ExplodeImpressions([]domain.Impression{{CustomerID: 1, Timestamp: at(0)}})
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeSchema))
	})
}

func TestGetCustomerActionHistory(t *testing.T) {
	t.Run("bounded_to_1000_most_recent", func(t *testing.T) {
		clicks := make([]domain.Click, 0, 1500)
		for i := 0; i < 1500; i++ {
			clicks = append(clicks, domain.Click{CustomerID: 7, ItemID: int64(i + 1), Timestamp: at(i)})
		}
		actions, err := BuildActions(clicks, nil, nil)
		require.NoError(t, err)

		hist, err := GetCustomerActionHistory(actions, nil)
		require.NoError(t, err)
		require.Len(t, hist, 1)

		acts := hist[0].Actions
		require.Len(t, acts, 1000)
		assert.Equal(t, at(1499), acts[0].Timestamp)
		assert.Equal(t, at(500), acts[999].Timestamp)
		for i := 1; i < len(acts); i++ {
			assert.False(t, acts[i].Timestamp.After(acts[i-1].Timestamp))
		}
	})

	t.Run("ties_keep_ingestion_order", func(t *testing.T) {
		actions := []domain.Action{
			{CustomerID: 1, ItemID: 1, Timestamp: at(0), Type: domain.ActionClick},
			{CustomerID: 1, ItemID: 2, Timestamp: at(5), Type: domain.ActionClick},
			{CustomerID: 1, ItemID: 3, Timestamp: at(5), Type: domain.ActionCartAdd},
		}
		hist, err := GetCustomerActionHistory(actions, nil)
		require.NoError(t, err)
		require.Len(t, hist, 1)

		var items []int64
		for _, a := range hist[0].Actions {
			items = append(items, a.ItemID)
		}
		assert.Equal(t, []int64{2, 3, 1}, items)

		again, err := GetCustomerActionHistory(actions, nil)
		require.NoError(t, err)
		assert.Equal(t, hist, again)
	})

	t.Run("impressed_customer_without_actions_gets_empty_sequence", func(t *testing.T) {
		actions := []domain.Action{{CustomerID: 2, ItemID: 1, Timestamp: at(0), Type: domain.ActionOrder}}
		imps := []domain.Impression{{ImpressionID: "x", CustomerID: 1, Timestamp: at(1)}}

		hist, err := GetCustomerActionHistory(actions, imps)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, int64(1), hist[0].CustomerID)
		assert.NotNil(t, hist[0].Actions)
		assert.Empty(t, hist[0].Actions)
		assert.Equal(t, int64(2), hist[1].CustomerID)
	})

	t.Run("without_impressions_only_active_customers", func(t *testing.T) {
		hist, err := GetCustomerActionHistory(nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, hist)
		assert.Empty(t, hist)
	})

	t.Run("does_not_mutate_input", func(t *testing.T) {
		actions := []domain.Action{
			{CustomerID: 1, ItemID: 1, Timestamp: at(0), Type: domain.ActionClick},
			{CustomerID: 1, ItemID: 2, Timestamp: at(9), Type: domain.ActionClick},
		}
		_, err := GetCustomerActionHistory(actions, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), actions[0].ItemID)
	})

	t.Run("unknown_action_type", func(t *testing.T) {
		_, err := GetCustomerActionHistory([]domain.Action{{CustomerID: 1, ItemID: 1, Timestamp: at(0), Type: 9}}, nil)
		require.Error(t, err)
		assert.True(t, domain.IsCode(err, domain.CodeSchema))
	})

	t.Run("custom_bound_is_clamped", func(t *testing.T) {
		assert.Equal(t, 1000, NewAggregator(0).MaxLength)
		assert.Equal(t, 1000, NewAggregator(5000).MaxLength)
		assert.Equal(t, 2, NewAggregator(2).MaxLength)

		actions := []domain.Action{
			{CustomerID: 1, ItemID: 1, Timestamp: at(0), Type: domain.ActionClick},
			{CustomerID: 1, ItemID: 2, Timestamp: at(1), Type: domain.ActionClick},
			{CustomerID: 1, ItemID: 3, Timestamp: at(2), Type: domain.ActionClick},
		}
		hist, err := NewAggregator(2).Aggregate(actions, nil)
		require.NoError(t, err)
		require.Len(t, hist[0].Actions, 2)
		assert.Equal(t, int64(3), hist[0].Actions[0].ItemID)
	})
}

func TestBuilder_CountsOnlyTruncatedHistories(t *testing.T) {
	in := Inputs{Clicks: []domain.Click{
		// customer 1 has exactly the bound, customer 2 one more
		{CustomerID: 1, ItemID: 1, Timestamp: at(0)},
		{CustomerID: 1, ItemID: 2, Timestamp: at(1)},
		{CustomerID: 2, ItemID: 1, Timestamp: at(0)},
		{CustomerID: 2, ItemID: 2, Timestamp: at(1)},
		{CustomerID: 2, ItemID: 3, Timestamp: at(2)},
	}}

	ds, err := NewBuilder(2).Build(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, ds.Histories, 2)
	assert.Len(t, ds.Histories[0].Actions, 2)
	assert.Len(t, ds.Histories[1].Actions, 2)
	assert.Equal(t, 1, ds.TruncatedHistories)
}

func TestAssembleTrainingRows(t *testing.T) {
	exploded := []domain.ExplodedImpression{
		{ImpressionID: "a", CustomerID: 1, ItemID: 10, Position: 0, Timestamp: at(0), IsOrder: true},
		{ImpressionID: "a", CustomerID: 1, ItemID: 11, Position: 1, Timestamp: at(0)},
		{ImpressionID: "b", CustomerID: 2, ItemID: 12, Position: 0, Timestamp: base.Add(36 * time.Hour)},
	}
	histories := []domain.CustomerHistory{{
		CustomerID: 1,
		Actions:    []domain.Action{{CustomerID: 1, ItemID: 99, Timestamp: at(-5), Type: domain.ActionClick}},
	}}

	rows := AssembleTrainingRows(exploded, histories)
	require.Len(t, rows, 3)

	t.Run("left_join_keeps_unmatched_impressions", func(t *testing.T) {
		assert.Equal(t, int64(2), rows[2].CustomerID)
		assert.NotNil(t, rows[2].Actions)
		assert.Empty(t, rows[2].Actions)
	})

	t.Run("is_order_preserved_and_dt_set", func(t *testing.T) {
		for i, r := range rows {
			assert.Equal(t, exploded[i].IsOrder, r.IsOrder)
			assert.NotEmpty(t, r.DT)
		}
		assert.Equal(t, "2025-12-25", rows[0].DT)
		assert.Equal(t, "2025-12-26", rows[2].DT)
		assert.Len(t, rows[0].Actions, 1)
	})

	t.Run("partitions_sorted_by_dt", func(t *testing.T) {
		parts := PartitionByDate(rows)
		require.Len(t, parts, 2)
		assert.Equal(t, "2025-12-25", parts[0].DT)
		assert.Len(t, parts[0].Rows, 2)
		assert.Equal(t, "2025-12-26", parts[1].DT)
		assert.Len(t, parts[1].Rows, 1)
	})
}

func TestBuilder_Build(t *testing.T) {
	t.Run("all_inputs_empty", func(t *testing.T) {
		ds, err := NewBuilder(0).Build(context.Background(), Inputs{})
		require.NoError(t, err)
		assert.Empty(t, ds.Actions)
		assert.Empty(t, ds.Exploded)
		assert.Empty(t, ds.Histories)
		assert.Empty(t, ds.Rows)
		assert.Empty(t, ds.Partitions)
		assert.Equal(t, domain.RunCounts{}, ds.Counts(Inputs{}))
	})

	t.Run("customer_without_prior_actions", func(t *testing.T) {
		in := Inputs{
			Impressions: []domain.Impression{{
				ImpressionID: "imp-1", CustomerID: 5, Timestamp: at(0),
				Items: []domain.ImpressionItem{{ItemID: 1}, {ItemID: 2, IsOrder: true}},
			}},
			Clicks: []domain.Click{{CustomerID: 6, ItemID: 1, Timestamp: at(-1)}},
		}
		ds, err := NewBuilder(0).Build(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, ds.Rows, 2)
		for _, r := range ds.Rows {
			assert.Equal(t, int64(5), r.CustomerID)
			assert.Empty(t, r.Actions)
			assert.Equal(t, "2025-12-25", r.DT)
		}
		assert.Equal(t, []string{"2025-12-25"}, ds.DTs())
		assert.Equal(t, 2, ds.Counts(in).Customers)
	})

	t.Run("stage_error_aborts", func(t *testing.T) {
		in := Inputs{Clicks: []domain.Click{{ItemID: 1, Timestamp: at(0)}}}
		ds, err := NewBuilder(0).Build(context.Background(), in)
		assert.Nil(t, ds)
		assert.True(t, domain.IsCode(err, domain.CodeSchema))
	})

	t.Run("canceled_context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewBuilder(0).Build(ctx, Inputs{})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("convenience_wrapper", func(t *testing.T) {
		rows, err := BuildTrainingDataset(
			[]domain.Impression{{ImpressionID: "i", CustomerID: 1, Timestamp: at(0), Items: []domain.ImpressionItem{{ItemID: 3}}}},
			[]domain.Click{{CustomerID: 1, ItemID: 3, Timestamp: at(-2)}},
			nil, nil,
		)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Len(t, rows[0].Actions, 1)
		assert.Equal(t, domain.ActionClick, rows[0].Actions[0].Type)
	})
}
