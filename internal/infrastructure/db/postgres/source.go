package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// Source reads the raw behaviour tables. NULL columns are loaded as zero
// values so that schema validation reports them with table, row and column.
type Source struct {
	db *sql.DB
}

func NewSource(db *sql.DB) *Source { return &Source{db: db} }

func (s *Source) Load(ctx context.Context, from, to time.Time) (pipeline.Inputs, error) {
	var in pipeline.Inputs
	from, to = from.UTC(), to.UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		in.Clicks, err = s.clicks(gctx, from, to)
		return err
	})
	g.Go(func() (err error) {
		in.CartAdds, err = s.cartAdds(gctx, from, to)
		return err
	})
	g.Go(func() (err error) {
		in.Orders, err = s.orders(gctx, from, to)
		return err
	})
	g.Go(func() (err error) {
		in.Impressions, err = s.impressions(gctx, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return pipeline.Inputs{}, err
	}
	return in, nil
}

func (s *Source) clicks(ctx context.Context, from, to time.Time) ([]domain.Click, error) {
	rows, err := s.db.QueryContext(ctx, selectClicksSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query clicks: %w", err)
	}
	defer rows.Close()

	var out []domain.Click
	for rows.Next() {
		var (
			customer, item sql.NullInt64
			ts             sql.NullTime
			session        sql.NullString
		)
		if err := rows.Scan(&customer, &item, &ts, &session); err != nil {
			return nil, fmt.Errorf("scan clicks: %w", err)
		}
		out = append(out, domain.Click{
			CustomerID: customer.Int64,
			ItemID:     item.Int64,
			Timestamp:  ts.Time,
			SessionID:  session.String,
		})
	}
	return out, rows.Err()
}

func (s *Source) cartAdds(ctx context.Context, from, to time.Time) ([]domain.CartAdd, error) {
	rows, err := s.db.QueryContext(ctx, selectCartAddsSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query cart_adds: %w", err)
	}
	defer rows.Close()

	var out []domain.CartAdd
	for rows.Next() {
		var (
			customer, item, qty sql.NullInt64
			ts                  sql.NullTime
		)
		if err := rows.Scan(&customer, &item, &ts, &qty); err != nil {
			return nil, fmt.Errorf("scan cart_adds: %w", err)
		}
		out = append(out, domain.CartAdd{
			CustomerID: customer.Int64,
			ItemID:     item.Int64,
			Timestamp:  ts.Time,
			Quantity:   int(qty.Int64),
		})
	}
	return out, rows.Err()
}

func (s *Source) orders(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, selectOrdersSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var (
			customer, item, qty sql.NullInt64
			ts                  sql.NullTime
			orderID             sql.NullString
		)
		if err := rows.Scan(&customer, &item, &ts, &orderID, &qty); err != nil {
			return nil, fmt.Errorf("scan orders: %w", err)
		}
		out = append(out, domain.Order{
			CustomerID: customer.Int64,
			ItemID:     item.Int64,
			Timestamp:  ts.Time,
			OrderID:    orderID.String,
			Quantity:   int(qty.Int64),
		})
	}
	return out, rows.Err()
}

func (s *Source) impressions(ctx context.Context, from, to time.Time) ([]domain.Impression, error) {
	rows, err := s.db.QueryContext(ctx, selectImpressionsSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query impressions: %w", err)
	}
	defer rows.Close()

	var out []domain.Impression
	for rows.Next() {
		var (
			id       sql.NullString
			customer sql.NullInt64
			ts       sql.NullTime
			itemIDs  pq.Int64Array
			ordered  pq.BoolArray
		)
		if err := rows.Scan(&id, &customer, &ts, &itemIDs, &ordered); err != nil {
			return nil, fmt.Errorf("scan impressions: %w", err)
		}
		// is_order is parallel to item_ids
		if len(ordered) != len(itemIDs) {
			return nil, domain.ErrSchema(domain.TableImpressions, len(out), "is_order",
				fmt.Sprintf("is_order has %d entries for %d items", len(ordered), len(itemIDs)))
		}

		items := make([]domain.ImpressionItem, len(itemIDs))
		for i := range itemIDs {
			items[i] = domain.ImpressionItem{ItemID: itemIDs[i], IsOrder: ordered[i]}
		}
		out = append(out, domain.Impression{
			ImpressionID: id.String,
			CustomerID:   customer.Int64,
			Timestamp:    ts.Time,
			Items:        items,
		})
	}
	return out, rows.Err()
}
