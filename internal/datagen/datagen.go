// Package datagen produces deterministic synthetic behaviour tables for local
// builds and tests. Every generator is a pure function of its Options: the same
// options always yield the same rows.
package datagen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// per-table stream ids so tables do not share random sequences
const (
	streamImpressions uint64 = iota + 1
	streamClicks
	streamCartAdds
	streamOrders
)

type Options struct {
	Seed      uint64
	Customers int
	Items     int
	Start     time.Time
	Span      time.Duration

	ImpressionsPerCustomer int
	ItemsPerImpression     int
	ClicksPerCustomer      int
	CartAddsPerCustomer    int
	OrdersPerCustomer      int

	// OrderRate is the probability that a shown item is flagged as ordered.
	OrderRate float64
}

func DefaultOptions() Options {
	return Options{
		Seed:                   42,
		Customers:              100,
		Items:                  500,
		Start:                  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Span:                   7 * 24 * time.Hour,
		ImpressionsPerCustomer: 5,
		ItemsPerImpression:     10,
		ClicksPerCustomer:      20,
		CartAddsPerCustomer:    5,
		OrdersPerCustomer:      2,
		OrderRate:              0.05,
	}
}

func (o Options) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(o.Seed, stream))
}

func (o Options) timestamp(r *rand.Rand) time.Time {
	span := int64(o.Span / time.Second)
	if span <= 0 {
		return o.Start.UTC()
	}
	return o.Start.UTC().Add(time.Duration(r.Int64N(span)) * time.Second)
}

func (o Options) item(r *rand.Rand) int64 {
	return int64(r.IntN(max(o.Items, 1))) + 1
}

// GenerateImpressions returns ImpressionsPerCustomer batches for every customer,
// each showing ItemsPerImpression distinct items.
func GenerateImpressions(o Options) []domain.Impression {
	r := o.rng(streamImpressions)
	perBatch := min(o.ItemsPerImpression, max(o.Items, 1))

	out := make([]domain.Impression, 0, o.Customers*o.ImpressionsPerCustomer)
	for c := 1; c <= o.Customers; c++ {
		for i := 0; i < o.ImpressionsPerCustomer; i++ {
			items := make([]domain.ImpressionItem, 0, perBatch)
			seen := make(map[int64]struct{}, perBatch)
			for len(items) < perBatch {
				id := o.item(r)
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				items = append(items, domain.ImpressionItem{
					ItemID:  id,
					IsOrder: r.Float64() < o.OrderRate,
				})
			}
			out = append(out, domain.Impression{
				ImpressionID: fmt.Sprintf("imp-%d-%d", c, i),
				CustomerID:   int64(c),
				Timestamp:    o.timestamp(r),
				Items:        items,
			})
		}
	}
	return out
}

func GenerateClicks(o Options) []domain.Click {
	r := o.rng(streamClicks)
	out := make([]domain.Click, 0, o.Customers*o.ClicksPerCustomer)
	for c := 1; c <= o.Customers; c++ {
		for i := 0; i < o.ClicksPerCustomer; i++ {
			out = append(out, domain.Click{
				CustomerID: int64(c),
				ItemID:     o.item(r),
				Timestamp:  o.timestamp(r),
				SessionID:  fmt.Sprintf("s-%d-%d", c, r.IntN(4)),
			})
		}
	}
	return out
}

func GenerateAddToCart(o Options) []domain.CartAdd {
	r := o.rng(streamCartAdds)
	out := make([]domain.CartAdd, 0, o.Customers*o.CartAddsPerCustomer)
	for c := 1; c <= o.Customers; c++ {
		for i := 0; i < o.CartAddsPerCustomer; i++ {
			out = append(out, domain.CartAdd{
				CustomerID: int64(c),
				ItemID:     o.item(r),
				Timestamp:  o.timestamp(r),
				Quantity:   1 + r.IntN(3),
			})
		}
	}
	return out
}

func GeneratePreviousOrders(o Options) []domain.Order {
	r := o.rng(streamOrders)
	out := make([]domain.Order, 0, o.Customers*o.OrdersPerCustomer)
	for c := 1; c <= o.Customers; c++ {
		for i := 0; i < o.OrdersPerCustomer; i++ {
			out = append(out, domain.Order{
				CustomerID: int64(c),
				ItemID:     o.item(r),
				Timestamp:  o.timestamp(r),
				OrderID:    fmt.Sprintf("ord-%d-%d", c, i),
				Quantity:   1 + r.IntN(2),
			})
		}
	}
	return out
}

// Generate returns all four tables.
func Generate(o Options) pipeline.Inputs {
	return pipeline.Inputs{
		Impressions: GenerateImpressions(o),
		Clicks:      GenerateClicks(o),
		CartAdds:    GenerateAddToCart(o),
		Orders:      GeneratePreviousOrders(o),
	}
}

// Source serves synthetic tables spanning exactly the requested window.
type Source struct {
	Options Options
}

func NewSource(o Options) *Source { return &Source{Options: o} }

func (s *Source) Load(ctx context.Context, from, to time.Time) (pipeline.Inputs, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Inputs{}, err
	}
	o := s.Options
	o.Start = from.UTC()
	o.Span = to.Sub(from)
	return Generate(o), nil
}
