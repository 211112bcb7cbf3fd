package pipeline

import (
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// BuildActions unifies clicks, cart-adds and orders into one actions table.
// Every input row yields exactly one action. Rows come out in ingestion order:
// clicks, then cart-adds, then orders, each in input order.
func BuildActions(clicks []domain.Click, carts []domain.CartAdd, orders []domain.Order) ([]domain.Action, error) {
	if err := domain.ValidateTable(domain.TableClicks, clicks); err != nil {
		return nil, err
	}
	if err := domain.ValidateTable(domain.TableCartAdds, carts); err != nil {
		return nil, err
	}
	if err := domain.ValidateTable(domain.TableOrders, orders); err != nil {
		return nil, err
	}

	out := make([]domain.Action, 0, len(clicks)+len(carts)+len(orders))
	for _, c := range clicks {
		out = append(out, domain.Action{
			CustomerID: c.CustomerID,
			ItemID:     c.ItemID,
			Timestamp:  c.Timestamp.UTC(),
			Type:       domain.ActionClick,
		})
	}
	for _, c := range carts {
		out = append(out, domain.Action{
			CustomerID: c.CustomerID,
			ItemID:     c.ItemID,
			Timestamp:  c.Timestamp.UTC(),
			Type:       domain.ActionCartAdd,
		})
	}
	for _, o := range orders {
		out = append(out, domain.Action{
			CustomerID: o.CustomerID,
			ItemID:     o.ItemID,
			Timestamp:  o.Timestamp.UTC(),
			Type:       domain.ActionOrder,
		})
	}
	return out, nil
}

// FilterActions returns the actions of type t, preserving order.
func FilterActions(actions []domain.Action, t domain.ActionType) []domain.Action {
	out := make([]domain.Action, 0)
	for _, a := range actions {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}
