package domain

import (
	"fmt"
	"time"
)

// ActionType discriminates unified actions. The integer values are part of the
// storage contract: downstream consumers filter on them.
type ActionType int8

const (
	ActionClick   ActionType = 1
	ActionCartAdd ActionType = 2
	ActionOrder   ActionType = 3
)

func (t ActionType) Valid() bool {
	return t == ActionClick || t == ActionCartAdd || t == ActionOrder
}

func (t ActionType) String() string {
	switch t {
	case ActionClick:
		return "click"
	case ActionCartAdd:
		return "cart_add"
	case ActionOrder:
		return "order"
	default:
		return fmt.Sprintf("ActionType(%d)", int8(t))
	}
}

// Action is a click, cart-add or order in the unified schema.
type Action struct {
	CustomerID int64      `json:"customer_id"`
	ItemID     int64      `json:"item_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Type       ActionType `json:"action_type"`
}
