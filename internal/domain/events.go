package domain

import "time"

// Click is a product click as delivered by the tracking pipeline.
type Click struct {
	CustomerID int64     `json:"customer_id" validate:"gt=0"`
	ItemID     int64     `json:"item_id" validate:"gt=0"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	SessionID  string    `json:"session_id,omitempty"`
}

// CartAdd is an add-to-cart event.
type CartAdd struct {
	CustomerID int64     `json:"customer_id" validate:"gt=0"`
	ItemID     int64     `json:"item_id" validate:"gt=0"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Quantity   int       `json:"quantity" validate:"gte=0"`
}

// Order is one purchased line of a previous order.
type Order struct {
	CustomerID int64     `json:"customer_id" validate:"gt=0"`
	ItemID     int64     `json:"item_id" validate:"gt=0"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	OrderID    string    `json:"order_id,omitempty"`
	Quantity   int       `json:"quantity" validate:"gte=0"`
}

// Impression is one batch of items shown to a customer in a single interaction.
// Items keep the order in which they were displayed.
type Impression struct {
	ImpressionID string           `json:"impression_id" validate:"required"`
	CustomerID   int64            `json:"customer_id" validate:"gt=0"`
	Timestamp    time.Time        `json:"timestamp" validate:"required"`
	Items        []ImpressionItem `json:"items" validate:"dive"`
}

// ImpressionItem is a shown item and whether the customer ended up ordering it
// in the same session.
type ImpressionItem struct {
	ItemID  int64 `json:"item_id" validate:"gt=0"`
	IsOrder bool  `json:"is_order"`
}
