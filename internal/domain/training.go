package domain

import "time"

// PartitionLayout is the format of the dt partition key.
const PartitionLayout = "2006-01-02"

// MaxHistoryLength bounds every customer's action history.
const MaxHistoryLength = 1000

// ExplodedImpression is a single shown item of an impression batch.
type ExplodedImpression struct {
	ImpressionID string    `json:"impression_id"`
	CustomerID   int64     `json:"customer_id"`
	ItemID       int64     `json:"item_id"`
	Position     int       `json:"position"`
	Timestamp    time.Time `json:"timestamp"`
	IsOrder      bool      `json:"is_order"`
}

// CustomerHistory holds a customer's most recent actions, newest first.
type CustomerHistory struct {
	CustomerID int64    `json:"customer_id"`
	Actions    []Action `json:"actions"`
}

// TrainingRow is one labeled sample: an exploded impression joined with the
// customer's action history.
type TrainingRow struct {
	ImpressionID string    `json:"impression_id"`
	CustomerID   int64     `json:"customer_id"`
	ItemID       int64     `json:"item_id"`
	Position     int       `json:"position"`
	Timestamp    time.Time `json:"timestamp"`
	IsOrder      bool      `json:"is_order"`
	Actions      []Action  `json:"actions"`
	DT           string    `json:"dt"`
}

// Partition is the slice of the training table sharing one dt value.
type Partition struct {
	DT   string
	Rows []TrainingRow
}

// PartitionDate returns the dt key of t (its UTC calendar date).
func PartitionDate(t time.Time) string {
	return t.UTC().Format(PartitionLayout)
}
