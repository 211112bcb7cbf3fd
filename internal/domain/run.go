package domain

import "time"

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Valid() bool {
	return s == RunQueued || s == RunRunning || s == RunSucceeded || s == RunFailed
}

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunCounts are the row counts observed by one dataset build.
type RunCounts struct {
	Impressions         int `json:"impressions"`
	Clicks              int `json:"clicks"`
	CartAdds            int `json:"cart_adds"`
	Orders              int `json:"orders"`
	Actions             int `json:"actions"`
	ExplodedImpressions int `json:"exploded_impressions"`
	Customers           int `json:"customers"`
	TrainingRows        int `json:"training_rows"`
	Partitions          int `json:"partitions"`
}

// Run records a single dataset build over the half-open window [From, To).
type Run struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Trigger    string     `json:"trigger"`
	From       time.Time  `json:"from"`
	To         time.Time  `json:"to"`
	Counts     RunCounts  `json:"counts"`
	DTs        []string   `json:"dts,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
