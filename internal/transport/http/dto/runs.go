package dto

import (
	"time"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
)

// CreateRunReq asks for a build over the half-open window [from, to).
type CreateRunReq struct {
	RunID string    `json:"run_id" validate:"omitempty,uuid"`
	From  time.Time `json:"from" validate:"required"`
	To    time.Time `json:"to" validate:"required,gtfield=From"`
}

type RunCountsResp struct {
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

// RunResp is the stable API response model for a build run.
type RunResp struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Trigger string        `json:"trigger"`
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Counts  RunCountsResp `json:"counts"`
	DTs     []string      `json:"dts"`
	Error   string        `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func ToRunResp(r *domain.Run) RunResp {
	dts := r.DTs
	if dts == nil {
		dts = []string{}
	}
	return RunResp{
		ID:      r.ID,
		Status:  string(r.Status),
		Trigger: r.Trigger,
		From:    r.From,
		To:      r.To,
		Counts: RunCountsResp{
			Impressions:         r.Counts.Impressions,
			Clicks:              r.Counts.Clicks,
			CartAdds:            r.Counts.CartAdds,
			Orders:              r.Counts.Orders,
			Actions:             r.Counts.Actions,
			ExplodedImpressions: r.Counts.ExplodedImpressions,
			Customers:           r.Counts.Customers,
			TrainingRows:        r.Counts.TrainingRows,
			Partitions:          r.Counts.Partitions,
		},
		DTs:        dts,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
