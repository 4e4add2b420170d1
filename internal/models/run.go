package models

import (
	"time"

	"github.com/google/uuid"
)

// CollectionRun is the audit record of one collection that reached the network.
type CollectionRun struct {
	ID          uuid.UUID `json:"id"`
	URL         string    `json:"url"`
	ResolvedURL string    `json:"resolved_url"`
	Platform    Platform  `json:"platform"`
	Strategy    string    `json:"strategy"`
	Success     bool      `json:"success"`
	ImageCount  int       `json:"image_count"`
	TimingMS    int64     `json:"timing_ms"`
	Error       string    `json:"error,omitempty"`
	IsErrorPage bool      `json:"is_error_page"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewCollectionRun(url string, platform Platform, result *CollectionResult) *CollectionRun {
	run := &CollectionRun{
		ID:        uuid.New(),
		URL:       url,
		Platform:  platform,
		CreatedAt: time.Now().UTC(),
	}
	if result != nil {
		run.ResolvedURL = result.ResolvedURL
		run.Strategy = result.UsedStrategy
		run.Success = result.Success
		run.ImageCount = len(result.Images)
		run.TimingMS = result.Timing
		run.Error = result.Error
		run.IsErrorPage = result.IsErrorPage
	}
	return run
}

// PlatformStats aggregates runs for one platform.
type PlatformStats struct {
	Platform    Platform `json:"platform"`
	Total       int64    `json:"total"`
	Succeeded   int64    `json:"succeeded"`
	ErrorPages  int64    `json:"error_pages"`
	AvgTimingMS float64  `json:"avg_timing_ms"`
	TopStrategy string   `json:"top_strategy,omitempty"`
}
