package oracle

import (
	"context"
	"time"
)

// PriceScale is the fixed-point scale for prices crossing the feed
// boundary: 1e8 units per 1.0.
const PriceScale uint64 = 100_000_000

// Sample is a single price observation from one feed. Ephemeral: fetched
// per validation call and never persisted.
type Sample struct {
	FeedID     string
	Source     string
	Price      uint64
	Confidence uint64
	Time       time.Time
}

// PriceFeed is the external price collaborator. Implementations fail with a
// FeedUnavailable error when the upstream source cannot be reached.
type PriceFeed interface {
	// Fetch returns the latest price sample for a feed.
	Fetch(ctx context.Context, feedID string) (Sample, error)
	// FetchTWAP returns the time-weighted average price over the feed's
	// reference window.
	FetchTWAP(ctx context.Context, feedID string) (uint64, error)
	// Name identifies the feed source in trip reasons and logs.
	Name() string
}

// ConsensusPrice is the validated output of the consensus step.
type ConsensusPrice struct {
	FeedID     string
	Price      uint64
	TWAP       uint64
	Confidence uint64
	Time       time.Time
}

// ToFixed converts a float price to fixed-point at PriceScale. Feed
// adapters use it at the parse boundary; core math never touches floats.
func ToFixed(price float64) uint64 {
	if price <= 0 {
		return 0
	}
	return uint64(price*float64(PriceScale) + 0.5)
}

// FromFixed converts a fixed-point price back to a float for display.
func FromFixed(price uint64) float64 {
	return float64(price) / float64(PriceScale)
}
