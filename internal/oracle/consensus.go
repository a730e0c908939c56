package oracle

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/mathx"
	"github.com/tuborlabs/tyield/internal/protocol"
)

const consensusComponent = "oracle"

// Consensus reconciles a current price and a TWAP from one or more feeds.
// It is a pure read path: it either returns a price satisfying every
// configured bound or fails closed. It never returns a best-effort guess.
type Consensus struct {
	feeds []PriceFeed
	now   func() time.Time
	log   *zap.Logger
}

// NewConsensus creates a consensus reader over the given feeds. The first
// feed is the primary TWAP source.
func NewConsensus(feeds []PriceFeed, log *zap.Logger) *Consensus {
	return &Consensus{
		feeds: feeds,
		now:   time.Now,
		log:   log.Named(consensusComponent),
	}
}

// WithClock overrides the time source. Test hook.
func (c *Consensus) WithClock(now func() time.Time) *Consensus {
	c.now = now
	return c
}

// ConsensusPrice fetches samples from every feed and validates them against
// the configured bounds:
//
//   - samples older than MaxStaleness are dropped; if fewer than MinFeeds
//     remain the read fails with OracleStale,
//   - the consensus price is the median of the surviving samples,
//   - the read fails with OracleDeviation when any sample, or the consensus
//     itself, deviates from the TWAP by more than MaxDeviationBps.
func (c *Consensus) ConsensusPrice(ctx context.Context, feedID string, bounds protocol.OracleBounds) (ConsensusPrice, error) {
	now := c.now()

	var fresh []Sample
	var fetchErr error
	for _, feed := range c.feeds {
		sample, err := feed.Fetch(ctx, feedID)
		if err != nil {
			fetchErr = err
			c.log.Warn("feed fetch failed",
				zap.String("feed_id", feedID),
				zap.String("source", feed.Name()),
				zap.Error(err))
			continue
		}
		if sample.Price == 0 {
			continue
		}
		if now.Sub(sample.Time) > bounds.MaxStaleness {
			c.log.Warn("stale sample dropped",
				zap.String("feed_id", feedID),
				zap.String("source", feed.Name()),
				zap.Time("sample_time", sample.Time))
			continue
		}
		fresh = append(fresh, sample)
	}

	if len(fresh) < bounds.MinFeeds {
		if len(fresh) == 0 && fetchErr != nil && errors.IsKind(fetchErr, errors.KindFeedUnavailable) {
			return ConsensusPrice{}, fetchErr
		}
		return ConsensusPrice{}, errors.Newf(errors.KindOracleStale, consensusComponent, "consensus_price",
			"%s: %d fresh samples, need %d within %s", feedID, len(fresh), bounds.MinFeeds, bounds.MaxStaleness)
	}

	price, err := medianPrice(fresh)
	if err != nil {
		return ConsensusPrice{}, err
	}

	twap, err := c.feeds[0].FetchTWAP(ctx, feedID)
	if err != nil {
		return ConsensusPrice{}, err
	}
	if twap == 0 {
		return ConsensusPrice{}, errors.Newf(errors.KindOracleStale, consensusComponent, "consensus_price",
			"%s: no TWAP reference available", feedID)
	}

	// Every sample must sit within the deviation bound of the TWAP, not
	// just the median, so a single manipulated feed is visible.
	for _, sample := range fresh {
		dev, err := mathx.DeviationBps(sample.Price, twap)
		if err != nil {
			return ConsensusPrice{}, err
		}
		if dev > bounds.MaxDeviationBps {
			return ConsensusPrice{}, errors.Newf(errors.KindOracleDeviation, consensusComponent, "consensus_price",
				"%s: sample from %s deviates %d bps from TWAP, max %d", feedID, sample.Source, dev, bounds.MaxDeviationBps)
		}
	}

	dev, err := mathx.DeviationBps(price, twap)
	if err != nil {
		return ConsensusPrice{}, err
	}
	if dev > bounds.MaxDeviationBps {
		return ConsensusPrice{}, errors.Newf(errors.KindOracleDeviation, consensusComponent, "consensus_price",
			"%s: consensus deviates %d bps from TWAP, max %d", feedID, dev, bounds.MaxDeviationBps)
	}

	result := ConsensusPrice{
		FeedID:     feedID,
		Price:      price,
		TWAP:       twap,
		Confidence: minConfidence(fresh),
		Time:       newestTime(fresh),
	}
	return result, nil
}

// medianPrice returns the median of the sample prices. Even-sized sets
// average the middle pair with checked math.
func medianPrice(samples []Sample) (uint64, error) {
	prices := make([]uint64, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })

	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid], nil
	}
	sum, err := mathx.Add(prices[mid-1], prices[mid])
	if err != nil {
		return 0, err
	}
	return sum / 2, nil
}

func minConfidence(samples []Sample) uint64 {
	min := samples[0].Confidence
	for _, s := range samples[1:] {
		if s.Confidence < min {
			min = s.Confidence
		}
	}
	return min
}

func newestTime(samples []Sample) time.Time {
	newest := samples[0].Time
	for _, s := range samples[1:] {
		if s.Time.After(newest) {
			newest = s.Time
		}
	}
	return newest
}
