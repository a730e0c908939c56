package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/tuborlabs/tyield/internal/errors"
)

// BybitConfig holds connection settings for the Bybit price feed.
type BybitConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Category  string // "spot", "linear", "inverse"
	// Number of 1-minute klines averaged into the TWAP reference.
	TWAPWindow int
}

// BybitFeed implements PriceFeed against the Bybit v5 market API. Feed IDs
// are Bybit symbols (e.g. "BTCUSDT").
type BybitFeed struct {
	client     *bybit_api.Client
	category   string
	twapWindow int
}

// NewBybitFeed creates a Bybit-backed price feed.
func NewBybitFeed(cfg BybitConfig) *BybitFeed {
	baseURL := bybit_api.MAINNET
	if cfg.Testnet {
		baseURL = bybit_api.TESTNET
	}
	category := cfg.Category
	if category == "" {
		category = "spot"
	}
	twapWindow := cfg.TWAPWindow
	if twapWindow <= 0 {
		twapWindow = 30
	}
	return &BybitFeed{
		client: bybit_api.NewBybitHttpClient(
			cfg.APIKey,
			cfg.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		category:   category,
		twapWindow: twapWindow,
	}
}

// Name identifies the feed in logs and trip reasons.
func (f *BybitFeed) Name() string {
	return "bybit"
}

// Fetch returns the latest ticker price for the symbol.
func (f *BybitFeed) Fetch(ctx context.Context, feedID string) (Sample, error) {
	params := map[string]interface{}{
		"category": f.category,
		"symbol":   feedID,
	}

	result, err := f.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return Sample{}, errors.Wrap(err, errors.KindFeedUnavailable, "bybit", "fetch")
	}

	price, ts, err := f.parseTickerResponse(result)
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		FeedID: feedID,
		Source: f.Name(),
		Price:  price,
		Time:   ts,
	}, nil
}

// FetchTWAP averages the closes of the most recent 1-minute klines. The
// intervals are uniform so the plain average is time-weighted.
func (f *BybitFeed) FetchTWAP(ctx context.Context, feedID string) (uint64, error) {
	params := map[string]interface{}{
		"category": f.category,
		"symbol":   feedID,
		"interval": "1",
		"limit":    f.twapWindow,
	}

	result, err := f.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindFeedUnavailable, "bybit", "fetch_twap")
	}

	closes, err := f.parseKlineCloses(result)
	if err != nil {
		return 0, err
	}
	if len(closes) == 0 {
		return 0, errors.New(errors.KindFeedUnavailable, "bybit", "fetch_twap", "no klines returned")
	}

	var sum float64
	for _, c := range closes {
		sum += c
	}
	return ToFixed(sum / float64(len(closes))), nil
}

// parseTickerResponse extracts the last price and response timestamp from a
// GetMarketTickers response.
func (f *BybitFeed) parseTickerResponse(response interface{}) (uint64, time.Time, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return 0, time.Time{}, errors.New(errors.KindFeedUnavailable, "bybit", "parse_ticker", "invalid response type")
	}
	if serverResp.RetCode != 0 {
		return 0, time.Time{}, errors.Newf(errors.KindFeedUnavailable, "bybit", "parse_ticker",
			"API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	raw, err := json.Marshal(serverResp.Result)
	if err != nil {
		return 0, time.Time{}, errors.Wrap(err, errors.KindFeedUnavailable, "bybit", "parse_ticker")
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, time.Time{}, errors.Wrap(err, errors.KindFeedUnavailable, "bybit", "parse_ticker")
	}
	if len(result.List) == 0 {
		return 0, time.Time{}, errors.New(errors.KindFeedUnavailable, "bybit", "parse_ticker", "empty ticker list")
	}

	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, time.Time{}, errors.Wrap(fmt.Errorf("bad lastPrice %q: %w", result.List[0].LastPrice, err),
			errors.KindFeedUnavailable, "bybit", "parse_ticker")
	}

	ts := time.UnixMilli(serverResp.Time)
	if serverResp.Time == 0 {
		ts = time.Now()
	}
	return ToFixed(price), ts, nil
}

// parseKlineCloses extracts close prices from a GetMarketKline response.
// Bybit returns klines as string arrays: [startTime, open, high, low,
// close, volume, turnover].
func (f *BybitFeed) parseKlineCloses(response interface{}) ([]float64, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, errors.New(errors.KindFeedUnavailable, "bybit", "parse_kline", "invalid response type")
	}
	if serverResp.RetCode != 0 {
		return nil, errors.Newf(errors.KindFeedUnavailable, "bybit", "parse_kline",
			"API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}

	raw, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindFeedUnavailable, "bybit", "parse_kline")
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.Wrap(err, errors.KindFeedUnavailable, "bybit", "parse_kline")
	}

	closes := make([]float64, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 5 {
			continue
		}
		c, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			continue
		}
		closes = append(closes, c)
	}
	return closes, nil
}
