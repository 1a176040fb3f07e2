package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// GetLTPQuotes fetches last traded prices for up to 500 instruments.
// The response map is keyed by "EXCHANGE_SEGMENT:TRADING_SYMBOL".
func (c *Client) GetLTPQuotes(ctx context.Context, instrumentKeys []string) (map[string]LTPQuote, error) {
	if len(instrumentKeys) == 0 {
		return nil, fmt.Errorf("get ltp quotes: no instrument keys")
	}

	query := url.Values{}
	query.Set("instrument_key", strings.Join(instrumentKeys, ","))

	var resp map[string]LTPQuote
	if err := c.get(ctx, "/market-quote/ltp", query, &resp); err != nil {
		return nil, fmt.Errorf("get ltp quotes: %w", err)
	}
	return resp, nil
}

// GetOHLCQuotes fetches OHLC bars for the given instruments at the
// given interval ("1d", "I1", "I30").
func (c *Client) GetOHLCQuotes(ctx context.Context, instrumentKeys []string, interval string) (map[string]OHLCQuote, error) {
	if len(instrumentKeys) == 0 {
		return nil, fmt.Errorf("get ohlc quotes: no instrument keys")
	}

	query := url.Values{}
	query.Set("instrument_key", strings.Join(instrumentKeys, ","))
	query.Set("interval", interval)

	var resp map[string]OHLCQuote
	if err := c.get(ctx, "/market-quote/ohlc", query, &resp); err != nil {
		return nil, fmt.Errorf("get ohlc quotes: %w", err)
	}
	return resp, nil
}

// GetHistoricalCandles fetches completed bars for one instrument.
// Dates are "YYYY-MM-DD"; interval is one of "1minute", "30minute",
// "day", "week", "month".
func (c *Client) GetHistoricalCandles(ctx context.Context, instrumentKey, interval, toDate, fromDate string) ([]Candle, error) {
	path := "/historical-candle/" + url.PathEscape(instrumentKey) + "/" + interval + "/" + toDate
	if fromDate != "" {
		path += "/" + fromDate
	}

	var resp candlesPayload
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get historical candles %s: %w", instrumentKey, err)
	}
	return resp.Candles, nil
}

// GetIntradayCandles fetches the current day's bars for one instrument.
func (c *Client) GetIntradayCandles(ctx context.Context, instrumentKey, interval string) ([]Candle, error) {
	path := "/historical-candle/intraday/" + url.PathEscape(instrumentKey) + "/" + interval

	var resp candlesPayload
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get intraday candles %s: %w", instrumentKey, err)
	}
	return resp.Candles, nil
}
