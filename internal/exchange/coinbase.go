package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
)

const DefaultCoinbaseURL = "https://api.exchange.coinbase.com"

// CoinbaseMarketData 从 Coinbase 公共接口读取K线和最新成交价。
type CoinbaseMarketData struct {
	client *restClient
}

func NewCoinbaseMarketData(baseURL string, requestsPerSec float64, logger *zap.Logger) *CoinbaseMarketData {
	if baseURL == "" {
		baseURL = DefaultCoinbaseURL
	}
	c := newRestClient(baseURL, requestsPerSec, logger)
	c.headers["User-Agent"] = "zrx-ladder-bot"
	return &CoinbaseMarketData{client: c}
}

// HistoricalCandles 返回按时间升序排列的K线。
// 每行格式为 [time, low, high, open, close, volume]。
func (c *CoinbaseMarketData) HistoricalCandles(ctx context.Context, symbol string, timeframe models.Timeframe) ([]models.Candle, error) {
	granularity := timeframe.Granularity()
	if granularity == 0 {
		return nil, fmt.Errorf("unknown timeframe %q", timeframe)
	}
	params := url.Values{}
	params.Set("granularity", strconv.Itoa(granularity))

	var rows [][]json.Number
	if err := c.client.getJSON(ctx, "/products/"+symbol+"/candles", params, &rows); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, err := row[0].Int64()
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := range vals {
			if vals[i], err = row[i+1].Float64(); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		candles = append(candles, models.Candle{
			Time:   ts,
			Low:    vals[0],
			High:   vals[1],
			Open:   vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}

// GetTicker 返回最新成交价。
func (c *CoinbaseMarketData) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	var ticker models.Ticker
	if err := c.client.getJSON(ctx, "/products/"+symbol+"/ticker", nil, &ticker); err != nil {
		return nil, err
	}
	return &ticker, nil
}
