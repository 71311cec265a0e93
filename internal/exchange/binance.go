package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"zrx-ladder-bot/internal/models"
)

// klineLimit 是币安单次请求的最大K线数量
const klineLimit = 1000

// BinanceMarketData 通过币安公共接口提供K线和最新价格，symbol 使用币安格式，如 "ETHUSDT"。
type BinanceMarketData struct {
	client  *binance.Client
	limiter *rate.Limiter
}

func NewBinanceMarketData(requestsPerSec float64) *BinanceMarketData {
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	return &BinanceMarketData{
		client:  binance.NewClient("", ""), // 公共接口不需要API Key
		limiter: rate.NewLimiter(limit, 1),
	}
}

// BinanceInterval 把时间周期映射为币安的K线间隔。
func BinanceInterval(tf models.Timeframe) (string, error) {
	switch tf {
	case models.QuarterHour:
		return "15m", nil
	case models.Hour:
		return "1h", nil
	case models.SixHour:
		return "6h", nil
	case models.Daily:
		return "1d", nil
	}
	return "", fmt.Errorf("unknown timeframe %q", tf)
}

// HistoricalCandles 返回最近的K线，按时间升序。
func (b *BinanceMarketData) HistoricalCandles(ctx context.Context, symbol string, timeframe models.Timeframe) ([]models.Candle, error) {
	interval, err := BinanceInterval(timeframe)
	if err != nil {
		return nil, err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(klineLimit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("下载K线数据失败: %w", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := CandleFromStrings(k.OpenTime/1000, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// GetTicker 返回最新成交价。
func (b *BinanceMarketData) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取价格失败: %w", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return &models.Ticker{Price: p.Price}, nil
		}
	}
	return nil, fmt.Errorf("未找到交易对 %s 的价格", symbol)
}

// CandleFromStrings 解析以字符串表示的 OHLCV 数值。
func CandleFromStrings(ts int64, open, high, low, close, volume string) (models.Candle, error) {
	vals := [5]float64{}
	for i, s := range []string{open, high, low, close, volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("parse candle field %q: %w", s, err)
		}
		vals[i] = v
	}
	return models.Candle{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}
