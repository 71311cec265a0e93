// Package strategy turns market data into open and close order intents.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/models"
)

// ErrNoPrice is returned when no usable current price is available.
var ErrNoPrice = errors.New("no current price")

// fallbackGasPrice is used in quotes when the gas oracle is unavailable, in gwei.
const fallbackGasPrice = 50

// Provider bundles the market data a strategy reads. Quotes and Gas are
// only needed by the swap based trader.
type Provider struct {
	Candles   exchange.CandleSource
	Quotes    exchange.QuoteSource
	Gas       exchange.GasOracle
	Symbol    string
	Timeframe models.Timeframe

	BaseToken  string
	QuoteToken string
	Taker      string
	MinBase    float64 // smallest base order
	MinQuote   float64 // smallest quote order
	Rand       *rand.Rand
}

// CandlesFor returns candles sorted oldest first.
func (p *Provider) CandlesFor(ctx context.Context, timeframe models.Timeframe) ([]models.Candle, error) {
	if timeframe == "" {
		timeframe = p.Timeframe
	}
	candles, err := p.Candles.HistoricalCandles(ctx, p.Symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("historical candles %s/%s: %w", p.Symbol, timeframe, err)
	}
	sorted := append([]models.Candle(nil), candles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	return sorted, nil
}

// CandleValues extracts one field of the default timeframe's candles.
func (p *Provider) CandleValues(ctx context.Context, field models.CandleField) ([]float64, error) {
	candles, err := p.CandlesFor(ctx, p.Timeframe)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(candles))
	for i, c := range candles {
		values[i] = c.Value(field)
	}
	return values, nil
}

// CurrentPrice returns the last traded price of the symbol.
func (p *Provider) CurrentPrice(ctx context.Context) (float64, error) {
	ticker, err := p.Candles.GetTicker(ctx, p.Symbol)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", p.Symbol, err)
	}
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: ticker returned %q", ErrNoPrice, ticker.Price)
	}
	return price, nil
}

// GasPrice returns the safe gas price in gwei.
func (p *Provider) GasPrice(ctx context.Context) (float64, error) {
	if p.Gas == nil {
		return fallbackGasPrice, nil
	}
	prices, err := p.Gas.GetGasPrices(ctx)
	if err != nil {
		return 0, fmt.Errorf("gas prices: %w", err)
	}
	gwei, err := strconv.ParseFloat(prices.SafeGasPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse gas price %q: %w", prices.SafeGasPrice, err)
	}
	return gwei, nil
}

// SellBase quotes selling amount of the base token for the quote token.
func (p *Provider) SellBase(ctx context.Context, amount float64) (*models.Quote, error) {
	return p.quote(ctx, p.BaseToken, p.QuoteToken, amount)
}

// SellQuote quotes selling amount of the quote token for the base token.
func (p *Provider) SellQuote(ctx context.Context, amount float64) (*models.Quote, error) {
	return p.quote(ctx, p.QuoteToken, p.BaseToken, amount)
}

func (p *Provider) quote(ctx context.Context, sell, buy string, amount float64) (*models.Quote, error) {
	if p.Quotes == nil {
		return nil, errors.New("no quote source configured")
	}
	gwei, err := p.GasPrice(ctx)
	if err != nil {
		gwei = fallbackGasPrice
	}
	q, err := p.Quotes.GetQuote(ctx, models.QuoteRequest{
		SellToken:    sell,
		BuyToken:     buy,
		SellAmount:   models.ToBaseUnit(amount),
		TakerAddress: p.Taker,
		GasPrice:     decimal.NewFromFloat(gwei).Shift(9).Truncate(0),
	})
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w", sell, buy, err)
	}
	if q.Price <= 0 {
		return nil, fmt.Errorf("quote %s->%s: zero price", sell, buy)
	}
	return q, nil
}

func (p *Provider) rand() *rand.Rand {
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.Rand
}
