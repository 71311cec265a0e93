package strategy

import (
	"context"
	"fmt"

	"zrx-ladder-bot/internal/indicators"
	"zrx-ladder-bot/internal/ladder"
	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/position"
)

// OpenStrategy generates limit order intents for unallocated balances.
// baseAmount and quoteAmount are what the allocator freed for this tick.
type OpenStrategy interface {
	Name() string
	GenerateSellOrders(ctx context.Context, baseAmount float64) ([]models.OrderWithPrice, error)
	GenerateBuyOrders(ctx context.Context, quoteAmount float64) ([]models.OrderWithPrice, error)
}

// NewOpenStrategy builds the strategy for a configuration variant.
func NewOpenStrategy(cfg models.OpenStrategyConfig, p *Provider) (OpenStrategy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no open strategy configured", models.ErrUnknownStrategyKind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch c := cfg.(type) {
	case models.BollingerBandConfig:
		return &BollingerBands{cfg: c, provider: p}, nil
	case models.MultipleOrderConfig:
		return &Multiple{cfg: c, provider: p}, nil
	case models.RangeOrderConfig:
		return &MultipleByRange{cfg: c, provider: p}, nil
	case models.ScaledOrderConfig:
		return &Scaled{cfg: c, provider: p}, nil
	case models.FibonacciConfig:
		return &Fibonacci{cfg: c, provider: p}, nil
	}
	return nil, fmt.Errorf("%w: %q", models.ErrUnknownStrategyKind, cfg.Kind())
}

func toIntents(orders []models.PartialOrder) []models.OrderWithPrice {
	out := make([]models.OrderWithPrice, 0, len(orders))
	for _, o := range orders {
		if o.Price <= 0 {
			continue
		}
		out = append(out, position.IntentFromPartial(o))
	}
	return out
}

// Multiple steps orders away from the current price.
type Multiple struct {
	cfg      models.MultipleOrderConfig
	provider *Provider
}

func (s *Multiple) Name() string { return string(models.KindMultiple) }

func (s *Multiple) GenerateSellOrders(ctx context.Context, baseAmount float64) ([]models.OrderWithPrice, error) {
	mid, err := s.provider.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	asks, _ := ladder.Stepped(mid, s.cfg, baseAmount, 0, s.provider.MinBase)
	ladder.SortByPriceDesc(asks)
	return toIntents(asks), nil
}

func (s *Multiple) GenerateBuyOrders(ctx context.Context, quoteAmount float64) ([]models.OrderWithPrice, error) {
	mid, err := s.provider.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	_, bids := ladder.Stepped(mid, s.cfg, 0, quoteAmount, s.provider.MinQuote)
	ladder.SortByPriceDesc(bids)
	return toIntents(bids), nil
}

// MultipleByRange places orders at configured prices.
type MultipleByRange struct {
	cfg      models.RangeOrderConfig
	provider *Provider
}

func (s *MultipleByRange) Name() string { return string(models.KindMultipleByRange) }

func (s *MultipleByRange) GenerateSellOrders(_ context.Context, baseAmount float64) ([]models.OrderWithPrice, error) {
	asks := ladder.FromPrices(s.cfg.AskPrices, baseAmount, s.cfg.AmountIncrease.Ask, s.provider.MinBase, false)
	ladder.SortByPriceDesc(asks)
	return toIntents(asks), nil
}

func (s *MultipleByRange) GenerateBuyOrders(_ context.Context, quoteAmount float64) ([]models.OrderWithPrice, error) {
	bids := ladder.FromPrices(s.cfg.BidPrices, quoteAmount, s.cfg.AmountIncrease.Bid, s.provider.MinQuote, true)
	ladder.SortByPriceDesc(bids)
	return toIntents(bids), nil
}

// Scaled ladders across fixed price ranges.
type Scaled struct {
	cfg      models.ScaledOrderConfig
	provider *Provider
}

func (s *Scaled) Name() string { return string(models.KindScaled) }

func (s *Scaled) params(side *models.ScaledSide, total, minAmount float64, buy bool) ladder.ScaledParams {
	return ladder.ScaledParams{
		PriceLower:   side.PriceLower,
		PriceUpper:   side.PriceUpper,
		OrderCount:   side.OrderCount,
		Total:        total,
		MinAmount:    minAmount,
		Distribution: s.cfg.Distribution,
		PriceNoise:   s.cfg.PriceNoise,
		AmountNoise:  s.cfg.AmountNoise,
		Buy:          buy,
	}
}

func (s *Scaled) GenerateSellOrders(_ context.Context, baseAmount float64) ([]models.OrderWithPrice, error) {
	if s.cfg.Sell == nil {
		return []models.OrderWithPrice{}, nil
	}
	orders := ladder.Scaled(s.params(s.cfg.Sell, baseAmount, s.provider.MinBase, false), s.provider.rand())
	return toIntents(orders), nil
}

func (s *Scaled) GenerateBuyOrders(_ context.Context, quoteAmount float64) ([]models.OrderWithPrice, error) {
	if s.cfg.Buy == nil {
		return []models.OrderWithPrice{}, nil
	}
	orders := ladder.Scaled(s.params(s.cfg.Buy, quoteAmount, s.provider.MinQuote, true), s.provider.rand())
	return toIntents(orders), nil
}

// Fibonacci ladders between the ATR bands that surround the last price.
type Fibonacci struct {
	cfg      models.FibonacciConfig
	provider *Provider
}

func (s *Fibonacci) Name() string { return string(models.KindFibonacci) }

func (s *Fibonacci) ranges(ctx context.Context, timeframe models.Timeframe) (ladder.Ranges, bool, error) {
	last, err := s.provider.CurrentPrice(ctx)
	if err != nil {
		return ladder.Ranges{}, false, err
	}
	candles, err := s.provider.CandlesFor(ctx, timeframe)
	if err != nil {
		return ladder.Ranges{}, false, err
	}
	r, ok := ladder.PriceRange(indicators.PriceBands(candles, last), last)
	return r, ok, nil
}

func (s *Fibonacci) GenerateSellOrders(ctx context.Context, baseAmount float64) ([]models.OrderWithPrice, error) {
	r, ok, err := s.ranges(ctx, s.cfg.AskTimeframe)
	if err != nil || !ok {
		return []models.OrderWithPrice{}, err
	}
	asks := ladder.BidAskOrders(r.Ask, s.cfg.Count, baseAmount, s.provider.MinBase, false, s.provider.rand())
	asks = ladder.FilterByBudget(asks, baseAmount, false)
	ladder.SortByPriceDesc(asks)
	return toIntents(asks), nil
}

func (s *Fibonacci) GenerateBuyOrders(ctx context.Context, quoteAmount float64) ([]models.OrderWithPrice, error) {
	r, ok, err := s.ranges(ctx, s.cfg.BidTimeframe)
	if err != nil || !ok {
		return []models.OrderWithPrice{}, err
	}
	bids := ladder.BidAskOrders(r.Bid, s.cfg.Count, quoteAmount, s.provider.MinQuote, true, s.provider.rand())
	bids = ladder.FilterByBudget(bids, quoteAmount, true)
	ladder.SortByPriceDesc(bids)
	return toIntents(bids), nil
}
