package strategy

import (
	"context"
	"fmt"

	"zrx-ladder-bot/internal/indicators"
	"zrx-ladder-bot/internal/models"
)

// TradingStrategy decides when the swap based trader opens a position.
type TradingStrategy interface {
	Name() string
	IsBuyLevel(ctx context.Context, quoteAmount float64) (bool, error)
	IsSellLevel(ctx context.Context, baseAmount float64) (bool, error)
	TryMarketBuy(ctx context.Context, quoteAmount float64) (*models.TransactionWithPrice, error)
	TryMarketSell(ctx context.Context, baseAmount float64) (*models.TransactionWithPrice, error)
}

// NewTradingStrategy builds a trader strategy. Only the Bollinger band
// configuration has swap entry rules.
func NewTradingStrategy(cfg models.OpenStrategyConfig, p *Provider) (TradingStrategy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no open strategy configured", models.ErrUnknownStrategyKind)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch c := cfg.(type) {
	case models.BollingerBandConfig:
		return &BollingerBands{cfg: c, provider: p}, nil
	}
	return nil, fmt.Errorf("strategy kind %q cannot drive the trader", cfg.Kind())
}

// BollingerBands quotes at the outer bands and trades when a swap price
// breaks out of them.
type BollingerBands struct {
	cfg      models.BollingerBandConfig
	provider *Provider
}

func (s *BollingerBands) Name() string { return string(models.KindBollingerBand) }

func (s *BollingerBands) band(ctx context.Context, price float64) (indicators.BollingerBand, bool, error) {
	values, err := s.provider.CandleValues(ctx, s.cfg.Field)
	if err != nil {
		return indicators.BollingerBand{}, false, err
	}
	bb, ok := indicators.NextBollinger(values, s.cfg.Period, s.cfg.StdDev, price)
	return bb, ok, nil
}

func (s *BollingerBands) GenerateBuyOrders(ctx context.Context, quoteAmount float64) ([]models.OrderWithPrice, error) {
	current, err := s.provider.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	bb, ok, err := s.band(ctx, current)
	if err != nil || !ok {
		return []models.OrderWithPrice{}, err
	}
	target := min(current, bb.Lower) * (1 + s.cfg.PriceOffset)
	if target <= 0 {
		return []models.OrderWithPrice{}, nil
	}
	return []models.OrderWithPrice{{Price: target, BaseAmount: quoteAmount / target, Action: models.Buy}}, nil
}

func (s *BollingerBands) GenerateSellOrders(ctx context.Context, baseAmount float64) ([]models.OrderWithPrice, error) {
	current, err := s.provider.CurrentPrice(ctx)
	if err != nil {
		return nil, err
	}
	bb, ok, err := s.band(ctx, current)
	if err != nil || !ok {
		return []models.OrderWithPrice{}, err
	}
	target := max(current, bb.Upper) * (1 - s.cfg.PriceOffset)
	if target <= 0 {
		return []models.OrderWithPrice{}, nil
	}
	return []models.OrderWithPrice{{Price: target, BaseAmount: baseAmount, Action: models.Sell}}, nil
}

// IsBuyLevel reports whether buying with quoteAmount happens at or below the lower band.
func (s *BollingerBands) IsBuyLevel(ctx context.Context, quoteAmount float64) (bool, error) {
	q, err := s.provider.SellQuote(ctx, quoteAmount)
	if err != nil {
		return false, err
	}
	price := 1 / q.Price
	bb, ok, err := s.band(ctx, price)
	if err != nil || !ok {
		return false, err
	}
	return bb.Lower >= price, nil
}

// IsSellLevel reports whether selling baseAmount happens at or above the upper band.
func (s *BollingerBands) IsSellLevel(ctx context.Context, baseAmount float64) (bool, error) {
	q, err := s.provider.SellBase(ctx, baseAmount)
	if err != nil {
		return false, err
	}
	bb, ok, err := s.band(ctx, q.Price)
	if err != nil || !ok {
		return false, err
	}
	return bb.Upper <= q.Price, nil
}

func (s *BollingerBands) TryMarketBuy(ctx context.Context, quoteAmount float64) (*models.TransactionWithPrice, error) {
	q, err := s.provider.SellQuote(ctx, quoteAmount)
	if err != nil {
		return nil, err
	}
	return &models.TransactionWithPrice{
		Transaction: q.TxData,
		Price:       1 / q.Price,
		BaseAmount:  models.ToUnit(q.BuyAmount),
		ProtocolFee: q.ProtocolFee,
	}, nil
}

func (s *BollingerBands) TryMarketSell(ctx context.Context, baseAmount float64) (*models.TransactionWithPrice, error) {
	q, err := s.provider.SellBase(ctx, baseAmount)
	if err != nil {
		return nil, err
	}
	return &models.TransactionWithPrice{
		Transaction: q.TxData,
		Price:       q.Price,
		BaseAmount:  baseAmount,
		ProtocolFee: q.ProtocolFee,
	}, nil
}
