package strategy

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
)

// ErrNoOpenLeg is returned for positions that have no open record yet.
var ErrNoOpenLeg = errors.New("position has no open leg")

// defaultOpenGas is the ETH assumed spent on the open leg when its receipt is unknown.
const defaultOpenGas = 0.001

// CloseStrategy decides how positions are unwound.
type CloseStrategy interface {
	ClosePositionInfo(ctx context.Context, p models.Position) (models.OrderWithPrice, error)
	ShouldClosePosition(ctx context.Context, p models.Position) (bool, *models.TransactionWithPrice, error)
}

// ProfitableClose closes positions once they clear a minimum profit.
type ProfitableClose struct {
	provider         *Provider
	minProfitability float64
	logger           *zap.Logger
}

func NewProfitableClose(p *Provider, minProfitability float64, logger *zap.Logger) *ProfitableClose {
	return &ProfitableClose{provider: p, minProfitability: minProfitability, logger: logger}
}

// ClosePositionInfo prices the close order at open*(1±minProfitability).
// When the market has already moved past that target the price is moved
// halfway toward the current price.
func (c *ProfitableClose) ClosePositionInfo(ctx context.Context, p models.Position) (models.OrderWithPrice, error) {
	if p.Open == nil {
		return models.OrderWithPrice{}, ErrNoOpenLeg
	}
	sellToClose := p.Context.Action == models.Buy
	target := p.Open.Price * (1 - c.minProfitability)
	if sellToClose {
		target = p.Open.Price * (1 + c.minProfitability)
	}

	price := target
	current, err := c.provider.CurrentPrice(ctx)
	if err != nil {
		c.logger.Warn("no current price for close order, using target", zap.String("position", p.ID), zap.Error(err))
	} else if sellToClose && current > target {
		price = target + (current-target)/2
	} else if !sellToClose && current < target {
		price = target - (target-current)/2
	}
	return models.OrderWithPrice{Price: price, BaseAmount: p.Amount, Action: p.Context.Action.Opposite()}, nil
}

// ShouldClosePosition quotes the closing swap and reports whether it clears
// the minimum profit after gas for both legs and the protocol fee.
func (c *ProfitableClose) ShouldClosePosition(ctx context.Context, p models.Position) (bool, *models.TransactionWithPrice, error) {
	if p.Open == nil {
		return false, nil, nil
	}
	openIsBuy := p.Context.Action == models.Buy

	current, err := c.provider.CurrentPrice(ctx)
	if err != nil {
		return false, nil, err
	}
	var q *models.Quote
	if openIsBuy {
		q, err = c.provider.SellBase(ctx, p.Amount)
	} else {
		q, err = c.provider.SellQuote(ctx, p.Open.Price*p.Amount)
	}
	if err != nil {
		return false, nil, err
	}
	bestPrice := q.Price
	if !openIsBuy {
		bestPrice = 1 / q.Price
	}

	previousGas := defaultOpenGas
	if p.Open.Receipt != nil && p.Open.GasPrice > 0 {
		previousGas = models.ToUnit(p.Open.Receipt.GasUsed.Mul(decimal.NewFromFloat(p.Open.GasPrice)))
	}
	gas := q.EstimatedGas
	if gas.IsZero() {
		gas = q.Gas
	}
	baggage := (previousGas + models.ToUnit(q.ProtocolFee) + models.ToUnit(gas.Mul(q.GasPrice))) * current

	var shouldClose bool
	if openIsBuy {
		value := bestPrice*p.Amount - baggage
		minValue := p.Open.Price * (1 + c.minProfitability) * p.Amount
		shouldClose = value >= minValue
		c.logger.Debug("sell to close", zap.Bool("close", shouldClose), zap.Float64("value", value), zap.Float64("min", minValue))
	} else {
		cost := bestPrice*p.Amount + baggage
		maxCost := p.Open.Price * (1 - c.minProfitability) * p.Amount
		shouldClose = cost <= maxCost
		c.logger.Debug("buy to close", zap.Bool("close", shouldClose), zap.Float64("cost", cost), zap.Float64("max", maxCost))
	}

	return shouldClose, &models.TransactionWithPrice{
		Transaction: q.TxData,
		Price:       bestPrice,
		BaseAmount:  p.Amount,
		ProtocolFee: q.ProtocolFee,
	}, nil
}
