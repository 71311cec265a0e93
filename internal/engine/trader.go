package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/persistence"
	"zrx-ladder-bot/internal/position"
	"zrx-ladder-bot/internal/reporter"
	"zrx-ladder-bot/internal/storage"
	"zrx-ladder-bot/internal/strategy"
)

// TradingDeps 是交易引擎依赖的外部服务。
type TradingDeps struct {
	Repo    persistence.StrategyRepository
	Wallet  exchange.Wallet
	Trader  strategy.TradingStrategy
	Close   strategy.CloseStrategy
	Journal storage.Journal
	Clock   exchange.Clock
}

// TradingEngine 用兑换交易开平仓，同一时间只持有一个仓位。
type TradingEngine struct {
	store
	wallet exchange.Wallet
	trader strategy.TradingStrategy
	close  strategy.CloseStrategy
}

// NewTradingEngine 创建交易引擎。实例键为空时生成一个默认键。
func NewTradingEngine(settings Settings, deps TradingDeps, logger *zap.Logger) *TradingEngine {
	if settings.InstanceKey == "" {
		settings.InstanceKey = DefaultInstanceKey("TradingEngine")
	}
	st := newStore(deps.Repo, deps.Journal, deps.Clock, logger, settings)
	st.logger = st.logger.With(zap.String("engine", "trader"), zap.String("instance", settings.InstanceKey))
	return &TradingEngine{
		store:  st,
		wallet: deps.Wallet,
		trader: deps.Trader,
		close:  deps.Close,
	}
}

func (e *TradingEngine) InstanceKey() string { return e.settings.InstanceKey }

// activePosition 返回等待收据或已开仓的仓位下标，没有时返回 -1。
func activePosition(positions []models.Position) int {
	for i, p := range positions {
		switch p.Status {
		case models.StatusOpening, models.StatusClosing, models.StatusOpen:
			return i
		}
	}
	return -1
}

// Tick 执行一轮：有在途交易时查收据，有持仓时判断是否平仓，否则尝试开仓。
func (e *TradingEngine) Tick(ctx context.Context) error {
	start := time.Now()
	s, err := e.load()
	if err != nil {
		return err
	}
	before := snapshot(s.Positions)

	balances, err := e.wallet.GetBalances(ctx, s.Address, e.tokens(s))
	if err != nil {
		return fmt.Errorf("读取余额失败: %w", err)
	}
	reporter.LogState(e.logger, s, balances)

	if i := activePosition(s.Positions); i >= 0 {
		p := &s.Positions[i]
		switch p.Status {
		case models.StatusOpening, models.StatusClosing:
			e.checkReceipt(ctx, p)
		case models.StatusOpen:
			e.tryClose(ctx, p)
		}
	} else {
		e.tryOpen(ctx, s, balances)
	}

	if err := e.save(ctx, s, before); err != nil {
		return err
	}
	e.logger.Debug("本轮结束", zap.Int64("version", s.Version), elapsed(start))
	return nil
}

func (e *TradingEngine) checkReceipt(ctx context.Context, p *models.Position) {
	leg := p.Open
	if p.Status == models.StatusClosing {
		leg = p.Close
	}
	if leg == nil || leg.Hash == "" {
		e.logger.Error("在途仓位没有交易哈希", zap.String("position", p.ID))
		return
	}
	receipt, err := e.wallet.GetTransactionReceipt(ctx, leg.Hash)
	if err != nil {
		e.logger.Warn("查询交易收据失败", zap.String("tx", leg.Hash), zap.Error(err))
		return
	}
	if receipt == nil {
		e.logger.Info("交易尚未确认", zap.String("position", p.ID), zap.String("tx", leg.Hash))
		return
	}
	from := p.Status
	position.ApplyReceipt(p, *receipt)
	e.logger.Info("交易已确认", zap.String("position", p.ID),
		zap.String("from", string(from)), zap.String("to", string(p.Status)), zap.Int("receipt_status", receipt.Status))
}

func (e *TradingEngine) tryClose(ctx context.Context, p *models.Position) {
	shouldClose, tx, err := e.close.ShouldClosePosition(ctx, *p)
	if err != nil {
		e.logger.Warn("平仓判断失败", zap.String("position", p.ID), zap.Error(err))
		return
	}
	if !shouldClose || tx == nil {
		return
	}
	hash, err := e.wallet.SendTransaction(ctx, tx.Transaction)
	if err != nil {
		e.logger.Error("发送平仓交易失败", zap.String("position", p.ID), zap.Error(err))
		return
	}
	position.MarkClosing(p, *tx, hash)
	e.logger.Info("已发送平仓交易", zap.String("position", p.ID), zap.Float64("price", tx.Price), zap.String("tx", hash))
}

// tryOpen 先判断买入，再判断卖出，每轮最多开一个仓位。
func (e *TradingEngine) tryOpen(ctx context.Context, s *models.Strategy, balances models.Balances) {
	buyRequest := s.PositionSize * (balances.TokenBalance(s.QuoteToken) - s.MinQuoteBalance)
	if buyRequest > 0 && buyRequest >= s.MinQuoteOrderAmount {
		ok, err := e.trader.IsBuyLevel(ctx, buyRequest)
		if err != nil {
			e.logger.Warn("买入信号判断失败", zap.Error(err))
		} else if ok {
			tx, err := e.trader.TryMarketBuy(ctx, buyRequest)
			if err != nil {
				e.logger.Warn("买入报价失败", zap.Error(err))
				return
			}
			e.submitOpen(ctx, s, models.Buy, tx, balances)
			return
		}
	}

	sellRequest := s.PositionSize * (balances.TokenBalance(s.BaseToken) - s.MinBaseBalance)
	if sellRequest > 0 && sellRequest >= s.MinBaseOrderAmount {
		ok, err := e.trader.IsSellLevel(ctx, sellRequest)
		if err != nil {
			e.logger.Warn("卖出信号判断失败", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		tx, err := e.trader.TryMarketSell(ctx, sellRequest)
		if err != nil {
			e.logger.Warn("卖出报价失败", zap.Error(err))
			return
		}
		e.submitOpen(ctx, s, models.Sell, tx, balances)
	}
}

func (e *TradingEngine) submitOpen(ctx context.Context, s *models.Strategy, action models.OrderAction, tx *models.TransactionWithPrice, balances models.Balances) {
	hash, err := e.wallet.SendTransaction(ctx, tx.Transaction)
	if err != nil {
		e.logger.Error("发送开仓交易失败", zap.String("action", string(action)), zap.Error(err))
		return
	}
	p := position.NewLive(s.InstanceKey, action, *tx, hash, balances, e.clock.Now())
	s.Positions = append(s.Positions, p)
	e.logger.Info("已发送开仓交易", zap.String("position", p.ID), zap.String("action", string(action)),
		zap.Float64("price", tx.Price), zap.Float64("amount", tx.BaseAmount), zap.String("tx", hash))
}
