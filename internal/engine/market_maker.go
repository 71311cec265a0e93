package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zrx-ladder-bot/internal/allocator"
	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/persistence"
	"zrx-ladder-bot/internal/position"
	"zrx-ladder-bot/internal/reporter"
	"zrx-ladder-bot/internal/storage"
	"zrx-ladder-bot/internal/strategy"
)

// MarketMakerDeps 是做市引擎依赖的外部服务。
type MarketMakerDeps struct {
	Repo     persistence.StrategyRepository
	Contract exchange.Contract
	Book     exchange.OrderBook
	Wallet   exchange.Wallet
	Open     strategy.OpenStrategy
	Close    strategy.CloseStrategy
	Journal  storage.Journal // 可选
	Clock    exchange.Clock  // 可选，默认真实时间
}

// MarketMakerEngine 用 0x 限价单做市：挂开仓单，成交后挂平仓单。
type MarketMakerEngine struct {
	store
	contract exchange.Contract
	book     exchange.OrderBook
	wallet   exchange.Wallet
	open     strategy.OpenStrategy
	close    strategy.CloseStrategy
}

// NewMarketMakerEngine 创建做市引擎。实例键为空时生成一个默认键。
func NewMarketMakerEngine(settings Settings, deps MarketMakerDeps, logger *zap.Logger) *MarketMakerEngine {
	if settings.InstanceKey == "" {
		settings.InstanceKey = DefaultInstanceKey("MarketMakerEngine")
	}
	st := newStore(deps.Repo, deps.Journal, deps.Clock, logger, settings)
	st.logger = st.logger.With(zap.String("engine", "marketmaker"), zap.String("instance", settings.InstanceKey))
	return &MarketMakerEngine{
		store:    st,
		contract: deps.Contract,
		book:     deps.Book,
		wallet:   deps.Wallet,
		open:     deps.Open,
		close:    deps.Close,
	}
}

// InstanceKey 返回引擎管理的策略文档键。
func (e *MarketMakerEngine) InstanceKey() string { return e.settings.InstanceKey }

// Tick 执行一轮：读取余额、打印状态、对账、补挂平仓单、开新仓，最后按版本保存。
func (e *MarketMakerEngine) Tick(ctx context.Context) error {
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

	if err := e.reconcile(ctx, s); err != nil {
		// 外部服务错误只记录，本轮视为没有新状态
		e.logger.Warn("订单状态对账失败", zap.Error(err))
	}
	e.refresh(ctx, s)
	e.openNew(ctx, s, balances)

	if err := e.save(ctx, s, before); err != nil {
		return err
	}
	e.logger.Debug("本轮结束", zap.Int64("version", s.Version), elapsed(start))
	return nil
}

// reconcile 查询所有挂单的链上状态并推进仓位。
func (e *MarketMakerEngine) reconcile(ctx context.Context, s *models.Strategy) error {
	var orders []models.SignedOrder
	for _, p := range s.Positions {
		if p.PendingOrder != nil {
			orders = append(orders, p.PendingOrder.Order)
		}
	}
	if len(orders) == 0 {
		return nil
	}

	states, err := e.contract.GetOrderRelevantStates(ctx, orders)
	if err != nil {
		return fmt.Errorf("查询 %d 个订单状态失败: %w", len(orders), err)
	}
	res := position.Resolve(states)
	if len(res.Other) > 0 {
		e.logger.Warn("订单状态无效或已取消，保持不变", zap.Strings("hashes", res.Other))
	}
	for _, t := range position.Reconcile(s.Positions, res) {
		if t.Expired {
			e.logger.Info("挂单过期", zap.String("position", t.PositionID), zap.String("status", string(t.From)))
			continue
		}
		e.logger.Info("挂单成交", zap.String("position", t.PositionID),
			zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	}
	return nil
}

// refresh 为没有挂单的仓位补挂订单：开仓单过期的按原价重挂，已开仓的挂平仓单。
func (e *MarketMakerEngine) refresh(ctx context.Context, s *models.Strategy) {
	params := position.ParamsFor(s, e.settings.ChainID, e.contract.Address())
	for i := range s.Positions {
		p := &s.Positions[i]
		switch {
		case position.NeedsOpenOrder(*p):
			info := position.OpenIntent(*p)
			signed, hash, err := e.place(ctx, info, params)
			if err != nil {
				e.logger.Error("重挂开仓单失败", zap.String("position", p.ID), zap.Error(err))
				continue
			}
			position.AttachOpenOrder(p, info, signed, hash)
			e.logger.Info("已重挂开仓单", zap.String("position", p.ID),
				zap.String("action", string(info.Action)), zap.Float64("price", info.Price), zap.String("hash", hash))
		case position.NeedsCloseOrder(*p):
			info, err := e.close.ClosePositionInfo(ctx, *p)
			if err != nil {
				e.logger.Warn("计算平仓价格失败", zap.String("position", p.ID), zap.Error(err))
				continue
			}
			signed, hash, err := e.place(ctx, info, params)
			if err != nil {
				e.logger.Error("挂平仓单失败", zap.String("position", p.ID), zap.Error(err))
				continue
			}
			position.AttachCloseOrder(p, info, signed, hash)
			e.logger.Info("已挂平仓单", zap.String("position", p.ID),
				zap.String("action", string(info.Action)), zap.Float64("price", info.Price), zap.String("hash", hash))
		}
	}
}

// openNew 在未达到最大仓位数时，用未占用的余额按开仓策略挂新单。
func (e *MarketMakerEngine) openNew(ctx context.Context, s *models.Strategy, balances models.Balances) {
	openCount := s.OpenPositionCount()
	if openCount >= s.MaxOpenPositions {
		e.logger.Debug("已达到最大仓位数", zap.Int("open", openCount), zap.Int("max", s.MaxOpenPositions))
		return
	}

	baseAmount := allocator.Available(s.Positions, balances, allocator.BaseSide(s))
	quoteAmount := allocator.Available(s.Positions, balances, allocator.QuoteSide(s))

	var intents []models.OrderWithPrice
	if baseAmount > 0 {
		sells, err := e.open.GenerateSellOrders(ctx, baseAmount)
		if err != nil {
			e.logger.Warn("生成卖单失败", zap.String("strategy", e.open.Name()), zap.Error(err))
		}
		intents = append(intents, sells...)
	}
	if quoteAmount > 0 {
		buys, err := e.open.GenerateBuyOrders(ctx, quoteAmount)
		if err != nil {
			e.logger.Warn("生成买单失败", zap.String("strategy", e.open.Name()), zap.Error(err))
		}
		intents = append(intents, buys...)
	}
	if len(intents) == 0 {
		return
	}
	e.logger.Info("准备开仓", zap.String("strategy", e.open.Name()),
		zap.Float64("base", baseAmount), zap.Float64("quote", quoteAmount), zap.Int("orders", len(intents)))

	params := position.ParamsFor(s, e.settings.ChainID, e.contract.Address())
	for _, info := range intents {
		signed, hash, err := e.place(ctx, info, params)
		if err != nil {
			e.logger.Error("挂开仓单失败", zap.String("action", string(info.Action)),
				zap.Float64("price", info.Price), zap.Float64("amount", info.BaseAmount), zap.Error(err))
			continue
		}
		p := position.NewLimit(s.InstanceKey, info, signed, hash, balances, e.clock.Now())
		s.Positions = append(s.Positions, p)
		e.logger.Info("已挂开仓单", zap.String("position", p.ID), zap.String("action", string(info.Action)),
			zap.Float64("price", info.Price), zap.Float64("amount", info.BaseAmount), zap.String("hash", hash))
	}
}

// place 构造、签名并提交一张限价单。
func (e *MarketMakerEngine) place(ctx context.Context, info models.OrderWithPrice, params position.OrderParams) (models.SignedOrder, string, error) {
	order := position.BuildOrder(info, params, e.clock.Now())
	hash, err := e.contract.GetOrderHash(ctx, order)
	if err != nil {
		return models.SignedOrder{}, "", fmt.Errorf("计算订单哈希失败: %w", err)
	}
	signed, err := e.wallet.SignOrder(ctx, order, params.MakerAddress)
	if err != nil {
		return models.SignedOrder{}, "", fmt.Errorf("签名失败: %w", err)
	}
	if err := e.book.PostOrder(ctx, signed); err != nil {
		return models.SignedOrder{}, "", fmt.Errorf("提交订单失败: %w", err)
	}
	return signed, hash, nil
}
