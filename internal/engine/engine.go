// Package engine 运行做市和交易两种策略实例的单次轮询（tick）。
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/persistence"
	"zrx-ladder-bot/internal/storage"
)

// Settings 是一个策略实例的身份和配置快照。
type Settings struct {
	InstanceKey string
	Address     string
	ChainID     int
	Strategy    models.StrategySettings
}

// DefaultInstanceKey 为未配置实例键的进程生成一个唯一键。
func DefaultInstanceKey(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// store 封装两种引擎共用的读取、保存和记录流水逻辑。
type store struct {
	repo     persistence.StrategyRepository
	journal  storage.Journal
	clock    exchange.Clock
	logger   *zap.Logger
	settings Settings
}

func newStore(repo persistence.StrategyRepository, journal storage.Journal, clock exchange.Clock, logger *zap.Logger, settings Settings) store {
	if journal == nil {
		journal = storage.NopJournal{}
	}
	if clock == nil {
		clock = exchange.SystemClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return store{repo: repo, journal: journal, clock: clock, logger: logger, settings: settings}
}

// load 读取策略文档，不存在时按配置创建版本 1。已有文档会刷新可调参数，仓位保持不变。
func (st store) load() (*models.Strategy, error) {
	key := st.settings.InstanceKey
	s, err := st.repo.Get(key)
	if err != nil {
		return nil, fmt.Errorf("读取策略 %s 失败: %w", key, err)
	}
	if s == nil {
		s = models.NewStrategy(key, st.settings.Address, st.settings.Strategy)
		if err := st.repo.Create(s); err != nil {
			return nil, fmt.Errorf("创建策略 %s 失败: %w", key, err)
		}
		st.logger.Info("创建新的策略文档", zap.String("instance", key))
		return s, nil
	}
	s.ApplySettings(st.settings.Address, st.settings.Strategy)
	return s, nil
}

func (st store) tokens(s *models.Strategy) []exchange.TokenInfo {
	return []exchange.TokenInfo{
		{Symbol: s.BaseSymbol, Address: s.BaseToken},
		{Symbol: s.QuoteSymbol, Address: s.QuoteToken},
	}
}

// fingerprint 标识一个仓位在流水中可见的状态。
func fingerprint(p models.Position) string {
	hash := ""
	if p.PendingOrder != nil {
		hash = p.PendingOrder.OrderHash
	}
	return string(p.Status) + "|" + hash
}

func snapshot(positions []models.Position) map[string]string {
	out := make(map[string]string, len(positions))
	for _, p := range positions {
		out[p.ID] = fingerprint(p)
	}
	return out
}

// save 归档已平仓仓位，按版本号保存，并把本轮变化的仓位写入流水。
// 版本冲突时返回 persistence.ErrStaleStrategy，本轮结果全部作废。
func (st store) save(ctx context.Context, s *models.Strategy, before map[string]string) error {
	now := st.clock.Now()
	var events []storage.Event
	for _, p := range s.Positions {
		if prev, ok := before[p.ID]; !ok || prev != fingerprint(p) {
			events = append(events, storage.EventFor(p, now))
		}
	}
	if moved := s.ArchiveClosed(); moved > 0 {
		st.logger.Info("仓位已平仓并归档", zap.Int("count", moved))
	}

	if err := st.repo.Save(s); err != nil {
		if errors.Is(err, persistence.ErrStaleStrategy) {
			st.logger.Warn("策略文档已被其他写入者更新，放弃本轮结果", zap.String("instance", s.InstanceKey), zap.Error(err))
		}
		return fmt.Errorf("保存策略 %s 失败: %w", s.InstanceKey, err)
	}

	// 流水只用于分析，写入失败不影响本轮
	if err := st.journal.Record(ctx, events); err != nil {
		st.logger.Warn("写入交易流水失败", zap.Int("events", len(events)), zap.Error(err))
	}
	return nil
}

func elapsed(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
