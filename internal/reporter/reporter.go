package reporter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/position"
)

// WalletTable 渲染钱包余额表
func WalletTable(b models.Balances) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"资产", "余额"})
	t.AppendRow(table.Row{"ETH", fmt.Sprintf("%.6f", b.EthBalance)})

	symbols := make([]string, 0, len(b.Balances))
	for s := range b.Balances {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		t.AppendRow(table.Row{s, fmt.Sprintf("%.6f", b.Balances[s])})
	}
	return t.Render()
}

// PositionTable 渲染各阶段的仓位数量
func PositionTable(s *models.Strategy) string {
	sum := position.Summarize(s.Positions, s.Closed)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"状态", "数量"})
	t.AppendRows([]table.Row{
		{"buy to open", sum.BuyToOpen},
		{"buy to close", sum.BuyToClose},
		{"sell to open", sum.SellToOpen},
		{"sell to close", sum.SellToClose},
		{"closed", sum.Closed},
		{"expired", sum.Expired},
	})
	return t.Render()
}

// LogState 在每个周期开始时打印当前状态
func LogState(logger *zap.Logger, s *models.Strategy, b models.Balances) {
	logger.Info("当前状态\n***\n"+WalletTable(b)+"\n"+PositionTable(s)+"\n***",
		zap.String("instance", s.InstanceKey),
		zap.Int64("version", s.Version))
}

// Metrics 存储计算出的模拟盘性能指标
type Metrics struct {
	InitialValue     float64
	FinalValue       float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	OpenPositions    int
	StartTime        time.Time
	EndTime          time.Time
}

// PositionProfit 返回已平仓仓位的盈亏（以 quote 计），未平仓时 ok 为 false
func PositionProfit(p models.Position) (profit float64, ok bool) {
	if p.Status != models.StatusClosed || p.Open == nil || p.Close == nil {
		return 0, false
	}
	if p.Context.Action == models.Buy {
		return (p.Close.Price - p.Open.Price) * p.Amount, true
	}
	return (p.Open.Price - p.Close.Price) * p.Amount, true
}

// CalculateMetrics 根据已平仓仓位和权益曲线计算指标
func CalculateMetrics(s *models.Strategy, equityCurve []float64) Metrics {
	m := Metrics{OpenPositions: len(s.Positions)}
	if len(equityCurve) > 0 {
		m.InitialValue = equityCurve[0]
		m.FinalValue = equityCurve[len(equityCurve)-1]
	}

	var totalProfit, totalLoss float64
	for _, p := range s.Closed {
		profit, ok := PositionProfit(p)
		if !ok {
			continue
		}
		m.TotalTrades++
		if profit > 0 {
			m.WinningTrades++
			totalProfit += profit
		} else {
			m.LosingTrades++
			totalLoss += profit
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	m.TotalProfit = m.FinalValue - m.InitialValue
	if m.InitialValue != 0 {
		m.ProfitPercentage = (m.TotalProfit / m.InitialValue) * 100
	}
	m.MaxDrawdown = CalculateMaxDrawdown(equityCurve) * 100
	return m
}

// GenerateReport 打印模拟盘报告
func GenerateReport(logger *zap.Logger, m Metrics, symbol string) {
	t := table.NewWriter()
	t.SetTitle("模拟盘结果报告")
	t.AppendRows([]table.Row{
		{"交易对", symbol},
		{"周期", fmt.Sprintf("%s 到 %s", m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
		{"初始价值", fmt.Sprintf("%.2f", m.InitialValue)},
		{"最终价值", fmt.Sprintf("%.2f", m.FinalValue)},
		{"总利润", fmt.Sprintf("%.2f", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"平仓次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
		{"未平仓仓位", m.OpenPositions},
	})
	logger.Info("\n" + t.Render())
}

// CalculateMaxDrawdown 返回权益曲线的最大回撤比例
func CalculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
