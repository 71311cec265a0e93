package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/models"
)

// 币安单次请求最多1000条
const pageSize = 1000

var header = []string{"time", "open", "high", "low", "close", "volume"}

// fetchFunc 下载从 start（毫秒）开始的一页K线。
type fetchFunc func(ctx context.Context, symbol, interval string, start int64) ([]*binance.Kline, error)

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	fetch  fetchFunc
	pause  time.Duration // 两次请求之间的间隔，避免过于频繁的请求
	logger *zap.Logger
}

// NewKlineDownloader 创建一个新的下载器实例
func NewKlineDownloader(logger *zap.Logger) *KlineDownloader {
	client := binance.NewClient("", "") // 公共接口不需要API Key
	return &KlineDownloader{
		fetch: func(ctx context.Context, symbol, interval string, start int64) ([]*binance.Kline, error) {
			return client.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(start).
				Limit(pageSize).
				Do(ctx)
		},
		pause:  200 * time.Millisecond,
		logger: logger,
	}
}

// DownloadKlines 下载指定交易对、周期和时间范围内的K线数据，并保存到CSV文件。
// 如果文件已存在，则会跳过下载，直接使用缓存。
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol string, timeframe models.Timeframe, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("从缓存加载数据", zap.String("file", filePath))
		return nil
	}
	interval, err := exchange.BinanceInterval(timeframe)
	if err != nil {
		return err
	}
	d.logger.Info("开始下载K线数据", zap.String("symbol", symbol), zap.String("interval", interval),
		zap.String("from", startTime.Format("2006-01-02")), zap.String("to", endTime.Format("2006-01-02")))

	var candles []models.Candle
	for t := startTime; t.Before(endTime); {
		klines, err := d.fetch(ctx, symbol, interval, t.UnixMilli())
		if err != nil {
			return fmt.Errorf("下载K线数据失败: %w", err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			if k.OpenTime >= endTime.UnixMilli() {
				break
			}
			c, err := exchange.CandleFromStrings(k.OpenTime/1000, k.Open, k.High, k.Low, k.Close, k.Volume)
			if err != nil {
				return err
			}
			candles = append(candles, c)
		}

		// 更新下一次请求的开始时间
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("已下载数据", zap.Time("until", t))
		if d.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.pause):
			}
		}
	}

	if err := WriteCandles(filePath, candles); err != nil {
		return err
	}
	d.logger.Info("成功下载K线数据", zap.String("file", filePath), zap.Int("candles", len(candles)))
	return nil
}

// WriteCandles 把K线写入CSV文件，必要时创建目录。
func WriteCandles(filePath string, candles []models.Candle) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("无法创建目录 %s: %w", dir, err)
	}
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建文件 %s: %w", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range candles {
		record := []string{strconv.FormatInt(c.Time, 10), f(c.Open), f(c.High), f(c.Low), f(c.Close), f(c.Volume)}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("写入CSV记录失败: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadCandles 读取 WriteCandles 写出的CSV文件，按文件顺序返回K线。无法解析的行会被跳过。
func ReadCandles(filePath string, logger *zap.Logger) ([]models.Candle, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开历史数据文件: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("历史数据文件 %s 为空", filePath)
		}
		return nil, err
	}

	var candles []models.Candle
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取CSV记录失败: %w", err)
		}
		ts, errT := strconv.ParseInt(record[0], 10, 64)
		c, errC := exchange.CandleFromStrings(ts, record[1], record[2], record[3], record[4], record[5])
		if errT != nil || errC != nil {
			logger.Warn("无法解析K线数据，跳过此条记录", zap.Strings("record", record))
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}
