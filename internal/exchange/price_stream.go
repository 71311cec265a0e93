package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
)

const (
	DefaultBinanceWSURL = "wss://stream.binance.com:9443"

	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait
	reconnectDelay = 5 * time.Second
)

// PriceStream 订阅币安 aggTrade 流，保存最新成交价。
type PriceStream struct {
	wsBaseURL string
	symbol    string
	logger    *zap.Logger

	mu      sync.RWMutex
	price   float64
	updated time.Time
}

func NewPriceStream(wsBaseURL, symbol string, logger *zap.Logger) *PriceStream {
	if wsBaseURL == "" {
		wsBaseURL = DefaultBinanceWSURL
	}
	return &PriceStream{wsBaseURL: wsBaseURL, symbol: symbol, logger: logger}
}

// Latest 返回最新价格及其更新时间；尚未收到数据时 ok 为 false。
func (s *PriceStream) Latest() (price float64, at time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, s.updated, !s.updated.IsZero()
}

func (s *PriceStream) setPrice(price float64, at time.Time) {
	s.mu.Lock()
	s.price = price
	s.updated = at
	s.mu.Unlock()
}

// Run 负责维持WebSocket的连接和重连，直到 ctx 结束。
func (s *PriceStream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("WebSocket循环已停止。")
			return
		default:
		}

		conn, err := s.connect(ctx)
		if err != nil {
			s.logger.Warn("WebSocket连接失败，5秒后重试", zap.Error(err))
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}

		s.logger.Info("WebSocket连接成功。", zap.String("symbol", s.symbol))
		// handleMessages 会阻塞直到连接断开
		if err := s.handleMessages(ctx, conn); err != nil {
			s.logger.Warn("WebSocket处理时发生错误", zap.Error(err))
		}
		conn.Close()
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func (s *PriceStream) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", s.wsBaseURL, strings.ToLower(s.symbol))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket连接失败: %w", err)
	}
	return conn, nil
}

// handleMessages 为一个已建立的连接处理消息，并实现心跳机制
func (s *PriceStream) handleMessages(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					s.logger.Warn("发送Ping失败", zap.Error(err))
					return
				}
			case <-ctx.Done():
				// 优雅关闭，ReadMessage 随后返回错误
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-pingStop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("读取消息失败: %w", err)
		}
		price, ok := parseAggTrade(message)
		if !ok {
			s.logger.Debug("解析价格信息失败", zap.ByteString("message", message))
			continue
		}
		s.setPrice(price, time.Now())
	}
}

// parseAggTrade 取出 aggTrade 消息中的成交价 "p"。
func parseAggTrade(message []byte) (float64, bool) {
	var trade struct {
		Price json.Number `json:"p"`
	}
	if err := json.Unmarshal(message, &trade); err != nil || trade.Price == "" {
		return 0, false
	}
	price, err := trade.Price.Float64()
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// StreamingCandles 用实时价格覆盖底层数据源的 GetTicker，价格过期时回退到底层数据源。
type StreamingCandles struct {
	CandleSource
	stream *PriceStream
	maxAge time.Duration
}

func NewStreamingCandles(source CandleSource, stream *PriceStream, maxAge time.Duration) *StreamingCandles {
	return &StreamingCandles{CandleSource: source, stream: stream, maxAge: maxAge}
}

func (s *StreamingCandles) GetTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	if price, at, ok := s.stream.Latest(); ok && time.Since(at) <= s.maxAge {
		return &models.Ticker{Price: strconv.FormatFloat(price, 'f', -1, 64)}, nil
	}
	return s.CandleSource.GetTicker(ctx, symbol)
}
