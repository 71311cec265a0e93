package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"zrx-ladder-bot/internal/models"
)

// Contract 是 0x 交易所合约的调用约定。
type Contract interface {
	Address() string
	GetOrderRelevantStates(ctx context.Context, orders []models.SignedOrder) ([]models.OrderRelevantState, error)
	GetOrderHash(ctx context.Context, order models.Order) (string, error)
	FillOrder(ctx context.Context, order models.SignedOrder, takerAssetFillAmount decimal.Decimal, taker string) (string, error)
	CancelOrdersUpTo(ctx context.Context, salt int64, maker string) (string, error)
	MarketBuyOrdersFillOrKill(ctx context.Context, orders []models.SignedOrder, makerAssetFillAmount decimal.Decimal, taker string) (string, error)
	MarketSellOrdersFillOrKill(ctx context.Context, orders []models.SignedOrder, takerAssetFillAmount decimal.Decimal, taker string) (string, error)
}

// OrderRecord 是订单簿 API 返回的单条订单。
type OrderRecord struct {
	Order    models.SignedOrder `json:"order"`
	MetaData OrderMetaData      `json:"metaData"`
}

// OrderMetaData 是订单簿为每条订单附带的元数据。
type OrderMetaData struct {
	OrderHash                    string          `json:"orderHash"`
	RemainingFillableTakerAmount decimal.Decimal `json:"remainingFillableTakerAssetAmount"`
}

// Orderbook 是一个交易对的买卖盘。
type Orderbook struct {
	Bids []OrderRecord `json:"bids"`
	Asks []OrderRecord `json:"asks"`
}

// OpenOrders 按交易对方向归类某地址的挂单。
type OpenOrders struct {
	Bids   []OrderRecord
	Asks   []OrderRecord
	Others []OrderRecord
}

// OrderBook 是 0x 标准中继 (SRA) 订单簿的调用约定。
type OrderBook interface {
	GetOrderbook(ctx context.Context, baseAssetData, quoteAssetData string) (*Orderbook, error)
	PostOrder(ctx context.Context, order models.SignedOrder) error
	GetOpenOrders(ctx context.Context, maker, baseAssetData, quoteAssetData string) (*OpenOrders, error)
}

// QuoteSource 返回可直接发送的兑换交易报价。
type QuoteSource interface {
	GetQuote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error)
}

// CandleSource 提供历史K线和最新价格。
type CandleSource interface {
	HistoricalCandles(ctx context.Context, symbol string, timeframe models.Timeframe) ([]models.Candle, error)
	GetTicker(ctx context.Context, symbol string) (*models.Ticker, error)
}

// GasOracle 提供当前的 gas 价格。
type GasOracle interface {
	GetGasPrices(ctx context.Context) (*models.GasPrices, error)
}

// Wallet 负责签名、发送交易以及查询余额。
type Wallet interface {
	SignOrder(ctx context.Context, order models.Order, address string) (models.SignedOrder, error)
	SendTransaction(ctx context.Context, tx models.TxData) (string, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*models.TransactionReceipt, error)
	GetBalances(ctx context.Context, address string, tokens []TokenInfo) (models.Balances, error)
}

// TokenInfo 标识余额查询中的一个代币。
type TokenInfo struct {
	Symbol  string
	Address string
}

// Clock 允许在模拟盘中替换当前时间。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 返回真实时间。
var SystemClock Clock = systemClock{}
