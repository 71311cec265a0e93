package exchange

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"zrx-ladder-bot/internal/models"
)

// PaperExchangeAddress 是模拟盘使用的交易所合约地址。
const PaperExchangeAddress = "0x61935cbdd02287b511119ddb11aeb42f1593b7ef"

const paperSwapPrefix = "0xpaper"

type paperOrder struct {
	seq       int64
	order     models.SignedOrder
	hash      string
	filled    decimal.Decimal // taker asset filled, base units
	cancelled bool
}

type paperSwap struct {
	sellToken string
	buyToken  string
	sell      decimal.Decimal
	buy       decimal.Decimal
}

// PaperExchange 在内存中模拟 0x 合约、订单簿、钱包和报价接口，用于模拟盘和测试。
// 价格由 SetPrice 推动，挂单按 O->L->H->C 的路径撮合。
type PaperExchange struct {
	mu sync.Mutex

	baseToken  TokenInfo
	quoteToken TokenInfo
	balances   map[string]decimal.Decimal // token address -> base units
	eth        float64

	CurrentPrice float64
	CurrentTime  time.Time

	orders   map[string]*paperOrder
	nextSeq  int64
	swaps    map[string]paperSwap
	receipts map[string]models.TransactionReceipt
	candles  []models.Candle
	// FailTransactions 为 true 时，发送的交易收据状态为 0。
	FailTransactions bool
}

// NewPaperExchange 创建模拟交易所，初始余额以代币单位给出。
func NewPaperExchange(base, quote TokenInfo, cfg models.PaperConfig, price float64, now time.Time) *PaperExchange {
	return &PaperExchange{
		baseToken:  base,
		quoteToken: quote,
		balances: map[string]decimal.Decimal{
			strings.ToLower(base.Address):  models.ToBaseUnit(cfg.BaseBalance),
			strings.ToLower(quote.Address): models.ToBaseUnit(cfg.QuoteBalance),
		},
		eth:          cfg.EthBalance,
		CurrentPrice: price,
		CurrentTime:  now,
		orders:       make(map[string]*paperOrder),
		swaps:        make(map[string]paperSwap),
		receipts:     make(map[string]models.TransactionReceipt),
	}
}

func (e *PaperExchange) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CurrentTime
}

// SetPrice 模拟一根K线的价格变动并撮合挂单。
func (e *PaperExchange) SetPrice(open, high, low, close float64, timestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.CurrentTime = timestamp
	// 按O->L->H->C的路径模拟价格变动
	for _, p := range []float64{open, low, high, close} {
		e.checkLimitOrdersAtPrice(p)
	}
	e.CurrentPrice = close
}

// checkLimitOrdersAtPrice 在已持有锁的情况下调用。
func (e *PaperExchange) checkLimitOrdersAtPrice(price float64) {
	pending := make([]*paperOrder, 0, len(e.orders))
	for _, o := range e.orders {
		if e.isFillable(o) {
			pending = append(pending, o)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	for _, o := range pending {
		limit, buy, ok := e.limitPrice(o.order.Order)
		if !ok {
			continue
		}
		if (buy && price <= limit) || (!buy && price >= limit) {
			e.fill(o, o.order.TakerAssetAmount.Sub(o.filled))
		}
	}
}

// limitPrice 返回订单的 quote/base 价格，以及它是否是买单。
func (e *PaperExchange) limitPrice(o models.Order) (price float64, buy bool, ok bool) {
	if o.MakerAssetAmount.IsZero() || o.TakerAssetAmount.IsZero() {
		return 0, false, false
	}
	switch {
	case models.SameAsset(o.MakerAssetData, e.quoteToken.Address):
		return o.MakerAssetAmount.Div(o.TakerAssetAmount).InexactFloat64(), true, true
	case models.SameAsset(o.MakerAssetData, e.baseToken.Address):
		return o.TakerAssetAmount.Div(o.MakerAssetAmount).InexactFloat64(), false, true
	}
	return 0, false, false
}

func (e *PaperExchange) isFillable(o *paperOrder) bool {
	return !o.cancelled &&
		o.filled.LessThan(o.order.TakerAssetAmount) &&
		e.CurrentTime.Unix() < o.order.ExpirationTimeSeconds
}

// fill 以挂单价成交 takerAmount，maker 付出 makerAsset、收到 takerAsset。
func (e *PaperExchange) fill(o *paperOrder, takerAmount decimal.Decimal) {
	if !takerAmount.IsPositive() {
		return
	}
	ord := o.order.Order
	makerAmount := ord.MakerAssetAmount.Mul(takerAmount).Div(ord.TakerAssetAmount).Truncate(0)
	makerToken, _ := models.DecodeERC20AssetData(ord.MakerAssetData)
	takerToken, _ := models.DecodeERC20AssetData(ord.TakerAssetData)

	e.balances[makerToken] = e.balances[makerToken].Sub(makerAmount)
	e.balances[takerToken] = e.balances[takerToken].Add(takerAmount)
	o.filled = o.filled.Add(takerAmount)
}

// --- Contract ---

func (e *PaperExchange) Address() string { return PaperExchangeAddress }

func (e *PaperExchange) GetOrderRelevantStates(_ context.Context, orders []models.SignedOrder) ([]models.OrderRelevantState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := make([]models.OrderRelevantState, 0, len(orders))
	for _, so := range orders {
		hash, err := OrderHash(so.Order)
		if err != nil {
			return nil, err
		}
		po, ok := e.orders[hash]
		if !ok {
			states = append(states, models.OrderRelevantState{Hash: hash, Status: models.OrderInvalid})
			continue
		}
		st := models.OrderRelevantState{
			Hash:                     hash,
			TakerAssetFilledAmount:   po.filled,
			FillableTakerAssetAmount: po.order.TakerAssetAmount.Sub(po.filled),
		}
		switch {
		case po.cancelled:
			st.Status = models.OrderCancelled
		case po.filled.GreaterThanOrEqual(po.order.TakerAssetAmount):
			st.Status = models.OrderFullyFilled
		case e.CurrentTime.Unix() >= po.order.ExpirationTimeSeconds:
			st.Status = models.OrderExpired
		default:
			st.Status = models.OrderFillable
		}
		if st.Status != models.OrderFillable {
			st.FillableTakerAssetAmount = decimal.Zero
		}
		states = append(states, st)
	}
	return states, nil
}

func (e *PaperExchange) GetOrderHash(_ context.Context, order models.Order) (string, error) {
	return OrderHash(order)
}

func (e *PaperExchange) FillOrder(_ context.Context, order models.SignedOrder, takerAssetFillAmount decimal.Decimal, _ string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash, err := OrderHash(order.Order)
	if err != nil {
		return "", err
	}
	po, ok := e.orders[hash]
	if !ok || !e.isFillable(po) {
		return "", fmt.Errorf("order %s is not fillable", hash)
	}
	remaining := po.order.TakerAssetAmount.Sub(po.filled)
	e.fill(po, decimal.Min(remaining, takerAssetFillAmount))
	return e.receipt(true), nil
}

func (e *PaperExchange) CancelOrdersUpTo(_ context.Context, salt int64, maker string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, po := range e.orders {
		if strings.EqualFold(po.order.MakerAddress, maker) && po.order.Salt < salt {
			po.cancelled = true
		}
	}
	return e.receipt(true), nil
}

func (e *PaperExchange) MarketBuyOrdersFillOrKill(ctx context.Context, orders []models.SignedOrder, makerAssetFillAmount decimal.Decimal, taker string) (string, error) {
	return e.marketFill(orders, makerAssetFillAmount, true)
}

func (e *PaperExchange) MarketSellOrdersFillOrKill(ctx context.Context, orders []models.SignedOrder, takerAssetFillAmount decimal.Decimal, taker string) (string, error) {
	return e.marketFill(orders, takerAssetFillAmount, false)
}

// marketFill 依次吃单直到数量满足；数量不足时整体失败且不改变状态。
func (e *PaperExchange) marketFill(orders []models.SignedOrder, amount decimal.Decimal, byMaker bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	type step struct {
		po    *paperOrder
		taker decimal.Decimal
	}
	var plan []step
	left := amount
	for _, so := range orders {
		if !left.IsPositive() {
			break
		}
		hash, err := OrderHash(so.Order)
		if err != nil {
			return "", err
		}
		po, ok := e.orders[hash]
		if !ok || !e.isFillable(po) {
			continue
		}
		remainingTaker := po.order.TakerAssetAmount.Sub(po.filled)
		takeTaker := remainingTaker
		if byMaker {
			remainingMaker := po.order.MakerAssetAmount.Mul(remainingTaker).Div(po.order.TakerAssetAmount)
			if left.LessThan(remainingMaker) {
				takeTaker = left.Mul(po.order.TakerAssetAmount).Div(po.order.MakerAssetAmount).Truncate(0)
				left = decimal.Zero
			} else {
				left = left.Sub(remainingMaker)
			}
		} else {
			if left.LessThan(remainingTaker) {
				takeTaker = left
			}
			left = left.Sub(takeTaker)
		}
		plan = append(plan, step{po: po, taker: takeTaker})
	}
	if left.IsPositive() {
		return "", fmt.Errorf("fill or kill: %s left unfilled", left.String())
	}
	for _, s := range plan {
		e.fill(s.po, s.taker)
	}
	return e.receipt(true), nil
}

// --- OrderBook ---

func (e *PaperExchange) PostOrder(_ context.Context, order models.SignedOrder) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash, err := OrderHash(order.Order)
	if err != nil {
		return err
	}
	if _, exists := e.orders[hash]; exists {
		return fmt.Errorf("order %s already posted", hash)
	}
	maker, ok := models.DecodeERC20AssetData(order.MakerAssetData)
	if !ok {
		return fmt.Errorf("unsupported maker asset %s", order.MakerAssetData)
	}
	if e.balances[maker].LessThan(order.MakerAssetAmount) {
		return fmt.Errorf("insufficient balance for maker asset %s", maker)
	}
	e.nextSeq++
	e.orders[hash] = &paperOrder{seq: e.nextSeq, order: order, hash: hash, filled: decimal.Zero}
	return nil
}

func (e *PaperExchange) openRecords() []OrderRecord {
	live := make([]*paperOrder, 0, len(e.orders))
	for _, po := range e.orders {
		if e.isFillable(po) {
			live = append(live, po)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	records := make([]OrderRecord, 0, len(live))
	for _, po := range live {
		records = append(records, OrderRecord{
			Order: po.order,
			MetaData: OrderMetaData{
				OrderHash:                    po.hash,
				RemainingFillableTakerAmount: po.order.TakerAssetAmount.Sub(po.filled),
			},
		})
	}
	return records
}

func (e *PaperExchange) GetOrderbook(_ context.Context, baseAssetData, quoteAssetData string) (*Orderbook, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	open := ClassifyOpenOrders(e.openRecords(), baseAssetData, quoteAssetData)
	return &Orderbook{Bids: open.Bids, Asks: open.Asks}, nil
}

func (e *PaperExchange) GetOpenOrders(_ context.Context, maker, baseAssetData, quoteAssetData string) (*OpenOrders, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var mine []OrderRecord
	for _, r := range e.openRecords() {
		if strings.EqualFold(r.Order.MakerAddress, maker) {
			mine = append(mine, r)
		}
	}
	return ClassifyOpenOrders(mine, baseAssetData, quoteAssetData), nil
}

// --- Wallet ---

func (e *PaperExchange) SignOrder(_ context.Context, order models.Order, address string) (models.SignedOrder, error) {
	hash, err := OrderHash(order)
	if err != nil {
		return models.SignedOrder{}, err
	}
	sig := crypto.Keccak256Hash([]byte(hash), []byte(strings.ToLower(address)))
	return models.SignedOrder{Order: order, Signature: sig.Hex()}, nil
}

func (e *PaperExchange) SendTransaction(_ context.Context, tx models.TxData) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	swap, ok := e.swaps[tx.Data]
	if !ok {
		return "", fmt.Errorf("unknown paper transaction %q", tx.Data)
	}
	delete(e.swaps, tx.Data)
	if e.FailTransactions || e.balances[swap.sellToken].LessThan(swap.sell) {
		return e.receipt(false), nil
	}
	e.balances[swap.sellToken] = e.balances[swap.sellToken].Sub(swap.sell)
	e.balances[swap.buyToken] = e.balances[swap.buyToken].Add(swap.buy)
	return e.receipt(true), nil
}

// receipt 记录一笔已上链交易并返回其哈希，在已持有锁的情况下调用。
func (e *PaperExchange) receipt(success bool) string {
	e.nextSeq++
	hash := crypto.Keccak256Hash([]byte("paper-tx"), []byte(strconv.FormatInt(e.nextSeq, 10))).Hex()
	status := 0
	if success {
		status = 1
	}
	e.receipts[hash] = models.TransactionReceipt{
		TransactionHash: hash,
		BlockNumber:     e.nextSeq,
		Status:          status,
		GasUsed:         decimal.NewFromInt(150000),
	}
	return hash
}

func (e *PaperExchange) GetTransactionReceipt(_ context.Context, hash string) (*models.TransactionReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[hash]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (e *PaperExchange) GetBalances(_ context.Context, _ string, tokens []TokenInfo) (models.Balances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := models.Balances{
		Balances:          make(map[string]float64, len(tokens)),
		BalancesByAddress: make(map[string]float64, len(tokens)),
		EthBalance:        e.eth,
	}
	for _, t := range tokens {
		amount := models.ToUnit(e.balances[strings.ToLower(t.Address)])
		out.Balances[t.Symbol] = amount
		out.BalancesByAddress[t.Address] = amount
	}
	return out, nil
}

// --- QuoteSource ---

// GetQuote 以当前价格报价，返回的交易只能发送给本模拟交易所。
func (e *PaperExchange) GetQuote(_ context.Context, req models.QuoteRequest) (*models.Quote, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CurrentPrice <= 0 {
		return nil, fmt.Errorf("no paper price")
	}
	sell := strings.ToLower(req.SellToken)
	buy := strings.ToLower(req.BuyToken)
	price := decimal.NewFromFloat(e.CurrentPrice)

	var buyAmount decimal.Decimal
	var quotePrice float64
	switch {
	case sell == strings.ToLower(e.baseToken.Address) && buy == strings.ToLower(e.quoteToken.Address):
		buyAmount = req.SellAmount.Mul(price).Truncate(0)
		quotePrice = e.CurrentPrice
	case sell == strings.ToLower(e.quoteToken.Address) && buy == strings.ToLower(e.baseToken.Address):
		buyAmount = req.SellAmount.Div(price).Truncate(0)
		quotePrice = 1 / e.CurrentPrice
	default:
		return nil, fmt.Errorf("unsupported pair %s/%s", req.SellToken, req.BuyToken)
	}

	e.nextSeq++
	data := paperSwapPrefix + strconv.FormatInt(e.nextSeq, 10)
	e.swaps[data] = paperSwap{sellToken: sell, buyToken: buy, sell: req.SellAmount, buy: buyAmount}

	gasPrice := req.GasPrice
	if !gasPrice.IsPositive() {
		gasPrice = decimal.NewFromInt(50).Shift(9)
	}
	return &models.Quote{
		TxData: models.TxData{
			From:     req.TakerAddress,
			To:       PaperExchangeAddress,
			Data:     data,
			Value:    decimal.Zero,
			Gas:      decimal.NewFromInt(150000),
			GasPrice: gasPrice,
		},
		Price:           quotePrice,
		GuaranteedPrice: quotePrice,
		BuyAmount:       buyAmount,
		SellAmount:      req.SellAmount,
		ProtocolFee:     decimal.Zero,
		EstimatedGas:    decimal.NewFromInt(150000),
	}, nil
}

// --- CandleSource ---

// LoadCandles 设置回放用的历史K线，按时间升序。
func (e *PaperExchange) LoadCandles(candles []models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candles = append([]models.Candle(nil), candles...)
	sort.Slice(e.candles, func(i, j int) bool { return e.candles[i].Time < e.candles[j].Time })
}

// HistoricalCandles 返回当前模拟时间之前已收盘的K线。
func (e *PaperExchange) HistoricalCandles(_ context.Context, _ string, timeframe models.Timeframe) ([]models.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	width := int64(timeframe.Granularity())
	now := e.CurrentTime.Unix()
	out := make([]models.Candle, 0, len(e.candles))
	for _, c := range e.candles {
		if c.Time+width <= now {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetTicker 返回当前模拟价格。
func (e *PaperExchange) GetTicker(_ context.Context, _ string) (*models.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &models.Ticker{Price: strconv.FormatFloat(e.CurrentPrice, 'f', -1, 64)}, nil
}
