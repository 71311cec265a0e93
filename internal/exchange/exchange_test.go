package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
)

const (
	testBase  = "0x1111111111111111111111111111111111111111"
	testQuote = "0x2222222222222222222222222222222222222222"
	testMaker = "0x3333333333333333333333333333333333333333"
)

func testOrder(makerToken, takerToken string, makerAmount, takerAmount float64, expiration int64, salt int64) models.Order {
	return models.Order{
		ChainID:               1,
		ExchangeAddress:       PaperExchangeAddress,
		MakerAddress:          testMaker,
		TakerAddress:          models.NullAddress,
		SenderAddress:         models.NullAddress,
		FeeRecipientAddress:   models.NullAddress,
		ExpirationTimeSeconds: expiration,
		Salt:                  salt,
		MakerAssetAmount:      models.ToBaseUnit(makerAmount),
		TakerAssetAmount:      models.ToBaseUnit(takerAmount),
		MakerAssetData:        models.EncodeERC20AssetData(makerToken),
		TakerAssetData:        models.EncodeERC20AssetData(takerToken),
		MakerFeeAssetData:     models.NullBytes,
		TakerFeeAssetData:     models.NullBytes,
		MakerFee:              decimal.Zero,
		TakerFee:              decimal.Zero,
	}
}

func TestClassifyOpenOrders(t *testing.T) {
	base := models.EncodeERC20AssetData(testBase)
	quote := models.EncodeERC20AssetData(testQuote)
	other := models.EncodeERC20AssetData("0x4444444444444444444444444444444444444444")

	records := []OrderRecord{
		{Order: models.SignedOrder{Order: models.Order{MakerAssetData: quote, TakerAssetData: base}}},
		{Order: models.SignedOrder{Order: models.Order{MakerAssetData: strings.ToUpper(base), TakerAssetData: quote}}},
		{Order: models.SignedOrder{Order: models.Order{MakerAssetData: other, TakerAssetData: quote}}},
	}
	open := ClassifyOpenOrders(records, base, quote)
	assert.Len(t, open.Bids, 1)
	assert.Len(t, open.Asks, 1)
	assert.Len(t, open.Others, 1)
}

func TestParseAggTrade(t *testing.T) {
	price, ok := parseAggTrade([]byte(`{"e":"aggTrade","s":"ETHUSDT","p":"1850.25","q":"0.5"}`))
	require.True(t, ok)
	assert.Equal(t, 1850.25, price)

	_, ok = parseAggTrade([]byte(`{"e":"aggTrade"}`))
	assert.False(t, ok)
	_, ok = parseAggTrade([]byte(`not json`))
	assert.False(t, ok)
}

func TestCandleFromStrings(t *testing.T) {
	c, err := CandleFromStrings(1700000000, "1", "3", "0.5", "2", "100")
	require.NoError(t, err)
	assert.Equal(t, models.Candle{Time: 1700000000, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 100}, c)

	_, err = CandleFromStrings(0, "x", "1", "1", "1", "1")
	assert.Error(t, err)
}

func TestBinanceInterval(t *testing.T) {
	iv, err := BinanceInterval(models.SixHour)
	require.NoError(t, err)
	assert.Equal(t, "6h", iv)

	_, err = BinanceInterval("weekly")
	assert.Error(t, err)
}

func TestCoinbaseCandlesSortedAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/ETH-USD/candles", r.URL.Path)
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		w.Write([]byte(`[[7200, 9, 12, 10, 11, 5], [3600, 8, 11, 9, 10, 4], [1, 2]]`))
	}))
	defer srv.Close()

	md := NewCoinbaseMarketData(srv.URL, 0, zap.NewNop())
	candles, err := md.HistoricalCandles(context.Background(), "ETH-USD", models.Hour)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(3600), candles[0].Time)
	assert.Equal(t, models.Candle{Time: 7200, Low: 9, High: 12, Open: 10, Close: 11, Volume: 5}, candles[1])

	_, err = md.HistoricalCandles(context.Background(), "ETH-USD", "weekly")
	assert.Error(t, err)
}

func TestRestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":100,"reason":"Validation Failed"}`))
	}))
	defer srv.Close()

	book := NewSRAOrderBook(srv.URL, 1, 0, zap.NewNop())
	err := book.PostOrder(context.Background(), models.SignedOrder{})
	var apiErr *models.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 100, apiErr.Code)
	assert.Equal(t, "Validation Failed", apiErr.Reason)
}

func TestSRAOpenOrders(t *testing.T) {
	base := models.EncodeERC20AssetData(testBase)
	quote := models.EncodeERC20AssetData(testQuote)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sra/v3/orders", r.URL.Path)
		assert.Equal(t, testMaker, r.URL.Query().Get("makerAddress"))
		assert.Equal(t, "1", r.URL.Query().Get("chainId"))
		page := sraPage{Total: 2, Page: 1, PerPage: sraPerPage, Records: []OrderRecord{
			{Order: models.SignedOrder{Order: models.Order{MakerAssetData: base, TakerAssetData: quote}}},
			{Order: models.SignedOrder{Order: models.Order{MakerAssetData: quote, TakerAssetData: base}}},
		}}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	book := NewSRAOrderBook(srv.URL, 1, 0, zap.NewNop())
	open, err := book.GetOpenOrders(context.Background(), testMaker, base, quote)
	require.NoError(t, err)
	assert.Len(t, open.Asks, 1)
	assert.Len(t, open.Bids, 1)
}

func TestGasOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gasoracle", r.URL.Query().Get("action"))
		w.Write([]byte(`{"status":"1","message":"OK","result":{"SafeGasPrice":"20","ProposeGasPrice":"25"}}`))
	}))
	defer srv.Close()

	oracle := NewEtherscanGasOracle(srv.URL, "", 0, zap.NewNop())
	gas, err := oracle.GetGasPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "25", gas.ProposeGasPrice)
}

func TestOrderHash(t *testing.T) {
	o := testOrder(testBase, testQuote, 1, 110, 1700000600, 1)
	h1, err := OrderHash(o)
	require.NoError(t, err)
	assert.Len(t, h1, 66)
	assert.True(t, strings.HasPrefix(h1, "0x"))

	h2, err := OrderHash(o)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	o.Salt = 2
	h3, err := OrderHash(o)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	o.ExchangeAddress = "nope"
	_, err = OrderHash(o)
	assert.Error(t, err)
}

func TestPriceStreamReceivesTrades(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/ethusdt@aggTrade", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"aggTrade","p":"1234.5"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewPriceStream("ws"+strings.TrimPrefix(srv.URL, "http"), "ETHUSDT", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, _, ok := stream.Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	price, _, _ := stream.Latest()
	assert.Equal(t, 1234.5, price)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("price stream did not stop")
	}
}

func newTestPaper(t *testing.T) *PaperExchange {
	t.Helper()
	return NewPaperExchange(
		TokenInfo{Symbol: "WETH", Address: testBase},
		TokenInfo{Symbol: "DAI", Address: testQuote},
		models.PaperConfig{BaseBalance: 10, QuoteBalance: 1000, EthBalance: 1},
		100,
		time.Unix(1700000000, 0),
	)
}

func paperBalances(t *testing.T, p *PaperExchange) models.Balances {
	t.Helper()
	b, err := p.GetBalances(context.Background(), testMaker, []TokenInfo{
		{Symbol: "WETH", Address: testBase},
		{Symbol: "DAI", Address: testQuote},
	})
	require.NoError(t, err)
	return b
}

func TestPaperExchangeFillsRestingOrders(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t)

	sell := testOrder(testBase, testQuote, 1, 110, 1700000600, 1)
	buy := testOrder(testQuote, testBase, 90, 1, 1700000600, 2)
	signedSell, err := p.SignOrder(ctx, sell, testMaker)
	require.NoError(t, err)
	signedBuy, err := p.SignOrder(ctx, buy, testMaker)
	require.NoError(t, err)
	require.NoError(t, p.PostOrder(ctx, signedSell))
	require.NoError(t, p.PostOrder(ctx, signedBuy))
	assert.Error(t, p.PostOrder(ctx, signedSell), "duplicate post")

	book, err := p.GetOrderbook(ctx, sell.MakerAssetData, sell.TakerAssetData)
	require.NoError(t, err)
	assert.Len(t, book.Asks, 1)
	assert.Len(t, book.Bids, 1)

	// 高点触及卖单，低点未触及买单
	p.SetPrice(100, 111, 95, 105, time.Unix(1700000060, 0))

	states, err := p.GetOrderRelevantStates(ctx, []models.SignedOrder{signedSell, signedBuy})
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, models.OrderFullyFilled, states[0].Status)
	assert.Equal(t, models.OrderFillable, states[1].Status)

	b := paperBalances(t, p)
	assert.InDelta(t, 9, b.Balances["WETH"], 1e-9)
	assert.InDelta(t, 1110, b.Balances["DAI"], 1e-9)
	assert.Equal(t, 1.0, b.EthBalance)

	// 过期后买单不再成交
	p.SetPrice(105, 105, 80, 85, time.Unix(1700000700, 0))
	states, err = p.GetOrderRelevantStates(ctx, []models.SignedOrder{signedBuy})
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, states[0].Status)
	assert.InDelta(t, 9, paperBalances(t, p).Balances["WETH"], 1e-9)
}

func TestPaperExchangeRejectsUnfundedOrder(t *testing.T) {
	p := newTestPaper(t)
	o := testOrder(testBase, testQuote, 11, 1100, 1700000600, 1)
	assert.Error(t, p.PostOrder(context.Background(), models.SignedOrder{Order: o}))
}

func TestPaperExchangeUnknownOrderIsInvalid(t *testing.T) {
	p := newTestPaper(t)
	o := testOrder(testBase, testQuote, 1, 110, 1700000600, 1)
	states, err := p.GetOrderRelevantStates(context.Background(), []models.SignedOrder{{Order: o}})
	require.NoError(t, err)
	assert.Equal(t, models.OrderInvalid, states[0].Status)
}

func TestPaperExchangeCancelUpTo(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t)
	o1 := testOrder(testBase, testQuote, 1, 110, 1700000600, 1)
	o2 := testOrder(testBase, testQuote, 1, 120, 1700000600, 5)
	require.NoError(t, p.PostOrder(ctx, models.SignedOrder{Order: o1}))
	require.NoError(t, p.PostOrder(ctx, models.SignedOrder{Order: o2}))

	hash, err := p.CancelOrdersUpTo(ctx, 5, testMaker)
	require.NoError(t, err)
	receipt, err := p.GetTransactionReceipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, 1, receipt.Status)

	states, err := p.GetOrderRelevantStates(ctx, []models.SignedOrder{{Order: o1}, {Order: o2}})
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, states[0].Status)
	assert.Equal(t, models.OrderFillable, states[1].Status)

	open, err := p.GetOpenOrders(ctx, testMaker, o1.MakerAssetData, o1.TakerAssetData)
	require.NoError(t, err)
	assert.Len(t, open.Asks, 1)
}

func TestPaperExchangeMarketFillOrKill(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t)
	o := testOrder(testBase, testQuote, 1, 110, 1700000600, 1)
	signed := models.SignedOrder{Order: o}
	require.NoError(t, p.PostOrder(ctx, signed))

	_, err := p.MarketSellOrdersFillOrKill(ctx, []models.SignedOrder{signed}, models.ToBaseUnit(200), testMaker)
	assert.Error(t, err)
	assert.InDelta(t, 10, paperBalances(t, p).Balances["WETH"], 1e-9)

	_, err = p.MarketSellOrdersFillOrKill(ctx, []models.SignedOrder{signed}, models.ToBaseUnit(55), testMaker)
	require.NoError(t, err)
	b := paperBalances(t, p)
	assert.InDelta(t, 9.5, b.Balances["WETH"], 1e-9)
	assert.InDelta(t, 1055, b.Balances["DAI"], 1e-9)
}

func TestPaperExchangeSwapQuote(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t)

	quote, err := p.GetQuote(ctx, models.QuoteRequest{
		SellToken:  testBase,
		BuyToken:   testQuote,
		SellAmount: models.ToBaseUnit(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, quote.Price)
	assert.True(t, quote.BuyAmount.Equal(models.ToBaseUnit(200)))

	hash, err := p.SendTransaction(ctx, quote.TxData)
	require.NoError(t, err)
	receipt, err := p.GetTransactionReceipt(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1, receipt.Status)

	b := paperBalances(t, p)
	assert.InDelta(t, 8, b.Balances["WETH"], 1e-9)
	assert.InDelta(t, 1200, b.Balances["DAI"], 1e-9)

	_, err = p.SendTransaction(ctx, quote.TxData)
	assert.Error(t, err, "quote can only be executed once")

	missing, err := p.GetTransactionReceipt(ctx, "0xdeadbeef")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaperExchangeFailedTransaction(t *testing.T) {
	ctx := context.Background()
	p := newTestPaper(t)
	p.FailTransactions = true
	quote, err := p.GetQuote(ctx, models.QuoteRequest{SellToken: testQuote, BuyToken: testBase, SellAmount: models.ToBaseUnit(100)})
	require.NoError(t, err)
	hash, err := p.SendTransaction(ctx, quote.TxData)
	require.NoError(t, err)
	receipt, err := p.GetTransactionReceipt(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.Status)
	assert.InDelta(t, 1000, paperBalances(t, p).Balances["DAI"], 1e-9)
}

func TestPaperExchangeCandleReplay(t *testing.T) {
	p := newTestPaper(t)
	start := int64(1700000000)
	p.LoadCandles([]models.Candle{
		{Time: start - 3600, Close: 2},
		{Time: start - 7200, Close: 1},
		{Time: start, Close: 3},
	})
	candles, err := p.HistoricalCandles(context.Background(), "", models.Hour)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.0, candles[0].Close)

	ticker, err := p.GetTicker(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "100", ticker.Price)
}
