package engine

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/persistence"
	"zrx-ladder-bot/internal/storage"
	"zrx-ladder-bot/internal/strategy"
)

const (
	testBase  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	testQuote = "0x6b175474e89094c44da98b954eedeac495271d0f"
	testMaker = "0x1111111111111111111111111111111111111111"
)

var t0 = time.Unix(1700000000, 0)

type recordingJournal struct {
	events []storage.Event
}

func (j *recordingJournal) Record(_ context.Context, events []storage.Event) error {
	j.events = append(j.events, events...)
	return nil
}

func (j *recordingJournal) Close() error { return nil }

// racingRepo lets a test slip a concurrent write in front of the next Save.
type racingRepo struct {
	*persistence.MemoryRepository
	beforeSave func()
}

func (r *racingRepo) Save(s *models.Strategy) error {
	if f := r.beforeSave; f != nil {
		r.beforeSave = nil
		f()
	}
	return r.MemoryRepository.Save(s)
}

type failingContract struct {
	exchange.Contract
}

func (failingContract) GetOrderRelevantStates(context.Context, []models.SignedOrder) ([]models.OrderRelevantState, error) {
	return nil, errors.New("rpc unavailable")
}

func newPaper(base, quote, price float64) *exchange.PaperExchange {
	return exchange.NewPaperExchange(
		exchange.TokenInfo{Symbol: "WETH", Address: testBase},
		exchange.TokenInfo{Symbol: "DAI", Address: testQuote},
		models.PaperConfig{BaseBalance: base, QuoteBalance: quote, EthBalance: 1},
		price,
		t0,
	)
}

func newProvider(paper *exchange.PaperExchange) *strategy.Provider {
	return &strategy.Provider{
		Candles:    paper,
		Quotes:     paper,
		Symbol:     "ETH-DAI",
		Timeframe:  models.Hour,
		BaseToken:  testBase,
		QuoteToken: testQuote,
		Taker:      testMaker,
		MinBase:    0.01,
		MinQuote:   1,
		Rand:       rand.New(rand.NewSource(1)),
	}
}

func strategySettings(maxOpen int, percent float64, expiration int64, cfg models.OpenStrategyConfig) Settings {
	return Settings{
		InstanceKey: "test-instance",
		Address:     testMaker,
		ChainID:     1,
		Strategy: models.StrategySettings{
			BaseToken:           testBase,
			QuoteToken:          testQuote,
			BaseSymbol:          "WETH",
			QuoteSymbol:         "DAI",
			IntervalSeconds:     60,
			ExpirationSeconds:   expiration,
			PositionPercent:     percent,
			PositionSize:        0.5,
			MinBaseOrderAmount:  0.01,
			MinQuoteOrderAmount: 1,
			MaxOpenPositions:    maxOpen,
			OpenStrategy:        models.OpenStrategy{Config: cfg},
		},
	}
}

var sellBand = models.ScaledOrderConfig{
	Sell:         &models.ScaledSide{PriceLower: 100, PriceUpper: 110, OrderCount: 2},
	Distribution: models.Flat,
}

type marketMakerFixture struct {
	engine  *MarketMakerEngine
	paper   *exchange.PaperExchange
	repo    *racingRepo
	journal *recordingJournal
}

func newMarketMaker(t *testing.T, paper *exchange.PaperExchange, settings Settings) marketMakerFixture {
	t.Helper()
	provider := newProvider(paper)
	open, err := strategy.NewOpenStrategy(settings.Strategy.OpenStrategy.Config, provider)
	require.NoError(t, err)
	repo := &racingRepo{MemoryRepository: persistence.NewMemoryRepository()}
	journal := &recordingJournal{}
	e := NewMarketMakerEngine(settings, MarketMakerDeps{
		Repo:     repo,
		Contract: paper,
		Book:     paper,
		Wallet:   paper,
		Open:     open,
		Close:    strategy.NewProfitableClose(provider, 0.01, zap.NewNop()),
		Journal:  journal,
		Clock:    paper,
	}, zap.NewNop())
	return marketMakerFixture{engine: e, paper: paper, repo: repo, journal: journal}
}

func (f marketMakerFixture) stored(t *testing.T) *models.Strategy {
	t.Helper()
	s, err := f.repo.Get(f.engine.InstanceKey())
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestMarketMakerOpensLadderFromUnallocatedBase(t *testing.T) {
	ctx := context.Background()
	f := newMarketMaker(t, newPaper(10, 0, 100), strategySettings(5, 0, 3600, sellBand))

	require.NoError(t, f.engine.Tick(ctx))

	s := f.stored(t)
	require.Len(t, s.Positions, 2)
	total := 0.0
	for _, p := range s.Positions {
		assert.Equal(t, models.StatusPending, p.Status)
		assert.Equal(t, models.Sell, p.Context.Action)
		require.NotNil(t, p.PendingOrder)
		assert.Equal(t, p.Open.Hash, p.PendingOrder.OrderHash)
		total += p.Amount
	}
	assert.LessOrEqual(t, total, 10.0+1e-9)
	assert.Equal(t, int64(2), s.Version)

	open, err := f.paper.GetOpenOrders(ctx, testMaker, models.EncodeERC20AssetData(testBase), models.EncodeERC20AssetData(testQuote))
	require.NoError(t, err)
	assert.Len(t, open.Asks, 2)
	assert.Empty(t, open.Bids)

	require.Len(t, f.journal.events, 2)
	assert.Equal(t, models.StatusPending, f.journal.events[0].Status)
}

func TestMarketMakerStopsAtMaxOpenPositions(t *testing.T) {
	ctx := context.Background()
	f := newMarketMaker(t, newPaper(10, 0, 100), strategySettings(2, 0.5, 3600, sellBand))

	require.NoError(t, f.engine.Tick(ctx))
	require.Len(t, f.stored(t).Positions, 2)

	// half the base is still free, but the position cap is reached
	require.NoError(t, f.engine.Tick(ctx))
	s := f.stored(t)
	assert.Len(t, s.Positions, 2)
	assert.Equal(t, int64(3), s.Version)
	assert.Len(t, f.journal.events, 2)
}

func TestMarketMakerRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newMarketMaker(t, newPaper(10, 0, 100), strategySettings(5, 0, 3600, sellBand))
	require.NoError(t, f.engine.Tick(ctx))

	// the 105 ask fills, the 110 ask keeps resting
	f.paper.SetPrice(106, 106, 104, 106, t0.Add(time.Minute))
	require.NoError(t, f.engine.Tick(ctx))

	s := f.stored(t)
	require.Len(t, s.Positions, 2)
	var opened *models.Position
	for i := range s.Positions {
		if s.Positions[i].Status == models.StatusOpen {
			opened = &s.Positions[i]
		}
	}
	require.NotNil(t, opened)
	assert.InDelta(t, 105, opened.Open.Price, 1e-9)
	require.NotNil(t, opened.PendingOrder, "close order attached")
	assert.InDelta(t, 103.95, opened.PendingOrder.Price, 1e-9)
	assert.True(t, models.SameAsset(opened.PendingOrder.Order.MakerAssetData, testQuote))

	// the buy to close fills
	f.paper.SetPrice(103, 103, 103, 103, t0.Add(2*time.Minute))
	require.NoError(t, f.engine.Tick(ctx))

	s = f.stored(t)
	require.Len(t, s.Closed, 1)
	closed := s.Closed[0]
	assert.Equal(t, models.StatusClosed, closed.Status)
	assert.Nil(t, closed.PendingOrder)
	require.NotNil(t, closed.Close)
	assert.InDelta(t, 103.95, closed.Close.Price, 1e-9)
	// the 110 ask still rests; the returned base is laddered again
	require.Len(t, s.Positions, 3)
	assert.InDelta(t, 110, s.Positions[0].Open.Price, 1e-9)
	for _, p := range s.Positions {
		assert.Equal(t, models.StatusPending, p.Status)
	}

	balances, err := f.paper.GetBalances(ctx, testMaker, []exchange.TokenInfo{{Symbol: "WETH", Address: testBase}, {Symbol: "DAI", Address: testQuote}})
	require.NoError(t, err)
	assert.InDelta(t, 10, balances.Balances["WETH"], 1e-9)
	assert.InDelta(t, 5.25, balances.Balances["DAI"], 1e-6)

	require.Len(t, f.journal.events, 6)
	assert.Equal(t, models.StatusOpen, f.journal.events[2].Status)
	assert.Equal(t, models.StatusClosed, f.journal.events[3].Status)
	assert.Equal(t, closed.ID, f.journal.events[3].PositionID)
}

func TestMarketMakerRequotesExpiredOpenOrders(t *testing.T) {
	ctx := context.Background()
	f := newMarketMaker(t, newPaper(10, 0, 100), strategySettings(2, 0, 60, sellBand))
	require.NoError(t, f.engine.Tick(ctx))
	first := f.stored(t).Positions
	require.Len(t, first, 2)

	f.paper.SetPrice(100, 100, 100, 100, t0.Add(2*time.Minute))
	require.NoError(t, f.engine.Tick(ctx))

	s := f.stored(t)
	require.Len(t, s.Positions, 2, "the re-quoted orders lock the base again")
	for i, p := range s.Positions {
		assert.Equal(t, first[i].ID, p.ID)
		assert.Equal(t, models.StatusPending, p.Status)
		assert.Len(t, p.ExpiredOrders, 1)
		require.NotNil(t, p.PendingOrder)
		assert.NotEqual(t, first[i].PendingOrder.OrderHash, p.PendingOrder.OrderHash)
		assert.Equal(t, first[i].Open.Price, p.PendingOrder.Price)
		assert.Equal(t, p.PendingOrder.OrderHash, p.Open.Hash)
		assert.Equal(t, first[i].PendingOrder.Order.MakerAssetAmount.String(), p.PendingOrder.Order.MakerAssetAmount.String())
	}
	open, err := f.paper.GetOpenOrders(ctx, testMaker, models.EncodeERC20AssetData(testBase), models.EncodeERC20AssetData(testQuote))
	require.NoError(t, err)
	assert.Len(t, open.Asks, 2)

	// the re-quoted asks still fill
	f.paper.SetPrice(111, 111, 111, 111, t0.Add(150*time.Second))
	require.NoError(t, f.engine.Tick(ctx))
	for _, p := range f.stored(t).Positions {
		assert.Equal(t, models.StatusOpen, p.Status)
		require.NotNil(t, p.PendingOrder, "close order attached")
	}
}

func TestMarketMakerStaleSaveFailsTick(t *testing.T) {
	ctx := context.Background()
	f := newMarketMaker(t, newPaper(10, 0, 100), strategySettings(5, 0, 3600, sellBand))
	f.repo.beforeSave = func() {
		other, err := f.repo.Get(f.engine.InstanceKey())
		require.NoError(t, err)
		require.NoError(t, f.repo.MemoryRepository.Save(other))
	}

	err := f.engine.Tick(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrStaleStrategy))

	s := f.stored(t)
	assert.Empty(t, s.Positions)
	assert.Equal(t, int64(2), s.Version)
	assert.Empty(t, f.journal.events)

	// the next tick starts from the stored document and succeeds
	require.NoError(t, f.engine.Tick(ctx))
	assert.Equal(t, int64(3), f.stored(t).Version)
}

func TestMarketMakerKeepsPositionsWhenStatesUnavailable(t *testing.T) {
	ctx := context.Background()
	paper := newPaper(10, 0, 100)
	f := newMarketMaker(t, paper, strategySettings(5, 0, 3600, sellBand))
	require.NoError(t, f.engine.Tick(ctx))

	f.engine.contract = failingContract{Contract: paper}
	paper.SetPrice(106, 106, 104, 106, t0.Add(time.Minute))
	require.NoError(t, f.engine.Tick(ctx))

	for _, p := range f.stored(t).Positions {
		assert.Equal(t, models.StatusPending, p.Status)
		assert.NotNil(t, p.PendingOrder)
	}
}

func TestDefaultInstanceKey(t *testing.T) {
	e := NewMarketMakerEngine(Settings{}, MarketMakerDeps{Repo: persistence.NewMemoryRepository()}, nil)
	assert.True(t, strings.HasPrefix(e.InstanceKey(), "MarketMakerEngine-"))
	other := NewMarketMakerEngine(Settings{}, MarketMakerDeps{Repo: persistence.NewMemoryRepository()}, nil)
	assert.NotEqual(t, e.InstanceKey(), other.InstanceKey())
}

// hourlyCandles returns n closed candles ending at t0, alternating 99 and 101.
func hourlyCandles(n int) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		c := 99.0
		if i%2 == 1 {
			c = 101
		}
		candles[i] = models.Candle{
			Time:  t0.Unix() - int64(n-i)*3600,
			Open:  c,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return candles
}

type traderFixture struct {
	engine  *TradingEngine
	paper   *exchange.PaperExchange
	repo    *persistence.MemoryRepository
	journal *recordingJournal
}

func newTrader(t *testing.T, paper *exchange.PaperExchange) traderFixture {
	t.Helper()
	paper.LoadCandles(hourlyCandles(30))
	provider := newProvider(paper)
	cfg := models.BollingerBandConfig{Period: 20, StdDev: 2, Field: models.FieldClose}
	trader, err := strategy.NewTradingStrategy(cfg, provider)
	require.NoError(t, err)
	repo := persistence.NewMemoryRepository()
	journal := &recordingJournal{}
	e := NewTradingEngine(strategySettings(1, 0, 3600, cfg), TradingDeps{
		Repo:    repo,
		Wallet:  paper,
		Trader:  trader,
		Close:   strategy.NewProfitableClose(provider, 0.01, zap.NewNop()),
		Journal: journal,
		Clock:   paper,
	}, zap.NewNop())
	return traderFixture{engine: e, paper: paper, repo: repo, journal: journal}
}

func (f traderFixture) stored(t *testing.T) *models.Strategy {
	t.Helper()
	s, err := f.repo.Get(f.engine.InstanceKey())
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestTraderBuysBelowLowerBandAndClosesInProfit(t *testing.T) {
	ctx := context.Background()
	f := newTrader(t, newPaper(0, 1000, 80))

	require.NoError(t, f.engine.Tick(ctx))
	s := f.stored(t)
	require.Len(t, s.Positions, 1)
	p := s.Positions[0]
	assert.Equal(t, models.StatusOpening, p.Status)
	assert.Equal(t, models.TypeLive, p.Type)
	assert.Equal(t, models.Buy, p.Context.Action)
	assert.InDelta(t, 6.25, p.Amount, 1e-9)
	assert.InDelta(t, 80, p.Open.Price, 1e-9)

	require.NoError(t, f.engine.Tick(ctx))
	p = f.stored(t).Positions[0]
	assert.Equal(t, models.StatusOpen, p.Status)
	require.NotNil(t, p.Open.Receipt)

	// no profit at the entry price
	require.NoError(t, f.engine.Tick(ctx))
	assert.Equal(t, models.StatusOpen, f.stored(t).Positions[0].Status)

	f.paper.SetPrice(100, 100, 100, 100, t0.Add(time.Hour))
	require.NoError(t, f.engine.Tick(ctx))
	p = f.stored(t).Positions[0]
	assert.Equal(t, models.StatusClosing, p.Status)
	require.NotNil(t, p.Close)
	assert.InDelta(t, 100, p.Close.Price, 1e-9)

	require.NoError(t, f.engine.Tick(ctx))
	s = f.stored(t)
	assert.Empty(t, s.Positions)
	require.Len(t, s.Closed, 1)
	assert.Equal(t, models.StatusClosed, s.Closed[0].Status)

	balances, err := f.paper.GetBalances(ctx, testMaker, []exchange.TokenInfo{{Symbol: "WETH", Address: testBase}, {Symbol: "DAI", Address: testQuote}})
	require.NoError(t, err)
	assert.InDelta(t, 0, balances.Balances["WETH"], 1e-9)
	assert.InDelta(t, 1125, balances.Balances["DAI"], 1e-6)

	statuses := make([]models.PositionStatus, 0, len(f.journal.events))
	for _, e := range f.journal.events {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []models.PositionStatus{models.StatusOpening, models.StatusOpen, models.StatusClosing, models.StatusClosed}, statuses)
}

func TestTraderMarksFailedTransaction(t *testing.T) {
	ctx := context.Background()
	paper := newPaper(0, 1000, 80)
	paper.FailTransactions = true
	f := newTrader(t, paper)

	require.NoError(t, f.engine.Tick(ctx))
	require.NoError(t, f.engine.Tick(ctx))

	s := f.stored(t)
	require.Len(t, s.Positions, 1)
	assert.Equal(t, models.StatusFailed, s.Positions[0].Status)
	require.NotNil(t, s.Positions[0].Open.Receipt)
	assert.Equal(t, 0, s.Positions[0].Open.Receipt.Status)
}

func TestTraderWaitsInsideBands(t *testing.T) {
	ctx := context.Background()
	f := newTrader(t, newPaper(0, 1000, 100))

	require.NoError(t, f.engine.Tick(ctx))
	s := f.stored(t)
	assert.Empty(t, s.Positions)
	assert.Empty(t, f.journal.events)
}
