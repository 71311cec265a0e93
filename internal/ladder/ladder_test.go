package ladder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zrx-ladder-bot/internal/models"
)

func newRand() *rand.Rand { return rand.New(rand.NewSource(42)) }

func TestScaledSumsToTotal(t *testing.T) {
	for _, dist := range []models.Distribution{models.Flat, models.Ascending, models.Descending} {
		for _, buy := range []bool{true, false} {
			orders := Scaled(ScaledParams{
				PriceLower:   100,
				PriceUpper:   110,
				OrderCount:   5,
				Total:        12.5,
				Distribution: dist,
				PriceNoise:   0.01,
				AmountNoise:  0.05,
				Buy:          buy,
			}, newRand())
			require.Len(t, orders, 5, "dist=%s buy=%v", dist, buy)
			assert.InDelta(t, 12.5, Sum(orders), 1e-9, "dist=%s buy=%v", dist, buy)
		}
	}
}

func TestScaledFlatAmountsEqual(t *testing.T) {
	orders := Scaled(ScaledParams{PriceLower: 100, PriceUpper: 110, OrderCount: 4, Total: 8, Distribution: models.Flat}, nil)
	require.Len(t, orders, 4)
	for _, o := range orders {
		assert.InDelta(t, 2, o.Amount, 1e-9)
	}
}

func TestScaledPricesStepAndSortDescending(t *testing.T) {
	orders := Scaled(ScaledParams{PriceLower: 100, PriceUpper: 110, OrderCount: 2, Total: 10, Distribution: models.Flat}, nil)
	require.Len(t, orders, 2)
	assert.Equal(t, 110.0, orders[0].Price)
	assert.Equal(t, 105.0, orders[1].Price)
	assert.InDelta(t, 110*orders[0].Amount, orders[0].Total, 1e-9)
}

func TestScaledDegenerateRange(t *testing.T) {
	orders := Scaled(ScaledParams{PriceLower: 100, PriceUpper: 100, OrderCount: 3, Total: 0.5, MinAmount: 1}, nil)
	require.Len(t, orders, 1)
	assert.Equal(t, 100.0, orders[0].Price)
	assert.Equal(t, 1.0, orders[0].Amount)

	orders = Scaled(ScaledParams{PriceLower: 100, PriceUpper: 100, OrderCount: 3, Total: 5, MinAmount: 1}, nil)
	require.Len(t, orders, 1)
	assert.Equal(t, 5.0, orders[0].Amount)
}

func TestScaledDropsDust(t *testing.T) {
	orders := Scaled(ScaledParams{PriceLower: 100, PriceUpper: 110, OrderCount: 4, Total: 4, MinAmount: 2}, nil)
	assert.Empty(t, orders)
}

func TestScaledNonFinalOrdersCapped(t *testing.T) {
	// Descending sells weigh the first order by count/2 = 3
	orders := Scaled(ScaledParams{PriceLower: 1, PriceUpper: 2, OrderCount: 6, Total: 6, Distribution: models.Descending}, nil)
	require.NotEmpty(t, orders)
	lowest := orders[len(orders)-1]
	assert.LessOrEqual(t, lowest.Amount, 6*remainingCap)
	assert.InDelta(t, 6, Sum(orders), 1e-9)
}

func TestDistributionWeight(t *testing.T) {
	assert.Equal(t, 1.0, DistributionWeight(4, 3, models.Flat, true))
	assert.Equal(t, 2.0, DistributionWeight(4, 0, models.Ascending, true))
	assert.Equal(t, 0.5, DistributionWeight(4, 0, models.Ascending, false))
	assert.Equal(t, 0.5, DistributionWeight(4, 0, models.Descending, true))
	assert.Equal(t, 2.0, DistributionWeight(4, 0, models.Descending, false))
}

func TestWeightForIndex(t *testing.T) {
	assert.Equal(t, 2.5, WeightForIndex(0, 4, 1, 10))
	// weights 1, 2, 3 over 6
	assert.Equal(t, 1.0, WeightForIndex(1, 3, 0, 6))
	assert.Equal(t, 3.0, WeightForIndex(1, 3, 2, 6))
	assert.Equal(t, 0.0, WeightForIndex(1, 0, 0, 6))
}

func TestOrderPriceStaysInBucket(t *testing.T) {
	rnd := newRand()
	for i := 0; i < 4; i++ {
		p := OrderPrice(100, 140, 4, i, rnd)
		assert.GreaterOrEqual(t, p, 100+float64(i)*10)
		assert.LessOrEqual(t, p, 100+float64(i+1)*10)
	}
}

func TestFromPrices(t *testing.T) {
	orders := FromPrices([]float64{110, 120, 130}, 6, 1, 0, false)
	require.Len(t, orders, 3)
	assert.InDelta(t, 6, Sum(orders), 1e-9)

	single := FromPrices([]float64{110}, 0.1, 0, 1, true)
	require.Len(t, single, 1)
	assert.Equal(t, 1.0, single[0].Amount)

	assert.Empty(t, FromPrices(nil, 5, 0, 0, true))
}

func TestFilterByBudgetGreedy(t *testing.T) {
	orders := []models.PartialOrder{
		{Price: 1, Amount: 6},
		{Price: 2, Amount: 3},
		{Price: 3, Amount: 5},
	}
	bids := FilterByBudget(orders, 10, true)
	// largest first: 6 accepted, 5 rejected, 3 accepted
	require.Len(t, bids, 2)
	assert.Equal(t, 6.0, bids[0].Amount)
	assert.Equal(t, 3.0, bids[1].Amount)

	asks := FilterByBudget(orders, 10, false)
	// smallest first: 3, 5 accepted, 6 rejected
	require.Len(t, asks, 2)
	assert.Equal(t, 3.0, asks[0].Amount)
	assert.Equal(t, 5.0, asks[1].Amount)
}

func TestPriceRange(t *testing.T) {
	bands := []float64{94, 96, 98, 102, 104, 106}

	_, ok := PriceRange(nil, 100)
	assert.False(t, ok)

	top, ok := PriceRange(bands, 107)
	require.True(t, ok)
	assert.Equal(t, Bounds{104, 106}, top.Bid)
	assert.Equal(t, Bounds{107, 107}, top.Ask)

	bottom, ok := PriceRange(bands, 93)
	require.True(t, ok)
	assert.Equal(t, Bounds{93, 93}, bottom.Bid)
	assert.Equal(t, Bounds{93, 96}, bottom.Ask)

	mid, ok := PriceRange(bands, 100)
	require.True(t, ok)
	assert.Equal(t, Bounds{98, 100}, mid.Bid)
	assert.Equal(t, Bounds{100, 102}, mid.Ask)

	// close to the upper band: ask range widened by a quarter of the gap
	near, ok := PriceRange(bands, 101.5)
	require.True(t, ok)
	assert.InDelta(t, 103, near.Ask.Max, 1e-9)
	assert.Equal(t, 98.0, near.Bid.Min)
}

func TestPriceRangeOnBand(t *testing.T) {
	bands := []float64{94, 96, 98, 102, 104, 106}

	// the band at the last price is the ask and the gap to it is zero
	r, ok := PriceRange(bands, 102)
	require.True(t, ok)
	assert.Equal(t, Bounds{98, 102}, r.Bid)
	assert.Equal(t, Bounds{102, 103}, r.Ask)
}

func TestFromPricesStaysWithinBudget(t *testing.T) {
	orders := FromPrices([]float64{1, 2, 3, 4, 5, 6}, 1, 0, 0, false)
	require.Len(t, orders, 6)
	assert.LessOrEqual(t, Sum(orders), 1.0)
	for _, o := range orders {
		assert.Equal(t, 0.1666, o.Amount)
	}
}

func TestFilterByBudgetIsExact(t *testing.T) {
	orders := []models.PartialOrder{
		{Price: 1, Amount: 0.1},
		{Price: 2, Amount: 0.2},
		{Price: 3, Amount: 0.0001},
	}
	asks := FilterByBudget(orders, 0.3, false)
	// 0.0001 and 0.1 fit, 0.2 would overflow by 0.0001
	require.Len(t, asks, 2)
	assert.Equal(t, 0.0001, asks[0].Amount)
	assert.Equal(t, 0.1, asks[1].Amount)

	bids := FilterByBudget(orders, 0.3, true)
	// 0.1 + 0.2 hits the budget exactly
	require.Len(t, bids, 2)
	assert.Equal(t, 0.2, bids[0].Amount)
	assert.Equal(t, 0.1, bids[1].Amount)
}

func TestScaledRoundsBaseShareAndTotals(t *testing.T) {
	// 10/3 rounds to 3.33 for the first two orders, the last takes the rest
	orders := Scaled(ScaledParams{PriceLower: 100, PriceUpper: 130, OrderCount: 3, Total: 10, Distribution: models.Flat, Buy: true}, nil)
	require.Len(t, orders, 3)
	assert.Equal(t, 3.33, orders[2].Amount)
	assert.Equal(t, 3.33, orders[1].Amount)
	assert.InDelta(t, 3.34, orders[0].Amount, 1e-9)
	for _, o := range orders {
		assert.InDelta(t, o.Price*o.Amount, o.Total, 0.01)
		assert.LessOrEqual(t, o.Total, o.Price*o.Amount)
	}
}

func TestBidAskOrders(t *testing.T) {
	orders := BidAskOrders(Bounds{100, 100}, 3, 0.5, 1, false, newRand())
	require.Len(t, orders, 1)
	assert.Equal(t, 1.0, orders[0].Amount)

	orders = BidAskOrders(Bounds{100, 130}, 3, 9, 1, false, newRand())
	require.Len(t, orders, 3)
	for i, o := range orders {
		assert.Equal(t, 3.0, o.Amount)
		assert.GreaterOrEqual(t, o.Price, 100+float64(i)*10-1e-4)
		assert.LessOrEqual(t, o.Price, 100+float64(i+1)*10+1e-4)
	}
}

func TestStepped(t *testing.T) {
	cfg := models.MultipleOrderConfig{
		OrderCount:       models.BidAskCount{Bid: 2, Ask: 2},
		PriceIncrease:    models.BidAsk{Bid: 0.01, Ask: 0.01},
		ThresholdFromMid: models.BidAsk{Bid: 0.02, Ask: 0.02},
	}
	asks, bids := Stepped(100, cfg, 4, 1000, 0.01)
	require.Len(t, asks, 2)
	require.Len(t, bids, 2)
	assert.Equal(t, 102.0, asks[0].Price)
	assert.Equal(t, 103.02, asks[1].Price)
	assert.Equal(t, 2.0, asks[0].Amount)
	assert.Equal(t, 98.0, bids[0].Price)
	assert.Equal(t, 97.02, bids[1].Price)
	assert.Equal(t, 500.0, bids[0].Amount)
	assert.True(t, bids[0].Buy)

	asks, bids = Stepped(0, cfg, 4, 1000, 0.01)
	assert.Empty(t, asks)
	assert.Empty(t, bids)
}
