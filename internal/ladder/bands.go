package ladder

import (
	"math/rand"
	"sort"

	"zrx-ladder-bot/internal/models"
)

const (
	// A neighbouring band closer than this share of the band gap to the
	// last price is considered already reached.
	nearBandShare = 0.15
	// ...in which case the range is widened by this share of the gap.
	widenShare = 0.25
)

// Bounds is a closed price interval.
type Bounds struct {
	Min float64
	Max float64
}

// Ranges holds the price range to ladder on each side of the book.
type Ranges struct {
	Bid Bounds
	Ask Bounds
}

// PriceRange picks bid and ask ranges from band levels around lastPrice.
// ok is false when no bands are available.
func PriceRange(bands []float64, lastPrice float64) (Ranges, bool) {
	if len(bands) == 0 {
		return Ranges{}, false
	}
	levels := append([]float64(nil), bands...)
	sort.Float64s(levels)
	lowest, highest := levels[0], levels[len(levels)-1]

	if len(levels) == 1 {
		if lastPrice >= highest {
			return Ranges{Bid: Bounds{highest, highest}, Ask: Bounds{lastPrice, lastPrice}}, true
		}
		return Ranges{Bid: Bounds{lastPrice, lastPrice}, Ask: Bounds{lastPrice, highest}}, true
	}

	switch {
	case lastPrice >= highest:
		return Ranges{
			Bid: Bounds{Min: levels[len(levels)-2], Max: min(highest, lastPrice)},
			Ask: Bounds{Min: lastPrice, Max: lastPrice},
		}, true
	case lastPrice <= lowest:
		return Ranges{
			Bid: Bounds{Min: lastPrice, Max: lastPrice},
			Ask: Bounds{Min: lastPrice, Max: levels[1]},
		}, true
	}

	// a band equal to lastPrice is the ask
	idx := sort.SearchFloat64s(levels, lastPrice)
	currAsk := levels[idx]
	currBid := levels[idx-1]

	gap := currAsk - currBid
	maxAsk := currAsk
	if nearBandShare*gap > currAsk-lastPrice {
		maxAsk = currAsk + widenShare*gap
	}
	minBid := currBid
	if nearBandShare*gap > lastPrice-currBid {
		minBid = currBid - widenShare*gap
	}
	return Ranges{
		Bid: Bounds{Min: minBid, Max: lastPrice},
		Ask: Bounds{Min: lastPrice, Max: maxAsk},
	}, true
}

// BidAskOrders lays count evenly sized orders at random prices within r.
// A zero-width range yields a single order.
func BidAskOrders(r Bounds, count int, total, minAmount float64, buy bool, rnd *rand.Rand) []models.PartialOrder {
	if count <= 0 || total <= 0 {
		return []models.PartialOrder{}
	}
	if r.Min == r.Max {
		return []models.PartialOrder{newOrder(r.Max, max(total, minAmount), buy)}
	}
	amount := max(total/float64(count), minAmount)
	orders := make([]models.PartialOrder, 0, count)
	for i := 0; i < count; i++ {
		orders = append(orders, newOrder(round(OrderPrice(r.Min, r.Max, count, i, rnd), 4), amount, buy))
	}
	return orders
}

// Stepped builds the "multiple" ladder: asks stepping up from a threshold
// above mid and bids stepping down from a threshold below it. Ask amounts
// are in base and bid amounts in quote.
func Stepped(mid float64, cfg models.MultipleOrderConfig, availableBase, availableQuote, minAmount float64) (asks, bids []models.PartialOrder) {
	asks = []models.PartialOrder{}
	bids = []models.PartialOrder{}
	if mid <= 0 {
		return asks, bids
	}

	baseAsk := (1 + cfg.ThresholdFromMid.Ask) * mid
	for i := 0; i < cfg.OrderCount.Ask; i++ {
		amount := WeightForIndex(cfg.AmountIncrease.Ask, cfg.OrderCount.Ask, i, availableBase)
		if amount < minAmount || amount <= 0 {
			continue
		}
		price := round((1+float64(i)*cfg.PriceIncrease.Ask)*baseAsk, 4)
		asks = append(asks, newOrder(price, amount, false))
	}

	baseBid := (1 - cfg.ThresholdFromMid.Bid) * mid
	for i := 0; i < cfg.OrderCount.Bid; i++ {
		amount := WeightForIndex(cfg.AmountIncrease.Bid, cfg.OrderCount.Bid, i, availableQuote)
		if amount < minAmount || amount <= 0 {
			continue
		}
		price := round((1-float64(i)*cfg.PriceIncrease.Bid)*baseBid, 4)
		if price <= 0 {
			continue
		}
		bids = append(bids, newOrder(price, amount, true))
	}
	return asks, bids
}
