// Package ladder spreads an amount across a ladder of priced order intents.
package ladder

import (
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"zrx-ladder-bot/internal/models"
)

// Non-final orders may take at most this share of what is still unallocated.
const remainingCap = 0.8

// ScaledParams describes one side of a range-based ladder.
type ScaledParams struct {
	PriceLower   float64
	PriceUpper   float64
	OrderCount   int
	Total        float64 // base amount for sells, quote amount for buys
	MinAmount    float64
	Distribution models.Distribution
	PriceNoise   float64
	AmountNoise  float64
	Buy          bool
}

// DistributionWeight returns the amount multiplier for the order at index.
// Ascending ladders weigh buys toward the low end and sells toward the high
// end; descending does the opposite.
func DistributionWeight(total, index int, dist models.Distribution, buy bool) float64 {
	if dist == models.Flat || dist == "" {
		return 1
	}
	half := float64(total) / 2
	weight := half / float64(index+1)
	inverse := float64(index+1) / half
	switch dist {
	case models.Ascending:
		if buy {
			return weight
		}
		return inverse
	case models.Descending:
		if buy {
			return inverse
		}
		return weight
	}
	return 1
}

// Scaled generates p.OrderCount orders between p.PriceLower and
// p.PriceUpper whose amounts sum to p.Total. Orders smaller than
// p.MinAmount are dropped. The result is sorted by price, highest first.
func Scaled(p ScaledParams, rnd *rand.Rand) []models.PartialOrder {
	if p.OrderCount <= 0 || p.Total <= 0 {
		return []models.PartialOrder{}
	}
	if p.PriceLower == p.PriceUpper {
		return []models.PartialOrder{newOrder(p.PriceLower, max(p.Total, p.MinAmount), p.Buy)}
	}

	step := (p.PriceUpper - p.PriceLower) / float64(p.OrderCount)
	base := round(p.Total/float64(p.OrderCount), 2)
	remaining := p.Total
	orders := make([]models.PartialOrder, 0, p.OrderCount)

	for i := 0; i < p.OrderCount; i++ {
		price := round(p.PriceLower+step*float64(i+1)*noise(rnd, p.PriceNoise), 4)

		var amount float64
		if i == p.OrderCount-1 {
			amount = remaining
		} else {
			generated := base * noise(rnd, p.AmountNoise) * DistributionWeight(p.OrderCount, i, p.Distribution, p.Buy)
			amount = floor(min(generated, remaining*remainingCap), 2)
		}
		remaining -= amount

		if amount < p.MinAmount || amount <= 0 {
			continue
		}
		orders = append(orders, newOrder(price, amount, p.Buy))
	}

	SortByPriceDesc(orders)
	return orders
}

// OrderPrice draws a random price inside the index-th of count equal
// buckets of [lower, upper].
func OrderPrice(lower, upper float64, count, index int, rnd *rand.Rand) float64 {
	if count <= 0 {
		return lower
	}
	size := (upper - lower) / float64(count)
	lo := lower + float64(index)*size
	hi := min(lower+float64(index+1)*size, upper)
	return lo + rnd.Float64()*(hi-lo)
}

// WeightForIndex splits total over count orders with linearly growing
// weights 1, 1+increase, 1+2·increase, ... and returns the share of index,
// truncated to 4 decimals so the shares never sum past total.
func WeightForIndex(increase float64, count, index int, total float64) float64 {
	if count <= 0 {
		return 0
	}
	totalWeight := 0.0
	for i := 0; i < count; i++ {
		totalWeight += 1 + float64(i)*increase
	}
	if totalWeight == 0 {
		return 0
	}
	return floor((1+float64(index)*increase)*total/totalWeight, 4)
}

// FromPrices builds one order per explicit price, weights amounts with
// WeightForIndex, drops orders below minAmount and keeps only what fits
// the budget.
func FromPrices(prices []float64, total, increase, minAmount float64, buy bool) []models.PartialOrder {
	if len(prices) == 0 || total <= 0 {
		return []models.PartialOrder{}
	}
	if len(prices) == 1 {
		return []models.PartialOrder{newOrder(prices[0], max(total, minAmount), buy)}
	}
	orders := make([]models.PartialOrder, 0, len(prices))
	for i, price := range prices {
		amount := WeightForIndex(increase, len(prices), i, total)
		if amount < minAmount || amount <= 0 {
			continue
		}
		orders = append(orders, newOrder(price, amount, buy))
	}
	return FilterByBudget(orders, total, buy)
}

// FilterByBudget greedily accepts orders, largest first for bids and
// smallest first for asks, skipping any order that would push the
// cumulative amount past total.
func FilterByBudget(orders []models.PartialOrder, total float64, buy bool) []models.PartialOrder {
	sorted := append([]models.PartialOrder(nil), orders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if buy {
			return sorted[i].Amount > sorted[j].Amount
		}
		return sorted[i].Amount < sorted[j].Amount
	})

	budget := decimal.NewFromFloat(total)
	used := decimal.Zero
	accepted := make([]models.PartialOrder, 0, len(sorted))
	for _, o := range sorted {
		next := used.Add(decimal.NewFromFloat(o.Amount))
		if next.GreaterThan(budget) {
			continue
		}
		used = next
		accepted = append(accepted, o)
	}
	return accepted
}

// SortByPriceDesc orders the ladder highest price first.
func SortByPriceDesc(orders []models.PartialOrder) {
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].Price > orders[j].Price })
}

// Sum returns the total amount of the orders.
func Sum(orders []models.PartialOrder) float64 {
	s := 0.0
	for _, o := range orders {
		s += o.Amount
	}
	return s
}

func newOrder(price, amount float64, buy bool) models.PartialOrder {
	return models.PartialOrder{Price: price, Amount: amount, Total: floor(price*amount, 2), Buy: buy}
}

// noise returns a factor drawn uniformly from [1-n, 1+n].
func noise(rnd *rand.Rand, n float64) float64 {
	if n == 0 || rnd == nil {
		return 1
	}
	return 1 + (rnd.Float64()*2-1)*n
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func floor(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Truncate(places).InexactFloat64()
}
