// Package allocator decides how much of a token balance is free for new orders.
package allocator

import "zrx-ladder-bot/internal/models"

// Side carries the limits that apply to one token of the pair.
type Side struct {
	Token           string // ERC-20 address
	MinBalance      float64
	MinOrderAmount  float64
	MaxOrderAmount  float64
	PositionPercent float64
}

// BaseSide returns the base token limits of a strategy.
func BaseSide(s *models.Strategy) Side {
	return Side{
		Token:           s.BaseToken,
		MinBalance:      s.MinBaseBalance,
		MinOrderAmount:  s.MinBaseOrderAmount,
		MaxOrderAmount:  s.MaxBaseOrderAmount,
		PositionPercent: s.PositionPercent,
	}
}

// QuoteSide returns the quote token limits of a strategy.
func QuoteSide(s *models.Strategy) Side {
	return Side{
		Token:           s.QuoteToken,
		MinBalance:      s.MinQuoteBalance,
		MinOrderAmount:  s.MinQuoteOrderAmount,
		MaxOrderAmount:  s.MaxQuoteOrderAmount,
		PositionPercent: s.PositionPercent,
	}
}

// LockedAmount sums the maker amounts of pending orders that give away token.
func LockedAmount(positions []models.Position, token string) float64 {
	locked := 0.0
	for _, p := range positions {
		if p.PendingOrder == nil {
			continue
		}
		o := p.PendingOrder.Order
		if models.SameAsset(o.MakerAssetData, token) {
			locked += models.ToUnit(o.MakerAssetAmount)
		}
	}
	return locked
}

// Unallocated is what remains of balance after the floor and the locked
// amount. Anything below minOrder is reported as 0.
func Unallocated(balance, minBalance, locked, minOrder float64) float64 {
	free := balance - minBalance - locked
	if free < minOrder || free <= 0 {
		return 0
	}
	return free
}

// Allocatable caps the unallocated amount by the position percentage and
// the maximum order size, and zeroes dust below the minimum order.
func Allocatable(unallocated float64, side Side) float64 {
	amount := unallocated
	if side.PositionPercent > 0 {
		amount = unallocated * side.PositionPercent
	}
	if side.MaxOrderAmount > 0 {
		amount = min(amount, side.MaxOrderAmount)
	}
	if amount < side.MinOrderAmount || amount <= 0 {
		return 0
	}
	return amount
}

// Available runs the whole computation for one side of the pair.
func Available(positions []models.Position, balances models.Balances, side Side) float64 {
	locked := LockedAmount(positions, side.Token)
	free := Unallocated(balances.TokenBalance(side.Token), side.MinBalance, locked, side.MinOrderAmount)
	return Allocatable(free, side)
}
