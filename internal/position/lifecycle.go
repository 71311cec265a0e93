// Package position tracks limit orders and swap transactions as positions.
package position

import (
	"time"

	"zrx-ladder-bot/internal/models"
)

// NewLimit creates the pending position for a freshly placed open order.
func NewLimit(instanceKey string, info models.OrderWithPrice, order models.SignedOrder, hash string, balances models.Balances, now time.Time) models.Position {
	snapshot := balances.Clone()
	signed := order
	return models.Position{
		ID:          NewID(now),
		InstanceKey: instanceKey,
		Type:        models.TypeLimit,
		Amount:      info.BaseAmount,
		DateTime:    now,
		Status:      models.StatusPending,
		Context:     models.PositionContext{Action: info.Action},
		Open: &models.OrderRecord{
			Price: info.Price,
			Hash:  hash,
			Order: &signed,
		},
		PendingOrder: &models.PendingOrder{
			Order:     order,
			Price:     info.Price,
			OrderHash: hash,
		},
		BalanceOnOpen: &snapshot,
	}
}

// NewLive creates the position for a submitted open transaction.
func NewLive(instanceKey string, action models.OrderAction, tx models.TransactionWithPrice, hash string, balances models.Balances, now time.Time) models.Position {
	snapshot := balances.Clone()
	return models.Position{
		ID:          NewID(now),
		InstanceKey: instanceKey,
		Type:        models.TypeLive,
		Amount:      tx.BaseAmount,
		DateTime:    now,
		Status:      models.StatusOpening,
		Context:     models.PositionContext{Action: action},
		Open: &models.OrderRecord{
			Price:    tx.Price,
			Hash:     hash,
			GasPrice: tx.Transaction.GasPrice.InexactFloat64(),
			Gas:      tx.Transaction.Gas.InexactFloat64(),
			Value:    tx.Transaction.Value.InexactFloat64(),
		},
		BalanceOnOpen: &snapshot,
	}
}

// Resolution sorts pending order hashes by their on-chain outcome. The
// three sets are disjoint.
type Resolution struct {
	Filled  []string
	Expired []string
	Open    []string
	Other   []string // invalid, cancelled; left untouched
}

// PendingHashes lists the order hashes of positions that have a pending order.
func PendingHashes(positions []models.Position) []string {
	hashes := make([]string, 0, len(positions))
	for _, p := range positions {
		if p.PendingOrder != nil {
			hashes = append(hashes, p.PendingOrder.OrderHash)
		}
	}
	return hashes
}

// Resolve classifies order states. An expired order that was partly
// filled counts as filled.
func Resolve(states []models.OrderRelevantState) Resolution {
	var r Resolution
	for _, s := range states {
		switch {
		case s.Status == models.OrderFullyFilled,
			s.Status == models.OrderExpired && s.TakerAssetFilledAmount.IsPositive():
			r.Filled = append(r.Filled, s.Hash)
		case s.Status == models.OrderExpired:
			r.Expired = append(r.Expired, s.Hash)
		case s.Status == models.OrderFillable:
			r.Open = append(r.Open, s.Hash)
		default:
			r.Other = append(r.Other, s.Hash)
		}
	}
	return r
}

// Transition records what Reconcile did to one position.
type Transition struct {
	PositionID string
	From       models.PositionStatus
	To         models.PositionStatus
	Expired    bool
}

// Reconcile applies a resolution to positions in place. A fill moves a
// pending position to open and an open one to closed; an expiry archives
// the order and leaves the status alone. Either way the pending order is
// cleared.
func Reconcile(positions []models.Position, r Resolution) []Transition {
	filled := toSet(r.Filled)
	expired := toSet(r.Expired)

	var out []Transition
	for i := range positions {
		p := &positions[i]
		if p.PendingOrder == nil {
			continue
		}
		hash := p.PendingOrder.OrderHash

		switch {
		case filled[hash]:
			from := p.Status
			switch p.Status {
			case models.StatusOpen:
				p.Status = models.StatusClosed
				order := p.PendingOrder.Order
				p.Close = &models.OrderRecord{Price: p.PendingOrder.Price, Hash: hash, Order: &order}
			default:
				p.Status = models.StatusOpen
			}
			p.PendingOrder = nil
			out = append(out, Transition{PositionID: p.ID, From: from, To: p.Status})
		case expired[hash]:
			p.ExpiredOrders = append(p.ExpiredOrders, p.PendingOrder.Order)
			p.PendingOrder = nil
			out = append(out, Transition{PositionID: p.ID, From: p.Status, To: p.Status, Expired: true})
		}
	}
	return out
}

// NeedsOpenOrder reports whether a pending position lost its open order
// to expiry and has nothing resting on the book.
func NeedsOpenOrder(p models.Position) bool {
	return p.Status == models.StatusPending && p.PendingOrder == nil && p.Open != nil
}

// OpenIntent rebuilds the open-leg intent of a position at its original
// price and amount.
func OpenIntent(p models.Position) models.OrderWithPrice {
	return models.OrderWithPrice{Price: p.Open.Price, BaseAmount: p.Amount, Action: p.Context.Action}
}

// AttachOpenOrder rests a replacement open order on a pending position.
func AttachOpenOrder(p *models.Position, info models.OrderWithPrice, order models.SignedOrder, hash string) {
	signed := order
	p.PendingOrder = &models.PendingOrder{Order: order, Price: info.Price, OrderHash: hash}
	p.Open.Hash = hash
	p.Open.Order = &signed
}

// NeedsCloseOrder reports whether an open position has nothing resting on
// the book.
func NeedsCloseOrder(p models.Position) bool {
	return p.Status == models.StatusOpen && p.PendingOrder == nil
}

// AttachCloseOrder rests a new close order on an open position.
func AttachCloseOrder(p *models.Position, info models.OrderWithPrice, order models.SignedOrder, hash string) {
	p.PendingOrder = &models.PendingOrder{Order: order, Price: info.Price, OrderHash: hash}
}

// ApplyReceipt settles an opening or closing position from its transaction
// receipt. It reports false when the position is not waiting on a receipt.
func ApplyReceipt(p *models.Position, receipt models.TransactionReceipt) bool {
	success := receipt.Status == 1
	switch p.Status {
	case models.StatusOpening:
		if p.Open != nil {
			rc := receipt
			p.Open.Receipt = &rc
		}
		if success {
			p.Status = models.StatusOpen
		} else {
			p.Status = models.StatusFailed
		}
	case models.StatusClosing:
		if p.Close != nil {
			rc := receipt
			p.Close.Receipt = &rc
		}
		if success {
			p.Status = models.StatusClosed
		} else {
			p.Status = models.StatusFailed
		}
	default:
		return false
	}
	return true
}

// MarkClosing records a submitted close transaction.
func MarkClosing(p *models.Position, tx models.TransactionWithPrice, hash string) {
	p.Status = models.StatusClosing
	p.Close = &models.OrderRecord{
		Price:    tx.Price,
		Hash:     hash,
		GasPrice: tx.Transaction.GasPrice.InexactFloat64(),
		Gas:      tx.Transaction.Gas.InexactFloat64(),
		Value:    tx.Transaction.Value.InexactFloat64(),
	}
}

// Summary counts positions by what they are waiting for.
type Summary struct {
	BuyToOpen   int
	BuyToClose  int
	SellToOpen  int
	SellToClose int
	Closed      int
	Expired     int // expired orders across all positions
}

// Summarize builds the per-tick state summary.
func Summarize(positions []models.Position, closed []models.Position) Summary {
	var s Summary
	s.Closed = len(closed)
	for _, p := range append(append([]models.Position(nil), positions...), closed...) {
		s.Expired += len(p.ExpiredOrders)
	}
	for _, p := range positions {
		buy := p.Context.Action == models.Buy
		switch {
		case p.Status == models.StatusPending && buy:
			s.BuyToOpen++
		case p.Status == models.StatusPending:
			s.SellToOpen++
		case p.Status == models.StatusOpen && buy:
			s.SellToClose++
		case p.Status == models.StatusOpen:
			s.BuyToClose++
		case p.Status == models.StatusClosed:
			s.Closed++
		}
	}
	return s
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
