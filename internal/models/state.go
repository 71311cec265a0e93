package models

import "time"

// PositionStatus is a stage of the position lifecycle.
type PositionStatus string

const (
	StatusOpening PositionStatus = "opening" // open transaction sent, no receipt yet
	StatusPending PositionStatus = "pending" // open order placed, not filled
	StatusOpen    PositionStatus = "open"
	StatusClosing PositionStatus = "closing" // close transaction sent, no receipt yet
	StatusClosed  PositionStatus = "closed"
	StatusFailed  PositionStatus = "failed"
)

// PositionType tells which engine manages a position.
type PositionType string

const (
	TypeLimit PositionType = "limit" // 0x limit orders, market maker engine
	TypeLive  PositionType = "live"  // swap transactions, trader engine
	TypePaper PositionType = "paper"
)

// PositionContext carries the direction the position was opened with.
type PositionContext struct {
	Action OrderAction `json:"action"`
}

// OrderRecord describes one leg (open or close) of a position.
type OrderRecord struct {
	Price         float64             `json:"price"`
	Hash          string              `json:"hash,omitempty"` // order hash or transaction hash
	Order         *SignedOrder        `json:"order,omitempty"`
	OrderValueUSD float64             `json:"order_value_usd,omitempty"`
	GasPrice      float64             `json:"gas_price,omitempty"`
	Gas           float64             `json:"gas,omitempty"`
	Value         float64             `json:"value,omitempty"`
	Receipt       *TransactionReceipt `json:"receipt,omitempty"`
}

// PendingOrder is the order currently resting on the book for a position.
type PendingOrder struct {
	Order     SignedOrder `json:"order"`
	Price     float64     `json:"price"`
	OrderHash string      `json:"order_hash"`
}

// Position is one unit of trading exposure and its lifecycle.
type Position struct {
	ID            string          `json:"id"`
	InstanceKey   string          `json:"instance_key"`
	Type          PositionType    `json:"type"`
	Amount        float64         `json:"amount"` // base asset quantity
	DateTime      time.Time       `json:"date_time"`
	Status        PositionStatus  `json:"status"`
	Context       PositionContext `json:"context"`
	Open          *OrderRecord    `json:"open,omitempty"`
	Close         *OrderRecord    `json:"close,omitempty"`
	PendingOrder  *PendingOrder   `json:"pending_order,omitempty"`
	ExpiredOrders []SignedOrder   `json:"expired_orders,omitempty"`
	BalanceOnOpen *Balances       `json:"balance_on_open,omitempty"`
}

// Strategy is the persisted aggregate for one bot instance.
type Strategy struct {
	InstanceKey string     `json:"instance_key"`
	Version     int64      `json:"version"` // incremented on every successful save
	Positions   []Position `json:"positions"`
	Closed      []Position `json:"closed,omitempty"`

	Address             string       `json:"address"`
	BaseToken           string       `json:"base_token"`
	QuoteToken          string       `json:"quote_token"`
	BaseSymbol          string       `json:"base_symbol"`
	QuoteSymbol         string       `json:"quote_symbol"`
	IntervalSeconds     int          `json:"interval_seconds"`
	ExpirationSeconds   int64        `json:"expiration_seconds"`
	PositionPercent     float64      `json:"position_percent"`
	PositionSize        float64      `json:"position_size"`
	MinBaseOrderAmount  float64      `json:"min_base_order_amount"`
	MaxBaseOrderAmount  float64      `json:"max_base_order_amount"`
	MinQuoteOrderAmount float64      `json:"min_quote_order_amount"`
	MaxQuoteOrderAmount float64      `json:"max_quote_order_amount"`
	MinBaseBalance      float64      `json:"min_base_balance"`
	MinQuoteBalance     float64      `json:"min_quote_balance"`
	MaxOpenPositions    int          `json:"max_open_positions"`
	OpenStrategy        OpenStrategy `json:"open_strategy"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewStrategy builds a fresh strategy document from configuration.
func NewStrategy(instanceKey, address string, s StrategySettings) *Strategy {
	return &Strategy{
		InstanceKey:         instanceKey,
		Positions:           []Position{},
		Address:             address,
		BaseToken:           s.BaseToken,
		QuoteToken:          s.QuoteToken,
		BaseSymbol:          s.BaseSymbol,
		QuoteSymbol:         s.QuoteSymbol,
		IntervalSeconds:     s.IntervalSeconds,
		ExpirationSeconds:   s.ExpirationSeconds,
		PositionPercent:     s.PositionPercent,
		PositionSize:        s.PositionSize,
		MinBaseOrderAmount:  s.MinBaseOrderAmount,
		MaxBaseOrderAmount:  s.MaxBaseOrderAmount,
		MinQuoteOrderAmount: s.MinQuoteOrderAmount,
		MaxQuoteOrderAmount: s.MaxQuoteOrderAmount,
		MinBaseBalance:      s.MinBaseBalance,
		MinQuoteBalance:     s.MinQuoteBalance,
		MaxOpenPositions:    s.MaxOpenPositions,
		OpenStrategy:        s.OpenStrategy,
	}
}

// ApplySettings refreshes the tunable fields of an existing document
// while keeping its positions and version.
func (s *Strategy) ApplySettings(address string, settings StrategySettings) {
	fresh := NewStrategy(s.InstanceKey, address, settings)
	fresh.Version = s.Version
	fresh.Positions = s.Positions
	fresh.Closed = s.Closed
	fresh.UpdatedAt = s.UpdatedAt
	*s = *fresh
}

// Clone returns a deep copy of the strategy document.
func (s *Strategy) Clone() *Strategy {
	if s == nil {
		return nil
	}
	c := *s
	c.Positions = clonePositions(s.Positions)
	c.Closed = clonePositions(s.Closed)
	return &c
}

func clonePositions(in []Position) []Position {
	if in == nil {
		return nil
	}
	out := make([]Position, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	c := p
	if p.Open != nil {
		o := *p.Open
		c.Open = &o
	}
	if p.Close != nil {
		o := *p.Close
		c.Close = &o
	}
	if p.PendingOrder != nil {
		o := *p.PendingOrder
		c.PendingOrder = &o
	}
	if p.ExpiredOrders != nil {
		c.ExpiredOrders = append([]SignedOrder(nil), p.ExpiredOrders...)
	}
	if p.BalanceOnOpen != nil {
		b := p.BalanceOnOpen.Clone()
		c.BalanceOnOpen = &b
	}
	return c
}

// OpenPositionCount counts positions that are not closed.
func (s *Strategy) OpenPositionCount() int {
	n := 0
	for _, p := range s.Positions {
		if p.Status != StatusClosed {
			n++
		}
	}
	return n
}

// UpsertPosition replaces the position with the same id or appends it.
func (s *Strategy) UpsertPosition(p Position) {
	for i := range s.Positions {
		if s.Positions[i].ID == p.ID {
			s.Positions[i] = p
			return
		}
	}
	s.Positions = append(s.Positions, p)
}

// ArchiveClosed moves closed positions from Positions to Closed and
// returns how many were moved.
func (s *Strategy) ArchiveClosed() int {
	kept := s.Positions[:0]
	moved := 0
	for _, p := range s.Positions {
		if p.Status == StatusClosed {
			s.Closed = append(s.Closed, p)
			moved++
			continue
		}
		kept = append(kept, p)
	}
	s.Positions = kept
	return moved
}
