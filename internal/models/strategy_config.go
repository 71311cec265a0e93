package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownStrategyKind is returned when a strategy document names a kind
// that has no configuration type.
var ErrUnknownStrategyKind = errors.New("unknown strategy kind")

// StrategyKind discriminates open strategy configurations.
type StrategyKind string

const (
	KindBollingerBand   StrategyKind = "bollingerband"
	KindMultiple        StrategyKind = "multiple"
	KindMultipleByRange StrategyKind = "multipleByRange"
	KindScaled          StrategyKind = "scaled"
	KindFibonacci       StrategyKind = "fibonacci"
)

// OpenStrategyConfig is implemented only by the configuration types in this
// file, so a type switch over them is exhaustive.
type OpenStrategyConfig interface {
	Kind() StrategyKind
	Validate() error
	sealed()
}

// BidAsk holds a value per side of the book.
type BidAsk struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// BidAskCount holds an order count per side of the book.
type BidAskCount struct {
	Bid int `json:"bid"`
	Ask int `json:"ask"`
}

// BollingerBandConfig quotes one order at the outer bands.
type BollingerBandConfig struct {
	Period      int         `json:"period"`
	StdDev      float64     `json:"stdDev"`
	Field       CandleField `json:"field"`
	PriceOffset float64     `json:"priceOffset"`
}

func (BollingerBandConfig) Kind() StrategyKind { return KindBollingerBand }
func (BollingerBandConfig) sealed()            {}

func (c BollingerBandConfig) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("bollingerband: period must be positive, got %d", c.Period)
	}
	if c.StdDev <= 0 {
		return fmt.Errorf("bollingerband: stdDev must be positive, got %v", c.StdDev)
	}
	return nil
}

// MultipleOrderConfig steps orders away from the mid price.
type MultipleOrderConfig struct {
	OrderCount       BidAskCount `json:"orderCount"`
	AmountIncrease   BidAsk      `json:"amountIncrease"`
	PriceIncrease    BidAsk      `json:"priceIncrease"`
	ThresholdFromMid BidAsk      `json:"thresholdFromMid"`
}

func (MultipleOrderConfig) Kind() StrategyKind { return KindMultiple }
func (MultipleOrderConfig) sealed()            {}

func (c MultipleOrderConfig) Validate() error {
	if c.OrderCount.Bid < 0 || c.OrderCount.Ask < 0 {
		return errors.New("multiple: order counts cannot be negative")
	}
	if c.OrderCount.Bid == 0 && c.OrderCount.Ask == 0 {
		return errors.New("multiple: at least one side needs orders")
	}
	return nil
}

// RangeOrderConfig places orders at explicit prices.
type RangeOrderConfig struct {
	AmountIncrease BidAsk    `json:"amountIncrease"`
	AskPrices      []float64 `json:"askPrices"`
	BidPrices      []float64 `json:"bidPrices"`
}

func (RangeOrderConfig) Kind() StrategyKind { return KindMultipleByRange }
func (RangeOrderConfig) sealed()            {}

func (c RangeOrderConfig) Validate() error {
	if len(c.AskPrices) == 0 && len(c.BidPrices) == 0 {
		return errors.New("multipleByRange: no prices configured")
	}
	for _, p := range append(append([]float64{}, c.AskPrices...), c.BidPrices...) {
		if p <= 0 {
			return fmt.Errorf("multipleByRange: price %v must be positive", p)
		}
	}
	return nil
}

// Distribution shapes how a ladder spreads its amount.
type Distribution string

const (
	Flat       Distribution = "flat"
	Ascending  Distribution = "ascending"
	Descending Distribution = "descending"
)

// ScaledSide is one side of a scaled ladder.
type ScaledSide struct {
	PriceLower float64 `json:"priceLower"`
	PriceUpper float64 `json:"priceUpper"`
	OrderCount int     `json:"orderCount"`
}

// ScaledOrderConfig spreads orders evenly across fixed price ranges.
type ScaledOrderConfig struct {
	Buy          *ScaledSide  `json:"buy,omitempty"`
	Sell         *ScaledSide  `json:"sell,omitempty"`
	Distribution Distribution `json:"distribute"`
	PriceNoise   float64      `json:"priceNoise"`  // fraction, 0.01 = 1%
	AmountNoise  float64      `json:"amountNoise"` // fraction
}

func (ScaledOrderConfig) Kind() StrategyKind { return KindScaled }
func (ScaledOrderConfig) sealed()            {}

func (c ScaledOrderConfig) Validate() error {
	if c.Buy == nil && c.Sell == nil {
		return errors.New("scaled: neither buy nor sell side configured")
	}
	switch c.Distribution {
	case Flat, Ascending, Descending:
	default:
		return fmt.Errorf("scaled: unknown distribution %q", c.Distribution)
	}
	for _, side := range []*ScaledSide{c.Buy, c.Sell} {
		if side == nil {
			continue
		}
		if side.OrderCount <= 0 {
			return fmt.Errorf("scaled: orderCount must be positive, got %d", side.OrderCount)
		}
		if side.PriceLower <= 0 || side.PriceUpper < side.PriceLower {
			return fmt.Errorf("scaled: invalid price range [%v, %v]", side.PriceLower, side.PriceUpper)
		}
	}
	if c.PriceNoise < 0 || c.AmountNoise < 0 {
		return errors.New("scaled: noise cannot be negative")
	}
	return nil
}

// FibonacciConfig derives ladder ranges from ATR bands around the SMA.
type FibonacciConfig struct {
	BidTimeframe Timeframe `json:"bidTimeframe"`
	AskTimeframe Timeframe `json:"askTimeframe"`
	Count        int       `json:"count"`
}

func (FibonacciConfig) Kind() StrategyKind { return KindFibonacci }
func (FibonacciConfig) sealed()            {}

func (c FibonacciConfig) Validate() error {
	if c.BidTimeframe.Granularity() == 0 || c.AskTimeframe.Granularity() == 0 {
		return fmt.Errorf("fibonacci: unknown timeframe %q/%q", c.BidTimeframe, c.AskTimeframe)
	}
	if c.Count <= 0 {
		return fmt.Errorf("fibonacci: count must be positive, got %d", c.Count)
	}
	return nil
}

// OpenStrategy is the JSON envelope around an OpenStrategyConfig. It is
// encoded as the variant's fields plus a "kind" discriminator.
type OpenStrategy struct {
	Config OpenStrategyConfig
}

func (s OpenStrategy) MarshalJSON() ([]byte, error) {
	if s.Config == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(s.Config.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

func (s *OpenStrategy) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.Config = nil
		return nil
	}
	var head struct {
		Kind StrategyKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var cfg OpenStrategyConfig
	switch head.Kind {
	case KindBollingerBand:
		c := BollingerBandConfig{Field: FieldClose}
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		cfg = c
	case KindMultiple:
		var c MultipleOrderConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		cfg = c
	case KindMultipleByRange:
		var c RangeOrderConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		cfg = c
	case KindScaled:
		c := ScaledOrderConfig{Distribution: Flat}
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		cfg = c
	case KindFibonacci:
		var c FibonacciConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		cfg = c
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategyKind, head.Kind)
	}
	s.Config = cfg
	return nil
}
