package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStrategyDecodesEveryKind(t *testing.T) {
	cases := map[string]StrategyKind{
		`{"kind":"bollingerband","period":20,"stdDev":2}`:                               KindBollingerBand,
		`{"kind":"multiple","orderCount":{"bid":2,"ask":2}}`:                            KindMultiple,
		`{"kind":"multipleByRange","askPrices":[110,120],"bidPrices":[90]}`:             KindMultipleByRange,
		`{"kind":"scaled","sell":{"priceLower":100,"priceUpper":110,"orderCount":2}}`:   KindScaled,
		`{"kind":"fibonacci","bidTimeframe":"hour","askTimeframe":"sixHour","count":3}`: KindFibonacci,
	}
	for doc, kind := range cases {
		var s OpenStrategy
		require.NoError(t, json.Unmarshal([]byte(doc), &s), doc)
		require.NotNil(t, s.Config)
		assert.Equal(t, kind, s.Config.Kind())
		assert.NoError(t, s.Config.Validate(), doc)
	}
}

func TestOpenStrategyRejectsUnknownKind(t *testing.T) {
	var s OpenStrategy
	err := json.Unmarshal([]byte(`{"kind":"martingale"}`), &s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStrategyKind))
}

func TestOpenStrategyDefaults(t *testing.T) {
	var s OpenStrategy
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"scaled","buy":{"priceLower":1,"priceUpper":2,"orderCount":1}}`), &s))
	assert.Equal(t, Flat, s.Config.(ScaledOrderConfig).Distribution)

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"bollingerband","period":20,"stdDev":2}`), &s))
	assert.Equal(t, FieldClose, s.Config.(BollingerBandConfig).Field)
}

func TestOpenStrategyRoundTripKeepsKind(t *testing.T) {
	in := OpenStrategy{Config: RangeOrderConfig{AskPrices: []float64{101.5}}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"multipleByRange"`)

	var out OpenStrategy
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in.Config, out.Config)
}

func TestScaledValidate(t *testing.T) {
	cfg := ScaledOrderConfig{Distribution: Flat}
	assert.Error(t, cfg.Validate())

	cfg.Sell = &ScaledSide{PriceLower: 110, PriceUpper: 100, OrderCount: 2}
	assert.Error(t, cfg.Validate())

	cfg.Sell = &ScaledSide{PriceLower: 100, PriceUpper: 110, OrderCount: 2}
	assert.NoError(t, cfg.Validate())

	cfg.Distribution = "zigzag"
	assert.Error(t, cfg.Validate())
}

func TestERC20AssetData(t *testing.T) {
	data := EncodeERC20AssetData("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	assert.Equal(t, "0xf47261b0000000000000000000000000c02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", data)
	assert.True(t, SameAsset(data, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"))

	addr, ok := DecodeERC20AssetData(data)
	require.True(t, ok)
	assert.Equal(t, "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", addr)

	_, ok = DecodeERC20AssetData("0x1234")
	assert.False(t, ok)
}

func TestBaseUnitConversion(t *testing.T) {
	assert.Equal(t, "1500000000000000000", ToBaseUnit(1.5).String())
	assert.InDelta(t, 1.5, ToUnit(ToBaseUnit(1.5)), 1e-12)
}

func TestStrategyArchiveClosed(t *testing.T) {
	s := &Strategy{Positions: []Position{
		{ID: "a", Status: StatusOpen},
		{ID: "b", Status: StatusClosed},
		{ID: "c", Status: StatusPending},
	}}
	assert.Equal(t, 2, s.OpenPositionCount())
	assert.Equal(t, 1, s.ArchiveClosed())
	require.Len(t, s.Positions, 2)
	assert.Equal(t, "a", s.Positions[0].ID)
	assert.Equal(t, "c", s.Positions[1].ID)
	require.Len(t, s.Closed, 1)
	assert.Equal(t, "b", s.Closed[0].ID)
}

func TestStrategyCloneIsDeep(t *testing.T) {
	s := &Strategy{Positions: []Position{{ID: "a", PendingOrder: &PendingOrder{Price: 1}}}}
	c := s.Clone()
	c.Positions[0].PendingOrder.Price = 2
	c.Positions[0].ID = "z"
	assert.Equal(t, 1.0, s.Positions[0].PendingOrder.Price)
	assert.Equal(t, "a", s.Positions[0].ID)
}

func TestUpsertPosition(t *testing.T) {
	s := &Strategy{}
	s.UpsertPosition(Position{ID: "a", Status: StatusOpening})
	s.UpsertPosition(Position{ID: "a", Status: StatusOpen})
	s.UpsertPosition(Position{ID: "b", Status: StatusOpening})
	require.Len(t, s.Positions, 2)
	assert.Equal(t, StatusOpen, s.Positions[0].Status)
}
