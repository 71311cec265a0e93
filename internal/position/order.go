package position

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"

	"zrx-ladder-bot/internal/models"
)

const idPrefix = "Position-"

var idSeq atomic.Uint32

// NewID returns a position id unique within this process. Ids sort by
// creation time.
func NewID(now time.Time) string {
	var raw [12]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(now.UnixNano()))
	binary.BigEndian.PutUint32(raw[8:], idSeq.Add(1))
	return idPrefix + base62.EncodeToString(raw[:])
}

// OrderParams are the strategy-level fields every order shares.
type OrderParams struct {
	ChainID           int
	ExchangeAddress   string
	MakerAddress      string
	BaseToken         string
	QuoteToken        string
	ExpirationSeconds int64
}

// ParamsFor derives order params from a strategy document.
func ParamsFor(s *models.Strategy, chainID int, exchangeAddress string) OrderParams {
	return OrderParams{
		ChainID:           chainID,
		ExchangeAddress:   exchangeAddress,
		MakerAddress:      s.Address,
		BaseToken:         s.BaseToken,
		QuoteToken:        s.QuoteToken,
		ExpirationSeconds: s.ExpirationSeconds,
	}
}

// BuildOrder turns a priced intent into an unsigned limit order. A buy
// gives quote for base, a sell gives base for quote.
func BuildOrder(info models.OrderWithPrice, p OrderParams, now time.Time) models.Order {
	baseAmount := decimal.NewFromFloat(info.BaseAmount)
	quoteAmount := baseAmount.Mul(decimal.NewFromFloat(info.Price))
	base := baseAmount.Shift(models.Decimals).Truncate(0)
	quote := quoteAmount.Shift(models.Decimals).Truncate(0)

	o := models.Order{
		ChainID:               p.ChainID,
		ExchangeAddress:       p.ExchangeAddress,
		MakerAddress:          p.MakerAddress,
		TakerAddress:          models.NullAddress,
		SenderAddress:         models.NullAddress,
		FeeRecipientAddress:   models.NullAddress,
		ExpirationTimeSeconds: now.Unix() + p.ExpirationSeconds,
		Salt:                  now.UnixMilli(),
		MakerFeeAssetData:     models.NullBytes,
		TakerFeeAssetData:     models.NullBytes,
		MakerFee:              decimal.Zero,
		TakerFee:              decimal.Zero,
	}
	if info.Action == models.Buy {
		o.MakerAssetData = models.EncodeERC20AssetData(p.QuoteToken)
		o.MakerAssetAmount = quote
		o.TakerAssetData = models.EncodeERC20AssetData(p.BaseToken)
		o.TakerAssetAmount = base
	} else {
		o.MakerAssetData = models.EncodeERC20AssetData(p.BaseToken)
		o.MakerAssetAmount = base
		o.TakerAssetData = models.EncodeERC20AssetData(p.QuoteToken)
		o.TakerAssetAmount = quote
	}
	return o
}

// IntentFromPartial converts a ladder entry into a priced intent.
func IntentFromPartial(p models.PartialOrder) models.OrderWithPrice {
	action := models.Sell
	if p.Buy {
		action = models.Buy
	}
	return models.OrderWithPrice{Price: p.Price, BaseAmount: p.BaseAmount(), Action: action}
}
