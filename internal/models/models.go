package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds every runtime setting of the bot.
type Config struct {
	InstanceKey string `json:"instance_key"` // which strategy document this process owns
	DataDir     string `json:"data_dir"`     // lock files live here
	DBPath      string `json:"db_path"`      // badger directory for strategy documents
	JournalPath string `json:"journal_path"` // optional sqlite trade journal

	ChainID     int    `json:"chain_id"`
	Address     string `json:"address"`      // maker address
	Symbol      string `json:"symbol"`       // candle symbol, e.g. "ETH-USD"
	Timeframe   string `json:"timeframe"`    // quarterHour, hour, sixHour or daily
	PriceSource string `json:"price_source"` // "coinbase" or "binance"

	CoinbaseAPIURL  string  `json:"coinbase_api_url"`
	BinanceSymbol   string  `json:"binance_symbol"` // e.g. "ETHUSDT"
	BinanceWSURL    string  `json:"binance_ws_url"`
	ZrxAPIURL       string  `json:"zrx_api_url"`
	GasOracleURL    string  `json:"gas_oracle_url"`
	RPCURL          string  `json:"rpc_url"`           // JSON-RPC gateway for contract and wallet calls
	ExchangeAddress string  `json:"exchange_address"`  // 0x exchange contract
	RequestsPerSec  float64 `json:"requests_per_sec"`  // client side REST rate limit
	EtherscanAPIKey string  `json:"etherscan_api_key"` // normally supplied through the environment

	MinProfitability float64          `json:"min_profitability"`
	Strategy         StrategySettings `json:"strategy"`
	Paper            PaperConfig      `json:"paper"`
	LogConfig        LogConfig        `json:"log"`
}

// StrategySettings is the configuration snapshot copied into a new Strategy document.
type StrategySettings struct {
	BaseToken           string       `json:"base_token"`  // ERC-20 address
	QuoteToken          string       `json:"quote_token"` // ERC-20 address
	BaseSymbol          string       `json:"base_symbol"`
	QuoteSymbol         string       `json:"quote_symbol"`
	IntervalSeconds     int          `json:"interval_seconds"`
	ExpirationSeconds   int64        `json:"expiration_seconds"`
	PositionPercent     float64      `json:"position_percent"`
	PositionSize        float64      `json:"position_size"` // trader variant
	MinBaseOrderAmount  float64      `json:"min_base_order_amount"`
	MaxBaseOrderAmount  float64      `json:"max_base_order_amount"`
	MinQuoteOrderAmount float64      `json:"min_quote_order_amount"`
	MaxQuoteOrderAmount float64      `json:"max_quote_order_amount"`
	MinBaseBalance      float64      `json:"min_base_balance"`
	MinQuoteBalance     float64      `json:"min_quote_balance"`
	MaxOpenPositions    int          `json:"max_open_positions"`
	OpenStrategy        OpenStrategy `json:"open_strategy"`
}

// PaperConfig seeds the in-memory exchange used by paper mode.
type PaperConfig struct {
	BaseBalance  float64 `json:"base_balance"`
	QuoteBalance float64 `json:"quote_balance"`
	EthBalance   float64 `json:"eth_balance"`
}

// LogConfig defines logging output and rotation.
type LogConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // console, file, both
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`
}

// Timeframe names a candle granularity.
type Timeframe string

const (
	QuarterHour Timeframe = "quarterHour"
	Hour        Timeframe = "hour"
	SixHour     Timeframe = "sixHour"
	Daily       Timeframe = "daily"
)

// Granularity returns the candle width in seconds, or 0 for an unknown timeframe.
func (t Timeframe) Granularity() int {
	const hour = 3600
	switch t {
	case QuarterHour:
		return hour / 4
	case Hour:
		return hour
	case SixHour:
		return hour * 6
	case Daily:
		return hour * 24
	}
	return 0
}

// Candle is one unit of historical price and volume data.
type Candle struct {
	Time   int64   `json:"time"` // unix seconds
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CandleField selects one numeric field of a candle.
type CandleField string

const (
	FieldOpen   CandleField = "open"
	FieldHigh   CandleField = "high"
	FieldLow    CandleField = "low"
	FieldClose  CandleField = "close"
	FieldVolume CandleField = "volume"
)

// Value returns the selected field; unknown fields fall back to close.
func (c Candle) Value(field CandleField) float64 {
	switch field {
	case FieldOpen:
		return c.Open
	case FieldHigh:
		return c.High
	case FieldLow:
		return c.Low
	case FieldVolume:
		return c.Volume
	}
	return c.Close
}

// Ticker is the last trade reported by a price API.
type Ticker struct {
	Price string `json:"price"`
	Bid   string `json:"bid,omitempty"`
	Ask   string `json:"ask,omitempty"`
}

// GasPrices mirrors the gas oracle response, prices in gwei.
type GasPrices struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
}

// Balances is a point-in-time read of wallet holdings.
type Balances struct {
	Balances          map[string]float64 `json:"balances"`            // by symbol
	BalancesByAddress map[string]float64 `json:"balances_by_address"` // by token address
	EthBalance        float64            `json:"eth_balance"`
}

// TokenBalance returns the balance held for a token address.
func (b Balances) TokenBalance(address string) float64 {
	if b.BalancesByAddress == nil {
		return 0
	}
	if v, ok := b.BalancesByAddress[address]; ok {
		return v
	}
	return b.BalancesByAddress[strings.ToLower(address)]
}

// Clone returns a deep copy.
func (b Balances) Clone() Balances {
	c := Balances{EthBalance: b.EthBalance}
	if b.Balances != nil {
		c.Balances = make(map[string]float64, len(b.Balances))
		for k, v := range b.Balances {
			c.Balances[k] = v
		}
	}
	if b.BalancesByAddress != nil {
		c.BalancesByAddress = make(map[string]float64, len(b.BalancesByAddress))
		for k, v := range b.BalancesByAddress {
			c.BalancesByAddress[k] = v
		}
	}
	return c
}

// OrderAction is the direction of an order or position.
type OrderAction string

const (
	Buy  OrderAction = "buy"
	Sell OrderAction = "sell"
)

// Opposite returns the action that unwinds a.
func (a OrderAction) Opposite() OrderAction {
	if a == Buy {
		return Sell
	}
	return Buy
}

// PartialOrder is an order intent that has not been signed or submitted.
// Total is Price*Amount. Buy amounts are in the quote asset.
type PartialOrder struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Total  float64 `json:"total"`
	Buy    bool    `json:"buy"`
}

// BaseAmount converts the intent to a base asset quantity. Buy intents
// are denominated in the quote asset.
func (p PartialOrder) BaseAmount() float64 {
	if p.Buy {
		if p.Price == 0 {
			return 0
		}
		return p.Amount / p.Price
	}
	return p.Amount
}

// OrderWithPrice is what open and close strategies emit.
type OrderWithPrice struct {
	Price      float64     `json:"price"`
	BaseAmount float64     `json:"base_amount"`
	Action     OrderAction `json:"action"`
}

// Order is a 0x v3 limit order. Asset amounts are in token base units.
type Order struct {
	ChainID               int             `json:"chainId"`
	ExchangeAddress       string          `json:"exchangeAddress"`
	MakerAddress          string          `json:"makerAddress"`
	TakerAddress          string          `json:"takerAddress"`
	SenderAddress         string          `json:"senderAddress"`
	FeeRecipientAddress   string          `json:"feeRecipientAddress"`
	ExpirationTimeSeconds int64           `json:"expirationTimeSeconds"`
	Salt                  int64           `json:"salt"`
	MakerAssetAmount      decimal.Decimal `json:"makerAssetAmount"`
	TakerAssetAmount      decimal.Decimal `json:"takerAssetAmount"`
	MakerAssetData        string          `json:"makerAssetData"`
	TakerAssetData        string          `json:"takerAssetData"`
	MakerFeeAssetData     string          `json:"makerFeeAssetData"`
	TakerFeeAssetData     string          `json:"takerFeeAssetData"`
	MakerFee              decimal.Decimal `json:"makerFee"`
	TakerFee              decimal.Decimal `json:"takerFee"`
}

// SignedOrder is an Order plus the maker's signature.
type SignedOrder struct {
	Order
	Signature string `json:"signature"`
}

// OrderStatus follows the exchange contract's enumeration.
type OrderStatus int

const (
	OrderInvalid OrderStatus = iota
	OrderInvalidMakerAssetAmount
	OrderInvalidTakerAssetAmount
	OrderFillable
	OrderExpired
	OrderFullyFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderInvalid:
		return "Invalid"
	case OrderInvalidMakerAssetAmount:
		return "InvalidMakerAssetAmount"
	case OrderInvalidTakerAssetAmount:
		return "InvalidTakerAssetAmount"
	case OrderFillable:
		return "Fillable"
	case OrderExpired:
		return "Expired"
	case OrderFullyFilled:
		return "FullyFilled"
	case OrderCancelled:
		return "Cancelled"
	}
	return fmt.Sprintf("OrderStatus(%d)", int(s))
}

// OrderRelevantState is the on-chain view of one order.
type OrderRelevantState struct {
	Hash                     string          `json:"orderHash"`
	Status                   OrderStatus     `json:"orderStatus"`
	TakerAssetFilledAmount   decimal.Decimal `json:"orderTakerAssetFilledAmount"`
	FillableTakerAssetAmount decimal.Decimal `json:"fillableTakerAssetAmount"`
}

// TxData is an unsigned transaction as returned by the swap quote API.
type TxData struct {
	From     string          `json:"from,omitempty"`
	To       string          `json:"to"`
	Data     string          `json:"data"`
	Value    decimal.Decimal `json:"value"`
	Gas      decimal.Decimal `json:"gas"`
	GasPrice decimal.Decimal `json:"gasPrice"`
}

// Quote is a swap quote including the transaction to execute it.
type Quote struct {
	TxData
	Price           float64         `json:"price,string"`
	GuaranteedPrice float64         `json:"guaranteedPrice,string"`
	BuyAmount       decimal.Decimal `json:"buyAmount"`
	SellAmount      decimal.Decimal `json:"sellAmount"`
	ProtocolFee     decimal.Decimal `json:"protocolFee"`
	EstimatedGas    decimal.Decimal `json:"estimatedGas"`
}

// QuoteRequest selects a swap quote.
type QuoteRequest struct {
	SellToken    string
	BuyToken     string
	SellAmount   decimal.Decimal
	TakerAddress string
	GasPrice     decimal.Decimal
}

// TransactionReceipt is the subset of an Ethereum receipt the engines use.
type TransactionReceipt struct {
	TransactionHash   string          `json:"transactionHash"`
	BlockNumber       int64           `json:"blockNumber"`
	Status            int             `json:"status"`
	GasUsed           decimal.Decimal `json:"gasUsed"`
	CumulativeGasUsed decimal.Decimal `json:"cumulativeGasUsed"`
}

// TransactionWithPrice pairs a transaction with the price it executes at.
type TransactionWithPrice struct {
	Transaction TxData  `json:"transaction"`
	Price       float64 `json:"price"`
	BaseAmount  float64 `json:"base_amount"`
	ProtocolFee decimal.Decimal
}

// Error is the error body returned by the REST APIs.
type Error struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, reason=%s", e.Code, e.Reason)
}
