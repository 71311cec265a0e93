package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
)

const (
	DefaultZrxAPIURL    = "https://api.0x.org"
	DefaultGasOracleURL = "https://api.etherscan.io/api"

	sraPerPage = 1000
)

// EtherscanGasOracle 读取 Etherscan 的 gas 价格 (gwei)。
type EtherscanGasOracle struct {
	client *restClient
	apiKey string
}

func NewEtherscanGasOracle(baseURL, apiKey string, requestsPerSec float64, logger *zap.Logger) *EtherscanGasOracle {
	if baseURL == "" {
		baseURL = DefaultGasOracleURL
	}
	return &EtherscanGasOracle{client: newRestClient(baseURL, requestsPerSec, logger), apiKey: apiKey}
}

func (o *EtherscanGasOracle) GetGasPrices(ctx context.Context) (*models.GasPrices, error) {
	params := url.Values{}
	params.Set("module", "gastracker")
	params.Set("action", "gasoracle")
	if o.apiKey != "" {
		params.Set("apikey", o.apiKey)
	}
	var resp struct {
		Status  string           `json:"status"`
		Message string           `json:"message"`
		Result  models.GasPrices `json:"result"`
	}
	if err := o.client.getJSON(ctx, "", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "1" {
		return nil, fmt.Errorf("gas oracle: %s", resp.Message)
	}
	return &resp.Result, nil
}

// SRAOrderBook 是 0x 标准中继 v3 接口的客户端。
type SRAOrderBook struct {
	client  *restClient
	chainID int
}

func NewSRAOrderBook(baseURL string, chainID int, requestsPerSec float64, logger *zap.Logger) *SRAOrderBook {
	if baseURL == "" {
		baseURL = DefaultZrxAPIURL
	}
	return &SRAOrderBook{client: newRestClient(baseURL, requestsPerSec, logger), chainID: chainID}
}

type sraPage struct {
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"perPage"`
	Records []OrderRecord `json:"records"`
}

func (b *SRAOrderBook) GetOrderbook(ctx context.Context, baseAssetData, quoteAssetData string) (*Orderbook, error) {
	params := url.Values{}
	params.Set("baseAssetData", baseAssetData)
	params.Set("quoteAssetData", quoteAssetData)
	params.Set("chainId", strconv.Itoa(b.chainID))
	params.Set("perPage", strconv.Itoa(sraPerPage))
	var resp struct {
		Bids sraPage `json:"bids"`
		Asks sraPage `json:"asks"`
	}
	if err := b.client.getJSON(ctx, "/sra/v3/orderbook", params, &resp); err != nil {
		return nil, err
	}
	return &Orderbook{Bids: resp.Bids.Records, Asks: resp.Asks.Records}, nil
}

func (b *SRAOrderBook) PostOrder(ctx context.Context, order models.SignedOrder) error {
	_, err := b.client.doRequest(ctx, http.MethodPost, "/sra/v3/order", nil, order)
	return err
}

// GetOpenOrders 分页读取 maker 的全部挂单，按交易对方向归类。
func (b *SRAOrderBook) GetOpenOrders(ctx context.Context, maker, baseAssetData, quoteAssetData string) (*OpenOrders, error) {
	var all []OrderRecord
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("makerAddress", maker)
		params.Set("chainId", strconv.Itoa(b.chainID))
		params.Set("page", strconv.Itoa(page))
		params.Set("perPage", strconv.Itoa(sraPerPage))
		var resp sraPage
		if err := b.client.getJSON(ctx, "/sra/v3/orders", params, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Records...)
		if len(resp.Records) == 0 || page*sraPerPage >= resp.Total {
			break
		}
	}
	return ClassifyOpenOrders(all, baseAssetData, quoteAssetData), nil
}

// ClassifyOpenOrders 把 maker 给出 quote 的订单归为买单，给出 base 的归为卖单。
func ClassifyOpenOrders(records []OrderRecord, baseAssetData, quoteAssetData string) *OpenOrders {
	out := &OpenOrders{}
	for _, r := range records {
		switch {
		case strings.EqualFold(r.Order.MakerAssetData, quoteAssetData) && strings.EqualFold(r.Order.TakerAssetData, baseAssetData):
			out.Bids = append(out.Bids, r)
		case strings.EqualFold(r.Order.MakerAssetData, baseAssetData) && strings.EqualFold(r.Order.TakerAssetData, quoteAssetData):
			out.Asks = append(out.Asks, r)
		default:
			out.Others = append(out.Others, r)
		}
	}
	return out
}

// SwapQuoteAPI 是 0x swap 报价接口的客户端。
type SwapQuoteAPI struct {
	client *restClient
}

func NewSwapQuoteAPI(baseURL string, requestsPerSec float64, logger *zap.Logger) *SwapQuoteAPI {
	if baseURL == "" {
		baseURL = DefaultZrxAPIURL
	}
	return &SwapQuoteAPI{client: newRestClient(baseURL, requestsPerSec, logger)}
}

func (q *SwapQuoteAPI) GetQuote(ctx context.Context, req models.QuoteRequest) (*models.Quote, error) {
	params := url.Values{}
	params.Set("sellToken", req.SellToken)
	params.Set("buyToken", req.BuyToken)
	params.Set("sellAmount", req.SellAmount.String())
	if req.TakerAddress != "" {
		params.Set("takerAddress", req.TakerAddress)
	}
	if req.GasPrice.IsPositive() {
		params.Set("gasPrice", req.GasPrice.String())
	}
	var quote models.Quote
	if err := q.client.getJSON(ctx, "/swap/v1/quote", params, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}
