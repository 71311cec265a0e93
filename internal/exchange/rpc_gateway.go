package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/models"
)

// balanceOf(address) 的函数选择器
const erc20BalanceOf = "0x70a08231"

// RPCGateway 通过以太坊 JSON-RPC 节点访问 v3 Exchange 合约和钱包。合约调用用 ABI 编码后走
// eth_call / eth_sendTransaction，订单签名走节点托管账户的 eth_sign。
type RPCGateway struct {
	client          *rpc.Client
	exchangeAddress string
	chainID         int
	logger          *zap.Logger
}

// DialRPCGateway 连接 JSON-RPC 节点。
func DialRPCGateway(ctx context.Context, rpcURL, exchangeAddress string, chainID int, logger *zap.Logger) (*RPCGateway, error) {
	if !common.IsHexAddress(exchangeAddress) {
		return nil, fmt.Errorf("invalid exchange address %q", exchangeAddress)
	}
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc gateway: %w", err)
	}
	return &RPCGateway{client: client, exchangeAddress: exchangeAddress, chainID: chainID, logger: logger}, nil
}

func (g *RPCGateway) Close() {
	g.client.Close()
}

func (g *RPCGateway) Address() string { return g.exchangeAddress }

// --- Contract ---

// GetOrderRelevantStates 对每个订单调用 getOrderInfo，一次批量请求发出。
// 可成交数量按 takerAssetAmount 减去已成交量计算，不检查 maker 的余额和授权。
func (g *RPCGateway) GetOrderRelevantStates(ctx context.Context, orders []models.SignedOrder) ([]models.OrderRelevantState, error) {
	if len(orders) == 0 {
		return []models.OrderRelevantState{}, nil
	}
	batch := make([]rpc.BatchElem, len(orders))
	results := make([]hexutil.Bytes, len(orders))
	for i, o := range orders {
		ao, err := toABIOrder(o.Order)
		if err != nil {
			return nil, err
		}
		data, err := exchangeABI.Pack("getOrderInfo", ao)
		if err != nil {
			return nil, fmt.Errorf("pack getOrderInfo: %w", err)
		}
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{g.callMsg(data), "latest"},
			Result: &results[i],
		}
	}
	if err := g.client.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("getOrderInfo: %w", err)
	}

	states := make([]models.OrderRelevantState, 0, len(orders))
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, fmt.Errorf("getOrderInfo: %w", elem.Error)
		}
		out, err := exchangeABI.Unpack("getOrderInfo", results[i])
		if err != nil {
			return nil, fmt.Errorf("unpack getOrderInfo: %w", err)
		}
		info := abi.ConvertType(out[0], abiOrderInfo{}).(abiOrderInfo)
		filled := decimal.NewFromBigInt(info.OrderTakerAssetFilledAmount, 0)
		st := models.OrderRelevantState{
			Hash:                   common.Hash(info.OrderHash).Hex(),
			Status:                 models.OrderStatus(info.OrderStatus),
			TakerAssetFilledAmount: filled,
		}
		if st.Status == models.OrderFillable {
			st.FillableTakerAssetAmount = decimal.Max(orders[i].TakerAssetAmount.Sub(filled), decimal.Zero)
		}
		states = append(states, st)
	}
	return states, nil
}

// GetOrderHash 在本地按 EIP-712 计算，不需要网络调用。
func (g *RPCGateway) GetOrderHash(_ context.Context, order models.Order) (string, error) {
	return OrderHash(order)
}

func (g *RPCGateway) FillOrder(ctx context.Context, order models.SignedOrder, takerAssetFillAmount decimal.Decimal, taker string) (string, error) {
	orders, sigs, err := toABIOrders([]models.SignedOrder{order})
	if err != nil {
		return "", err
	}
	return g.sendContractCall(ctx, taker, 1, "fillOrder", orders[0], takerAssetFillAmount.Truncate(0).BigInt(), sigs[0])
}

// CancelOrdersUpTo 取消 maker 所有 salt 小于 salt+1 的订单。
func (g *RPCGateway) CancelOrdersUpTo(ctx context.Context, salt int64, maker string) (string, error) {
	return g.sendContractCall(ctx, maker, 0, "cancelOrdersUpTo", big.NewInt(salt))
}

func (g *RPCGateway) MarketBuyOrdersFillOrKill(ctx context.Context, orders []models.SignedOrder, makerAssetFillAmount decimal.Decimal, taker string) (string, error) {
	abiOrders, sigs, err := toABIOrders(orders)
	if err != nil {
		return "", err
	}
	return g.sendContractCall(ctx, taker, len(orders), "marketBuyOrdersFillOrKill", abiOrders, makerAssetFillAmount.Truncate(0).BigInt(), sigs)
}

func (g *RPCGateway) MarketSellOrdersFillOrKill(ctx context.Context, orders []models.SignedOrder, takerAssetFillAmount decimal.Decimal, taker string) (string, error) {
	abiOrders, sigs, err := toABIOrders(orders)
	if err != nil {
		return "", err
	}
	return g.sendContractCall(ctx, taker, len(orders), "marketSellOrdersFillOrKill", abiOrders, takerAssetFillAmount.Truncate(0).BigInt(), sigs)
}

// sendContractCall 编码调用并从 from 发送交易。每个被成交的订单按
// protocolFeeMultiplier * gasPrice 附带协议费，交易的 gasPrice 与计费用的一致。
func (g *RPCGateway) sendContractCall(ctx context.Context, from string, fills int, method string, args ...any) (string, error) {
	data, err := exchangeABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	tx := models.TxData{From: from, To: g.exchangeAddress, Data: hexutil.Encode(data)}
	if fills > 0 {
		var gasPrice hexutil.Big
		if err := g.client.CallContext(ctx, &gasPrice, "eth_gasPrice"); err != nil {
			return "", fmt.Errorf("gasPrice: %w", err)
		}
		multiplier, err := g.protocolFeeMultiplier(ctx)
		if err != nil {
			return "", err
		}
		price := decimal.NewFromBigInt((*big.Int)(&gasPrice), 0)
		tx.GasPrice = price
		tx.Value = price.Mul(decimal.NewFromBigInt(multiplier, 0)).Mul(decimal.NewFromInt(int64(fills)))
	}
	hash, err := g.SendTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", method, err)
	}
	g.logger.Info("合约交易已发送", zap.String("method", method), zap.String("hash", hash))
	return hash, nil
}

func (g *RPCGateway) protocolFeeMultiplier(ctx context.Context) (*big.Int, error) {
	data, err := exchangeABI.Pack("protocolFeeMultiplier")
	if err != nil {
		return nil, err
	}
	var result hexutil.Bytes
	if err := g.client.CallContext(ctx, &result, "eth_call", g.callMsg(data), "latest"); err != nil {
		return nil, fmt.Errorf("protocolFeeMultiplier: %w", err)
	}
	out, err := exchangeABI.Unpack("protocolFeeMultiplier", result)
	if err != nil {
		return nil, fmt.Errorf("unpack protocolFeeMultiplier: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (g *RPCGateway) callMsg(data []byte) map[string]string {
	return map[string]string{"to": g.exchangeAddress, "data": hexutil.Encode(data)}
}

// --- Wallet ---

// SignOrder 用节点托管的账户对订单哈希做 eth_sign，得到 EthSign 类型的签名。
func (g *RPCGateway) SignOrder(ctx context.Context, order models.Order, address string) (models.SignedOrder, error) {
	if order.ChainID == 0 {
		order.ChainID = g.chainID
	}
	if order.ExchangeAddress == "" {
		order.ExchangeAddress = g.exchangeAddress
	}
	hash, err := OrderHash(order)
	if err != nil {
		return models.SignedOrder{}, err
	}
	var raw hexutil.Bytes
	if err := g.client.CallContext(ctx, &raw, "eth_sign", address, hash); err != nil {
		return models.SignedOrder{}, fmt.Errorf("signOrder: %w", err)
	}
	signature, err := ethSignSignature(raw)
	if err != nil {
		return models.SignedOrder{}, fmt.Errorf("signOrder: %w", err)
	}
	return models.SignedOrder{Order: order, Signature: signature}, nil
}

type rpcTx struct {
	From     string       `json:"from,omitempty"`
	To       string       `json:"to"`
	Data     string       `json:"data,omitempty"`
	Value    *hexutil.Big `json:"value,omitempty"`
	Gas      *hexutil.Big `json:"gas,omitempty"`
	GasPrice *hexutil.Big `json:"gasPrice,omitempty"`
}

func (g *RPCGateway) SendTransaction(ctx context.Context, tx models.TxData) (string, error) {
	req := rpcTx{
		From:     tx.From,
		To:       tx.To,
		Data:     tx.Data,
		Value:    hexBig(tx.Value),
		Gas:      hexBig(tx.Gas),
		GasPrice: hexBig(tx.GasPrice),
	}
	var hash string
	if err := g.client.CallContext(ctx, &hash, "eth_sendTransaction", req); err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return hash, nil
}

type rpcReceipt struct {
	TransactionHash   string         `json:"transactionHash"`
	BlockNumber       hexutil.Uint64 `json:"blockNumber"`
	Status            hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Big    `json:"gasUsed"`
	CumulativeGasUsed hexutil.Big    `json:"cumulativeGasUsed"`
}

// GetTransactionReceipt 在交易尚未上链时返回 (nil, nil)。
func (g *RPCGateway) GetTransactionReceipt(ctx context.Context, hash string) (*models.TransactionReceipt, error) {
	var r *rpcReceipt
	if err := g.client.CallContext(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
		return nil, fmt.Errorf("getTransactionReceipt: %w", err)
	}
	if r == nil {
		return nil, nil
	}
	return &models.TransactionReceipt{
		TransactionHash:   r.TransactionHash,
		BlockNumber:       int64(r.BlockNumber),
		Status:            int(r.Status),
		GasUsed:           decimal.NewFromBigInt((*big.Int)(&r.GasUsed), 0),
		CumulativeGasUsed: decimal.NewFromBigInt((*big.Int)(&r.CumulativeGasUsed), 0),
	}, nil
}

// GetBalances 读取 ETH 余额以及每个代币的 balanceOf。
func (g *RPCGateway) GetBalances(ctx context.Context, address string, tokens []TokenInfo) (models.Balances, error) {
	out := models.Balances{
		Balances:          make(map[string]float64, len(tokens)),
		BalancesByAddress: make(map[string]float64, len(tokens)),
	}

	var eth hexutil.Big
	if err := g.client.CallContext(ctx, &eth, "eth_getBalance", address, "latest"); err != nil {
		return out, fmt.Errorf("getBalance: %w", err)
	}
	out.EthBalance = models.ToUnit(decimal.NewFromBigInt((*big.Int)(&eth), 0))

	for _, t := range tokens {
		call := map[string]string{
			"to":   t.Address,
			"data": erc20BalanceOf + strings.TrimPrefix(hexutil.Encode(common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)), "0x"),
		}
		var result hexutil.Bytes
		if err := g.client.CallContext(ctx, &result, "eth_call", call, "latest"); err != nil {
			return out, fmt.Errorf("balanceOf %s: %w", t.Symbol, err)
		}
		amount := models.ToUnit(decimal.NewFromBigInt(new(big.Int).SetBytes(result), 0))
		out.Balances[t.Symbol] = amount
		out.BalancesByAddress[t.Address] = amount
	}
	return out, nil
}

func hexBig(d decimal.Decimal) *hexutil.Big {
	if d.IsZero() {
		return nil
	}
	return (*hexutil.Big)(d.Truncate(0).BigInt())
}
