package exchange

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"zrx-ladder-bot/internal/models"
)

const orderTuple = `{"name":"order","type":"tuple","components":[
	{"name":"makerAddress","type":"address"},
	{"name":"takerAddress","type":"address"},
	{"name":"feeRecipientAddress","type":"address"},
	{"name":"senderAddress","type":"address"},
	{"name":"makerAssetAmount","type":"uint256"},
	{"name":"takerAssetAmount","type":"uint256"},
	{"name":"makerFee","type":"uint256"},
	{"name":"takerFee","type":"uint256"},
	{"name":"expirationTimeSeconds","type":"uint256"},
	{"name":"salt","type":"uint256"},
	{"name":"makerAssetData","type":"bytes"},
	{"name":"takerAssetData","type":"bytes"},
	{"name":"makerFeeAssetData","type":"bytes"},
	{"name":"takerFeeAssetData","type":"bytes"}]}`

var orderArray = strings.Replace(strings.Replace(orderTuple, `"order"`, `"orders"`, 1), `"tuple"`, `"tuple[]"`, 1)

// v3 Exchange 合约中机器人用到的函数。
var exchangeABI = mustParseABI(`[
{"name":"getOrderInfo","type":"function","stateMutability":"view",
 "inputs":[` + orderTuple + `],
 "outputs":[{"name":"orderInfo","type":"tuple","components":[
	{"name":"orderStatus","type":"uint8"},
	{"name":"orderHash","type":"bytes32"},
	{"name":"orderTakerAssetFilledAmount","type":"uint256"}]}]},
{"name":"fillOrder","type":"function","stateMutability":"payable",
 "inputs":[` + orderTuple + `,{"name":"takerAssetFillAmount","type":"uint256"},{"name":"signature","type":"bytes"}],
 "outputs":[]},
{"name":"cancelOrdersUpTo","type":"function","stateMutability":"payable",
 "inputs":[{"name":"targetOrderEpoch","type":"uint256"}],"outputs":[]},
{"name":"marketBuyOrdersFillOrKill","type":"function","stateMutability":"payable",
 "inputs":[` + orderArray + `,{"name":"makerAssetFillAmount","type":"uint256"},{"name":"signatures","type":"bytes[]"}],
 "outputs":[]},
{"name":"marketSellOrdersFillOrKill","type":"function","stateMutability":"payable",
 "inputs":[` + orderArray + `,{"name":"takerAssetFillAmount","type":"uint256"},{"name":"signatures","type":"bytes[]"}],
 "outputs":[]},
{"name":"protocolFeeMultiplier","type":"function","stateMutability":"view",
 "inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// abiOrder 与合约 Order 结构体的字段一一对应，顺序不能改。
type abiOrder struct {
	MakerAddress          common.Address
	TakerAddress          common.Address
	FeeRecipientAddress   common.Address
	SenderAddress         common.Address
	MakerAssetAmount      *big.Int
	TakerAssetAmount      *big.Int
	MakerFee              *big.Int
	TakerFee              *big.Int
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
	MakerAssetData        []byte
	TakerAssetData        []byte
	MakerFeeAssetData     []byte
	TakerFeeAssetData     []byte
}

type abiOrderInfo struct {
	OrderStatus                 uint8
	OrderHash                   [32]byte
	OrderTakerAssetFilledAmount *big.Int
}

func toABIOrder(o models.Order) (abiOrder, error) {
	var data [4][]byte
	for i, s := range []string{o.MakerAssetData, o.TakerAssetData, o.MakerFeeAssetData, o.TakerFeeAssetData} {
		raw, err := decodeBytes(s)
		if err != nil {
			return abiOrder{}, fmt.Errorf("asset data %d: %w", i, err)
		}
		data[i] = raw
	}
	return abiOrder{
		MakerAddress:          common.HexToAddress(o.MakerAddress),
		TakerAddress:          common.HexToAddress(o.TakerAddress),
		FeeRecipientAddress:   common.HexToAddress(o.FeeRecipientAddress),
		SenderAddress:         common.HexToAddress(o.SenderAddress),
		MakerAssetAmount:      o.MakerAssetAmount.Truncate(0).BigInt(),
		TakerAssetAmount:      o.TakerAssetAmount.Truncate(0).BigInt(),
		MakerFee:              o.MakerFee.Truncate(0).BigInt(),
		TakerFee:              o.TakerFee.Truncate(0).BigInt(),
		ExpirationTimeSeconds: big.NewInt(o.ExpirationTimeSeconds),
		Salt:                  big.NewInt(o.Salt),
		MakerAssetData:        data[0],
		TakerAssetData:        data[1],
		MakerFeeAssetData:     data[2],
		TakerFeeAssetData:     data[3],
	}, nil
}

func toABIOrders(orders []models.SignedOrder) ([]abiOrder, [][]byte, error) {
	out := make([]abiOrder, 0, len(orders))
	sigs := make([][]byte, 0, len(orders))
	for _, o := range orders {
		ao, err := toABIOrder(o.Order)
		if err != nil {
			return nil, nil, err
		}
		sig, err := hexutil.Decode(o.Signature)
		if err != nil {
			return nil, nil, fmt.Errorf("signature: %w", err)
		}
		out = append(out, ao)
		sigs = append(sigs, sig)
	}
	return out, sigs, nil
}

// ethSignSignature 把 eth_sign 返回的 r‖s‖v 转成 v3 的 EthSign 签名 v‖r‖s‖0x03。
func ethSignSignature(raw []byte) (string, error) {
	if len(raw) != 65 {
		return "", fmt.Errorf("unexpected signature length %d", len(raw))
	}
	v := raw[64]
	if v < 27 {
		v += 27
	}
	sig := make([]byte, 0, 66)
	sig = append(sig, v)
	sig = append(sig, raw[:64]...)
	sig = append(sig, 0x03)
	return hexutil.Encode(sig), nil
}
