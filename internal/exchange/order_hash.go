package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"zrx-ladder-bot/internal/models"
)

var (
	eip712DomainTypeHash = crypto.Keccak256([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	orderTypeHash = crypto.Keccak256([]byte(
		"Order(address makerAddress,address takerAddress,address feeRecipientAddress,address senderAddress," +
			"uint256 makerAssetAmount,uint256 takerAssetAmount,uint256 makerFee,uint256 takerFee," +
			"uint256 expirationTimeSeconds,uint256 salt,bytes makerAssetData,bytes takerAssetData," +
			"bytes makerFeeAssetData,bytes takerFeeAssetData)"))

	domainName    = crypto.Keccak256([]byte("0x Protocol"))
	domainVersion = crypto.Keccak256([]byte("3.0.0"))
)

// OrderHash computes the EIP-712 hash the v3 exchange contract uses to
// identify an order.
func OrderHash(o models.Order) (string, error) {
	if !common.IsHexAddress(o.ExchangeAddress) {
		return "", fmt.Errorf("invalid exchange address %q", o.ExchangeAddress)
	}

	domain := crypto.Keccak256(
		eip712DomainTypeHash,
		domainName,
		domainVersion,
		uint256(big.NewInt(int64(o.ChainID))),
		address(o.ExchangeAddress),
	)

	var assetHashes [4][]byte
	for i, data := range []string{o.MakerAssetData, o.TakerAssetData, o.MakerFeeAssetData, o.TakerFeeAssetData} {
		raw, err := decodeBytes(data)
		if err != nil {
			return "", fmt.Errorf("asset data %d: %w", i, err)
		}
		assetHashes[i] = crypto.Keccak256(raw)
	}

	structHash := crypto.Keccak256(
		orderTypeHash,
		address(o.MakerAddress),
		address(o.TakerAddress),
		address(o.FeeRecipientAddress),
		address(o.SenderAddress),
		decimalWord(o.MakerAssetAmount),
		decimalWord(o.TakerAssetAmount),
		decimalWord(o.MakerFee),
		decimalWord(o.TakerFee),
		uint256(big.NewInt(o.ExpirationTimeSeconds)),
		uint256(big.NewInt(o.Salt)),
		assetHashes[0],
		assetHashes[1],
		assetHashes[2],
		assetHashes[3],
	)

	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain, structHash).Hex(), nil
}

func address(a string) []byte {
	return common.LeftPadBytes(common.HexToAddress(a).Bytes(), 32)
}

func uint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func decimalWord(d decimal.Decimal) []byte {
	return uint256(d.Truncate(0).BigInt())
}

func decodeBytes(data string) ([]byte, error) {
	if data == "" || data == models.NullBytes {
		return []byte{}, nil
	}
	return hexutil.Decode(data)
}
