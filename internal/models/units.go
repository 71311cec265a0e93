package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the precision of every token the bot trades.
	Decimals = 18

	NullAddress = "0x0000000000000000000000000000000000000000"
	NullBytes   = "0x"

	erc20ProxyID = "f47261b0"
)

// ToBaseUnit converts a unit amount to integer base units.
func ToBaseUnit(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Shift(Decimals).Truncate(0)
}

// ToUnit converts base units back to a unit amount.
func ToUnit(amount decimal.Decimal) float64 {
	return amount.Shift(-Decimals).InexactFloat64()
}

// EncodeERC20AssetData encodes a token address the way the exchange
// contract identifies ERC-20 assets: proxy id followed by the left padded address.
func EncodeERC20AssetData(tokenAddress string) string {
	addr := strings.TrimPrefix(strings.ToLower(tokenAddress), "0x")
	return "0x" + erc20ProxyID + strings.Repeat("0", 64-len(addr)) + addr
}

// DecodeERC20AssetData reverses EncodeERC20AssetData. ok is false when the
// asset data is not ERC-20 asset data.
func DecodeERC20AssetData(assetData string) (address string, ok bool) {
	data := strings.TrimPrefix(strings.ToLower(assetData), "0x")
	if len(data) != 8+64 || !strings.HasPrefix(data, erc20ProxyID) {
		return "", false
	}
	return "0x" + data[len(data)-40:], true
}

// SameAsset reports whether asset data encodes the given token address.
func SameAsset(assetData, tokenAddress string) bool {
	return strings.EqualFold(assetData, EncodeERC20AssetData(tokenAddress))
}
