package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"zrx-ladder-bot/internal/models"
)

// 主网 0x v3 交易所合约
const defaultExchangeAddress = "0x61935cbdd02287b511119ddb11aeb42f1593b7ef"

// Default 返回填好默认值的配置，JSON 中出现的字段会覆盖这些值。
func Default() *models.Config {
	return &models.Config{
		DataDir:          "data",
		ChainID:          1,
		Symbol:           "ETH-USD",
		Timeframe:        string(models.Hour),
		PriceSource:      "coinbase",
		CoinbaseAPIURL:   "https://api.pro.coinbase.com",
		BinanceSymbol:    "ETHUSDT",
		BinanceWSURL:     "wss://stream.binance.com:9443",
		ZrxAPIURL:        "https://api.0x.org",
		GasOracleURL:     "https://api.etherscan.io/api",
		ExchangeAddress:  defaultExchangeAddress,
		RequestsPerSec:   3,
		MinProfitability: 0.01,
		Strategy: models.StrategySettings{
			IntervalSeconds:   60,
			ExpirationSeconds: 600,
			MaxOpenPositions:  5,
		},
		LogConfig: models.LogConfig{Level: "info", Output: "console"},
	}
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中，
// 随后用环境变量覆盖敏感字段并校验。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	fillDerived(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv 用环境变量覆盖配置。密钥类字段通常只出现在环境变量或 .env 文件中。
func ApplyEnv(config *models.Config) error {
	strs := map[string]*string{
		"RPCURL":            &config.RPCURL,
		"APIURL":            &config.ZrxAPIURL,
		"ETHERSCAN_API_KEY": &config.EtherscanAPIKey,
		"MAKER_ADDRESS":     &config.Address,
		"INSTANCE_KEY":      &config.InstanceKey,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("CHAINID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("环境变量 CHAINID=%q 不是整数: %w", v, err)
		}
		config.ChainID = id
	}
	return nil
}

// fillDerived 补全依赖其他字段的默认值。
func fillDerived(config *models.Config) {
	if config.DBPath == "" {
		config.DBPath = filepath.Join(config.DataDir, "strategies")
	}
	s := &config.Strategy
	if s.BaseSymbol == "" || s.QuoteSymbol == "" {
		if base, quote, ok := strings.Cut(config.Symbol, "-"); ok {
			if s.BaseSymbol == "" {
				s.BaseSymbol = base
			}
			if s.QuoteSymbol == "" {
				s.QuoteSymbol = quote
			}
		}
	}
}

// Validate 检查配置是否可用，一次返回所有发现的问题。
func Validate(config *models.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(config.ChainID > 0, "chain_id 必须为正数")
	check(common.IsHexAddress(config.Address), "address %q 不是有效的以太坊地址", config.Address)
	check(common.IsHexAddress(config.ExchangeAddress), "exchange_address %q 不是有效的以太坊地址", config.ExchangeAddress)
	check(models.Timeframe(config.Timeframe).Granularity() > 0, "未知的 timeframe %q", config.Timeframe)
	check(config.PriceSource == "coinbase" || config.PriceSource == "binance", "未知的 price_source %q", config.PriceSource)
	check(config.MinProfitability >= 0, "min_profitability 不能为负数")
	check(config.RequestsPerSec >= 0, "requests_per_sec 不能为负数")

	s := config.Strategy
	check(common.IsHexAddress(s.BaseToken), "strategy.base_token %q 不是有效的代币地址", s.BaseToken)
	check(common.IsHexAddress(s.QuoteToken), "strategy.quote_token %q 不是有效的代币地址", s.QuoteToken)
	check(!strings.EqualFold(s.BaseToken, s.QuoteToken), "base_token 和 quote_token 不能相同")
	check(s.IntervalSeconds > 0, "strategy.interval_seconds 必须为正数")
	check(s.ExpirationSeconds > 0, "strategy.expiration_seconds 必须为正数")
	check(s.MaxOpenPositions > 0, "strategy.max_open_positions 必须为正数")
	check(s.PositionPercent >= 0 && s.PositionPercent <= 1, "strategy.position_percent 必须在 0 到 1 之间")
	check(s.PositionSize >= 0 && s.PositionSize <= 1, "strategy.position_size 必须在 0 到 1 之间")
	check(s.MaxBaseOrderAmount == 0 || s.MaxBaseOrderAmount >= s.MinBaseOrderAmount, "max_base_order_amount 小于 min_base_order_amount")
	check(s.MaxQuoteOrderAmount == 0 || s.MaxQuoteOrderAmount >= s.MinQuoteOrderAmount, "max_quote_order_amount 小于 min_quote_order_amount")

	if s.OpenStrategy.Config == nil {
		errs = append(errs, fmt.Errorf("strategy.open_strategy: %w", models.ErrUnknownStrategyKind))
	} else if err := s.OpenStrategy.Config.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("strategy.open_strategy: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置无效: %w", errors.Join(errs...))
	}
	return nil
}
