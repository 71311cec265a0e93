package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nightlyone/lockfile"
	"go.uber.org/zap"

	"zrx-ladder-bot/internal/config"
	"zrx-ladder-bot/internal/downloader"
	"zrx-ladder-bot/internal/engine"
	"zrx-ladder-bot/internal/exchange"
	"zrx-ladder-bot/internal/indicators"
	"zrx-ladder-bot/internal/logger"
	"zrx-ladder-bot/internal/models"
	"zrx-ladder-bot/internal/persistence"
	"zrx-ladder-bot/internal/reporter"
	"zrx-ladder-bot/internal/scheduler"
	"zrx-ladder-bot/internal/storage"
	"zrx-ladder-bot/internal/strategy"
)

// ticker 是调度器驱动的策略实例。
type ticker interface {
	InstanceKey() string
	Tick(ctx context.Context) error
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "marketmaker", "running mode: marketmaker, trader, paper, bands, ladder or download")
	dataPath := flag.String("data", "", "candle CSV used by paper mode, or the output of download mode")
	startDate := flag.String("start", "", "download start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "download end date (YYYY-MM-DD)")
	flag.Parse()

	// 在加载配置前先用默认配置初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 使用文件中的配置重新初始化日志 ---
	log := logger.InitLogger(cfg.LogConfig)
	defer log.Sync() // 确保在main函数退出时刷新所有缓冲的日志

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "marketmaker", "trader":
		err = runLive(ctx, cfg, *mode, log)
	case "paper":
		err = runPaper(ctx, cfg, *dataPath, log)
	case "bands":
		err = runBands(ctx, cfg, log)
	case "ladder":
		err = runLadder(ctx, cfg, log)
	case "download":
		err = runDownload(ctx, cfg, *dataPath, *startDate, *endDate, log)
	default:
		err = fmt.Errorf("未知的运行模式: %s", *mode)
	}
	if err != nil {
		log.Fatal("运行失败", zap.String("mode", *mode), zap.Error(err))
	}
}

func settingsFrom(cfg *models.Config) engine.Settings {
	return engine.Settings{
		InstanceKey: cfg.InstanceKey,
		Address:     cfg.Address,
		ChainID:     cfg.ChainID,
		Strategy:    cfg.Strategy,
	}
}

// candleSource 按配置选择行情来源。币安来源会启动 websocket 成交流来刷新最新价。
func candleSource(ctx context.Context, cfg *models.Config, log *zap.Logger) (exchange.CandleSource, string) {
	if cfg.PriceSource == "binance" {
		stream := exchange.NewPriceStream(cfg.BinanceWSURL, cfg.BinanceSymbol, log)
		go stream.Run(ctx)
		source := exchange.NewStreamingCandles(exchange.NewBinanceMarketData(cfg.RequestsPerSec), stream, time.Minute)
		return source, cfg.BinanceSymbol
	}
	return exchange.NewCoinbaseMarketData(cfg.CoinbaseAPIURL, cfg.RequestsPerSec, log), cfg.Symbol
}

func newProvider(cfg *models.Config, candles exchange.CandleSource, symbol string, quotes exchange.QuoteSource, gas exchange.GasOracle) *strategy.Provider {
	return &strategy.Provider{
		Candles:    candles,
		Quotes:     quotes,
		Gas:        gas,
		Symbol:     symbol,
		Timeframe:  models.Timeframe(cfg.Timeframe),
		BaseToken:  cfg.Strategy.BaseToken,
		QuoteToken: cfg.Strategy.QuoteToken,
		Taker:      cfg.Address,
		MinBase:    cfg.Strategy.MinBaseOrderAmount,
		MinQuote:   cfg.Strategy.MinQuoteOrderAmount,
		Rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// lockInstance 保证同一个实例键只有一个进程在运行。
func lockInstance(cfg *models.Config, key string) (lockfile.Lockfile, error) {
	dir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("创建数据目录失败: %w", err)
	}
	lock, err := lockfile.New(filepath.Join(dir, key+".lock"))
	if err != nil {
		return "", err
	}
	if err := lock.TryLock(); err != nil {
		return "", fmt.Errorf("实例 %s 已在运行: %w", key, err)
	}
	return lock, nil
}

func openJournal(cfg *models.Config) (storage.Journal, error) {
	if cfg.JournalPath == "" {
		return storage.NopJournal{}, nil
	}
	return storage.NewSQLiteJournal(cfg.JournalPath)
}

// runLive 连接链上网关和 0x API，按配置的间隔运行一个做市或交易实例，直到收到退出信号。
func runLive(ctx context.Context, cfg *models.Config, mode string, log *zap.Logger) error {
	log.Info("--- 启动实时模式 ---", zap.String("mode", mode), zap.Int("chain_id", cfg.ChainID))

	settings := settingsFrom(cfg)
	if settings.InstanceKey == "" {
		settings.InstanceKey = engine.DefaultInstanceKey(mode)
		log.Warn("未配置 instance_key，本次运行使用新生成的键", zap.String("instance", settings.InstanceKey))
	}
	lock, err := lockInstance(cfg, settings.InstanceKey)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开策略数据库失败: %w", err)
	}
	defer repo.Close()

	journal, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("打开交易流水失败: %w", err)
	}
	defer journal.Close()

	gateway, err := exchange.DialRPCGateway(ctx, cfg.RPCURL, cfg.ExchangeAddress, cfg.ChainID, log)
	if err != nil {
		return fmt.Errorf("连接RPC网关失败: %w", err)
	}
	defer gateway.Close()

	candles, symbol := candleSource(ctx, cfg, log)
	gas := exchange.NewEtherscanGasOracle(cfg.GasOracleURL, cfg.EtherscanAPIKey, cfg.RequestsPerSec, log)
	quotes := exchange.NewSwapQuoteAPI(cfg.ZrxAPIURL, cfg.RequestsPerSec, log)
	provider := newProvider(cfg, candles, symbol, quotes, gas)
	closer := strategy.NewProfitableClose(provider, cfg.MinProfitability, log)

	var bot ticker
	switch mode {
	case "marketmaker":
		open, err := strategy.NewOpenStrategy(cfg.Strategy.OpenStrategy.Config, provider)
		if err != nil {
			return err
		}
		bot = engine.NewMarketMakerEngine(settings, engine.MarketMakerDeps{
			Repo:     repo,
			Contract: gateway,
			Book:     exchange.NewSRAOrderBook(cfg.ZrxAPIURL, cfg.ChainID, cfg.RequestsPerSec, log),
			Wallet:   gateway,
			Open:     open,
			Close:    closer,
			Journal:  journal,
		}, log)
	default:
		trader, err := strategy.NewTradingStrategy(cfg.Strategy.OpenStrategy.Config, provider)
		if err != nil {
			return err
		}
		bot = engine.NewTradingEngine(settings, engine.TradingDeps{
			Repo:    repo,
			Wallet:  gateway,
			Trader:  trader,
			Close:   closer,
			Journal: journal,
		}, log)
	}

	sched := scheduler.New(ctx, log)
	interval := time.Duration(cfg.Strategy.IntervalSeconds) * time.Second
	if err := sched.Register(bot.InstanceKey(), interval, bot.Tick); err != nil {
		return err
	}
	sched.Start()
	log.Info("策略实例已启动", zap.String("instance", bot.InstanceKey()), zap.Duration("interval", interval))

	// 等待中断信号以实现优雅退出
	<-ctx.Done()
	sched.Stop()
	log.Info("机器人已成功停止。")
	return nil
}

// runPaper 用历史K线回放做市策略，成交由模拟盘撮合，结束后打印回测报告。
func runPaper(ctx context.Context, cfg *models.Config, dataPath string, log *zap.Logger) error {
	if dataPath == "" {
		return fmt.Errorf("paper 模式需要通过 --data 指定K线文件")
	}
	candles, err := downloader.ReadCandles(dataPath, log)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("历史数据文件 %s 没有K线", dataPath)
	}
	log.Info("--- 启动模拟盘回放 ---", zap.String("data", dataPath), zap.Int("candles", len(candles)))

	tf := models.Timeframe(cfg.Timeframe)
	width := time.Duration(tf.Granularity()) * time.Second
	first := candles[0]
	paper := exchange.NewPaperExchange(
		exchange.TokenInfo{Symbol: cfg.Strategy.BaseSymbol, Address: cfg.Strategy.BaseToken},
		exchange.TokenInfo{Symbol: cfg.Strategy.QuoteSymbol, Address: cfg.Strategy.QuoteToken},
		cfg.Paper,
		first.Open,
		time.Unix(first.Time, 0),
	)
	paper.LoadCandles(candles)

	repo, err := persistence.NewInMemoryBadgerRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	provider := newProvider(cfg, paper, cfg.Symbol, paper, nil)
	open, err := strategy.NewOpenStrategy(cfg.Strategy.OpenStrategy.Config, provider)
	if err != nil {
		return err
	}
	settings := settingsFrom(cfg)
	bot := engine.NewMarketMakerEngine(settings, engine.MarketMakerDeps{
		Repo:     repo,
		Contract: paper,
		Book:     paper,
		Wallet:   paper,
		Open:     open,
		Close:    strategy.NewProfitableClose(provider, cfg.MinProfitability, log),
		Clock:    paper,
	}, log)

	tokens := []exchange.TokenInfo{
		{Symbol: cfg.Strategy.BaseSymbol, Address: cfg.Strategy.BaseToken},
		{Symbol: cfg.Strategy.QuoteSymbol, Address: cfg.Strategy.QuoteToken},
	}
	equity := make([]float64, 0, len(candles))
	for _, c := range candles {
		if ctx.Err() != nil {
			log.Warn("收到退出信号，提前结束回放")
			break
		}
		// K线收盘后才可见
		paper.SetPrice(c.Open, c.High, c.Low, c.Close, time.Unix(c.Time, 0).Add(width))
		if err := bot.Tick(ctx); err != nil {
			log.Warn("回放tick失败", zap.Int64("time", c.Time), zap.Error(err))
		}
		balances, err := paper.GetBalances(ctx, cfg.Address, tokens)
		if err != nil {
			return err
		}
		base := balances.TokenBalance(cfg.Strategy.BaseToken)
		quote := balances.TokenBalance(cfg.Strategy.QuoteToken)
		equity = append(equity, base*c.Close+quote)
	}

	final, err := repo.Get(bot.InstanceKey())
	if err != nil {
		return err
	}
	if final == nil {
		return fmt.Errorf("回放结束后未找到策略 %s", bot.InstanceKey())
	}
	reporter.GenerateReport(log, reporter.CalculateMetrics(final, equity), cfg.Symbol)
	return nil
}

// runBands 打印当前价格与各级 ATR 价格带。
func runBands(ctx context.Context, cfg *models.Config, log *zap.Logger) error {
	source, symbol := candleSource(ctx, cfg, log)
	provider := newProvider(cfg, source, symbol, nil, nil)
	candles, err := provider.CandlesFor(ctx, "")
	if err != nil {
		return err
	}
	price, err := provider.CurrentPrice(ctx)
	if err != nil {
		return err
	}
	bands, err := bandsFor(candles, price)
	if err != nil {
		return err
	}
	log.Info("价格带", zap.String("symbol", symbol), zap.Float64("price", price), zap.Float64s("bands", bands))
	return nil
}

// bandsFor 计算价格带，历史不足时返回错误。
func bandsFor(candles []models.Candle, price float64) ([]float64, error) {
	bands := indicators.PriceBands(candles, price)
	if len(bands) == 0 {
		return nil, fmt.Errorf("K线数量不足，无法计算价格带 (%d 根)", len(candles))
	}
	return bands, nil
}

// runLadder 预览开仓策略在当前余额配置下会生成的挂单，不会下单。
func runLadder(ctx context.Context, cfg *models.Config, log *zap.Logger) error {
	source, symbol := candleSource(ctx, cfg, log)
	provider := newProvider(cfg, source, symbol, nil, nil)
	open, err := strategy.NewOpenStrategy(cfg.Strategy.OpenStrategy.Config, provider)
	if err != nil {
		return err
	}
	sells, err := open.GenerateSellOrders(ctx, cfg.Paper.BaseBalance)
	if err != nil {
		return err
	}
	buys, err := open.GenerateBuyOrders(ctx, cfg.Paper.QuoteBalance)
	if err != nil {
		return err
	}
	for _, o := range sells {
		log.Info("卖单", zap.Float64("price", o.Price), zap.Float64("base_amount", o.BaseAmount))
	}
	for _, o := range buys {
		log.Info("买单", zap.Float64("price", o.Price), zap.Float64("base_amount", o.BaseAmount))
	}
	log.Info("预览完成", zap.String("strategy", open.Name()), zap.Int("sells", len(sells)), zap.Int("buys", len(buys)))
	return nil
}

// runDownload 从币安下载K线并保存为 paper 模式可读取的CSV文件。
func runDownload(ctx context.Context, cfg *models.Config, dataPath, startDate, endDate string, log *zap.Logger) error {
	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式。start: %v, end: %v", err1, err2)
	}
	if dataPath == "" {
		dataPath = filepath.Join(cfg.DataDir, fmt.Sprintf("%s-%s-%s-%s.csv", cfg.BinanceSymbol, cfg.Timeframe, startDate, endDate))
	}
	d := downloader.NewKlineDownloader(log)
	return d.DownloadKlines(ctx, cfg.BinanceSymbol, models.Timeframe(cfg.Timeframe), dataPath, startTime, endTime)
}
