package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/mayan-finance/driver-sdk-sub000/config"
	"github.com/mayan-finance/driver-sdk-sub000/internal/cache"
	"github.com/mayan-finance/driver-sdk-sub000/internal/calc"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain/api"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain/evm"
	"github.com/mayan-finance/driver-sdk-sub000/internal/cleaner"
	"github.com/mayan-finance/driver-sdk-sub000/internal/dal"
	"github.com/mayan-finance/driver-sdk-sub000/internal/dao"
	"github.com/mayan-finance/driver-sdk-sub000/internal/feed"
	"github.com/mayan-finance/driver-sdk-sub000/internal/lifecycle"
	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
	"github.com/mayan-finance/driver-sdk-sub000/internal/nats"
	"github.com/mayan-finance/driver-sdk-sub000/internal/pricefeed"
	"github.com/mayan-finance/driver-sdk-sub000/internal/risk"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/internal/unlock"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/sigproc"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.Parse()

	// 加载配置
	if err := config.Init(configFile); err != nil {
		panic(err)
	}
	cfg := config.Get()

	// 初始化日志
	if err := initLogger(cfg); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Close()

	logger.Info().Msg("driver service starting...")

	// 初始化指标
	monitor.InitMetrics()

	// 初始化数据库
	dal.InitDB(cfg.MySQL)
	dal.AutoMigrate()
	dao.InitDAO(dal.DB())

	// 历史数据清理
	dataCleaner := cleaner.NewCleaner(dal.DB())
	dataCleaner.Start()

	// 初始化 NATS
	publisher, err := nats.NewPublisher(cfg.NATS.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("init nats publisher failed")
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 外围服务客户端
	quoteSvc := api.NewQuoteService(cfg.Services.QuoteURL, cfg.Services.Timeout)
	attestorSvc := api.NewAttestorService(cfg.Services.AttestorURL, cfg.Services.Timeout)
	signerCodec := api.NewSignerCodec(cfg.Services.SignerURL, cfg.Services.Timeout)

	var rebalancer chain.Rebalancer
	if cfg.Services.RebalancerURL != "" {
		rebalancer = api.NewRebalancerService(cfg.Services.RebalancerURL, cfg.Services.Timeout)
	}

	// 按配置逐链建执行器
	executors, batchable := buildExecutors(cfg, signerCodec)
	if len(executors) == 0 {
		logger.Fatal().Msg("no chains configured")
	}

	// 价格缓存层
	prices := pricefeed.NewCachedFeed(quoteSvc, cfg.Feed.PriceStaleAfter)

	// 竞价缓存，未命中回源链上权威状态
	auctions := cache.NewAuctionCache(cache.DefaultAuctionCapacity, signerCodec.AuctionState)

	// 亏损风控
	guard, err := risk.NewGuard(risk.Ceilings{
		Window10m: decimal.NewFromFloat(cfg.Risk.Ceiling10m),
		Window1h:  decimal.NewFromFloat(cfg.Risk.Ceiling1h),
		Window24h: decimal.NewFromFloat(cfg.Risk.Ceiling24h),
		Daily:     decimal.NewFromFloat(cfg.Risk.CeilingDaily),
	}, dao.Loss())
	if err != nil {
		logger.Fatal().Err(err).Msg("init loss guard failed")
	}

	// 解锁协调器
	coordinator := unlock.NewCoordinator(unlock.Config{
		BatchThreshold:     cfg.Unlock.BatchThreshold,
		BatchMax:           cfg.Unlock.BatchMax,
		DrainInterval:      cfg.Unlock.DrainInterval,
		AttestationTimeout: cfg.Unlock.AttestationTimeout,
		UnlockedTTL:        cfg.Unlock.UnlockedTTL,
	}, executors, attestorSvc, dao.UnlockBatch(), batchable)
	if err := coordinator.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start unlock coordinator failed")
	}

	// 订单编排器
	orchestrator := lifecycle.NewOrchestrator(
		lifecycle.Config{
			Params: calc.Params{
				MaxOrderVolumeUSD: decimal.NewFromFloat(cfg.Driver.MaxOrderVolumeUSD),
				ProtocolFeeBps:    cfg.Driver.ProtocolFeeBps,
				SwapMarginBps:     cfg.Driver.SwapMarginBps,
				NoFeedMarginBps:   cfg.Driver.NoFeedMarginBps,
				QuoteClampPct:     cfg.Driver.QuoteClampPct,
				OracleTolBps:      cfg.Driver.OracleTolBps,
				DepegCapBps:       cfg.Driver.DepegCapBps,
			},
			MaxSubmitRetry: cfg.Driver.MaxSubmitRetry,
			RetryBackoff:   cfg.Driver.RetryBackoff,
			SubmitTimeout:  cfg.Driver.SubmitTimeout,
			WorkerPoolSize: cfg.Driver.WorkerPoolSize,
		},
		executors,
		quoteSvc,
		prices,
		quoteSvc,
		auctions,
		guard,
		coordinator,
		rebalancer,
		dao.Rebalance(),
		publisher,
		common.HexToAddress(cfg.Services.DriverAddress),
	)
	orchestrator.Start(ctx, time.Minute)

	// 竞拍行情
	feedClient := feed.NewClient(feed.Config{
		WSURL:             cfg.Feed.WSURL,
		ReconnectInterval: cfg.Feed.ReconnectInterval,
		ReadTimeout:       cfg.Feed.ReadTimeout,
	}, orchestrator, auctions, publisher)
	if err := feedClient.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start auction feed failed")
	}

	// 健康检查服务器
	healthServer := monitor.NewHealthServer(
		cfg.Monitor.HealthServerAddr,
		feedClient,
		publisher,
		orchestrator,
	)
	if err := healthServer.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start health server failed")
	}

	logger.Info().
		Str("feed_url", cfg.Feed.WSURL).
		Str("health_addr", cfg.Monitor.HealthServerAddr).
		Int("chains", len(executors)).
		Msg("driver service started successfully")

	// 优雅关闭
	sigproc.GracefulShutdown(func(sig os.Signal) {
		logger.Info().Str("signal", sig.String()).Msg("shutting down...")

		// 停止数据清理器
		dataCleaner.Stop()

		// 停止接收新订单
		feedClient.Close()
		cancel()

		// 停止编排与解锁
		orchestrator.Stop()
		coordinator.Stop()

		// 关闭健康检查服务器
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthServer.Stop(shutdownCtx)

		// 关闭配置重载
		config.Stop()

		// 关闭数据库
		dal.CloseDB()

		logger.Info().Msg("driver service stopped")
	})

	<-ctx.Done()
}

// buildExecutors 按配置建立各链执行器与批量解锁能力表
func buildExecutors(cfg *config.Config, codec evm.Codec) (map[types.ChainID]chain.Executor, map[types.ChainID]bool) {
	executors := make(map[types.ChainID]chain.Executor, len(cfg.Chains))
	batchable := make(map[types.ChainID]bool, len(cfg.Chains))

	for _, cc := range cfg.Chains {
		clients := make([]*ethclient.Client, 0, len(cc.RPCURLs))
		for _, url := range cc.RPCURLs {
			client, err := ethclient.Dial(url)
			if err != nil {
				logger.Error().Err(err).Str("chain", cc.Name).Str("url", url).Msg("rpc dial failed")
				continue
			}
			clients = append(clients, client)
		}
		if len(clients) == 0 {
			logger.Error().Str("chain", cc.Name).Msg("no usable rpc node, chain skipped")
			continue
		}

		id := types.ChainID(cc.ID)
		executors[id] = evm.NewExecutor(id, clients, codec)
		batchable[id] = cc.Batchable

		logger.Info().Str("chain", cc.Name).Int("nodes", len(clients)).Msg("chain executor ready")
	}

	return executors, batchable
}

func initLogger(cfg *config.Config) error {
	return logger.NewBuilder().
		SetMaxSize(cfg.Logger.MaxSize).
		SetMaxBackups(cfg.Logger.MaxBackups).
		SetMaxAge(cfg.Logger.MaxAge).
		SetLevel(cfg.Logger.Level).
		EnableCompression(cfg.Logger.Compress).
		EnableConsoleOutput(cfg.Logger.Console).
		Build()
}
