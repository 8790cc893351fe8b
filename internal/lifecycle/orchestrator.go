package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"

	"github.com/mayan-finance/driver-sdk-sub000/internal/cache"
	"github.com/mayan-finance/driver-sdk-sub000/internal/calc"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
	"github.com/mayan-finance/driver-sdk-sub000/internal/nats"
	"github.com/mayan-finance/driver-sdk-sub000/internal/risk"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/concurrent"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// Publisher NATS 发布接口
type Publisher interface {
	PublishOrderEvent(event *nats.OrderEvent) error
	PublishOperatorAlert(alert *nats.OperatorAlert) error
}

// Unlocker 解锁入口
type Unlocker interface {
	Enqueue(order *types.Order)
	PerformSingleUnlock(ctx context.Context, order *types.Order) error
	Batchable(chainID types.ChainID) bool
}

// RebalanceLog 调拨请求去重日志
type RebalanceLog interface {
	Exists(orderHash string) (bool, error)
	Record(req *models.RebalanceRequest) error
}

// Config 编排器参数
type Config struct {
	// 竞拍参数，见 calc.Params
	Params calc.Params
	// 瞬时失败最大重试次数
	MaxSubmitRetry int
	// 重试基础退避，第 n 次为 n 倍
	RetryBackoff time.Duration
	// 单笔链上操作超时
	SubmitTimeout time.Duration
	// 协程池大小
	WorkerPoolSize int
}

// Orchestrator 订单编排器
//
// 每个订单从观察到终态的推进都在这里完成：
// 出价 → 中标 → 履约 → 结算 → 移交解锁。
// 同一订单的推进串行（按哈希加锁），不同订单并行（协程池）。
type Orchestrator struct {
	cfg Config

	executors  map[types.ChainID]chain.Executor
	quotes     chain.QuoteSource
	feed       chain.PriceFeed
	fees       chain.FeeEstimator
	auctions   *cache.AuctionCache
	guard      *risk.Guard
	unlocker   Unlocker
	rebalancer chain.Rebalancer
	rebalLog   RebalanceLog
	publisher  Publisher

	// 本驱动的链上身份，用于判断是否中标
	driverAddress common.Address

	orders     concurrent.Map[common.Hash, *types.Order]
	orderLocks concurrent.Map[common.Hash, *sync.Mutex]

	pool *ants.Pool
	done chan struct{}
	wg   sync.WaitGroup
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg Config,
	executors map[types.ChainID]chain.Executor,
	quotes chain.QuoteSource,
	feed chain.PriceFeed,
	fees chain.FeeEstimator,
	auctions *cache.AuctionCache,
	guard *risk.Guard,
	unlocker Unlocker,
	rebalancer chain.Rebalancer,
	rebalLog RebalanceLog,
	publisher Publisher,
	driverAddress common.Address,
) *Orchestrator {
	if cfg.MaxSubmitRetry <= 0 {
		cfg.MaxSubmitRetry = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 45 * time.Second
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 30
	}

	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("create ants pool failed")
	}

	return &Orchestrator{
		cfg:           cfg,
		executors:     executors,
		quotes:        quotes,
		feed:          feed,
		fees:          fees,
		auctions:      auctions,
		guard:         guard,
		unlocker:      unlocker,
		rebalancer:    rebalancer,
		rebalLog:      rebalLog,
		publisher:     publisher,
		driverAddress: driverAddress,
		pool:          pool,
		done:          make(chan struct{}),
	}
}

// Start 启动兜底扫描
// 瞬时失败的订单不丢，定期重新触发推进，直到成功、放弃或过期。
func (o *Orchestrator) Start(ctx context.Context, rescanInterval time.Duration) {
	if rescanInterval <= 0 {
		rescanInterval = time.Minute
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ticker := time.NewTicker(rescanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				o.rescan()
			case <-o.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// rescan 重新触发停在非终态的订单
func (o *Orchestrator) rescan() {
	o.orders.Range(func(hash common.Hash, order *types.Order) bool {
		switch order.Status {
		case types.StatusCreated:
			o.dispatch(hash, func(ctx context.Context, ord *types.Order) {
				if ord.Status == types.StatusCreated {
					o.advanceBid(ctx, ord)
				}
			})
		case types.StatusWon:
			o.dispatch(hash, func(ctx context.Context, ord *types.Order) {
				if ord.Status == types.StatusWon {
					o.advanceFulfill(ctx, ord)
				}
			})
		case types.StatusFulfilled:
			o.dispatch(hash, func(ctx context.Context, ord *types.Order) {
				if ord.Status == types.StatusFulfilled {
					o.advanceSettle(ctx, ord)
				}
			})
		}
		return true
	})
}

// Stop 停止编排器，等待在途任务结束
func (o *Orchestrator) Stop() {
	close(o.done)
	o.wg.Wait()
	o.pool.Release()
}

// InFlight 当前处理中的订单数
func (o *Orchestrator) InFlight() int {
	return int(o.orders.Len())
}

// HandleNewOrder 接收一笔新观察到的订单
// 已在处理中的订单忽略，推进任务丢进协程池。
func (o *Orchestrator) HandleNewOrder(order *types.Order) {
	hash := order.Hash()

	if _, loaded := o.orders.LoadOrStore(hash, order); loaded {
		return
	}
	monitor.SetOrdersInFlight(o.InFlight())

	o.dispatch(hash, func(ctx context.Context, ord *types.Order) {
		o.advanceBid(ctx, ord)
	})
}

// HandleAuctionResult 竞拍截止回调
// 中标继续履约，落标直接出清。
func (o *Orchestrator) HandleAuctionResult(orderHash common.Hash, winner common.Address) {
	if _, ok := o.orders.Load(orderHash); !ok {
		return
	}

	if winner != o.driverAddress {
		logger.Info().
			Str("order", orderHash.Hex()).
			Str("winner", winner.Hex()).
			Msg("auction lost")
		o.dispatch(orderHash, func(ctx context.Context, ord *types.Order) {
			o.finish(ord, types.StatusCancelled)
		})
		return
	}

	o.dispatch(orderHash, func(ctx context.Context, ord *types.Order) {
		// 竞拍截止从此刻起生效：出价未确认的订单不得再被兜底扫描重新出价
		ord.AuctionClosed = true
		if ord.Status != types.StatusBid {
			return
		}
		ord.Status = types.StatusWon
		monitor.IncAuctionsWon()
		o.publishEvent(ord, "")
		o.advanceFulfill(ctx, ord)
	})
}

// dispatch 把订单推进任务丢进协程池，按订单哈希串行
func (o *Orchestrator) dispatch(hash common.Hash, fn func(ctx context.Context, order *types.Order)) {
	o.wg.Add(1)
	err := o.pool.Submit(func() {
		defer o.wg.Done()

		select {
		case <-o.done:
			return
		default:
		}

		order, ok := o.orders.Load(hash)
		if !ok {
			return
		}

		lock := o.orderLock(hash)
		lock.Lock()
		defer lock.Unlock()

		fn(context.Background(), order)
	})
	if err != nil {
		o.wg.Done()
		logger.Error().Err(err).Str("order", hash.Hex()).Msg("submit order task failed")
	}
}

func (o *Orchestrator) orderLock(hash common.Hash) *sync.Mutex {
	lock, _ := o.orderLocks.LoadOrStore(hash, &sync.Mutex{})
	return lock
}

// finish 订单到达终态后的出清
func (o *Orchestrator) finish(order *types.Order, status types.OrderStatus) {
	hash := order.Hash()
	order.Status = status

	o.orders.Delete(hash)
	o.orderLocks.Delete(hash)
	o.auctions.Drop(hash)
	monitor.SetOrdersInFlight(o.InFlight())

	o.publishEvent(order, "")

	logger.Info().
		Str("order", hash.Hex()).
		Str("status", status.String()).
		Msg("order finished")
}

// publishEvent 发布订单生命周期事件
func (o *Orchestrator) publishEvent(order *types.Order, txHash string) {
	if o.publisher == nil {
		return
	}

	event := &nats.OrderEvent{
		OrderHash: order.Hash().Hex(),
		SrcChain:  uint16(order.SrcChain),
		DstChain:  uint16(order.DstChain),
		Status:    order.Status.String(),
		TxHash:    txHash,
	}
	if order.LastBid != nil {
		event.Amount = order.LastBid.String()
	}
	if order.LastFulfill != nil {
		event.Amount = order.LastFulfill.String()
	}
	if !order.BookedLossUSD.IsZero() {
		event.LossUSD = order.BookedLossUSD.StringFixed(4)
	}

	if err := o.publisher.PublishOrderEvent(event); err != nil {
		logger.Error().Err(err).Str("order", event.OrderHash).Msg("publish order event failed")
	}
}

// alertFatal 致命错误升级给运维
func (o *Orchestrator) alertFatal(order *types.Order, component string, err error) {
	logger.Error().
		Err(err).
		Str("order", order.Hash().Hex()).
		Str("component", component).
		Msg("fatal condition, operator attention required")

	if o.publisher == nil {
		return
	}
	alert := &nats.OperatorAlert{
		OrderHash: order.Hash().Hex(),
		Component: component,
		Reason:    "unrecoverable order state",
		Detail:    err.Error(),
	}
	if pubErr := o.publisher.PublishOperatorAlert(alert); pubErr != nil {
		logger.Error().Err(pubErr).Msg("publish operator alert failed")
	}
}
