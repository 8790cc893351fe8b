package lifecycle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayan-finance/driver-sdk-sub000/internal/cache"
	"github.com/mayan-finance/driver-sdk-sub000/internal/calc"
	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/risk"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

const unit = 1_0000_0000

var driverAddr = common.HexToAddress("0xd1")

// lcExecutor 记录意图的执行器桩，可注入瞬时失败
type lcExecutor struct {
	mu          sync.Mutex
	intents     []chain.Intent
	failSubmits int // 前 n 次 Submit 返回瞬时错误
	attempts    int
}

func (e *lcExecutor) Submit(ctx context.Context, intent chain.Intent) (chain.TxRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts++
	if e.attempts <= e.failSubmits {
		return chain.TxRef{}, types.Transientf("nonce too low")
	}
	e.intents = append(e.intents, intent)
	return chain.TxRef{Chain: intent.Route.Dst, Hash: common.HexToHash("0xfe")}, nil
}

func (e *lcExecutor) Confirm(ctx context.Context, ref chain.TxRef, level chain.ConfirmLevel) error {
	return nil
}

func (e *lcExecutor) ReadOrderStatus(ctx context.Context, orderHash common.Hash) (types.OrderStatus, error) {
	return types.StatusCreated, nil
}

func (e *lcExecutor) Balance(ctx context.Context, token types.Token) (*big.Int, error) {
	return big.NewInt(1000 * unit), nil
}

func (e *lcExecutor) kinds() []chain.OpKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chain.OpKind, 0, len(e.intents))
	for _, i := range e.intents {
		out = append(out, i.Kind)
	}
	return out
}

type lcPriceFeed struct{}

func (lcPriceFeed) Price(ctx context.Context, token types.Token) (chain.PricePoint, error) {
	return chain.PricePoint{USD: decimal.NewFromInt(1), AsOf: time.Now()}, nil
}

type lcFees struct{}

func (lcFees) Estimate(ctx context.Context, order *types.Order) (types.CostEstimate, error) {
	return types.CostEstimate{}, nil
}

type lcQuotes struct{}

func (lcQuotes) Quote(ctx context.Context, src, dst types.Token, amountIn *big.Int) (*big.Int, error) {
	return nil, chain.ErrNoRoute
}

// lcUnlocker 记录移交的订单
type lcUnlocker struct {
	mu        sync.Mutex
	enqueued  []*types.Order
	singles   []*types.Order
	batchable bool
}

func (u *lcUnlocker) Enqueue(order *types.Order) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enqueued = append(u.enqueued, order)
}

func (u *lcUnlocker) PerformSingleUnlock(ctx context.Context, order *types.Order) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.singles = append(u.singles, order)
	return nil
}

func (u *lcUnlocker) Batchable(chainID types.ChainID) bool {
	return u.batchable
}

func (u *lcUnlocker) enqueuedLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.enqueued)
}

func (u *lcUnlocker) singlesLen() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.singles)
}

func lcOrder(minOut int64) *types.Order {
	return &types.Order{
		SrcChain:     2,
		DstChain:     5,
		SrcTxRef:     common.HexToHash("0xaa"),
		TokenIn:      types.Token{Symbol: "USDC", Decimals: 8},
		TokenOut:     types.Token{Symbol: "USDC", Decimals: 8},
		AmountIn:     big.NewInt(100 * unit),
		MinAmountOut: big.NewInt(minOut),
		Deadline:     time.Now().Add(time.Hour),
		Mode:         types.AuctionModeEnglish,
	}
}

func newTestOrchestrator(t *testing.T, executor chain.Executor, unlocker Unlocker) *Orchestrator {
	t.Helper()

	guard, err := risk.NewGuard(risk.Ceilings{}, nil)
	require.NoError(t, err)

	return NewOrchestrator(
		Config{
			Params: calc.Params{
				MaxOrderVolumeUSD: decimal.NewFromInt(1_000_000),
				ProtocolFeeBps:    3,
				SwapMarginBps:     30,
				NoFeedMarginBps:   70,
				QuoteClampPct:     110,
				OracleTolBps:      250,
				DepegCapBps:       10_000,
			},
			MaxSubmitRetry: 3,
			RetryBackoff:   time.Millisecond,
			SubmitTimeout:  time.Second,
			WorkerPoolSize: 4,
		},
		map[types.ChainID]chain.Executor{2: executor, 5: executor},
		lcQuotes{},
		lcPriceFeed{},
		lcFees{},
		cache.NewAuctionCache(16, nil),
		guard,
		unlocker,
		nil,
		nil,
		nil,
		driverAddr,
	)
}

func TestOrchestrator_BidOnNewOrder(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	order := lcOrder(98 * unit)
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		kinds := executor.kinds()
		return len(kinds) == 1 && kinds[0] == chain.OpBid
	}, 3*time.Second, 10*time.Millisecond)

	// 出价后挂在内存里等竞拍截止
	assert.Equal(t, 1, o.InFlight())

	// 重复观察同一订单不触发第二次出价
	dup := lcOrder(98 * unit)
	dup.Deadline = order.Deadline
	o.HandleNewOrder(dup)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, executor.kinds(), 1)
}

func TestOrchestrator_WinRunsToSettlement(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	order := lcOrder(98 * unit)
	hash := order.Hash()
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		return len(executor.kinds()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// 中标后一路推进到结算并移交解锁
	o.HandleAuctionResult(hash, driverAddr)

	require.Eventually(t, func() bool {
		return unlocker.enqueuedLen() == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []chain.OpKind{chain.OpBid, chain.OpFulfill, chain.OpSettle}, executor.kinds())
	assert.Equal(t, 0, o.InFlight())
}

func TestOrchestrator_LostAuctionClearsOrder(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	order := lcOrder(98 * unit)
	hash := order.Hash()
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		return len(executor.kinds()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// 别人中标：出清，不履约
	o.HandleAuctionResult(hash, common.HexToAddress("0x99"))

	require.Eventually(t, func() bool {
		return o.InFlight() == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []chain.OpKind{chain.OpBid}, executor.kinds())
	assert.Equal(t, 0, unlocker.enqueuedLen())
}

func TestOrchestrator_UnattainableOrderAborted(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	// 最小产出等于输入，扣费后必然达不到
	o.HandleNewOrder(lcOrder(100 * unit))

	require.Eventually(t, func() bool {
		return o.InFlight() == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Empty(t, executor.kinds())
}

func TestOrchestrator_ExpiredOrderAborted(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	order := lcOrder(98 * unit)
	order.Deadline = time.Now().Add(-time.Minute)
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		return o.InFlight() == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Empty(t, executor.kinds())
}

func TestOrchestrator_DirectModeSkipsAuction(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	// 无竞拍模式：出价后不等截止回调直接履约
	order := lcOrder(98 * unit)
	order.Mode = types.AuctionModeNone
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		return unlocker.enqueuedLen() == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []chain.OpKind{chain.OpBid, chain.OpFulfill, chain.OpSettle}, executor.kinds())
	assert.Equal(t, 0, o.InFlight())
}

func TestOrchestrator_TransientSubmitRetried(t *testing.T) {
	// 前两次提交瞬时失败，第三次成功
	executor := &lcExecutor{failSubmits: 2}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	o.HandleNewOrder(lcOrder(98 * unit))

	require.Eventually(t, func() bool {
		kinds := executor.kinds()
		return len(kinds) == 1 && kinds[0] == chain.OpBid
	}, 3*time.Second, 10*time.Millisecond)

	executor.mu.Lock()
	assert.Equal(t, 3, executor.attempts)
	executor.mu.Unlock()
}

func TestOrchestrator_NonBatchableGoesSingleUnlock(t *testing.T) {
	executor := &lcExecutor{}
	unlocker := &lcUnlocker{batchable: false}
	o := newTestOrchestrator(t, executor, unlocker)
	defer o.Stop()

	order := lcOrder(98 * unit)
	order.Mode = types.AuctionModeNone
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		return unlocker.singlesLen() == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, unlocker.enqueuedLen())
}

func TestOrchestrator_ClosedAuctionNotRebid(t *testing.T) {
	// 出价一直瞬时失败，订单停在初始状态
	executor := &lcExecutor{failSubmits: 1000}
	unlocker := &lcUnlocker{batchable: true}
	o := newTestOrchestrator(t, executor, unlocker)
	o.Start(context.Background(), 20*time.Millisecond)
	defer o.Stop()

	order := lcOrder(98 * unit)
	hash := order.Hash()
	o.HandleNewOrder(order)

	require.Eventually(t, func() bool {
		executor.mu.Lock()
		defer executor.mu.Unlock()
		return executor.attempts >= 4
	}, 3*time.Second, 10*time.Millisecond)

	// 竞拍截止后兜底扫描不得再出价，订单出清
	o.HandleAuctionResult(hash, driverAddr)

	require.Eventually(t, func() bool {
		return o.InFlight() == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Empty(t, executor.kinds())
}

func TestOrchestrator_UnknownAuctionResultIgnored(t *testing.T) {
	executor := &lcExecutor{}
	o := newTestOrchestrator(t, executor, &lcUnlocker{batchable: true})
	defer o.Stop()

	// 不认识的订单哈希直接忽略，不 panic
	o.HandleAuctionResult(common.HexToHash("0x123"), driverAddr)
	assert.Equal(t, 0, o.InFlight())
}
