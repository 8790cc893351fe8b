package unlock

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// fakeAttestor 可控的证明网络桩
type fakeAttestor struct {
	mu       sync.Mutex
	nextSeq  uint64
	posts    [][]byte
	ready    map[uint64]bool
	fetchErr error
}

func newFakeAttestor() *fakeAttestor {
	return &fakeAttestor{ready: make(map[uint64]bool)}
}

func (a *fakeAttestor) PostMessage(ctx context.Context, route types.Route, payload []byte) (uint64, chain.TxRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSeq++
	a.posts = append(a.posts, payload)
	tx := chain.TxRef{Chain: route.Src, Hash: common.HexToHash(fmt.Sprintf("0x%064x", a.nextSeq))}
	return a.nextSeq, tx, nil
}

func (a *fakeAttestor) FetchAttestation(ctx context.Context, sequence uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	if !a.ready[sequence] {
		return nil, types.Transientf("attestation %d not ready", sequence)
	}
	return []byte("signed"), nil
}

func (a *fakeAttestor) markReady(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready[seq] = true
}

func (a *fakeAttestor) postCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.posts)
}

// fakeExecutor 记录收到的交易意图
type fakeExecutor struct {
	mu          sync.Mutex
	intents     []chain.Intent
	chainStatus types.OrderStatus // ReadOrderStatus 返回的链上状态
}

func (e *fakeExecutor) Submit(ctx context.Context, intent chain.Intent) (chain.TxRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.intents = append(e.intents, intent)
	return chain.TxRef{Chain: intent.Route.Src, Hash: common.HexToHash("0xfe")}, nil
}

func (e *fakeExecutor) Confirm(ctx context.Context, ref chain.TxRef, level chain.ConfirmLevel) error {
	return nil
}

func (e *fakeExecutor) ReadOrderStatus(ctx context.Context, orderHash common.Hash) (types.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chainStatus, nil
}

func (e *fakeExecutor) Balance(ctx context.Context, token types.Token) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (e *fakeExecutor) submitted() []chain.Intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chain.Intent, len(e.intents))
	copy(out, e.intents)
	return out
}

// fakeJournal 内存批次流水
type fakeJournal struct {
	mu      sync.Mutex
	rows    []*models.UnlockBatch
	applied []string
}

func (j *fakeJournal) Create(batch *models.UnlockBatch) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows = append(j.rows, batch)
	return nil
}

func (j *fakeJournal) MarkApplied(txHash string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.applied = append(j.applied, txHash)
	return nil
}

func (j *fakeJournal) ListPending() ([]*models.UnlockBatch, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.UnlockBatch, len(j.rows))
	copy(out, j.rows)
	return out, nil
}

func settledOrder(i int) *types.Order {
	return &types.Order{
		SrcChain:     2,
		DstChain:     5,
		SrcTxRef:     common.HexToHash(fmt.Sprintf("0x%064x", i)),
		TokenIn:      types.Token{Symbol: "USDC", Decimals: 8},
		TokenOut:     types.Token{Symbol: "USDC", Decimals: 8},
		AmountIn:     big.NewInt(100),
		MinAmountOut: big.NewInt(98),
		Status:       types.StatusSettled,
	}
}

func testCoordinator(attestor chain.Attestor, executor chain.Executor, journal BatchJournal) *Coordinator {
	return NewCoordinator(Config{
		BatchThreshold: 8,
		BatchMax:       20,
	}, map[types.ChainID]chain.Executor{2: executor, 5: executor}, attestor, journal, nil)
}

func TestCoordinator_PostsWhenThresholdReached(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	c := testCoordinator(attestor, executor, nil)

	route := types.Route{Src: 2, Dst: 5}

	// 7 笔不足门槛，不发批
	for i := 1; i <= 7; i++ {
		c.Enqueue(settledOrder(i))
	}
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 0, attestor.postCount())
	assert.Equal(t, 7, c.QueuedLen(route))

	// 第 8 笔触发起批，队列清空
	c.Enqueue(settledOrder(8))
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 1, attestor.postCount())
	assert.Equal(t, 0, c.QueuedLen(route))
}

func TestCoordinator_ThresholdSizedBatchLeavesRemainder(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	c := testCoordinator(attestor, executor, nil)
	route := types.Route{Src: 2, Dst: 5}

	// 10 笔只取最旧 8 笔成批，剩 2 笔继续攒
	for i := 1; i <= 10; i++ {
		c.Enqueue(settledOrder(i))
	}
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 1, attestor.postCount())
	assert.Equal(t, 2, c.QueuedLen(route))

	// 不足门槛不再发批
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 1, attestor.postCount())

	// 再攒 6 笔凑满门槛才发下一批
	for i := 11; i <= 16; i++ {
		c.Enqueue(settledOrder(i))
	}
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 2, attestor.postCount())
	assert.Equal(t, 0, c.QueuedLen(route))
}

func TestCoordinator_ProtocolCapBoundsThreshold(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	// 本地门槛超过协议单批上限时按上限起批
	c := NewCoordinator(Config{
		BatchThreshold: 8,
		BatchMax:       5,
	}, map[types.ChainID]chain.Executor{2: executor}, attestor, nil, nil)

	for i := 1; i <= 5; i++ {
		c.Enqueue(settledOrder(i))
	}
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 1, attestor.postCount())
}

func TestCoordinator_EnqueueDedup(t *testing.T) {
	attestor := newFakeAttestor()
	c := testCoordinator(attestor, &fakeExecutor{}, nil)

	o := settledOrder(1)
	c.Enqueue(o)
	c.Enqueue(o)
	assert.Equal(t, 1, c.QueuedLen(types.Route{Src: 2, Dst: 5}))
}

func TestCoordinator_MembersDisjointAcrossBatches(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	c := testCoordinator(attestor, executor, nil)

	for i := 1; i <= 8; i++ {
		c.Enqueue(settledOrder(i))
	}
	c.PostReadyBatches(context.Background())
	require.Equal(t, 1, attestor.postCount())

	// 在途订单重新登记被忽略，不会进入第二个批次
	for i := 1; i <= 8; i++ {
		c.Enqueue(settledOrder(i))
	}
	assert.Equal(t, 0, c.QueuedLen(types.Route{Src: 2, Dst: 5}))
	c.PostReadyBatches(context.Background())
	assert.Equal(t, 1, attestor.postCount())
}

func TestCoordinator_DrainAppliesBatch(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	journal := &fakeJournal{}
	c := testCoordinator(attestor, executor, journal)

	orders := make([]*types.Order, 0, 8)
	for i := 1; i <= 8; i++ {
		o := settledOrder(i)
		orders = append(orders, o)
		c.Enqueue(o)
	}
	c.PostReadyBatches(context.Background())
	require.Equal(t, 1, attestor.postCount())
	for _, o := range orders {
		assert.Equal(t, types.StatusUnlockPosted, o.Status)
	}

	// 证明未就绪：批次留在队列，不提交
	c.DrainPendingBatches(context.Background())
	assert.Empty(t, executor.submitted())

	// 证明就绪后整批应用
	attestor.markReady(1)
	c.DrainPendingBatches(context.Background())

	intents := executor.submitted()
	require.Len(t, intents, 1)
	assert.Equal(t, chain.OpUnlockBatch, intents[0].Kind)
	assert.Len(t, intents[0].OrderHashes, 8)
	assert.Equal(t, []byte("signed"), intents[0].Attestation)

	// 流水标记已应用
	journal.mu.Lock()
	assert.Len(t, journal.applied, 1)
	journal.mu.Unlock()

	// 已解锁订单进入短期记忆，重复登记被挡
	for _, o := range orders {
		assert.True(t, c.Unlocked(o.Hash()))
		c.Enqueue(o)
	}
	assert.Equal(t, 0, c.QueuedLen(types.Route{Src: 2, Dst: 5}))
}

func TestCoordinator_DrainRetriesNextCycle(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	c := testCoordinator(attestor, executor, nil)

	for i := 1; i <= 8; i++ {
		c.Enqueue(settledOrder(i))
	}
	c.PostReadyBatches(context.Background())

	// 连续两个周期未就绪，批次不丢
	c.DrainPendingBatches(context.Background())
	c.DrainPendingBatches(context.Background())
	assert.Empty(t, executor.submitted())

	attestor.markReady(1)
	c.DrainPendingBatches(context.Background())
	assert.Len(t, executor.submitted(), 1)
}

func TestCoordinator_RecoverPending(t *testing.T) {
	journal := &fakeJournal{}
	hashes := make([]string, 0, 8)
	orders := make([]*types.Order, 0, 8)
	for i := 1; i <= 8; i++ {
		o := settledOrder(i)
		orders = append(orders, o)
		hashes = append(hashes, o.Hash().Hex())
	}
	journal.rows = append(journal.rows, &models.UnlockBatch{
		TxHash:      common.HexToHash("0x01").Hex(),
		SrcChain:    2,
		DstChain:    5,
		Sequence:    42,
		OrderHashes: hashes,
		PostedAt:    time.Now(),
	})

	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	c := testCoordinator(attestor, executor, journal)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()
	c.Stop()

	// 恢复的批内订单在途，重新登记不进队列
	for _, o := range orders {
		c.Enqueue(o)
	}
	assert.Equal(t, 0, c.QueuedLen(types.Route{Src: 2, Dst: 5}))

	// 证明就绪后直接可排空
	attestor.markReady(42)
	c.DrainPendingBatches(context.Background())
	intents := executor.submitted()
	require.Len(t, intents, 1)
	assert.Len(t, intents[0].OrderHashes, 8)
}

func TestCoordinator_PerformSingleUnlock(t *testing.T) {
	attestor := newFakeAttestor()
	executor := &fakeExecutor{}
	c := testCoordinator(attestor, executor, nil)

	o := settledOrder(1)
	attestor.markReady(1)

	require.NoError(t, c.PerformSingleUnlock(context.Background(), o))
	assert.Equal(t, types.StatusUnlocked, o.Status)

	intents := executor.submitted()
	require.Len(t, intents, 1)
	assert.Equal(t, chain.OpUnlockSingle, intents[0].Kind)

	// 二次调用幂等，不再上链
	require.NoError(t, c.PerformSingleUnlock(context.Background(), o))
	assert.Len(t, executor.submitted(), 1)
}

func TestCoordinator_SingleUnlockSurvivesRestart(t *testing.T) {
	// 重启后内存记忆为空，靠链上权威状态短路
	attestor := newFakeAttestor()
	executor := &fakeExecutor{chainStatus: types.StatusUnlocked}
	c := testCoordinator(attestor, executor, nil)

	o := settledOrder(1)
	require.NoError(t, c.PerformSingleUnlock(context.Background(), o))

	// 不重复发布证明，不重复上链
	assert.Equal(t, 0, attestor.postCount())
	assert.Empty(t, executor.submitted())
	assert.Equal(t, types.StatusUnlocked, o.Status)
	assert.True(t, c.Unlocked(o.Hash()))
}

func TestCoordinator_SingleUnlockPostedNotReposted(t *testing.T) {
	// 链上显示证明请求已发布：不再重复发布，也不视为已解锁
	attestor := newFakeAttestor()
	executor := &fakeExecutor{chainStatus: types.StatusUnlockPosted}
	c := testCoordinator(attestor, executor, nil)

	o := settledOrder(1)
	require.NoError(t, c.PerformSingleUnlock(context.Background(), o))

	assert.Equal(t, 0, attestor.postCount())
	assert.Empty(t, executor.submitted())
	assert.False(t, c.Unlocked(o.Hash()))
}

func TestCoordinator_Batchable(t *testing.T) {
	c := NewCoordinator(Config{}, nil, nil, nil, map[types.ChainID]bool{2: true, 3: false})
	assert.True(t, c.Batchable(2))
	assert.False(t, c.Batchable(3))

	// 未配置能力表默认可批量
	c2 := NewCoordinator(Config{}, nil, nil, nil, nil)
	assert.True(t, c2.Batchable(9))
}

func TestEncodeUnlockPayload(t *testing.T) {
	route := types.Route{Src: 2, Dst: 5}
	h1 := common.HexToHash("0x01")
	h2 := common.HexToHash("0x02")

	payload := encodeUnlockPayload(route, []common.Hash{h1, h2})

	require.Len(t, payload, 1+2+2+2+64)
	assert.Equal(t, byte(1), payload[0])
	assert.Equal(t, []byte{0, 2}, payload[1:3])
	assert.Equal(t, []byte{0, 5}, payload[3:5])
	assert.Equal(t, []byte{0, 2}, payload[5:7])
	assert.Equal(t, h1.Bytes(), payload[7:39])
	assert.Equal(t, h2.Bytes(), payload[39:71])
}
