package unlock

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/models"
	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// Config 协调器参数
type Config struct {
	// 起批门槛，不足则继续攒单
	BatchThreshold int
	// 协议允许的单批上限
	BatchMax int
	// 排空周期
	DrainInterval time.Duration
	// 单次证明拉取超时
	AttestationTimeout time.Duration
	// 已解锁订单的短期记忆时长
	UnlockedTTL time.Duration
}

// BatchJournal 批次流水持久化接口
type BatchJournal interface {
	Create(batch *models.UnlockBatch) error
	MarkApplied(txHash string) error
	ListPending() ([]*models.UnlockBatch, error)
}

// pendingOrder 已结算、等待解锁的订单
type pendingOrder struct {
	order     *types.Order
	settledAt time.Time
}

// pendingBatch 已发布证明请求、等待证明与源链应用的批次
type pendingBatch struct {
	route    types.Route
	sequence uint64
	postTx   chain.TxRef
	hashes   []common.Hash
	postedAt time.Time
}

// Coordinator 解锁协调器
//
// 已结算订单按 (源链, 目标链) 路线攒批，攒够门槛后整批发布证明请求，
// 摊薄跨链证明成本。每个排空周期对每个在途批次只拉一次证明，
// 证明到手后整批在源链应用。批内订单互不重叠，应用失败整批下周期重试。
type Coordinator struct {
	cfg       Config
	executors map[types.ChainID]chain.Executor
	attestor  chain.Attestor
	journal   BatchJournal
	// 该链是否参与批量解锁
	batchable map[types.ChainID]bool

	mu       sync.Mutex
	queue    map[types.Route][]*pendingOrder
	inFlight map[common.Hash]struct{} // 已进入某个在途批次的订单
	batches  []*pendingBatch

	// 路线级锁：同一路线的发布与排空不并发
	routeLocks sync.Map

	// 短期记忆已解锁订单，挡住迟到的重复请求
	unlocked *gocache.Cache

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCoordinator 创建解锁协调器
func NewCoordinator(cfg Config, executors map[types.ChainID]chain.Executor, attestor chain.Attestor, journal BatchJournal, batchable map[types.ChainID]bool) *Coordinator {
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 8
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 20
	}
	// 协议上限压过本地门槛
	if cfg.BatchThreshold > cfg.BatchMax {
		cfg.BatchThreshold = cfg.BatchMax
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 30 * time.Second
	}
	if cfg.AttestationTimeout <= 0 {
		cfg.AttestationTimeout = 20 * time.Second
	}
	if cfg.UnlockedTTL <= 0 {
		cfg.UnlockedTTL = 30 * time.Minute
	}

	return &Coordinator{
		cfg:       cfg,
		executors: executors,
		attestor:  attestor,
		journal:   journal,
		batchable: batchable,
		queue:     make(map[types.Route][]*pendingOrder),
		inFlight:  make(map[common.Hash]struct{}),
		unlocked:  gocache.New(cfg.UnlockedTTL, cfg.UnlockedTTL*2),
		done:      make(chan struct{}),
	}
}

// Start 启动排空循环
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.recoverPending(); err != nil {
		return err
	}

	c.wg.Add(1)
	go c.drainLoop(ctx)

	logger.Info().
		Int("threshold", c.cfg.BatchThreshold).
		Int("max", c.cfg.BatchMax).
		Dur("interval", c.cfg.DrainInterval).
		Msg("unlock coordinator started")

	return nil
}

// Stop 停止协调器
func (c *Coordinator) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Coordinator) drainLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.PostReadyBatches(ctx)
			c.DrainPendingBatches(ctx)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue 登记一笔已结算、待解锁的订单
// 已解锁或已在队列/在途批次中的订单直接忽略。
func (c *Coordinator) Enqueue(order *types.Order) {
	hash := order.Hash()
	if _, ok := c.unlocked.Get(hash.Hex()); ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inFlight[hash]; ok {
		return
	}
	route := order.Route()
	for _, p := range c.queue[route] {
		if p.order.Hash() == hash {
			return
		}
	}

	c.queue[route] = append(c.queue[route], &pendingOrder{order: order, settledAt: time.Now()})

	logger.Debug().
		Str("order", hash.Hex()).
		Uint16("src", uint16(route.Src)).
		Uint16("dst", uint16(route.Dst)).
		Int("queued", len(c.queue[route])).
		Msg("order queued for unlock")
}

// QueuedLen 某路线当前攒单数（测试与指标用）
func (c *Coordinator) QueuedLen(route types.Route) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue[route])
}

// Unlocked 订单是否已在短期记忆中标记为解锁完成
func (c *Coordinator) Unlocked(orderHash common.Hash) bool {
	_, ok := c.unlocked.Get(orderHash.Hex())
	return ok
}

// PostReadyBatches 对每条达到门槛的路线发布一个批次
func (c *Coordinator) PostReadyBatches(ctx context.Context) {
	c.mu.Lock()
	routes := make([]types.Route, 0, len(c.queue))
	for route := range c.queue {
		routes = append(routes, route)
	}
	c.mu.Unlock()

	for _, route := range routes {
		if err := c.postBatch(ctx, route); err != nil {
			logger.Error().
				Err(err).
				Uint16("src", uint16(route.Src)).
				Uint16("dst", uint16(route.Dst)).
				Msg("post unlock batch failed")
		}
	}
}

// postBatch 路线攒单达到门槛时摘取最旧的一批发布证明请求
// 批内订单从队列转入在途集合，保证不会同时出现在两个批次。
func (c *Coordinator) postBatch(ctx context.Context, route types.Route) error {
	lock := c.routeLock(route)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	eligible := c.queue[route]
	if len(eligible) < c.cfg.BatchThreshold {
		c.mu.Unlock()
		return nil
	}

	// 批次固定为门槛大小，最旧优先，多出的继续攒下一批
	take := c.cfg.BatchThreshold
	members := eligible[:take]
	hashes := make([]common.Hash, 0, take)
	for _, p := range members {
		hashes = append(hashes, p.order.Hash())
	}
	c.mu.Unlock()

	payload := encodeUnlockPayload(route, hashes)
	seq, postTx, err := c.attestor.PostMessage(ctx, route, payload)
	if err != nil {
		return types.WrapTransient("post unlock message", err)
	}

	batch := &pendingBatch{
		route:    route,
		sequence: seq,
		postTx:   postTx,
		hashes:   hashes,
		postedAt: time.Now(),
	}

	if c.journal != nil {
		row := &models.UnlockBatch{
			TxHash:      postTx.Hash.Hex(),
			SrcChain:    uint16(route.Src),
			DstChain:    uint16(route.Dst),
			Sequence:    seq,
			OrderHashes: hashHexes(hashes),
			PostedAt:    batch.postedAt,
		}
		if err := c.journal.Create(row); err != nil {
			// 流水写失败不回滚链上发布，重启后靠链上状态兜底
			logger.Error().Err(err).Str("tx", postTx.Hash.Hex()).Msg("journal unlock batch failed")
		}
	}

	c.mu.Lock()
	c.queue[route] = c.queue[route][take:]
	for _, h := range hashes {
		c.inFlight[h] = struct{}{}
	}
	c.batches = append(c.batches, batch)
	c.mu.Unlock()

	for _, p := range members {
		p.order.Status = types.StatusUnlockPosted
	}

	monitor.IncBatchesPosted()

	logger.Info().
		Uint64("sequence", seq).
		Str("tx", postTx.Hash.Hex()).
		Int("orders", len(hashes)).
		Uint16("src", uint16(route.Src)).
		Uint16("dst", uint16(route.Dst)).
		Msg("unlock batch posted")

	return nil
}

// DrainPendingBatches 推进所有在途批次
// 每个批次每周期只拉一次证明；证明未就绪留到下周期，应用失败整批重试。
func (c *Coordinator) DrainPendingBatches(ctx context.Context) {
	c.mu.Lock()
	batches := make([]*pendingBatch, len(c.batches))
	copy(batches, c.batches)
	c.mu.Unlock()

	for _, batch := range batches {
		if err := c.drainBatch(ctx, batch); err != nil {
			if types.IsTransient(err) {
				logger.Debug().
					Err(err).
					Uint64("sequence", batch.sequence).
					Msg("unlock batch not ready")
				continue
			}
			logger.Error().
				Err(err).
				Uint64("sequence", batch.sequence).
				Msg("drain unlock batch failed")
		}
	}
}

func (c *Coordinator) drainBatch(ctx context.Context, batch *pendingBatch) error {
	lock := c.routeLock(batch.route)
	lock.Lock()
	defer lock.Unlock()

	attCtx, cancel := context.WithTimeout(ctx, c.cfg.AttestationTimeout)
	defer cancel()

	attestation, err := c.attestor.FetchAttestation(attCtx, batch.sequence)
	if err != nil {
		return types.WrapTransient("fetch attestation", err)
	}

	executor, ok := c.executors[batch.route.Src]
	if !ok {
		return types.Fatalf("no executor for chain %d", batch.route.Src)
	}

	intent := chain.Intent{
		Kind:        chain.OpUnlockBatch,
		Route:       batch.route,
		Attestation: attestation,
		OrderHashes: batch.hashes,
	}

	ref, err := executor.Submit(ctx, intent)
	if err != nil {
		return types.WrapTransient("submit unlock batch", err)
	}
	if err := executor.Confirm(ctx, ref, chain.ConfirmFinalized); err != nil {
		return types.WrapTransient("confirm unlock batch", err)
	}

	if c.journal != nil {
		if err := c.journal.MarkApplied(batch.postTx.Hash.Hex()); err != nil {
			logger.Error().Err(err).Str("tx", batch.postTx.Hash.Hex()).Msg("mark batch applied failed")
		}
	}

	c.finishBatch(batch)

	monitor.IncBatchesApplied()
	monitor.AddOrdersUnlocked(len(batch.hashes))

	logger.Info().
		Uint64("sequence", batch.sequence).
		Str("apply_tx", ref.Hash.Hex()).
		Int("orders", len(batch.hashes)).
		Msg("unlock batch applied")

	return nil
}

// finishBatch 批次应用成功后的内存清理
func (c *Coordinator) finishBatch(batch *pendingBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, b := range c.batches {
		if b == batch {
			c.batches = append(c.batches[:i], c.batches[i+1:]...)
			break
		}
	}
	for _, h := range batch.hashes {
		delete(c.inFlight, h)
		c.unlocked.Set(h.Hex(), time.Now(), gocache.DefaultExpiration)
	}
}

// PerformSingleUnlock 逐单解锁
// 用于不参与批量解锁的链，或需要立即释放押金的场合。
// 同步完成发布→取证→应用全链路。
// 发布前先读源链权威状态：重启后内存记忆为空，
// 链上已解锁（或已发布）的订单直接短路，保证至多一次释放。
func (c *Coordinator) PerformSingleUnlock(ctx context.Context, order *types.Order) error {
	hash := order.Hash()
	if _, ok := c.unlocked.Get(hash.Hex()); ok {
		return nil
	}

	route := order.Route()
	lock := c.routeLock(route)
	lock.Lock()
	defer lock.Unlock()

	executor, ok := c.executors[route.Src]
	if !ok {
		return types.Fatalf("no executor for chain %d", route.Src)
	}

	if status, err := executor.ReadOrderStatus(ctx, hash); err == nil {
		switch status {
		case types.StatusUnlocked:
			c.unlocked.Set(hash.Hex(), time.Now(), gocache.DefaultExpiration)
			order.Status = types.StatusUnlocked
			logger.Debug().Str("order", hash.Hex()).Msg("order already unlocked on chain")
			return nil
		case types.StatusUnlockPosted:
			// 证明请求已在链上，不再重复发布，等链上状态推进
			logger.Debug().Str("order", hash.Hex()).Msg("unlock already posted on chain")
			return nil
		}
	}

	payload := encodeUnlockPayload(route, []common.Hash{hash})
	seq, postTx, err := c.attestor.PostMessage(ctx, route, payload)
	if err != nil {
		return types.WrapTransient("post single unlock message", err)
	}
	order.Status = types.StatusUnlockPosted

	attCtx, cancel := context.WithTimeout(ctx, c.cfg.AttestationTimeout)
	defer cancel()

	attestation, err := c.attestor.FetchAttestation(attCtx, seq)
	if err != nil {
		return types.WrapTransient("fetch single attestation", err)
	}

	intent := chain.Intent{
		Kind:        chain.OpUnlockSingle,
		Order:       order,
		Route:       route,
		Attestation: attestation,
		OrderHashes: []common.Hash{hash},
	}

	ref, err := executor.Submit(ctx, intent)
	if err != nil {
		return types.WrapTransient("submit single unlock", err)
	}
	if err := executor.Confirm(ctx, ref, chain.ConfirmFinalized); err != nil {
		return types.WrapTransient("confirm single unlock", err)
	}

	c.unlocked.Set(hash.Hex(), time.Now(), gocache.DefaultExpiration)
	order.Status = types.StatusUnlocked

	monitor.AddOrdersUnlocked(1)

	logger.Info().
		Str("order", hash.Hex()).
		Str("post_tx", postTx.Hash.Hex()).
		Str("apply_tx", ref.Hash.Hex()).
		Msg("order unlocked")

	return nil
}

// Batchable 订单源链是否参与批量解锁
func (c *Coordinator) Batchable(chainID types.ChainID) bool {
	if c.batchable == nil {
		return true
	}
	return c.batchable[chainID]
}

// recoverPending 重启时从流水恢复在途批次
// 批内订单直接进在途集合，避免重复进入新批次。
func (c *Coordinator) recoverPending() error {
	if c.journal == nil {
		return nil
	}

	rows, err := c.journal.ListPending()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, row := range rows {
		hashes := make([]common.Hash, 0, len(row.OrderHashes))
		for _, h := range row.OrderHashes {
			hashes = append(hashes, common.HexToHash(h))
		}

		batch := &pendingBatch{
			route:    types.Route{Src: types.ChainID(row.SrcChain), Dst: types.ChainID(row.DstChain)},
			sequence: row.Sequence,
			postTx:   chain.TxRef{Chain: types.ChainID(row.SrcChain), Hash: common.HexToHash(row.TxHash)},
			hashes:   hashes,
			postedAt: row.PostedAt,
		}
		c.batches = append(c.batches, batch)
		for _, h := range hashes {
			c.inFlight[h] = struct{}{}
		}
	}

	if len(rows) > 0 {
		logger.Info().Int("batches", len(rows)).Msg("pending unlock batches recovered")
	}

	return nil
}

func (c *Coordinator) routeLock(route types.Route) *sync.Mutex {
	v, _ := c.routeLocks.LoadOrStore(route, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func hashHexes(hashes []common.Hash) []string {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, h.Hex())
	}
	return out
}
