package cache

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// DefaultAuctionCapacity 默认缓存容量
const DefaultAuctionCapacity = 100

// FallbackLoader 缓存未命中时从链上权威状态回查观察值
// 查不到竞价返回 (nil, nil)。
type FallbackLoader func(ctx context.Context, orderHash common.Hash) (*types.AuctionObservation, error)

// AuctionCache 每个订单当前最优竞价的内存视图
// 容量固定，按插入顺序淘汰最旧条目；同一次写入刚插入的条目不会被淘汰。
// 实时行情负责刷新，未命中时懒回源。
type AuctionCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[common.Hash]*types.AuctionObservation
	order    []common.Hash // 插入顺序，队首最旧
	fallback FallbackLoader

	hits   int64
	misses int64
}

// NewAuctionCache 创建缓存
// capacity <= 0 时使用默认容量。
func NewAuctionCache(capacity int, fallback FallbackLoader) *AuctionCache {
	if capacity <= 0 {
		capacity = DefaultAuctionCapacity
	}
	return &AuctionCache{
		capacity: capacity,
		entries:  make(map[common.Hash]*types.AuctionObservation, capacity),
		fallback: fallback,
	}
}

// Observe 写入一次竞价观察
// 同一订单只保留最高出价，出价相同保留更早的那条。
func (c *AuctionCache) Observe(obs types.AuctionObservation) {
	if obs.BidAmount == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.observeLocked(obs)
}

func (c *AuctionCache) observeLocked(obs types.AuctionObservation) {
	existing, ok := c.entries[obs.OrderHash]
	if ok {
		cmp := obs.BidAmount.Cmp(existing.BidAmount)
		// 更低的出价直接丢弃；同价保留先到者
		if cmp < 0 || (cmp == 0 && !obs.FirstBidAt.Before(existing.FirstBidAt)) {
			return
		}
		clone := obs
		c.entries[obs.OrderHash] = &clone
		return
	}

	clone := obs
	c.entries[obs.OrderHash] = &clone
	c.order = append(c.order, obs.OrderHash)

	// 超容后从队首淘汰，刚插入的条目在队尾，天然不会被移除
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// BestBid 查询订单当前最优竞价
// 内存未命中时回源链上状态并写入缓存；链上也没有竞价返回 (nil, nil)。
func (c *AuctionCache) BestBid(ctx context.Context, orderHash common.Hash) (*types.AuctionObservation, error) {
	c.mu.Lock()
	if obs, ok := c.entries[orderHash]; ok {
		c.hits++
		clone := *obs
		c.mu.Unlock()
		return &clone, nil
	}
	c.misses++
	fallback := c.fallback
	c.mu.Unlock()

	if fallback == nil {
		return nil, nil
	}

	obs, err := fallback(ctx, orderHash)
	if err != nil {
		return nil, types.WrapTransient("auction state fallback", err)
	}
	if obs == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.observeLocked(*obs)
	c.mu.Unlock()

	clone := *obs
	return &clone, nil
}

// Contains 仅查内存，不回源
func (c *AuctionCache) Contains(orderHash common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[orderHash]
	return ok
}

// Drop 移除订单（到达终态后调用）
func (c *AuctionCache) Drop(orderHash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[orderHash]; !ok {
		return
	}
	delete(c.entries, orderHash)
	for i, h := range c.order {
		if h == orderHash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len 当前条目数
func (c *AuctionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats 获取统计信息
func (c *AuctionCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"size":     len(c.entries),
		"capacity": c.capacity,
		"hits":     c.hits,
		"misses":   c.misses,
	}
}
