package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/monitor"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
	"github.com/mayan-finance/driver-sdk-sub000/pkg/logger"
)

// CachedFeed 价格缓存层，使用 go-cache 实现 TTL 自动过期
// 报价超过保鲜期后视为不存在，回源拉取。
type CachedFeed struct {
	upstream   chain.PriceFeed
	cache      *cache.Cache
	staleAfter time.Duration
}

// NewCachedFeed 创建价格缓存层
// staleAfter: 价格保鲜期，过期视为缺失
// 清理间隔自动设为 2×保鲜期
func NewCachedFeed(upstream chain.PriceFeed, staleAfter time.Duration) *CachedFeed {
	return &CachedFeed{
		upstream:   upstream,
		cache:      cache.New(staleAfter, staleAfter*2),
		staleAfter: staleAfter,
	}
}

// Price 获取代币美元价格
// 缓存命中且未过期直接返回，否则回源并写缓存。
// 回源失败时不返回旧值：过期价格参与定价比没有价格更危险。
func (f *CachedFeed) Price(ctx context.Context, token types.Token) (chain.PricePoint, error) {
	key := priceKey(token)

	if v, ok := f.cache.Get(key); ok {
		p := v.(chain.PricePoint)
		if time.Since(p.AsOf) <= f.staleAfter {
			monitor.IncCacheHit("price")
			return p, nil
		}
		f.cache.Delete(key)
	}

	monitor.IncCacheMiss("price")

	p, err := f.upstream.Price(ctx, token)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("token", token.Symbol).
			Uint16("chain", uint16(token.Chain)).
			Msg("price fetch failed")
		return chain.PricePoint{}, err
	}

	// 上游给的时间戳本身已超保鲜期：按缺失处理，不入缓存
	if time.Since(p.AsOf) > f.staleAfter {
		logger.Warn().
			Str("token", token.Symbol).
			Uint16("chain", uint16(token.Chain)).
			Time("as_of", p.AsOf).
			Msg("upstream price stale, treated as absent")
		return chain.PricePoint{}, types.Transientf("price for %s stale since %s", token.Symbol, p.AsOf)
	}

	f.cache.Set(key, p, cache.DefaultExpiration)

	return p, nil
}

var _ chain.PriceFeed = (*CachedFeed)(nil)

// Invalidate 删除某代币的缓存价格
func (f *CachedFeed) Invalidate(token types.Token) {
	f.cache.Delete(priceKey(token))
}

// priceKey 生成缓存键
// 格式: "chain-address"
func priceKey(token types.Token) string {
	return fmt.Sprintf("%d-%s", token.Chain, token.Address)
}
