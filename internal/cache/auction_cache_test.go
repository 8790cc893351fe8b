package cache

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

func obsAt(i int, amount int64) types.AuctionObservation {
	return types.AuctionObservation{
		OrderHash:  common.HexToHash(fmt.Sprintf("0x%064x", i)),
		Bidder:     common.HexToAddress("0x01"),
		BidAmount:  big.NewInt(amount),
		ObservedAt: time.Now(),
		FirstBidAt: time.Now(),
	}
}

func TestAuctionCache_KeepsHighestBid(t *testing.T) {
	c := NewAuctionCache(10, nil)

	c.Observe(obsAt(1, 100))
	c.Observe(obsAt(1, 90)) // 更低的出价丢弃
	c.Observe(obsAt(1, 150))

	obs, err := c.BestBid(context.Background(), obsAt(1, 0).OrderHash)
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.Equal(t, big.NewInt(150), obs.BidAmount)
	assert.Equal(t, 1, c.Len())
}

func TestAuctionCache_TieKeepsEarlier(t *testing.T) {
	c := NewAuctionCache(10, nil)

	first := obsAt(1, 100)
	first.FirstBidAt = time.Now().Add(-time.Minute)
	c.Observe(first)

	later := obsAt(1, 100)
	c.Observe(later)

	obs, err := c.BestBid(context.Background(), first.OrderHash)
	require.NoError(t, err)
	assert.Equal(t, first.FirstBidAt.Unix(), obs.FirstBidAt.Unix())
}

func TestAuctionCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewAuctionCache(100, nil)

	// 填满 100 条
	for i := 1; i <= 100; i++ {
		c.Observe(obsAt(i, int64(i)))
	}
	assert.Equal(t, 100, c.Len())

	// 第 101 条淘汰最旧的第 1 条，新插入的自身安全
	c.Observe(obsAt(101, 101))
	assert.Equal(t, 100, c.Len())
	assert.False(t, c.Contains(obsAt(1, 0).OrderHash))
	assert.True(t, c.Contains(obsAt(101, 0).OrderHash))
	assert.True(t, c.Contains(obsAt(2, 0).OrderHash))
}

func TestAuctionCache_FallbackOnMiss(t *testing.T) {
	calls := 0
	fallback := func(ctx context.Context, orderHash common.Hash) (*types.AuctionObservation, error) {
		calls++
		obs := obsAt(7, 77)
		return &obs, nil
	}
	c := NewAuctionCache(10, fallback)

	// 未命中回源并写缓存
	obs, err := c.BestBid(context.Background(), obsAt(7, 0).OrderHash)
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.Equal(t, big.NewInt(77), obs.BidAmount)
	assert.Equal(t, 1, calls)

	// 第二次命中内存，不再回源
	_, err = c.BestBid(context.Background(), obsAt(7, 0).OrderHash)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestAuctionCache_FallbackEmpty(t *testing.T) {
	fallback := func(ctx context.Context, orderHash common.Hash) (*types.AuctionObservation, error) {
		return nil, nil
	}
	c := NewAuctionCache(10, fallback)

	obs, err := c.BestBid(context.Background(), obsAt(9, 0).OrderHash)
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestAuctionCache_FallbackError(t *testing.T) {
	fallback := func(ctx context.Context, orderHash common.Hash) (*types.AuctionObservation, error) {
		return nil, fmt.Errorf("rpc down")
	}
	c := NewAuctionCache(10, fallback)

	_, err := c.BestBid(context.Background(), obsAt(9, 0).OrderHash)
	assert.True(t, types.IsTransient(err))
}

func TestAuctionCache_Drop(t *testing.T) {
	c := NewAuctionCache(10, nil)
	c.Observe(obsAt(1, 100))
	c.Observe(obsAt(2, 200))

	c.Drop(obsAt(1, 0).OrderHash)
	assert.False(t, c.Contains(obsAt(1, 0).OrderHash))
	assert.Equal(t, 1, c.Len())

	// 重复删除无副作用
	c.Drop(obsAt(1, 0).OrderHash)
	assert.Equal(t, 1, c.Len())
}

func TestAuctionCache_ReturnsClone(t *testing.T) {
	// 调用方改返回值不应污染缓存
	c := NewAuctionCache(10, nil)
	c.Observe(obsAt(1, 100))

	obs, err := c.BestBid(context.Background(), obsAt(1, 0).OrderHash)
	require.NoError(t, err)
	obs.BidAmount = big.NewInt(1)

	again, err := c.BestBid(context.Background(), obsAt(1, 0).OrderHash)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), again.BidAmount)
}
