package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayan-finance/driver-sdk-sub000/internal/chain"
	"github.com/mayan-finance/driver-sdk-sub000/internal/types"
)

// fakeUpstream 计数的喂价桩，时间戳按 asOfAgo 回拨
type fakeUpstream struct {
	calls   int
	asOfAgo time.Duration
	err     error
}

func (f *fakeUpstream) Price(ctx context.Context, token types.Token) (chain.PricePoint, error) {
	f.calls++
	if f.err != nil {
		return chain.PricePoint{}, f.err
	}
	return chain.PricePoint{USD: decimal.NewFromInt(1), AsOf: time.Now().Add(-f.asOfAgo)}, nil
}

func usdc() types.Token {
	return types.Token{Chain: 5, Address: common.HexToAddress("0x10"), Symbol: "USDC", Decimals: 8}
}

func TestCachedFeed_HitWithinFreshness(t *testing.T) {
	upstream := &fakeUpstream{}
	f := NewCachedFeed(upstream, time.Minute)

	p1, err := f.Price(context.Background(), usdc())
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls)

	// 保鲜期内直接命中缓存
	p2, err := f.Price(context.Background(), usdc())
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls)
	assert.True(t, p1.USD.Equal(p2.USD))
}

func TestCachedFeed_StaleEntryRefetches(t *testing.T) {
	upstream := &fakeUpstream{}
	f := NewCachedFeed(upstream, 50*time.Millisecond)

	_, err := f.Price(context.Background(), usdc())
	require.NoError(t, err)

	// 缓存里的价格过期后再次查询回源
	time.Sleep(80 * time.Millisecond)
	_, err = f.Price(context.Background(), usdc())
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedFeed_UpstreamStaleRejected(t *testing.T) {
	// 上游返回的时间戳本身已超保鲜期：按缺失处理，不得参与定价
	upstream := &fakeUpstream{asOfAgo: time.Hour}
	f := NewCachedFeed(upstream, time.Minute)

	_, err := f.Price(context.Background(), usdc())
	assert.True(t, types.IsTransient(err))

	// 过期价格不入缓存，下次仍回源
	_, err = f.Price(context.Background(), usdc())
	assert.Error(t, err)
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedFeed_FailureDoesNotServeStale(t *testing.T) {
	upstream := &fakeUpstream{}
	f := NewCachedFeed(upstream, 50*time.Millisecond)

	_, err := f.Price(context.Background(), usdc())
	require.NoError(t, err)

	// 缓存过期且回源失败时宁可无价，不返回旧值
	time.Sleep(80 * time.Millisecond)
	upstream.err = types.Transientf("feed down")
	_, err = f.Price(context.Background(), usdc())
	assert.Error(t, err)
}

func TestCachedFeed_Invalidate(t *testing.T) {
	upstream := &fakeUpstream{}
	f := NewCachedFeed(upstream, time.Minute)

	_, err := f.Price(context.Background(), usdc())
	require.NoError(t, err)

	f.Invalidate(usdc())
	_, err = f.Price(context.Background(), usdc())
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedFeed_KeyPerChainAndAddress(t *testing.T) {
	upstream := &fakeUpstream{}
	f := NewCachedFeed(upstream, time.Minute)

	_, err := f.Price(context.Background(), usdc())
	require.NoError(t, err)

	// 同符号不同链不共享缓存
	other := usdc()
	other.Chain = 2
	_, err = f.Price(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.calls)
}
